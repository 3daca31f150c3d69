package model

import "time"

// ScoringMode names a scoring strategy.
type ScoringMode string

const (
	ModeWeighted ScoringMode = "weighted"
	ModePoints   ScoringMode = "points"
)

// Tier is the discrete class derived from a match score.
type Tier string

const (
	TierHot  Tier = "HOT"
	TierWarm Tier = "WARM"
	TierCold Tier = "COLD"
)

// Rank orders tiers from coldest to hottest.
func (t Tier) Rank() int {
	switch t {
	case TierHot:
		return 3
	case TierWarm:
		return 2
	case TierCold:
		return 1
	default:
		return 0
	}
}

// MatchStatusIdentified is the status of a freshly scored match.
const MatchStatusIdentified = "Identified"

// Factor is one evaluated component of a score.
type Factor struct {
	Name   string  `json:"name"`
	Raw    float64 `json:"raw"`
	Weight float64 `json:"weight"`
	Value  float64 `json:"value"`
}

// ScoreResult is the outcome of scoring one (opportunity, contractor) pair.
type ScoreResult struct {
	Mode            ScoringMode `json:"mode"`
	Value           float64     `json:"value"`
	Breakdown       []Factor    `json:"breakdown"`
	Tier            Tier        `json:"tier"`
	NeedsEnrichment bool        `json:"needs_enrichment"`
}

// Match is a scored (opportunity, contractor) pair selected for pursuit.
type Match struct {
	OpportunityID   string      `json:"opportunity_id"`
	ContractorID    string      `json:"contractor_id"`
	Mode            ScoringMode `json:"mode"`
	Score           float64     `json:"score"`
	Breakdown       []Factor    `json:"breakdown"`
	Tier            Tier        `json:"tier"`
	Status          string      `json:"status"`
	NeedsEnrichment bool        `json:"needs_enrichment"`
	Rank            int         `json:"rank"`
	ConfigHash      string      `json:"config_hash,omitempty"`
	ScoredAt        time.Time   `json:"scored_at"`
}

// MatchFilter narrows match listings.
type MatchFilter struct {
	OpportunityID string
	ContractorID  string
	MinTier       Tier
	Limit         int
}

// Outcome is the real-world result of pursuing a match.
type Outcome struct {
	OpportunityID string    `json:"opportunity_id"`
	ContractorID  string    `json:"contractor_id"`
	Submitted     bool      `json:"submitted"`
	Won           bool      `json:"won"`
	LossReason    string    `json:"loss_reason,omitempty"`
	HoursSpent    float64   `json:"bid_hours_spent"`
	RecordedAt    time.Time `json:"recorded_at"`
}

// Draft is a generated outreach email for a match.
type Draft struct {
	OpportunityID  string    `json:"opportunity_id"`
	ContractorID   string    `json:"contractor_id"`
	RecipientEmail string    `json:"recipient_email,omitempty"`
	Subject        string    `json:"subject"`
	Body           string    `json:"body"`
	Model          string    `json:"ai_model_used"`
	TokensUsed     int64     `json:"tokens_consumed"`
	CreatedAt      time.Time `json:"created_at"`
}

// IngestRun is the audit row for one source run.
type IngestRun struct {
	ID          int64      `json:"id"`
	Source      string     `json:"source"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Fetched     int        `json:"fetched"`
	Normalized  int        `json:"normalized"`
	Skipped     int        `json:"skipped"`
	Upserted    int64      `json:"upserted"`
	Failed      int        `json:"failed_batches"`
	Error       string     `json:"error,omitempty"`
}

// Ingest run statuses.
const (
	RunRunning  = "running"
	RunComplete = "complete"
	RunFailed   = "failed"
)
