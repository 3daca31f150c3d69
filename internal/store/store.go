package store

import (
	"context"
	"embed"

	"github.com/rotisserie/eris"

	"github.com/sells-group/capture-cli/internal/lookup"
	"github.com/sells-group/capture-cli/internal/model"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationFS embed.FS

// ErrNotFound is returned by Get methods when no row matches.
var ErrNotFound = eris.New("store: not found")

// WriteMode controls how SaveMatches treats previously stored matches.
type WriteMode string

const (
	// WriteUpsert updates pairs by conflict key and leaves other pairs alone.
	WriteUpsert WriteMode = "upsert"
	// WriteReplace removes every stored match of each scored opportunity first.
	WriteReplace WriteMode = "replace"
)

// Store defines the persistence interface for the capture pipeline.
type Store interface {
	lookup.Backend

	// Canonical records. Upserts return the number of rows written.
	UpsertOpportunities(ctx context.Context, opps []model.Opportunity) (int64, error)
	UpsertContacts(ctx context.Context, contacts []model.Contact) (int64, error)
	UpsertContractors(ctx context.Context, contractors []model.Contractor) (int64, error)
	UpsertReferenceCodes(ctx context.Context, codes []model.ReferenceCode) (int64, error)

	ListOpportunities(ctx context.Context, filter model.OpportunityFilter) ([]model.Opportunity, error)
	GetOpportunity(ctx context.Context, noticeID string) (*model.Opportunity, error)
	ListContractors(ctx context.Context, filter model.ContractorFilter) ([]model.Contractor, error)
	GetContractor(ctx context.Context, id string) (*model.Contractor, error)

	// Matches, outcomes, drafts
	SaveMatches(ctx context.Context, matches []model.Match, mode WriteMode) (int64, error)
	ListMatches(ctx context.Context, filter model.MatchFilter) ([]model.Match, error)
	UpsertOutcome(ctx context.Context, o model.Outcome) error
	GetOutcome(ctx context.Context, opportunityID, contractorID string) (*model.Outcome, error)
	SaveDraft(ctx context.Context, d model.Draft) error

	// Ingest audit log
	StartRun(ctx context.Context, source string) (int64, error)
	FinishRun(ctx context.Context, run model.IngestRun) error
	ListRuns(ctx context.Context, limit int) ([]model.IngestRun, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// matchKeys returns the distinct opportunity ids in matches, in first-seen order.
func matchKeys(matches []model.Match) []string {
	seen := make(map[string]bool, len(matches))
	var ids []string
	for _, m := range matches {
		if !seen[m.OpportunityID] {
			seen[m.OpportunityID] = true
			ids = append(ids, m.OpportunityID)
		}
	}
	return ids
}

// tiersAtLeast lists the tiers ranked at or above min.
func tiersAtLeast(min model.Tier) []string {
	var out []string
	for _, t := range []model.Tier{model.TierHot, model.TierWarm, model.TierCold} {
		if t.Rank() >= min.Rank() {
			out = append(out, string(t))
		}
	}
	return out
}

// nullStr maps the empty string to SQL NULL.
func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
