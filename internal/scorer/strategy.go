package scorer

import (
	"math"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/capture-cli/internal/config"
	"github.com/sells-group/capture-cli/internal/model"
	"github.com/sells-group/capture-cli/internal/normalize"
)

// Factor names used in score breakdowns.
const (
	FactorNAICS     = "naics_match"
	FactorPSC       = "psc_match"
	FactorSetAside  = "setaside_match"
	FactorGeo       = "geo_match"
	FactorValue     = "contract_value_fit"
	FactorDeadline  = "deadline_feasibility"
	FactorBaseline  = "baseline"
	FactorNameTitle = "name_title_overlap"
	FactorRegistry  = "active_registration"
)

// placeholder is the midpoint used for factors without data.
const placeholder = 0.5

// Points-mode constants.
const (
	basePoints     = 50
	naicsPoints    = 20
	setAsidePoints = 15
	overlapPoints  = 10
	registryPoints = 5
	maxPoints      = 100
)

// Strategy scores one (opportunity, contractor) pair. Implementations are
// pure: identical inputs give identical results.
type Strategy interface {
	Mode() model.ScoringMode
	Score(o *model.Opportunity, c *model.Contractor) model.ScoreResult
	// Keep reports whether a result qualifies as a match at all.
	Keep(r model.ScoreResult) bool
}

// NewStrategy returns the strategy selected by cfg.Mode. asOf anchors the
// deadline factor; nil leaves it at the placeholder value.
func NewStrategy(cfg config.ScoringConfig, asOf *time.Time) (Strategy, error) {
	switch model.ScoringMode(cfg.Mode) {
	case model.ModeWeighted:
		return NewWeighted(cfg, asOf), nil
	case model.ModePoints:
		return NewPoints(cfg), nil
	default:
		return nil, eris.Errorf("scorer: unknown mode %q", cfg.Mode)
	}
}

// Weighted is the bounded [0,1] weighted-factor formula.
type Weighted struct {
	cfg  config.ScoringConfig
	asOf *time.Time
}

// NewWeighted creates a weighted-factor strategy.
func NewWeighted(cfg config.ScoringConfig, asOf *time.Time) *Weighted {
	return &Weighted{cfg: cfg, asOf: asOf}
}

// Mode implements Strategy.
func (w *Weighted) Mode() model.ScoringMode { return model.ModeWeighted }

// Score implements Strategy.
func (w *Weighted) Score(o *model.Opportunity, c *model.Contractor) model.ScoreResult {
	breakdown := []model.Factor{
		factor(FactorNAICS, naicsMatch(o, c), w.cfg.NAICSWeight),
		factor(FactorPSC, binary(o.PSCCode != "" && model.HasCode(c.PSCCodes, o.PSCCode)), w.cfg.PSCWeight),
		factor(FactorSetAside, binary(o.SetAsideCode != "" && model.HasCode(c.Certifications, o.SetAsideCode)), w.cfg.SetAsideWeight),
		factor(FactorGeo, binary(o.PlaceState != "" && c.State != "" && o.PlaceState == c.State), w.cfg.GeoWeight),
		factor(FactorValue, placeholder, w.cfg.ValueWeight),
		factor(FactorDeadline, deadlineFeasibility(o.ResponseDeadline, w.asOf), w.cfg.DeadlineWeight),
	}

	var total float64
	for _, f := range breakdown {
		total += f.Value
	}
	total = round4(math.Max(0, math.Min(1, total)))

	return model.ScoreResult{
		Mode:      model.ModeWeighted,
		Value:     total,
		Breakdown: breakdown,
		Tier:      w.tier(total),
	}
}

// Keep implements Strategy. Every weighted pair competes for the top K.
func (w *Weighted) Keep(model.ScoreResult) bool { return true }

func (w *Weighted) tier(v float64) model.Tier {
	switch {
	case v >= w.cfg.HotThreshold:
		return model.TierHot
	case v >= w.cfg.WarmThreshold:
		return model.TierWarm
	default:
		return model.TierCold
	}
}

// deadlineFeasibility steps down as the response deadline approaches.
func deadlineFeasibility(deadline, asOf *time.Time) float64 {
	if deadline == nil || asOf == nil {
		return placeholder
	}
	days := deadline.Sub(*asOf).Hours() / 24
	switch {
	case days < 0:
		return 0
	case days < 7:
		return 0.25
	case days < 14:
		return 0.5
	case days < 30:
		return 0.75
	default:
		return 1
	}
}

// Points is the bounded [0,100] point-accumulation formula.
type Points struct {
	cfg config.ScoringConfig
}

// NewPoints creates a point-accumulation strategy.
func NewPoints(cfg config.ScoringConfig) *Points {
	return &Points{cfg: cfg}
}

// Mode implements Strategy.
func (p *Points) Mode() model.ScoringMode { return model.ModePoints }

// Score implements Strategy.
func (p *Points) Score(o *model.Opportunity, c *model.Contractor) model.ScoreResult {
	breakdown := []model.Factor{
		{Name: FactorBaseline, Raw: 1, Weight: basePoints, Value: basePoints},
		factor(FactorNAICS, naicsMatch(o, c), naicsPoints),
		factor(FactorSetAside, binary(o.Restricted() && len(c.Certifications) > 0), setAsidePoints),
		factor(FactorNameTitle, binary(nameInTitle(c.CompanyName, o.Title)), overlapPoints),
		factor(FactorRegistry, binary(c.Registered), registryPoints),
	}

	var total float64
	for _, f := range breakdown {
		total += f.Value
	}
	total = math.Min(total, maxPoints)

	return model.ScoreResult{
		Mode:            model.ModePoints,
		Value:           total,
		Breakdown:       breakdown,
		Tier:            p.tier(total),
		NeedsEnrichment: total >= p.cfg.EnrichPoints,
	}
}

// Keep implements Strategy.
func (p *Points) Keep(r model.ScoreResult) bool { return r.Value >= p.cfg.MinPoints }

func (p *Points) tier(v float64) model.Tier {
	switch {
	case v >= p.cfg.EnrichPoints:
		return model.TierHot
	case v >= p.cfg.MinPoints:
		return model.TierWarm
	default:
		return model.TierCold
	}
}

// nameInTitle reports whether the company name appears as a word run in the title.
func nameInTitle(company, title string) bool {
	return normalize.ContainsPhrase(normalize.NameTokens(title), normalize.NameTokens(company))
}

func naicsMatch(o *model.Opportunity, c *model.Contractor) float64 {
	return binary(o.NAICSCode != "" && model.HasCode(c.NAICSCodes, o.NAICSCode))
}

func factor(name string, raw, weight float64) model.Factor {
	return model.Factor{Name: name, Raw: raw, Weight: weight, Value: raw * weight}
}

func binary(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
