package scorer

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/capture-cli/internal/config"
	"github.com/sells-group/capture-cli/internal/model"
	"github.com/sells-group/capture-cli/internal/store"
)

// MatchStore is the subset of store.Store a scoring pass needs.
type MatchStore interface {
	ListOpportunities(ctx context.Context, filter model.OpportunityFilter) ([]model.Opportunity, error)
	ListContractors(ctx context.Context, filter model.ContractorFilter) ([]model.Contractor, error)
	SaveMatches(ctx context.Context, matches []model.Match, mode store.WriteMode) (int64, error)
}

// PassOptions selects the records a pass scores.
type PassOptions struct {
	Opportunities model.OpportunityFilter
	Contractors   model.ContractorFilter
	WriteMode     store.WriteMode
	DryRun        bool
}

// PassResult summarizes a scoring pass.
type PassResult struct {
	Mode          model.ScoringMode  `json:"mode"`
	ConfigHash    string             `json:"config_hash"`
	Opportunities int                `json:"opportunities"`
	Contractors   int                `json:"contractors"`
	Saved         int64              `json:"saved"`
	ByTier        map[model.Tier]int `json:"by_tier"`
	Matches       []model.Match      `json:"matches"`
}

// Pass loads canonical records, ranks them and persists the matches.
type Pass struct {
	store  MatchStore
	engine *Engine
	hash   string
	now    func() time.Time
}

// NewPass builds a pass from the scoring config. asOf anchors the deadline
// factor in weighted mode.
func NewPass(st MatchStore, cfg config.ScoringConfig, asOf *time.Time) (*Pass, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	strategy, err := NewStrategy(cfg, asOf)
	if err != nil {
		return nil, err
	}
	hashed := struct {
		Cfg  config.ScoringConfig `json:"cfg"`
		AsOf *time.Time           `json:"as_of,omitempty"`
	}{cfg, asOf}
	return &Pass{
		store:  st,
		engine: NewEngine(strategy, cfg.TopK, cfg.Concurrency),
		hash:   ConfigHash(hashed),
		now:    time.Now,
	}, nil
}

// ConfigHash returns the hash recorded on every match of this pass.
func (p *Pass) ConfigHash() string { return p.hash }

// Run executes the pass.
func (p *Pass) Run(ctx context.Context, opts PassOptions) (*PassResult, error) {
	log := zap.L().With(zap.String("component", "scorer"))

	mode := opts.WriteMode
	if mode == "" {
		mode = store.WriteUpsert
	}
	if mode != store.WriteUpsert && mode != store.WriteReplace {
		return nil, eris.Errorf("scorer: unknown write mode %q", mode)
	}

	opps, err := p.store.ListOpportunities(ctx, opts.Opportunities)
	if err != nil {
		return nil, eris.Wrap(err, "scorer: load opportunities")
	}
	contractors, err := p.store.ListContractors(ctx, opts.Contractors)
	if err != nil {
		return nil, eris.Wrap(err, "scorer: load contractors")
	}

	matches, err := p.engine.Rank(ctx, opps, contractors)
	if err != nil {
		return nil, err
	}

	now := p.now().UTC()
	for i := range matches {
		matches[i].ConfigHash = p.hash
		matches[i].ScoredAt = now
	}

	res := &PassResult{
		Mode:          p.engine.Strategy().Mode(),
		ConfigHash:    p.hash,
		Opportunities: len(opps),
		Contractors:   len(contractors),
		ByTier:        countByTier(matches),
		Matches:       matches,
	}

	if !opts.DryRun && len(matches) > 0 {
		saved, err := p.store.SaveMatches(ctx, matches, mode)
		if err != nil {
			return res, eris.Wrap(err, "scorer: save matches")
		}
		res.Saved = saved
	}

	log.Info("scorer: pass complete",
		zap.String("mode", string(res.Mode)),
		zap.String("write_mode", string(mode)),
		zap.Int("opportunities", res.Opportunities),
		zap.Int("contractors", res.Contractors),
		zap.Int("matches", len(matches)),
		zap.Int("hot", res.ByTier[model.TierHot]),
		zap.Int("warm", res.ByTier[model.TierWarm]),
		zap.Int64("saved", res.Saved),
		zap.Bool("dry_run", opts.DryRun),
	)
	return res, nil
}
