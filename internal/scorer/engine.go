package scorer

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/capture-cli/internal/model"
)

// Engine ranks contractors per opportunity with a Strategy.
type Engine struct {
	strategy    Strategy
	topK        int
	concurrency int
}

// NewEngine creates an Engine. topK 0 keeps every qualifying pair;
// concurrency below 1 scores opportunities one at a time.
func NewEngine(strategy Strategy, topK, concurrency int) *Engine {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Engine{strategy: strategy, topK: topK, concurrency: concurrency}
}

// Strategy returns the engine's scoring strategy.
func (e *Engine) Strategy() Strategy { return e.strategy }

// Rank scores every (opportunity, contractor) pair and returns the top K
// matches of each opportunity, in opportunity input order. Within an
// opportunity matches are sorted by score descending; ties keep contractor
// input order.
func (e *Engine) Rank(ctx context.Context, opps []model.Opportunity, contractors []model.Contractor) ([]model.Match, error) {
	perOpp := make([][]model.Match, len(opps))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i := range opps {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			perOpp[i] = e.rankOne(&opps[i], contractors)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "scorer: rank")
	}

	var out []model.Match
	for _, ms := range perOpp {
		out = append(out, ms...)
	}

	zap.L().Debug("scorer: ranked",
		zap.String("mode", string(e.strategy.Mode())),
		zap.Int("opportunities", len(opps)),
		zap.Int("contractors", len(contractors)),
		zap.Int("matches", len(out)),
	)
	return out, nil
}

// rankOne selects the top K matches for one opportunity. Selection happens
// only after every contractor has been scored.
func (e *Engine) rankOne(o *model.Opportunity, contractors []model.Contractor) []model.Match {
	var ms []model.Match
	for i := range contractors {
		c := &contractors[i]
		r := e.strategy.Score(o, c)
		if !e.strategy.Keep(r) {
			continue
		}
		ms = append(ms, model.Match{
			OpportunityID:   o.NoticeID,
			ContractorID:    c.ID.Key(),
			Mode:            r.Mode,
			Score:           r.Value,
			Breakdown:       r.Breakdown,
			Tier:            r.Tier,
			Status:          model.MatchStatusIdentified,
			NeedsEnrichment: r.NeedsEnrichment,
		})
	}

	sortByScore(ms)
	if e.topK > 0 && len(ms) > e.topK {
		ms = ms[:e.topK]
	}
	for i := range ms {
		ms[i].Rank = i + 1
	}
	return ms
}

// sortByScore sorts matches by score descending, keeping input order on ties.
func sortByScore(ms []model.Match) {
	sort.SliceStable(ms, func(i, j int) bool {
		return ms[i].Score > ms[j].Score
	})
}

// countByTier tallies matches per tier.
func countByTier(ms []model.Match) map[model.Tier]int {
	out := make(map[model.Tier]int)
	for _, m := range ms {
		out[m.Tier]++
	}
	return out
}
