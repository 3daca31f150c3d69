package ingest

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/capture-cli/internal/config"
	"github.com/sells-group/capture-cli/internal/model"
	"github.com/sells-group/capture-cli/internal/normalize"
	"github.com/sells-group/capture-cli/internal/sam"
	"github.com/sells-group/capture-cli/internal/store"
)

// Engine runs API and file ingestion against a store.
type Engine struct {
	client      sam.Client
	store       store.Store
	norm        *normalize.Normalizer
	cfg         config.IngestConfig
	noticeTypes []string
	sleep       func(ctx context.Context, d time.Duration) error
	log         *zap.Logger
}

// NewEngine wires an ingestion engine. client may be nil for file-only use.
func NewEngine(client sam.Client, st store.Store, norm *normalize.Normalizer, cfg config.IngestConfig, noticeTypes []string) *Engine {
	if len(noticeTypes) == 0 {
		noticeTypes = []string{"r", "p", "o"}
	}
	return &Engine{
		client:      client,
		store:       st,
		norm:        norm,
		cfg:         cfg,
		noticeTypes: noticeTypes,
		log:         zap.L().With(zap.String("component", "ingest")),
	}
}

// SetSleep replaces the rate-limit backoff wait.
func (e *Engine) SetSleep(fn func(ctx context.Context, d time.Duration) error) {
	e.sleep = fn
}

func (e *Engine) controller(pageSize, batchSize int) Controller {
	return Controller{
		PageSize:  pageSize,
		BatchSize: batchSize,
		Backoff:   time.Duration(e.cfg.BackoffSecs) * time.Second,
		Sleep:     e.sleep,
	}
}

// Opportunities ingests one notice-type category for the window.
func (e *Engine) Opportunities(ctx context.Context, w sam.Window, ptype string) Report {
	src := OpportunitySource(e.client, w, ptype)
	return e.tracked(ctx, src.Name(), func(ctx context.Context) Report {
		return Paginate(ctx, e.controller(e.cfg.PageSize, e.cfg.BatchSize), src,
			e.norm.Opportunity,
			e.store.UpsertOpportunities,
		)
	})
}

// Entities ingests entity registrations for the window.
func (e *Engine) Entities(ctx context.Context, w sam.Window) Report {
	src := EntitySource(e.client, w)
	return e.tracked(ctx, src.Name(), func(ctx context.Context) Report {
		return Paginate(ctx, e.controller(e.cfg.EntityPageSize, e.cfg.BatchSize), src,
			func(_ context.Context, raw sam.Record) (model.Contractor, bool) { return e.norm.Entity(raw) },
			e.store.UpsertContractors,
		)
	})
}

// Sync runs every opportunity category and then entities. With
// parallel_sources set, sources run concurrently and a rate-limit backoff
// only blocks its own source. Reports follow source order.
func (e *Engine) Sync(ctx context.Context, w sam.Window) []Report {
	type job func(context.Context) Report
	var jobs []job
	for _, pt := range e.noticeTypes {
		jobs = append(jobs, func(ctx context.Context) Report { return e.Opportunities(ctx, w, pt) })
	}
	jobs = append(jobs, func(ctx context.Context) Report { return e.Entities(ctx, w) })

	reports := make([]Report, len(jobs))
	if !e.cfg.ParallelSources {
		for i, j := range jobs {
			reports[i] = j(ctx)
		}
		return reports
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, j := range jobs {
		g.Go(func() error {
			reports[i] = j(gctx)
			return nil
		})
	}
	_ = g.Wait()
	return reports
}

// tracked records the run in the ingest audit log around fn. Audit failures
// are logged and never fail the ingestion itself.
func (e *Engine) tracked(ctx context.Context, source string, fn func(context.Context) Report) Report {
	runID, err := e.store.StartRun(ctx, source)
	if err != nil {
		e.log.Warn("start run log failed", zap.String("source", source), zap.Error(err))
	}

	rep := fn(ctx)

	if runID == 0 {
		return rep
	}
	run := RunFromReport(runID, rep)
	if err := e.store.FinishRun(context.WithoutCancel(ctx), run); err != nil {
		e.log.Warn("finish run log failed", zap.String("source", source), zap.Error(err))
	}
	return rep
}

// RunFromReport converts a report into its audit row.
func RunFromReport(id int64, rep Report) model.IngestRun {
	now := time.Now().UTC()
	run := model.IngestRun{
		ID:          id,
		Source:      rep.Source,
		Status:      model.RunComplete,
		CompletedAt: &now,
		Fetched:     rep.Fetched,
		Normalized:  rep.Normalized,
		Skipped:     rep.Skipped,
		Upserted:    rep.Upserted,
		Failed:      rep.FailedBatches,
	}
	if rep.Aborted {
		run.Status = model.RunFailed
		run.Error = rep.Error()
	}
	return run
}
