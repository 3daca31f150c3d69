// Package ingest drives paginated API ingestion and file imports into the store.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/capture-cli/internal/resilience"
	"github.com/sells-group/capture-cli/internal/sam"
)

// Default pacing values.
const (
	DefaultPageSize  = 1000
	DefaultBatchSize = 1000
	DefaultBackoff   = 10 * time.Second
)

// Source yields pages of raw records by offset.
type Source[R any] interface {
	Name() string
	Fetch(ctx context.Context, offset, limit int) ([]R, error)
}

// Controller holds the pagination and batching policy for one source run.
type Controller struct {
	PageSize  int
	BatchSize int
	Backoff   time.Duration
	// Sleep waits out a rate-limit backoff. Defaults to resilience.Sleep.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (c Controller) withDefaults() Controller {
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Backoff <= 0 {
		c.Backoff = DefaultBackoff
	}
	if c.Sleep == nil {
		c.Sleep = resilience.Sleep
	}
	return c
}

// Report summarizes one source run.
type Report struct {
	Source        string        `json:"source"`
	Pages         int           `json:"pages"`
	Fetched       int           `json:"fetched"`
	Normalized    int           `json:"normalized"`
	Skipped       int           `json:"skipped"`
	Upserted      int64         `json:"upserted"`
	FailedBatches int           `json:"failed_batches"`
	RateLimited   int           `json:"rate_limited"`
	Aborted       bool          `json:"aborted"`
	Err           error         `json:"-"`
	Duration      time.Duration `json:"duration"`
}

// Error returns the abort reason as text, or "".
func (r Report) Error() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

func (r *Report) abort(err error) {
	r.Aborted = true
	r.Err = err
}

// Paginate runs the fetch loop for src. A rate-limited fetch waits
// ctl.Backoff and retries the same offset with no retry cap. Any other fetch
// error aborts the run; batches persisted earlier stay persisted. An empty
// page ends the run. Each page is normalized and persisted in batches of
// ctl.BatchSize; a failed batch is logged, counted and dropped.
func Paginate[R, T any](
	ctx context.Context,
	ctl Controller,
	src Source[R],
	normalize func(context.Context, R) (T, bool),
	persist func(context.Context, []T) (int64, error),
) Report {
	ctl = ctl.withDefaults()
	log := zap.L().With(zap.String("component", "ingest"), zap.String("source", src.Name()))
	start := time.Now()
	rep := Report{Source: src.Name()}

	offset := 0
	for {
		if err := ctx.Err(); err != nil {
			rep.abort(err)
			break
		}

		page, err := src.Fetch(ctx, offset, ctl.PageSize)
		if errors.Is(err, sam.ErrRateLimited) {
			rep.RateLimited++
			log.Warn("rate limited, backing off",
				zap.Int("offset", offset),
				zap.Duration("backoff", ctl.Backoff),
			)
			if serr := ctl.Sleep(ctx, ctl.Backoff); serr != nil {
				rep.abort(serr)
				break
			}
			continue
		}
		if err != nil {
			log.Error("fetch failed, aborting source", zap.Int("offset", offset), zap.Error(err))
			rep.abort(err)
			break
		}
		if len(page) == 0 {
			break
		}

		rep.Pages++
		rep.Fetched += len(page)

		items := make([]T, 0, len(page))
		for _, raw := range page {
			if item, ok := normalize(ctx, raw); ok {
				items = append(items, item)
			}
		}
		rep.Normalized += len(items)
		persistBatches(ctx, log, &rep, ctl.BatchSize, items, persist)

		log.Info("page ingested",
			zap.Int("offset", offset),
			zap.Int("records", len(page)),
			zap.Int("normalized", len(items)),
		)
		offset += ctl.PageSize
	}

	rep.Skipped = rep.Fetched - rep.Normalized
	rep.Duration = time.Since(start)
	logReport(log, rep)
	return rep
}

// persistBatches writes items in chunks of size. Failures are counted, not returned.
func persistBatches[T any](
	ctx context.Context,
	log *zap.Logger,
	rep *Report,
	size int,
	items []T,
	persist func(context.Context, []T) (int64, error),
) {
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		n, err := persist(ctx, items[start:end])
		if err != nil {
			rep.FailedBatches++
			log.Error("batch persist failed, dropping batch",
				zap.Int("batch_size", end-start),
				zap.Error(err),
			)
			continue
		}
		rep.Upserted += n
	}
}

func logReport(log *zap.Logger, rep Report) {
	fields := []zap.Field{
		zap.Int("pages", rep.Pages),
		zap.Int("fetched", rep.Fetched),
		zap.Int("normalized", rep.Normalized),
		zap.Int("skipped", rep.Skipped),
		zap.Int64("upserted", rep.Upserted),
		zap.Int("failed_batches", rep.FailedBatches),
		zap.Int("rate_limited", rep.RateLimited),
		zap.Duration("duration", rep.Duration),
	}
	if rep.Aborted {
		log.Warn("source aborted", append(fields, zap.Error(rep.Err))...)
		return
	}
	log.Info("source complete", fields...)
}

// sourceFunc adapts a function to Source.
type sourceFunc[R any] struct {
	name  string
	fetch func(ctx context.Context, offset, limit int) ([]R, error)
}

func (s sourceFunc[R]) Name() string { return s.name }

func (s sourceFunc[R]) Fetch(ctx context.Context, offset, limit int) ([]R, error) {
	return s.fetch(ctx, offset, limit)
}

// OpportunitySource pages opportunities of one notice-type category.
func OpportunitySource(client sam.Client, w sam.Window, ptype string) Source[sam.Record] {
	return sourceFunc[sam.Record]{
		name: fmt.Sprintf("opportunities:%s", ptype),
		fetch: func(ctx context.Context, offset, limit int) ([]sam.Record, error) {
			return client.Opportunities(ctx, sam.PageRequest{Window: w, NoticeType: ptype, Limit: limit, Offset: offset})
		},
	}
}

// EntitySource pages entity registrations.
func EntitySource(client sam.Client, w sam.Window) Source[sam.Record] {
	return sourceFunc[sam.Record]{
		name: "entities",
		fetch: func(ctx context.Context, offset, limit int) ([]sam.Record, error) {
			return client.Entities(ctx, sam.PageRequest{Window: w, Limit: limit, Offset: offset})
		},
	}
}
