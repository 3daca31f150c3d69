package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/capture-cli/internal/fetcher"
	"github.com/sells-group/capture-cli/internal/ingest"
	"github.com/sells-group/capture-cli/internal/lookup"
	"github.com/sells-group/capture-cli/internal/normalize"
	"github.com/sells-group/capture-cli/internal/sam"
	"github.com/sells-group/capture-cli/internal/store"
)

// openStore validates the config for mode, opens the configured backend and
// applies pending migrations.
func openStore(ctx context.Context, mode string) (store.Store, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "capture.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{MaxConns: cfg.Store.MaxConns})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func newFetcher(userAgent string) *fetcher.HTTPFetcher {
	return fetcher.NewHTTPFetcher(fetcherOptions(userAgent))
}

// newSAMFetcher makes a single attempt per request. A failed page aborts the
// category and the next scheduled run resumes it.
func newSAMFetcher() *fetcher.HTTPFetcher {
	opts := fetcherOptions("")
	opts.MaxRetries = 1
	return fetcher.NewHTTPFetcher(opts)
}

func fetcherOptions(userAgent string) fetcher.HTTPOptions {
	opts := fetcher.HTTPOptions{
		UserAgent: userAgent,
		Timeout:   time.Duration(cfg.SAM.TimeoutSecs) * time.Second,
	}
	if cfg.SAM.RateLimit > 0 {
		lim := fetcher.NewAdaptiveLimiter(rate.Limit(cfg.SAM.RateLimit), int(cfg.SAM.RateLimit)+1)
		opts.RateLimiters = map[string]*fetcher.AdaptiveLimiter{"api.sam.gov": lim}
	}
	return opts
}

// newEngine wires the ingestion engine. withAPI controls whether a SAM.gov
// client is attached; file ingestion runs without one.
func newEngine(st store.Store, withAPI bool) *ingest.Engine {
	var client sam.Client
	if withAPI {
		client = sam.NewClient(newSAMFetcher(), sam.Options{
			APIKey:           cfg.SAM.APIKey,
			OpportunitiesURL: cfg.SAM.OpportunitiesURL,
			EntitiesURL:      cfg.SAM.EntitiesURL,
		})
	}
	norm := normalize.New(lookup.NewResolver(st))
	return ingest.NewEngine(client, st, norm, cfg.Ingest, cfg.SAM.NoticeTypes)
}
