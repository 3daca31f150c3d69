// Package lookup resolves free-text categorical values to stable identifiers.
package lookup

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/capture-cli/internal/model"
)

// Category names a lookup table.
type Category string

const (
	CategoryAgency     Category = "agency"
	CategoryNoticeType Category = "notice_type"
	CategorySetAside   Category = "set_aside"
)

// Backend creates or fetches lookup rows. A duplicate insert on the unique
// key must be reported as success with the existing identifier.
type Backend interface {
	EnsureAgency(ctx context.Context, key model.AgencyKey) (int64, error)
	EnsureNoticeType(ctx context.Context, name string) (int64, error)
	EnsureSetAside(ctx context.Context, code string) (int64, error)
}

// Stats counts cache behaviour for a run.
type Stats struct {
	Hits    int64
	Misses  int64
	Entries int
}

// Resolver caches lookup identifiers for the lifetime of one run.
// It is safe for concurrent use.
type Resolver struct {
	backend Backend

	mu    sync.RWMutex
	cache map[string]int64
	group singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64
}

// NewResolver returns a Resolver with an empty cache.
func NewResolver(backend Backend) *Resolver {
	return &Resolver{
		backend: backend,
		cache:   make(map[string]int64),
	}
}

// Resolve returns the identifier for key within category, creating the row on
// first sight. Agency keys use the encoding of model.AgencyKey.String.
func (r *Resolver) Resolve(ctx context.Context, category Category, key string) (int64, error) {
	switch category {
	case CategoryAgency:
		return r.Agency(ctx, model.ParseAgencyKey(key))
	case CategoryNoticeType:
		return r.NoticeType(ctx, key)
	case CategorySetAside:
		return r.SetAside(ctx, key)
	default:
		return 0, eris.Errorf("lookup: unknown category %q", category)
	}
}

// Agency resolves a (department, sub-tier, office) triple.
func (r *Resolver) Agency(ctx context.Context, key model.AgencyKey) (int64, error) {
	key = key.Normalize()
	return r.resolve(CategoryAgency, key.String(), func() (int64, error) {
		return r.backend.EnsureAgency(ctx, key)
	})
}

// NoticeType resolves a canonical notice type name.
func (r *Resolver) NoticeType(ctx context.Context, name string) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, eris.New("lookup: empty notice type")
	}
	return r.resolve(CategoryNoticeType, name, func() (int64, error) {
		return r.backend.EnsureNoticeType(ctx, name)
	})
}

// SetAside resolves a canonical set-aside code.
func (r *Resolver) SetAside(ctx context.Context, code string) (int64, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return 0, eris.New("lookup: empty set-aside code")
	}
	return r.resolve(CategorySetAside, code, func() (int64, error) {
		return r.backend.EnsureSetAside(ctx, code)
	})
}

// WarmAgencies resolves every key up front and returns how many failed.
func (r *Resolver) WarmAgencies(ctx context.Context, keys []model.AgencyKey) int {
	failed := 0
	for _, k := range keys {
		if _, err := r.Agency(ctx, k); err != nil {
			failed++
			zap.L().Warn("lookup: warm agency failed",
				zap.String("department", k.Department),
				zap.Error(err),
			)
		}
	}
	return failed
}

// Stats reports cache hits, misses and size.
func (r *Resolver) Stats() Stats {
	r.mu.RLock()
	n := len(r.cache)
	r.mu.RUnlock()
	return Stats{Hits: r.hits.Load(), Misses: r.misses.Load(), Entries: n}
}

func (r *Resolver) resolve(category Category, key string, create func() (int64, error)) (int64, error) {
	cacheKey := string(category) + "\x00" + key

	r.mu.RLock()
	id, ok := r.cache[cacheKey]
	r.mu.RUnlock()
	if ok {
		r.hits.Add(1)
		return id, nil
	}

	v, err, _ := r.group.Do(cacheKey, func() (any, error) {
		r.mu.RLock()
		id, ok := r.cache[cacheKey]
		r.mu.RUnlock()
		if ok {
			return id, nil
		}

		r.misses.Add(1)
		id, err := create()
		if err != nil {
			return int64(0), eris.Wrapf(err, "lookup: resolve %s", category)
		}

		r.mu.Lock()
		r.cache[cacheKey] = id
		r.mu.Unlock()
		return id, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}
