// Package normalize maps raw source records to canonical opportunities and
// contractors. Records without a usable identity are dropped and counted,
// never returned as errors.
package normalize

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/sells-group/capture-cli/internal/lookup"
	"github.com/sells-group/capture-cli/internal/model"
)

// Skip reasons.
const (
	SkipMissingNoticeID = "missing_notice_id"
	SkipMissingUEI      = "missing_uei"
	SkipInvalidUEI      = "invalid_uei"
	SkipShortRow        = "short_row"
	SkipInactive        = "inactive"
	SkipControlLine     = "control_line"
	SkipMissingDomain   = "missing_domain"
)

// SkipCounter tallies dropped records by reason. It is safe for concurrent use.
type SkipCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

// Add records one skip.
func (s *SkipCounter) Add(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.counts == nil {
		s.counts = make(map[string]int)
	}
	s.counts[reason]++
}

// Total returns the number of skips across all reasons.
func (s *SkipCounter) Total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.counts {
		n += c
	}
	return n
}

// Snapshot returns a copy of the counts.
func (s *SkipCounter) Snapshot() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.counts))
	for k, v := range s.counts {
		out[k] = v
	}
	return out
}

// Reasons returns the recorded reasons in order.
func (s *SkipCounter) Reasons() []string {
	snap := s.Snapshot()
	out := make([]string, 0, len(snap))
	for k := range snap {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Normalizer converts raw records using a run-scoped lookup resolver.
type Normalizer struct {
	resolver *lookup.Resolver
	skips    *SkipCounter
	log      *zap.Logger
}

// New returns a Normalizer bound to resolver.
func New(resolver *lookup.Resolver) *Normalizer {
	return &Normalizer{
		resolver: resolver,
		skips:    &SkipCounter{},
		log:      zap.L().With(zap.String("component", "normalize")),
	}
}

// Resolver returns the bound lookup resolver, which may be nil.
func (n *Normalizer) Resolver() *lookup.Resolver { return n.resolver }

// Skips exposes the skip counter.
func (n *Normalizer) Skips() *SkipCounter { return n.skips }

func (n *Normalizer) skip(reason string, fields ...zap.Field) {
	n.skips.Add(reason)
	n.log.Debug("record skipped", append(fields, zap.String("reason", reason))...)
}

// resolveKeys fills the lookup foreign keys. Resolver failures leave the key
// unset and are logged; they never drop the record.
func (n *Normalizer) resolveKeys(ctx context.Context, o *model.Opportunity) {
	if n.resolver == nil {
		return
	}
	if id, err := n.resolver.Agency(ctx, o.Agency); err == nil {
		o.AgencyID = &id
	} else {
		n.log.Warn("agency lookup failed", zap.String("notice_id", o.NoticeID), zap.Error(err))
	}
	if id, err := n.resolver.NoticeType(ctx, o.NoticeType); err == nil {
		o.NoticeTypeID = &id
	} else {
		n.log.Warn("notice type lookup failed", zap.String("notice_id", o.NoticeID), zap.Error(err))
	}
	if id, err := n.resolver.SetAside(ctx, o.SetAsideCode); err == nil {
		o.SetAsideID = &id
	} else {
		n.log.Warn("set-aside lookup failed", zap.String("notice_id", o.NoticeID), zap.Error(err))
	}
}
