package ingest

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/sells-group/capture-cli/internal/lookup"
	"github.com/sells-group/capture-cli/internal/model"
	"github.com/sells-group/capture-cli/internal/sam"
	"github.com/sells-group/capture-cli/internal/store"
)

// fakeStore keeps canonical records in maps keyed by their conflict keys.
type fakeStore struct {
	*lookup.MemoryBackend

	mu          sync.Mutex
	opps        map[string]model.Opportunity
	contractors map[string]model.Contractor
	contacts    map[[3]string]model.Contact
	refs        map[model.ReferenceCode]bool
	runs        []model.IngestRun
	nextRun     int64
	failBatches int // number of upcoming upserts to fail
	upsertCalls int
}

var _ store.Store = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{
		MemoryBackend: lookup.NewMemoryBackend(),
		opps:          make(map[string]model.Opportunity),
		contractors:   make(map[string]model.Contractor),
		contacts:      make(map[[3]string]model.Contact),
		refs:          make(map[model.ReferenceCode]bool),
	}
}

func (f *fakeStore) shouldFail() bool {
	f.upsertCalls++
	if f.failBatches > 0 {
		f.failBatches--
		return true
	}
	return false
}

func (f *fakeStore) UpsertOpportunities(_ context.Context, opps []model.Opportunity) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.shouldFail() {
		return 0, errors.New("db down")
	}
	for _, o := range opps {
		f.opps[o.NoticeID] = o
	}
	return int64(len(opps)), nil
}

func (f *fakeStore) UpsertContacts(_ context.Context, cs []model.Contact) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range cs {
		f.contacts[[3]string{c.NoticeID, c.Email, c.FullName}] = c
	}
	return int64(len(cs)), nil
}

func (f *fakeStore) UpsertContractors(_ context.Context, cs []model.Contractor) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.shouldFail() {
		return 0, errors.New("db down")
	}
	for _, c := range cs {
		key := c.ID.String()
		f.contractors[key] = model.MergeContractor(f.contractors[key], c)
	}
	return int64(len(cs)), nil
}

func (f *fakeStore) UpsertReferenceCodes(_ context.Context, codes []model.ReferenceCode) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range codes {
		f.refs[c] = true
	}
	return int64(len(codes)), nil
}

func (f *fakeStore) ListOpportunities(context.Context, model.OpportunityFilter) ([]model.Opportunity, error) {
	return nil, nil
}

func (f *fakeStore) GetOpportunity(context.Context, string) (*model.Opportunity, error) {
	return nil, nil
}

func (f *fakeStore) ListContractors(context.Context, model.ContractorFilter) ([]model.Contractor, error) {
	return nil, nil
}

func (f *fakeStore) GetContractor(context.Context, string) (*model.Contractor, error) {
	return nil, nil
}

func (f *fakeStore) SaveMatches(context.Context, []model.Match, store.WriteMode) (int64, error) {
	return 0, nil
}

func (f *fakeStore) ListMatches(context.Context, model.MatchFilter) ([]model.Match, error) {
	return nil, nil
}

func (f *fakeStore) UpsertOutcome(context.Context, model.Outcome) error { return nil }

func (f *fakeStore) GetOutcome(context.Context, string, string) (*model.Outcome, error) {
	return nil, store.ErrNotFound
}

func (f *fakeStore) SaveDraft(context.Context, model.Draft) error { return nil }

func (f *fakeStore) StartRun(_ context.Context, source string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextRun++
	f.runs = append(f.runs, model.IngestRun{ID: f.nextRun, Source: source, Status: model.RunRunning})
	return f.nextRun, nil
}

func (f *fakeStore) FinishRun(_ context.Context, run model.IngestRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.runs {
		if f.runs[i].ID == run.ID {
			f.runs[i] = run
		}
	}
	return nil
}

func (f *fakeStore) ListRuns(context.Context, int) ([]model.IngestRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.IngestRun(nil), f.runs...), nil
}

func (f *fakeStore) Migrate(context.Context) error { return nil }
func (f *fakeStore) Close() error { return nil }

// fakeClient serves scripted pages keyed by category and offset.
type fakeClient struct {
	mu       sync.Mutex
	opps     map[string][][]sam.Record // ptype -> pages
	entities [][]sam.Record
	limited  map[string]int // "ptype@offset" -> remaining 429s
	calls    []string
}

func (c *fakeClient) page(pages [][]sam.Record, req sam.PageRequest) []sam.Record {
	i := req.Offset / req.Limit
	if i < len(pages) {
		return pages[i]
	}
	return nil
}

func (c *fakeClient) Opportunities(_ context.Context, req sam.PageRequest) ([]sam.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := req.NoticeType + "@" + strconv.Itoa(req.Offset)
	c.calls = append(c.calls, key)
	if c.limited[key] > 0 {
		c.limited[key]--
		return nil, sam.ErrRateLimited
	}
	return c.page(c.opps[req.NoticeType], req), nil
}

func (c *fakeClient) Entities(_ context.Context, req sam.PageRequest) ([]sam.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, "entities@"+strconv.Itoa(req.Offset))
	return c.page(c.entities, req), nil
}
