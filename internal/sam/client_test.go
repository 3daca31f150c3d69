package sam

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/capture-cli/internal/fetcher"
)

func newClient(srvURL string) Client {
	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{MaxRetries: 1, Timeout: 5 * time.Second})
	return NewClient(f, Options{
		APIKey:           "test-key",
		OpportunitiesURL: srvURL + "/opportunities/v2/search",
		EntitiesURL:      srvURL + "/entity-information/v3/entities",
	})
}

var window = Window{
	From: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	To:   time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC),
}

func TestOpportunities(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/opportunities/v2/search", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "test-key", q.Get("api_key"))
		assert.Equal(t, "03/01/2024", q.Get("postedFrom"))
		assert.Equal(t, "03/03/2024", q.Get("postedTo"))
		assert.Equal(t, "1000", q.Get("limit"))
		assert.Equal(t, "2000", q.Get("offset"))
		assert.Equal(t, "r", q.Get("ptype"))
		_, _ = w.Write([]byte(`{"totalRecords": 2, "opportunitiesData": [{"noticeId": "A"}, {"noticeId": "B"}]}`))
	}))
	defer srv.Close()

	recs, err := newClient(srv.URL).Opportunities(context.Background(), PageRequest{
		Window: window, NoticeType: "r", Limit: 1000, Offset: 2000,
	})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "B", recs[1]["noticeId"])
}

func TestEntities(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/entity-information/v3/entities", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "03/01/2024", q.Get("registrationDate"))
		assert.Equal(t, "100", q.Get("limit"))
		assert.Empty(t, q.Get("ptype"))
		_, _ = w.Write([]byte(`{"entityData": [{"entityRegistration": {"ueiSAM": "U1"}}]}`))
	}))
	defer srv.Close()

	recs, err := newClient(srv.URL).Entities(context.Background(), PageRequest{Window: window, Limit: 100})
	require.NoError(t, err)
	require.Len(t, recs, 1)
}

func TestEmptyPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"totalRecords": 0}`))
	}))
	defer srv.Close()

	recs, err := newClient(srv.URL).Opportunities(context.Background(), PageRequest{Window: window, Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newClient(srv.URL).Opportunities(context.Background(), PageRequest{Window: window, Limit: 10})
	require.ErrorIs(t, err, ErrRateLimited)
}

func TestErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"forbidden", http.StatusForbidden, `{}`, "http 403"},
		{"malformed", http.StatusOK, `{nope`, "decode response"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := newClient(srv.URL).Entities(context.Background(), PageRequest{Window: window, Limit: 10})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.NotErrorIs(t, err, ErrRateLimited)
			assert.NotContains(t, err.Error(), "test-key")
		})
	}
}

func TestLastDays(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	w := LastDays(now, 7)
	assert.Equal(t, "03/03/2024", w.From.Format(dateLayout))
	assert.Equal(t, now, w.To)
}
