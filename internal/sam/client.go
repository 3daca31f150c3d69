// Package sam is a client for the SAM.gov opportunities and entity APIs.
package sam

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/capture-cli/internal/fetcher"
)

// Record is one raw JSON object from an API page.
type Record = map[string]any

// ErrRateLimited is returned when the API answers 429.
var ErrRateLimited = errors.New("sam: rate limited")

// dateLayout is the MM/DD/YYYY format the APIs expect.
const dateLayout = "01/02/2006"

// Window is an inclusive posted date range. Entity queries use From as the
// earliest registration date.
type Window struct {
	From time.Time
	To   time.Time
}

// LastDays returns the window ending at now and starting days before it.
func LastDays(now time.Time, days int) Window {
	return Window{From: now.AddDate(0, 0, -days), To: now}
}

// PageRequest addresses one page of results.
type PageRequest struct {
	Window     Window
	NoticeType string // ptype filter; opportunities only
	Limit      int
	Offset     int
}

// Client fetches pages of raw records.
type Client interface {
	Opportunities(ctx context.Context, req PageRequest) ([]Record, error)
	Entities(ctx context.Context, req PageRequest) ([]Record, error)
}

// Options configures the HTTP client.
type Options struct {
	APIKey           string
	OpportunitiesURL string
	EntitiesURL      string
}

type httpClient struct {
	f    fetcher.Fetcher
	opts Options
}

// NewClient returns a Client issuing requests through f.
func NewClient(f fetcher.Fetcher, opts Options) Client {
	return &httpClient{f: f, opts: opts}
}

type opportunitiesPage struct {
	TotalRecords      int      `json:"totalRecords"`
	OpportunitiesData []Record `json:"opportunitiesData"`
}

type entitiesPage struct {
	TotalRecords int      `json:"totalRecords"`
	EntityData   []Record `json:"entityData"`
}

func (c *httpClient) Opportunities(ctx context.Context, req PageRequest) ([]Record, error) {
	q := c.baseQuery(req)
	q.Set("postedFrom", req.Window.From.Format(dateLayout))
	q.Set("postedTo", req.Window.To.Format(dateLayout))
	if req.NoticeType != "" {
		q.Set("ptype", req.NoticeType)
	}

	var page opportunitiesPage
	if err := c.get(ctx, c.opts.OpportunitiesURL, q, &page); err != nil {
		return nil, eris.Wrapf(err, "sam: opportunities offset %d", req.Offset)
	}
	return page.OpportunitiesData, nil
}

func (c *httpClient) Entities(ctx context.Context, req PageRequest) ([]Record, error) {
	q := c.baseQuery(req)
	q.Set("registrationDate", req.Window.From.Format(dateLayout))

	var page entitiesPage
	if err := c.get(ctx, c.opts.EntitiesURL, q, &page); err != nil {
		return nil, eris.Wrapf(err, "sam: entities offset %d", req.Offset)
	}
	return page.EntityData, nil
}

func (c *httpClient) baseQuery(req PageRequest) url.Values {
	q := url.Values{}
	q.Set("api_key", c.opts.APIKey)
	q.Set("limit", strconv.Itoa(req.Limit))
	q.Set("offset", strconv.Itoa(req.Offset))
	return q
}

func (c *httpClient) get(ctx context.Context, endpoint string, q url.Values, out any) error {
	body, err := c.f.Get(ctx, endpoint, q)
	if err != nil {
		if fetcher.IsRateLimited(err) {
			return ErrRateLimited
		}
		return err
	}
	defer body.Close() //nolint:errcheck

	if err := json.NewDecoder(body).Decode(out); err != nil {
		return eris.Wrap(err, "decode response")
	}
	return nil
}
