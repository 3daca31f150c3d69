// Package discovery finds prospective contractors on the open web.
package discovery

import (
	"context"
	"html"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/capture-cli/internal/config"
	"github.com/sells-group/capture-cli/internal/fetcher"
	"github.com/sells-group/capture-cli/internal/normalize"
	"github.com/sells-group/capture-cli/internal/resilience"
)

// DefaultIgnoreDomains are directories and social sites that never describe a business.
var DefaultIgnoreDomains = []string{"wikipedia", "youtube", "facebook", "linkedin", "twitter", "instagram"}

// Searcher queries an HTML search results page and extracts business leads.
type Searcher struct {
	f       fetcher.Fetcher
	cfg     config.DiscoveryConfig
	limiter *rate.Limiter
	retry   resilience.RetryConfig
	policy  *bluemonday.Policy
	log     *zap.Logger
}

// NewSearcher creates a Searcher. Queries are spaced cfg.DelaySecs apart.
func NewSearcher(f fetcher.Fetcher, cfg config.DiscoveryConfig) *Searcher {
	if len(cfg.IgnoreDomains) == 0 {
		cfg.IgnoreDomains = DefaultIgnoreDomains
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 20
	}
	limit := rate.Inf
	if cfg.DelaySecs > 0 {
		limit = rate.Every(time.Duration(cfg.DelaySecs * float64(time.Second)))
	}

	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = cfg.Retries + 1
	retry.OnRetry = resilience.RetryLogger("discovery", "search")

	return &Searcher{
		f:       f,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		retry:   retry,
		policy:  bluemonday.StrictPolicy(),
		log:     zap.L().With(zap.String("component", "discovery")),
	}
}

// Search runs one query and returns the leads on the first results page.
func (s *Searcher) Search(ctx context.Context, query string) ([]normalize.WebLead, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "discovery: wait")
	}

	leads, err := resilience.DoVal(ctx, s.retry, func(ctx context.Context) ([]normalize.WebLead, error) {
		body, err := s.f.Get(ctx, s.cfg.SearchURL, url.Values{"q": {query}})
		if err != nil {
			return nil, err
		}
		defer body.Close() //nolint:errcheck
		return s.parse(body, query)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "discovery: search %q", query)
	}

	s.log.Info("search complete", zap.String("query", query), zap.Int("leads", len(leads)))
	return leads, nil
}

// SearchAll runs every query. A failed query is logged and skipped; leads are
// de-duplicated by domain in first-seen order.
func (s *Searcher) SearchAll(ctx context.Context, queries []string) ([]normalize.WebLead, error) {
	seen := make(map[string]bool)
	var out []normalize.WebLead
	for _, q := range queries {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		leads, err := s.Search(ctx, q)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			s.log.Warn("query failed", zap.String("query", q), zap.Error(err))
			continue
		}
		for _, l := range leads {
			d := l.Domain()
			if seen[d] {
				continue
			}
			seen[d] = true
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *Searcher) parse(r io.Reader, query string) ([]normalize.WebLead, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, eris.Wrap(err, "discovery: parse results")
	}

	var leads []normalize.WebLead
	doc.Find("div.result").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if len(leads) >= s.cfg.MaxResults {
			return false
		}
		link := sel.Find("a.result__url").First()
		snippet := sel.Find("a.result__snippet").First()
		if link.Length() == 0 || snippet.Length() == 0 {
			return true
		}

		lead := normalize.WebLead{
			Title:   s.clean(sel.Find("h2.result__title").First().Text()),
			URL:     unwrapRedirect(strings.TrimSpace(link.AttrOr("href", ""))),
			Snippet: s.clean(snippet.Text()),
			Query:   query,
		}
		if s.ignored(lead.Domain()) {
			return true
		}
		leads = append(leads, lead)
		return true
	})
	return leads, nil
}

func (s *Searcher) clean(text string) string {
	return strings.Join(strings.Fields(html.UnescapeString(s.policy.Sanitize(text))), " ")
}

func (s *Searcher) ignored(domain string) bool {
	if domain == "" {
		return true
	}
	for _, ig := range s.cfg.IgnoreDomains {
		if ig != "" && strings.Contains(domain, strings.ToLower(ig)) {
			return true
		}
	}
	return false
}

// unwrapRedirect returns the target of a search-engine redirect link
// (//duckduckgo.com/l/?uddg=<target>), or href unchanged.
func unwrapRedirect(href string) string {
	if !strings.Contains(href, "uddg=") {
		return href
	}
	raw := href
	if strings.HasPrefix(raw, "//") {
		raw = "https:" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return href
}
