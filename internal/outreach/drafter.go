// Package outreach generates teaming emails for high-scoring matches.
package outreach

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/capture-cli/internal/config"
	"github.com/sells-group/capture-cli/internal/model"
	"github.com/sells-group/capture-cli/internal/resilience"
	"github.com/sells-group/capture-cli/pkg/anthropic"
)

const systemPrompt = `You write short business development emails for a government contracting capture team.
Write to a potential teaming partner about one specific federal opportunity.
Be concrete: name the solicitation, the agency and why the partner's capabilities fit.
Keep the body under 180 words, plain text, no markdown.
Start your reply with a line "Subject: <subject>", then a blank line, then the body.`

// Store is the persistence a Drafter needs.
type Store interface {
	ListMatches(ctx context.Context, filter model.MatchFilter) ([]model.Match, error)
	GetOpportunity(ctx context.Context, noticeID string) (*model.Opportunity, error)
	GetContractor(ctx context.Context, id string) (*model.Contractor, error)
	SaveDraft(ctx context.Context, d model.Draft) error
}

// Result counts what a drafting run did.
type Result struct {
	Considered int     `json:"considered"`
	Drafted    int     `json:"drafted"`
	Failed     int     `json:"failed"`
	Skipped    string  `json:"skipped,omitempty"`
	CostUSD    float64 `json:"estimated_cost_usd"`
}

// Drafter produces one draft per eligible match. A nil client disables drafting.
type Drafter struct {
	client anthropic.Client
	store  Store
	model  string
	cfg    config.OutreachConfig
	retry  resilience.RetryConfig
	now    func() time.Time
}

// NewDrafter creates a Drafter. client may be nil when no API key is configured.
func NewDrafter(client anthropic.Client, st Store, modelName string, cfg config.OutreachConfig) *Drafter {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	retry := resilience.DefaultRetryConfig()
	retry.ShouldRetry = func(err error) bool {
		return anthropic.IsRetryable(err) || resilience.IsTransient(err)
	}
	retry.OnRetry = resilience.RetryLogger("anthropic", "draft")
	return &Drafter{client: client, store: st, model: modelName, cfg: cfg, retry: retry, now: time.Now}
}

// Eligible reports whether a match warrants a draft: it is HOT or was
// flagged for enrichment.
func Eligible(m model.Match) bool {
	return m.NeedsEnrichment || m.Tier == model.TierHot
}

// Run drafts emails for the eligible matches selected by filter. A failure
// on one match is logged and counted; the run continues.
func (d *Drafter) Run(ctx context.Context, filter model.MatchFilter) (*Result, error) {
	log := zap.L().With(zap.String("component", "outreach"))
	res := &Result{}
	if d.client == nil {
		res.Skipped = "no anthropic api key configured"
		log.Info("outreach: skipped", zap.String("reason", res.Skipped))
		return res, nil
	}
	if filter.MinTier == "" && d.cfg.MinTier != "" {
		filter.MinTier = model.Tier(strings.ToUpper(d.cfg.MinTier))
	}

	matches, err := d.store.ListMatches(ctx, filter)
	if err != nil {
		return nil, eris.Wrap(err, "outreach: list matches")
	}

	var drafted, failed atomic.Int64
	var costMicros atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Concurrency)
	for _, m := range matches {
		if !Eligible(m) {
			continue
		}
		res.Considered++
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			draft, usage, err := d.Draft(gctx, m)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				failed.Add(1)
				log.Warn("outreach: draft failed",
					zap.String("opportunity_id", m.OpportunityID),
					zap.String("contractor_id", m.ContractorID),
					zap.Error(err))
				return nil
			}
			if err := d.store.SaveDraft(gctx, *draft); err != nil {
				failed.Add(1)
				log.Warn("outreach: save draft failed", zap.String("opportunity_id", m.OpportunityID), zap.Error(err))
				return nil
			}
			drafted.Add(1)
			costMicros.Add(int64(usage.EstimateCost(d.model) * 1e6))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "outreach: run")
	}

	res.Drafted = int(drafted.Load())
	res.Failed = int(failed.Load())
	res.CostUSD = float64(costMicros.Load()) / 1e6
	log.Info("outreach: run complete",
		zap.Int("considered", res.Considered),
		zap.Int("drafted", res.Drafted),
		zap.Int("failed", res.Failed),
		zap.Float64("estimated_cost_usd", res.CostUSD),
	)
	return res, nil
}

// Draft generates the email for a single match without persisting it.
func (d *Drafter) Draft(ctx context.Context, m model.Match) (*model.Draft, anthropic.TokenUsage, error) {
	if d.client == nil {
		return nil, anthropic.TokenUsage{}, eris.New("outreach: no anthropic client configured")
	}
	opp, err := d.store.GetOpportunity(ctx, m.OpportunityID)
	if err != nil {
		return nil, anthropic.TokenUsage{}, eris.Wrapf(err, "outreach: load opportunity %s", m.OpportunityID)
	}
	c, err := d.store.GetContractor(ctx, m.ContractorID)
	if err != nil {
		return nil, anthropic.TokenUsage{}, eris.Wrapf(err, "outreach: load contractor %s", m.ContractorID)
	}

	req := anthropic.MessageRequest{
		Model:     d.model,
		MaxTokens: d.cfg.MaxTokens,
		System:    anthropic.BuildCachedSystemBlocks(systemPrompt),
		Messages:  []anthropic.Message{{Role: "user", Content: BuildPrompt(opp, c, m, d.cfg.SenderName)}},
	}
	resp, err := resilience.DoVal(ctx, d.retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return d.client.CreateMessage(ctx, req)
	})
	if err != nil {
		return nil, anthropic.TokenUsage{}, eris.Wrap(err, "outreach: generate")
	}
	resp.Usage.LogCost(d.model, "outreach")

	subject, body := ParseDraft(resp.Text())
	if body == "" {
		return nil, resp.Usage, eris.Errorf("outreach: empty draft for %s/%s", m.OpportunityID, m.ContractorID)
	}
	if subject == "" {
		subject = "Teaming on " + titleOrID(opp)
	}

	modelUsed := resp.Model
	if modelUsed == "" {
		modelUsed = d.model
	}
	return &model.Draft{
		OpportunityID:  m.OpportunityID,
		ContractorID:   m.ContractorID,
		RecipientEmail: c.PrimaryPOCEmail,
		Subject:        subject,
		Body:           body,
		Model:          modelUsed,
		TokensUsed:     resp.Usage.Total(),
		CreatedAt:      d.now().UTC(),
	}, resp.Usage, nil
}

// BuildPrompt renders the user prompt for one match.
func BuildPrompt(o *model.Opportunity, c *model.Contractor, m model.Match, sender string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Opportunity: %s\n", titleOrID(o))
	fmt.Fprintf(&b, "Notice ID: %s\n", o.NoticeID)
	if o.SolicitationNumber != "" {
		fmt.Fprintf(&b, "Solicitation: %s\n", o.SolicitationNumber)
	}
	if o.Agency.Department != "" {
		fmt.Fprintf(&b, "Agency: %s\n", joinNonEmpty(" / ", o.Agency.Department, o.Agency.SubTier, o.Agency.Office))
	}
	if o.NAICSCode != "" {
		fmt.Fprintf(&b, "NAICS: %s\n", o.NAICSCode)
	}
	if o.Restricted() {
		fmt.Fprintf(&b, "Set-aside: %s\n", o.SetAsideCode)
	}
	if o.ResponseDeadline != nil {
		fmt.Fprintf(&b, "Responses due: %s\n", o.ResponseDeadline.Format("January 2, 2006"))
	}

	b.WriteString("\nPartner: ")
	b.WriteString(c.CompanyName)
	b.WriteString("\n")
	if c.PrimaryPOCName != "" {
		fmt.Fprintf(&b, "Contact: %s\n", c.PrimaryPOCName)
	}
	if len(c.NAICSCodes) > 0 {
		fmt.Fprintf(&b, "Partner NAICS: %s\n", strings.Join(c.NAICSCodes, ", "))
	}
	if len(c.Certifications) > 0 {
		fmt.Fprintf(&b, "Partner certifications: %s\n", strings.Join(c.Certifications, ", "))
	}

	fmt.Fprintf(&b, "\nMatch score: %g (%s)\n", m.Score, m.Tier)
	var reasons []string
	for _, f := range m.Breakdown {
		if f.Raw == 1 && f.Name != "baseline" {
			reasons = append(reasons, f.Name)
		}
	}
	if len(reasons) > 0 {
		fmt.Fprintf(&b, "Matched on: %s\n", strings.Join(reasons, ", "))
	}
	if sender != "" {
		fmt.Fprintf(&b, "\nSign the email as: %s\n", sender)
	}
	return b.String()
}

// ParseDraft splits a "Subject: ..." first line from the body.
func ParseDraft(text string) (subject, body string) {
	text = strings.TrimSpace(text)
	first, rest, found := strings.Cut(text, "\n")
	if !found {
		first, rest = text, ""
	}
	if s, ok := strings.CutPrefix(strings.TrimSpace(first), "Subject:"); ok {
		return strings.TrimSpace(s), strings.TrimSpace(rest)
	}
	return "", text
}

func titleOrID(o *model.Opportunity) string {
	if o.Title != "" {
		return o.Title
	}
	return o.NoticeID
}

func joinNonEmpty(sep string, parts ...string) string {
	var out []string
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, sep)
}
