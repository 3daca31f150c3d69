package main

import (
	"context"
	"io"
	"net/url"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/capture-cli/internal/ingest"
	"github.com/sells-group/capture-cli/internal/sam"
)

var (
	ingestDays int
	ingestFrom string
	ingestTo   string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest opportunities and contractors",
	Long:  "Pulls opportunities and entity registrations from SAM.gov, or loads extract and export files.",
}

var ingestOpportunitiesCmd = &cobra.Command{
	Use:   "opportunities",
	Short: "Ingest opportunities from the SAM.gov API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ptypes, _ := cmd.Flags().GetStringSlice("ptype")
		return runIngest(cmd.Context(), "ingest", true, func(ctx context.Context, e *ingest.Engine, w sam.Window) []ingest.Report {
			if len(ptypes) == 0 {
				ptypes = cfg.SAM.NoticeTypes
			}
			var reps []ingest.Report
			for _, pt := range ptypes {
				reps = append(reps, e.Opportunities(ctx, w, pt))
			}
			return reps
		})
	},
}

var ingestEntitiesCmd = &cobra.Command{
	Use:   "entities",
	Short: "Ingest contractor registrations from the SAM.gov API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runIngest(cmd.Context(), "entities", true, func(ctx context.Context, e *ingest.Engine, w sam.Window) []ingest.Report {
			return []ingest.Report{e.Entities(ctx, w)}
		})
	},
}

var ingestSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Ingest every opportunity category and entities for the window",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runIngest(cmd.Context(), "ingest", true, func(ctx context.Context, e *ingest.Engine, w sam.Window) []ingest.Report {
			return e.Sync(ctx, w)
		})
	},
}

var ingestExtractCmd = &cobra.Command{
	Use:   "extract <path>",
	Short: "Load a SAM entity extract (.dat or .zip, local path or https URL)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFileIngest(cmd.Context(), args[0], (*ingest.Engine).IngestExtract)
	},
}

var ingestCSVCmd = &cobra.Command{
	Use:   "csv <path>",
	Short: "Load a contract opportunities export (.csv or .xlsx, local path or https URL)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFileIngest(cmd.Context(), args[0], (*ingest.Engine).IngestCSV)
	},
}

func runIngest(parent context.Context, mode string, withAPI bool,
	fn func(context.Context, *ingest.Engine, sam.Window) []ingest.Report,
) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	w, err := ingestWindow(time.Now())
	if err != nil {
		return err
	}

	st, err := openStore(ctx, mode)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	reps := fn(ctx, newEngine(st, withAPI), w)
	formatReports(os.Stdout, reps)

	var failed []string
	for _, r := range reps {
		if r.Aborted {
			failed = append(failed, r.Source)
		}
	}
	if len(failed) > 0 {
		return eris.Errorf("ingest: %d source(s) aborted: %v", len(failed), failed)
	}
	return nil
}

// runFileIngest loads a local file, downloading it first when src is a URL.
func runFileIngest(parent context.Context, src string, load func(*ingest.Engine, context.Context, string) ingest.Report) error {
	return runIngest(parent, "extract", false, func(ctx context.Context, e *ingest.Engine, _ sam.Window) []ingest.Report {
		local, cleanup, err := localFile(ctx, src)
		if err != nil {
			return []ingest.Report{{Source: src, Aborted: true, Err: err}}
		}
		defer cleanup()
		return []ingest.Report{load(e, ctx, local)}
	})
}

func localFile(ctx context.Context, src string) (string, func(), error) {
	if !strings.HasPrefix(src, "http://") && !strings.HasPrefix(src, "https://") {
		return src, func() {}, nil
	}
	u, err := url.Parse(src)
	if err != nil {
		return "", nil, eris.Wrap(err, "ingest: parse url")
	}
	dir, err := os.MkdirTemp("", "capture-ingest-")
	if err != nil {
		return "", nil, eris.Wrap(err, "ingest: temp dir")
	}
	cleanup := func() { _ = os.RemoveAll(dir) }

	name := path.Base(u.Path)
	if name == "." || name == "/" {
		name = "download"
	}
	dst := filepath.Join(dir, name)
	if _, err := newFetcher("").DownloadToFile(ctx, src, dst); err != nil {
		cleanup()
		return "", nil, eris.Wrap(err, "ingest: download")
	}
	return dst, cleanup, nil
}

// ingestWindow builds the posted-date window from --from/--to or --days.
func ingestWindow(now time.Time) (sam.Window, error) {
	if ingestFrom == "" && ingestTo == "" {
		days := ingestDays
		if days <= 0 {
			days = cfg.Ingest.DaysBack
		}
		return sam.LastDays(now, days), nil
	}

	w := sam.Window{To: now}
	var err error
	if ingestFrom != "" {
		if w.From, err = time.Parse("2006-01-02", ingestFrom); err != nil {
			return w, eris.Wrap(err, "ingest: parse --from")
		}
	}
	if ingestTo != "" {
		if w.To, err = time.Parse("2006-01-02", ingestTo); err != nil {
			return w, eris.Wrap(err, "ingest: parse --to")
		}
	}
	if w.From.IsZero() || w.To.Before(w.From) {
		return w, eris.New("ingest: --from must be set and not after --to")
	}
	return w, nil
}

func formatReports(out io.Writer, reps []ingest.Report) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.AppendHeader(table.Row{"Source", "Pages", "Fetched", "Normalized", "Skipped", "Upserted", "Failed", "429s", "Status", "Duration"})
	for _, r := range reps {
		status := "ok"
		if r.Aborted {
			status = "aborted"
			if r.Err != nil {
				status = "aborted: " + r.Err.Error()
			}
		}
		t.AppendRow(table.Row{
			r.Source, r.Pages, r.Fetched, r.Normalized, r.Skipped, r.Upserted,
			r.FailedBatches, r.RateLimited, status, r.Duration.Round(time.Millisecond),
		})
	}
	t.Render()
}

func init() {
	ingestCmd.PersistentFlags().IntVar(&ingestDays, "days", 0, "posted/registered within the last N days (default ingest.days_back)")
	ingestCmd.PersistentFlags().StringVar(&ingestFrom, "from", "", "window start (YYYY-MM-DD)")
	ingestCmd.PersistentFlags().StringVar(&ingestTo, "to", "", "window end (YYYY-MM-DD, default today)")
	ingestOpportunitiesCmd.Flags().StringSlice("ptype", nil, "notice type filters (default sam.notice_types)")

	ingestCmd.AddCommand(ingestOpportunitiesCmd)
	ingestCmd.AddCommand(ingestEntitiesCmd)
	ingestCmd.AddCommand(ingestSyncCmd)
	ingestCmd.AddCommand(ingestExtractCmd)
	ingestCmd.AddCommand(ingestCSVCmd)
	rootCmd.AddCommand(ingestCmd)
}
