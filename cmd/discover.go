package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/capture-cli/internal/discovery"
	"github.com/sells-group/capture-cli/internal/ingest"
)

var discoverDryRun bool

var discoverCmd = &cobra.Command{
	Use:   "discover <query> [query...]",
	Short: "Discover unregistered contractors from web search",
	Long:  "Runs each query against the configured search page and stores the resulting leads as discovered contractors.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("discover"); err != nil {
			return err
		}

		searcher := discovery.NewSearcher(newFetcher(cfg.Discovery.UserAgent), cfg.Discovery)
		leads, err := searcher.SearchAll(ctx, args)
		if err != nil {
			return eris.Wrap(err, "discover")
		}

		if discoverDryRun {
			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.AppendHeader(table.Row{"Domain", "Title", "Query"})
			for _, l := range leads {
				t.AppendRow(table.Row{l.Domain(), l.Title, l.Query})
			}
			t.Render()
			return nil
		}

		st, err := openStore(ctx, "discover")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		rep := newEngine(st, false).IngestLeads(ctx, leads)
		formatReports(os.Stdout, []ingest.Report{rep})
		if rep.Aborted {
			return eris.Wrap(rep.Err, "discover: store leads")
		}
		return nil
	},
}

func init() {
	discoverCmd.Flags().BoolVar(&discoverDryRun, "dry-run", false, "print leads without storing them")
	rootCmd.AddCommand(discoverCmd)
}
