package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/capture-cli/internal/model"
)

var matchesCmd = &cobra.Command{
	Use:   "matches",
	Short: "List stored matches",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		opp, _ := cmd.Flags().GetString("opportunity")
		contractor, _ := cmd.Flags().GetString("contractor")
		tier, _ := cmd.Flags().GetString("min-tier")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := model.MatchFilter{
			OpportunityID: opp,
			ContractorID:  strings.ToUpper(contractor),
			MinTier:       model.Tier(strings.ToUpper(tier)),
			Limit:         limit,
		}
		if filter.MinTier != "" && filter.MinTier.Rank() == 0 {
			return eris.Errorf("matches: unknown tier %q", tier)
		}

		st, err := openStore(ctx, "read")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		ms, err := st.ListMatches(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "matches")
		}
		if len(ms) == 0 {
			fmt.Fprintln(os.Stderr, "No matches found.")
			return nil
		}
		formatMatches(os.Stdout, ms)
		return nil
	},
}

func formatMatches(out io.Writer, ms []model.Match) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.AppendHeader(table.Row{"Opportunity", "Contractor", "Rank", "Score", "Tier", "Enrich", "Mode"})
	for _, m := range ms {
		enrich := ""
		if m.NeedsEnrichment {
			enrich = "yes"
		}
		t.AppendRow(table.Row{m.OpportunityID, m.ContractorID, m.Rank, formatScore(m), m.Tier, enrich, m.Mode})
	}
	t.Render()
}

func formatScore(m model.Match) string {
	if m.Mode == model.ModePoints {
		return fmt.Sprintf("%.0f", m.Score)
	}
	return fmt.Sprintf("%.4f", m.Score)
}

func init() {
	matchesCmd.Flags().String("opportunity", "", "filter by notice id")
	matchesCmd.Flags().String("contractor", "", "filter by contractor id")
	matchesCmd.Flags().String("min-tier", "", "minimum tier (HOT, WARM, COLD)")
	matchesCmd.Flags().Int("limit", 50, "max number of matches to display")
	rootCmd.AddCommand(matchesCmd)
}
