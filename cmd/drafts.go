package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/spf13/cobra"

	"github.com/sells-group/capture-cli/internal/model"
	"github.com/sells-group/capture-cli/internal/outreach"
	"github.com/sells-group/capture-cli/internal/store"
	"github.com/sells-group/capture-cli/pkg/anthropic"
)

var draftsCmd = &cobra.Command{
	Use:   "drafts",
	Short: "Draft outreach emails for high-scoring matches",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		opp, _ := cmd.Flags().GetString("opportunity")
		limit, _ := cmd.Flags().GetInt("limit")

		st, err := openStore(ctx, "drafts")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		res, err := newDrafter(st).Run(ctx, model.MatchFilter{OpportunityID: opp, Limit: limit})
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

// newDrafter builds the outreach drafter. Without an API key the drafter
// has no client and skips every run. Retries are handled by the drafter.
func newDrafter(st store.Store) *outreach.Drafter {
	var client anthropic.Client
	if cfg.Anthropic.Key != "" {
		client = anthropic.NewClient(cfg.Anthropic.Key, option.WithMaxRetries(0))
	}
	return outreach.NewDrafter(client, st, cfg.Anthropic.Model, cfg.Outreach)
}

func init() {
	draftsCmd.Flags().String("opportunity", "", "only matches of this notice id")
	draftsCmd.Flags().Int("limit", 0, "max matches to consider, 0 = all")
	rootCmd.AddCommand(draftsCmd)
}
