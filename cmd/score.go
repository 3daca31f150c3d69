package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/capture-cli/internal/model"
	"github.com/sells-group/capture-cli/internal/scorer"
	"github.com/sells-group/capture-cli/internal/store"
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Score contractors against opportunities and store the top matches",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if mode, _ := cmd.Flags().GetString("mode"); mode != "" {
			cfg.Scoring.Mode = mode
		}
		if cmd.Flags().Changed("top-k") {
			cfg.Scoring.TopK, _ = cmd.Flags().GetInt("top-k")
		}
		if wm, _ := cmd.Flags().GetString("write-mode"); wm != "" {
			cfg.Scoring.WriteMode = wm
		}

		var asOf *time.Time
		if v, _ := cmd.Flags().GetString("as-of"); v != "" {
			t, err := time.Parse("2006-01-02", v)
			if err != nil {
				return eris.Wrap(err, "score: parse --as-of")
			}
			asOf = &t
		}

		st, err := openStore(ctx, "score")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		pass, err := scorer.NewPass(st, cfg.Scoring, asOf)
		if err != nil {
			return err
		}

		active, _ := cmd.Flags().GetBool("active")
		naics, _ := cmd.Flags().GetString("naics")
		ids, _ := cmd.Flags().GetStringSlice("notice-id")
		registered, _ := cmd.Flags().GetBool("registered")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		res, err := pass.Run(ctx, scorer.PassOptions{
			Opportunities: model.OpportunityFilter{ActiveOnly: active, NAICS: naics, NoticeIDs: ids},
			Contractors:   model.ContractorFilter{RegisteredOnly: registered},
			WriteMode:     store.WriteMode(cfg.Scoring.WriteMode),
			DryRun:        dryRun,
		})
		if err != nil {
			return err
		}

		if dryRun {
			formatMatches(os.Stdout, res.Matches)
			return nil
		}
		res.Matches = nil
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

func init() {
	scoreCmd.Flags().String("mode", "", "scoring mode: weighted or points (default scoring.mode)")
	scoreCmd.Flags().Int("top-k", 0, "matches kept per opportunity, 0 = unlimited (default scoring.top_k)")
	scoreCmd.Flags().String("write-mode", "", "upsert or replace (default scoring.write_mode)")
	scoreCmd.Flags().String("as-of", "", "reference date for deadline feasibility (YYYY-MM-DD)")
	scoreCmd.Flags().Bool("active", true, "score active opportunities only")
	scoreCmd.Flags().String("naics", "", "only opportunities with this NAICS code")
	scoreCmd.Flags().StringSlice("notice-id", nil, "only these opportunities")
	scoreCmd.Flags().Bool("registered", false, "only registered contractors")
	scoreCmd.Flags().Bool("dry-run", false, "print matches without storing them")
	rootCmd.AddCommand(scoreCmd)
}
