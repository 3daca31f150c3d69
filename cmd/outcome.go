package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/capture-cli/internal/model"
	"github.com/sells-group/capture-cli/internal/outcome"
)

var outcomeCmd = &cobra.Command{
	Use:   "outcome <notice-id> <contractor-id>",
	Short: "Record the result of pursuing a match",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		submitted, _ := cmd.Flags().GetBool("submitted")
		won, _ := cmd.Flags().GetBool("won")
		reason, _ := cmd.Flags().GetString("loss-reason")
		hours, _ := cmd.Flags().GetFloat64("hours")

		o := model.Outcome{
			OpportunityID: args[0],
			ContractorID:  args[1],
			Submitted:     submitted || won,
			Won:           won,
			LossReason:    reason,
			HoursSpent:    hours,
		}
		if err := outcome.Validate(o); err != nil {
			return err
		}

		st, err := openStore(ctx, "read")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		saved, err := outcome.NewRecorder(st).Record(ctx, o)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(saved)
	},
}

func init() {
	outcomeCmd.Flags().Bool("submitted", false, "a bid was submitted")
	outcomeCmd.Flags().Bool("won", false, "the bid was won (implies --submitted)")
	outcomeCmd.Flags().String("loss-reason", "", "why the bid was lost or not pursued")
	outcomeCmd.Flags().Float64("hours", 0, "hours spent on the bid")
	rootCmd.AddCommand(outcomeCmd)
}
