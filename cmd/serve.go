package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/capture-cli/internal/scorer"
	"github.com/sells-group/capture-cli/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort > 0 {
			cfg.Server.Port = servePort
		}

		st, err := openStore(ctx, "serve")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		pass, err := scorer.NewPass(st, cfg.Scoring, nil)
		if err != nil {
			return err
		}

		var drafter server.DraftRunner
		if cfg.Anthropic.Key != "" {
			drafter = newDrafter(st)
		} else {
			zap.L().Info("anthropic key not set, draft action disabled")
		}

		return server.New(st, pass, drafter, cfg.Server).ListenAndServe(ctx)
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "port to listen on (default server.port)")
	rootCmd.AddCommand(serveCmd)
}
