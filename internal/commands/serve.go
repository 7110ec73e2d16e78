package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"crossscanner/internal/app"

	"github.com/spf13/cobra"
)

var (
	serveNoSchedule bool
	serveNoRefresh  bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and periodic scans",
	Long: `Start the HTTP API, a scan pass every scan.every and the daily symbol
universe refresh. Stops gracefully on SIGINT or SIGTERM.

Routes:
  POST /api/scan         run one pass (optional JSON overrides)
  POST /api/scan/stop    cancel the running pass
  GET  /api/state        last scan state
  GET  /api/config       stored scan config (PUT to replace)
  GET  /api/symbols      stored symbol list (PUT to replace)
  GET  /healthz`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd.Context())
		defer stop()

		a, cleanup, err := setup(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		return a.Serve(ctx, app.ServeOptions{
			Schedule:       !serveNoSchedule,
			RefreshSymbols: !serveNoRefresh,
		})
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&serveNoSchedule, "no-schedule", false, "serve the API without periodic scans")
	serveCmd.Flags().BoolVar(&serveNoRefresh, "no-refresh", false, "keep the stored symbol list instead of loading all USDT perpetuals")
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
