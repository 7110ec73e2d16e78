package commands

import (
	"github.com/spf13/cobra"
)

var monitorRefresh bool

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Watch the kline stream for live crossovers",
	Long: `Seed EMA state from REST history for every stored symbol, then follow
the futures kline stream and alert on crossovers as candles close.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd.Context())
		defer stop()

		a, cleanup, err := setup(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		return a.Monitor(ctx, monitorRefresh)
	},
}

func init() {
	rootCmd.AddCommand(monitorCmd)

	monitorCmd.Flags().BoolVar(&monitorRefresh, "refresh", false, "load all USDT perpetuals at startup and every UTC midnight")
}
