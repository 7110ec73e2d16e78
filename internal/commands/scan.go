package commands

import (
	"encoding/json"
	"fmt"

	"crossscanner/config"

	"github.com/spf13/cobra"
)

var (
	scanInterval string
	scanShort    int
	scanLong     int
	scanType     string
	scanSymbols  []string
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one scan pass",
	Long: `Run one scan pass over the stored symbols and print the JSON result.
Flags override the stored scan config for this pass only.

Examples:
  scanner scan
  scanner scan --interval 15m --ema-short 9 --ema-long 21
  scanner scan --type both --symbols BTCUSDT,ETHUSDT`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd.Context())
		defer stop()

		a, cleanup, err := setup(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		res := a.Service.RunScanOnce(ctx, scanOverrides(cmd))
		out, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))

		if !res.OK {
			return fmt.Errorf("scan failed: %s", res.Error)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().StringVarP(&scanInterval, "interval", "i", "", "kline interval (e.g. 5m, 1h)")
	scanCmd.Flags().IntVar(&scanShort, "ema-short", 0, "short EMA period")
	scanCmd.Flags().IntVar(&scanLong, "ema-long", 0, "long EMA period")
	scanCmd.Flags().StringVarP(&scanType, "type", "t", "", "golden, dead or both")
	scanCmd.Flags().StringSliceVarP(&scanSymbols, "symbols", "s", nil, "symbols to scan instead of the stored list")
}

// scanOverrides keeps only the flags set on the command line.
func scanOverrides(cmd *cobra.Command) config.ScanOverrides {
	var o config.ScanOverrides
	flags := cmd.Flags()
	if flags.Changed("interval") {
		o.Interval = &scanInterval
	}
	if flags.Changed("ema-short") {
		o.EMAShort = &scanShort
	}
	if flags.Changed("ema-long") {
		o.EMALong = &scanLong
	}
	if flags.Changed("type") {
		o.ScanType = &scanType
	}
	if flags.Changed("symbols") {
		o.Symbols = scanSymbols
	}
	return o
}
