package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var symbolsCmd = &cobra.Command{
	Use:   "symbols",
	Short: "Manage the stored symbol list",
}

var syncSymbolsCmd = &cobra.Command{
	Use:   "sync",
	Short: "Store every trading USDT perpetual as the symbol list",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd.Context())
		defer stop()

		a, cleanup, err := setup(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		symbols, err := a.Refresher(nil).RefreshOnce(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "stored %d symbols\n", len(symbols))
		return nil
	},
}

var listSymbolsCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the stored symbol list",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		symbols := a.Service.Symbols(cmd.Context())
		fmt.Fprintln(cmd.OutOrStdout(), strings.Join(symbols, "\n"))
		fmt.Fprintf(cmd.OutOrStdout(), "total: %d\n", len(symbols))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(symbolsCmd)
	symbolsCmd.AddCommand(syncSymbolsCmd)
	symbolsCmd.AddCommand(listSymbolsCmd)
}
