package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"btc-borrow/config"
	"btc-borrow/pkg/parser"
	"btc-borrow/pkg/wallet"
)

var balanceCmd = &cobra.Command{
	Use:   "balance [address]",
	Short: "Show the BTC balance of the payment address",
	Long: `Show the confirmed and unconfirmed balance of a Bitcoin address.

Without an address the payment address of the configured wallet is used.

Examples:
  btc-borrow balance
  btc-borrow balance tb1p...`,
	Args: cobra.MaximumNArgs(1),
	Run:  runBalance,
}

func init() {
	rootCmd.AddCommand(balanceCmd)
}

func runBalance(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	jsonOutput, _ := cmd.Flags().GetBool("json")

	cfg := mustConfig()

	address := ""
	if len(args) == 1 {
		address = strings.TrimSpace(args[0])
	}
	if address == "" {
		var err error
		if address, err = paymentAddress(cmd, cfg); err != nil {
			printError(err)
			os.Exit(1)
		}
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Fetching balance..."
		s.Start()
	}

	balance, err := newExplorer(cfg).Balance(ctx, address)
	if !jsonOutput {
		s.Stop()
	}

	if err != nil {
		printError(err)
		os.Exit(1)
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"address":        balance.Address,
			"confirmed_sats": balance.Confirmed,
			"mempool_sats":   balance.Mempool,
			"total_sats":     balance.Total,
		})
		return
	}

	fmt.Println("\n" + strings.Repeat("=", 60))
	color.Green("                       BTC BALANCE")
	fmt.Println(strings.Repeat("=", 60))

	fmt.Printf("\n  Address:     %s\n", color.CyanString(balance.Address))
	fmt.Printf("  Confirmed:   %s BTC\n", parser.SatsToBTC(balance.Confirmed))
	fmt.Printf("  Unconfirmed: %s BTC\n", parser.SatsToBTC(balance.Mempool))
	fmt.Printf("  Total:       %s BTC\n", color.YellowString(parser.SatsToBTC(balance.Total)))

	fmt.Println("\n" + strings.Repeat("=", 60) + "\n")
}

// paymentAddress returns the configured payment address, asking the wallet
// for it when none is configured.
func paymentAddress(cmd *cobra.Command, cfg *config.Config) (string, error) {
	if cfg.Wallet.PaymentAddress != "" {
		return cfg.Wallet.PaymentAddress, nil
	}

	h, err := wallet.NewConnector(cfg).Connect(cmd.Context())
	if err != nil {
		return "", fmt.Errorf("no address given and wallet unavailable: %w", err)
	}
	if h.Caps.PaymentAddress == "" {
		return "", fmt.Errorf("wallet %s has no payment address; pass one explicitly", h.Type)
	}
	return h.Caps.PaymentAddress, nil
}
