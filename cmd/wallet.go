package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"btc-borrow/pkg/wallet"
)

var walletCmd = &cobra.Command{
	Use:   "wallet",
	Short: "Show the configured Bitcoin wallet",
	Long: `Connect the configured Bitcoin wallet and show what it offers: its public
key and payment address (sent to the bridge so it can prepare a funded PSBT)
and its receiving accounts.

Examples:
  btc-borrow wallet
  btc-borrow wallet --json`,
	Run: runWallet,
}

func init() {
	rootCmd.AddCommand(walletCmd)
}

func runWallet(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	jsonOutput, _ := cmd.Flags().GetBool("json")

	cfg := mustConfig()

	h, err := wallet.NewConnector(cfg).Connect(ctx)
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	var accounts []wallet.Account
	if lister, ok := h.Wallet.(wallet.AccountLister); ok {
		if accounts, err = lister.Accounts(ctx); err != nil {
			printError(err)
			os.Exit(1)
		}
	}

	_, _, prefunded := h.PreFundingHints()

	if jsonOutput {
		printJSON(map[string]interface{}{
			"type":            h.Type,
			"network":         cfg.Network,
			"public_key":      h.Caps.PublicKey,
			"payment_address": h.Caps.PaymentAddress,
			"funded_psbt":     prefunded,
			"accounts":        accounts,
		})
		return
	}

	fmt.Println("\n" + strings.Repeat("=", 70))
	color.Green("                          BITCOIN WALLET")
	fmt.Println(strings.Repeat("=", 70))

	fmt.Printf("\n  Type:            %s\n", h.Type)
	fmt.Printf("  Network:         %s\n", cfg.Network)
	if h.Caps.HasPublicKey {
		fmt.Printf("  Public Key:      %s\n", color.HiBlackString(h.Caps.PublicKey))
	}
	if h.Caps.PaymentAddress != "" {
		fmt.Printf("  Payment Address: %s\n", color.CyanString(h.Caps.PaymentAddress))
	}
	if prefunded {
		fmt.Printf("  Funded PSBT:     %s\n", color.GreenString("yes"))
	} else {
		fmt.Printf("  Funded PSBT:     %s\n", color.YellowString("no (public key and payment address required)"))
	}

	if len(accounts) > 0 {
		color.Cyan("\nACCOUNTS")
		fmt.Println(strings.Repeat("-", 70))
		for _, acc := range accounts {
			fmt.Printf("  %s\n", acc.Address)
		}
	}

	fmt.Println("\n" + strings.Repeat("=", 70) + "\n")
}
