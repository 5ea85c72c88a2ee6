package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"btc-borrow/pkg/flow"
	"btc-borrow/pkg/parser"
	"btc-borrow/pkg/types"
)

var (
	ordersWallet string
	ordersPage   int
	ordersLimit  int
	retryWatch   bool
)

var ordersCmd = &cobra.Command{
	Use:   "orders",
	Short: "Manage bridge orders",
	Long: `List your bridge orders or ask the bridge to retry a stuck one.

Examples:
  btc-borrow orders list --wallet-address 0x04a1...
  btc-borrow orders retry <order-id>
  btc-borrow orders retry <order-id> --watch`,
}

var ordersListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List bridge orders of a wallet",
	Run:     runOrdersList,
}

var ordersRetryCmd = &cobra.Command{
	Use:   "retry <order-id>",
	Short: "Retry processing of a bridge order",
	Args:  cobra.ExactArgs(1),
	Run:   runOrdersRetry,
}

func init() {
	rootCmd.AddCommand(ordersCmd)
	ordersCmd.AddCommand(ordersListCmd)
	ordersCmd.AddCommand(ordersRetryCmd)

	ordersListCmd.Flags().StringVar(&ordersWallet, "wallet-address", "", "Wallet address owning the orders (default: receive_address)")
	ordersListCmd.Flags().IntVar(&ordersPage, "page", 1, "Page number")
	ordersListCmd.Flags().IntVar(&ordersLimit, "limit", 20, "Orders per page")

	ordersRetryCmd.Flags().BoolVarP(&retryWatch, "watch", "w", false, "Follow the order after the retry until it completes")
}

func runOrdersList(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	cfg := mustConfig()
	walletAddress := ordersWallet
	if walletAddress == "" {
		walletAddress = cfg.ReceiveAddress
	}
	if walletAddress == "" {
		printError(fmt.Errorf("--wallet-address is required (or set receive_address in config)"))
		os.Exit(1)
	}

	api := newBackend(cfg)

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Fetching orders..."
		s.Start()
	}

	list, err := api.ListOrders(cmd.Context(), types.ListOrdersParams{
		WalletAddress: walletAddress,
		Page:          ordersPage,
		Limit:         ordersLimit,
	})
	if !jsonOutput {
		s.Stop()
	}

	if err != nil {
		printError(err)
		os.Exit(1)
	}

	if jsonOutput {
		printJSON(list)
	} else {
		displayOrders(list)
	}
}

func runOrdersRetry(cmd *cobra.Command, args []string) {
	orderID := args[0]
	jsonOutput, _ := cmd.Flags().GetBool("json")
	ctx := cmd.Context()

	cfg := mustConfig()
	orch := newOrchestrator(cfg, newBackend(cfg))
	defer orch.Close()

	if err := orch.Retry(ctx, orderID); err != nil {
		printError(err)
		os.Exit(1)
	}

	if !retryWatch {
		if jsonOutput {
			printJSON(map[string]string{"order_id": orderID, "status": "retry_requested"})
			return
		}
		printSuccess(color.GreenString("✓ Retry requested for order %s", orderID))
		fmt.Println("You can monitor the order using:")
		color.Cyan("  btc-borrow status %s --watch\n", orderID)
		return
	}

	if !jsonOutput {
		printSuccess(color.GreenString("✓ Retry requested for order %s", orderID))
	}
	final := waitForFlow(ctx, orch, jsonOutput)
	if jsonOutput {
		printJSON(flowSummary(final))
	} else {
		displayOutcome(final)
	}
	if final.Phase == flow.PhaseFailed {
		os.Exit(1)
	}
}

func displayOrders(list *types.OrderList) {
	if len(list.Data) == 0 {
		fmt.Println("\nNo orders found.")
		return
	}

	fmt.Println("\n" + strings.Repeat("=", 90))
	color.Green("                                 BRIDGE ORDERS")
	fmt.Println(strings.Repeat("=", 90))

	fmt.Printf("\n  %-38s %-25s %-14s %s\n", "ORDER ID", "STATUS", "AMOUNT (BTC)", "DEPOSIT TX")
	fmt.Println(strings.Repeat("-", 90))

	for _, order := range list.Data {
		txid := order.SourceTxID
		if len(txid) > 16 {
			txid = txid[:8] + "..." + txid[len(txid)-5:]
		}
		fmt.Printf("  %-38s %-25s %-14s %s\n",
			order.OrderID,
			getColoredStatus(order.Status),
			parser.FormatSats(order.AmountSats()),
			color.HiBlackString(txid))
	}

	fmt.Println("\n" + strings.Repeat("=", 90))
	if m := list.Meta; m != nil {
		fmt.Printf("\nPage %d of %d (%d orders)\n\n", m.Page, m.TotalPages, m.Total)
	} else {
		fmt.Printf("\nTotal: %d orders\n\n", len(list.Data))
	}
}
