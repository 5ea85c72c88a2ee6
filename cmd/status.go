package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"btc-borrow/pkg/client"
	"btc-borrow/pkg/status"
)

var (
	watchStatus   bool
	watchInterval int
)

var statusCmd = &cobra.Command{
	Use:   "status <order-id>",
	Short: "Check the status of a bridge order",
	Long: `Check the progress of a loan by its bridge order id.

Examples:
  btc-borrow status 6f1c...
  btc-borrow status 6f1c... --watch
  btc-borrow status 6f1c... --watch --interval 10`,
	Args: cobra.ExactArgs(1),
	Run:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVarP(&watchStatus, "watch", "w", false, "Watch status updates until the order completes")
	statusCmd.Flags().IntVar(&watchInterval, "interval", 0, "Polling interval in seconds (default: poll_interval from config)")
}

func runStatus(cmd *cobra.Command, args []string) {
	orderID := args[0]
	jsonOutput, _ := cmd.Flags().GetBool("json")

	cfg := mustConfig()
	api := newBackend(cfg)

	if watchStatus {
		interval := cfg.PollInterval
		if watchInterval > 0 {
			interval = time.Duration(watchInterval) * time.Second
		}
		watchOrderStatus(cmd, status.NewPoller(api, interval), orderID, jsonOutput)
	} else {
		checkOrderStatus(cmd, api, orderID, jsonOutput)
	}
}

func checkOrderStatus(cmd *cobra.Command, api *client.AmplifiClient, orderID string, jsonOutput bool) {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Checking order status..."
		s.Start()
	}

	order, err := api.GetOrder(cmd.Context(), orderID)
	if !jsonOutput {
		s.Stop()
	}

	if err != nil {
		printError(err)
		os.Exit(1)
	}

	if jsonOutput {
		printJSON(order)
	} else {
		displayOrder(order)
	}
}

func watchOrderStatus(cmd *cobra.Command, poller *status.Poller, orderID string, jsonOutput bool) {
	ctx := cmd.Context()

	if !jsonOutput {
		fmt.Printf("\nWatching order %s\n", color.CyanString(orderID))
		fmt.Println("Press Ctrl+C to stop.")
	}

	updates := make(chan status.Update, 1)
	ticket := poller.Start(ctx, status.Watch{OrderID: orderID}, func(u status.Update) {
		// Keep only the newest update.
		select {
		case <-updates:
		default:
		}
		updates <- u
	})
	defer ticket.Cancel()

	var last status.Update
	for {
		select {
		case u := <-updates:
			if u.Status != last.Status || u.SourceTxID != last.SourceTxID || u.DestinationTxID != last.DestinationTxID {
				displayUpdate(u, jsonOutput)
			}
			last = u
			if u.Terminal() {
				ticket.Cancel()
				if u.Step != status.StepPositionActive {
					os.Exit(1)
				}
				return
			}

		case <-ticket.Done():
			if !jsonOutput {
				fmt.Println("\nStopped watching.")
				if err := ticket.LastError(); err != nil {
					color.Red("Last poll error: %v", err)
				}
			}
			return
		}
	}
}

func displayUpdate(u status.Update, jsonOutput bool) {
	if jsonOutput {
		printJSON(u)
		return
	}

	fmt.Printf("\n[%s] %s  %s\n", time.Now().Format("15:04:05"), getColoredStatus(u.Status), u.Step.Label())
	if u.SourceTxID != "" {
		fmt.Printf("  Deposit Tx: %s\n", color.HiBlackString(u.SourceTxID))
	}
	if u.DestinationTxID != "" {
		fmt.Printf("  Loan Tx:    %s\n", color.HiBlackString(u.DestinationTxID))
	}
	if u.Error != "" {
		fmt.Printf("  Error:      %s\n", color.RedString(u.Error))
	}
	displayProgress(u.Step, u.Terminal() && u.Step != status.StepPositionActive)
}
