package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"btc-borrow/config"
	"btc-borrow/pkg/client"
	"btc-borrow/pkg/flow"
	"btc-borrow/pkg/logger"
	"btc-borrow/pkg/parser"
	"btc-borrow/pkg/payment"
	"btc-borrow/pkg/status"
	"btc-borrow/pkg/wallet"
)

var (
	offerID     string
	receiveAddr string
	walletAddr  string
	waitForLoan bool
	noConfirm   bool
)

var borrowCmd = &cobra.Command{
	Use:   "borrow <amount>",
	Short: "Deposit BTC collateral and open a loan",
	Long: `Deposit native BTC as collateral for a loan.

The BTC is bridged to the lending chain through a bridge order. When a Bitcoin
wallet is configured the deposit is paid (or the bridge PSBT signed and
broadcast) automatically; otherwise deposit instructions are printed.

IMPORTANT:
  - You MUST specify --receive (or receive_address in config): the lending
    chain address that receives the collateral and the loan

Examples:
  btc-borrow borrow 0.01 BTC --receive 0x04a1...
  btc-borrow borrow 150000 sats --receive 0x04a1... --borrow-usd 5 --target-ltv 0.4
  btc-borrow borrow 0.01 --offer <offer-id> --receive 0x04a1... --yes`,
	Args: cobra.MinimumNArgs(1),
	Run:  runBorrow,
}

func init() {
	rootCmd.AddCommand(borrowCmd)

	borrowCmd.Flags().StringVar(&offerID, "offer", "", "Loan offer id (default: best net APY)")
	borrowCmd.Flags().StringVar(&borrowAsset, "borrow", defaultBorrow, "Asset to borrow")
	borrowCmd.Flags().Float64Var(&borrowUsd, "borrow-usd", 0, "Loan amount in USD")
	borrowCmd.Flags().Float64Var(&targetLtv, "target-ltv", 0, "Target loan-to-value ratio, e.g. 0.5")
	borrowCmd.Flags().StringVar(&receiveAddr, "receive", "", "Lending chain address receiving the collateral")
	borrowCmd.Flags().StringVar(&walletAddr, "wallet-address", "", "Wallet address owning the order (default: --receive)")
	borrowCmd.Flags().BoolVar(&waitForLoan, "wait", true, "Watch the order until it completes")
	borrowCmd.Flags().BoolVarP(&noConfirm, "yes", "y", false, "Skip confirmation prompt")
}

func runBorrow(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	jsonOutput, _ := cmd.Flags().GetBool("json")

	amountSats, err := parser.ParseCollateral(strings.Join(args, " "))
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	cfg := mustConfig()

	receive := receiveAddr
	if receive == "" {
		receive = cfg.ReceiveAddress
	}
	if strings.TrimSpace(receive) == "" {
		printError(flow.ErrMissingReceiveAddress)
		os.Exit(1)
	}

	api := newBackend(cfg)

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Fetching loan offers..."
		s.Start()
	}

	amountBTC, _ := decimal.New(amountSats, -8).Float64()
	offers, err := fetchOffers(ctx, api, amountBTC)
	if !jsonOutput {
		s.Stop()
	}
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	offer, err := selectOffer(offers, offerID)
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	if !jsonOutput {
		displayOffer(offer, amountSats, receive)
		warnLowBalance(ctx, cfg, amountSats)
	}

	if !noConfirm && !jsonOutput {
		if !confirm("Proceed with loan?") {
			fmt.Println("\nLoan cancelled.")
			os.Exit(0)
		}
	}

	orch := newOrchestrator(cfg, api)
	defer orch.Close()

	if !jsonOutput {
		s.Suffix = " Creating bridge order..."
		s.Start()
	}

	st, err := orch.InitiateLoan(ctx, flow.InitiateRequest{
		AmountSats:     amountSats,
		Offer:          offer,
		ReceiveAddress: receive,
		WalletAddress:  walletAddr,
	})
	if !jsonOutput {
		s.Stop()
	}

	if err != nil && !st.HasOrder() {
		printError(err)
		os.Exit(1)
	}

	if !jsonOutput {
		displayPayment(st, err)
	}
	if err != nil && st.SourceTxID == "" {
		if jsonOutput {
			printJSON(flowSummary(st))
		}
		os.Exit(1)
	}

	if !waitForLoan {
		if jsonOutput {
			printJSON(flowSummary(st))
		} else {
			fmt.Println("You can monitor the loan using:")
			color.Cyan("  btc-borrow status %s --watch\n", st.OrderID)
		}
		return
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

func newOrchestrator(cfg *config.Config, api *client.AmplifiClient) *flow.Orchestrator {
	log := logger.Logger
	return flow.NewOrchestrator(flow.Config{
		Backend:     api,
		Broadcaster: newExplorer(cfg),
		Connector:   wallet.NewConnector(cfg),
		Poller:      status.NewPoller(api, cfg.PollInterval),
		Params:      cfg.ChainParams(),
		Logger:      &log,
	})
}

// warnLowBalance compares the configured payment address balance with the
// collateral amount. Lookup failures are ignored.
func warnLowBalance(ctx context.Context, cfg *config.Config, amountSats int64) {
	if cfg.Wallet.PaymentAddress == "" {
		return
	}
	balance, err := newExplorer(cfg).Balance(ctx, cfg.Wallet.PaymentAddress)
	if err != nil {
		logger.Logger.Debug().Err(err).Msg("balance lookup failed")
		return
	}
	if balance.Total < amountSats {
		color.Yellow("Warning: %s holds %s BTC, less than the %s BTC collateral.\n",
			cfg.Wallet.PaymentAddress, parser.SatsToBTC(balance.Total), parser.SatsToBTC(amountSats))
	}
}

func displayPayment(st flow.State, err error) {
	fmt.Printf("\nBridge order created: %s\n", color.CyanString(st.OrderID))

	switch {
	case st.SourceTxID != "":
		color.Green("\n✓ Collateral transaction broadcast!")
		fmt.Printf("  Transaction ID: %s\n", color.CyanString(st.SourceTxID))
		if err != nil {
			color.Yellow("\n%v", err)
		}

	case err != nil:
		printError(err)
		fmt.Println("You can check the order using:")
		color.Cyan("  btc-borrow status %s\n", st.OrderID)

	case st.Payment == nil && st.DepositAddress == "":
		fmt.Println("The bridge has not prepared a payment yet. Check the order using:")
		color.Cyan("  btc-borrow status %s\n", st.OrderID)

	default:
		signing, _ := payment.RequiresSigning(st.Payment)
		if signing {
			fmt.Printf("Payment: %s\n", payment.Describe(st.Payment))
			color.Yellow("\nSigning cancelled. Sign the order later with:")
			color.Cyan("  btc-borrow sign %s --psbt <psbt>\n", st.OrderID)
			return
		}
		displayDepositInstructions(st.OrderID, st.DepositAddress, st.AmountSats)
	}
}

// waitForFlow follows the flow until the order reaches a final status, polling
// stops or ctx is cancelled.
func waitForFlow(ctx context.Context, orch *flow.Orchestrator, jsonOutput bool) flow.State {
	changed := make(chan struct{}, 1)
	unsubscribe := orch.Subscribe(func(flow.State) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	var polling <-chan struct{}
	if t := orch.Ticket(); t != nil {
		polling = t.Done()
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		fmt.Println("\nWaiting for the loan. Press Ctrl+C to stop watching.")
		fmt.Println()
		s.Start()
		defer s.Stop()
	}

	var shown status.Step
	report := func(st flow.State) {
		if jsonOutput || st.Step == 0 {
			return
		}
		if st.Step != shown {
			s.Stop()
			for step := shown + 1; step < st.Step; step++ {
				fmt.Printf("  %s %s\n", color.GreenString("✓"), step.Label())
			}
			shown = st.Step
			s.Start()
		}
		s.Lock()
		s.Suffix = fmt.Sprintf(" %s (%s)", st.Step.Label(), getColoredStatus(st.Status))
		s.Unlock()
	}

	for {
		st := orch.State()
		report(st)
		if st.Phase == flow.PhaseSettled || st.Phase == flow.PhaseFailed {
			return st
		}

		select {
		case <-changed:
		case <-polling:
			return orch.State()
		case <-ctx.Done():
			return orch.State()
		}
	}
}

func displayOutcome(st flow.State) {
	switch st.Phase {
	case flow.PhaseSettled:
		fmt.Printf("  %s %s\n", color.GreenString("✓"), status.StepPositionActive.Label())
		printSuccess(color.GreenString("✓ Loan position active! Order %s settled.", st.OrderID))

	case flow.PhaseFailed:
		color.Red("\n✗ Order %s ended with status %s", st.OrderID, st.Status)
		if st.OrderError != "" {
			color.Red("  %s", st.OrderError)
		}
		fmt.Println("\nYou can ask the bridge to retry using:")
		color.Cyan("  btc-borrow orders retry %s\n", st.OrderID)

	default:
		fmt.Println("\n\nStopped watching. Resume with:")
		color.Cyan("  btc-borrow status %s --watch\n", st.OrderID)
	}
}

func flowSummary(st flow.State) map[string]interface{} {
	out := map[string]interface{}{
		"flow_id":         st.FlowID,
		"order_id":        st.OrderID,
		"phase":           st.Phase,
		"status":          st.Status,
		"step":            int(st.Step),
		"deposit_address": st.DepositAddress,
		"amount_sats":     st.AmountSats,
	}
	if st.Payment != nil {
		out["payment"] = st.Payment.Kind()
		out["payment_action"] = payment.Describe(st.Payment)
	}
	if st.SourceTxID != "" {
		out["source_tx_id"] = st.SourceTxID
	}
	if st.Error != "" {
		out["error"] = st.Error
	}
	if st.OrderError != "" {
		out["order_error"] = st.OrderError
	}
	return out
}
