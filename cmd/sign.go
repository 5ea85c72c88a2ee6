package cmd

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"btc-borrow/pkg/flow"
	"btc-borrow/pkg/payment"
)

var (
	signPsbt   string
	signRaw    bool
	signInputs string
	signWait   bool
)

var hexPattern = regexp.MustCompile(`^(?:[0-9a-fA-F]{2})+$`)

var signCmd = &cobra.Command{
	Use:   "sign <order-id>",
	Short: "Sign and broadcast the PSBT of a bridge order",
	Long: `Sign the PSBT a bridge order asks for with the configured Bitcoin wallet,
broadcast it and report the transaction to the bridge.

Use --raw for RAW_PSBT payments: the wallet public key is then injected as the
Taproot internal key of every input before signing.

Examples:
  btc-borrow sign <order-id> --psbt cHNidP8BA...
  btc-borrow sign <order-id> --psbt 70736274ff01... --raw
  btc-borrow sign <order-id> --psbt cHNidP8BA... --inputs 0,2`,
	Args: cobra.ExactArgs(1),
	Run:  runSign,
}

func init() {
	rootCmd.AddCommand(signCmd)

	signCmd.Flags().StringVar(&signPsbt, "psbt", "", "PSBT to sign, base64 or hex (REQUIRED)")
	signCmd.Flags().BoolVar(&signRaw, "raw", false, "Treat the PSBT as RAW_PSBT (inject the Taproot internal key)")
	signCmd.Flags().StringVar(&signInputs, "inputs", "", "Comma separated input indexes to sign (default: all)")
	signCmd.Flags().BoolVar(&signWait, "wait", true, "Watch the order until it completes")
	_ = signCmd.MarkFlagRequired("psbt")
}

func runSign(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	orderID := args[0]
	jsonOutput, _ := cmd.Flags().GetBool("json")

	inputs, err := parseInputs(signInputs)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	p := signingPayment(signPsbt, signRaw, inputs)

	cfg := mustConfig()
	orch := newOrchestrator(cfg, newBackend(cfg))
	defer orch.Close()

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Signing transaction..."
		s.Start()
	}

	st, err := orch.SignPending(ctx, orderID, p)
	if !jsonOutput {
		s.Stop()
	}

	if err != nil && st.SourceTxID == "" {
		if jsonOutput {
			printJSON(map[string]string{"order_id": orderID, "error": err.Error()})
		} else {
			printError(err)
		}
		os.Exit(1)
	}
	if st.SourceTxID == "" {
		if !jsonOutput {
			color.Yellow("\nSigning cancelled.")
		}
		return
	}

	if !jsonOutput {
		displayPayment(st, err)
	}

	if !signWait {
		if jsonOutput {
			printJSON(flowSummary(st))
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

// signingPayment builds the payment to sign from a base64 or hex PSBT.
func signingPayment(psbtStr string, raw bool, inputs []int) payment.Payment {
	psbtStr = strings.TrimSpace(psbtStr)

	var b64, hexStr string
	if hexPattern.MatchString(psbtStr) {
		hexStr = psbtStr
	} else {
		b64 = psbtStr
	}

	if raw {
		return payment.RawPsbt{PsbtBase64: b64, PsbtHex: hexStr, SignInputs: inputs}
	}
	return payment.FundedPsbt{PsbtBase64: b64, PsbtHex: hexStr, SignInputs: inputs}
}

func parseInputs(s string) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}

	var inputs []int
	for _, part := range strings.Split(s, ",") {
		idx, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || idx < 0 {
			return nil, fmt.Errorf("invalid input index %q", part)
		}
		inputs = append(inputs, idx)
	}
	return inputs, nil
}
