package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"

	"btc-borrow/pkg/parser"
	"btc-borrow/pkg/status"
	"btc-borrow/pkg/types"
)

func printJSON(v interface{}) {
	jsonData, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(jsonData))
}

func confirm(prompt string) bool {
	reader := bufio.NewReader(os.Stdin)
	fmt.Printf("\n%s (y/N): ", prompt)

	response, err := reader.ReadString('\n')
	if err != nil {
		return false
	}

	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes"
}

func getColoredStatus(s string) string {
	s = strings.ToUpper(s)

	switch s {
	case types.StatusSettled:
		return color.GreenString(s)
	case types.StatusCreated, types.StatusAwaitingUserSignature, types.StatusSourceSubmitted, types.StatusSourceConfirmed:
		return color.YellowString(s)
	case types.StatusFailed, types.StatusExpired:
		return color.RedString(s)
	case types.StatusRefunded:
		return color.MagentaString(s)
	default:
		return s
	}
}

// displayProgress prints the five loan steps with the current one highlighted.
func displayProgress(current status.Step, failed bool) {
	for _, step := range status.Steps {
		label := fmt.Sprintf("%d. %s", step, step.Label())
		switch {
		case step < current || (step == current && step == status.StepPositionActive):
			fmt.Printf("  %s %s\n", color.GreenString("✓"), label)
		case step == current && failed:
			fmt.Printf("  %s %s\n", color.RedString("✗"), color.RedString(label))
		case step == current:
			fmt.Printf("  %s %s\n", color.YellowString("●"), color.YellowString(label))
		default:
			fmt.Printf("  %s %s\n", color.HiBlackString("○"), color.HiBlackString(label))
		}
	}
}

func displayOrder(order *types.OrderDetail) {
	fmt.Println("\n" + strings.Repeat("=", 70))
	color.Green("                        ORDER STATUS")
	fmt.Println(strings.Repeat("=", 70))

	fmt.Printf("\n  Order ID:        %s\n", color.CyanString(order.OrderID))
	fmt.Printf("  Status:          %s\n", getColoredStatus(order.Status))

	if addr := order.DepositAddress(); addr != "" {
		fmt.Printf("  Deposit Address: %s\n", addr)
	}
	if amount := parser.FormatSats(order.AmountSats()); amount != "" {
		fmt.Printf("  Amount:          %s BTC (%s sats)\n", amount, order.AmountSats())
	}
	if order.SourceTxID != "" {
		fmt.Printf("  Deposit Tx:      %s\n", color.HiBlackString(order.SourceTxID))
	}
	if order.DestinationTxID != "" {
		fmt.Printf("  Loan Tx:         %s\n", color.HiBlackString(order.DestinationTxID))
	}
	if order.ExpiresAt != "" {
		fmt.Printf("  Expires At:      %s\n", order.ExpiresAt)
	}
	if order.Error != "" {
		fmt.Printf("  Error:           %s\n", color.RedString(order.Error))
	}

	fmt.Println()
	failed := status.IsTerminal(order.Status) && !strings.EqualFold(order.Status, types.StatusSettled)
	displayProgress(status.StepForStatus(order.Status), failed)

	fmt.Println("\n" + strings.Repeat("=", 70) + "\n")
}

func displayDepositInstructions(orderID, depositAddress, amountSats string) {
	fmt.Println("\n" + strings.Repeat("=", 60))
	color.Yellow("                 DEPOSIT INSTRUCTIONS")
	fmt.Println(strings.Repeat("=", 60))

	if amount := parser.FormatSats(amountSats); amount != "" {
		fmt.Printf("\nTo fund the loan, send %s BTC (%s sats) to:\n\n", amount, amountSats)
	} else {
		fmt.Printf("\nTo fund the loan, send the collateral to:\n\n")
	}
	color.Cyan("  %s\n", depositAddress)
	fmt.Printf("\nOrder ID: %s\n", orderID)

	fmt.Println("\n" + strings.Repeat("=", 60) + "\n")
}
