package status

import (
	"strings"

	"btc-borrow/pkg/types"
)

// Step is a position in the five-step loan progress display.
type Step int

const (
	StepOrderCreated Step = iota + 1
	StepDetectingDeposit
	StepCollateralConversion
	StepLoanIssued
	StepPositionActive
)

// Steps lists every step in display order.
var Steps = []Step{
	StepOrderCreated,
	StepDetectingDeposit,
	StepCollateralConversion,
	StepLoanIssued,
	StepPositionActive,
}

var stepLabels = map[Step]string{
	StepOrderCreated:         "Order Created",
	StepDetectingDeposit:     "Detecting BTC Deposit",
	StepCollateralConversion: "Collateral conversion & allocation",
	StepLoanIssued:           "Loan issued",
	StepPositionActive:       "Position Active",
}

// Label returns the display label of the step.
func (s Step) Label() string {
	if label, ok := stepLabels[s]; ok {
		return label
	}
	return "Unknown"
}

// StepForStatus maps a backend order status to the progress step. Unknown
// statuses show as waiting for the deposit. No status maps to StepLoanIssued.
func StepForStatus(status string) Step {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case types.StatusCreated, types.StatusAwaitingUserSignature:
		return StepDetectingDeposit
	case types.StatusSourceSubmitted, types.StatusSourceConfirmed:
		return StepCollateralConversion
	case types.StatusSettled:
		return StepPositionActive
	default:
		return StepDetectingDeposit
	}
}

// IsTerminal reports whether the order can no longer change status.
func IsTerminal(status string) bool {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case types.StatusSettled, types.StatusFailed, types.StatusRefunded, types.StatusExpired:
		return true
	}
	return false
}
