package parser

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/shopspring/decimal"
)

// SatsPerBTC is the number of satoshis in one bitcoin.
const SatsPerBTC = 100_000_000

var (
	// ErrInvalidAmount is wrapped by every collateral amount error.
	ErrInvalidAmount = errors.New("invalid collateral amount")

	// ErrNonPositiveAmount is returned when an amount floors to zero sats or less.
	ErrNonPositiveAmount = fmt.Errorf("%w: must be a positive number of satoshis", ErrInvalidAmount)

	// ErrAmountTooLarge is returned for amounts above the 21M BTC supply.
	ErrAmountTooLarge = fmt.Errorf("%w: exceeds the maximum bitcoin supply", ErrInvalidAmount)
)

var amountPattern = regexp.MustCompile(`^(\d+\.?\d*|\.\d+)\s*([A-Z]*)$`)

// ParseCollateral parses a collateral amount into satoshis.
// Examples:
//   - "0.01" or "0.01 BTC"
//   - "150000 sats", "150000sat"
func ParseCollateral(input string) (int64, error) {
	s := strings.TrimSpace(strings.ToUpper(strings.ReplaceAll(input, ",", "")))

	matches := amountPattern.FindStringSubmatch(s)
	if matches == nil {
		return 0, fmt.Errorf("%w %q. Expected '<amount> [BTC|sats]' (e.g. '0.01 BTC' or '150000 sats')", ErrInvalidAmount, input)
	}

	value, err := decimal.NewFromString(matches[1])
	if err != nil {
		return 0, fmt.Errorf("%w %q: %w", ErrInvalidAmount, input, err)
	}

	var sats decimal.Decimal
	switch matches[2] {
	case "", "BTC":
		sats = value.Shift(8).Floor()
	case "SAT", "SATS", "SATOSHI", "SATOSHIS":
		if !value.Equal(value.Truncate(0)) {
			return 0, fmt.Errorf("%w %q: satoshi amounts must be whole numbers", ErrInvalidAmount, input)
		}
		sats = value
	default:
		return 0, fmt.Errorf("%w %q: unknown unit %s", ErrInvalidAmount, input, matches[2])
	}

	if sats.GreaterThan(decimal.NewFromInt(btcutil.MaxSatoshi)) {
		return 0, ErrAmountTooLarge
	}
	if !sats.IsPositive() {
		return 0, ErrNonPositiveAmount
	}
	return sats.IntPart(), nil
}

// BTCToSats converts a BTC amount to satoshis, flooring any sub-satoshi
// remainder. The result is only meaningful up to btcutil.MaxSatoshi.
func BTCToSats(btc decimal.Decimal) int64 {
	return btc.Shift(8).Floor().IntPart()
}

// SatsToBTC formats a satoshi amount as BTC with 8 decimals.
func SatsToBTC(sats int64) string {
	return decimal.New(sats, -8).StringFixed(8)
}

// FormatSats formats a satoshi amount string as BTC, or returns "" when it does
// not parse.
func FormatSats(sats string) string {
	d, err := decimal.NewFromString(strings.TrimSpace(sats))
	if err != nil {
		return ""
	}
	return d.Shift(-8).StringFixed(8)
}
