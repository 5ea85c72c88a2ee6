// Package errclass turns flow errors into the message shown to the user.
package errclass

import (
	"fmt"
	"strings"
)

var signingKeywords = []string{"sign", "broadcast", "taproot", "transaction"}

// Classify returns the user-facing message for err and whether it should be
// shown at all. Cancellations by the user are silent.
func Classify(err error, amountSats string) (string, bool) {
	if err == nil {
		return "", false
	}
	return Message(err.Error(), amountSats)
}

// Message classifies a raw error message. Signing and broadcast failures get
// guidance about funding, mentioning amountSats when it is known.
func Message(msg, amountSats string) (string, bool) {
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "cancel") {
		return "", false
	}

	if !isSigningFailure(lower) {
		return msg, true
	}

	amountSats = strings.TrimSpace(amountSats)
	if amountSats == "" {
		return msg + " The PSBT may be underfunded. Ensure your Bitcoin wallet is connected before initiating and has sufficient balance.", true
	}
	return msg + fmt.Sprintf(
		" The PSBT may be underfunded: the backend must select UTXOs with sufficient balance. "+
			"Ensure your Bitcoin wallet is connected before initiating and has at least the deposit amount (%s sats).",
		amountSats,
	), true
}

// Plain applies only the cancellation rule: the message is returned
// verbatim unless the user cancelled.
func Plain(err error) (string, bool) {
	if err == nil {
		return "", false
	}
	msg := err.Error()
	if strings.Contains(strings.ToLower(msg), "cancel") {
		return "", false
	}
	return msg, true
}

func isSigningFailure(lower string) bool {
	for _, kw := range signingKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
