// Package payment classifies the payment directive of a bridge order.
package payment

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"btc-borrow/pkg/types"
)

var (
	// ErrUnsupportedPayment is matched by errors for payment kinds this client
	// cannot act on.
	ErrUnsupportedPayment = errors.New("unsupported payment type")

	// ErrNoPaymentDirective is returned when an order has neither a payment nor
	// a legacy deposit address.
	ErrNoPaymentDirective = errors.New("order response has no payment directive or deposit address")

	// ErrNoPsbtData is returned for PSBT payments carrying neither encoding.
	ErrNoPsbtData = errors.New("no PSBT data in order response")
)

// UnsupportedError names the payment type that could not be handled.
type UnsupportedError struct {
	Type string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("unsupported payment type %q: signing cannot proceed", e.Type)
}

func (e *UnsupportedError) Is(target error) bool {
	return target == ErrUnsupportedPayment
}

// Payment is one of Address, FundedPsbt or RawPsbt.
type Payment interface {
	Kind() string
	isPayment()
}

// Address asks the user to send BTC directly; there is no signing step.
type Address struct {
	Address    string
	AmountSats string
}

// FundedPsbt is a PSBT the backend already funded.
type FundedPsbt struct {
	PsbtBase64 string
	PsbtHex    string
	SignInputs []int
}

// RawPsbt is an unfunded or partially funded PSBT that needs the Taproot
// internal key injected before the wallet signs it.
type RawPsbt struct {
	PsbtBase64  string
	PsbtHex     string
	SignInputs  []int
	In1Sequence *uint32
}

func (Address) Kind() string    { return types.PaymentAddress }
func (FundedPsbt) Kind() string { return types.PaymentFundedPsbt }
func (RawPsbt) Kind() string    { return types.PaymentRawPsbt }

func (Address) isPayment()    {}
func (FundedPsbt) isPayment() {}
func (RawPsbt) isPayment()    {}

// FromRaw converts the backend payment into its variant.
func FromRaw(raw *types.RawPayment) (Payment, error) {
	if raw == nil {
		return nil, ErrNoPaymentDirective
	}

	switch strings.ToUpper(raw.Type) {
	case types.PaymentAddress:
		return Address{Address: raw.Address, AmountSats: raw.AmountSats.String()}, nil
	case types.PaymentFundedPsbt:
		return FundedPsbt{
			PsbtBase64: raw.PsbtBase64,
			PsbtHex:    raw.PsbtHex,
			SignInputs: copyInputs(raw.SignInputs),
		}, nil
	case types.PaymentRawPsbt:
		return RawPsbt{
			PsbtBase64:  raw.PsbtBase64,
			PsbtHex:     raw.PsbtHex,
			SignInputs:  copyInputs(raw.SignInputs),
			In1Sequence: raw.In1Sequence,
		}, nil
	default:
		return nil, &UnsupportedError{Type: raw.Type}
	}
}

// Resolution is the effective payment of an order together with the normalized
// deposit address and amount.
type Resolution struct {
	Payment        Payment
	DepositAddress string
	AmountSats     string

	// Legacy is set when the payment was implied by the top-level
	// depositAddress/amountSats fields.
	Legacy bool
}

// Resolve determines the payment of a freshly created order. requestedSats is
// the amount the order was created for and is the last amount fallback. The
// deposit address and amount fallbacks are returned even when the payment
// directive is not understood.
func Resolve(resp *types.CreateOrderResponse, requestedSats int64) (Resolution, error) {
	if resp == nil {
		return Resolution{}, ErrNoPaymentDirective
	}

	var quoteAddress, quoteAmount string
	if resp.Quote != nil {
		quoteAddress = resp.Quote.DepositAddress
		quoteAmount = resp.Quote.AmountIn.String()
	}

	res := Resolution{
		DepositAddress: firstNonEmpty(resp.DepositAddress, quoteAddress),
		AmountSats:     firstNonEmpty(resp.AmountSats.String(), quoteAmount),
	}
	if res.AmountSats == "" && requestedSats > 0 {
		res.AmountSats = strconv.FormatInt(requestedSats, 10)
	}

	if resp.Payment == nil {
		if res.DepositAddress == "" {
			return Resolution{}, ErrNoPaymentDirective
		}
		res.Payment = Address{Address: res.DepositAddress, AmountSats: res.AmountSats}
		res.Legacy = true
		return res, nil
	}

	p, err := FromRaw(resp.Payment)
	if err != nil {
		return res, err
	}
	res.Payment = p

	if addr, ok := p.(Address); ok {
		res.DepositAddress = addr.Address
		if addr.AmountSats != "" {
			res.AmountSats = addr.AmountSats
		}
		res.Payment = Address{Address: res.DepositAddress, AmountSats: res.AmountSats}
	}
	return res, nil
}

// PsbtBase64 returns the PSBT of a signing payment in base64. Base64 wins when
// both encodings are present; hex is converted otherwise.
func PsbtBase64(p Payment) (string, error) {
	var b64, hexStr string
	switch v := p.(type) {
	case FundedPsbt:
		b64, hexStr = v.PsbtBase64, v.PsbtHex
	case RawPsbt:
		b64, hexStr = v.PsbtBase64, v.PsbtHex
	case Address:
		return "", fmt.Errorf("%s payment has no PSBT", v.Kind())
	default:
		return "", unsupported(p)
	}

	if b64 != "" {
		return b64, nil
	}
	if hexStr == "" {
		return "", ErrNoPsbtData
	}

	raw, err := hex.DecodeString(strings.TrimPrefix(hexStr, "0x"))
	if err != nil {
		return "", fmt.Errorf("invalid PSBT hex: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// SignInputs returns the explicit input indices to sign, or nil for all inputs.
func SignInputs(p Payment) []int {
	switch v := p.(type) {
	case FundedPsbt:
		return copyInputs(v.SignInputs)
	case RawPsbt:
		return copyInputs(v.SignInputs)
	default:
		return nil
	}
}

// RequiresSigning reports whether the payment goes through the PSBT path.
func RequiresSigning(p Payment) (bool, error) {
	switch p.(type) {
	case Address:
		return false, nil
	case FundedPsbt, RawPsbt:
		return true, nil
	default:
		return false, unsupported(p)
	}
}

// IsRaw reports whether the payment needs Taproot key injection.
func IsRaw(p Payment) bool {
	_, ok := p.(RawPsbt)
	return ok
}

// Describe returns a short human readable description.
func Describe(p Payment) string {
	switch v := p.(type) {
	case Address:
		return fmt.Sprintf("send %s sats to %s", v.AmountSats, v.Address)
	case FundedPsbt:
		return "sign the funded PSBT prepared by the bridge"
	case RawPsbt:
		return "sign the PSBT prepared by the bridge (taproot)"
	case nil:
		return "no payment"
	default:
		return unsupported(p).Error()
	}
}

func unsupported(p Payment) error {
	if p == nil {
		return &UnsupportedError{Type: "<nil>"}
	}
	return &UnsupportedError{Type: p.Kind()}
}

func copyInputs(in []int) []int {
	if len(in) == 0 {
		return nil
	}
	out := make([]int, len(in))
	copy(out, in)
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
