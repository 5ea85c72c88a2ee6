package wallet

import (
	"context"
	"errors"

	"github.com/btcsuite/btcd/btcutil/psbt"
)

var (
	// ErrUserCancelled is returned when the wallet owner declines a request.
	ErrUserCancelled = errors.New("user cancelled the request")

	// ErrSendUnsupported is returned by wallets that can only sign.
	ErrSendUnsupported = errors.New("wallet cannot send transactions")

	// ErrNoWalletType is returned when no wallet type is stored for reconnection.
	ErrNoWalletType = errors.New("no stored wallet type")
)

// Wallet is a connected bitcoin wallet able to sign PSBTs and send payments.
type Wallet interface {
	// SignPsbt signs the given inputs and returns the updated packet. The
	// packet is not finalized.
	SignPsbt(ctx context.Context, pkt *psbt.Packet, inputs []int) (*psbt.Packet, error)

	// SendTransaction pays amountSats to address and returns the txid.
	SendTransaction(ctx context.Context, address string, amountSats int64) (string, error)
}

// PublicKeyer is implemented by wallets that expose the payment public key.
type PublicKeyer interface {
	PublicKey() string
}

// PaymentAddresser is implemented by wallets that know their payment address.
type PaymentAddresser interface {
	PaymentAddress() string
}

// AccountLister is implemented by wallets that can enumerate their addresses.
type AccountLister interface {
	Accounts(ctx context.Context) ([]Account, error)
}

// Account is one address held by a wallet.
type Account struct {
	Address   string `json:"address"`
	PublicKey string `json:"publicKey,omitempty"`
}

// Capabilities are the optional features of a connected wallet.
type Capabilities struct {
	HasPublicKey    bool
	PublicKey       string
	PaymentAddress  string
	CanListAccounts bool
}

// Handle is a connected wallet together with its detected capabilities.
type Handle struct {
	Wallet Wallet
	Type   string
	Caps   Capabilities
}

// NewHandle wraps w and checks its optional interfaces once.
func NewHandle(walletType string, w Wallet) *Handle {
	h := &Handle{Wallet: w, Type: walletType}

	if pk, ok := w.(PublicKeyer); ok {
		if key := pk.PublicKey(); key != "" {
			h.Caps.HasPublicKey = true
			h.Caps.PublicKey = key
		}
	}
	if pa, ok := w.(PaymentAddresser); ok {
		h.Caps.PaymentAddress = pa.PaymentAddress()
	}
	if _, ok := w.(AccountLister); ok {
		h.Caps.CanListAccounts = true
	}

	return h
}

// PreFundingHints returns the payment address and public key when both are known.
func (h *Handle) PreFundingHints() (string, string, bool) {
	if h == nil || !h.Caps.HasPublicKey || h.Caps.PaymentAddress == "" {
		return "", "", false
	}
	return h.Caps.PaymentAddress, h.Caps.PublicKey, true
}
