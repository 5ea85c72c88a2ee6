package wallet

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg"

	"btc-borrow/config"
)

// Connector reconnects the stored wallet from configuration.
type Connector struct {
	config  config.WalletConfig
	params  *chaincfg.Params
	timeout time.Duration
}

// NewConnector creates a connector for the wallet section of cfg.
func NewConnector(cfg *config.Config) *Connector {
	return &Connector{
		config:  cfg.Wallet,
		params:  cfg.ChainParams(),
		timeout: cfg.HTTPTimeout,
	}
}

// StoredType returns the wallet type to reconnect, or "" when none is stored.
func (c *Connector) StoredType() string {
	return strings.ToLower(strings.TrimSpace(c.config.Type))
}

// Connect builds a handle for the stored wallet type.
func (c *Connector) Connect(ctx context.Context) (*Handle, error) {
	walletType := c.StoredType()
	switch walletType {
	case config.WalletTypeBitcoind:
		w := NewBitcoindWallet(c.config.RPC, c.timeout)
		if err := w.Connect(ctx, c.config.PaymentAddress, c.config.PublicKey); err != nil {
			return nil, err
		}
		return NewHandle(walletType, w), nil

	case config.WalletTypeWIF:
		if c.config.WIF == "" {
			return nil, fmt.Errorf("wallet type %q requires wallet.wif", walletType)
		}
		w, err := NewKeyWallet(c.config.WIF, c.params)
		if err != nil {
			return nil, err
		}
		return NewHandle(walletType, w), nil

	case "":
		return nil, ErrNoWalletType

	default:
		return nil, fmt.Errorf("%w: unknown wallet type %q", ErrNoWalletType, walletType)
	}
}
