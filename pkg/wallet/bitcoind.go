package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"btc-borrow/config"
	"btc-borrow/pkg/logger"
)

// BitcoindWallet signs and pays through a bitcoind wallet over JSON-RPC.
type BitcoindWallet struct {
	config         config.RPCConfig
	client         *http.Client
	publicKey      string
	paymentAddress string
	log            zerolog.Logger
}

// NewBitcoindWallet creates a new bitcoind wallet client
func NewBitcoindWallet(cfg config.RPCConfig, timeout time.Duration) *BitcoindWallet {
	if timeout <= 0 {
		timeout = config.DefaultHTTPTimeout
	}
	return &BitcoindWallet{
		config: cfg,
		client: &http.Client{Timeout: timeout},
		log:    logger.Logger.With().Str("wallet", config.WalletTypeBitcoind).Logger(),
	}
}

// RPCRequest represents a JSON-RPC request to bitcoind
type RPCRequest struct {
	JSONRpc string        `json:"jsonrpc"`
	ID      string        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

// RPCResponse represents a JSON-RPC response from bitcoind
type RPCResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
	ID     string          `json:"id"`
}

// RPCError represents an error in the RPC response
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error (code %d): %s", e.Code, e.Message)
}

// Is reports cancelled or aborted signing as ErrUserCancelled. A locked
// wallet is a plain error.
func (e *RPCError) Is(target error) bool {
	if target != ErrUserCancelled {
		return false
	}
	msg := strings.ToLower(e.Message)
	return strings.Contains(msg, "cancel") || strings.Contains(msg, "abort")
}

// PublicKey returns the payment public key resolved at connect time.
func (b *BitcoindWallet) PublicKey() string {
	return b.publicKey
}

// PaymentAddress returns the configured payment address.
func (b *BitcoindWallet) PaymentAddress() string {
	return b.paymentAddress
}

// Connect verifies the RPC endpoint and resolves the public key of the
// payment address when it was not configured.
func (b *BitcoindWallet) Connect(ctx context.Context, paymentAddress, publicKey string) error {
	if _, err := b.callRPC(ctx, "getwalletinfo"); err != nil {
		return fmt.Errorf("bitcoind wallet unavailable: %w", err)
	}

	b.paymentAddress = paymentAddress
	b.publicKey = publicKey
	if b.publicKey != "" || paymentAddress == "" {
		return nil
	}

	info, err := b.addressInfo(ctx, paymentAddress)
	if err != nil {
		// Without a key the flow still works, only the pre-funding hints are lost.
		b.log.Warn().Err(err).Str("address", paymentAddress).Msg("could not resolve payment public key")
		return nil
	}
	b.publicKey = info.PubKey
	return nil
}

// SignPsbt asks the wallet to sign every input it owns. bitcoind does not
// accept an input filter, so inputs is only used for logging.
func (b *BitcoindWallet) SignPsbt(ctx context.Context, pkt *psbt.Packet, inputs []int) (*psbt.Packet, error) {
	encoded, err := pkt.B64Encode()
	if err != nil {
		return nil, fmt.Errorf("failed to encode psbt: %w", err)
	}

	b.log.Debug().Ints("inputs", inputs).Msg("walletprocesspsbt")

	result, err := b.callRPC(ctx, "walletprocesspsbt", encoded, true, "DEFAULT", true, false)
	if err != nil {
		return nil, fmt.Errorf("walletprocesspsbt failed: %w", err)
	}

	var processed struct {
		Psbt     string `json:"psbt"`
		Complete bool   `json:"complete"`
	}
	if err := json.Unmarshal(result, &processed); err != nil {
		return nil, fmt.Errorf("failed to parse walletprocesspsbt result: %w", err)
	}

	signed, err := psbt.NewFromRawBytes(strings.NewReader(processed.Psbt), true)
	if err != nil {
		return nil, fmt.Errorf("wallet returned an invalid psbt: %w", err)
	}
	return signed, nil
}

// SendTransaction pays amountSats to address with sendtoaddress.
func (b *BitcoindWallet) SendTransaction(ctx context.Context, address string, amountSats int64) (string, error) {
	if amountSats <= 0 {
		return "", fmt.Errorf("invalid amount: %d sats", amountSats)
	}

	// 1 BTC = 1e8 sats, sent as an exact decimal.
	amountBTC := decimal.New(amountSats, -8).StringFixed(8)

	balance, err := b.getBalance(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get wallet balance: %w", err)
	}
	if balance.LessThan(decimal.New(amountSats, -8)) {
		return "", fmt.Errorf("insufficient balance: have %s BTC, need %s BTC", balance.StringFixed(8), amountBTC)
	}

	result, err := b.callRPC(ctx, "sendtoaddress", address, json.Number(amountBTC))
	if err != nil {
		return "", fmt.Errorf("sendtoaddress failed: %w", err)
	}

	var txid string
	if err := json.Unmarshal(result, &txid); err != nil {
		return "", fmt.Errorf("failed to parse sendtoaddress result: %w", err)
	}
	if txid == "" {
		return "", fmt.Errorf("empty transaction hash returned")
	}

	b.log.Info().Str("txid", txid).Str("address", address).Int64("amount_sats", amountSats).Msg("payment sent")
	return txid, nil
}

// Accounts lists the receiving addresses of the wallet.
func (b *BitcoindWallet) Accounts(ctx context.Context) ([]Account, error) {
	result, err := b.callRPC(ctx, "listreceivedbyaddress", 0, true)
	if err != nil {
		return nil, fmt.Errorf("listreceivedbyaddress failed: %w", err)
	}

	var received []struct {
		Address string `json:"address"`
	}
	if err := json.Unmarshal(result, &received); err != nil {
		return nil, fmt.Errorf("failed to parse address list: %w", err)
	}

	accounts := make([]Account, 0, len(received))
	for _, r := range received {
		acc := Account{Address: r.Address}
		if info, err := b.addressInfo(ctx, r.Address); err == nil {
			acc.PublicKey = info.PubKey
		}
		accounts = append(accounts, acc)
	}
	return accounts, nil
}

type addressInfo struct {
	Address string `json:"address"`
	PubKey  string `json:"pubkey"`
	IsMine  bool   `json:"ismine"`
}

func (b *BitcoindWallet) addressInfo(ctx context.Context, address string) (*addressInfo, error) {
	result, err := b.callRPC(ctx, "getaddressinfo", address)
	if err != nil {
		return nil, fmt.Errorf("getaddressinfo failed: %w", err)
	}

	var info addressInfo
	if err := json.Unmarshal(result, &info); err != nil {
		return nil, fmt.Errorf("failed to parse address info: %w", err)
	}
	if !info.IsMine {
		return nil, fmt.Errorf("address %s does not belong to the wallet", address)
	}
	return &info, nil
}

func (b *BitcoindWallet) getBalance(ctx context.Context) (decimal.Decimal, error) {
	result, err := b.callRPC(ctx, "getbalance")
	if err != nil {
		return decimal.Zero, err
	}

	var balance decimal.Decimal
	if err := json.Unmarshal(result, &balance); err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse balance: %w", err)
	}
	return balance, nil
}

// callRPC makes a JSON-RPC call to bitcoind
func (b *BitcoindWallet) callRPC(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	if params == nil {
		params = []interface{}{}
	}
	rpcReq := RPCRequest{
		JSONRpc: "1.0",
		ID:      "btc-borrow",
		Method:  method,
		Params:  params,
	}

	reqBody, err := json.Marshal(rpcReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint(), bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if b.config.User != "" || b.config.Password != "" {
		req.SetBasicAuth(b.config.User, b.config.Password)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("RPC request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	// bitcoind answers RPC errors with a non-200 status and a JSON body.
	var rpcResp RPCResponse
	if jsonErr := json.Unmarshal(body, &rpcResp); jsonErr != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("RPC returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}
		return nil, fmt.Errorf("failed to parse response: %w", jsonErr)
	}

	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("RPC returned status %d", resp.StatusCode)
	}

	return rpcResp.Result, nil
}

func (b *BitcoindWallet) endpoint() string {
	base := strings.TrimRight(b.config.Host, "/")
	if !strings.Contains(base, "://") {
		base = fmt.Sprintf("http://%s:%d", base, b.config.Port)
	}
	if b.config.Wallet != "" {
		return base + "/wallet/" + url.PathEscape(b.config.Wallet)
	}
	return base + "/"
}

// IsCancelled reports whether err is a refusal by the wallet owner.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrUserCancelled)
}
