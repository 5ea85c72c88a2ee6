// Package broadcast publishes signed transactions through a mempool.space
// compatible REST API and reads address balances from it.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/rs/zerolog"

	"btc-borrow/pkg/logger"
)

const defaultTimeout = 30 * time.Second

// Error is a rejected broadcast or balance lookup. Its message is the
// explorer's response text verbatim.
type Error struct {
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	if e.Body != "" {
		return e.Body
	}
	if e.StatusCode >= 200 && e.StatusCode < 300 {
		return fmt.Sprintf("broadcast returned no txid: status %d", e.StatusCode)
	}
	return fmt.Sprintf("broadcast failed: status %d", e.StatusCode)
}

// Client talks to a mempool.space style explorer.
type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.http = c
	}
}

// WithLogger sets the client logger.
func WithLogger(l zerolog.Logger) Option {
	return func(cl *Client) {
		cl.log = l
	}
}

// NewClient creates an explorer client, e.g. for https://mempool.space/testnet4/api.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
		log:     logger.Logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Broadcast submits a raw transaction in hex and returns the txid reported
// by the explorer.
func (c *Client) Broadcast(ctx context.Context, txHex string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tx", strings.NewReader(txHex))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("broadcast request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.log.Warn().Int("status", resp.StatusCode).Str("body", string(body)).Msg("broadcast rejected")
		return "", &Error{StatusCode: resp.StatusCode, Body: string(body)}
	}

	txid := strings.TrimSpace(string(body))
	if txid == "" {
		c.log.Warn().Int("status", resp.StatusCode).Msg("broadcast accepted without a txid")
		return "", &Error{StatusCode: resp.StatusCode}
	}
	if _, err := chainhash.NewHashFromStr(txid); err != nil || len(txid) != 2*chainhash.HashSize {
		c.log.Warn().Str("txid", txid).Msg("explorer returned an unexpected txid")
	} else {
		c.log.Info().Str("txid", txid).Msg("transaction broadcast")
	}

	return txid, nil
}

// Balance is the spendable balance of an address in sats.
type Balance struct {
	Address   string
	Confirmed int64
	Mempool   int64
	Total     int64
}

type chainStats struct {
	FundedTxoSum int64 `json:"funded_txo_sum"`
	SpentTxoSum  int64 `json:"spent_txo_sum"`
}

type addressStats struct {
	Address      string     `json:"address"`
	ChainStats   chainStats `json:"chain_stats"`
	MempoolStats chainStats `json:"mempool_stats"`
}

// Balance returns the confirmed plus unconfirmed balance of address.
// Unknown addresses have a zero balance.
func (c *Client) Balance(ctx context.Context, address string) (Balance, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return Balance{}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/address/"+url.PathEscape(address), nil)
	if err != nil {
		return Balance{}, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Balance{}, fmt.Errorf("balance request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Balance{Address: address}, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Balance{}, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Balance{}, &Error{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var stats addressStats
	if err := json.Unmarshal(body, &stats); err != nil {
		return Balance{}, fmt.Errorf("failed to parse address stats: %w", err)
	}

	b := Balance{
		Address:   address,
		Confirmed: stats.ChainStats.FundedTxoSum - stats.ChainStats.SpentTxoSum,
		Mempool:   stats.MempoolStats.FundedTxoSum - stats.MempoolStats.SpentTxoSum,
	}
	b.Total = b.Confirmed + b.Mempool
	if b.Total < 0 {
		b.Total = 0
	}
	return b, nil
}
