package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"btc-borrow/pkg/logger"
	"btc-borrow/pkg/types"
)

const defaultTimeout = 30 * time.Second

// BackendError is returned for any non-2xx answer from the bridge backend.
type BackendError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *BackendError) Error() string {
	return e.Message
}

// AmplifiClient talks to the bridge backend and its loan-offer quoting service.
type AmplifiClient struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger
}

// Option configures an AmplifiClient.
type Option func(*AmplifiClient)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(a *AmplifiClient) {
		a.http = c
	}
}

// WithLogger sets the logger used for request tracing.
func WithLogger(l zerolog.Logger) Option {
	return func(a *AmplifiClient) {
		a.log = l
	}
}

// NewAmplifiClient creates a backend client rooted at baseURL (e.g. http://localhost:6969/api).
func NewAmplifiClient(baseURL string, opts ...Option) *AmplifiClient {
	c := &AmplifiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
		log:     logger.Logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateOrder creates a bridge order.
func (c *AmplifiClient) CreateOrder(ctx context.Context, req *types.CreateOrderRequest) (*types.CreateOrderResponse, error) {
	var envelope struct {
		Data *types.CreateOrderResponse `json:"data"`
	}
	if err := c.do(ctx, "create order", http.MethodPost, "/bridge/orders", req, &envelope); err != nil {
		return nil, err
	}
	if envelope.Data == nil || envelope.Data.OrderID == "" {
		return nil, fmt.Errorf("create order: empty order in response")
	}
	return envelope.Data, nil
}

// SubmitPsbt reports a signed and broadcast transaction for an order.
func (c *AmplifiClient) SubmitPsbt(ctx context.Context, orderID string, req *types.SubmitPsbtRequest) error {
	path := "/bridge/orders/" + url.PathEscape(orderID) + "/submit-psbt"
	return c.do(ctx, "submit order", http.MethodPost, path, req, nil)
}

// GetOrder fetches the current projection of an order. The backend answers
// either with {data: detail} or with the detail itself.
func (c *AmplifiClient) GetOrder(ctx context.Context, orderID string) (*types.OrderDetail, error) {
	var raw json.RawMessage
	if err := c.do(ctx, "get order", http.MethodGet, "/bridge/orders/"+url.PathEscape(orderID), nil, &raw); err != nil {
		return nil, err
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	body := []byte(raw)
	if err := json.Unmarshal(raw, &envelope); err == nil && len(envelope.Data) > 0 && string(envelope.Data) != "null" {
		body = envelope.Data
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("get order: unexpected response shape")
	}

	var detail types.OrderDetail
	if err := json.Unmarshal(trimmed, &detail); err != nil {
		return nil, fmt.Errorf("get order: failed to parse response: %w", err)
	}
	if detail.Status == "" {
		return nil, fmt.Errorf("get order: response has no status")
	}
	if detail.OrderID == "" {
		detail.OrderID = orderID
	}
	return &detail, nil
}

// ListOrders lists the bridge orders of a wallet.
func (c *AmplifiClient) ListOrders(ctx context.Context, params types.ListOrdersParams) (*types.OrderList, error) {
	if params.WalletAddress == "" {
		return nil, fmt.Errorf("wallet address is required")
	}

	q := url.Values{}
	q.Set("walletAddress", params.WalletAddress)
	if params.Page > 0 {
		q.Set("page", strconv.Itoa(params.Page))
	}
	if params.Limit > 0 {
		q.Set("limit", strconv.Itoa(params.Limit))
	}

	var list types.OrderList
	if err := c.do(ctx, "bridge orders list", http.MethodGet, "/bridge/orders?"+q.Encode(), nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// RetryOrder asks the backend to re-attempt processing of an order.
func (c *AmplifiClient) RetryOrder(ctx context.Context, orderID string) error {
	path := "/bridge/orders/" + url.PathEscape(orderID) + "/retry"
	return c.do(ctx, "retry order", http.MethodPost, path, nil, nil)
}

// GetLoanOffers queries the quoting service. Offers are returned as-is.
func (c *AmplifiClient) GetLoanOffers(ctx context.Context, params types.LoanOffersParams) (*types.LoanOffersPage, error) {
	q := url.Values{}
	q.Set("collateral", params.Collateral)
	q.Set("borrow", params.Borrow)
	if params.Mode != "" {
		q.Set("mode", params.Mode)
	}
	if params.BorrowUsd > 0 {
		q.Set("borrowUsd", strconv.FormatFloat(params.BorrowUsd, 'f', -1, 64))
	}
	if params.CollateralAmount > 0 {
		q.Set("collateralAmount", strconv.FormatFloat(params.CollateralAmount, 'f', -1, 64))
	}
	if params.TargetLtv > 0 {
		q.Set("targetLtv", strconv.FormatFloat(params.TargetLtv, 'f', -1, 64))
	}
	if params.SortBy != "" {
		q.Set("sortBy", params.SortBy)
	}
	if params.SortOrder != "" {
		q.Set("sortOrder", params.SortOrder)
	}
	if params.Page > 0 {
		q.Set("page", strconv.Itoa(params.Page))
	}
	if params.Limit > 0 {
		q.Set("limit", strconv.Itoa(params.Limit))
	}

	var page types.LoanOffersPage
	if err := c.do(ctx, "loan offers", http.MethodGet, "/offers/loan?"+q.Encode(), nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *AmplifiClient) do(ctx context.Context, op, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		reqBody, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: failed to marshal request: %w", op, err)
		}
		body = bytes.NewReader(reqBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: failed to create request: %w", op, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	requestID := uuid.NewString()
	req.Header.Set("X-Request-Id", requestID)

	c.log.Debug().
		Str("op", op).
		Str("method", method).
		Str("path", path).
		Str("request_id", requestID).
		Msg("Bridge backend request")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: request failed: %w", op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: failed to read response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		backendErr := &BackendError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(op, resp.StatusCode, respBody),
		}
		c.log.Warn().
			Str("op", op).
			Int("status_code", resp.StatusCode).
			Str("request_id", requestID).
			Msg(backendErr.Message)
		return backendErr
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%s: failed to parse response: %w", op, err)
	}
	return nil
}

// errorMessage extracts the backend-provided message, preferring "error" over
// "message", and falls back to a generic status message.
func errorMessage(op string, statusCode int, body []byte) string {
	var errorResp map[string]interface{}
	if err := json.Unmarshal(body, &errorResp); err == nil {
		if msg, ok := errorResp["error"].(string); ok && msg != "" {
			return msg
		}
		if msg, ok := errorResp["message"].(string); ok && msg != "" {
			return msg
		}
	}
	return fmt.Sprintf("%s failed: status %d", op, statusCode)
}

// IsBackendError reports whether err carries a bridge backend answer.
func IsBackendError(err error) bool {
	var be *BackendError
	return errors.As(err, &be)
}
