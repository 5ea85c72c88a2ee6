package types

// Bridge order statuses reported by the backend.
const (
	StatusCreated               = "CREATED"
	StatusAwaitingUserSignature = "AWAITING_USER_SIGNATURE"
	StatusSourceSubmitted       = "SOURCE_SUBMITTED"
	StatusSourceConfirmed       = "SOURCE_CONFIRMED"
	StatusSettled               = "SETTLED"
	StatusFailed                = "FAILED"
	StatusRefunded              = "REFUNDED"
	StatusExpired               = "EXPIRED"
)

// Payment directive kinds.
const (
	PaymentAddress    = "ADDRESS"
	PaymentFundedPsbt = "FUNDED_PSBT"
	PaymentRawPsbt    = "RAW_PSBT"
)

const (
	AmountTypeExactIn  = "exactIn"
	AmountTypeExactOut = "exactOut"

	SourceAssetBTC = "BTC"
)

// CreateOrderRequest is the body of POST /bridge/orders.
type CreateOrderRequest struct {
	SourceAsset      string `json:"sourceAsset"`
	DestinationAsset string `json:"destinationAsset"`
	Amount           string `json:"amount"`
	AmountType       string `json:"amountType"`
	ReceiveAddress   string `json:"receiveAddress"`
	WalletAddress    string `json:"walletAddress"`

	// Pre-funding hints. Both are sent together or not at all; with them the
	// backend can answer with a funded PSBT instead of a bare deposit address.
	BitcoinPaymentAddress string `json:"bitcoinPaymentAddress,omitempty"`
	BitcoinPublicKey      string `json:"bitcoinPublicKey,omitempty"`
}

// RawPayment is the payment directive exactly as the backend sends it.
type RawPayment struct {
	Type        string  `json:"type"`
	Address     string  `json:"address,omitempty"`
	AmountSats  Sats    `json:"amountSats,omitempty"`
	PsbtBase64  string  `json:"psbtBase64,omitempty"`
	PsbtHex     string  `json:"psbtHex,omitempty"`
	SignInputs  []int   `json:"signInputs,omitempty"`
	In1Sequence *uint32 `json:"in1sequence,omitempty"`
}

// OrderQuote is the backend's quote attached to a bridge order.
type OrderQuote struct {
	AmountIn       Sats   `json:"amountIn"`
	AmountOut      string `json:"amountOut"`
	DepositAddress string `json:"depositAddress,omitempty"`
}

// CreateOrderResponse is the data of a successful order creation.
type CreateOrderResponse struct {
	OrderID        string      `json:"orderId"`
	Status         string      `json:"status"`
	Payment        *RawPayment `json:"payment,omitempty"`
	DepositAddress string      `json:"depositAddress,omitempty"`
	AmountSats     Sats        `json:"amountSats,omitempty"`
	Quote          *OrderQuote `json:"quote,omitempty"`
}

// OrderDetail is the client-side projection of a bridge order.
type OrderDetail struct {
	OrderID         string      `json:"orderId"`
	Status          string      `json:"status"`
	Quote           *OrderQuote `json:"quote,omitempty"`
	SourceTxID      string      `json:"sourceTxId,omitempty"`
	DestinationTxID string      `json:"destinationTxId,omitempty"`
	ExpiresAt       string      `json:"expiresAt,omitempty"`
	Error           string      `json:"error,omitempty"`
}

// DepositAddress returns the quote deposit address, if any.
func (o *OrderDetail) DepositAddress() string {
	if o == nil || o.Quote == nil {
		return ""
	}
	return o.Quote.DepositAddress
}

// AmountSats returns the quoted input amount, if any.
func (o *OrderDetail) AmountSats() string {
	if o == nil || o.Quote == nil {
		return ""
	}
	return o.Quote.AmountIn.String()
}

// SubmitPsbtRequest is the body of POST /bridge/orders/{id}/submit-psbt.
type SubmitPsbtRequest struct {
	SignedPsbtBase64 string `json:"signedPsbtBase64,omitempty"`
	SourceTxID       string `json:"sourceTxId,omitempty"`
}

// ListOrdersParams filters GET /bridge/orders.
type ListOrdersParams struct {
	WalletAddress string
	Page          int
	Limit         int
}

// OrderList is a page of bridge orders.
type OrderList struct {
	Data []OrderDetail  `json:"data"`
	Meta *PaginationMeta `json:"meta,omitempty"`
}

// PaginationMeta is shared by the paginated endpoints.
type PaginationMeta struct {
	Total       int  `json:"total"`
	Page        int  `json:"page"`
	Limit       int  `json:"limit"`
	TotalPages  int  `json:"totalPages"`
	HasNextPage bool `json:"hasNextPage"`
	HasPrevPage bool `json:"hasPrevPage"`
}
