// Package flow drives a loan from bridge-order creation to settlement: it
// creates the order, resolves and performs the BTC payment and keeps the
// order status polled.
package flow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"btc-borrow/pkg/errclass"
	"btc-borrow/pkg/logger"
	"btc-borrow/pkg/parser"
	"btc-borrow/pkg/payment"
	"btc-borrow/pkg/psbtsign"
	"btc-borrow/pkg/status"
	"btc-borrow/pkg/types"
	"btc-borrow/pkg/wallet"
)

var (
	ErrInvalidAmount         = parser.ErrInvalidAmount
	ErrNoOfferSelected       = errors.New("no loan offer selected")
	ErrMissingReceiveAddress = errors.New("connect your Starknet wallet first")
	ErrWalletUnavailable     = errors.New("connect your Bitcoin wallet to sign the transaction")
)

// UserError is a failure after the order was created. Its message is the
// classified text shown to the user.
type UserError struct {
	Message string
	Err     error
}

func (e *UserError) Error() string {
	return e.Message
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// Backend is the bridge-order API used by the flow.
type Backend interface {
	CreateOrder(ctx context.Context, req *types.CreateOrderRequest) (*types.CreateOrderResponse, error)
	SubmitPsbt(ctx context.Context, orderID string, req *types.SubmitPsbtRequest) error
	GetOrder(ctx context.Context, orderID string) (*types.OrderDetail, error)
	RetryOrder(ctx context.Context, orderID string) error
}

// Broadcaster publishes raw transactions.
type Broadcaster interface {
	Broadcast(ctx context.Context, txHex string) (string, error)
}

// Connector reconnects the stored wallet.
type Connector interface {
	StoredType() string
	Connect(ctx context.Context) (*wallet.Handle, error)
}

// Config wires the orchestrator collaborators.
type Config struct {
	Backend     Backend
	Broadcaster Broadcaster
	Connector   Connector
	Poller      *status.Poller
	Params      *chaincfg.Params
	Logger      *zerolog.Logger
}

// Orchestrator runs loan flows. Only one flow is active at a time.
type Orchestrator struct {
	backend     Backend
	broadcaster Broadcaster
	connector   Connector
	signer      *psbtsign.Signer
	tracker     *status.Tracker
	params      *chaincfg.Params
	store       *Store
	log         zerolog.Logger

	mu     sync.Mutex
	handle *wallet.Handle
}

// NewOrchestrator creates an orchestrator from cfg.
func NewOrchestrator(cfg Config) *Orchestrator {
	log := logger.Logger
	if cfg.Logger != nil {
		log = *cfg.Logger
	}
	log = log.With().Str("component", "flow").Logger()

	poller := cfg.Poller
	if poller == nil {
		poller = status.NewPoller(cfg.Backend, status.DefaultInterval)
	}
	params := cfg.Params
	if params == nil {
		params = &chaincfg.TestNet3Params
	}

	return &Orchestrator{
		backend:     cfg.Backend,
		broadcaster: cfg.Broadcaster,
		connector:   cfg.Connector,
		signer:      psbtsign.NewSignerWithLogger(log),
		tracker:     status.NewTracker(poller.WithLogger(log)),
		params:      params,
		store:       NewStore(),
		log:         log,
	}
}

// SetWallet sets the connected wallet.
func (o *Orchestrator) SetWallet(h *wallet.Handle) {
	o.mu.Lock()
	o.handle = h
	o.mu.Unlock()
}

// Wallet returns the connected wallet, or nil.
func (o *Orchestrator) Wallet() *wallet.Handle {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.handle
}

// State returns the current flow snapshot.
func (o *Orchestrator) State() State {
	return o.store.State()
}

// Subscribe registers fn for flow state changes.
func (o *Orchestrator) Subscribe(fn func(State)) func() {
	return o.store.Subscribe(fn)
}

// InitiateRequest holds the user input of a new loan.
type InitiateRequest struct {
	AmountSats     int64
	Offer          *types.LoanOffer
	ReceiveAddress string
	WalletAddress  string
}

// InitiateLoan creates a bridge order for req, starts status polling and
// performs the payment the backend asks for. Input and backend creation
// errors leave the flow untouched. Later failures are recorded on the flow
// state and returned as *UserError; user cancellation is not an error.
func (o *Orchestrator) InitiateLoan(ctx context.Context, req InitiateRequest) (State, error) {
	if req.AmountSats <= 0 {
		return o.State(), ErrInvalidAmount
	}
	if req.Offer == nil {
		return o.State(), ErrNoOfferSelected
	}
	receive := strings.TrimSpace(req.ReceiveAddress)
	if receive == "" {
		return o.State(), ErrMissingReceiveAddress
	}
	if o.State().Sending {
		return o.State(), ErrBusy
	}

	walletAddress := strings.TrimSpace(req.WalletAddress)
	if walletAddress == "" {
		walletAddress = receive
	}

	// A failed reconnect only costs the pre-funding hints.
	h, err := o.ensureWallet(ctx)
	if err != nil {
		o.log.Debug().Err(err).Msg("continuing without bitcoin wallet")
	}

	createReq := &types.CreateOrderRequest{
		SourceAsset:      types.SourceAssetBTC,
		DestinationAsset: parser.DestinationAsset(req.Offer.Data.Collateral.Symbol),
		Amount:           strconv.FormatInt(req.AmountSats, 10),
		AmountType:       types.AmountTypeExactIn,
		ReceiveAddress:   receive,
		WalletAddress:    walletAddress,
	}
	if addr, pub, ok := h.PreFundingHints(); ok {
		createReq.BitcoinPaymentAddress = addr
		createReq.BitcoinPublicKey = pub
	}

	created, err := o.backend.CreateOrder(ctx, createReq)
	if err != nil {
		return o.State(), err
	}

	flowID := uuid.NewString()
	log := o.log.With().Str("flow_id", flowID).Str("order_id", created.OrderID).Logger()
	log.Info().Str("status", created.Status).Int64("amount_sats", req.AmountSats).
		Str("destination_asset", createReq.DestinationAsset).Msg("bridge order created")

	if _, err := o.store.Dispatch(OrderCreated{FlowID: flowID, OrderID: created.OrderID, Status: created.Status}); err != nil {
		return o.State(), err
	}

	res, resolveErr := payment.Resolve(created, req.AmountSats)
	o.track(ctx, status.Watch{
		OrderID:        created.OrderID,
		DepositAddress: res.DepositAddress,
		AmountSats:     res.AmountSats,
	})
	if resolveErr != nil {
		return o.raise(created.OrderID, resolveErr, resolveErr.Error())
	}

	if _, err := o.store.Dispatch(PaymentResolved{OrderID: created.OrderID, Resolution: res}); err != nil {
		return o.State(), err
	}
	log.Info().Str("payment", res.Payment.Kind()).Bool("legacy", res.Legacy).Msg("payment resolved")

	switch p := res.Payment.(type) {
	case payment.Address:
		if h == nil {
			// Nothing to send with; the user pays the deposit address manually.
			return o.State(), nil
		}
		return o.sendToAddress(ctx, h, created.OrderID, p)

	case payment.FundedPsbt, payment.RawPsbt:
		b64, err := payment.PsbtBase64(p)
		if err != nil {
			return o.raise(created.OrderID, err, "No PSBT data in order response")
		}
		if h == nil {
			if h, err = o.ensureWallet(ctx); err != nil {
				return o.raise(created.OrderID, err, "Reconnect your Bitcoin wallet to sign")
			}
		}
		return o.signAndSubmit(ctx, h, created.OrderID, p, b64, res.AmountSats)

	default:
		err := fmt.Errorf("%w: %s", payment.ErrUnsupportedPayment, res.Payment.Kind())
		return o.raise(created.OrderID, err, err.Error())
	}
}

// SignPending signs and submits the PSBT payment of an existing order,
// e.g. one created earlier whose signing was postponed. The order becomes
// the current flow.
func (o *Orchestrator) SignPending(ctx context.Context, orderID string, p payment.Payment) (State, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return o.State(), ErrNoOrder
	}
	if o.State().Sending {
		return o.State(), ErrBusy
	}
	signing, err := payment.RequiresSigning(p)
	if err != nil {
		return o.State(), err
	}
	if !signing {
		return o.State(), fmt.Errorf("%s payment has nothing to sign", p.Kind())
	}

	h, err := o.ensureWallet(ctx)
	if err != nil {
		return o.State(), err
	}

	b64, err := payment.PsbtBase64(p)
	if err != nil {
		return o.State(), err
	}

	if err := o.adopt(ctx, orderID); err != nil {
		return o.State(), err
	}
	if _, err := o.store.Dispatch(PaymentResolved{
		OrderID:    orderID,
		Resolution: payment.Resolution{Payment: p, DepositAddress: o.State().DepositAddress, AmountSats: o.State().AmountSats},
	}); err != nil {
		return o.State(), err
	}

	return o.signAndSubmit(ctx, h, orderID, p, b64, "")
}

// Retry asks the backend to process an order again. An empty orderID
// retries the current order; another order becomes the current flow and is
// polled.
func (o *Orchestrator) Retry(ctx context.Context, orderID string) error {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		orderID = o.State().OrderID
	}
	if orderID == "" {
		return ErrNoOrder
	}
	if err := o.backend.RetryOrder(ctx, orderID); err != nil {
		return err
	}
	o.log.Info().Str("order_id", orderID).Msg("order retry requested")
	return o.adopt(ctx, orderID)
}

// adopt makes orderID the current flow unless it already is.
func (o *Orchestrator) adopt(ctx context.Context, orderID string) error {
	if o.State().OrderID == orderID {
		return nil
	}
	if _, err := o.store.Dispatch(OrderCreated{FlowID: uuid.NewString(), OrderID: orderID}); err != nil {
		return err
	}
	o.track(ctx, status.Watch{OrderID: orderID})
	return nil
}

// Reset stops polling and discards the flow.
func (o *Orchestrator) Reset() {
	o.tracker.Stop()
	_, _ = o.store.Dispatch(Reset{})
}

// Close stops polling.
func (o *Orchestrator) Close() {
	o.tracker.Stop()
}

// Ticket returns the polling chain of the current order, or nil.
func (o *Orchestrator) Ticket() *status.Ticket {
	return o.tracker.Current()
}

func (o *Orchestrator) track(ctx context.Context, w status.Watch) {
	// Polling outlives the request that created the order.
	o.tracker.Track(context.WithoutCancel(ctx), w, func(u status.Update) {
		if _, err := o.store.Dispatch(StatusUpdated{Update: u}); err != nil {
			o.log.Warn().Err(err).Str("order_id", u.OrderID).Msg("status update rejected")
		}
	})
}

// ensureWallet returns the connected wallet, reconnecting the stored
// wallet type when none is held.
func (o *Orchestrator) ensureWallet(ctx context.Context) (*wallet.Handle, error) {
	if h := o.Wallet(); h != nil {
		return h, nil
	}
	if o.connector == nil || o.connector.StoredType() == "" {
		return nil, ErrWalletUnavailable
	}

	h, err := o.connector.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWalletUnavailable, err)
	}
	o.SetWallet(h)
	o.log.Info().Str("wallet", h.Type).Bool("has_public_key", h.Caps.HasPublicKey).Msg("bitcoin wallet reconnected")
	return h, nil
}

func (o *Orchestrator) sendToAddress(ctx context.Context, h *wallet.Handle, orderID string, p payment.Address) (State, error) {
	amount, err := strconv.ParseInt(p.AmountSats, 10, 64)
	if err != nil || amount <= 0 {
		return o.raise(orderID, ErrInvalidAmount, fmt.Sprintf("invalid deposit amount %q", p.AmountSats))
	}
	if err := o.validateAddress(p.Address); err != nil {
		return o.raise(orderID, err, err.Error())
	}

	if _, err := o.store.Dispatch(SigningStarted{OrderID: orderID}); err != nil {
		return o.State(), err
	}

	txid, err := h.Wallet.SendTransaction(ctx, p.Address, amount)
	if err == nil && strings.TrimSpace(txid) == "" {
		err = ErrNoTxID
	}
	if err != nil {
		msg, visible := errclass.Plain(err)
		return o.fail(orderID, err, msg, visible)
	}

	st, err := o.store.Dispatch(SigningCompleted{OrderID: orderID, TxID: txid})
	if err != nil {
		return st, err
	}
	o.log.Info().Str("order_id", orderID).Str("txid", txid).Msg("deposit sent")
	return st, nil
}

func (o *Orchestrator) validateAddress(address string) error {
	addr, err := btcutil.DecodeAddress(address, o.params)
	if err != nil {
		return fmt.Errorf("invalid deposit address %s: %w", address, err)
	}
	if !addr.IsForNet(o.params) {
		return fmt.Errorf("deposit address %s is not a %s address", address, o.params.Name)
	}
	return nil
}

// signAndSubmit signs, broadcasts and reports a PSBT payment. amountSats
// is mentioned in the funding guidance when known.
func (o *Orchestrator) signAndSubmit(ctx context.Context, h *wallet.Handle, orderID string, p payment.Payment, psbtBase64, amountSats string) (State, error) {
	if _, err := o.store.Dispatch(SigningStarted{OrderID: orderID}); err != nil {
		return o.State(), err
	}

	res, err := o.signer.Sign(ctx, psbtsign.Request{
		PsbtBase64: psbtBase64,
		SignInputs: payment.SignInputs(p),
		Raw:        payment.IsRaw(p),
	}, h)
	if err != nil {
		msg, visible := errclass.Classify(err, amountSats)
		return o.fail(orderID, err, msg, visible)
	}

	txid, err := o.broadcaster.Broadcast(ctx, res.RawTxHex)
	if err == nil && strings.TrimSpace(txid) == "" {
		err = ErrNoTxID
	}
	if err != nil {
		msg, visible := errclass.Classify(err, amountSats)
		return o.fail(orderID, err, msg, visible)
	}

	if _, err := o.store.Dispatch(SigningCompleted{
		OrderID:          orderID,
		TxID:             txid,
		SignedPsbtBase64: res.SignedPsbtBase64,
	}); err != nil {
		return o.State(), err
	}
	o.log.Info().Str("order_id", orderID).Str("txid", txid).Msg("deposit transaction broadcast")

	err = o.backend.SubmitPsbt(ctx, orderID, &types.SubmitPsbtRequest{
		SignedPsbtBase64: res.SignedPsbtBase64,
		SourceTxID:       txid,
	})
	if err != nil {
		// The transaction is out; the backend still detects it on chain.
		o.log.Warn().Err(err).Str("order_id", orderID).Str("txid", txid).Msg("submit psbt failed")
		msg, _ := errclass.Classify(err, amountSats)
		st, _ := o.store.Dispatch(SubmitFailed{OrderID: orderID, Message: msg})
		return st, &UserError{Message: msg, Err: err}
	}

	return o.State(), nil
}

func (o *Orchestrator) fail(orderID string, err error, msg string, visible bool) (State, error) {
	if !visible || wallet.IsCancelled(err) {
		o.log.Info().Str("order_id", orderID).Msg("payment cancelled by user")
		st, _ := o.store.Dispatch(SigningFailed{OrderID: orderID})
		return st, nil
	}

	o.log.Error().Err(err).Str("order_id", orderID).Msg("payment failed")
	st, _ := o.store.Dispatch(SigningFailed{OrderID: orderID, Message: msg})
	return st, &UserError{Message: msg, Err: err}
}

func (o *Orchestrator) raise(orderID string, err error, msg string) (State, error) {
	o.log.Error().Err(err).Str("order_id", orderID).Msg(msg)
	st, _ := o.store.Dispatch(ErrorRaised{OrderID: orderID, Message: msg})
	return st, &UserError{Message: msg, Err: err}
}
