package flow

import (
	"errors"
	"fmt"
	"strings"

	"btc-borrow/pkg/payment"
	"btc-borrow/pkg/status"
)

var (
	// ErrNoOrder is returned for events that need an order the flow does not hold.
	ErrNoOrder = errors.New("no order in flow")

	// ErrBusy is returned when a payment is already being signed or sent.
	ErrBusy = errors.New("a payment is already in progress")

	// ErrPaymentLocked is returned when the payment was already sent and
	// can no longer change.
	ErrPaymentLocked = errors.New("payment already submitted")

	// ErrNotSending is returned when a signing result arrives without a
	// signing operation in progress.
	ErrNotSending = errors.New("no payment in progress")

	// ErrNoTxID is returned when a payment completes without a transaction id.
	ErrNoTxID = errors.New("payment returned no transaction id")
)

// Phase is the coarse position of the flow.
type Phase string

const (
	PhaseIdle            Phase = "idle"
	PhaseAwaitingPayment Phase = "awaiting_payment"
	PhaseSending         Phase = "sending"
	PhaseBroadcast       Phase = "broadcast"
	PhaseSettled         Phase = "settled"
	PhaseFailed          Phase = "failed"
)

// State is an immutable snapshot of one loan flow.
type State struct {
	FlowID  string
	OrderID string
	Phase   Phase

	DepositAddress string
	AmountSats     string
	Payment        payment.Payment

	Status string
	Step   status.Step

	Sending          bool
	SourceTxID       string
	SignedPsbtBase64 string

	// Error is the user-facing error of the flow, OrderError the one
	// reported by the backend for the order.
	Error      string
	OrderError string
}

// HasOrder reports whether the flow holds an order.
func (s State) HasOrder() bool {
	return s.OrderID != ""
}

// Event is an input to Reduce.
type Event interface {
	isEvent()
}

// OrderCreated starts a new flow, replacing any previous state.
type OrderCreated struct {
	FlowID  string
	OrderID string
	Status  string
}

// PaymentResolved records the payment the backend asks for.
type PaymentResolved struct {
	OrderID    string
	Resolution payment.Resolution
}

// SigningStarted marks the start of signing or sending.
type SigningStarted struct {
	OrderID string
}

// SigningCompleted records the broadcast transaction.
type SigningCompleted struct {
	OrderID          string
	TxID             string
	SignedPsbtBase64 string
}

// SigningFailed ends a signing attempt. An empty Message means the
// failure is not shown, as for user cancellation.
type SigningFailed struct {
	OrderID string
	Message string
}

// SubmitFailed records a failed report to the backend after broadcast.
type SubmitFailed struct {
	OrderID string
	Message string
}

// ErrorRaised records an error outside of signing.
type ErrorRaised struct {
	OrderID string
	Message string
}

// StatusUpdated applies a poll result.
type StatusUpdated struct {
	Update status.Update
}

// Reset discards the flow.
type Reset struct{}

func (OrderCreated) isEvent()     {}
func (PaymentResolved) isEvent()  {}
func (SigningStarted) isEvent()   {}
func (SigningCompleted) isEvent() {}
func (SigningFailed) isEvent()    {}
func (SubmitFailed) isEvent()     {}
func (ErrorRaised) isEvent()      {}
func (StatusUpdated) isEvent()    {}
func (Reset) isEvent()            {}

// Reduce returns the state that follows s after ev. Illegal transitions
// return s unchanged with an error. Status updates for another order are
// ignored.
func Reduce(s State, ev Event) (State, error) {
	switch e := ev.(type) {
	case OrderCreated:
		if e.OrderID == "" {
			return s, ErrNoOrder
		}
		if s.Sending {
			return s, ErrBusy
		}
		return State{
			FlowID:  e.FlowID,
			OrderID: e.OrderID,
			Phase:   PhaseAwaitingPayment,
			Status:  e.Status,
			Step:    status.StepOrderCreated,
		}, nil

	case PaymentResolved:
		if err := checkOrder(s, e.OrderID); err != nil {
			return s, err
		}
		if s.Sending {
			return s, ErrBusy
		}
		if s.SourceTxID != "" {
			return s, ErrPaymentLocked
		}
		s.Payment = e.Resolution.Payment
		s.DepositAddress = e.Resolution.DepositAddress
		s.AmountSats = e.Resolution.AmountSats
		return s, nil

	case SigningStarted:
		if err := checkOrder(s, e.OrderID); err != nil {
			return s, err
		}
		if s.Sending {
			return s, ErrBusy
		}
		if s.SourceTxID != "" {
			return s, ErrPaymentLocked
		}
		s.Sending = true
		s.Phase = PhaseSending
		s.Error = ""
		return s, nil

	case SigningCompleted:
		if err := checkOrder(s, e.OrderID); err != nil {
			return s, err
		}
		if !s.Sending {
			return s, ErrNotSending
		}
		if strings.TrimSpace(e.TxID) == "" {
			return s, ErrNoTxID
		}
		s.Sending = false
		s.SourceTxID = e.TxID
		s.SignedPsbtBase64 = e.SignedPsbtBase64
		if s.Phase == PhaseSending {
			s.Phase = PhaseBroadcast
		}
		return s, nil

	case SigningFailed:
		if err := checkOrder(s, e.OrderID); err != nil {
			return s, err
		}
		if !s.Sending {
			return s, ErrNotSending
		}
		s.Sending = false
		s.Error = e.Message
		if s.Phase == PhaseSending {
			s.Phase = PhaseAwaitingPayment
		}
		return s, nil

	case SubmitFailed:
		if err := checkOrder(s, e.OrderID); err != nil {
			return s, err
		}
		if s.SourceTxID == "" {
			return s, fmt.Errorf("%w: nothing was broadcast", ErrNotSending)
		}
		s.Error = e.Message
		return s, nil

	case ErrorRaised:
		if err := checkOrder(s, e.OrderID); err != nil {
			return s, err
		}
		s.Error = e.Message
		return s, nil

	case StatusUpdated:
		u := e.Update
		if !s.HasOrder() || u.OrderID != s.OrderID {
			return s, nil
		}
		s.Status = u.Status
		s.Step = u.Step
		s.OrderError = u.Error
		if u.DepositAddress != "" {
			s.DepositAddress = u.DepositAddress
		}
		if u.AmountSats != "" {
			s.AmountSats = u.AmountSats
		}
		if s.SourceTxID == "" && u.SourceTxID != "" && !s.Sending {
			s.SourceTxID = u.SourceTxID
		}
		switch {
		case u.Step == status.StepPositionActive:
			s.Phase = PhaseSettled
		case status.IsTerminal(u.Status):
			s.Phase = PhaseFailed
		case s.Phase == PhaseAwaitingPayment && s.SourceTxID != "":
			s.Phase = PhaseBroadcast
		}
		return s, nil

	case Reset:
		return State{Phase: PhaseIdle}, nil

	default:
		return s, fmt.Errorf("unknown flow event %T", ev)
	}
}

func checkOrder(s State, orderID string) error {
	if !s.HasOrder() {
		return ErrNoOrder
	}
	if orderID != s.OrderID {
		return fmt.Errorf("%w: event for order %s, flow holds %s", ErrNoOrder, orderID, s.OrderID)
	}
	return nil
}
