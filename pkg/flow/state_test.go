package flow

import (
	"testing"

	"github.com/stretchr/testify/require"

	"btc-borrow/pkg/payment"
	"btc-borrow/pkg/status"
)

func created(t *testing.T) State {
	t.Helper()
	s, err := Reduce(State{Phase: PhaseIdle}, OrderCreated{FlowID: "f1", OrderID: "o1", Status: "CREATED"})
	require.NoError(t, err)
	return s
}

func TestReduceHappyPath(t *testing.T) {
	s := created(t)
	require.Equal(t, PhaseAwaitingPayment, s.Phase)
	require.Equal(t, status.StepOrderCreated, s.Step)

	s, err := Reduce(s, PaymentResolved{OrderID: "o1", Resolution: payment.Resolution{
		Payment:        payment.RawPsbt{PsbtBase64: "cHNidP8="},
		DepositAddress: "tb1pdeposit",
		AmountSats:     "1000",
	}})
	require.NoError(t, err)
	require.Equal(t, "1000", s.AmountSats)

	s, err = Reduce(s, SigningStarted{OrderID: "o1"})
	require.NoError(t, err)
	require.True(t, s.Sending)
	require.Equal(t, PhaseSending, s.Phase)

	s, err = Reduce(s, SigningCompleted{OrderID: "o1", TxID: "tx", SignedPsbtBase64: "signed"})
	require.NoError(t, err)
	require.False(t, s.Sending)
	require.Equal(t, PhaseBroadcast, s.Phase)
	require.Equal(t, "tx", s.SourceTxID)

	s, err = Reduce(s, StatusUpdated{Update: status.Update{
		OrderID: "o1", Status: "SETTLED", Step: status.StepPositionActive,
	}})
	require.NoError(t, err)
	require.Equal(t, PhaseSettled, s.Phase)
	require.Equal(t, status.StepPositionActive, s.Step)
	require.Equal(t, "tb1pdeposit", s.DepositAddress)

	s, err = Reduce(s, Reset{})
	require.NoError(t, err)
	require.Equal(t, State{Phase: PhaseIdle}, s)
}

func TestReduceRejectsIllegalTransitions(t *testing.T) {
	idle := State{Phase: PhaseIdle}

	_, err := Reduce(idle, SigningCompleted{OrderID: "o1", TxID: "tx"})
	require.ErrorIs(t, err, ErrNoOrder)

	_, err = Reduce(idle, OrderCreated{})
	require.ErrorIs(t, err, ErrNoOrder)

	s := created(t)
	_, err = Reduce(s, SigningStarted{OrderID: "other"})
	require.ErrorIs(t, err, ErrNoOrder)

	_, err = Reduce(s, SigningCompleted{OrderID: "o1", TxID: "tx"})
	require.ErrorIs(t, err, ErrNotSending)

	_, err = Reduce(s, SubmitFailed{OrderID: "o1", Message: "boom"})
	require.ErrorIs(t, err, ErrNotSending)

	sending, err := Reduce(s, SigningStarted{OrderID: "o1"})
	require.NoError(t, err)

	_, err = Reduce(sending, SigningStarted{OrderID: "o1"})
	require.ErrorIs(t, err, ErrBusy)

	_, err = Reduce(sending, OrderCreated{OrderID: "o2"})
	require.ErrorIs(t, err, ErrBusy)

	still, err := Reduce(sending, SigningCompleted{OrderID: "o1", TxID: " "})
	require.ErrorIs(t, err, ErrNoTxID)
	require.True(t, still.Sending)

	done, err := Reduce(sending, SigningCompleted{OrderID: "o1", TxID: "tx"})
	require.NoError(t, err)

	_, err = Reduce(done, SigningStarted{OrderID: "o1"})
	require.ErrorIs(t, err, ErrPaymentLocked)

	_, err = Reduce(done, PaymentResolved{OrderID: "o1"})
	require.ErrorIs(t, err, ErrPaymentLocked)
}

func TestReduceSigningFailed(t *testing.T) {
	s, err := Reduce(created(t), SigningStarted{OrderID: "o1"})
	require.NoError(t, err)

	s, err = Reduce(s, SigningFailed{OrderID: "o1", Message: "failed to sign"})
	require.NoError(t, err)
	require.False(t, s.Sending)
	require.Equal(t, PhaseAwaitingPayment, s.Phase)
	require.Equal(t, "failed to sign", s.Error)

	// A new attempt clears the error.
	s, err = Reduce(s, SigningStarted{OrderID: "o1"})
	require.NoError(t, err)
	require.Empty(t, s.Error)
}

func TestReduceStatusUpdates(t *testing.T) {
	s := created(t)

	stale, err := Reduce(s, StatusUpdated{Update: status.Update{OrderID: "old", Status: "SETTLED", Step: status.StepPositionActive}})
	require.NoError(t, err)
	require.Equal(t, s, stale)

	s, err = Reduce(s, StatusUpdated{Update: status.Update{
		OrderID:    "o1",
		Status:     "SOURCE_CONFIRMED",
		Step:       status.StepCollateralConversion,
		SourceTxID: "detected",
		Error:      "slow relayer",
	}})
	require.NoError(t, err)
	require.Equal(t, PhaseBroadcast, s.Phase)
	require.Equal(t, "detected", s.SourceTxID)
	require.Equal(t, "slow relayer", s.OrderError)
	require.Empty(t, s.Error)

	s, err = Reduce(s, StatusUpdated{Update: status.Update{OrderID: "o1", Status: "EXPIRED", Step: status.StepDetectingDeposit}})
	require.NoError(t, err)
	require.Equal(t, PhaseFailed, s.Phase)
}

func TestStoreNotifiesSubscribers(t *testing.T) {
	store := NewStore()

	var seen []Phase
	unsubscribe := store.Subscribe(func(s State) {
		seen = append(seen, s.Phase)
	})

	_, err := store.Dispatch(OrderCreated{OrderID: "o1"})
	require.NoError(t, err)

	_, err = store.Dispatch(SigningCompleted{OrderID: "o1"})
	require.ErrorIs(t, err, ErrNotSending)

	unsubscribe()
	_, err = store.Dispatch(Reset{})
	require.NoError(t, err)

	require.Equal(t, []Phase{PhaseAwaitingPayment}, seen)
	require.Equal(t, PhaseIdle, store.State().Phase)
}
