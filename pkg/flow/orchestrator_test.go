package flow

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"btc-borrow/pkg/broadcast"
	"btc-borrow/pkg/client"
	"btc-borrow/pkg/payment"
	"btc-borrow/pkg/psbtsign"
	"btc-borrow/pkg/status"
	"btc-borrow/pkg/types"
	"btc-borrow/pkg/wallet"
)

var testParams = &chaincfg.TestNet3Params

func testKey(seed byte) *btcec.PrivateKey {
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = seed
	}
	key, _ := btcec.PrivKeyFromBytes(raw)
	return key
}

// rawPsbt builds the unfunded-style PSBT a backend returns for RAW_PSBT:
// it spends a BIP-86 output of key and carries no taproot metadata.
func rawPsbt(t *testing.T, key *btcec.PrivateKey, depositSats int64) string {
	t.Helper()
	own, err := wallet.TaprootScript(key.PubKey())
	require.NoError(t, err)
	deposit, err := wallet.TaprootScript(testKey(0x99).PubKey())
	require.NoError(t, err)

	prev := chainhash.DoubleHashH([]byte("wallet utxo"))
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&prev, 0), nil, nil))
	tx.AddTxOut(wire.NewTxOut(depositSats, deposit))
	tx.AddTxOut(wire.NewTxOut(5000-depositSats-300, own))

	pkt, err := psbt.NewFromUnsignedTx(tx)
	require.NoError(t, err)
	pkt.Inputs[0].WitnessUtxo = wire.NewTxOut(5000, own)

	encoded, err := pkt.B64Encode()
	require.NoError(t, err)
	return encoded
}

// inspectingWallet records what the key wallet was asked to sign.
type inspectingWallet struct {
	*wallet.KeyWallet

	inputs      []int
	internalKey []byte
	sighash     txscript.SigHashType
}

func (w *inspectingWallet) SignPsbt(ctx context.Context, pkt *psbt.Packet, inputs []int) (*psbt.Packet, error) {
	w.inputs = inputs
	w.internalKey = append([]byte(nil), pkt.Inputs[0].TaprootInternalKey...)
	w.sighash = pkt.Inputs[0].SighashType
	return w.KeyWallet.SignPsbt(ctx, pkt, inputs)
}

// fakeBackend is an in-memory bridge backend.
type fakeBackend struct {
	t *testing.T

	mu         sync.Mutex
	createReqs []map[string]interface{}
	response   map[string]interface{}
	createErr  int
	submits    []types.SubmitPsbtRequest
	submitErr  bool
	retries    []string
	status     string
}

func (b *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/api")
	switch {
	case r.Method == http.MethodPost && path == "/bridge/orders":
		var req map[string]interface{}
		require.NoError(b.t, json.NewDecoder(r.Body).Decode(&req))
		b.createReqs = append(b.createReqs, req)
		if b.createErr != 0 {
			w.WriteHeader(b.createErr)
			_, _ = w.Write([]byte(`{"error":"Pool is paused"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": b.response})

	case r.Method == http.MethodPost && strings.HasSuffix(path, "/submit-psbt"):
		var req types.SubmitPsbtRequest
		require.NoError(b.t, json.NewDecoder(r.Body).Decode(&req))
		b.submits = append(b.submits, req)
		if b.submitErr {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"message":"submit unavailable"}`))
			return
		}
		b.status = types.StatusSettled
		_, _ = w.Write([]byte(`{"ok":true}`))

	case r.Method == http.MethodPost && strings.HasSuffix(path, "/retry"):
		b.retries = append(b.retries, strings.TrimSuffix(strings.TrimPrefix(path, "/bridge/orders/"), "/retry"))

	case r.Method == http.MethodGet && strings.HasPrefix(path, "/bridge/orders/"):
		st := b.status
		if st == "" {
			st = types.StatusAwaitingUserSignature
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{"orderId": strings.TrimPrefix(path, "/bridge/orders/"), "status": st},
		})

	default:
		http.NotFound(w, r)
	}
}

func (b *fakeBackend) Submits() []types.SubmitPsbtRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]types.SubmitPsbtRequest(nil), b.submits...)
}

// fakeMempool accepts any well-formed transaction and answers its txid.
type fakeMempool struct {
	mu     sync.Mutex
	txs    []*wire.MsgTx
	reject string
}

func (m *fakeMempool) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	if m.reject != "" {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(m.reject))
		return
	}

	raw, err := hex.DecodeString(string(body))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	m.txs = append(m.txs, &tx)
	m.mu.Unlock()
	_, _ = w.Write([]byte(tx.TxHash().String()))
}

type harness struct {
	orch    *Orchestrator
	backend *fakeBackend
	mempool *fakeMempool
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	backend := &fakeBackend{t: t}
	mempool := &fakeMempool{}

	backendSrv := httptest.NewServer(backend)
	t.Cleanup(backendSrv.Close)
	mempoolSrv := httptest.NewServer(mempool)
	t.Cleanup(mempoolSrv.Close)

	nop := zerolog.Nop()
	api := client.NewAmplifiClient(backendSrv.URL+"/api", client.WithLogger(nop))
	orch := NewOrchestrator(Config{
		Backend:     api,
		Broadcaster: broadcast.NewClient(mempoolSrv.URL, broadcast.WithLogger(nop)),
		Poller:      status.NewPoller(api, 10*time.Millisecond),
		Params:      testParams,
		Logger:      &nop,
	})
	t.Cleanup(orch.Close)

	return &harness{orch: orch, backend: backend, mempool: mempool}
}

func wbtcOffer() *types.LoanOffer {
	return &types.LoanOffer{
		Protocol: "vesu",
		Data: types.LoanOfferData{
			OfferID:    "offer-1",
			Collateral: types.Asset{Symbol: "BTC", Decimals: 8},
			Borrow:     types.Asset{Symbol: "USDC", Decimals: 6},
		},
	}
}

func TestInitiateLoanRawPsbtEndToEnd(t *testing.T) {
	h := newHarness(t)
	key := testKey(0x42)
	kw := &inspectingWallet{KeyWallet: wallet.NewKeyWalletFromKey(key, testParams)}
	h.orch.SetWallet(wallet.NewHandle("wif", kw))

	h.backend.response = map[string]interface{}{
		"orderId": "ord-1",
		"status":  types.StatusAwaitingUserSignature,
		"payment": map[string]interface{}{
			"type":       types.PaymentRawPsbt,
			"psbtBase64": rawPsbt(t, key, 1000),
			"signInputs": []int{0},
		},
	}

	st, err := h.orch.InitiateLoan(context.Background(), InitiateRequest{
		AmountSats:     1000,
		Offer:          wbtcOffer(),
		ReceiveAddress: "0x04a1",
	})
	require.NoError(t, err)

	// Pre-funding hints were sent with the order.
	require.Len(t, h.backend.createReqs, 1)
	req := h.backend.createReqs[0]
	require.Equal(t, "BTC", req["sourceAsset"])
	require.Equal(t, "WBTC", req["destinationAsset"])
	require.Equal(t, "1000", req["amount"])
	require.Equal(t, "exactIn", req["amountType"])
	require.Equal(t, "0x04a1", req["walletAddress"])
	require.Equal(t, kw.PaymentAddress(), req["bitcoinPaymentAddress"])
	pub, _ := req["bitcoinPublicKey"].(string)
	require.Len(t, pub, 66)
	require.Equal(t, kw.PublicKey(), pub)

	// The broadcast transaction was reported back.
	require.Len(t, h.mempool.txs, 1)
	txid := h.mempool.txs[0].TxHash().String()
	require.Equal(t, txid, st.SourceTxID)

	submits := h.backend.Submits()
	require.Len(t, submits, 1)
	require.Equal(t, txid, submits[0].SourceTxID)
	require.Equal(t, st.SignedPsbtBase64, submits[0].SignedPsbtBase64)

	// The wallet saw input 0 with the injected taproot key.
	require.Equal(t, []int{0}, kw.inputs)
	require.Equal(t, schnorr.SerializePubKey(key.PubKey()), kw.internalKey)
	require.Equal(t, txscript.SigHashDefault, kw.sighash)

	signed, err := psbt.NewFromRawBytes(strings.NewReader(submits[0].SignedPsbtBase64), true)
	require.NoError(t, err)
	require.NotEmpty(t, signed.Inputs[0].FinalScriptWitness)

	require.Eventually(t, func() bool {
		s := h.orch.State()
		return s.Step == status.StepPositionActive && s.Phase == PhaseSettled
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, "ord-1", h.orch.State().OrderID)
	require.NotEmpty(t, h.orch.State().FlowID)
}

func TestInitiateLoanRejectsInputWithoutNetwork(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name   string
		req    InitiateRequest
		target error
	}{
		{"zero amount", InitiateRequest{AmountSats: 0, Offer: wbtcOffer(), ReceiveAddress: "0x1"}, ErrInvalidAmount},
		{"negative amount", InitiateRequest{AmountSats: -5, Offer: wbtcOffer(), ReceiveAddress: "0x1"}, ErrInvalidAmount},
		{"no offer", InitiateRequest{AmountSats: 1000, ReceiveAddress: "0x1"}, ErrNoOfferSelected},
		{"no receive address", InitiateRequest{AmountSats: 1000, Offer: wbtcOffer(), ReceiveAddress: " "}, ErrMissingReceiveAddress},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			st, err := h.orch.InitiateLoan(context.Background(), tc.req)
			require.ErrorIs(t, err, tc.target)
			require.False(t, st.HasOrder())
		})
	}
	require.Empty(t, h.backend.createReqs)
}

func TestInitiateLoanBackendErrorLeavesNoFlow(t *testing.T) {
	h := newHarness(t)
	h.backend.createErr = http.StatusConflict

	st, err := h.orch.InitiateLoan(context.Background(), InitiateRequest{
		AmountSats: 1000, Offer: wbtcOffer(), ReceiveAddress: "0x1",
	})
	require.EqualError(t, err, "Pool is paused")
	require.True(t, client.IsBackendError(err))
	require.False(t, st.HasOrder())
	require.Nil(t, h.orch.Ticket())

	// Without a wallet no hints are sent.
	_, hasHint := h.backend.createReqs[0]["bitcoinPublicKey"]
	require.False(t, hasHint)
}

func TestInitiateLoanLegacyAddressWithoutWallet(t *testing.T) {
	h := newHarness(t)
	h.backend.response = map[string]interface{}{
		"orderId":        "ord-2",
		"status":         types.StatusCreated,
		"depositAddress": "tb1qdeposit",
		"amountSats":     "1000",
	}

	st, err := h.orch.InitiateLoan(context.Background(), InitiateRequest{
		AmountSats: 1000, Offer: wbtcOffer(), ReceiveAddress: "0x1",
	})
	require.NoError(t, err)
	require.Equal(t, payment.Address{Address: "tb1qdeposit", AmountSats: "1000"}, st.Payment)
	require.Equal(t, PhaseAwaitingPayment, st.Phase)
	require.NotNil(t, h.orch.Ticket())
	require.Equal(t, "ord-2", h.orch.Ticket().OrderID())
}

type sendWallet struct {
	mu    sync.Mutex
	sent  []string
	err   error
	txid  string
	calls int
}

func (w *sendWallet) SignPsbt(context.Context, *psbt.Packet, []int) (*psbt.Packet, error) {
	return nil, errors.New("not implemented")
}

func (w *sendWallet) SendTransaction(_ context.Context, address string, amount int64) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.err != nil {
		return "", w.err
	}
	w.sent = append(w.sent, address)
	return w.txid, nil
}

func TestInitiateLoanAddressPayment(t *testing.T) {
	h := newHarness(t)
	depositAddr := kwAddress(t)

	sw := &sendWallet{txid: strings.Repeat("ab", 32)}
	h.orch.SetWallet(wallet.NewHandle("test", sw))
	h.backend.response = map[string]interface{}{
		"orderId": "ord-3",
		"status":  types.StatusCreated,
		"payment": map[string]interface{}{"type": "ADDRESS", "address": depositAddr, "amountSats": 1500},
	}

	st, err := h.orch.InitiateLoan(context.Background(), InitiateRequest{
		AmountSats: 1500, Offer: wbtcOffer(), ReceiveAddress: "0x1",
	})
	require.NoError(t, err)
	require.Equal(t, []string{depositAddr}, sw.sent)
	require.Equal(t, sw.txid, st.SourceTxID)
	require.Equal(t, PhaseBroadcast, st.Phase)
	require.Empty(t, h.backend.Submits())
}

func TestInitiateLoanAddressPaymentErrors(t *testing.T) {
	h := newHarness(t)
	depositAddr := kwAddress(t)
	h.backend.response = map[string]interface{}{
		"orderId": "ord-4",
		"status":  types.StatusCreated,
		"payment": map[string]interface{}{"type": "ADDRESS", "address": depositAddr, "amountSats": "1000"},
	}
	req := InitiateRequest{AmountSats: 1000, Offer: wbtcOffer(), ReceiveAddress: "0x1"}

	// Cancellation is silent.
	h.orch.SetWallet(wallet.NewHandle("test", &sendWallet{err: wallet.ErrUserCancelled}))
	st, err := h.orch.InitiateLoan(context.Background(), req)
	require.NoError(t, err)
	require.Empty(t, st.Error)
	require.False(t, st.Sending)

	// Other send errors are shown verbatim.
	h.orch.SetWallet(wallet.NewHandle("test", &sendWallet{err: errors.New("insufficient funds for transaction")}))
	st, err = h.orch.InitiateLoan(context.Background(), req)
	require.EqualError(t, err, "insufficient funds for transaction")
	require.Equal(t, "insufficient funds for transaction", st.Error)

	// Deposit addresses of another network are refused before sending.
	mainnet := wallet.NewKeyWalletFromKey(testKey(3), &chaincfg.MainNetParams).PaymentAddress()
	h.backend.response["payment"] = map[string]interface{}{"type": "ADDRESS", "address": mainnet, "amountSats": "1000"}
	sw := &sendWallet{}
	h.orch.SetWallet(wallet.NewHandle("test", sw))
	_, err = h.orch.InitiateLoan(context.Background(), req)
	require.Error(t, err)
	require.Zero(t, sw.calls)
}

func kwAddress(t *testing.T) string {
	t.Helper()
	return wallet.NewKeyWalletFromKey(testKey(0x31), testParams).PaymentAddress()
}

func TestInitiateLoanUnsupportedPayment(t *testing.T) {
	h := newHarness(t)
	h.backend.response = map[string]interface{}{
		"orderId": "ord-5",
		"status":  types.StatusCreated,
		"payment": map[string]interface{}{"type": "LIGHTNING_INVOICE"},
	}

	st, err := h.orch.InitiateLoan(context.Background(), InitiateRequest{
		AmountSats: 1000, Offer: wbtcOffer(), ReceiveAddress: "0x1",
	})
	require.ErrorIs(t, err, payment.ErrUnsupportedPayment)
	require.Contains(t, st.Error, "LIGHTNING_INVOICE")
	require.Equal(t, "ord-5", st.OrderID)
	require.NotNil(t, h.orch.Ticket())
}

func TestInitiateLoanPsbtWithoutWallet(t *testing.T) {
	h := newHarness(t)
	h.backend.response = map[string]interface{}{
		"orderId": "ord-6",
		"status":  types.StatusAwaitingUserSignature,
		"payment": map[string]interface{}{"type": "FUNDED_PSBT", "psbtBase64": rawPsbt(t, testKey(1), 1000)},
	}

	st, err := h.orch.InitiateLoan(context.Background(), InitiateRequest{
		AmountSats: 1000, Offer: wbtcOffer(), ReceiveAddress: "0x1",
	})
	require.ErrorIs(t, err, ErrWalletUnavailable)
	require.Equal(t, "Reconnect your Bitcoin wallet to sign", st.Error)
	require.Empty(t, h.mempool.txs)
}

func TestBroadcastFailureGetsFundingGuidance(t *testing.T) {
	h := newHarness(t)
	key := testKey(0x43)
	h.orch.SetWallet(wallet.NewHandle("wif", wallet.NewKeyWalletFromKey(key, testParams)))
	h.mempool.reject = "sendrawtransaction RPC error: bad-txns-inputs-missingorspent"
	h.backend.response = map[string]interface{}{
		"orderId":    "ord-7",
		"status":     types.StatusAwaitingUserSignature,
		"amountSats": "1000",
		"payment":    map[string]interface{}{"type": "RAW_PSBT", "psbtBase64": rawPsbt(t, key, 1000)},
	}

	st, err := h.orch.InitiateLoan(context.Background(), InitiateRequest{
		AmountSats: 1000, Offer: wbtcOffer(), ReceiveAddress: "0x1",
	})
	var userErr *UserError
	require.True(t, errors.As(err, &userErr))

	var bErr *broadcast.Error
	require.True(t, errors.As(err, &bErr))

	require.True(t, strings.HasPrefix(st.Error, h.mempool.reject))
	require.Contains(t, st.Error, "at least the deposit amount (1000 sats)")
	require.False(t, st.Sending)
	require.Empty(t, st.SourceTxID)
	require.Empty(t, h.backend.Submits())
}

func TestSubmitFailureKeepsBroadcast(t *testing.T) {
	h := newHarness(t)
	key := testKey(0x44)
	h.orch.SetWallet(wallet.NewHandle("wif", wallet.NewKeyWalletFromKey(key, testParams)))
	h.backend.submitErr = true
	h.backend.response = map[string]interface{}{
		"orderId": "ord-8",
		"status":  types.StatusAwaitingUserSignature,
		"payment": map[string]interface{}{"type": "RAW_PSBT", "psbtBase64": rawPsbt(t, key, 1000)},
	}

	st, err := h.orch.InitiateLoan(context.Background(), InitiateRequest{
		AmountSats: 1000, Offer: wbtcOffer(), ReceiveAddress: "0x1",
	})
	require.EqualError(t, err, "submit unavailable")
	require.Equal(t, "submit unavailable", st.Error)
	require.Equal(t, PhaseBroadcast, st.Phase)
	require.NotEmpty(t, st.SourceTxID)
	require.Len(t, h.mempool.txs, 1)

	// Polling keeps running after the failed report.
	ticket := h.orch.Ticket()
	require.NotNil(t, ticket)
	select {
	case <-ticket.Done():
		t.Fatal("polling stopped")
	default:
	}
}

func TestSignPendingDeferredPath(t *testing.T) {
	h := newHarness(t)
	key := testKey(0x45)
	p := payment.RawPsbt{PsbtBase64: rawPsbt(t, key, 1000)}

	_, err := h.orch.SignPending(context.Background(), "ord-9", p)
	require.ErrorIs(t, err, ErrWalletUnavailable)

	// A wallet that cannot sign the input gets the generic guidance.
	h.orch.SetWallet(wallet.NewHandle("wif", wallet.NewKeyWalletFromKey(testKey(0x46), testParams)))
	st, err := h.orch.SignPending(context.Background(), "ord-9", p)
	require.ErrorIs(t, err, psbtsign.ErrSigning)
	require.Contains(t, st.Error, "Ensure your Bitcoin wallet is connected before initiating and has sufficient balance.")

	h.orch.SetWallet(wallet.NewHandle("wif", wallet.NewKeyWalletFromKey(key, testParams)))
	st, err = h.orch.SignPending(context.Background(), "ord-9", p)
	require.NoError(t, err)
	require.Equal(t, "ord-9", st.OrderID)
	require.Len(t, h.backend.Submits(), 1)

	require.Eventually(t, func() bool {
		return h.orch.State().Phase == PhaseSettled
	}, 2*time.Second, 5*time.Millisecond)

	_, err = h.orch.SignPending(context.Background(), "ord-9", p)
	require.ErrorIs(t, err, ErrPaymentLocked)

	_, err = h.orch.SignPending(context.Background(), "ord-9", payment.Address{Address: "tb1q", AmountSats: "1"})
	require.Error(t, err)
}

func TestRetryAndReset(t *testing.T) {
	h := newHarness(t)
	require.ErrorIs(t, h.orch.Retry(context.Background(), ""), ErrNoOrder)

	h.backend.response = map[string]interface{}{
		"orderId": "ord-10", "status": "CREATED", "depositAddress": "tb1qx", "amountSats": "10",
	}
	_, err := h.orch.InitiateLoan(context.Background(), InitiateRequest{
		AmountSats: 10, Offer: wbtcOffer(), ReceiveAddress: "0x1",
	})
	require.NoError(t, err)

	require.NoError(t, h.orch.Retry(context.Background(), ""))
	require.Equal(t, []string{"ord-10"}, h.backend.retries)

	ticket := h.orch.Ticket()
	h.orch.Reset()
	require.False(t, h.orch.State().HasOrder())
	require.Nil(t, h.orch.Ticket())
	select {
	case <-ticket.Done():
	case <-time.After(time.Second):
		t.Fatal("polling still running after reset")
	}

	// Retrying another order makes it the current flow.
	require.NoError(t, h.orch.Retry(context.Background(), "ord-14"))
	require.Equal(t, "ord-14", h.orch.State().OrderID)
	require.NotNil(t, h.orch.Ticket())
	require.Equal(t, "ord-14", h.orch.Ticket().OrderID())
	h.backend.mu.Lock()
	require.Equal(t, []string{"ord-10", "ord-14"}, h.backend.retries)
	h.backend.mu.Unlock()
}

type lockedWallet struct {
	*wallet.KeyWallet
}

func (w *lockedWallet) SignPsbt(context.Context, *psbt.Packet, []int) (*psbt.Packet, error) {
	return nil, &wallet.RPCError{Code: -13, Message: "Error: Please enter the wallet passphrase with walletpassphrase first."}
}

func TestSignPendingLockedWalletIsShown(t *testing.T) {
	h := newHarness(t)
	key := testKey(0x47)
	h.orch.SetWallet(wallet.NewHandle("bitcoind", &lockedWallet{KeyWallet: wallet.NewKeyWalletFromKey(key, testParams)}))

	st, err := h.orch.SignPending(context.Background(), "ord-11", payment.RawPsbt{PsbtBase64: rawPsbt(t, key, 1000)})
	require.ErrorIs(t, err, psbtsign.ErrSigning)
	require.Contains(t, st.Error, "Please enter the wallet passphrase")
	require.False(t, st.Sending)
	require.Empty(t, st.SourceTxID)
	require.Empty(t, h.mempool.txs)
}

type blankBroadcaster struct {
	mu    sync.Mutex
	calls int
}

func (b *blankBroadcaster) Broadcast(context.Context, string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	return "", nil
}

func TestBroadcastWithoutTxIDKeepsPaymentOpen(t *testing.T) {
	h := newHarness(t)
	key := testKey(0x48)
	h.orch.SetWallet(wallet.NewHandle("wif", wallet.NewKeyWalletFromKey(key, testParams)))
	p := payment.RawPsbt{PsbtBase64: rawPsbt(t, key, 1000)}

	blank := &blankBroadcaster{}
	explorer := h.orch.broadcaster
	h.orch.broadcaster = blank

	st, err := h.orch.SignPending(context.Background(), "ord-12", p)
	require.ErrorIs(t, err, ErrNoTxID)
	require.NotEmpty(t, st.Error)
	require.False(t, st.Sending)
	require.Empty(t, st.SourceTxID)
	require.Empty(t, h.backend.Submits())
	require.Equal(t, 1, blank.calls)

	// The order can still be paid, exactly once.
	h.orch.broadcaster = explorer
	st, err = h.orch.SignPending(context.Background(), "ord-12", p)
	require.NoError(t, err)
	require.NotEmpty(t, st.SourceTxID)

	submits := h.backend.Submits()
	require.Len(t, submits, 1)
	require.Equal(t, st.SourceTxID, submits[0].SourceTxID)

	_, err = h.orch.SignPending(context.Background(), "ord-12", p)
	require.ErrorIs(t, err, ErrPaymentLocked)
	require.Len(t, h.backend.Submits(), 1)
}

func TestAddressPaymentWithoutTxIDKeepsPaymentOpen(t *testing.T) {
	h := newHarness(t)
	h.backend.response = map[string]interface{}{
		"orderId": "ord-13",
		"status":  types.StatusCreated,
		"payment": map[string]interface{}{"type": "ADDRESS", "address": kwAddress(t), "amountSats": "1000"},
	}
	h.orch.SetWallet(wallet.NewHandle("test", &sendWallet{}))

	st, err := h.orch.InitiateLoan(context.Background(), InitiateRequest{
		AmountSats: 1000, Offer: wbtcOffer(), ReceiveAddress: "0x1",
	})
	require.ErrorIs(t, err, ErrNoTxID)
	require.False(t, st.Sending)
	require.Empty(t, st.SourceTxID)
	require.Equal(t, PhaseAwaitingPayment, st.Phase)
}
