package payment

import (
	"encoding/base64"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"

	"btc-borrow/pkg/types"
)

func TestResolveLegacyAlias(t *testing.T) {
	resp := &types.CreateOrderResponse{
		OrderID:        "ord-1",
		DepositAddress: "tb1qlegacy",
		AmountSats:     "1000",
	}

	res, err := Resolve(resp, 1000)
	require.NoError(t, err)
	require.True(t, res.Legacy)
	require.Equal(t, Address{Address: "tb1qlegacy", AmountSats: "1000"}, res.Payment)

	explicit, err := Resolve(&types.CreateOrderResponse{
		OrderID: "ord-1",
		Payment: &types.RawPayment{Type: "ADDRESS", Address: "tb1qlegacy", AmountSats: "1000"},
	}, 1000)
	require.NoError(t, err)
	require.False(t, explicit.Legacy)
	require.Equal(t, explicit.Payment, res.Payment)
	require.Equal(t, explicit.DepositAddress, res.DepositAddress)
	require.Equal(t, explicit.AmountSats, res.AmountSats)
}

func TestResolveFallbacks(t *testing.T) {
	cases := []struct {
		name        string
		resp        *types.CreateOrderResponse
		wantAddress string
		wantAmount  string
	}{
		{
			name: "quote deposit address and amountIn",
			resp: &types.CreateOrderResponse{
				Quote: &types.OrderQuote{DepositAddress: "tb1qquote", AmountIn: "2000"},
			},
			wantAddress: "tb1qquote",
			wantAmount:  "2000",
		},
		{
			name:        "requested amount when nothing else",
			resp:        &types.CreateOrderResponse{DepositAddress: "tb1qtop"},
			wantAddress: "tb1qtop",
			wantAmount:  "1500",
		},
		{
			name: "top level wins over quote",
			resp: &types.CreateOrderResponse{
				DepositAddress: "tb1qtop",
				AmountSats:     "1400",
				Quote:          &types.OrderQuote{DepositAddress: "tb1qquote", AmountIn: "2000"},
			},
			wantAddress: "tb1qtop",
			wantAmount:  "1400",
		},
		{
			name: "address payment without amount keeps fallback",
			resp: &types.CreateOrderResponse{
				Payment: &types.RawPayment{Type: "ADDRESS", Address: "tb1qpay"},
				Quote:   &types.OrderQuote{AmountIn: "2000"},
			},
			wantAddress: "tb1qpay",
			wantAmount:  "2000",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := Resolve(tc.resp, 1500)
			require.NoError(t, err)
			require.Equal(t, tc.wantAddress, res.DepositAddress)
			require.Equal(t, tc.wantAmount, res.AmountSats)

			addr, ok := res.Payment.(Address)
			require.True(t, ok)
			require.Equal(t, tc.wantAddress, addr.Address)
			require.Equal(t, tc.wantAmount, addr.AmountSats)
		})
	}
}

func TestResolvePsbtPayments(t *testing.T) {
	seq := uint32(0xfffffffd)
	res, err := Resolve(&types.CreateOrderResponse{
		Payment: &types.RawPayment{
			Type:        "RAW_PSBT",
			PsbtBase64:  "cHNidP8=",
			SignInputs:  []int{0, 2},
			In1Sequence: &seq,
		},
		Quote: &types.OrderQuote{AmountIn: "1000"},
	}, 1000)
	require.NoError(t, err)

	raw, ok := res.Payment.(RawPsbt)
	require.True(t, ok)
	require.Equal(t, []int{0, 2}, raw.SignInputs)
	require.Equal(t, seq, *raw.In1Sequence)
	require.True(t, IsRaw(res.Payment))
	require.Equal(t, "1000", res.AmountSats)
	require.Empty(t, res.DepositAddress)

	signing, err := RequiresSigning(res.Payment)
	require.NoError(t, err)
	require.True(t, signing)

	res, err = Resolve(&types.CreateOrderResponse{
		Payment: &types.RawPayment{Type: "FUNDED_PSBT", PsbtHex: "70736274ff"},
	}, 1000)
	require.NoError(t, err)
	require.Equal(t, types.PaymentFundedPsbt, res.Payment.Kind())
	require.False(t, IsRaw(res.Payment))
	require.Nil(t, SignInputs(res.Payment))
}

func TestResolveUnsupportedAndMissing(t *testing.T) {
	_, err := Resolve(&types.CreateOrderResponse{
		Payment: &types.RawPayment{Type: "LIGHTNING_INVOICE"},
	}, 1000)
	require.ErrorIs(t, err, ErrUnsupportedPayment)
	require.Contains(t, err.Error(), "LIGHTNING_INVOICE")

	// Fallbacks survive an unknown directive so the order can still be tracked.
	res, err := Resolve(&types.CreateOrderResponse{
		OrderID:        "ord-1",
		DepositAddress: "tb1qfallback",
		Payment:        &types.RawPayment{Type: "LIGHTNING_INVOICE"},
	}, 1200)
	require.ErrorIs(t, err, ErrUnsupportedPayment)
	require.Equal(t, "tb1qfallback", res.DepositAddress)
	require.Equal(t, "1200", res.AmountSats)
	require.Nil(t, res.Payment)

	_, err = Resolve(&types.CreateOrderResponse{OrderID: "ord-1"}, 1000)
	require.ErrorIs(t, err, ErrNoPaymentDirective)

	_, err = Resolve(nil, 1000)
	require.ErrorIs(t, err, ErrNoPaymentDirective)
}

func TestPsbtBase64(t *testing.T) {
	raw := []byte{0x70, 0x73, 0x62, 0x74, 0xff}
	b64 := base64.StdEncoding.EncodeToString(raw)
	hx := hex.EncodeToString(raw)

	got, err := PsbtBase64(FundedPsbt{PsbtHex: hx})
	require.NoError(t, err)
	require.Equal(t, b64, got)

	got, err = PsbtBase64(RawPsbt{PsbtBase64: "preferred", PsbtHex: hx})
	require.NoError(t, err)
	require.Equal(t, "preferred", got)

	_, err = PsbtBase64(RawPsbt{})
	require.ErrorIs(t, err, ErrNoPsbtData)

	_, err = PsbtBase64(FundedPsbt{PsbtHex: "zz"})
	require.Error(t, err)

	_, err = PsbtBase64(Address{Address: "tb1q"})
	require.Error(t, err)
}

func TestSignInputsIsCopied(t *testing.T) {
	p := FundedPsbt{SignInputs: []int{1}}
	in := SignInputs(p)
	in[0] = 7
	require.Equal(t, []int{1}, p.SignInputs)
}

func TestDescribe(t *testing.T) {
	require.Equal(t, "send 1000 sats to tb1qdeposit", Describe(Address{Address: "tb1qdeposit", AmountSats: "1000"}))
	require.Contains(t, Describe(FundedPsbt{PsbtBase64: "cHNidP8="}), "funded PSBT")
	require.Contains(t, Describe(RawPsbt{PsbtHex: "70736274ff"}), "taproot")
	require.Equal(t, "no payment", Describe(nil))
}
