package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSatsUnmarshal(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want Sats
	}{
		{"string", `{"amountSats":"1000"}`, "1000"},
		{"number", `{"amountSats":1000}`, "1000"},
		{"null", `{"amountSats":null}`, ""},
		{"absent", `{}`, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var resp CreateOrderResponse
			require.NoError(t, json.Unmarshal([]byte(tc.in), &resp))
			require.Equal(t, tc.want, resp.AmountSats)
		})
	}

	var resp CreateOrderResponse
	require.Error(t, json.Unmarshal([]byte(`{"amountSats":true}`), &resp))
}

func TestOrderDetailAccessors(t *testing.T) {
	var nilDetail *OrderDetail
	require.Empty(t, nilDetail.DepositAddress())
	require.Empty(t, nilDetail.AmountSats())

	d := &OrderDetail{Quote: &OrderQuote{AmountIn: "2500", DepositAddress: "tb1qdeposit"}}
	require.Equal(t, "tb1qdeposit", d.DepositAddress())
	require.Equal(t, "2500", d.AmountSats())
}
