package parser

import "strings"

// WrappedCollateral is the wrapped BTC asset the lending pools take as collateral.
const WrappedCollateral = "WBTC"

var btcEquivalents = map[string]bool{
	"BTC":  true,
	"WBTC": true,
	"XBT":  true,
}

var destinationAssets = map[string]bool{
	"USDC": true,
	"ETH":  true,
	"STRK": true,
	"USDT": true,
	"TBTC": true,
}

// DestinationAsset maps an offer's collateral symbol to the bridge destination
// asset. BTC equivalents become the wrapped collateral; symbols the bridge does
// not know also fall back to it.
func DestinationAsset(collateralSymbol string) string {
	symbol := NormalizeTokenSymbol(collateralSymbol)
	if btcEquivalents[symbol] {
		return WrappedCollateral
	}
	if destinationAssets[symbol] {
		return symbol
	}
	return WrappedCollateral
}

// NormalizeTokenSymbol normalizes token symbols to upper case without padding.
func NormalizeTokenSymbol(symbol string) string {
	return strings.TrimSpace(strings.ToUpper(symbol))
}
