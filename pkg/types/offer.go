package types

// Offer modes understood by the quoting service.
const (
	ModeBorrowToCollateral = "borrowToCollateral"
	ModeCollateralToBorrow = "collateralToBorrow"
)

// Asset describes a token on the destination chain.
type Asset struct {
	Symbol   string `json:"symbol"`
	Address  string `json:"address"`
	Decimals int    `json:"decimals"`
}

// Pool identifies the lending pool behind an offer.
type Pool struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// OfferQuote is only present when the caller asked for a borrow amount and target LTV.
type OfferQuote struct {
	Mode                     string   `json:"mode,omitempty"`
	BorrowUsd                float64  `json:"borrowUsd"`
	TargetLtv                float64  `json:"targetLtv"`
	RequiredCollateralUsd    float64  `json:"requiredCollateralUsd"`
	RequiredCollateralAmount *float64 `json:"requiredCollateralAmount"`
	LiquidationPrice         float64  `json:"liquidationPrice"`
	CollateralAmount         *float64 `json:"collateralAmount,omitempty"`
	CollateralUsd            *float64 `json:"collateralUsd,omitempty"`
	MaxBorrowUsd             *float64 `json:"maxBorrowUsd,omitempty"`
	MaxBorrowAmount          *float64 `json:"maxBorrowAmount,omitempty"`
}

// LoanOfferData is the offer body returned by the quoting service.
type LoanOfferData struct {
	OfferID           string      `json:"offerId"`
	Pool              Pool        `json:"pool"`
	Collateral        Asset       `json:"collateral"`
	Borrow            Asset       `json:"borrow"`
	Chain             string      `json:"chain"`
	MaxLtv            float64     `json:"maxLtv"`
	LiquidationFactor float64     `json:"liquidationFactor"`
	BorrowApr         float64     `json:"borrowApr"`
	CollateralApr     float64     `json:"collateralApr"`
	NetApy            float64     `json:"netApy"`
	Quote             *OfferQuote `json:"quote"`
}

// LoanOffer is an immutable snapshot; a re-quote yields a new value.
type LoanOffer struct {
	Protocol string        `json:"protocol"`
	Data     LoanOfferData `json:"data"`
}

// LoanOffersParams are the query parameters of GET /offers/loan.
type LoanOffersParams struct {
	Collateral       string
	Borrow           string
	Mode             string
	BorrowUsd        float64
	CollateralAmount float64
	TargetLtv        float64
	SortBy           string
	SortOrder        string
	Page             int
	Limit            int
}

// LoanOffersPage is a page of loan offers.
type LoanOffersPage struct {
	Data []LoanOffer     `json:"data"`
	Meta *PaginationMeta `json:"meta,omitempty"`
}
