package cmd

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"btc-borrow/pkg/client"
	"btc-borrow/pkg/parser"
	"btc-borrow/pkg/types"
)

const (
	defaultBorrow = "USDC"
	offersLimit   = 20
)

var (
	borrowAsset string
	borrowUsd   float64
	targetLtv   float64
)

var offersCmd = &cobra.Command{
	Use:     "offers",
	Aliases: []string{"ls"},
	Short:   "List loan offers for BTC collateral",
	Long: `List the loan offers available for BTC collateral, best net APY first.

With --borrow-usd and --target-ltv each offer carries a quote of the collateral
required for that loan.

Examples:
  btc-borrow offers
  btc-borrow offers --borrow USDT
  btc-borrow offers --borrow-usd 500 --target-ltv 0.5`,
	Run: runOffers,
}

func init() {
	rootCmd.AddCommand(offersCmd)

	offersCmd.Flags().StringVar(&borrowAsset, "borrow", defaultBorrow, "Asset to borrow")
	offersCmd.Flags().Float64Var(&borrowUsd, "borrow-usd", 0, "Loan amount in USD (quotes required collateral)")
	offersCmd.Flags().Float64Var(&targetLtv, "target-ltv", 0, "Target loan-to-value ratio, e.g. 0.5")
}

func runOffers(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	cfg := mustConfig()
	api := newBackend(cfg)

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Fetching loan offers..."
		s.Start()
	}

	offers, err := fetchOffers(cmd.Context(), api, 0)
	if !jsonOutput {
		s.Stop()
	}

	if err != nil {
		printError(err)
		os.Exit(1)
	}

	if jsonOutput {
		printJSON(offers)
	} else {
		displayOffers(offers)
	}
}

// fetchOffers returns the loan offers for BTC collateral sorted by net APY,
// best first.
func fetchOffers(ctx context.Context, api *client.AmplifiClient, collateralBTC float64) ([]types.LoanOffer, error) {
	params := types.LoanOffersParams{
		Collateral: parser.WrappedCollateral,
		Borrow:     parser.NormalizeTokenSymbol(borrowAsset),
		SortBy:     "netApy",
		SortOrder:  "desc",
		Limit:      offersLimit,
	}
	if borrowUsd > 0 && targetLtv > 0 {
		params.Mode = types.ModeBorrowToCollateral
		params.BorrowUsd = borrowUsd
		params.TargetLtv = targetLtv
	} else if collateralBTC > 0 {
		params.Mode = types.ModeCollateralToBorrow
		params.CollateralAmount = collateralBTC
		params.TargetLtv = targetLtv
	}

	page, err := api.GetLoanOffers(ctx, params)
	if err != nil {
		return nil, err
	}

	offers := page.Data
	sort.SliceStable(offers, func(i, j int) bool {
		return offers[i].Data.NetApy > offers[j].Data.NetApy
	})
	return offers, nil
}

// selectOffer picks the offer with the given id, or the best one.
func selectOffer(offers []types.LoanOffer, offerID string) (*types.LoanOffer, error) {
	if len(offers) == 0 {
		return nil, fmt.Errorf("no loan offers available for %s collateral", parser.WrappedCollateral)
	}
	if offerID == "" {
		return &offers[0], nil
	}
	for i := range offers {
		if offers[i].Data.OfferID == offerID {
			return &offers[i], nil
		}
	}
	return nil, fmt.Errorf("offer %s not found (try: btc-borrow offers)", offerID)
}

func displayOffers(offers []types.LoanOffer) {
	if len(offers) == 0 {
		fmt.Println("\nNo loan offers found.")
		return
	}

	fmt.Println("\n" + strings.Repeat("=", 90))
	color.Green("                              LOAN OFFERS")
	fmt.Println(strings.Repeat("=", 90))

	fmt.Printf("\n  %-4s %-24s %-12s %-8s %-9s %-9s %s\n", "#", "POOL", "PROTOCOL", "BORROW", "MAX LTV", "NET APY", "OFFER ID")
	fmt.Println(strings.Repeat("-", 90))

	for i, offer := range offers {
		d := offer.Data
		pool := d.Pool.Name
		if len(pool) > 24 {
			pool = pool[:21] + "..."
		}

		fmt.Printf("  %-4d %-24s %-12s %-8s %-9s %-9s %s\n",
			i+1,
			pool,
			offer.Protocol,
			d.Borrow.Symbol,
			fmt.Sprintf("%.0f%%", d.MaxLtv*100),
			fmt.Sprintf("%.2f%%", d.NetApy*100),
			color.HiBlackString(d.OfferID))

		if q := d.Quote; q != nil && q.RequiredCollateralAmount != nil {
			fmt.Printf("       requires %s %s for $%.2f (liquidation at $%.2f)\n",
				color.YellowString("%.8f", *q.RequiredCollateralAmount),
				d.Collateral.Symbol,
				q.BorrowUsd,
				q.LiquidationPrice)
		}
	}

	fmt.Println("\n" + strings.Repeat("=", 90))
	fmt.Printf("\nTotal: %d offers\n\n", len(offers))
}

func displayOffer(offer *types.LoanOffer, amountSats int64, receive string) {
	d := offer.Data

	fmt.Println("\n" + strings.Repeat("=", 60))
	color.Green("                      LOAN SUMMARY")
	fmt.Println(strings.Repeat("=", 60))

	fmt.Printf("\n  Collateral:        %s %s\n", parser.SatsToBTC(amountSats), color.YellowString("BTC"))
	fmt.Printf("  Bridged As:        %s\n", parser.DestinationAsset(d.Collateral.Symbol))
	fmt.Printf("  Borrow:            %s\n", color.YellowString(d.Borrow.Symbol))
	fmt.Printf("  Pool:              %s (%s)\n", d.Pool.Name, offer.Protocol)
	fmt.Printf("  Max LTV:           %.0f%%\n", d.MaxLtv*100)
	fmt.Printf("  Net APY:           %.2f%%\n", d.NetApy*100)
	if q := d.Quote; q != nil {
		if q.MaxBorrowUsd != nil {
			fmt.Printf("  Max Borrow:        $%.2f\n", *q.MaxBorrowUsd)
		}
		if q.LiquidationPrice > 0 {
			fmt.Printf("  Liquidation Price: $%.2f\n", q.LiquidationPrice)
		}
	}
	fmt.Printf("  Receive On:        %s\n", color.CyanString(receive))

	fmt.Println("\n" + strings.Repeat("=", 60) + "\n")
}
