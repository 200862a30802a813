package billing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestConsolidateMergesByNameAndRate(t *testing.T) {
	ten := decimal.NewFromInt(10)
	lines := Consolidate([]LineInput{
		{ItemName: "Tea", Qty: 2, Rate: ten},
		{ItemName: "Coffee", Qty: 1, Rate: decimal.NewFromInt(25)},
		{ItemCode: "T1", ItemName: "Tea", Qty: 2, Rate: decimal.RequireFromString("10.00")},
		{ItemName: "Tea", Qty: 1, Rate: decimal.NewFromInt(12)},
	})
	require.Len(t, lines, 3)
	require.Equal(t, "Tea", lines[0].ItemName)
	require.Equal(t, "T1", lines[0].ItemCode)
	require.Equal(t, 4.0, lines[0].Qty)
	require.True(t, lines[0].Amt.Equal(decimal.NewFromInt(40)))
	require.Equal(t, "Coffee", lines[1].ItemName)
	require.True(t, lines[2].Rate.Equal(decimal.NewFromInt(12)))
}

func TestConsolidateDropsNonPositiveLines(t *testing.T) {
	lines := Consolidate([]LineInput{
		{ItemName: "Tea", Qty: 2, Rate: decimal.NewFromInt(10)},
		{ItemName: "Tea", Qty: -2, Rate: decimal.NewFromInt(10)},
		{ItemName: "Juice", Qty: 0.5, Rate: decimal.NewFromInt(30)},
	})
	require.Len(t, lines, 1)
	require.True(t, lines[0].Amt.Equal(decimal.NewFromInt(15)))
}

func TestMergeLinesAppendsUnmatched(t *testing.T) {
	existing := []BillLine{{ItemName: "Tea", Qty: 2, Rate: decimal.NewFromInt(10), Amt: decimal.NewFromInt(20)}}
	merged := MergeLines(existing, []BillLine{
		{ItemName: "Tea", Qty: 1, Rate: decimal.NewFromInt(10)},
		{ItemName: "Soup", Qty: 1, Rate: decimal.NewFromInt(60)},
	})
	require.Len(t, merged, 2)
	require.Equal(t, 3.0, merged[0].Qty)
	require.True(t, merged[0].Amt.Equal(decimal.NewFromInt(30)))
	require.Equal(t, "Soup", merged[1].ItemName)

	bill := Bill{Lines: merged, Discount: decimal.NewFromInt(5)}
	recomputeTotals(&bill)
	require.True(t, bill.BillAmt.Equal(decimal.NewFromInt(90)))
	require.True(t, bill.NetAmount.Equal(decimal.NewFromInt(85)))
}
