package billing

import (
	"github.com/shopspring/decimal"
)

type lineKey struct {
	name string
	rate string
}

func keyOf(name string, rate decimal.Decimal) lineKey {
	return lineKey{name: name, rate: rate.String()}
}

func lineAmount(qty float64, rate decimal.Decimal) decimal.Decimal {
	return rate.Mul(decimal.NewFromFloat(qty)).Round(2)
}

// Consolidate merges lines sharing (item name, rate), keeping first-seen order.
// Lines whose merged quantity is not positive are dropped.
func Consolidate(lines []LineInput) []BillLine {
	index := make(map[lineKey]int, len(lines))
	out := make([]BillLine, 0, len(lines))
	for _, line := range lines {
		k := keyOf(line.ItemName, line.Rate)
		if i, ok := index[k]; ok {
			out[i].Qty += line.Qty
			if out[i].ItemCode == "" {
				out[i].ItemCode = line.ItemCode
			}
			continue
		}
		index[k] = len(out)
		out = append(out, BillLine{ItemCode: line.ItemCode, ItemName: line.ItemName, Qty: line.Qty, Rate: line.Rate})
	}
	kept := out[:0]
	for _, line := range out {
		if line.Qty <= 0 {
			continue
		}
		line.Amt = lineAmount(line.Qty, line.Rate)
		kept = append(kept, line)
	}
	return kept
}

// ConsolidateDrafts converts a table's draft lines into bill lines.
func ConsolidateDrafts(drafts []DraftLine) []BillLine {
	inputs := make([]LineInput, 0, len(drafts))
	for _, d := range drafts {
		inputs = append(inputs, LineInput{ItemCode: d.ItemCode, ItemName: d.ItemName, Qty: d.Qty, Rate: d.Rate})
	}
	return Consolidate(inputs)
}

// MergeLines folds additions into existing lines by (item name, rate),
// appending lines that have no match.
func MergeLines(existing, additions []BillLine) []BillLine {
	inputs := make([]LineInput, 0, len(existing)+len(additions))
	for _, l := range existing {
		inputs = append(inputs, LineInput{ItemCode: l.ItemCode, ItemName: l.ItemName, Qty: l.Qty, Rate: l.Rate})
	}
	for _, l := range additions {
		inputs = append(inputs, LineInput{ItemCode: l.ItemCode, ItemName: l.ItemName, Qty: l.Qty, Rate: l.Rate})
	}
	return Consolidate(inputs)
}

// recomputeTotals derives BillAmt and NetAmount from the lines and discount.
func recomputeTotals(bill *Bill) {
	total := decimal.Zero
	for _, line := range bill.Lines {
		total = total.Add(line.Amt)
	}
	bill.BillAmt = total
	bill.NetAmount = total.Sub(bill.Discount)
}
