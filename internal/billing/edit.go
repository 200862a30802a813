package billing

import (
	"context"
	"errors"
	"log/slog"

	"github.com/odyssey-erp/restopos/internal/bank"
	"github.com/odyssey-erp/restopos/internal/shared"
	"github.com/odyssey-erp/restopos/internal/stock"
)

// UpdateBillWithTransactions replaces a bill's lines. The line swap, totals
// and any bank correction commit together; the stock effect of the old lines
// is reversed and the new lines are sold afterwards, each movement on its own.
// Bills still in CLOSE have no stock effect to correct.
func (s *Service) UpdateBillWithTransactions(ctx context.Context, actor shared.Actor, billNo string, lines []LineInput) (Result, error) {
	for _, line := range lines {
		if line.ItemName == "" {
			return Result{}, ErrItemRequired
		}
		if line.Rate.IsNegative() {
			return Result{}, ErrInvalidRate
		}
	}
	replacement := Consolidate(lines)
	if len(replacement) == 0 {
		return Result{}, ErrEmptyLines
	}
	release, err := s.lock(ctx, shared.BillLockKey(billNo))
	if err != nil {
		return Result{}, err
	}
	defer release()

	var (
		bill      Bill
		reversals []stock.Movement
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetBillForUpdate(ctx, billNo)
		if err != nil {
			return err
		}
		reversals = saleMovements(current.BillNo, stock.RefBillEdit, current.Lines)
		if err := tx.DeleteBillLines(ctx, billNo); err != nil {
			return err
		}
		bill, err = tx.GetBillForUpdate(ctx, billNo)
		if err != nil {
			return err
		}
		bill.Lines = replacement
		if err := tx.ReplaceBillLines(ctx, billNo, bill.Lines); err != nil {
			return err
		}
		recomputeTotals(&bill)
		if bill.NetAmount.IsNegative() {
			return ErrDiscountTooLarge
		}
		if err := s.rebalancePayment(ctx, tx, actor, &bill); err != nil {
			return err
		}
		if err := tx.UpdateBill(ctx, bill); err != nil {
			return err
		}
		bill.Version++
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	s.record(ctx, actor, "bill.edit", bill.BillNo, map[string]any{"bill_amt": bill.BillAmt.String(), "lines": len(bill.Lines)})
	result := Result{Bill: bill}
	if bill.Status.Sold() {
		reversals = s.soldReversals(ctx, bill.BillNo, reversals)
		result.Warnings = s.afterSale(ctx, actor, bill, reversals, saleMovements(bill.BillNo, stock.RefBill, bill.Lines), false)
	}
	return result, nil
}

// soldReversals trims edit reversals to what the bill's sale postings took
// out of stock, so a sale that never posted is not put back. When the ledger
// cannot be read the full reversals are used.
func (s *Service) soldReversals(ctx context.Context, billNo string, reversals []stock.Movement) []stock.Movement {
	if s.stock == nil || len(reversals) == 0 {
		return reversals
	}
	sold, err := s.stock.SoldQuantities(ctx, billNo)
	if err != nil {
		s.logger.Warn("sold quantities unavailable", slog.String("bill_no", billNo), slog.Any("error", err))
		return reversals
	}
	out := make([]stock.Movement, 0, len(reversals))
	for _, m := range reversals {
		qty := min(m.Quantity, sold[m.ItemName])
		if qty <= 0 {
			continue
		}
		sold[m.ItemName] -= qty
		m.Quantity = qty
		out = append(out, m)
	}
	return out
}

// rebalancePayment keeps settled amounts consistent with an edited total.
// Customer bills keep what receipts collected and only move between CREDIT
// and PAID; counter payments follow the new total.
func (s *Service) rebalancePayment(ctx context.Context, tx TxRepository, actor shared.Actor, bill *Bill) error {
	if bill.Status.Sold() && bill.OnAccount() {
		if !shared.Covers(bill.NetAmount, bill.PaidAmount) {
			return ErrPaidExceedsNet
		}
		bill.Status = ReceivableStatus(bill.NetAmount, bill.PaidAmount)
		return nil
	}
	if bill.Status != StatusPaid {
		return nil
	}
	bill.PaidAmount = bill.NetAmount
	bill.ReturnAmount = shared.MaxZero(bill.CashReceived.Sub(bill.NetAmount))
	if bill.BankEntryID == 0 {
		return nil
	}
	if _, err := bank.Reverse(ctx, tx, bill.BankEntryID); err != nil {
		if !errors.Is(err, bank.ErrEntryNotFound) {
			return err
		}
		s.logger.Warn("bill bank entry already removed", slog.String("bill_no", bill.BillNo), slog.Int64("bank_entry_id", bill.BankEntryID))
	}
	bill.BankEntryID = 0
	if !bill.NetAmount.IsPositive() {
		return nil
	}
	entry, err := bank.Post(ctx, tx, actor, bank.KindDeposit, bank.EntryInput{
		AccountID:   bill.BankAccountID,
		Amount:      bill.NetAmount,
		Particulars: "Bill " + bill.BillNo,
		RefType:     bank.RefBill,
		RefID:       bill.BillNo,
	})
	if err != nil {
		return err
	}
	bill.BankEntryID = entry.ID
	return nil
}
