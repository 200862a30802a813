package bank

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/restopos/internal/shared"
)

// TxRepository exposes the transactional ledger operations. Other aggregates
// embed it in their own transaction ports so a bank effect commits together
// with the document that caused it.
type TxRepository interface {
	GetAccountForUpdate(ctx context.Context, id int64) (Account, error)
	UpdateAccountBalance(ctx context.Context, account Account) error
	InsertEntry(ctx context.Context, entry Entry) (int64, error)
	GetEntryForUpdate(ctx context.Context, id int64) (Entry, error)
	DeleteEntry(ctx context.Context, id int64) error
	ListEntriesAfter(ctx context.Context, accountID, afterID int64) ([]Entry, error)
	UpdateEntryBalanceAfter(ctx context.Context, id int64, balance decimal.Decimal) error
}

// Post applies a deposit or withdrawal inside tx. Balances may go negative.
func Post(ctx context.Context, tx TxRepository, actor shared.Actor, kind EntryKind, input EntryInput) (Entry, error) {
	if input.AccountID == 0 {
		return Entry{}, ErrAccountRequired
	}
	if !input.Amount.IsPositive() {
		return Entry{}, ErrInvalidAmount
	}
	if kind != KindDeposit && kind != KindWithdraw {
		return Entry{}, fmt.Errorf("%w: bank: unknown entry kind %q", shared.ErrValidation, kind)
	}
	account, err := tx.GetAccountForUpdate(ctx, input.AccountID)
	if err != nil {
		return Entry{}, err
	}
	if account.Status == StatusInactive {
		return Entry{}, ErrAccountInactive
	}
	date := input.Date
	if date.IsZero() {
		date = time.Now().UTC()
	}
	entry := Entry{
		AccountID:   account.ID,
		Kind:        kind,
		Deposit:     decimal.Zero,
		Withdraw:    decimal.Zero,
		Particulars: input.Particulars,
		RefType:     input.RefType,
		RefID:       input.RefID,
		Remarks:     input.Remarks,
		Date:        date,
		CreatedBy:   actor.EmployeeID,
	}
	if kind == KindDeposit {
		entry.Deposit = input.Amount
	} else {
		entry.Withdraw = input.Amount
	}
	if entry.Particulars == "" {
		entry.Particulars = fmt.Sprintf("%s %s", kind, shared.FormatAmount(input.Amount))
	}
	account.Balance = account.Balance.Add(entry.Signed())
	entry.BalanceAfter = account.Balance

	id, err := tx.InsertEntry(ctx, entry)
	if err != nil {
		return Entry{}, err
	}
	entry.ID = id
	if err := tx.UpdateAccountBalance(ctx, account); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// Reverse deletes an entry inside tx, applying the inverse amount to the
// account and re-snapshotting every later entry of that account.
func Reverse(ctx context.Context, tx TxRepository, entryID int64) (Entry, error) {
	entry, err := tx.GetEntryForUpdate(ctx, entryID)
	if err != nil {
		return Entry{}, err
	}
	account, err := tx.GetAccountForUpdate(ctx, entry.AccountID)
	if err != nil {
		return Entry{}, err
	}
	account.Balance = account.Balance.Sub(entry.Signed())
	if err := tx.UpdateAccountBalance(ctx, account); err != nil {
		return Entry{}, err
	}
	later, err := tx.ListEntriesAfter(ctx, account.ID, entry.ID)
	if err != nil {
		return Entry{}, err
	}
	running := entry.BalanceAfter.Sub(entry.Signed())
	for _, next := range later {
		running = running.Add(next.Signed())
		if running.Equal(next.BalanceAfter) {
			continue
		}
		if err := tx.UpdateEntryBalanceAfter(ctx, next.ID, running); err != nil {
			return Entry{}, err
		}
	}
	if err := tx.DeleteEntry(ctx, entry.ID); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// replay rebuilds the account balance and every snapshot from full history.
func replay(ctx context.Context, tx TxRepository, accountID int64) (ReplayReport, error) {
	account, err := tx.GetAccountForUpdate(ctx, accountID)
	if err != nil {
		return ReplayReport{}, err
	}
	entries, err := tx.ListEntriesAfter(ctx, accountID, 0)
	if err != nil {
		return ReplayReport{}, err
	}
	report := ReplayReport{AccountID: accountID, BalanceBefore: account.Balance, Entries: len(entries)}
	running := decimal.Zero
	for _, entry := range entries {
		running = running.Add(entry.Signed())
		if running.Equal(entry.BalanceAfter) {
			continue
		}
		if err := tx.UpdateEntryBalanceAfter(ctx, entry.ID, running); err != nil {
			return ReplayReport{}, err
		}
		report.Corrected++
	}
	report.BalanceAfter = running
	if !running.Equal(account.Balance) {
		account.Balance = running
		if err := tx.UpdateAccountBalance(ctx, account); err != nil {
			return ReplayReport{}, err
		}
	}
	return report, nil
}
