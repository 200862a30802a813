package bank

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/restopos/internal/shared"
)

// EntryKind distinguishes deposits from withdrawals.
type EntryKind string

const (
	KindDeposit  EntryKind = "DEPOSIT"
	KindWithdraw EntryKind = "WITHDRAW"
)

// AccountStatus marks whether an account accepts postings.
type AccountStatus string

const (
	StatusActive   AccountStatus = "ACTIVE"
	StatusInactive AccountStatus = "INACTIVE"
)

// Reference types recorded on entries posted by other aggregates.
const (
	RefOpening        = "OPENING"
	RefManual         = "MANUAL"
	RefBill           = "BILL"
	RefPaymentReceipt = "PAYMENT_RECEIPT"
	RefSalesReceipt   = "SALES_RECEIPT"
	RefPurchaseBill   = "PURCHASE_BILL"
)

// Account is a bank or cash account with a running balance.
type Account struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Balance   decimal.Decimal `json:"balance"`
	Status    AccountStatus   `json:"status"`
	Version   int64           `json:"version"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Entry is one balance-affecting posting. Exactly one of Deposit and
// Withdraw is non-zero.
type Entry struct {
	ID           int64           `json:"id"`
	AccountID    int64           `json:"account_id"`
	Kind         EntryKind       `json:"kind"`
	Deposit      decimal.Decimal `json:"deposit"`
	Withdraw     decimal.Decimal `json:"withdraw"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	Particulars  string          `json:"particulars"`
	RefType      string          `json:"ref_type"`
	RefID        string          `json:"ref_id"`
	Remarks      string          `json:"remarks,omitempty"`
	Date         time.Time       `json:"date"`
	CreatedBy    int64           `json:"created_by,omitempty"`
}

// Signed returns the entry's effect on the account balance.
func (e Entry) Signed() decimal.Decimal {
	return e.Deposit.Sub(e.Withdraw)
}

// Owned reports whether the entry was posted on behalf of a document. Such
// entries are reversed through that document, never deleted directly.
func (e Entry) Owned() bool {
	switch e.RefType {
	case "", RefManual, RefOpening:
		return false
	}
	return true
}

// Amount returns the absolute posted amount.
func (e Entry) Amount() decimal.Decimal {
	if e.Kind == KindWithdraw {
		return e.Withdraw
	}
	return e.Deposit
}

// EntryInput describes a deposit or withdrawal request.
type EntryInput struct {
	AccountID   int64
	Amount      decimal.Decimal
	Particulars string
	RefType     string
	RefID       string
	Remarks     string
	Date        time.Time
}

// EntryFilter narrows entry listings.
type EntryFilter struct {
	AccountID int64
	RefType   string
	RefID     string
	From      time.Time
	To        time.Time
	Limit     int
}

// CreateAccountInput opens a new account.
type CreateAccountInput struct {
	Name           string
	OpeningBalance decimal.Decimal
}

// ReplayReport summarises a full balance rebuild.
type ReplayReport struct {
	AccountID     int64           `json:"account_id"`
	BalanceBefore decimal.Decimal `json:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	Entries       int             `json:"entries"`
	Corrected     int             `json:"corrected"`
}

var (
	ErrAccountNotFound = fmt.Errorf("bank: account %w", shared.ErrNotFound)
	ErrEntryNotFound   = fmt.Errorf("bank: entry %w", shared.ErrNotFound)
	ErrInvalidAmount   = fmt.Errorf("%w: bank: amount must be positive", shared.ErrValidation)
	ErrAccountRequired = fmt.Errorf("%w: bank: account required", shared.ErrValidation)
	ErrAccountInactive = fmt.Errorf("%w: bank: account inactive", shared.ErrConflict)
	ErrAccountExists   = fmt.Errorf("%w: bank: account name taken", shared.ErrConflict)
	ErrEntryOwned      = fmt.Errorf("%w: bank: entry belongs to a bill or receipt", shared.ErrConflict)
)
