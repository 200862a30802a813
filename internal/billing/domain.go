package billing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/restopos/internal/shared"
)

// Status is the lifecycle state of a finalized bill.
type Status string

const (
	StatusClose  Status = "CLOSE"
	StatusPaid   Status = "PAID"
	StatusCredit Status = "CREDIT"
)

// ReceivableStatus is the status of a customer bill given what receipts have
// collected against it.
func ReceivableStatus(net, paid decimal.Decimal) Status {
	if paid.IsPositive() && shared.Covers(paid, net) {
		return StatusPaid
	}
	return StatusCredit
}

// Sold reports whether the bill's stock effect has been applied.
func (s Status) Sold() bool {
	return s == StatusPaid || s == StatusCredit
}

// DraftLine is one line of a table's open order.
type DraftLine struct {
	ID        int64           `json:"id"`
	TableNo   string          `json:"table_no"`
	ItemCode  string          `json:"item_code,omitempty"`
	ItemName  string          `json:"item_name"`
	Qty       float64         `json:"qty"`
	Rate      decimal.Decimal `json:"rate"`
	Amt       decimal.Decimal `json:"amt"`
	PrintQty  float64         `json:"print_qty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// BillLine is a consolidated line of a finalized bill.
type BillLine struct {
	ItemCode string          `json:"item_code,omitempty"`
	ItemName string          `json:"item_name"`
	Qty      float64         `json:"qty"`
	Rate     decimal.Decimal `json:"rate"`
	Amt      decimal.Decimal `json:"amt"`
}

// Bill is a finalized sale.
type Bill struct {
	BillNo        string          `json:"bill_no"`
	Lines         []BillLine      `json:"lines"`
	BillAmt       decimal.Decimal `json:"bill_amt"`
	Discount      decimal.Decimal `json:"discount"`
	NetAmount     decimal.Decimal `json:"net_amount"`
	CashReceived  decimal.Decimal `json:"cash_received"`
	ReturnAmount  decimal.Decimal `json:"return_amount"`
	PaidAmount    decimal.Decimal `json:"paid_amount"`
	Status        Status          `json:"status"`
	TableNo       string          `json:"table_no"`
	CustomerID    int64           `json:"customer_id,omitempty"`
	BankAccountID int64           `json:"bank_account_id,omitempty"`
	BankEntryID   int64           `json:"bank_entry_id,omitempty"`
	PaymentMode   string          `json:"payment_mode,omitempty"`
	BillDate      time.Time       `json:"bill_date"`
	PaidAt        *time.Time      `json:"paid_at,omitempty"`
	CreatedBy     int64           `json:"created_by,omitempty"`
	Version       int64           `json:"version"`
}

// OnAccount reports whether the bill was billed to a customer. Its paid
// amount then comes from receipts, not from the counter.
func (b Bill) OnAccount() bool {
	return b.CustomerID != 0
}

// Balance returns the outstanding amount.
func (b Bill) Balance() decimal.Decimal {
	return b.NetAmount.Sub(b.PaidAmount)
}

// Result is a committed bill plus the side effects that degraded.
type Result struct {
	Bill     Bill             `json:"bill"`
	Warnings []shared.Warning `json:"warnings,omitempty"`
}

// Degraded reports whether any secondary mutation failed.
func (r Result) Degraded() bool {
	return len(r.Warnings) > 0
}

// DraftInput adds (or with a negative Qty, removes) quantity on a table.
type DraftInput struct {
	TableNo  string
	ItemCode string
	ItemName string
	Qty      float64
	Rate     decimal.Decimal
}

// LineInput is a requested bill line before consolidation.
type LineInput struct {
	ItemCode string
	ItemName string
	Qty      float64
	Rate     decimal.Decimal
}

// Payment carries settlement details for PAID or CREDIT bills.
type Payment struct {
	Discount      decimal.Decimal
	CashReceived  decimal.Decimal
	Mode          string
	BankAccountID int64
	CustomerID    int64
	Date          time.Time
}

// FinalizeInput converts a table's draft into a bill.
type FinalizeInput struct {
	TableNo  string
	BillDate time.Time
	Payment  Payment
}

// BillFilter narrows bill listings.
type BillFilter struct {
	Status     Status
	TableNo    string
	CustomerID int64
	From       time.Time
	To         time.Time
	Limit      int
}

var (
	ErrBillNotFound      = fmt.Errorf("billing: bill %w", shared.ErrNotFound)
	ErrDraftLineNotFound = fmt.Errorf("billing: draft line %w", shared.ErrNotFound)
	ErrEmptyDraft        = fmt.Errorf("%w: billing: table has no draft lines", shared.ErrValidation)
	ErrEmptyLines        = fmt.Errorf("%w: billing: at least one line required", shared.ErrValidation)
	ErrTableRequired     = fmt.Errorf("%w: billing: table required", shared.ErrValidation)
	ErrItemRequired      = fmt.Errorf("%w: billing: item name required", shared.ErrValidation)
	ErrInvalidQuantity   = fmt.Errorf("%w: billing: quantity must be positive", shared.ErrValidation)
	ErrInvalidRate       = fmt.Errorf("%w: billing: rate must not be negative", shared.ErrValidation)
	ErrCustomerRequired  = fmt.Errorf("%w: billing: credit bill requires customer", shared.ErrValidation)
	ErrDiscountTooLarge  = fmt.Errorf("%w: billing: discount exceeds bill amount", shared.ErrValidation)
	ErrPaidExceedsNet    = fmt.Errorf("%w: billing: edited total below amount already paid", shared.ErrValidation)
	ErrInvalidStatus     = fmt.Errorf("%w: billing: invalid status for operation", shared.ErrConflict)
	ErrTableHasOpenBill  = fmt.Errorf("%w: billing: table already has a closed bill", shared.ErrConflict)
	ErrTableOccupied     = fmt.Errorf("%w: billing: target table has an open order", shared.ErrConflict)
)
