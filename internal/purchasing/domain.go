package purchasing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/restopos/internal/shared"
)

// Status describes how much of a purchase bill has been paid.
type Status string

const (
	StatusPending       Status = "PENDING"
	StatusPartiallyPaid Status = "PARTIALLY_PAID"
	StatusPaid          Status = "PAID"
)

// StatusFor derives the payment status from net and paid amounts.
func StatusFor(net, paid decimal.Decimal) Status {
	if !paid.IsPositive() {
		return StatusPending
	}
	if shared.Covers(paid, net) {
		return StatusPaid
	}
	return StatusPartiallyPaid
}

// Line is a purchased item.
type Line struct {
	ItemCode   string          `json:"item_code,omitempty"`
	ItemName   string          `json:"item_name"`
	CategoryID int64           `json:"category_id,omitempty"`
	Qty        float64         `json:"qty"`
	Rate       decimal.Decimal `json:"rate"`
	Amt        decimal.Decimal `json:"amt"`
}

// PurchaseBill is a supplier invoice recorded against the shop.
type PurchaseBill struct {
	ID            int64           `json:"id"`
	BillNo        string          `json:"bill_no"`
	SupplierID    int64           `json:"supplier_id"`
	SupplierName  string          `json:"supplier_name"`
	InvoiceNo     string          `json:"invoice_no,omitempty"`
	BillDate      time.Time       `json:"bill_date"`
	Lines         []Line          `json:"lines,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	GST           decimal.Decimal `json:"gst"`
	OtherTax      decimal.Decimal `json:"other_tax"`
	NetAmount     decimal.Decimal `json:"net_amount"`
	PaidAmount    decimal.Decimal `json:"paid_amount"`
	BankAccountID int64           `json:"bank_account_id,omitempty"`
	BankEntryID   int64           `json:"bank_entry_id,omitempty"`
	Status        Status          `json:"status"`
	Remarks       string          `json:"remarks,omitempty"`
	CreatedBy     int64           `json:"created_by,omitempty"`
	Version       int64           `json:"version"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Balance returns the unpaid amount.
func (b PurchaseBill) Balance() decimal.Decimal {
	return b.NetAmount.Sub(b.PaidAmount)
}

// LineInput is a purchased item as submitted.
type LineInput struct {
	ItemCode   string  `validate:"max=40"`
	ItemName   string  `validate:"required,max=120"`
	CategoryID int64   `validate:"gte=0"`
	Qty        float64 `validate:"gt=0"`
	Rate       decimal.Decimal
}

// CreateInput records a purchase bill. BankAccountID funds PaidAmount.
type CreateInput struct {
	SupplierID    int64  `validate:"required,gt=0"`
	SupplierName  string `validate:"required,max=160"`
	InvoiceNo     string `validate:"max=60"`
	BillDate      time.Time
	GST           decimal.Decimal
	OtherTax      decimal.Decimal
	PaidAmount    decimal.Decimal
	BankAccountID int64       `validate:"gte=0"`
	Remarks       string      `validate:"max=255"`
	Lines         []LineInput `validate:"required,min=1,dive"`
}

// Result is a committed purchase bill plus degraded stock postings.
type Result struct {
	Bill     PurchaseBill     `json:"bill"`
	Warnings []shared.Warning `json:"warnings,omitempty"`
}

// ListFilter narrows purchase bill listings.
type ListFilter struct {
	SupplierID int64
	Status     Status
	From       time.Time
	To         time.Time
	Limit      int
}

var (
	ErrBillNotFound        = fmt.Errorf("purchasing: purchase bill %w", shared.ErrNotFound)
	ErrNegativeAmount      = fmt.Errorf("%w: purchasing: amounts must not be negative", shared.ErrValidation)
	ErrOverpaid            = fmt.Errorf("%w: purchasing: paid amount exceeds net amount", shared.ErrValidation)
	ErrBankAccountRequired = fmt.Errorf("%w: purchasing: upfront payment requires a bank account", shared.ErrValidation)
)
