package payments

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/restopos/internal/shared"
)

// Side selects who is paying whom.
type Side string

const (
	// SideSupplier pays purchase bills out of a bank account.
	SideSupplier Side = "SUPPLIER"
	// SideCustomer collects on credit sales bills into a bank account.
	SideCustomer Side = "CUSTOMER"
)

// Valid reports whether s is a known side.
func (s Side) Valid() bool {
	return s == SideSupplier || s == SideCustomer
}

// Allocation applies part of a receipt to one bill.
type Allocation struct {
	ID        int64           `json:"id"`
	ReceiptID int64           `json:"receipt_id"`
	BillNo    string          `json:"bill_no"`
	Amount    decimal.Decimal `json:"amount"`
}

// Receipt is a grouped payment backed by exactly one bank entry.
type Receipt struct {
	ID             int64           `json:"id"`
	ReceiptNo      string          `json:"receipt_no"`
	Side           Side            `json:"side"`
	PartyID        int64           `json:"party_id"`
	PartyName      string          `json:"party_name,omitempty"`
	BankAccountID  int64           `json:"bank_account_id"`
	BankEntryID    int64           `json:"bank_entry_id"`
	Total          decimal.Decimal `json:"total"`
	Mode           string          `json:"mode,omitempty"`
	ChequeNo       string          `json:"cheque_no,omitempty"`
	RefNo          string          `json:"ref_no,omitempty"`
	BillsCount     int             `json:"bills_count"`
	Date           time.Time       `json:"date"`
	Remarks        string          `json:"remarks,omitempty"`
	IdempotencyKey string          `json:"-"`
	Allocations    []Allocation    `json:"allocations"`
	CreatedBy      int64           `json:"created_by,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// AllocationInput requests an amount against a bill.
type AllocationInput struct {
	BillNo string `validate:"required,max=40"`
	Amount decimal.Decimal
}

// GroupedPaymentInput records one payment split across bills of one party.
type GroupedPaymentInput struct {
	Side           Side   `validate:"required,oneof=SUPPLIER CUSTOMER"`
	PartyID        int64  `validate:"required,gt=0"`
	PartyName      string `validate:"max=160"`
	BankAccountID  int64  `validate:"required,gt=0"`
	Total          decimal.Decimal
	Mode           string `validate:"max=20"`
	ChequeNo       string `validate:"max=40"`
	RefNo          string `validate:"max=60"`
	Date           time.Time
	Remarks        string            `validate:"max=255"`
	Allocations    []AllocationInput `validate:"required,min=1,dive"`
	IdempotencyKey string            `validate:"max=120"`
}

// Payable is the payment view of a purchase bill or a credit sales bill.
type Payable struct {
	BillNo     string
	PartyID    int64
	NetAmount  decimal.Decimal
	PaidAmount decimal.Decimal
	Status     string
	Version    int64
}

// Balance returns the unpaid amount.
func (p Payable) Balance() decimal.Decimal {
	return p.NetAmount.Sub(p.PaidAmount)
}

// ReceiptFilter narrows receipt listings.
type ReceiptFilter struct {
	Side    Side
	PartyID int64
	BillNo  string
	From    time.Time
	To      time.Time
	Limit   int
}

var (
	ErrReceiptNotFound          = fmt.Errorf("payments: receipt %w", shared.ErrNotFound)
	ErrPayableNotFound          = fmt.Errorf("payments: bill %w", shared.ErrNotFound)
	ErrAllocationMismatch       = fmt.Errorf("%w: payments: allocations do not add up to the total", shared.ErrValidation)
	ErrAllocationExceedsBalance = fmt.Errorf("%w: payments: allocation exceeds bill balance", shared.ErrValidation)
	ErrInvalidAmount            = fmt.Errorf("%w: payments: amounts must be positive", shared.ErrValidation)
	ErrPartyMismatch            = fmt.Errorf("%w: payments: bill belongs to another party", shared.ErrValidation)
	ErrBillNotOnCredit          = fmt.Errorf("%w: payments: sales bill is not on credit", shared.ErrConflict)
)
