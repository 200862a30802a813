package stock

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/restopos/internal/shared"
)

// EntryType enumerates stock ledger postings.
type EntryType string

const (
	TypePurchase     EntryType = "PURCHASE"
	TypeSale         EntryType = "SALE"
	TypeSaleReversal EntryType = "SALE_REVERSAL"
	TypeAdjustment   EntryType = "ADJUSTMENT"
)

// Reference types for stock postings.
const (
	RefBill         = "BILL"
	RefBillEdit     = "BILL_EDIT"
	RefPurchaseBill = "PURCHASE_BILL"
	RefManual       = "MANUAL"
)

// Item is a stock-keeping item. Stock may be negative.
type Item struct {
	ID         int64     `json:"id"`
	ItemCode   string    `json:"item_code"`
	ItemName   string    `json:"item_name"`
	CategoryID int64     `json:"category_id"`
	Stock      float64   `json:"stock"`
	Version    int64     `json:"version"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Entry is an immutable stock posting with pre/post snapshots.
type Entry struct {
	ID            int64           `json:"id"`
	ItemID        int64           `json:"item_id"`
	ItemCode      string          `json:"item_code"`
	ItemName      string          `json:"item_name"`
	Type          EntryType       `json:"type"`
	Quantity      float64         `json:"quantity"`
	Rate          decimal.Decimal `json:"rate"`
	Amount        decimal.Decimal `json:"amount"`
	PreviousStock float64         `json:"previous_stock"`
	NewStock      float64         `json:"new_stock"`
	RefType       string          `json:"ref_type"`
	RefNo         string          `json:"ref_no"`
	Remarks       string          `json:"remarks,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	CreatedBy     int64           `json:"created_by,omitempty"`
}

// Signed returns the entry's effect on item stock. Adjustments store a signed delta.
func (e Entry) Signed() float64 {
	switch e.Type {
	case TypeSale:
		return -e.Quantity
	default:
		return e.Quantity
	}
}

// Movement describes a stock change caused by a document line.
type Movement struct {
	ItemCode   string
	ItemName   string
	CategoryID int64
	Quantity   float64
	Rate       decimal.Decimal
	RefType    string
	RefNo      string
	Remarks    string
}

// Label identifies the moved item for logs and warnings.
func (m Movement) Label() string {
	if m.ItemCode != "" {
		return m.ItemCode
	}
	return m.ItemName
}

// AdjustInput sets an item's stock to a counted value.
type AdjustInput struct {
	ItemCode    string
	ItemName    string
	CategoryID  int64
	TargetStock float64
	RefNo       string
	Remarks     string
}

// HistoryFilter narrows entry listings.
type HistoryFilter struct {
	ItemID int64
	Type   EntryType
	RefNo  string
	From   time.Time
	To     time.Time
	Limit  int
}

// ReconcileReport describes the snapshot chain check of one item.
type ReconcileReport struct {
	ItemID     int64   `json:"item_id"`
	Entries    int     `json:"entries"`
	Stock      float64 `json:"stock"`
	LastStock  float64 `json:"last_new_stock"`
	Broken     []int64 `json:"broken_entries,omitempty"`
	Consistent bool    `json:"consistent"`
}

const qtyEpsilon = 1e-6

func sameQty(a, b float64) bool {
	return math.Abs(a-b) < qtyEpsilon
}

var (
	ErrItemNotFound    = fmt.Errorf("stock: item %w", shared.ErrNotFound)
	ErrItemRequired    = fmt.Errorf("%w: stock: item code or name required", shared.ErrValidation)
	ErrInvalidQuantity = fmt.Errorf("%w: stock: quantity must be positive", shared.ErrValidation)
	ErrInvalidRate     = fmt.Errorf("%w: stock: rate must not be negative", shared.ErrValidation)
	ErrCategoryUnknown = fmt.Errorf("stock: category %w", shared.ErrNotFound)
	ErrCategoriesFixed = fmt.Errorf("%w: stock: category flags are not configurable", shared.ErrConflict)
)
