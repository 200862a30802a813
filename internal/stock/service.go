package stock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/restopos/internal/observability"
	"github.com/odyssey-erp/restopos/internal/shared"
)

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	FindItemForUpdate(ctx context.Context, itemCode, itemName string) (Item, error)
	InsertItem(ctx context.Context, item Item) (int64, error)
	UpdateItemStock(ctx context.Context, item Item) error
	InsertEntry(ctx context.Context, entry Entry) (int64, error)
}

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	FindItem(ctx context.Context, itemCode, itemName string) (Item, error)
	GetItem(ctx context.Context, id int64) (Item, error)
	ListItemIDs(ctx context.Context) ([]int64, error)
	ListLowStock(ctx context.Context, threshold float64) ([]Item, error)
	ListEntries(ctx context.Context, filter HistoryFilter) ([]Entry, error)
}

// Catalog resolves the category of a sellable item.
type Catalog interface {
	CategoryOf(ctx context.Context, itemCode, itemName string) (int64, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates stock ledger operations.
type Service struct {
	repo    RepositoryPort
	catalog Catalog
	flags   CategoryStore
	audit   AuditPort
	logger  *slog.Logger
	metrics *observability.Metrics
}

// ServiceConfig groups collaborators of the stock service.
type ServiceConfig struct {
	Catalog Catalog
	// Flags gates postings per category. Without it every category is tracked.
	Flags   CategoryStore
	Audit   AuditPort
	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// NewService builds Service.
func NewService(repo RepositoryPort, cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, catalog: cfg.Catalog, flags: cfg.Flags, audit: cfg.Audit, logger: logger, metrics: cfg.Metrics}
}

// AddStock posts a purchase receipt. Returns nil when the category is not tracked.
func (s *Service) AddStock(ctx context.Context, actor shared.Actor, m Movement) (*Entry, error) {
	return s.move(ctx, actor, TypePurchase, m)
}

// ReduceStock posts a sale. Returns nil when the category is not tracked.
func (s *Service) ReduceStock(ctx context.Context, actor shared.Actor, m Movement) (*Entry, error) {
	return s.move(ctx, actor, TypeSale, m)
}

// ReverseStockForSale puts sold quantity back when a bill is edited.
func (s *Service) ReverseStockForSale(ctx context.Context, actor shared.Actor, m Movement) (*Entry, error) {
	if m.Remarks == "" {
		m.Remarks = "Sale reversed for bill edit"
	}
	return s.move(ctx, actor, TypeSaleReversal, m)
}

// SoldQuantities nets the sale and edit-reversal entries posted for a bill,
// keyed by item name. Items with no posting are absent.
func (s *Service) SoldQuantities(ctx context.Context, billNo string) (map[string]float64, error) {
	entries, err := s.repo.ListEntries(ctx, HistoryFilter{RefNo: billNo})
	if err != nil {
		return nil, err
	}
	sold := make(map[string]float64)
	for _, e := range entries {
		switch {
		case e.Type == TypeSale && e.RefType == RefBill:
			sold[e.ItemName] += e.Quantity
		case e.Type == TypeSaleReversal && e.RefType == RefBillEdit:
			sold[e.ItemName] -= e.Quantity
		}
	}
	return sold, nil
}

// AdjustStock sets the item's stock to a counted value, ignoring the category gate.
func (s *Service) AdjustStock(ctx context.Context, actor shared.Actor, input AdjustInput) (*Entry, error) {
	if input.ItemCode == "" && input.ItemName == "" {
		return nil, ErrItemRequired
	}
	var entry Entry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		item, err := s.resolveItem(ctx, tx, input.ItemCode, input.ItemName, input.CategoryID)
		if err != nil {
			return err
		}
		delta := input.TargetStock - item.Stock
		entry = Entry{
			Type:     TypeAdjustment,
			Quantity: delta,
			Rate:     decimal.Zero,
			Amount:   decimal.Zero,
			RefType:  RefManual,
			RefNo:    input.RefNo,
			Remarks:  input.Remarks,
		}
		return s.apply(ctx, tx, actor, &item, &entry, delta)
	})
	if err != nil {
		return nil, err
	}
	s.metrics.LedgerPosting("stock", string(TypeAdjustment))
	s.record(ctx, actor, entry)
	return &entry, nil
}

func (s *Service) move(ctx context.Context, actor shared.Actor, typ EntryType, m Movement) (*Entry, error) {
	if m.ItemCode == "" && m.ItemName == "" {
		return nil, ErrItemRequired
	}
	if m.Quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	if m.Rate.IsNegative() {
		return nil, ErrInvalidRate
	}
	categoryID, tracked, err := s.gate(ctx, m)
	if err != nil {
		return nil, err
	}
	if !tracked {
		return nil, nil
	}
	delta := m.Quantity
	if typ == TypeSale {
		delta = -m.Quantity
	}
	var entry Entry
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		item, err := s.resolveItem(ctx, tx, m.ItemCode, m.ItemName, categoryID)
		if err != nil {
			return err
		}
		entry = Entry{
			Type:     typ,
			Quantity: m.Quantity,
			Rate:     m.Rate,
			Amount:   m.Rate.Mul(decimal.NewFromFloat(m.Quantity)).Round(2),
			RefType:  m.RefType,
			RefNo:    m.RefNo,
			Remarks:  m.Remarks,
		}
		return s.apply(ctx, tx, actor, &item, &entry, delta)
	})
	if err != nil {
		return nil, err
	}
	s.metrics.LedgerPosting("stock", string(typ))
	s.record(ctx, actor, entry)
	if entry.NewStock < 0 {
		s.logger.Warn("stock negative after posting",
			slog.String("item", m.Label()),
			slog.String("type", string(typ)),
			slog.Float64("new_stock", entry.NewStock),
			slog.String("ref_no", m.RefNo))
	}
	return &entry, nil
}

// gate resolves the movement's category and its tracked flag.
func (s *Service) gate(ctx context.Context, m Movement) (int64, bool, error) {
	categoryID := m.CategoryID
	if categoryID == 0 && s.catalog != nil {
		id, err := s.catalog.CategoryOf(ctx, m.ItemCode, m.ItemName)
		if errors.Is(err, ErrCategoryUnknown) {
			return 0, false, nil
		}
		if err != nil {
			return 0, false, fmt.Errorf("stock: resolve category of %s: %w", m.Label(), err)
		}
		categoryID = id
	}
	if s.flags == nil {
		return categoryID, true, nil
	}
	if categoryID == 0 {
		return 0, false, nil
	}
	tracked, err := s.flags.IsTracked(ctx, categoryID)
	if errors.Is(err, ErrCategoryUnknown) {
		return categoryID, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("stock: category %d flag: %w", categoryID, err)
	}
	return categoryID, tracked, nil
}

// resolveItem loads the item by code then name, creating it on first use.
func (s *Service) resolveItem(ctx context.Context, tx TxRepository, code, name string, categoryID int64) (Item, error) {
	item, err := tx.FindItemForUpdate(ctx, code, name)
	if err == nil {
		if item.CategoryID == 0 && categoryID != 0 {
			item.CategoryID = categoryID
		}
		return item, nil
	}
	if !errors.Is(err, ErrItemNotFound) {
		return Item{}, err
	}
	item = Item{ItemCode: code, ItemName: name, CategoryID: categoryID, Stock: 0, Version: 1}
	id, err := tx.InsertItem(ctx, item)
	if err != nil {
		return Item{}, err
	}
	item.ID = id
	return item, nil
}

func (s *Service) apply(ctx context.Context, tx TxRepository, actor shared.Actor, item *Item, entry *Entry, delta float64) error {
	entry.ItemID = item.ID
	entry.ItemCode = item.ItemCode
	entry.ItemName = item.ItemName
	entry.PreviousStock = item.Stock
	entry.NewStock = item.Stock + delta
	entry.CreatedAt = time.Now().UTC()
	entry.CreatedBy = actor.EmployeeID
	id, err := tx.InsertEntry(ctx, *entry)
	if err != nil {
		return err
	}
	entry.ID = id
	item.Stock = entry.NewStock
	return tx.UpdateItemStock(ctx, *item)
}

// CurrentStock returns the item with its current stock level.
func (s *Service) CurrentStock(ctx context.Context, itemCode, itemName string) (Item, error) {
	if itemCode == "" && itemName == "" {
		return Item{}, ErrItemRequired
	}
	return s.repo.FindItem(ctx, itemCode, itemName)
}

// LowStock lists items at or below threshold.
func (s *Service) LowStock(ctx context.Context, threshold float64) ([]Item, error) {
	return s.repo.ListLowStock(ctx, threshold)
}

// History lists stock postings.
func (s *Service) History(ctx context.Context, filter HistoryFilter) ([]Entry, error) {
	if filter.Limit <= 0 {
		filter.Limit = 200
	}
	return s.repo.ListEntries(ctx, filter)
}

// Reconcile verifies the snapshot chain of one item.
func (s *Service) Reconcile(ctx context.Context, itemID int64) (ReconcileReport, error) {
	item, err := s.repo.GetItem(ctx, itemID)
	if err != nil {
		return ReconcileReport{}, err
	}
	entries, err := s.repo.ListEntries(ctx, HistoryFilter{ItemID: itemID})
	if err != nil {
		return ReconcileReport{}, err
	}
	report := ReconcileReport{ItemID: itemID, Entries: len(entries), Stock: item.Stock, Consistent: true}
	for i, entry := range entries {
		ok := sameQty(entry.NewStock, entry.PreviousStock+entry.Signed())
		if i > 0 && !sameQty(entry.PreviousStock, entries[i-1].NewStock) {
			ok = false
		}
		if !ok {
			report.Broken = append(report.Broken, entry.ID)
		}
		report.LastStock = entry.NewStock
	}
	if len(entries) > 0 && !sameQty(report.LastStock, item.Stock) {
		report.Consistent = false
	}
	if len(report.Broken) > 0 {
		report.Consistent = false
	}
	if !report.Consistent {
		s.logger.Warn("stock ledger inconsistent",
			slog.Int64("item_id", itemID),
			slog.Float64("stock", item.Stock),
			slog.Float64("last_new_stock", report.LastStock),
			slog.Int("broken", len(report.Broken)))
	}
	return report, nil
}

// ItemIDs lists every stock item id.
func (s *Service) ItemIDs(ctx context.Context) ([]int64, error) {
	return s.repo.ListItemIDs(ctx)
}

// SetCategoryTracked switches stock accounting on or off for a category.
// Postings already made are left as they are.
func (s *Service) SetCategoryTracked(ctx context.Context, actor shared.Actor, categoryID int64, tracked bool) error {
	if categoryID <= 0 {
		return fmt.Errorf("%w: stock: category required", shared.ErrValidation)
	}
	if s.flags == nil {
		return ErrCategoriesFixed
	}
	if err := s.flags.SetTracked(ctx, categoryID, tracked); err != nil {
		return err
	}
	s.logger.Info("category tracking changed", slog.Int64("category_id", categoryID), slog.Bool("tracked", tracked))
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			Actor:    actor,
			Action:   "stock.category_tracking",
			Entity:   "category",
			EntityID: strconv.FormatInt(categoryID, 10),
			Meta:     map[string]any{"tracked": tracked},
		})
	}
	return nil
}

func (s *Service) record(ctx context.Context, actor shared.Actor, entry Entry) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		Actor:    actor,
		Action:   "stock." + string(entry.Type),
		Entity:   "stock_entry",
		EntityID: strconv.FormatInt(entry.ID, 10),
		Meta: map[string]any{
			"item_id":        entry.ItemID,
			"quantity":       entry.Quantity,
			"previous_stock": entry.PreviousStock,
			"new_stock":      entry.NewStock,
			"ref_no":         entry.RefNo,
		},
	})
}
