package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/restopos/internal/bank"
	"github.com/odyssey-erp/restopos/internal/observability"
	"github.com/odyssey-erp/restopos/internal/shared"
	"github.com/odyssey-erp/restopos/internal/stock"
)

// TxRepository exposes transactional bill and draft operations. Bank
// postings for bills paid into an account share the same transaction.
type TxRepository interface {
	bank.TxRepository
	NextBillNo(ctx context.Context) (string, error)
	ListDraftLinesForUpdate(ctx context.Context, tableNo string) ([]DraftLine, error)
	GetDraftLineForUpdate(ctx context.Context, tableNo, itemName string, rate decimal.Decimal) (DraftLine, error)
	InsertDraftLine(ctx context.Context, line DraftLine) (int64, error)
	UpdateDraftLine(ctx context.Context, line DraftLine) error
	DeleteDraftLine(ctx context.Context, id int64) error
	DeleteDraftLines(ctx context.Context, tableNo string) error
	MoveDraftLines(ctx context.Context, fromTable, toTable string) error
	InsertBill(ctx context.Context, bill Bill) error
	GetBillForUpdate(ctx context.Context, billNo string) (Bill, error)
	UpdateBill(ctx context.Context, bill Bill) error
	ReplaceBillLines(ctx context.Context, billNo string, lines []BillLine) error
	DeleteBillLines(ctx context.Context, billNo string) error
	FindOpenBill(ctx context.Context, tableNo string) (Bill, error)
}

// RepositoryPort describes persistence used by the billing service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetBill(ctx context.Context, billNo string) (Bill, error)
	ListBills(ctx context.Context, filter BillFilter) ([]Bill, error)
	ListDraftLines(ctx context.Context, tableNo string) ([]DraftLine, error)
	FindOpenBill(ctx context.Context, tableNo string) (Bill, error)
}

// StockPort applies sale movements. A nil entry means the item is not tracked.
type StockPort interface {
	ReduceStock(ctx context.Context, actor shared.Actor, m stock.Movement) (*stock.Entry, error)
	ReverseStockForSale(ctx context.Context, actor shared.Actor, m stock.Movement) (*stock.Entry, error)
	SoldQuantities(ctx context.Context, billNo string) (map[string]float64, error)
}

// KitchenPort clears pending kitchen orders once a table is settled.
type KitchenPort interface {
	ClearTable(ctx context.Context, tableNo string) error
}

// LockPort serializes commands per bill or table.
type LockPort interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

// AuditPort records audit trail entries.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ServiceConfig wires the billing service collaborators.
type ServiceConfig struct {
	Stock   StockPort
	Kitchen KitchenPort
	Locker  LockPort
	Audit   AuditPort
	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// Service orchestrates draft orders and bills.
type Service struct {
	repo    RepositoryPort
	stock   StockPort
	kitchen KitchenPort
	locker  LockPort
	audit   AuditPort
	logger  *slog.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewService constructs the billing service.
func NewService(repo RepositoryPort, cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:    repo,
		stock:   cfg.Stock,
		kitchen: cfg.Kitchen,
		locker:  cfg.Locker,
		audit:   cfg.Audit,
		logger:  logger,
		metrics: cfg.Metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) lock(ctx context.Context, key string) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	return s.locker.Acquire(ctx, key)
}

// AddDraftLine adds quantity to the (table, item, rate) line, creating it when
// absent. A negative quantity reduces the line; reaching zero deletes it and
// the returned line is nil.
func (s *Service) AddDraftLine(ctx context.Context, actor shared.Actor, in DraftInput) (*DraftLine, error) {
	in.TableNo = strings.TrimSpace(in.TableNo)
	in.ItemName = strings.TrimSpace(in.ItemName)
	if in.TableNo == "" {
		return nil, ErrTableRequired
	}
	if in.ItemName == "" {
		return nil, ErrItemRequired
	}
	if in.Qty == 0 {
		return nil, ErrInvalidQuantity
	}
	if in.Rate.IsNegative() {
		return nil, ErrInvalidRate
	}
	release, err := s.lock(ctx, shared.TableLockKey(in.TableNo))
	if err != nil {
		return nil, err
	}
	defer release()

	var result *DraftLine
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		line, err := tx.GetDraftLineForUpdate(ctx, in.TableNo, in.ItemName, in.Rate)
		switch {
		case errors.Is(err, ErrDraftLineNotFound):
			if in.Qty < 0 {
				return ErrInvalidQuantity
			}
			line = DraftLine{
				TableNo:  in.TableNo,
				ItemCode: in.ItemCode,
				ItemName: in.ItemName,
				Qty:      in.Qty,
				Rate:     in.Rate,
				PrintQty: in.Qty,
			}
			line.Amt = lineAmount(line.Qty, line.Rate)
			line.UpdatedAt = s.now()
			id, err := tx.InsertDraftLine(ctx, line)
			if err != nil {
				return err
			}
			line.ID = id
			result = &line
			return nil
		case err != nil:
			return err
		}
		line.Qty += in.Qty
		if line.Qty <= 0 {
			return tx.DeleteDraftLine(ctx, line.ID)
		}
		line.PrintQty = math.Max(0, math.Min(line.PrintQty+in.Qty, line.Qty))
		if line.ItemCode == "" {
			line.ItemCode = in.ItemCode
		}
		line.Amt = lineAmount(line.Qty, line.Rate)
		line.UpdatedAt = s.now()
		if err := tx.UpdateDraftLine(ctx, line); err != nil {
			return err
		}
		result = &line
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ListDraftLines returns the open order for a table.
func (s *Service) ListDraftLines(ctx context.Context, tableNo string) ([]DraftLine, error) {
	if strings.TrimSpace(tableNo) == "" {
		return nil, ErrTableRequired
	}
	return s.repo.ListDraftLines(ctx, tableNo)
}

// MarkPrinted returns the quantities not yet sent to the kitchen and resets
// them, producing a kitchen order ticket.
func (s *Service) MarkPrinted(ctx context.Context, actor shared.Actor, tableNo string) ([]DraftLine, error) {
	if strings.TrimSpace(tableNo) == "" {
		return nil, ErrTableRequired
	}
	release, err := s.lock(ctx, shared.TableLockKey(tableNo))
	if err != nil {
		return nil, err
	}
	defer release()

	var ticket []DraftLine
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		lines, err := tx.ListDraftLinesForUpdate(ctx, tableNo)
		if err != nil {
			return err
		}
		for _, line := range lines {
			if line.PrintQty <= 0 {
				continue
			}
			printed := line
			printed.Qty = line.PrintQty
			printed.Amt = lineAmount(printed.Qty, printed.Rate)
			ticket = append(ticket, printed)
			line.PrintQty = 0
			line.UpdatedAt = s.now()
			if err := tx.UpdateDraftLine(ctx, line); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ticket, nil
}

// ClearDraft discards a table's open order.
func (s *Service) ClearDraft(ctx context.Context, actor shared.Actor, tableNo string) error {
	if strings.TrimSpace(tableNo) == "" {
		return ErrTableRequired
	}
	release, err := s.lock(ctx, shared.TableLockKey(tableNo))
	if err != nil {
		return err
	}
	defer release()
	if err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.DeleteDraftLines(ctx, tableNo)
	}); err != nil {
		return err
	}
	s.record(ctx, actor, "draft.clear", tableNo, nil)
	return nil
}

// CreateClosedBill finalizes the table's draft without payment. The table
// stays occupied and no stock moves.
func (s *Service) CreateClosedBill(ctx context.Context, actor shared.Actor, in FinalizeInput) (Result, error) {
	return s.finalize(ctx, actor, StatusClose, in)
}

// CreatePaidBill finalizes and settles the table's draft in one step.
func (s *Service) CreatePaidBill(ctx context.Context, actor shared.Actor, in FinalizeInput) (Result, error) {
	return s.finalize(ctx, actor, StatusPaid, in)
}

// CreateCreditBill finalizes the table's draft on a customer's account.
func (s *Service) CreateCreditBill(ctx context.Context, actor shared.Actor, in FinalizeInput) (Result, error) {
	if in.Payment.CustomerID == 0 {
		return Result{}, ErrCustomerRequired
	}
	return s.finalize(ctx, actor, StatusCredit, in)
}

func (s *Service) finalize(ctx context.Context, actor shared.Actor, status Status, in FinalizeInput) (Result, error) {
	in.TableNo = strings.TrimSpace(in.TableNo)
	if in.TableNo == "" {
		return Result{}, ErrTableRequired
	}
	release, err := s.lock(ctx, shared.TableLockKey(in.TableNo))
	if err != nil {
		return Result{}, err
	}
	defer release()

	var bill Bill
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.FindOpenBill(ctx, in.TableNo); err == nil {
			return ErrTableHasOpenBill
		} else if !errors.Is(err, ErrBillNotFound) {
			return err
		}
		drafts, err := tx.ListDraftLinesForUpdate(ctx, in.TableNo)
		if err != nil {
			return err
		}
		lines := ConsolidateDrafts(drafts)
		if len(lines) == 0 {
			return ErrEmptyDraft
		}
		billNo, err := tx.NextBillNo(ctx)
		if err != nil {
			return err
		}
		date := in.BillDate
		if date.IsZero() {
			date = s.now()
		}
		bill = Bill{
			BillNo:       billNo,
			Lines:        lines,
			Discount:     decimal.Zero,
			CashReceived: decimal.Zero,
			ReturnAmount: decimal.Zero,
			PaidAmount:   decimal.Zero,
			Status:       StatusClose,
			TableNo:      in.TableNo,
			BillDate:     date,
			CreatedBy:    actor.EmployeeID,
			Version:      1,
		}
		recomputeTotals(&bill)
		if status != StatusClose {
			if err := s.settle(ctx, tx, actor, &bill, status, in.Payment); err != nil {
				return err
			}
		}
		if err := tx.InsertBill(ctx, bill); err != nil {
			return err
		}
		if err := tx.ReplaceBillLines(ctx, bill.BillNo, bill.Lines); err != nil {
			return err
		}
		return tx.DeleteDraftLines(ctx, in.TableNo)
	})
	if err != nil {
		return Result{}, err
	}
	s.record(ctx, actor, "bill.create", bill.BillNo, map[string]any{"status": bill.Status, "net_amount": bill.NetAmount.String()})
	result := Result{Bill: bill}
	if status.Sold() {
		result.Warnings = s.afterSale(ctx, actor, bill, nil, saleMovements(bill.BillNo, stock.RefBill, bill.Lines), true)
	}
	return result, nil
}

// MarkAsPaid settles a CLOSE bill.
func (s *Service) MarkAsPaid(ctx context.Context, actor shared.Actor, billNo string, payment Payment) (Result, error) {
	return s.settleExisting(ctx, actor, billNo, StatusPaid, payment)
}

// MarkAsCredit moves a CLOSE bill onto a customer's account.
func (s *Service) MarkAsCredit(ctx context.Context, actor shared.Actor, billNo string, payment Payment) (Result, error) {
	if payment.CustomerID == 0 {
		return Result{}, ErrCustomerRequired
	}
	return s.settleExisting(ctx, actor, billNo, StatusCredit, payment)
}

func (s *Service) settleExisting(ctx context.Context, actor shared.Actor, billNo string, status Status, payment Payment) (Result, error) {
	release, err := s.lock(ctx, shared.BillLockKey(billNo))
	if err != nil {
		return Result{}, err
	}
	defer release()

	var bill Bill
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		bill, err = tx.GetBillForUpdate(ctx, billNo)
		if err != nil {
			return err
		}
		if bill.Status != StatusClose {
			return ErrInvalidStatus
		}
		if err := s.settle(ctx, tx, actor, &bill, status, payment); err != nil {
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
	s.record(ctx, actor, "bill.settle", bill.BillNo, map[string]any{"status": bill.Status, "net_amount": bill.NetAmount.String()})
	return Result{
		Bill:     bill,
		Warnings: s.afterSale(ctx, actor, bill, nil, saleMovements(bill.BillNo, stock.RefBill, bill.Lines), true),
	}, nil
}

// settle applies discount and payment to bill inside tx. Bills paid into a
// bank account post a deposit of the net amount in the same transaction.
func (s *Service) settle(ctx context.Context, tx TxRepository, actor shared.Actor, bill *Bill, status Status, p Payment) error {
	if p.Discount.IsNegative() {
		return fmt.Errorf("%w: billing: discount must not be negative", shared.ErrValidation)
	}
	bill.Discount = p.Discount
	recomputeTotals(bill)
	if bill.NetAmount.IsNegative() {
		return ErrDiscountTooLarge
	}
	paidAt := p.Date
	if paidAt.IsZero() {
		paidAt = s.now()
	}
	bill.Status = status
	bill.PaymentMode = p.Mode
	bill.PaidAt = &paidAt
	switch status {
	case StatusPaid:
		bill.PaidAmount = bill.NetAmount
		bill.CashReceived = p.CashReceived
		bill.ReturnAmount = shared.MaxZero(p.CashReceived.Sub(bill.NetAmount))
		if p.BankAccountID != 0 && bill.NetAmount.IsPositive() {
			entry, err := bank.Post(ctx, tx, actor, bank.KindDeposit, bank.EntryInput{
				AccountID:   p.BankAccountID,
				Amount:      bill.NetAmount,
				Particulars: "Bill " + bill.BillNo,
				RefType:     bank.RefBill,
				RefID:       bill.BillNo,
				Date:        paidAt,
			})
			if err != nil {
				return err
			}
			bill.BankAccountID = p.BankAccountID
			bill.BankEntryID = entry.ID
			s.metrics.LedgerPosting("bank", string(bank.KindDeposit))
		}
	case StatusCredit:
		if p.CustomerID == 0 {
			return ErrCustomerRequired
		}
		bill.CustomerID = p.CustomerID
		bill.PaidAmount = decimal.Zero
		bill.CashReceived = decimal.Zero
		bill.ReturnAmount = decimal.Zero
	default:
		return ErrInvalidStatus
	}
	return nil
}

// AddTransactionsToClosedBill merges the table's new draft lines into its
// CLOSE bill.
func (s *Service) AddTransactionsToClosedBill(ctx context.Context, actor shared.Actor, billNo string) (Result, error) {
	release, err := s.lock(ctx, shared.BillLockKey(billNo))
	if err != nil {
		return Result{}, err
	}
	defer release()

	var bill Bill
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		bill, err = tx.GetBillForUpdate(ctx, billNo)
		if err != nil {
			return err
		}
		if bill.Status != StatusClose {
			return ErrInvalidStatus
		}
		drafts, err := tx.ListDraftLinesForUpdate(ctx, bill.TableNo)
		if err != nil {
			return err
		}
		additions := ConsolidateDrafts(drafts)
		if len(additions) == 0 {
			return ErrEmptyDraft
		}
		bill.Lines = MergeLines(bill.Lines, additions)
		recomputeTotals(&bill)
		if err := tx.ReplaceBillLines(ctx, bill.BillNo, bill.Lines); err != nil {
			return err
		}
		if err := tx.UpdateBill(ctx, bill); err != nil {
			return err
		}
		bill.Version++
		return tx.DeleteDraftLines(ctx, bill.TableNo)
	})
	if err != nil {
		return Result{}, err
	}
	s.record(ctx, actor, "bill.add_lines", bill.BillNo, map[string]any{"bill_amt": bill.BillAmt.String()})
	return Result{Bill: bill}, nil
}

// ShiftBillToTable moves a CLOSE bill and its table's open order to another
// table.
func (s *Service) ShiftBillToTable(ctx context.Context, actor shared.Actor, billNo, tableNo string) (Result, error) {
	tableNo = strings.TrimSpace(tableNo)
	if tableNo == "" {
		return Result{}, ErrTableRequired
	}
	release, err := s.lock(ctx, shared.BillLockKey(billNo))
	if err != nil {
		return Result{}, err
	}
	defer release()
	releaseTable, err := s.lock(ctx, shared.TableLockKey(tableNo))
	if err != nil {
		return Result{}, err
	}
	defer releaseTable()

	var bill Bill
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		bill, err = tx.GetBillForUpdate(ctx, billNo)
		if err != nil {
			return err
		}
		if bill.Status != StatusClose {
			return ErrInvalidStatus
		}
		if bill.TableNo == tableNo {
			return nil
		}
		if _, err := tx.FindOpenBill(ctx, tableNo); err == nil {
			return ErrTableHasOpenBill
		} else if !errors.Is(err, ErrBillNotFound) {
			return err
		}
		pending, err := tx.ListDraftLinesForUpdate(ctx, tableNo)
		if err != nil {
			return err
		}
		if len(pending) > 0 {
			return ErrTableOccupied
		}
		if err := tx.MoveDraftLines(ctx, bill.TableNo, tableNo); err != nil {
			return err
		}
		bill.TableNo = tableNo
		if err := tx.UpdateBill(ctx, bill); err != nil {
			return err
		}
		bill.Version++
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	s.record(ctx, actor, "bill.shift", bill.BillNo, map[string]any{"table_no": tableNo})
	return Result{Bill: bill}, nil
}

// GetBill loads a bill with its lines.
func (s *Service) GetBill(ctx context.Context, billNo string) (Bill, error) {
	return s.repo.GetBill(ctx, billNo)
}

// ListBills lists bills matching filter.
func (s *Service) ListBills(ctx context.Context, filter BillFilter) ([]Bill, error) {
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return nil, fmt.Errorf("%w: billing: invalid date range", shared.ErrValidation)
	}
	return s.repo.ListBills(ctx, filter)
}

// OpenBillForTable returns the table's CLOSE bill.
func (s *Service) OpenBillForTable(ctx context.Context, tableNo string) (Bill, error) {
	if strings.TrimSpace(tableNo) == "" {
		return Bill{}, ErrTableRequired
	}
	return s.repo.FindOpenBill(ctx, tableNo)
}

func saleMovements(billNo, refType string, lines []BillLine) []stock.Movement {
	out := make([]stock.Movement, 0, len(lines))
	for _, line := range lines {
		if line.Qty <= 0 {
			continue
		}
		out = append(out, stock.Movement{
			ItemCode: line.ItemCode,
			ItemName: line.ItemName,
			Quantity: line.Qty,
			Rate:     line.Rate,
			RefType:  refType,
			RefNo:    billNo,
		})
	}
	return out
}

// afterSale applies stock movements and kitchen cleanup once the bill has
// committed. Failures never roll back the bill; they are reported as warnings.
func (s *Service) afterSale(ctx context.Context, actor shared.Actor, bill Bill, reversals, sales []stock.Movement, clearTable bool) []shared.Warning {
	var warnings shared.Warnings
	if s.stock != nil {
		for _, m := range reversals {
			entry, err := s.stock.ReverseStockForSale(ctx, actor, m)
			s.checkStock(&warnings, bill.BillNo, m, entry, err)
		}
		for _, m := range sales {
			entry, err := s.stock.ReduceStock(ctx, actor, m)
			s.checkStock(&warnings, bill.BillNo, m, entry, err)
		}
	}
	if s.kitchen != nil && clearTable {
		if err := s.kitchen.ClearTable(ctx, bill.TableNo); err != nil {
			s.logger.Warn("kitchen cleanup failed", slog.String("bill_no", bill.BillNo), slog.String("table_no", bill.TableNo), slog.Any("error", err))
			s.metrics.SideEffectWarning(string(shared.WarningKitchenCleanup))
			warnings.Add(shared.WarningKitchenCleanup, "table", bill.TableNo, err)
		}
	}
	return warnings
}

func (s *Service) checkStock(warnings *shared.Warnings, billNo string, m stock.Movement, entry *stock.Entry, err error) {
	if err != nil {
		s.logger.Warn("stock posting failed", slog.String("bill_no", billNo), slog.String("item", m.Label()), slog.Any("error", err))
		s.metrics.SideEffectWarning(string(shared.WarningStockFailed))
		warnings.Add(shared.WarningStockFailed, "stock", m.Label(), err)
		return
	}
	if entry != nil && entry.NewStock < 0 {
		s.metrics.SideEffectWarning(string(shared.WarningNegativeStock))
		warnings.Add(shared.WarningNegativeStock, "stock", m.Label(), fmt.Errorf("stock now %g", entry.NewStock))
	}
}

func (s *Service) record(ctx context.Context, actor shared.Actor, action, ref string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		Actor:    actor,
		Action:   action,
		Entity:   "bill",
		EntityID: ref,
		Meta:     meta,
		At:       s.now(),
	})
}
