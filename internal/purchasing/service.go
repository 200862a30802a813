package purchasing

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/restopos/internal/bank"
	"github.com/odyssey-erp/restopos/internal/observability"
	"github.com/odyssey-erp/restopos/internal/shared"
	"github.com/odyssey-erp/restopos/internal/stock"
)

// TxRepository exposes transactional purchase bill writes. An upfront
// payment is withdrawn through the embedded ledger port in the same
// transaction.
type TxRepository interface {
	bank.TxRepository
	NextBillNo(ctx context.Context) (string, error)
	InsertPurchaseBill(ctx context.Context, bill PurchaseBill) (int64, error)
	InsertLines(ctx context.Context, billID int64, lines []Line) error
}

// RepositoryPort describes persistence used by the purchasing service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetPurchaseBill(ctx context.Context, billNo string) (PurchaseBill, error)
	ListPurchaseBills(ctx context.Context, filter ListFilter) ([]PurchaseBill, error)
}

// StockPort receives purchased quantities. A nil entry means the item is not tracked.
type StockPort interface {
	AddStock(ctx context.Context, actor shared.Actor, m stock.Movement) (*stock.Entry, error)
}

// AuditPort records audit trail entries.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service records supplier purchase bills.
type Service struct {
	repo      RepositoryPort
	stock     StockPort
	audit     AuditPort
	logger    *slog.Logger
	metrics   *observability.Metrics
	validator *validator.Validate
}

// NewService constructs the purchasing service.
func NewService(repo RepositoryPort, stockPort StockPort, audit AuditPort, logger *slog.Logger, metrics *observability.Metrics) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, stock: stockPort, audit: audit, logger: logger, metrics: metrics, validator: validator.New()}
}

// CreatePurchaseBill records the bill and its lines, then receives each line
// into stock. A paid amount is withdrawn from BankAccountID with the bill.
// Stock failures are reported as warnings.
func (s *Service) CreatePurchaseBill(ctx context.Context, actor shared.Actor, input CreateInput) (Result, error) {
	input.SupplierName = strings.TrimSpace(input.SupplierName)
	if err := s.validator.Struct(input); err != nil {
		return Result{}, fmt.Errorf("%w: %v", shared.ErrValidation, err)
	}
	if input.GST.IsNegative() || input.OtherTax.IsNegative() || input.PaidAmount.IsNegative() {
		return Result{}, ErrNegativeAmount
	}
	if input.PaidAmount.IsPositive() && input.BankAccountID == 0 {
		return Result{}, ErrBankAccountRequired
	}
	lines := make([]Line, 0, len(input.Lines))
	amount := decimal.Zero
	for _, l := range input.Lines {
		if l.Rate.IsNegative() {
			return Result{}, ErrNegativeAmount
		}
		line := Line{
			ItemCode:   l.ItemCode,
			ItemName:   strings.TrimSpace(l.ItemName),
			CategoryID: l.CategoryID,
			Qty:        l.Qty,
			Rate:       l.Rate,
			Amt:        l.Rate.Mul(decimal.NewFromFloat(l.Qty)).Round(2),
		}
		amount = amount.Add(line.Amt)
		lines = append(lines, line)
	}
	billDate := input.BillDate
	if billDate.IsZero() {
		billDate = time.Now().UTC()
	}
	bill := PurchaseBill{
		SupplierID:   input.SupplierID,
		SupplierName: input.SupplierName,
		InvoiceNo:    input.InvoiceNo,
		BillDate:     billDate,
		Lines:        lines,
		Amount:       amount,
		GST:          input.GST,
		OtherTax:     input.OtherTax,
		PaidAmount:   input.PaidAmount,
		Remarks:      input.Remarks,
		CreatedBy:    actor.EmployeeID,
		Version:      1,
		CreatedAt:    time.Now().UTC(),
	}
	bill.NetAmount = amount.Add(input.GST).Add(input.OtherTax)
	if !shared.Covers(bill.NetAmount, bill.PaidAmount) {
		return Result{}, ErrOverpaid
	}
	bill.Status = StatusFor(bill.NetAmount, bill.PaidAmount)

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		billNo, err := tx.NextBillNo(ctx)
		if err != nil {
			return err
		}
		bill.BillNo = billNo
		if bill.PaidAmount.IsPositive() {
			entry, err := bank.Post(ctx, tx, actor, bank.KindWithdraw, bank.EntryInput{
				AccountID:   input.BankAccountID,
				Amount:      bill.PaidAmount,
				Particulars: "Purchase " + bill.BillNo + " from " + bill.SupplierName,
				RefType:     bank.RefPurchaseBill,
				RefID:       bill.BillNo,
				Date:        billDate,
			})
			if err != nil {
				return err
			}
			bill.BankAccountID = input.BankAccountID
			bill.BankEntryID = entry.ID
		}
		id, err := tx.InsertPurchaseBill(ctx, bill)
		if err != nil {
			return err
		}
		bill.ID = id
		return tx.InsertLines(ctx, id, bill.Lines)
	})
	if err != nil {
		return Result{}, err
	}
	if bill.BankEntryID != 0 {
		s.metrics.LedgerPosting("bank", string(bank.KindWithdraw))
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			Actor:    actor,
			Action:   "purchase.create",
			Entity:   "purchase_bill",
			EntityID: bill.BillNo,
			Meta:     map[string]any{"supplier_id": bill.SupplierID, "net_amount": bill.NetAmount.String()},
			At:       time.Now().UTC(),
		})
	}
	return Result{Bill: bill, Warnings: s.receive(ctx, actor, bill)}, nil
}

func (s *Service) receive(ctx context.Context, actor shared.Actor, bill PurchaseBill) []shared.Warning {
	if s.stock == nil {
		return nil
	}
	var warnings shared.Warnings
	for _, line := range bill.Lines {
		m := stock.Movement{
			ItemCode:   line.ItemCode,
			ItemName:   line.ItemName,
			CategoryID: line.CategoryID,
			Quantity:   line.Qty,
			Rate:       line.Rate,
			RefType:    stock.RefPurchaseBill,
			RefNo:      bill.BillNo,
			Remarks:    bill.SupplierName,
		}
		if _, err := s.stock.AddStock(ctx, actor, m); err != nil {
			s.logger.Warn("purchase stock posting failed", slog.String("bill_no", bill.BillNo), slog.String("item", m.Label()), slog.Any("error", err))
			s.metrics.SideEffectWarning(string(shared.WarningStockFailed))
			warnings.Add(shared.WarningStockFailed, "stock", m.Label(), err)
		}
	}
	return warnings
}

// GetPurchaseBill loads a purchase bill with its lines.
func (s *Service) GetPurchaseBill(ctx context.Context, billNo string) (PurchaseBill, error) {
	return s.repo.GetPurchaseBill(ctx, billNo)
}

// ListPurchaseBills lists purchase bills matching filter.
func (s *Service) ListPurchaseBills(ctx context.Context, filter ListFilter) ([]PurchaseBill, error) {
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return nil, fmt.Errorf("%w: purchasing: invalid date range", shared.ErrValidation)
	}
	return s.repo.ListPurchaseBills(ctx, filter)
}
