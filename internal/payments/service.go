package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/restopos/internal/bank"
	"github.com/odyssey-erp/restopos/internal/billing"
	"github.com/odyssey-erp/restopos/internal/observability"
	"github.com/odyssey-erp/restopos/internal/purchasing"
	"github.com/odyssey-erp/restopos/internal/shared"
)

// TxRepository exposes transactional receipt operations. The receipt's bank
// entry is posted through the embedded ledger port in the same transaction.
type TxRepository interface {
	bank.TxRepository
	GetPayableForUpdate(ctx context.Context, side Side, billNo string) (Payable, error)
	UpdatePayable(ctx context.Context, side Side, payable Payable) error
	InsertReceipt(ctx context.Context, receipt Receipt) (int64, error)
	InsertAllocation(ctx context.Context, allocation Allocation) (int64, error)
	GetReceiptForUpdate(ctx context.Context, id int64) (Receipt, error)
	DeleteReceipt(ctx context.Context, id int64) error
}

// RepositoryPort describes persistence used by the payment service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetReceipt(ctx context.Context, id int64) (Receipt, error)
	ListReceipts(ctx context.Context, filter ReceiptFilter) ([]Receipt, error)
}

// IdempotencyPort claims client request keys.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, scope string) error
	Delete(ctx context.Context, key string) error
}

// LockPort serializes payments per party.
type LockPort interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

// AuditPort records audit trail entries.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ServiceConfig wires the payment service collaborators.
type ServiceConfig struct {
	Idempotency IdempotencyPort
	Locker      LockPort
	Audit       AuditPort
	Logger      *slog.Logger
	Metrics     *observability.Metrics
}

// Service records grouped payments and their reversal.
type Service struct {
	repo        RepositoryPort
	idempotency IdempotencyPort
	locker      LockPort
	audit       AuditPort
	logger      *slog.Logger
	metrics     *observability.Metrics
	validator   *validator.Validate
}

const idempotencyScope = "payments.grouped"

// NewService constructs the payment service.
func NewService(repo RepositoryPort, cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        repo,
		idempotency: cfg.Idempotency,
		locker:      cfg.Locker,
		audit:       cfg.Audit,
		logger:      logger,
		metrics:     cfg.Metrics,
		validator:   validator.New(),
	}
}

// RecordGroupedPayment posts one bank entry for the total, stores the receipt
// and applies every allocation to its bill. Nothing is written unless every
// allocation fits.
func (s *Service) RecordGroupedPayment(ctx context.Context, actor shared.Actor, input GroupedPaymentInput) (Receipt, error) {
	input.IdempotencyKey = strings.TrimSpace(input.IdempotencyKey)
	if err := s.validator.Struct(input); err != nil {
		return Receipt{}, fmt.Errorf("%w: %v", shared.ErrValidation, err)
	}
	if !input.Total.IsPositive() {
		return Receipt{}, ErrInvalidAmount
	}
	sum := decimal.Zero
	for _, a := range input.Allocations {
		if !a.Amount.IsPositive() {
			return Receipt{}, ErrInvalidAmount
		}
		sum = sum.Add(a.Amount)
	}
	if !shared.AmountsMatch(sum, input.Total) {
		return Receipt{}, fmt.Errorf("%w: allocated %s of %s", ErrAllocationMismatch, sum, input.Total)
	}

	if input.IdempotencyKey != "" && s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, input.IdempotencyKey, idempotencyScope); err != nil {
			return Receipt{}, err
		}
	}
	receipt, err := s.recordGrouped(ctx, actor, input)
	if err != nil {
		if input.IdempotencyKey != "" && s.idempotency != nil {
			if delErr := s.idempotency.Delete(ctx, input.IdempotencyKey); delErr != nil {
				s.logger.Warn("release idempotency key", slog.String("key", input.IdempotencyKey), slog.Any("error", delErr))
			}
		}
		return Receipt{}, err
	}
	return receipt, nil
}

func (s *Service) recordGrouped(ctx context.Context, actor shared.Actor, input GroupedPaymentInput) (Receipt, error) {
	release, err := s.lock(ctx, input.Side, input.PartyID)
	if err != nil {
		return Receipt{}, err
	}
	defer release()

	date := input.Date
	if date.IsZero() {
		date = time.Now().UTC()
	}
	receipt := Receipt{
		ReceiptNo:      "RC-" + strings.ToUpper(uuid.NewString()[:8]),
		Side:           input.Side,
		PartyID:        input.PartyID,
		PartyName:      input.PartyName,
		BankAccountID:  input.BankAccountID,
		Total:          input.Total,
		Mode:           input.Mode,
		ChequeNo:       input.ChequeNo,
		RefNo:          input.RefNo,
		BillsCount:     len(input.Allocations),
		Date:           date,
		Remarks:        input.Remarks,
		IdempotencyKey: input.IdempotencyKey,
		CreatedBy:      actor.EmployeeID,
		CreatedAt:      time.Now().UTC(),
	}
	kind, refType := bank.KindWithdraw, bank.RefPaymentReceipt
	if input.Side == SideCustomer {
		kind, refType = bank.KindDeposit, bank.RefSalesReceipt
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		entry, err := bank.Post(ctx, tx, actor, kind, bank.EntryInput{
			AccountID:   input.BankAccountID,
			Amount:      input.Total,
			Particulars: particulars(input),
			RefType:     refType,
			RefID:       receipt.ReceiptNo,
			Remarks:     input.Remarks,
			Date:        date,
		})
		if err != nil {
			return err
		}
		receipt.BankEntryID = entry.ID
		receipt.ID, err = tx.InsertReceipt(ctx, receipt)
		if err != nil {
			return err
		}
		for _, in := range input.Allocations {
			payable, err := tx.GetPayableForUpdate(ctx, input.Side, in.BillNo)
			if err != nil {
				return err
			}
			if payable.PartyID != input.PartyID {
				return fmt.Errorf("%w: %s", ErrPartyMismatch, in.BillNo)
			}
			if input.Side == SideCustomer && payable.Status != string(billing.StatusCredit) {
				return fmt.Errorf("%w: %s is %s", ErrBillNotOnCredit, in.BillNo, payable.Status)
			}
			if in.Amount.GreaterThan(payable.Balance().Add(shared.Tolerance)) {
				return fmt.Errorf("%w: %s balance %s, allocated %s", ErrAllocationExceedsBalance, in.BillNo, payable.Balance(), in.Amount)
			}
			allocation := Allocation{ReceiptID: receipt.ID, BillNo: in.BillNo, Amount: in.Amount}
			allocation.ID, err = tx.InsertAllocation(ctx, allocation)
			if err != nil {
				return err
			}
			receipt.Allocations = append(receipt.Allocations, allocation)
			payable.PaidAmount = payable.PaidAmount.Add(in.Amount)
			payable.Status = statusFor(input.Side, payable)
			if err := tx.UpdatePayable(ctx, input.Side, payable); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Receipt{}, err
	}
	s.metrics.LedgerPosting("bank", string(kind))
	s.record(ctx, actor, "receipt.create", receipt, map[string]any{"total": receipt.Total.String(), "allocations": len(receipt.Allocations)})
	return receipt, nil
}

// DeleteReceipt reverses the receipt's bank entry and takes every allocation
// back off its bill. Paid amounts never drop below zero.
func (s *Service) DeleteReceipt(ctx context.Context, actor shared.Actor, receiptID int64) (Receipt, error) {
	existing, err := s.repo.GetReceipt(ctx, receiptID)
	if err != nil {
		return Receipt{}, err
	}
	release, err := s.lock(ctx, existing.Side, existing.PartyID)
	if err != nil {
		return Receipt{}, err
	}
	defer release()

	var receipt Receipt
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		receipt, err = tx.GetReceiptForUpdate(ctx, receiptID)
		if err != nil {
			return err
		}
		if _, err := bank.Reverse(ctx, tx, receipt.BankEntryID); err != nil {
			if !errors.Is(err, bank.ErrEntryNotFound) {
				return err
			}
			s.logger.Warn("receipt bank entry already removed", slog.Int64("receipt_id", receipt.ID), slog.Int64("bank_entry_id", receipt.BankEntryID))
		}
		for _, a := range receipt.Allocations {
			payable, err := tx.GetPayableForUpdate(ctx, receipt.Side, a.BillNo)
			if errors.Is(err, ErrPayableNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			payable.PaidAmount = shared.MaxZero(payable.PaidAmount.Sub(a.Amount))
			payable.Status = statusFor(receipt.Side, payable)
			if err := tx.UpdatePayable(ctx, receipt.Side, payable); err != nil {
				return err
			}
		}
		return tx.DeleteReceipt(ctx, receipt.ID)
	})
	if err != nil {
		return Receipt{}, err
	}
	s.record(ctx, actor, "receipt.delete", receipt, map[string]any{"total": receipt.Total.String()})
	return receipt, nil
}

// GetReceipt loads a receipt with its allocations.
func (s *Service) GetReceipt(ctx context.Context, id int64) (Receipt, error) {
	return s.repo.GetReceipt(ctx, id)
}

// ListReceipts lists receipts matching filter.
func (s *Service) ListReceipts(ctx context.Context, filter ReceiptFilter) ([]Receipt, error) {
	if filter.Side != "" && !filter.Side.Valid() {
		return nil, fmt.Errorf("%w: payments: unknown side %q", shared.ErrValidation, filter.Side)
	}
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return nil, fmt.Errorf("%w: payments: invalid date range", shared.ErrValidation)
	}
	return s.repo.ListReceipts(ctx, filter)
}

// statusFor recomputes a bill status after its paid amount changed.
func statusFor(side Side, p Payable) string {
	if side == SideSupplier {
		return string(purchasing.StatusFor(p.NetAmount, p.PaidAmount))
	}
	return string(billing.ReceivableStatus(p.NetAmount, p.PaidAmount))
}

func particulars(input GroupedPaymentInput) string {
	name := input.PartyName
	if name == "" {
		name = fmt.Sprintf("#%d", input.PartyID)
	}
	if input.Side == SideCustomer {
		return "Receipt from " + name
	}
	return "Payment to " + name
}

func (s *Service) lock(ctx context.Context, side Side, partyID int64) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	return s.locker.Acquire(ctx, shared.PartyLockKey(string(side), partyID))
}

func (s *Service) record(ctx context.Context, actor shared.Actor, action string, receipt Receipt, meta map[string]any) {
	if s.audit == nil {
		return
	}
	meta["side"] = receipt.Side
	meta["party_id"] = receipt.PartyID
	_ = s.audit.Record(ctx, shared.AuditLog{
		Actor:    actor,
		Action:   action,
		Entity:   "receipt",
		EntityID: receipt.ReceiptNo,
		Meta:     meta,
		At:       time.Now().UTC(),
	})
}
