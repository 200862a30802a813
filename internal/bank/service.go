package bank

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/odyssey-erp/restopos/internal/observability"
	"github.com/odyssey-erp/restopos/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetAccount(ctx context.Context, id int64) (Account, error)
	ListAccounts(ctx context.Context) ([]Account, error)
	ListEntries(ctx context.Context, filter EntryFilter) ([]Entry, error)
	CreateAccount(ctx context.Context, account Account) (int64, error)
	SetAccountStatus(ctx context.Context, id int64, status AccountStatus) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates bank ledger operations.
type Service struct {
	repo    RepositoryPort
	audit   AuditPort
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, logger *slog.Logger, metrics *observability.Metrics) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger, metrics: metrics}
}

// Deposit credits the account.
func (s *Service) Deposit(ctx context.Context, actor shared.Actor, input EntryInput) (Entry, error) {
	return s.post(ctx, actor, KindDeposit, input)
}

// Withdraw debits the account. The balance is allowed to go negative.
func (s *Service) Withdraw(ctx context.Context, actor shared.Actor, input EntryInput) (Entry, error) {
	return s.post(ctx, actor, KindWithdraw, input)
}

func (s *Service) post(ctx context.Context, actor shared.Actor, kind EntryKind, input EntryInput) (Entry, error) {
	if input.AccountID == 0 {
		return Entry{}, ErrAccountRequired
	}
	if !input.Amount.IsPositive() {
		return Entry{}, ErrInvalidAmount
	}
	if input.RefType == "" {
		input.RefType = RefManual
	}
	var entry Entry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entry, err = Post(ctx, tx, actor, kind, input)
		return err
	})
	if err != nil {
		return Entry{}, err
	}
	s.metrics.LedgerPosting("bank", string(kind))
	s.record(ctx, actor, strings.ToLower(string(kind)), entry, nil)
	if entry.BalanceAfter.IsNegative() {
		s.logger.Warn("bank balance negative", slog.Int64("account_id", entry.AccountID), slog.String("balance", entry.BalanceAfter.String()))
	}
	return entry, nil
}

// DeleteTransaction reverses and removes a manual or opening entry. Entries
// posted for bills and receipts fail with ErrEntryOwned.
func (s *Service) DeleteTransaction(ctx context.Context, actor shared.Actor, entryID int64) (Entry, error) {
	if entryID == 0 {
		return Entry{}, ErrEntryNotFound
	}
	var entry Entry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetEntryForUpdate(ctx, entryID)
		if err != nil {
			return err
		}
		if current.Owned() {
			return fmt.Errorf("%w: %s %s", ErrEntryOwned, current.RefType, current.RefID)
		}
		entry, err = Reverse(ctx, tx, entryID)
		return err
	})
	if err != nil {
		return Entry{}, err
	}
	s.metrics.LedgerPosting("bank", "REVERSAL")
	s.record(ctx, actor, "reverse", entry, map[string]any{"amount": entry.Amount().String(), "kind": entry.Kind})
	return entry, nil
}

// Replay recomputes the account balance and all snapshots from history.
func (s *Service) Replay(ctx context.Context, accountID int64) (ReplayReport, error) {
	if accountID == 0 {
		return ReplayReport{}, ErrAccountRequired
	}
	var report ReplayReport
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		report, err = replay(ctx, tx, accountID)
		return err
	})
	if err != nil {
		return ReplayReport{}, err
	}
	if report.Corrected > 0 || !report.BalanceBefore.Equal(report.BalanceAfter) {
		s.logger.Warn("bank replay corrected ledger",
			slog.Int64("account_id", accountID),
			slog.Int("corrected", report.Corrected),
			slog.String("balance_before", report.BalanceBefore.String()),
			slog.String("balance_after", report.BalanceAfter.String()))
	}
	return report, nil
}

// CreateAccount opens an account, posting the opening balance as a deposit.
func (s *Service) CreateAccount(ctx context.Context, actor shared.Actor, input CreateAccountInput) (Account, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return Account{}, fmt.Errorf("%w: bank: account name required", shared.ErrValidation)
	}
	if input.OpeningBalance.IsNegative() {
		return Account{}, ErrInvalidAmount
	}
	id, err := s.repo.CreateAccount(ctx, Account{Name: name, Status: StatusActive})
	if err != nil {
		return Account{}, err
	}
	if input.OpeningBalance.IsPositive() {
		if _, err := s.Deposit(ctx, actor, EntryInput{
			AccountID:   id,
			Amount:      input.OpeningBalance,
			Particulars: "Opening balance",
			RefType:     RefOpening,
			RefID:       strconv.FormatInt(id, 10),
		}); err != nil {
			return Account{}, err
		}
	}
	return s.repo.GetAccount(ctx, id)
}

// SetAccountStatus activates or deactivates an account.
func (s *Service) SetAccountStatus(ctx context.Context, actor shared.Actor, id int64, status AccountStatus) error {
	if status != StatusActive && status != StatusInactive {
		return fmt.Errorf("%w: bank: unknown status %q", shared.ErrValidation, status)
	}
	if err := s.repo.SetAccountStatus(ctx, id, status); err != nil {
		return err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{Actor: actor, Action: "bank.status", Entity: "bank_account", EntityID: strconv.FormatInt(id, 10), Meta: map[string]any{"status": status}})
	}
	return nil
}

// GetAccount returns one account.
func (s *Service) GetAccount(ctx context.Context, id int64) (Account, error) {
	return s.repo.GetAccount(ctx, id)
}

// ListAccounts returns all accounts.
func (s *Service) ListAccounts(ctx context.Context) ([]Account, error) {
	return s.repo.ListAccounts(ctx)
}

// ListEntries returns the entry history matching filter.
func (s *Service) ListEntries(ctx context.Context, filter EntryFilter) ([]Entry, error) {
	if filter.Limit <= 0 {
		filter.Limit = 200
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return nil, fmt.Errorf("%w: bank: invalid date range", shared.ErrValidation)
	}
	return s.repo.ListEntries(ctx, filter)
}

func (s *Service) record(ctx context.Context, actor shared.Actor, action string, entry Entry, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if meta == nil {
		meta = map[string]any{"amount": entry.Amount().String(), "balance_after": entry.BalanceAfter.String()}
	}
	meta["account_id"] = entry.AccountID
	meta["ref_type"] = entry.RefType
	meta["ref_id"] = entry.RefID
	_ = s.audit.Record(ctx, shared.AuditLog{
		Actor:    actor,
		Action:   "bank." + action,
		Entity:   "bank_entry",
		EntityID: strconv.FormatInt(entry.ID, 10),
		Meta:     meta,
	})
}
