package bank

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/restopos/internal/platform/db"
	"github.com/odyssey-erp/restopos/internal/shared"
)

// Repository persists bank data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// NewTxRepository wraps an open transaction so other aggregates can post
// bank entries within their own unit of work.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

// WithTx executes the callback inside repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("bank repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

const accountColumns = `id, name, balance, status, version, updated_at`

func scanAccount(row pgx.Row) (Account, error) {
	var acc Account
	if err := row.Scan(&acc.ID, &acc.Name, &acc.Balance, &acc.Status, &acc.Version, &acc.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, err
	}
	return acc, nil
}

// GetAccount loads one account.
func (r *Repository) GetAccount(ctx context.Context, id int64) (Account, error) {
	return scanAccount(r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM bank_accounts WHERE id=$1`, id))
}

// ListAccounts lists accounts ordered by name.
func (r *Repository) ListAccounts(ctx context.Context) ([]Account, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+accountColumns+` FROM bank_accounts ORDER BY name ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	accounts := []Account{}
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acc)
	}
	return accounts, rows.Err()
}

// CreateAccount inserts an account with zero balance.
func (r *Repository) CreateAccount(ctx context.Context, account Account) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO bank_accounts (name, balance, status, version, updated_at)
VALUES ($1, 0, $2, 1, NOW()) RETURNING id`, account.Name, string(account.Status)).Scan(&id)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return 0, ErrAccountExists
	}
	return id, err
}

// SetAccountStatus updates the account status.
func (r *Repository) SetAccountStatus(ctx context.Context, id int64, status AccountStatus) error {
	tag, err := r.pool.Exec(ctx, `UPDATE bank_accounts SET status=$2, version=version+1, updated_at=NOW() WHERE id=$1`, id, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

const entryColumns = `id, account_id, kind, deposit, withdraw, balance_after, particulars, ref_type, ref_id, remarks, entry_date, COALESCE(created_by, 0)`

func scanEntry(row pgx.Row) (Entry, error) {
	var e Entry
	if err := row.Scan(&e.ID, &e.AccountID, &e.Kind, &e.Deposit, &e.Withdraw, &e.BalanceAfter, &e.Particulars, &e.RefType, &e.RefID, &e.Remarks, &e.Date, &e.CreatedBy); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, ErrEntryNotFound
		}
		return Entry{}, err
	}
	return e, nil
}

// ListEntries lists entries in posting order.
func (r *Repository) ListEntries(ctx context.Context, filter EntryFilter) ([]Entry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `SELECT `+entryColumns+` FROM bank_entries
WHERE ($1 = 0 OR account_id = $1)
  AND ($2 = '' OR ref_type = $2)
  AND ($3 = '' OR ref_id = $3)
  AND entry_date BETWEEN COALESCE($4, '-infinity'::timestamptz) AND COALESCE($5, 'infinity'::timestamptz)
ORDER BY id ASC
LIMIT $6`, filter.AccountID, filter.RefType, filter.RefID, nullTime(filter.From), nullTime(filter.To), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *txRepository) GetAccountForUpdate(ctx context.Context, id int64) (Account, error) {
	return scanAccount(r.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM bank_accounts WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepository) UpdateAccountBalance(ctx context.Context, account Account) error {
	tag, err := r.tx.Exec(ctx, `UPDATE bank_accounts SET balance=$2, version=version+1, updated_at=NOW() WHERE id=$1 AND version=$3`,
		account.ID, account.Balance, account.Version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("bank: account %d: %w", account.ID, shared.ErrConcurrentUpdate)
	}
	return nil
}

func (r *txRepository) InsertEntry(ctx context.Context, e Entry) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO bank_entries (account_id, kind, deposit, withdraw, balance_after, particulars, ref_type, ref_id, remarks, entry_date, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,NOW()) RETURNING id`,
		e.AccountID, string(e.Kind), e.Deposit, e.Withdraw, e.BalanceAfter, e.Particulars, e.RefType, e.RefID, e.Remarks, e.Date, nullInt(e.CreatedBy)).Scan(&id)
	return id, err
}

func (r *txRepository) GetEntryForUpdate(ctx context.Context, id int64) (Entry, error) {
	return scanEntry(r.tx.QueryRow(ctx, `SELECT `+entryColumns+` FROM bank_entries WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepository) DeleteEntry(ctx context.Context, id int64) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM bank_entries WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

func (r *txRepository) ListEntriesAfter(ctx context.Context, accountID, afterID int64) ([]Entry, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+entryColumns+` FROM bank_entries WHERE account_id=$1 AND id > $2 ORDER BY id ASC FOR UPDATE`, accountID, afterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *txRepository) UpdateEntryBalanceAfter(ctx context.Context, id int64, balance decimal.Decimal) error {
	_, err := r.tx.Exec(ctx, `UPDATE bank_entries SET balance_after=$2 WHERE id=$1`, id, balance)
	return err
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
