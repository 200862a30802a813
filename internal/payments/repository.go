package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/restopos/internal/bank"
	"github.com/odyssey-erp/restopos/internal/platform/db"
	"github.com/odyssey-erp/restopos/internal/shared"
)

// Repository persists receipts in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	bank.TxRepository
	tx pgx.Tx
}

// WithTx executes the callback inside repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("payments repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{TxRepository: bank.NewTxRepository(tx), tx: tx})
	})
}

const receiptColumns = `id, receipt_no, side, party_id, party_name, bank_account_id, bank_entry_id, total, mode, cheque_no, ref_no, bills_count,
receipt_date, remarks, COALESCE(created_by, 0), created_at`

func scanReceipt(row pgx.Row) (Receipt, error) {
	var rc Receipt
	if err := row.Scan(&rc.ID, &rc.ReceiptNo, &rc.Side, &rc.PartyID, &rc.PartyName, &rc.BankAccountID, &rc.BankEntryID, &rc.Total,
		&rc.Mode, &rc.ChequeNo, &rc.RefNo, &rc.BillsCount, &rc.Date, &rc.Remarks, &rc.CreatedBy, &rc.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Receipt{}, ErrReceiptNotFound
		}
		return Receipt{}, err
	}
	return rc, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadAllocations(ctx context.Context, q querier, receiptIDs []int64) (map[int64][]Allocation, error) {
	out := make(map[int64][]Allocation, len(receiptIDs))
	if len(receiptIDs) == 0 {
		return out, nil
	}
	rows, err := q.Query(ctx, `SELECT id, receipt_id, bill_no, amount FROM payment_allocations WHERE receipt_id = ANY($1) ORDER BY id ASC`, receiptIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var a Allocation
		if err := rows.Scan(&a.ID, &a.ReceiptID, &a.BillNo, &a.Amount); err != nil {
			return nil, err
		}
		out[a.ReceiptID] = append(out[a.ReceiptID], a)
	}
	return out, rows.Err()
}

// GetReceipt loads a receipt with its allocations.
func (r *Repository) GetReceipt(ctx context.Context, id int64) (Receipt, error) {
	rc, err := scanReceipt(r.pool.QueryRow(ctx, `SELECT `+receiptColumns+` FROM payment_receipts WHERE id=$1`, id))
	if err != nil {
		return Receipt{}, err
	}
	allocations, err := loadAllocations(ctx, r.pool, []int64{id})
	if err != nil {
		return Receipt{}, err
	}
	rc.Allocations = allocations[id]
	return rc, nil
}

// ListReceipts lists receipts with their allocations, newest first.
func (r *Repository) ListReceipts(ctx context.Context, filter ReceiptFilter) ([]Receipt, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+receiptColumns+` FROM payment_receipts rc
WHERE ($1 = '' OR rc.side = $1)
  AND ($2 = 0 OR rc.party_id = $2)
  AND ($3 = '' OR EXISTS (SELECT 1 FROM payment_allocations pa WHERE pa.receipt_id = rc.id AND pa.bill_no = $3))
  AND rc.receipt_date BETWEEN COALESCE($4, '-infinity'::timestamptz) AND COALESCE($5, 'infinity'::timestamptz)
ORDER BY rc.receipt_date DESC, rc.id DESC
LIMIT $6`, string(filter.Side), filter.PartyID, filter.BillNo, nullTime(filter.From), nullTime(filter.To), filter.Limit)
	if err != nil {
		return nil, err
	}
	receipts := []Receipt{}
	ids := []int64{}
	for rows.Next() {
		rc, err := scanReceipt(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		receipts = append(receipts, rc)
		ids = append(ids, rc.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	allocations, err := loadAllocations(ctx, r.pool, ids)
	if err != nil {
		return nil, err
	}
	for i := range receipts {
		receipts[i].Allocations = allocations[receipts[i].ID]
	}
	return receipts, nil
}

func payableTable(side Side) (table, partyColumn string) {
	if side == SideCustomer {
		return "bills", "customer_id"
	}
	return "purchase_bills", "supplier_id"
}

func (r *txRepository) GetPayableForUpdate(ctx context.Context, side Side, billNo string) (Payable, error) {
	table, party := payableTable(side)
	var p Payable
	err := r.tx.QueryRow(ctx, fmt.Sprintf(`SELECT bill_no, COALESCE(%s, 0), net_amount, paid_amount, status, version FROM %s WHERE bill_no=$1 FOR UPDATE`, party, table), billNo).
		Scan(&p.BillNo, &p.PartyID, &p.NetAmount, &p.PaidAmount, &p.Status, &p.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return Payable{}, ErrPayableNotFound
	}
	return p, err
}

func (r *txRepository) UpdatePayable(ctx context.Context, side Side, p Payable) error {
	table, _ := payableTable(side)
	tag, err := r.tx.Exec(ctx, fmt.Sprintf(`UPDATE %s SET paid_amount=$2, status=$3, version=version+1 WHERE bill_no=$1 AND version=$4`, table),
		p.BillNo, p.PaidAmount, p.Status, p.Version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("payments: bill %s: %w", p.BillNo, shared.ErrConcurrentUpdate)
	}
	return nil
}

func (r *txRepository) InsertReceipt(ctx context.Context, rc Receipt) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO payment_receipts (receipt_no, side, party_id, party_name, bank_account_id, bank_entry_id, total, mode,
cheque_no, ref_no, bills_count, receipt_date, remarks, idempotency_key, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,NULLIF($14, ''),$15,$16) RETURNING id`,
		rc.ReceiptNo, string(rc.Side), rc.PartyID, rc.PartyName, rc.BankAccountID, rc.BankEntryID, rc.Total, rc.Mode,
		rc.ChequeNo, rc.RefNo, rc.BillsCount, rc.Date, rc.Remarks, rc.IdempotencyKey, nullInt(rc.CreatedBy), rc.CreatedAt).Scan(&id)
	return id, err
}

func (r *txRepository) InsertAllocation(ctx context.Context, a Allocation) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO payment_allocations (receipt_id, bill_no, amount) VALUES ($1,$2,$3) RETURNING id`,
		a.ReceiptID, a.BillNo, a.Amount).Scan(&id)
	return id, err
}

func (r *txRepository) GetReceiptForUpdate(ctx context.Context, id int64) (Receipt, error) {
	rc, err := scanReceipt(r.tx.QueryRow(ctx, `SELECT `+receiptColumns+` FROM payment_receipts WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return Receipt{}, err
	}
	allocations, err := loadAllocations(ctx, r.tx, []int64{id})
	if err != nil {
		return Receipt{}, err
	}
	rc.Allocations = allocations[id]
	return rc, nil
}

func (r *txRepository) DeleteReceipt(ctx context.Context, id int64) error {
	if _, err := r.tx.Exec(ctx, `DELETE FROM payment_allocations WHERE receipt_id=$1`, id); err != nil {
		return err
	}
	tag, err := r.tx.Exec(ctx, `DELETE FROM payment_receipts WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrReceiptNotFound
	}
	return nil
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
