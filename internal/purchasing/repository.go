package purchasing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/restopos/internal/bank"
	"github.com/odyssey-erp/restopos/internal/platform/db"
)

// Repository persists purchase bills in PostgreSQL.
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
		return errors.New("purchasing repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{TxRepository: bank.NewTxRepository(tx), tx: tx})
	})
}

const billColumns = `id, bill_no, supplier_id, supplier_name, invoice_no, bill_date, amount, gst, other_tax, net_amount, paid_amount,
COALESCE(bank_account_id, 0), COALESCE(bank_entry_id, 0), status, remarks, COALESCE(created_by, 0), version, created_at`

func scanBill(row pgx.Row) (PurchaseBill, error) {
	var b PurchaseBill
	if err := row.Scan(&b.ID, &b.BillNo, &b.SupplierID, &b.SupplierName, &b.InvoiceNo, &b.BillDate, &b.Amount, &b.GST, &b.OtherTax,
		&b.NetAmount, &b.PaidAmount, &b.BankAccountID, &b.BankEntryID, &b.Status, &b.Remarks, &b.CreatedBy, &b.Version, &b.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseBill{}, ErrBillNotFound
		}
		return PurchaseBill{}, err
	}
	return b, nil
}

// GetPurchaseBill loads a bill with its lines.
func (r *Repository) GetPurchaseBill(ctx context.Context, billNo string) (PurchaseBill, error) {
	bill, err := scanBill(r.pool.QueryRow(ctx, `SELECT `+billColumns+` FROM purchase_bills WHERE bill_no=$1`, billNo))
	if err != nil {
		return PurchaseBill{}, err
	}
	rows, err := r.pool.Query(ctx, `SELECT item_code, item_name, COALESCE(category_id, 0), qty, rate, amt
FROM purchase_bill_lines WHERE purchase_bill_id=$1 ORDER BY line_no ASC`, bill.ID)
	if err != nil {
		return PurchaseBill{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ItemCode, &l.ItemName, &l.CategoryID, &l.Qty, &l.Rate, &l.Amt); err != nil {
			return PurchaseBill{}, err
		}
		bill.Lines = append(bill.Lines, l)
	}
	return bill, rows.Err()
}

// ListPurchaseBills lists bill headers, newest first.
func (r *Repository) ListPurchaseBills(ctx context.Context, filter ListFilter) ([]PurchaseBill, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+billColumns+` FROM purchase_bills
WHERE ($1 = 0 OR supplier_id = $1)
  AND ($2 = '' OR status = $2)
  AND bill_date BETWEEN COALESCE($3, '-infinity'::timestamptz) AND COALESCE($4, 'infinity'::timestamptz)
ORDER BY bill_date DESC, id DESC
LIMIT $5`, filter.SupplierID, string(filter.Status), nullTime(filter.From), nullTime(filter.To), filter.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	bills := []PurchaseBill{}
	for rows.Next() {
		b, err := scanBill(rows)
		if err != nil {
			return nil, err
		}
		bills = append(bills, b)
	}
	return bills, rows.Err()
}

func (r *txRepository) NextBillNo(ctx context.Context) (string, error) {
	var seq int64
	if err := r.tx.QueryRow(ctx, `SELECT nextval('purchase_bill_no_seq')`).Scan(&seq); err != nil {
		return "", err
	}
	return fmt.Sprintf("PB%06d", seq), nil
}

func (r *txRepository) InsertPurchaseBill(ctx context.Context, b PurchaseBill) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO purchase_bills (bill_no, supplier_id, supplier_name, invoice_no, bill_date, amount, gst, other_tax,
net_amount, paid_amount, bank_account_id, bank_entry_id, status, remarks, created_by, version, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,1,$16) RETURNING id`,
		b.BillNo, b.SupplierID, b.SupplierName, b.InvoiceNo, b.BillDate, b.Amount, b.GST, b.OtherTax,
		b.NetAmount, b.PaidAmount, nullInt(b.BankAccountID), nullInt(b.BankEntryID), string(b.Status), b.Remarks, nullInt(b.CreatedBy), b.CreatedAt).Scan(&id)
	return id, err
}

func (r *txRepository) InsertLines(ctx context.Context, billID int64, lines []Line) error {
	rows := make([][]any, 0, len(lines))
	for i, l := range lines {
		rows = append(rows, []any{billID, i + 1, l.ItemCode, l.ItemName, nullInt(l.CategoryID), l.Qty, l.Rate, l.Amt})
	}
	_, err := r.tx.CopyFrom(ctx, pgx.Identifier{"purchase_bill_lines"},
		[]string{"purchase_bill_id", "line_no", "item_code", "item_name", "category_id", "qty", "rate", "amt"},
		pgx.CopyFromRows(rows))
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
