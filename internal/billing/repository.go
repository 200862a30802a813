package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/restopos/internal/bank"
	"github.com/odyssey-erp/restopos/internal/platform/db"
	"github.com/odyssey-erp/restopos/internal/shared"
)

// Repository persists drafts and bills in PostgreSQL.
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
		return errors.New("billing repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{TxRepository: bank.NewTxRepository(tx), tx: tx})
	})
}

const draftColumns = `id, table_no, item_code, item_name, qty, rate, amt, print_qty, updated_at`

func scanDraft(row pgx.Row) (DraftLine, error) {
	var d DraftLine
	if err := row.Scan(&d.ID, &d.TableNo, &d.ItemCode, &d.ItemName, &d.Qty, &d.Rate, &d.Amt, &d.PrintQty, &d.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DraftLine{}, ErrDraftLineNotFound
		}
		return DraftLine{}, err
	}
	return d, nil
}

func collectDrafts(rows pgx.Rows) ([]DraftLine, error) {
	defer rows.Close()
	lines := []DraftLine{}
	for rows.Next() {
		d, err := scanDraft(rows)
		if err != nil {
			return nil, err
		}
		lines = append(lines, d)
	}
	return lines, rows.Err()
}

const billColumns = `bill_no, bill_amt, discount, net_amount, cash_received, return_amount, paid_amount, status, table_no,
COALESCE(customer_id, 0), COALESCE(bank_account_id, 0), COALESCE(bank_entry_id, 0), payment_mode, bill_date, paid_at, COALESCE(created_by, 0), version`

func scanBill(row pgx.Row) (Bill, error) {
	var b Bill
	if err := row.Scan(&b.BillNo, &b.BillAmt, &b.Discount, &b.NetAmount, &b.CashReceived, &b.ReturnAmount, &b.PaidAmount,
		&b.Status, &b.TableNo, &b.CustomerID, &b.BankAccountID, &b.BankEntryID, &b.PaymentMode, &b.BillDate, &b.PaidAt,
		&b.CreatedBy, &b.Version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Bill{}, ErrBillNotFound
		}
		return Bill{}, err
	}
	return b, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadLines(ctx context.Context, q querier, billNo string) ([]BillLine, error) {
	rows, err := q.Query(ctx, `SELECT item_code, item_name, qty, rate, amt FROM bill_lines WHERE bill_no=$1 ORDER BY line_no ASC`, billNo)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	lines := []BillLine{}
	for rows.Next() {
		var l BillLine
		if err := rows.Scan(&l.ItemCode, &l.ItemName, &l.Qty, &l.Rate, &l.Amt); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// GetBill loads a bill with its lines.
func (r *Repository) GetBill(ctx context.Context, billNo string) (Bill, error) {
	bill, err := scanBill(r.pool.QueryRow(ctx, `SELECT `+billColumns+` FROM bills WHERE bill_no=$1`, billNo))
	if err != nil {
		return Bill{}, err
	}
	bill.Lines, err = loadLines(ctx, r.pool, billNo)
	return bill, err
}

// ListBills returns bill headers matching filter, newest first.
func (r *Repository) ListBills(ctx context.Context, filter BillFilter) ([]Bill, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+billColumns+` FROM bills
WHERE ($1 = '' OR status = $1)
  AND ($2 = '' OR table_no = $2)
  AND ($3 = 0 OR customer_id = $3)
  AND bill_date BETWEEN COALESCE($4, '-infinity'::timestamptz) AND COALESCE($5, 'infinity'::timestamptz)
ORDER BY bill_date DESC, bill_no DESC
LIMIT $6`, string(filter.Status), filter.TableNo, filter.CustomerID, nullTime(filter.From), nullTime(filter.To), filter.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	bills := []Bill{}
	for rows.Next() {
		b, err := scanBill(rows)
		if err != nil {
			return nil, err
		}
		bills = append(bills, b)
	}
	return bills, rows.Err()
}

// ListDraftLines lists a table's open order.
func (r *Repository) ListDraftLines(ctx context.Context, tableNo string) ([]DraftLine, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+draftColumns+` FROM draft_lines WHERE table_no=$1 ORDER BY id ASC`, tableNo)
	if err != nil {
		return nil, err
	}
	return collectDrafts(rows)
}

// FindOpenBill returns the table's CLOSE bill.
func (r *Repository) FindOpenBill(ctx context.Context, tableNo string) (Bill, error) {
	bill, err := scanBill(r.pool.QueryRow(ctx, `SELECT `+billColumns+` FROM bills WHERE table_no=$1 AND status=$2 ORDER BY bill_date DESC LIMIT 1`, tableNo, string(StatusClose)))
	if err != nil {
		return Bill{}, err
	}
	bill.Lines, err = loadLines(ctx, r.pool, bill.BillNo)
	return bill, err
}

func (r *txRepository) NextBillNo(ctx context.Context) (string, error) {
	var seq int64
	if err := r.tx.QueryRow(ctx, `SELECT nextval('bill_no_seq')`).Scan(&seq); err != nil {
		return "", err
	}
	return fmt.Sprintf("B%06d", seq), nil
}

func (r *txRepository) ListDraftLinesForUpdate(ctx context.Context, tableNo string) ([]DraftLine, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+draftColumns+` FROM draft_lines WHERE table_no=$1 ORDER BY id ASC FOR UPDATE`, tableNo)
	if err != nil {
		return nil, err
	}
	return collectDrafts(rows)
}

func (r *txRepository) GetDraftLineForUpdate(ctx context.Context, tableNo, itemName string, rate decimal.Decimal) (DraftLine, error) {
	return scanDraft(r.tx.QueryRow(ctx, `SELECT `+draftColumns+` FROM draft_lines WHERE table_no=$1 AND item_name=$2 AND rate=$3 FOR UPDATE`, tableNo, itemName, rate))
}

func (r *txRepository) InsertDraftLine(ctx context.Context, d DraftLine) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO draft_lines (table_no, item_code, item_name, qty, rate, amt, print_qty, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`, d.TableNo, d.ItemCode, d.ItemName, d.Qty, d.Rate, d.Amt, d.PrintQty, d.UpdatedAt).Scan(&id)
	return id, err
}

func (r *txRepository) UpdateDraftLine(ctx context.Context, d DraftLine) error {
	tag, err := r.tx.Exec(ctx, `UPDATE draft_lines SET item_code=$2, qty=$3, amt=$4, print_qty=$5, updated_at=$6 WHERE id=$1`,
		d.ID, d.ItemCode, d.Qty, d.Amt, d.PrintQty, d.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDraftLineNotFound
	}
	return nil
}

func (r *txRepository) DeleteDraftLine(ctx context.Context, id int64) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM draft_lines WHERE id=$1`, id)
	return err
}

func (r *txRepository) DeleteDraftLines(ctx context.Context, tableNo string) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM draft_lines WHERE table_no=$1`, tableNo)
	return err
}

func (r *txRepository) MoveDraftLines(ctx context.Context, fromTable, toTable string) error {
	_, err := r.tx.Exec(ctx, `UPDATE draft_lines SET table_no=$2, updated_at=NOW() WHERE table_no=$1`, fromTable, toTable)
	return err
}

func (r *txRepository) InsertBill(ctx context.Context, b Bill) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO bills (bill_no, bill_amt, discount, net_amount, cash_received, return_amount, paid_amount, status,
table_no, customer_id, bank_account_id, bank_entry_id, payment_mode, bill_date, paid_at, created_by, version)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,1)`,
		b.BillNo, b.BillAmt, b.Discount, b.NetAmount, b.CashReceived, b.ReturnAmount, b.PaidAmount, string(b.Status),
		b.TableNo, nullInt(b.CustomerID), nullInt(b.BankAccountID), nullInt(b.BankEntryID), b.PaymentMode, b.BillDate, b.PaidAt, nullInt(b.CreatedBy))
	return err
}

func (r *txRepository) GetBillForUpdate(ctx context.Context, billNo string) (Bill, error) {
	bill, err := scanBill(r.tx.QueryRow(ctx, `SELECT `+billColumns+` FROM bills WHERE bill_no=$1 FOR UPDATE`, billNo))
	if err != nil {
		return Bill{}, err
	}
	bill.Lines, err = loadLines(ctx, r.tx, billNo)
	return bill, err
}

func (r *txRepository) UpdateBill(ctx context.Context, b Bill) error {
	tag, err := r.tx.Exec(ctx, `UPDATE bills SET bill_amt=$2, discount=$3, net_amount=$4, cash_received=$5, return_amount=$6, paid_amount=$7,
status=$8, table_no=$9, customer_id=$10, bank_account_id=$11, bank_entry_id=$12, payment_mode=$13, paid_at=$14, version=version+1
WHERE bill_no=$1 AND version=$15`,
		b.BillNo, b.BillAmt, b.Discount, b.NetAmount, b.CashReceived, b.ReturnAmount, b.PaidAmount,
		string(b.Status), b.TableNo, nullInt(b.CustomerID), nullInt(b.BankAccountID), nullInt(b.BankEntryID), b.PaymentMode, b.PaidAt, b.Version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("billing: bill %s: %w", b.BillNo, shared.ErrConcurrentUpdate)
	}
	return nil
}

func (r *txRepository) DeleteBillLines(ctx context.Context, billNo string) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM bill_lines WHERE bill_no=$1`, billNo)
	return err
}

func (r *txRepository) ReplaceBillLines(ctx context.Context, billNo string, lines []BillLine) error {
	if err := r.DeleteBillLines(ctx, billNo); err != nil {
		return err
	}
	batch := &pgx.Batch{}
	for i, l := range lines {
		batch.Queue(`INSERT INTO bill_lines (bill_no, line_no, item_code, item_name, qty, rate, amt) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			billNo, i+1, l.ItemCode, l.ItemName, l.Qty, l.Rate, l.Amt)
	}
	return r.tx.SendBatch(ctx, batch).Close()
}

func (r *txRepository) FindOpenBill(ctx context.Context, tableNo string) (Bill, error) {
	return scanBill(r.tx.QueryRow(ctx, `SELECT `+billColumns+` FROM bills WHERE table_no=$1 AND status=$2 LIMIT 1 FOR UPDATE`, tableNo, string(StatusClose)))
}

// KitchenOrders removes pending kitchen tickets for settled tables.
type KitchenOrders struct {
	pool *pgxpool.Pool
}

// NewKitchenOrders constructs KitchenOrders.
func NewKitchenOrders(pool *pgxpool.Pool) *KitchenOrders {
	return &KitchenOrders{pool: pool}
}

// ClearTable deletes the table's pending kitchen orders.
func (k *KitchenOrders) ClearTable(ctx context.Context, tableNo string) error {
	_, err := k.pool.Exec(ctx, `DELETE FROM kitchen_orders WHERE table_no=$1`, tableNo)
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
