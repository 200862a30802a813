package stock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/restopos/internal/platform/db"
	"github.com/odyssey-erp/restopos/internal/shared"
)

// Repository persists stock data in PostgreSQL.
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

// WithTx executes the callback inside repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("stock repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const itemColumns = `id, item_code, item_name, COALESCE(category_id, 0), stock, version, updated_at`

func scanItem(row pgx.Row) (Item, error) {
	var item Item
	if err := row.Scan(&item.ID, &item.ItemCode, &item.ItemName, &item.CategoryID, &item.Stock, &item.Version, &item.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, ErrItemNotFound
		}
		return Item{}, err
	}
	return item, nil
}

// findItem looks the item up by code first, then by name.
func findItem(ctx context.Context, q interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}, code, name, suffix string) (Item, error) {
	if code != "" {
		item, err := scanItem(q.QueryRow(ctx, `SELECT `+itemColumns+` FROM stock_items WHERE item_code=$1`+suffix, code))
		if err == nil || !errors.Is(err, ErrItemNotFound) {
			return item, err
		}
	}
	if name == "" {
		return Item{}, ErrItemNotFound
	}
	return scanItem(q.QueryRow(ctx, `SELECT `+itemColumns+` FROM stock_items WHERE item_name=$1 ORDER BY id LIMIT 1`+suffix, name))
}

// FindItem resolves an item by code, falling back to name.
func (r *Repository) FindItem(ctx context.Context, itemCode, itemName string) (Item, error) {
	return findItem(ctx, r.pool, itemCode, itemName, "")
}

// GetItem loads an item by id.
func (r *Repository) GetItem(ctx context.Context, id int64) (Item, error) {
	return scanItem(r.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM stock_items WHERE id=$1`, id))
}

// ListItemIDs returns all item ids.
func (r *Repository) ListItemIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM stock_items ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

// ListLowStock returns items whose stock is at or below threshold.
func (r *Repository) ListLowStock(ctx context.Context, threshold float64) ([]Item, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+itemColumns+` FROM stock_items WHERE stock <= $1 ORDER BY stock ASC, item_name ASC`, threshold)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []Item{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ListEntries lists stock postings in posting order.
func (r *Repository) ListEntries(ctx context.Context, filter HistoryFilter) ([]Entry, error) {
	var limit any
	if filter.Limit > 0 {
		limit = filter.Limit
	}
	rows, err := r.pool.Query(ctx, `SELECT id, item_id, item_code, item_name, entry_type, quantity, rate, amount, previous_stock, new_stock, ref_type, ref_no, remarks, created_at, COALESCE(created_by, 0)
FROM stock_entries
WHERE ($1 = 0 OR item_id = $1)
  AND ($2 = '' OR entry_type = $2)
  AND ($3 = '' OR ref_no = $3)
  AND created_at BETWEEN COALESCE($4, '-infinity'::timestamptz) AND COALESCE($5, 'infinity'::timestamptz)
ORDER BY id ASC
LIMIT $6`, filter.ItemID, string(filter.Type), filter.RefNo, nullTime(filter.From), nullTime(filter.To), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.ItemID, &e.ItemCode, &e.ItemName, &e.Type, &e.Quantity, &e.Rate, &e.Amount, &e.PreviousStock, &e.NewStock, &e.RefType, &e.RefNo, &e.Remarks, &e.CreatedAt, &e.CreatedBy); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *txRepository) FindItemForUpdate(ctx context.Context, itemCode, itemName string) (Item, error) {
	return findItem(ctx, r.tx, itemCode, itemName, " FOR UPDATE")
}

func (r *txRepository) InsertItem(ctx context.Context, item Item) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_items (item_code, item_name, category_id, stock, version, updated_at)
VALUES ($1,$2,$3,$4,$5,NOW()) RETURNING id`, item.ItemCode, item.ItemName, nullInt(item.CategoryID), item.Stock, item.Version).Scan(&id)
	return id, err
}

func (r *txRepository) UpdateItemStock(ctx context.Context, item Item) error {
	tag, err := r.tx.Exec(ctx, `UPDATE stock_items SET stock=$2, category_id=COALESCE(category_id, $4), version=version+1, updated_at=NOW() WHERE id=$1 AND version=$3`,
		item.ID, item.Stock, item.Version, nullInt(item.CategoryID))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("stock: item %d: %w", item.ID, shared.ErrConcurrentUpdate)
	}
	return nil
}

func (r *txRepository) InsertEntry(ctx context.Context, e Entry) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_entries (item_id, item_code, item_name, entry_type, quantity, rate, amount, previous_stock, new_stock, ref_type, ref_no, remarks, created_at, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14) RETURNING id`,
		e.ItemID, e.ItemCode, e.ItemName, string(e.Type), e.Quantity, e.Rate, e.Amount, e.PreviousStock, e.NewStock, e.RefType, e.RefNo, e.Remarks, e.CreatedAt, nullInt(e.CreatedBy)).Scan(&id)
	return id, err
}

// CatalogRepository resolves item categories and their tracked flags.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

// NewCatalogRepository constructs CatalogRepository.
func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

// CategoryOf returns the category of a menu item by code, falling back to name.
func (r *CatalogRepository) CategoryOf(ctx context.Context, itemCode, itemName string) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `SELECT category_id FROM menu_items
WHERE ($1 <> '' AND item_code = $1) OR ($1 = '' AND item_name = $2)
ORDER BY id LIMIT 1`, itemCode, itemName).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrCategoryUnknown
	}
	return id, err
}

// IsTracked reports the category's stock tracking flag.
func (r *CatalogRepository) IsTracked(ctx context.Context, categoryID int64) (bool, error) {
	var tracked bool
	err := r.pool.QueryRow(ctx, `SELECT stock_tracked FROM categories WHERE id=$1`, categoryID).Scan(&tracked)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrCategoryUnknown
	}
	return tracked, err
}

// SetTracked updates the category's stock tracking flag.
func (r *CatalogRepository) SetTracked(ctx context.Context, categoryID int64, tracked bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE categories SET stock_tracked=$2 WHERE id=$1`, categoryID, tracked)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrCategoryUnknown
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
