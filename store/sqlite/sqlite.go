/*
Package sqlite is the single-file relational store behind the sync pipeline.

PURPOSE:
  Owns the three fact tables the synchronizers replace range-wise
  (sales, prihod, stock_data), the sync_runs audit table, and the read
  queries the aggregation layer is built on.

KEY TABLES:
  sales:      retail sales line items, natural key (document_number, date, product)
  prihod:     goods-receipt line items, natural key (document_number, date, product)
  stock_data: end-of-day stock levels, natural key (product_code, as_of_date)
  sync_runs:  one row per sync pass (scheduled, startup or manual)

REPLACEMENT MODEL:
  Fact rows are never updated in place. A resync deletes everything with
  date >= the window start, then reinserts from the remote source. Inserts
  are guarded by a natural-key existence check rather than a unique index:
  the dedup has to tolerate whatever a concurrent pass already wrote, not
  fail the batch.

DATES:
  Stored as text. Document moments use "2006-01-02 15:04:05" (remote
  millisecond suffix stripped), stock as-of dates use "2006-01-02". All
  range comparisons and strftime() grouping rely on this ordering.

CONCURRENCY:
  WAL mode, no application-level locking. The scheduler loop and the HTTP
  path write concurrently; SQLITE_BUSY/SQLITE_LOCKED surfaces to the caller
  and is classified by IsContention for the ingest retry policy.

SEE ALSO:
  - ingest/: delete + save callers and the retry policy
  - report/: aggregation queries over these tables
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
)

// Store wraps the shared SQLite handle.
type Store struct {
	db *sql.DB
}

// New opens (and if needed creates) the database at dbPath.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Each pooled connection to :memory: gets its own empty database, so
	// the pool must never open a second one.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the schema.
func (s *Store) migrate() error {
	schema := `
	-- Retail sales line items (range-replaced per resync)
	CREATE TABLE IF NOT EXISTS sales (
		document_number TEXT,
		date TEXT,
		seller TEXT,
		product TEXT,
		quantity INTEGER,
		price INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_sales_date ON sales(date);
	CREATE INDEX IF NOT EXISTS idx_sales_key ON sales(document_number, date, product);
	CREATE INDEX IF NOT EXISTS idx_sales_product_date ON sales(product, date);

	-- Goods receipts (prihod)
	CREATE TABLE IF NOT EXISTS prihod (
		document_number TEXT,
		date TEXT,
		supplier TEXT,
		product TEXT,
		quantity INTEGER,
		price INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_prihod_date ON prihod(date);
	CREATE INDEX IF NOT EXISTS idx_prihod_key ON prihod(document_number, date, product);
	CREATE INDEX IF NOT EXISTS idx_prihod_product_date ON prihod(product, date);

	-- Daily stock snapshots, one row per (product, day) with stock > 0
	CREATE TABLE IF NOT EXISTS stock_data (
		product_name TEXT,
		product_code TEXT,
		stock_quantity INTEGER,
		as_of_date TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_stock_key ON stock_data(product_code, as_of_date);
	CREATE INDEX IF NOT EXISTS idx_stock_date ON stock_data(as_of_date);
	CREATE INDEX IF NOT EXISTS idx_stock_name ON stock_data(product_name);

	-- Sync pass audit (scheduled, startup and manual runs)
	CREATE TABLE IF NOT EXISTS sync_runs (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		start_date TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'running',
		documents INTEGER DEFAULT 0,
		rows INTEGER DEFAULT 0,
		error TEXT,
		started_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_sync_runs_kind ON sync_runs(kind, started_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// IsContention reports whether err is a storage lock conflict
// (SQLITE_BUSY or SQLITE_LOCKED) worth retrying.
func IsContention(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	return false
}

// =============================================================================
// RECORD TYPES
// =============================================================================

// SaleRow is one stored sales line item.
type SaleRow struct {
	DocumentNumber string
	Date           string // "2006-01-02 15:04:05"
	Seller         string
	Product        string
	Quantity       int64
	Price          int64 // whole currency units
}

// IncomingRow is one stored goods-receipt line item.
type IncomingRow struct {
	DocumentNumber string
	Date           string
	Supplier       string
	Product        string
	Quantity       int64
	Price          int64
}

// StockRow is one stored end-of-day stock level.
type StockRow struct {
	ProductName   string
	ProductCode   string
	StockQuantity int64
	AsOfDate      string // "2006-01-02"
}

// SyncRun is one recorded sync pass.
type SyncRun struct {
	ID          string
	Kind        string // "sales", "prihod", "stock"
	StartDate   string
	Status      string // "running", "completed", "failed"
	Documents   int64
	Rows        int64
	Error       string
	StartedAt   time.Time
	CompletedAt *time.Time
}

// =============================================================================
// SALES
// =============================================================================

// DeleteSalesFrom removes all sales with date >= since (range replacement).
func (s *Store) DeleteSalesFrom(ctx context.Context, since string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sales WHERE date >= ?`, since)
	if err != nil {
		return fmt.Errorf("failed to clear sales from %s: %w", since, err)
	}
	return nil
}

// SaveSales inserts rows that do not already exist under their natural key.
// The whole batch (one remote document) commits atomically. Returns the
// number of rows actually inserted.
func (s *Store) SaveSales(ctx context.Context, rows []SaleRow) (int, error) {
	inserted := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, r := range rows {
			var one int
			err := tx.QueryRowContext(ctx,
				`SELECT 1 FROM sales WHERE document_number = ? AND date = ? AND product = ?`,
				r.DocumentNumber, r.Date, r.Product).Scan(&one)
			if err == nil {
				continue // duplicate natural key, skip
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO sales (document_number, date, seller, product, quantity, price)
				 VALUES (?, ?, ?, ?, ?, ?)`,
				r.DocumentNumber, r.Date, r.Seller, r.Product, r.Quantity, r.Price); err != nil {
				return err
			}
			inserted++
		}
		return nil
	})
	return inserted, err
}

// ListSales returns all sales ordered by date then document.
func (s *Store) ListSales(ctx context.Context) ([]SaleRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT document_number, date, seller, product, quantity, price
		 FROM sales ORDER BY date, document_number, product`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SaleRow
	for rows.Next() {
		var r SaleRow
		if err := rows.Scan(&r.DocumentNumber, &r.Date, &r.Seller, &r.Product, &r.Quantity, &r.Price); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// =============================================================================
// PRIHOD (INCOMING)
// =============================================================================

// DeleteIncomingFrom removes all receipts with date >= since.
func (s *Store) DeleteIncomingFrom(ctx context.Context, since string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM prihod WHERE date >= ?`, since)
	if err != nil {
		return fmt.Errorf("failed to clear prihod from %s: %w", since, err)
	}
	return nil
}

// SaveIncoming inserts receipt rows with the same dedup contract as SaveSales.
func (s *Store) SaveIncoming(ctx context.Context, rows []IncomingRow) (int, error) {
	inserted := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, r := range rows {
			var one int
			err := tx.QueryRowContext(ctx,
				`SELECT 1 FROM prihod WHERE document_number = ? AND date = ? AND product = ?`,
				r.DocumentNumber, r.Date, r.Product).Scan(&one)
			if err == nil {
				continue
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO prihod (document_number, date, supplier, product, quantity, price)
				 VALUES (?, ?, ?, ?, ?, ?)`,
				r.DocumentNumber, r.Date, r.Supplier, r.Product, r.Quantity, r.Price); err != nil {
				return err
			}
			inserted++
		}
		return nil
	})
	return inserted, err
}

// ListIncoming returns all receipts ordered by date then document.
func (s *Store) ListIncoming(ctx context.Context) ([]IncomingRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT document_number, date, supplier, product, quantity, price
		 FROM prihod ORDER BY date, document_number, product`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []IncomingRow
	for rows.Next() {
		var r IncomingRow
		if err := rows.Scan(&r.DocumentNumber, &r.Date, &r.Supplier, &r.Product, &r.Quantity, &r.Price); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// =============================================================================
// STOCK
// =============================================================================

// DeleteStockFrom removes stock rows with as_of_date >= since.
func (s *Store) DeleteStockFrom(ctx context.Context, since string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM stock_data WHERE as_of_date >= ?`, since)
	if err != nil {
		return fmt.Errorf("failed to clear stock from %s: %w", since, err)
	}
	return nil
}

// SaveStock inserts stock rows deduplicated on (product_code, as_of_date).
func (s *Store) SaveStock(ctx context.Context, rows []StockRow) (int, error) {
	inserted := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, r := range rows {
			var one int
			err := tx.QueryRowContext(ctx,
				`SELECT 1 FROM stock_data WHERE product_code = ? AND as_of_date = ?`,
				r.ProductCode, r.AsOfDate).Scan(&one)
			if err == nil {
				continue
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO stock_data (product_name, product_code, stock_quantity, as_of_date)
				 VALUES (?, ?, ?, ?)`,
				r.ProductName, r.ProductCode, r.StockQuantity, r.AsOfDate); err != nil {
				return err
			}
			inserted++
		}
		return nil
	})
	return inserted, err
}

// ListStock returns all stock rows ordered by date then code.
func (s *Store) ListStock(ctx context.Context) ([]StockRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT product_name, product_code, stock_quantity, as_of_date
		 FROM stock_data ORDER BY as_of_date, product_code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StockRow
	for rows.Next() {
		var r StockRow
		if err := rows.Scan(&r.ProductName, &r.ProductCode, &r.StockQuantity, &r.AsOfDate); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// =============================================================================
// AGGREGATION QUERIES
// =============================================================================

// MonthValue is one (month, identifier) pair from a grouped fact query.
type MonthValue struct {
	Month string // "2006-01"
	Value string
}

// MonthlyStockCodes returns the distinct product codes seen in stock
// snapshots per month.
func (s *Store) MonthlyStockCodes(ctx context.Context) ([]MonthValue, error) {
	return s.queryMonthValues(ctx,
		`SELECT strftime('%Y-%m', as_of_date) AS month, product_code
		 FROM stock_data GROUP BY month, product_code`)
}

// MonthlyIncomingProducts returns the distinct product names seen in
// receipts per month.
func (s *Store) MonthlyIncomingProducts(ctx context.Context) ([]MonthValue, error) {
	return s.queryMonthValues(ctx,
		`SELECT strftime('%Y-%m', date) AS month, product
		 FROM prihod GROUP BY month, product`)
}

func (s *Store) queryMonthValues(ctx context.Context, query string) ([]MonthValue, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MonthValue
	for rows.Next() {
		var mv MonthValue
		if err := rows.Scan(&mv.Month, &mv.Value); err != nil {
			return nil, err
		}
		out = append(out, mv)
	}
	return out, rows.Err()
}

// MonthSales carries per-month sales aggregates.
type MonthSales struct {
	Month    string
	SoldSKUs int64
	Revenue  int64
}

// MonthlySales returns, per month with sales, the distinct sold product
// count and total revenue (price * quantity over all line items).
func (s *Store) MonthlySales(ctx context.Context) ([]MonthSales, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT strftime('%Y-%m', date) AS month,
		        COUNT(DISTINCT product),
		        COALESCE(SUM(price * quantity), 0)
		 FROM sales GROUP BY month ORDER BY month`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MonthSales
	for rows.Next() {
		var ms MonthSales
		if err := rows.Scan(&ms.Month, &ms.SoldSKUs, &ms.Revenue); err != nil {
			return nil, err
		}
		out = append(out, ms)
	}
	return out, rows.Err()
}

// CurrentStock is a product's most recent positive stock level.
type CurrentStock struct {
	ProductName   string
	StockQuantity int64
}

// ProductsInStock returns each product's latest stock snapshot, limited to
// products whose latest level is positive. Snapshot replay joins receipts
// and sales by product name, so the name keys this query; when several
// codes share a name on the latest date, the highest level wins.
func (s *Store) ProductsInStock(ctx context.Context) ([]CurrentStock, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT product_name, MAX(stock_quantity)
		 FROM stock_data
		 WHERE stock_quantity > 0
		   AND as_of_date = (SELECT MAX(i.as_of_date) FROM stock_data i
		                     WHERE i.product_name = stock_data.product_name)
		 GROUP BY product_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CurrentStock
	for rows.Next() {
		var cs CurrentStock
		if err := rows.Scan(&cs.ProductName, &cs.StockQuantity); err != nil {
			return nil, err
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}

// ProductTransaction is one receipt or sale event in a product's history.
type ProductTransaction struct {
	Type     string // "prihod" or "sales"
	Date     string
	Quantity int64
	Price    int64
}

// ProductHistory returns every receipt and sale of the product from the
// horizon date onward, in chronological order.
func (s *Store) ProductHistory(ctx context.Context, product, horizon string) ([]ProductTransaction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT date, quantity, price, 'prihod' AS type
		 FROM prihod WHERE product = ? AND date >= ?
		 UNION ALL
		 SELECT date, quantity, price, 'sales' AS type
		 FROM sales WHERE product = ? AND date >= ?
		 ORDER BY date`,
		product, horizon, product, horizon)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ProductTransaction
	for rows.Next() {
		var tx ProductTransaction
		if err := rows.Scan(&tx.Date, &tx.Quantity, &tx.Price, &tx.Type); err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

// =============================================================================
// SYNC RUNS
// =============================================================================

// SaveSyncRun upserts a run record (the same row is written at start and
// again at completion).
func (s *Store) SaveSyncRun(ctx context.Context, run SyncRun) error {
	var completed any
	if run.CompletedAt != nil {
		completed = run.CompletedAt.UTC().Format(time.RFC3339)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_runs (id, kind, start_date, status, documents, rows, error, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   status = excluded.status,
		   documents = excluded.documents,
		   rows = excluded.rows,
		   error = excluded.error,
		   completed_at = excluded.completed_at`,
		run.ID, run.Kind, run.StartDate, run.Status, run.Documents, run.Rows,
		nullString(run.Error), run.StartedAt.UTC().Format(time.RFC3339), completed)
	if err != nil {
		return fmt.Errorf("failed to save sync run: %w", err)
	}
	return nil
}

// ListSyncRuns returns the most recent runs, newest first.
func (s *Store) ListSyncRuns(ctx context.Context, limit int) ([]SyncRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, start_date, status, documents, rows, error, started_at, completed_at
		 FROM sync_runs ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSyncRuns(rows)
}

// LastRunPerKind returns the newest run of each kind, for health reporting.
func (s *Store) LastRunPerKind(ctx context.Context) ([]SyncRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, start_date, status, documents, rows, error, started_at, completed_at
		 FROM sync_runs
		 WHERE started_at = (SELECT MAX(i.started_at) FROM sync_runs i WHERE i.kind = sync_runs.kind)
		 GROUP BY kind`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSyncRuns(rows)
}

func scanSyncRuns(rows *sql.Rows) ([]SyncRun, error) {
	var out []SyncRun
	for rows.Next() {
		var (
			run         SyncRun
			errText     sql.NullString
			startedAt   string
			completedAt sql.NullString
		)
		if err := rows.Scan(&run.ID, &run.Kind, &run.StartDate, &run.Status,
			&run.Documents, &run.Rows, &errText, &startedAt, &completedAt); err != nil {
			return nil, err
		}
		run.Error = errText.String
		if t, err := time.Parse(time.RFC3339, startedAt); err == nil {
			run.StartedAt = t
		}
		if completedAt.Valid {
			if t, err := time.Parse(time.RFC3339, completedAt.String); err == nil {
				run.CompletedAt = &t
			}
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
