package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/rl1809/inventory-ledger/internal/core/domain"
)

type Dialect string

const (
	DialectMySQL    Dialect = "mysql"
	DialectPostgres Dialect = "postgres"
)

const defaultListLimit = 100

const productColumns = `id, name, description, current_stock, min_stock, price, active, created_at, updated_at`

const transactionColumns = `id, product_id, quantity, type, description, user_name, created_at, ledger_hash, sync_state`

type PoolOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// SQLAdapter is the Local Store backed by MySQL or PostgreSQL. Queries are
// written with ? placeholders and rebound for the active driver.
type SQLAdapter struct {
	db      *sqlx.DB
	dialect Dialect
}

func NewSQLAdapter(db *sqlx.DB, dialect Dialect) *SQLAdapter {
	return &SQLAdapter{db: db, dialect: dialect}
}

// Open connects, applies pool options and pings the database.
func Open(ctx context.Context, dialect Dialect, dsn string, opts PoolOptions) (*SQLAdapter, error) {
	var driver string
	switch dialect {
	case DialectMySQL:
		driver = "mysql"
	case DialectPostgres:
		driver = "pgx"
	default:
		return nil, fmt.Errorf("open store: unsupported dialect %q", dialect)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}
	return NewSQLAdapter(db, dialect), nil
}

func (s *SQLAdapter) Close() error {
	return s.db.Close()
}

func (s *SQLAdapter) q(query string) string {
	return s.db.Rebind(query)
}

func (s *SQLAdapter) CreateProduct(ctx context.Context, p domain.Product) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO products (`+productColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		p.ID, p.Name, p.Description, p.CurrentStock, p.MinStock, p.Price, p.Active,
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

func (s *SQLAdapter) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	var p domain.Product
	err := s.db.GetContext(ctx, &p, s.q(`SELECT `+productColumns+` FROM products WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query product: %w", err)
	}
	return &p, nil
}

func (s *SQLAdapter) UpdateProduct(ctx context.Context, p domain.Product) error {
	result, err := s.db.ExecContext(ctx, s.q(`
		UPDATE products
		SET name = ?, description = ?, min_stock = ?, price = ?, updated_at = ?
		WHERE id = ?`),
		p.Name, p.Description, p.MinStock, p.Price, p.UpdatedAt, p.ID,
	)
	if err != nil {
		return fmt.Errorf("update product: %w", err)
	}
	return s.requireProductRow(ctx, result, p.ID)
}

func (s *SQLAdapter) SetProductActive(ctx context.Context, id string, active bool) error {
	result, err := s.db.ExecContext(ctx, s.q(`
		UPDATE products SET active = ?, updated_at = ? WHERE id = ?`),
		active, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("set product active: %w", err)
	}
	return s.requireProductRow(ctx, result, id)
}

func (s *SQLAdapter) UpdateStock(ctx context.Context, id string, newStock int64) error {
	if newStock < 0 {
		return domain.ErrInsufficientStock
	}
	result, err := s.db.ExecContext(ctx, s.q(`
		UPDATE products SET current_stock = ?, updated_at = ? WHERE id = ?`),
		newStock, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("update stock: %w", err)
	}
	return s.requireProductRow(ctx, result, id)
}

// requireProductRow turns "no rows affected" into ErrProductNotFound. MySQL
// reports zero affected rows for no-op updates, so existence is confirmed
// with a lookup before failing.
func (s *SQLAdapter) requireProductRow(ctx context.Context, result sql.Result, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}
	_, err = s.GetProduct(ctx, id)
	return err
}

func (s *SQLAdapter) ListProducts(ctx context.Context, activeOnly bool) ([]domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products`
	if activeOnly {
		query += ` WHERE active = TRUE`
	}
	query += ` ORDER BY name`
	return s.selectProducts(ctx, query)
}

func (s *SQLAdapter) SearchProducts(ctx context.Context, name string) ([]domain.Product, error) {
	return s.selectProducts(ctx, `
		SELECT `+productColumns+` FROM products
		WHERE LOWER(name) LIKE LOWER(?) ORDER BY name`, "%"+name+"%")
}

func (s *SQLAdapter) LowStockProducts(ctx context.Context) ([]domain.Product, error) {
	return s.selectProducts(ctx, `
		SELECT `+productColumns+` FROM products
		WHERE current_stock <= min_stock AND active = TRUE ORDER BY name`)
}

func (s *SQLAdapter) selectProducts(ctx context.Context, query string, args ...any) ([]domain.Product, error) {
	products := []domain.Product{}
	if err := s.db.SelectContext(ctx, &products, s.q(query), args...); err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	return products, nil
}

func (s *SQLAdapter) ProductStats(ctx context.Context) (domain.ProductStats, error) {
	var stats domain.ProductStats
	err := s.db.GetContext(ctx, &stats, `
		SELECT
			COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN active THEN 1 ELSE 0 END), 0) AS active,
			COALESCE(SUM(CASE WHEN active THEN 0 ELSE 1 END), 0) AS inactive,
			COALESCE(SUM(CASE WHEN active AND current_stock <= min_stock THEN 1 ELSE 0 END), 0) AS low_stock
		FROM products`)
	if err != nil {
		return stats, fmt.Errorf("product stats: %w", err)
	}
	return stats, nil
}

// ApplyTransaction inserts the log row and moves the stock inside one SQL
// transaction. The stock guard lives in the UPDATE's WHERE clause so two
// concurrent OUTs cannot both pass a stale read.
func (s *SQLAdapter) ApplyTransaction(ctx context.Context, txn domain.Transaction, delta int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if delta == 0 {
		var active bool
		err := tx.GetContext(ctx, &active, s.q(`SELECT active FROM products WHERE id = ? FOR UPDATE`), txn.ProductID)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrProductNotFound
		}
		if err != nil {
			return fmt.Errorf("lock product: %w", err)
		}
		if !active {
			return &domain.ValidationError{Field: "product_id", Reason: "product is inactive"}
		}
	} else {
		result, err := tx.ExecContext(ctx, s.q(`
			UPDATE products
			SET current_stock = current_stock + ?, updated_at = ?
			WHERE id = ? AND active = TRUE AND current_stock + ? >= 0`),
			delta, txn.Timestamp, txn.ProductID, delta,
		)
		if err != nil {
			return fmt.Errorf("update stock: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if rows == 0 {
			return s.explainRejectedUpdate(ctx, tx, txn.ProductID)
		}
	}

	_, err = tx.ExecContext(ctx, s.q(`
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		txn.ID, txn.ProductID, txn.Quantity, string(txn.Type), txn.Description, txn.User,
		txn.Timestamp, txn.LedgerHash, string(txn.SyncState),
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SQLAdapter) explainRejectedUpdate(ctx context.Context, tx *sqlx.Tx, productID string) error {
	var active bool
	err := tx.GetContext(ctx, &active, s.q(`SELECT active FROM products WHERE id = ?`), productID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrProductNotFound
	}
	if err != nil {
		return fmt.Errorf("query product: %w", err)
	}
	if !active {
		return &domain.ValidationError{Field: "product_id", Reason: "product is inactive"}
	}
	return domain.ErrInsufficientStock
}

func (s *SQLAdapter) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	var t domain.Transaction
	err := s.db.GetContext(ctx, &t, s.q(`SELECT `+transactionColumns+` FROM transactions WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query transaction: %w", err)
	}
	return &t, nil
}

func (s *SQLAdapter) ListPending(ctx context.Context) ([]domain.Transaction, error) {
	return s.selectTransactions(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE sync_state = ? ORDER BY created_at, id`, string(domain.SyncStatePending))
}

func (s *SQLAdapter) MarkSynced(ctx context.Context, id, hash string) (bool, error) {
	result, err := s.db.ExecContext(ctx, s.q(`
		UPDATE transactions SET ledger_hash = ?, sync_state = ?
		WHERE id = ? AND sync_state = ?`),
		hash, string(domain.SyncStateSynced), id, string(domain.SyncStatePending),
	)
	if err != nil {
		return false, fmt.Errorf("mark synced: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return rows == 1, nil
}

func (s *SQLAdapter) ListTransactions(ctx context.Context, f domain.TransactionFilter) ([]domain.Transaction, error) {
	var (
		where []string
		args  []any
	)
	if f.ProductID != "" {
		where = append(where, "product_id = ?")
		args = append(args, f.ProductID)
	}
	if f.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(f.Type))
	}
	if f.User != "" {
		where = append(where, "user_name = ?")
		args = append(args, f.User)
	}
	if f.State != "" {
		where = append(where, "sync_state = ?")
		args = append(args, string(f.State))
	}
	if !f.From.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, f.From)
	}
	if !f.To.IsZero() {
		where = append(where, "created_at <= ?")
		args = append(args, f.To)
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT %d`, limit)

	return s.selectTransactions(ctx, query, args...)
}

func (s *SQLAdapter) selectTransactions(ctx context.Context, query string, args ...any) ([]domain.Transaction, error) {
	txns := []domain.Transaction{}
	if err := s.db.SelectContext(ctx, &txns, s.q(query), args...); err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	return txns, nil
}

func (s *SQLAdapter) TransactionStats(ctx context.Context) (domain.TransactionStats, error) {
	var stats domain.TransactionStats
	err := s.db.GetContext(ctx, &stats, s.q(`
		SELECT
			COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN sync_state = ? THEN 1 ELSE 0 END), 0) AS pending,
			COALESCE(SUM(CASE WHEN sync_state = ? THEN 1 ELSE 0 END), 0) AS synced,
			COALESCE(SUM(CASE WHEN type = ? THEN 1 ELSE 0 END), 0) AS in_count,
			COALESCE(SUM(CASE WHEN type = ? THEN 1 ELSE 0 END), 0) AS out_count,
			COALESCE(SUM(CASE WHEN type = ? THEN 1 ELSE 0 END), 0) AS transfer_count
		FROM transactions`),
		string(domain.SyncStatePending), string(domain.SyncStateSynced),
		string(domain.TransactionTypeIn), string(domain.TransactionTypeOut), string(domain.TransactionTypeTransfer),
	)
	if err != nil {
		return stats, fmt.Errorf("transaction stats: %w", err)
	}
	return stats, nil
}
