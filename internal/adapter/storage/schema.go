package storage

import (
	"context"
	"fmt"
)

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id            CHAR(36)      NOT NULL PRIMARY KEY,
		name          VARCHAR(255)  NOT NULL,
		description   TEXT          NOT NULL,
		current_stock BIGINT        NOT NULL DEFAULT 0,
		min_stock     BIGINT        NOT NULL DEFAULT 0,
		price         DECIMAL(12,2) NOT NULL DEFAULT 0.00,
		active        BOOLEAN       NOT NULL DEFAULT TRUE,
		created_at    TIMESTAMP(3)  NOT NULL,
		updated_at    TIMESTAMP(3)  NOT NULL,
		CONSTRAINT chk_products_stock CHECK (current_stock >= 0)
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id          CHAR(36)     NOT NULL PRIMARY KEY,
		product_id  CHAR(36)     NOT NULL,
		quantity    BIGINT       NOT NULL,
		type        VARCHAR(20)  NOT NULL,
		description TEXT         NOT NULL,
		user_name   VARCHAR(100) NOT NULL,
		created_at  TIMESTAMP(3) NOT NULL,
		ledger_hash VARCHAR(80)  NULL,
		sync_state  VARCHAR(10)  NOT NULL DEFAULT 'PENDING',
		INDEX idx_transactions_sync (sync_state, created_at),
		INDEX idx_transactions_product (product_id),
		CONSTRAINT fk_transactions_product FOREIGN KEY (product_id) REFERENCES products(id)
	)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id            CHAR(36)      PRIMARY KEY,
		name          VARCHAR(255)  NOT NULL,
		description   TEXT          NOT NULL DEFAULT '',
		current_stock BIGINT        NOT NULL DEFAULT 0 CHECK (current_stock >= 0),
		min_stock     BIGINT        NOT NULL DEFAULT 0,
		price         NUMERIC(12,2) NOT NULL DEFAULT 0,
		active        BOOLEAN       NOT NULL DEFAULT TRUE,
		created_at    TIMESTAMPTZ   NOT NULL,
		updated_at    TIMESTAMPTZ   NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id          CHAR(36)     PRIMARY KEY,
		product_id  CHAR(36)     NOT NULL REFERENCES products(id),
		quantity    BIGINT       NOT NULL,
		type        VARCHAR(20)  NOT NULL,
		description TEXT         NOT NULL DEFAULT '',
		user_name   VARCHAR(100) NOT NULL,
		created_at  TIMESTAMPTZ  NOT NULL,
		ledger_hash VARCHAR(80),
		sync_state  VARCHAR(10)  NOT NULL DEFAULT 'PENDING'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_sync ON transactions (sync_state, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_product ON transactions (product_id)`,
}

// Migrate creates the products and transactions tables if they are missing.
func (s *SQLAdapter) Migrate(ctx context.Context) error {
	stmts := mysqlSchema
	if s.dialect == DialectPostgres {
		stmts = postgresSchema
	}
	for i, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate step %d: %w", i+1, err)
		}
	}
	return nil
}
