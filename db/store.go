// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/danielhkuo/verivote/apperr"
)

// Dialect selects the SQL flavour and driver.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// ParseDialect maps a configured database type to a Dialect.
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(s) {
	case "postgres", "postgresql":
		return DialectPostgres, nil
	case "sqlite", "sqlite3", "":
		return DialectSQLite, nil
	}
	return "", fmt.Errorf("unsupported database type %q", s)
}

// Querier is satisfied by *sql.DB and *sql.Tx so queries run either inside or
// outside a transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store wraps the connection pool with its dialect.
type Store struct {
	DB      *sql.DB
	Dialect Dialect
}

// Open connects and pings the database. SQLite connections are limited to a
// single writer.
func Open(ctx context.Context, dialect Dialect, dsn string) (*Store, error) {
	var driver string
	switch dialect {
	case DialectPostgres:
		driver = "postgres"
	case DialectSQLite:
		driver = "sqlite"
	default:
		return nil, fmt.Errorf("unsupported database type %q", dialect)
	}

	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dialect == DialectSQLite {
		conn.SetMaxOpenConns(1)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{DB: conn, Dialect: dialect}, nil
}

// CreateSchema creates the tables for the store's dialect.
func (s *Store) CreateSchema(ctx context.Context) error {
	return CreateSchema(ctx, s.DB, s.Dialect)
}

// Close closes the pool.
func (s *Store) Close() error {
	return s.DB.Close()
}

// BeginTx starts a read-write transaction.
func (s *Store) BeginTx(ctx context.Context) (*sql.Tx, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return tx, nil
}

// InTx runs fn inside a transaction, committing on success.
func (s *Store) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// LockPoll takes a row lock on the poll for the rest of the transaction.
// SQLite already serializes writers, so it only checks that the row exists.
func (s *Store) LockPoll(ctx context.Context, tx *sql.Tx, pollID int64) error {
	q := "SELECT id FROM polls WHERE id = $1"
	if s.Dialect == DialectPostgres {
		q += " FOR UPDATE"
	}
	var id int64
	err := tx.QueryRowContext(ctx, q, pollID).Scan(&id)
	if err == sql.ErrNoRows {
		return notFound("poll", pollID)
	}
	if err != nil {
		return fmt.Errorf("failed to lock poll: %w", err)
	}
	return nil
}

// IsUniqueViolation reports whether err is a primary key or unique
// constraint failure from either driver.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}

func notFound(what string, id int64) error {
	return apperr.Wrap(apperr.KindNotFound, apperr.CodeNotFound, sql.ErrNoRows, fmt.Sprintf("%s %d not found", what, id))
}

// WalletKey is the stored form of a wallet: lower-case 0x hex.
func WalletKey(a common.Address) string {
	return strings.ToLower(a.Hex())
}

func scanHash(b []byte) common.Hash {
	return common.BytesToHash(b)
}
