// Package usql wraps database/sql with per-statement timing statistics.
package usql

import (
	"context"
	"database/sql"

	"github.com/ordishs/gocore"
)

var (
	stat = gocore.NewStat("SQL")
)

// DB is a wrapper around sql.DB that records how long each statement takes, keyed by the
// label the caller gives it.
type DB struct {
	*sql.DB
}

func Open(driverName, dataSourceName string) (*DB, error) {
	db, err := sql.Open(driverName, dataSourceName)
	if err != nil {
		return nil, err
	}

	return &DB{db}, nil
}

func (db *DB) QueryRowContext(ctx context.Context, label string, query string, args ...interface{}) *sql.Row {
	start := gocore.CurrentTime()
	defer stat.NewStat(label).AddTime(start)

	return db.DB.QueryRowContext(ctx, query, args...)
}

func (db *DB) QueryContext(ctx context.Context, label string, query string, args ...interface{}) (*sql.Rows, error) {
	start := gocore.CurrentTime()
	defer stat.NewStat(label).AddTime(start)

	return db.DB.QueryContext(ctx, query, args...)
}

func (db *DB) ExecContext(ctx context.Context, label string, query string, args ...interface{}) (sql.Result, error) {
	start := gocore.CurrentTime()
	defer stat.NewStat(label).AddTime(start)

	return db.DB.ExecContext(ctx, query, args...)
}

// WithTx runs fn inside a transaction, committing when fn returns nil and rolling back
// otherwise.
func (db *DB) WithTx(ctx context.Context, label string, fn func(tx *sql.Tx) error) error {
	start := gocore.CurrentTime()
	defer stat.NewStat(label).AddTime(start)

	tx, err := db.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err = fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}
