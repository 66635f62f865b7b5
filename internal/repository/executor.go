package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
)

// Repository sentinel errors. Services map these onto caller-facing
// outcomes; repositories never return them wrapped in free-form text.
var (
	ErrNotFound          = errors.New("not found")
	ErrDuplicate         = errors.New("duplicate row")
	ErrNoUnassignedCodes = errors.New("no unassigned codes")
	ErrAlreadyAssigned   = errors.New("code already assigned")
	ErrAlreadyRedeemed   = errors.New("code already redeemed")
	ErrNotPending        = errors.New("application not pending")
)

// DBExecutor interface for database operations (can be *sqlx.DB or *sqlx.Tx)
type DBExecutor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// Tx is a DBExecutor bounded by a transaction. *sqlx.Tx satisfies it.
type Tx interface {
	DBExecutor
	Commit() error
	Rollback() error
}

// Conn is what services hold: plain statement execution plus the
// ability to open a write transaction.
type Conn interface {
	DBExecutor
	Begin(ctx context.Context) (Tx, error)
}

type sqlxConn struct {
	*sqlx.DB
}

// Wrap adapts a *sqlx.DB to the Conn interface.
func Wrap(db *sqlx.DB) Conn {
	return sqlxConn{db}
}

func (c sqlxConn) Begin(ctx context.Context) (Tx, error) {
	return c.DB.BeginTxx(ctx, nil)
}
