// Package repository provides data access layer implementations.
package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Common errors for repository operations.
var (
	ErrWalletNotFound    = errors.New("wallet not found")
	ErrTemplateNotFound  = errors.New("task template not found")
	ErrTaskNotFound      = errors.New("task not found")
	ErrProgressNotFound  = errors.New("task progress not found")
	ErrDirectiveNotFound = errors.New("directive not found")
	ErrSlotTaken         = errors.New("a pending directive already targets this slot")
)

// Querier is the subset of pgx operations repositories need. Both
// *pgxpool.Pool and pgx.Tx satisfy it, so every method can run standalone
// or join a caller's transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}
