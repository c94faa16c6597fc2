// Package db
package db

import (
	"context"
)

// Row is a single result row keyed by column name.
type Row map[string]any

// Session is the store access used by the repositories.
type Session interface {
	Query(ctx context.Context, s Select) ([]Row, error)
	Count(ctx context.Context, s Select) (int64, error)
	// Insert upserts row, keyed by the table's primary key.
	Insert(ctx context.Context, t Table, row Row) error
	CreateTable(ctx context.Context, t Table) error
	Close()
}
