package repository

import (
	"context"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Queryable is satisfied by both the connection pool and a transaction
type Queryable interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// rowScanner is the common part of pgx.Row and pgx.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

// weiParam renders an amount for a $n::numeric placeholder
func weiParam(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// parseWei reads a NUMERIC column selected as ::text
func parseWei(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid wei amount %q", s)
	}
	return v, nil
}
