package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// QuoteRepo answers lookups against the quotes table. Quote content itself
// is owned elsewhere.
type QuoteRepo struct {
	pool *pgxpool.Pool
}

func NewQuoteRepo(pool *pgxpool.Pool) *QuoteRepo {
	return &QuoteRepo{pool: pool}
}

func (r *QuoteRepo) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM quotes WHERE id = $1)", id).Scan(&exists)
	return exists, err
}
