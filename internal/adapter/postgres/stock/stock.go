package stock

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	domainstock "github.com/alanyang/pglock/internal/domain/stock"
	stocksvc "github.com/alanyang/pglock/internal/service/stock"
)

var _ stocksvc.Repository = (*Repository)(nil)

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Create(ctx context.Context, s domainstock.Stock) (domainstock.Stock, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO stock (id, sku, quantity, created_at)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, sku, quantity, created_at`,
		s.ID, s.SKU, s.Quantity, s.CreatedAt,
	)

	var out domainstock.Stock
	if err := row.Scan(&out.ID, &out.SKU, &out.Quantity, &out.CreatedAt); err != nil {
		return domainstock.Stock{}, fmt.Errorf("insert stock: %w", err)
	}
	return out, nil
}

func (r *Repository) GetBySKU(ctx context.Context, sku string) (domainstock.Stock, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, sku, quantity, created_at FROM stock WHERE sku = $1`, sku,
	)

	var out domainstock.Stock
	if err := row.Scan(&out.ID, &out.SKU, &out.Quantity, &out.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domainstock.Stock{}, stocksvc.ErrNotFound
		}
		return domainstock.Stock{}, fmt.Errorf("get stock: %w", err)
	}
	return out, nil
}

// SetQuantity writes a caller-computed quantity with no locking at all.
// Used by the deliberately race-prone buy path.
func (r *Repository) SetQuantity(ctx context.Context, sku string, quantity int) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE stock SET quantity = $1 WHERE sku = $2`, quantity, sku,
	)
	if err != nil {
		return fmt.Errorf("set quantity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return stocksvc.ErrNotFound
	}
	return nil
}

// UpdateWithRowLock runs update against the row held under SELECT ... FOR
// UPDATE and persists the quantity it returns, all in one transaction. An
// error from update rolls back.
func (r *Repository) UpdateWithRowLock(ctx context.Context, sku string, update func(domainstock.Stock) (int, error)) (domainstock.Stock, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domainstock.Stock{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	row := tx.QueryRow(ctx,
		`SELECT id, sku, quantity, created_at FROM stock WHERE sku = $1 FOR UPDATE`, sku,
	)
	var s domainstock.Stock
	if err := row.Scan(&s.ID, &s.SKU, &s.Quantity, &s.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domainstock.Stock{}, stocksvc.ErrNotFound
		}
		return domainstock.Stock{}, fmt.Errorf("select stock for update: %w", err)
	}

	quantity, err := update(s)
	if err != nil {
		return domainstock.Stock{}, err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE stock SET quantity = $1 WHERE sku = $2`, quantity, sku,
	); err != nil {
		return domainstock.Stock{}, fmt.Errorf("update stock: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return domainstock.Stock{}, fmt.Errorf("commit: %w", err)
	}

	s.Quantity = quantity
	return s, nil
}
