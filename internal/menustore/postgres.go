package menustore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/ca-srg/cravings/internal/menu"
)

const menuItemColumns = `
	id,
	name,
	COALESCE(description, ''),
	COALESCE(price, 0)::float8,
	COALESCE(category_id, 1),
	COALESCE(is_veg, false),
	COALESCE(is_bestseller, false),
	COALESCE(is_available, true),
	COALESCE(tags, '{}')::text[],
	COALESCE(image_url, '')
`

// Postgres reads menu_items, orders and order_items from PostgreSQL.
type Postgres struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewPostgres connects to databaseURL and checks the connection.
func NewPostgres(ctx context.Context, databaseURL string, logger zerolog.Logger) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Postgres{
		pool:   pool,
		logger: logger.With().Str("component", "menu_postgres").Logger(),
	}, nil
}

func (p *Postgres) ListItems(ctx context.Context) ([]menu.MenuItem, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+menuItemColumns+` FROM menu_items ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query menu items: %w", err)
	}
	return collectItems(rows)
}

func (p *Postgres) GetItems(ctx context.Context, ids []int64) ([]menu.MenuItem, error) {
	if len(ids) == 0 {
		return []menu.MenuItem{}, nil
	}
	rows, err := p.pool.Query(ctx, `SELECT `+menuItemColumns+` FROM menu_items WHERE id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, fmt.Errorf("query menu items by id: %w", err)
	}
	return collectItems(rows)
}

func (p *Postgres) OrderIDs(ctx context.Context, userID string) ([]int64, error) {
	rows, err := p.pool.Query(ctx, `SELECT id FROM orders WHERE user_id::text = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("scan orders: %w", err)
	}
	return ids, nil
}

func (p *Postgres) OrderItemIDs(ctx context.Context, orderIDs []int64) ([]int64, error) {
	if len(orderIDs) == 0 {
		return nil, nil
	}
	rows, err := p.pool.Query(ctx, `SELECT menu_item_id FROM order_items WHERE order_id = ANY($1) AND menu_item_id IS NOT NULL`, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("scan order items: %w", err)
	}
	return ids, nil
}

// Close releases the pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

func collectItems(rows pgx.Rows) ([]menu.MenuItem, error) {
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (menu.MenuItem, error) {
		var item menu.MenuItem
		err := row.Scan(
			&item.ID,
			&item.Name,
			&item.Description,
			&item.Price,
			&item.CategoryID,
			&item.IsVeg,
			&item.IsBestseller,
			&item.IsAvailable,
			&item.Tags,
			&item.ImageURL,
		)
		return item, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan menu items: %w", err)
	}
	return items, nil
}
