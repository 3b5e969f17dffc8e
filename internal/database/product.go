package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/maltedev/market-scraper/internal/models"
)

type ProductStatus string

const (
	StatusOK     ProductStatus = "ok"
	StatusFailed ProductStatus = "failed"
)

type Product struct {
	ID        uuid.UUID       `db:"id"`
	URL       string          `db:"url"`
	Name      *string         `db:"name"`
	Status    ProductStatus   `db:"status"`
	RawData   json.RawMessage `db:"raw_data"`
	Error     *string         `db:"error"`
	FetchedAt time.Time       `db:"fetched_at"`
	CreatedAt time.Time       `db:"created_at"`
	UpdatedAt time.Time       `db:"updated_at"`
}

// ProductID is the stable id of the product at url.
func ProductID(url string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(url))
}

// ProductFromRecord maps an assembled record onto its table row. The full
// record is kept as raw_data.
func ProductFromRecord(rec *models.ProductRecord) (*Product, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}

	p := &Product{
		ID:        ProductID(rec.URL),
		URL:       rec.URL,
		Name:      rec.Name,
		Status:    StatusOK,
		RawData:   raw,
		FetchedAt: rec.FetchedAt,
	}
	if rec.Failed() {
		msg := rec.Error
		p.Status = StatusFailed
		p.Error = &msg
	}
	return p, nil
}

// UpsertProductTx inserts p or replaces the stored row with the same id.
func UpsertProductTx(ctx context.Context, tx pgx.Tx, p *Product) error {
	query := `
		INSERT INTO products (id, url, name, status, raw_data, error, fetched_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			url = EXCLUDED.url,
			name = EXCLUDED.name,
			status = EXCLUDED.status,
			raw_data = EXCLUDED.raw_data,
			error = EXCLUDED.error,
			fetched_at = EXCLUDED.fetched_at,
			updated_at = CURRENT_TIMESTAMP
		RETURNING created_at, updated_at`

	err := tx.QueryRow(ctx, query,
		p.ID, p.URL, p.Name, p.Status, p.RawData, p.Error, p.FetchedAt,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert product: %w", err)
	}

	return nil
}

// SaveProductWithEvent stores p and enqueues event in one transaction.
func (db *DB) SaveProductWithEvent(ctx context.Context, p *Product, event *OutboxEvent) error {
	outbox := NewOutboxRepository(db)
	return db.Transaction(ctx, func(tx pgx.Tx) error {
		if err := UpsertProductTx(ctx, tx, p); err != nil {
			return err
		}
		return outbox.InsertWithTx(ctx, tx, event)
	})
}

// GetProduct returns the product with id, or nil when there is none.
func (db *DB) GetProduct(ctx context.Context, id uuid.UUID) (*Product, error) {
	query := `
		SELECT id, url, name, status, raw_data, error, fetched_at, created_at, updated_at
		FROM products
		WHERE id = $1`

	p := &Product{}
	err := db.pool.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.URL, &p.Name, &p.Status, &p.RawData, &p.Error,
		&p.FetchedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}

	return p, nil
}

func (db *DB) CountProductsByStatus(ctx context.Context) (map[ProductStatus]int, error) {
	query := `
		SELECT status, COUNT(*) AS count
		FROM products
		GROUP BY status`

	rows, err := db.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to count products: %w", err)
	}
	defer rows.Close()

	counts := make(map[ProductStatus]int)
	for rows.Next() {
		var status ProductStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[status] = count
	}

	return counts, rows.Err()
}
