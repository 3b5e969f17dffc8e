package storage

import (
	"context"

	"github.com/maltedev/market-scraper/internal/models"
)

// Publisher is implemented by events.Publisher.
type Publisher interface {
	PublishProductScraped(ctx context.Context, rec *models.ProductRecord) error
}

// PostgresSink stores each record in the products table together with its
// outbox event.
type PostgresSink struct {
	publisher Publisher
}

func NewPostgresSink(p Publisher) *PostgresSink {
	return &PostgresSink{publisher: p}
}

func (s *PostgresSink) Write(ctx context.Context, rec *models.ProductRecord) error {
	return s.publisher.PublishProductScraped(ctx, rec)
}

// Close is a no-op; the pool is owned by the caller.
func (s *PostgresSink) Close() error {
	return nil
}
