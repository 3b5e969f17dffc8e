package events

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/maltedev/market-scraper/internal/database"
	"github.com/maltedev/market-scraper/internal/models"
)

type EventType string

const (
	// EventTypeProductScraped is published once per assembled record,
	// including error records.
	EventTypeProductScraped EventType = "PRODUCT_SCRAPED"

	aggregateProduct = "product"
)

// ProductScrapedPayload is the document downstream indexers receive. The
// full record travels in Record.
type ProductScrapedPayload struct {
	EventID   string                `json:"event_id"`
	EventType string                `json:"event_type"`
	Timestamp time.Time             `json:"timestamp"`
	ProductID string                `json:"product_id"`
	URL       string                `json:"url"`
	Name      *string               `json:"name"`
	Price     *float64              `json:"price"`
	Currency  string                `json:"currency,omitempty"`
	SpecCount int                   `json:"spec_count"`
	Failed    bool                  `json:"failed"`
	Record    *models.ProductRecord `json:"record"`
	Source    string                `json:"source"`
}

// Store persists a product row and its outbox event atomically.
type Store interface {
	SaveProductWithEvent(ctx context.Context, p *database.Product, event *database.OutboxEvent) error
}

// Publisher writes records to the products table and announces them
// through the transactional outbox.
type Publisher struct {
	store  Store
	stream string
	logger *slog.Logger
	now    func() time.Time
}

func NewPublisher(store Store, stream string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if stream == "" {
		stream = database.DefaultTargetStream
	}
	return &Publisher{
		store:  store,
		stream: stream,
		logger: logger.With("component", "event_publisher"),
		now:    time.Now,
	}
}

func NewProductScrapedPayload(rec *models.ProductRecord, productID uuid.UUID, now time.Time) *ProductScrapedPayload {
	return &ProductScrapedPayload{
		EventID:   uuid.New().String(),
		EventType: string(EventTypeProductScraped),
		Timestamp: now.UTC(),
		ProductID: productID.String(),
		URL:       rec.URL,
		Name:      rec.Name,
		Price:     rec.Price,
		Currency:  rec.Currency,
		SpecCount: len(rec.Specs),
		Failed:    rec.Failed(),
		Record:    rec,
		Source:    "scraper",
	}
}

// PublishProductScraped upserts rec and enqueues a PRODUCT_SCRAPED event in
// the same transaction.
func (p *Publisher) PublishProductScraped(ctx context.Context, rec *models.ProductRecord) error {
	product, err := database.ProductFromRecord(rec)
	if err != nil {
		return err
	}

	payload := NewProductScrapedPayload(rec, product.ID, p.now())
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	outboxEvent := &database.OutboxEvent{
		AggregateType: aggregateProduct,
		AggregateID:   product.ID.String(),
		EventType:     string(EventTypeProductScraped),
		Payload:       data,
		TargetStream:  p.stream,
	}

	if err := p.store.SaveProductWithEvent(ctx, product, outboxEvent); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Debug("event published to outbox",
		"type", payload.EventType,
		"event_id", payload.EventID,
		"product_id", payload.ProductID,
		"outbox_id", outboxEvent.ID,
	)

	return nil
}
