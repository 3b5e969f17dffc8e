package database

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateNextRetryTime(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, now.Add(2*time.Second), calculateNextRetryTime(now, 1))
	assert.Equal(t, now.Add(16*time.Second), calculateNextRetryTime(now, 4))
	assert.Equal(t, now.Add(5*time.Minute), calculateNextRetryTime(now, 9))
	assert.Equal(t, now.Add(5*time.Minute), calculateNextRetryTime(now, 64))
}

func TestStatusAfterFailure(t *testing.T) {
	assert.Equal(t, OutboxStatusFailed, statusAfterFailure(1))
	assert.Equal(t, OutboxStatusFailed, statusAfterFailure(MaxRetryCount-1))
	assert.Equal(t, OutboxStatusDeadLetter, statusAfterFailure(MaxRetryCount))
}

func TestOutboxEventValidate(t *testing.T) {
	valid := func() *OutboxEvent {
		return &OutboxEvent{
			AggregateType: "product",
			AggregateID:   "id",
			EventType:     "PRODUCT_SCRAPED",
			Payload:       json.RawMessage(`{}`),
		}
	}
	require.NoError(t, valid().validate())

	testCases := []struct {
		name   string
		mutate func(*OutboxEvent)
	}{
		{"missing aggregate type", func(e *OutboxEvent) { e.AggregateType = "" }},
		{"missing aggregate id", func(e *OutboxEvent) { e.AggregateID = "" }},
		{"missing event type", func(e *OutboxEvent) { e.EventType = "" }},
		{"invalid payload", func(e *OutboxEvent) { e.Payload = json.RawMessage(`{`) }},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			e := valid()
			tc.mutate(e)
			assert.Error(t, e.validate())
		})
	}
}

func TestOutboxRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	defer db.Close()

	repo := NewOutboxRepository(db)
	event := productEvent("https://market.yandex.ru/product--outbox/" + uuid.NewString())
	event.ID = uuid.Nil

	err := db.Transaction(ctx, func(tx pgx.Tx) error {
		return repo.InsertWithTx(ctx, tx, event)
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, event.ID)
	assert.Equal(t, OutboxStatusPending, event.Status)

	pending, err := repo.GetPending(ctx, 1000)
	require.NoError(t, err)
	assert.True(t, containsEvent(pending, event.ID))

	require.NoError(t, repo.MarkFailed(ctx, event.ID, errors.New("redis down")))
	pending, err = repo.GetPending(ctx, 1000)
	require.NoError(t, err)
	assert.False(t, containsEvent(pending, event.ID), "failed event is not due yet")

	require.NoError(t, repo.MarkProcessed(ctx, event.ID))
	assert.Error(t, repo.MarkProcessed(ctx, uuid.New()))
}

func TestOutboxRepository_RollbackDiscardsEvent(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	defer db.Close()

	repo := NewOutboxRepository(db)
	event := productEvent("https://market.yandex.ru/product--rollback/" + uuid.NewString())

	err := db.Transaction(ctx, func(tx pgx.Tx) error {
		if err := repo.InsertWithTx(ctx, tx, event); err != nil {
			return err
		}
		return errors.New("force rollback")
	})
	require.Error(t, err)

	pending, err := repo.GetPending(ctx, 1000)
	require.NoError(t, err)
	assert.False(t, containsEvent(pending, event.ID))
}

func containsEvent(events []*OutboxEvent, id uuid.UUID) bool {
	for _, e := range events {
		if e.ID == id {
			return true
		}
	}
	return false
}

// setupTestDB connects to TEST_DATABASE_URL and applies the schema. Tests
// are skipped when it is not set.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := Open(ctx, dsn)
	require.NoError(t, err)
	require.NoError(t, db.EnsureSchema(ctx))
	return db
}
