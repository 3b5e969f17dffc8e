package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/maltedev/market-scraper/internal/models"
)

const DefaultBatchSize = 100

// JSONBatch buffers records and writes them as indented JSON arrays, one
// file per batch. Files are named data_<n>.json where n is the number of
// records written so far, and each is replaced atomically.
type JSONBatch struct {
	mu        sync.Mutex
	dir       string
	batchSize int
	buffer    []*models.ProductRecord
	written   int
	files     []string
	logger    *slog.Logger
}

func NewJSONBatch(dir string, batchSize int, logger *slog.Logger) (*JSONBatch, error) {
	if batchSize < 1 {
		batchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	return &JSONBatch{
		dir:       dir,
		batchSize: batchSize,
		buffer:    make([]*models.ProductRecord, 0, batchSize),
		logger:    logger.With("component", "json_sink"),
	}, nil
}

func (j *JSONBatch) Write(_ context.Context, rec *models.ProductRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.buffer = append(j.buffer, rec)
	if len(j.buffer) >= j.batchSize {
		return j.flush()
	}
	return nil
}

// Close writes the final partial batch, if any.
func (j *JSONBatch) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.flush()
}

// Files lists the files written so far, in order.
func (j *JSONBatch) Files() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.files...)
}

func (j *JSONBatch) flush() error {
	if len(j.buffer) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(j.buffer); err != nil {
		return fmt.Errorf("failed to encode batch: %w", err)
	}

	filename := filepath.Join(j.dir, fmt.Sprintf("data_%d.json", j.written+len(j.buffer)))
	tmpFile := filename + ".tmp"
	if err := os.WriteFile(tmpFile, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write batch: %w", err)
	}
	if err := os.Rename(tmpFile, filename); err != nil {
		return fmt.Errorf("failed to write batch: %w", err)
	}

	j.written += len(j.buffer)
	j.files = append(j.files, filename)
	j.logger.Info("batch saved", "file", filename, "records", len(j.buffer), "total", j.written)
	j.buffer = j.buffer[:0]
	return nil
}
