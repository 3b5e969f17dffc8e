package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/market-scraper/internal/models"
)

func record(i int) *models.ProductRecord {
	rec := models.NewProductRecord(fmt.Sprintf("https://market.yandex.ru/product--p/%d", i), time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	name := fmt.Sprintf("Товар <%d>", i)
	rec.Name = &name
	return rec
}

func readBatch(t *testing.T, path string) []map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var out []map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestJSONBatchWritesFullAndPartialBatches(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "json")

	sink, err := NewJSONBatch(dir, 2, nil)
	require.NoError(t, err)

	for i := 1; i <= 5; i++ {
		require.NoError(t, sink.Write(ctx, record(i)))
	}
	assert.Len(t, sink.Files(), 2)
	require.NoError(t, sink.Close())

	files := sink.Files()
	require.Equal(t, []string{
		filepath.Join(dir, "data_2.json"),
		filepath.Join(dir, "data_4.json"),
		filepath.Join(dir, "data_5.json"),
	}, files)

	first := readBatch(t, files[0])
	require.Len(t, first, 2)
	assert.Equal(t, "https://market.yandex.ru/product--p/1", first[0]["url"])
	assert.Equal(t, "https://market.yandex.ru/product--p/2", first[1]["url"])

	last := readBatch(t, files[2])
	require.Len(t, last, 1)
	assert.Equal(t, "https://market.yandex.ru/product--p/5", last[0]["url"])

	raw, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.Contains(t, string(raw), "Товар <1>")
	assert.Contains(t, string(raw), "\n  {")
}

func TestJSONBatchCloseWithoutRecords(t *testing.T) {
	sink, err := NewJSONBatch(t.TempDir(), 0, nil)
	require.NoError(t, err)

	require.NoError(t, sink.Close())
	assert.Empty(t, sink.Files())
}

func TestJSONBatchKeepsErrorRecordShape(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewJSONBatch(dir, 1, nil)
	require.NoError(t, err)

	rec := models.NewErrorRecord("https://market.yandex.ru/product--x/1", errors.New("HTTP 404"), time.Now())
	require.NoError(t, sink.Write(context.Background(), rec))

	out := readBatch(t, filepath.Join(dir, "data_1.json"))
	require.Len(t, out, 1)
	assert.Equal(t, "HTTP 404", out[0]["error"])
	assert.Nil(t, out[0]["name"])
	assert.Nil(t, out[0]["price"])
	assert.Equal(t, map[string]any{"text": nil, "bullets": []any{}}, out[0]["about"])
	assert.Equal(t, map[string]any{}, out[0]["specs"])
}

type MockSink struct {
	mock.Mock
}

func (m *MockSink) Write(ctx context.Context, rec *models.ProductRecord) error {
	return m.Called(ctx, rec).Error(0)
}

func (m *MockSink) Close() error {
	return m.Called().Error(0)
}

func TestMultiFansOut(t *testing.T) {
	ctx := context.Background()
	rec := record(1)

	ok, broken := new(MockSink), new(MockSink)
	ok.On("Write", ctx, rec).Return(nil)
	broken.On("Write", ctx, rec).Return(errors.New("connection refused"))
	ok.On("Close").Return(nil)
	broken.On("Close").Return(nil)

	multi := NewMulti().Add("json", ok).Add("postgres", broken)
	assert.Equal(t, 2, multi.Len())

	err := multi.Write(ctx, rec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres sink: connection refused")

	require.NoError(t, multi.Close())
	ok.AssertExpectations(t)
	broken.AssertExpectations(t)
}

type fakePublisher struct {
	published []*models.ProductRecord
}

func (f *fakePublisher) PublishProductScraped(_ context.Context, rec *models.ProductRecord) error {
	f.published = append(f.published, rec)
	return nil
}

func TestPostgresSinkDelegates(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewPostgresSink(pub)

	require.NoError(t, sink.Write(context.Background(), record(7)))
	require.NoError(t, sink.Close())
	require.Len(t, pub.published, 1)
	assert.Equal(t, "https://market.yandex.ru/product--p/7", pub.published[0].URL)
}

func TestReadURLs(t *testing.T) {
	input := strings.Join([]string{
		"# smartphones",
		"https://market.yandex.ru/product--a/1",
		"",
		"   https://market.yandex.ru/product--b/2   ",
		"  # indented comment",
		"\t",
	}, "\n")

	urls, err := ReadURLs(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://market.yandex.ru/product--a/1",
		"https://market.yandex.ru/product--b/2",
	}, urls)
}

func TestReadURLFileMissing(t *testing.T) {
	_, err := ReadURLFile(filepath.Join(t.TempDir(), "list_url"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
