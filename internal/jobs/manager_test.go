package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/market-scraper/internal/models"
	"github.com/maltedev/market-scraper/internal/queue"
	"github.com/maltedev/market-scraper/internal/scraper"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls [][]string
	err   error
}

func (f *fakeRunner) Run(ctx context.Context, urls []string, sink scraper.Sink) (scraper.RunStats, error) {
	f.mu.Lock()
	f.calls = append(f.calls, urls)
	f.mu.Unlock()

	stats := scraper.RunStats{}
	for _, u := range urls {
		stats.Total++
		rec := models.NewProductRecord(u, time.Unix(0, 0))
		if u == "https://bad" {
			stats.Failed++
		} else {
			stats.Succeeded++
		}
		if err := sink.Write(ctx, rec); err != nil {
			stats.SinkErrors++
		}
	}
	return stats, f.err
}

type discardSink struct{}

func (discardSink) Write(context.Context, *models.ProductRecord) error { return nil }

func newTestManager(crawler Crawler) (*Manager, *fakeRunner) {
	runner := &fakeRunner{}
	return NewManager(queue.NewInMemoryQueue(), runner, crawler, discardSink{}, nil), runner
}

func TestCreateJobValidation(t *testing.T) {
	m, _ := newTestManager(nil)
	ctx := context.Background()

	tests := []struct {
		name string
		req  Request
		want error
	}{
		{"unknown kind", Request{Kind: "sync"}, ErrInvalidJob},
		{"parse without urls", Request{Kind: KindParse, URLs: []string{" ", ""}}, ErrInvalidJob},
		{"crawl without crawler", Request{Kind: KindCrawl, ListURL: "https://market.yandex.ru/list"}, ErrCrawlUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.CreateJob(ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	withCrawler, _ := newTestManager(CrawlerFunc(func(context.Context, string, int) ([]string, error) { return nil, nil }))
	_, err := withCrawler.CreateJob(ctx, Request{Kind: KindCrawl, ListURL: "https://market.yandex.ru/list", Pages: 500})
	assert.ErrorIs(t, err, ErrInvalidJob)

	job, err := withCrawler.CreateJob(ctx, Request{Kind: KindCrawl, ListURL: "https://market.yandex.ru/list"})
	require.NoError(t, err)
	assert.Equal(t, 1, job.Pages)
	assert.Equal(t, StatusPending, job.Status)
}

func TestGetJobNotFound(t *testing.T) {
	m, _ := newTestManager(nil)

	_, err := m.GetJob("missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestParseJobRunsToCompletion(t *testing.T) {
	m, runner := newTestManager(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	job, err := m.CreateJob(ctx, Request{Kind: KindParse, URLs: []string{"https://ok", " https://bad "}})
	require.NoError(t, err)
	assert.Equal(t, 1, m.GetStats().QueuedTasks)

	go m.StartWorkers(ctx, 2)

	require.Eventually(t, func() bool {
		got, _ := m.GetJob(job.ID)
		return got.Status == StatusCompleted
	}, 2*time.Second, 5*time.Millisecond)

	got, err := m.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Total)
	assert.Equal(t, 1, got.Succeeded)
	assert.Equal(t, 1, got.Failed)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.CompletedAt)
	assert.Equal(t, [][]string{{"https://ok", "https://bad"}}, runner.calls)

	stats := m.GetStats()
	assert.Equal(t, 1, stats.CompletedJobs)
	assert.Equal(t, 2, stats.TotalRecords)
	assert.InDelta(t, 50.0, stats.RecordSuccess, 0.001)
}

func TestCrawlJobFeedsLinksToRunner(t *testing.T) {
	var gotPages int
	crawler := CrawlerFunc(func(_ context.Context, listURL string, pages int) ([]string, error) {
		gotPages = pages
		return []string{listURL + "/a", listURL + "/b", listURL + "/c"}, nil
	})
	m, runner := newTestManager(crawler)

	job, err := m.CreateJob(context.Background(), Request{Kind: KindCrawl, ListURL: "https://market.yandex.ru/list", Pages: 3})
	require.NoError(t, err)

	m.processJob(context.Background(), job.ID)

	got, _ := m.GetJob(job.ID)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, 3, got.LinksFound)
	assert.Equal(t, 3, got.Total)
	assert.Equal(t, 3, gotPages)
	require.Len(t, runner.calls, 1)
	assert.Len(t, runner.calls[0], 3)
}

func TestCrawlFailureMarksJobFailed(t *testing.T) {
	crawler := CrawlerFunc(func(context.Context, string, int) ([]string, error) {
		return nil, errors.New("browser crashed")
	})
	m, runner := newTestManager(crawler)

	job, err := m.CreateJob(context.Background(), Request{Kind: KindCrawl, ListURL: "https://market.yandex.ru/list"})
	require.NoError(t, err)

	m.processJob(context.Background(), job.ID)

	got, _ := m.GetJob(job.ID)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Contains(t, got.Error, "browser crashed")
	assert.Empty(t, runner.calls)
	assert.Equal(t, 1, m.GetStats().FailedJobs)
}

func TestInterruptedRunKeepsPartialStats(t *testing.T) {
	m, runner := newTestManager(nil)
	runner.err = context.Canceled

	job, err := m.CreateJob(context.Background(), Request{Kind: KindParse, URLs: []string{"https://ok"}})
	require.NoError(t, err)

	m.processJob(context.Background(), job.ID)

	got, _ := m.GetJob(job.ID)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, 1, got.Total)
	assert.Contains(t, got.Error, "interrupted")
}

func TestListJobsNewestFirst(t *testing.T) {
	m, _ := newTestManager(nil)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	m.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	first, err := m.CreateJob(context.Background(), Request{Kind: KindParse, URLs: []string{"https://1"}})
	require.NoError(t, err)
	second, err := m.CreateJob(context.Background(), Request{Kind: KindParse, URLs: []string{"https://2"}})
	require.NoError(t, err)

	jobs := m.ListJobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, second.ID, jobs[0].ID)
	assert.Equal(t, first.ID, jobs[1].ID)

	// Snapshots are detached from manager state.
	jobs[0].URLs[0] = "mutated"
	again, _ := m.GetJob(second.ID)
	assert.Equal(t, "https://2", again.URLs[0])
}

func TestWorkersStopWhenQueueClosed(t *testing.T) {
	q := queue.NewInMemoryQueue()
	m := NewManager(q, &fakeRunner{}, nil, discardSink{}, nil)
	require.NoError(t, q.Close())

	done := make(chan struct{})
	go func() {
		m.StartWorkers(context.Background(), 3)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("workers did not stop")
	}
}
