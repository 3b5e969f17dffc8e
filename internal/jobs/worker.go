package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/maltedev/market-scraper/internal/metrics"
	"github.com/maltedev/market-scraper/internal/queue"
)

// StartWorkers runs n workers until ctx is done or the queue is closed and
// drained. It blocks until all of them have returned.
func (m *Manager) StartWorkers(ctx context.Context, n int) {
	if n < 1 {
		n = 1
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			m.StartWorker(ctx, id)
		}(i + 1)
	}
	wg.Wait()
}

// StartWorker starts one background job worker
func (m *Manager) StartWorker(ctx context.Context, id int) {
	logger := m.logger.With("worker", id)
	logger.Info("job worker started")

	for {
		task, err := m.queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrQueueClosed) || ctx.Err() != nil {
				logger.Info("job worker stopping")
				return
			}
			logger.Error("failed to take task", "error", err)
			continue
		}

		m.processJob(ctx, task.JobID)
	}
}

// processJob runs one job to completion and records the outcome.
func (m *Manager) processJob(ctx context.Context, jobID string) {
	job, err := m.GetJob(jobID)
	if err != nil {
		m.logger.Error("queued job vanished", "id", jobID)
		return
	}

	started := m.now()
	m.update(jobID, func(j *Job) {
		j.Status = StatusRunning
		j.StartedAt = &started
	})
	metrics.JobsRunning.Inc()
	defer metrics.JobsRunning.Dec()

	m.logger.Info("processing job", "id", jobID, "kind", job.Kind)

	runErr := m.execute(ctx, job)

	completed := m.now()
	status := StatusCompleted
	m.update(jobID, func(j *Job) {
		j.CompletedAt = &completed
		if runErr != nil {
			status = StatusFailed
			j.Error = runErr.Error()
		}
		j.Status = status
	})
	metrics.JobsTotal.WithLabelValues(string(job.Kind), string(status)).Inc()

	if runErr != nil {
		m.logger.Error("job failed", "id", jobID, "error", runErr)
		return
	}
	m.logger.Info("job completed", "id", jobID, "duration", completed.Sub(started))
}

func (m *Manager) execute(ctx context.Context, job *Job) error {
	urls := job.URLs
	if job.Kind == KindCrawl {
		links, err := m.crawler.Crawl(ctx, job.ListURL, job.Pages)
		if err != nil {
			return fmt.Errorf("failed to crawl listing: %w", err)
		}
		m.update(job.ID, func(j *Job) { j.LinksFound = len(links) })
		urls = links
	}

	if len(urls) == 0 {
		m.logger.Warn("job has no product links", "id", job.ID)
		return nil
	}

	stats, err := m.runner.Run(ctx, urls, m.sink)
	m.update(job.ID, func(j *Job) {
		j.Total = stats.Total
		j.Succeeded = stats.Succeeded
		j.Failed = stats.Failed
		j.SinkErrors = stats.SinkErrors
	})
	if err != nil {
		return fmt.Errorf("run interrupted after %d of %d URLs: %w", stats.Total, len(urls), err)
	}
	return nil
}
