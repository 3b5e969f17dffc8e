package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maltedev/market-scraper/internal/queue"
	"github.com/maltedev/market-scraper/internal/scraper"
)

var (
	ErrJobNotFound      = errors.New("job not found")
	ErrInvalidJob       = errors.New("invalid job request")
	ErrCrawlUnavailable = errors.New("listing crawls are not available")
)

type Kind string

const (
	// KindCrawl collects product links from a listing, then parses them.
	KindCrawl Kind = "crawl"
	// KindParse parses an explicit list of product URLs.
	KindParse Kind = "parse"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

const (
	maxListedJobs = 100
	maxCrawlPages = 50
)

// Runner turns product URLs into records written to sink.
type Runner interface {
	Run(ctx context.Context, urls []string, sink scraper.Sink) (scraper.RunStats, error)
}

// Crawler collects product links from the first pages of a listing.
type Crawler interface {
	Crawl(ctx context.Context, listURL string, pages int) ([]string, error)
}

type CrawlerFunc func(ctx context.Context, listURL string, pages int) ([]string, error)

func (f CrawlerFunc) Crawl(ctx context.Context, listURL string, pages int) ([]string, error) {
	return f(ctx, listURL, pages)
}

// Request describes a job to submit.
type Request struct {
	Kind    Kind     `json:"kind"`
	ListURL string   `json:"list_url,omitempty"`
	Pages   int      `json:"pages,omitempty"`
	URLs    []string `json:"urls,omitempty"`
}

// Job represents a background scraping job
type Job struct {
	ID          string     `json:"id"`
	Kind        Kind       `json:"kind"`
	ListURL     string     `json:"list_url,omitempty"`
	Pages       int        `json:"pages,omitempty"`
	URLs        []string   `json:"urls,omitempty"`
	Status      Status     `json:"status"`
	LinksFound  int        `json:"links_found"`
	Total       int        `json:"total"`
	Succeeded   int        `json:"succeeded"`
	Failed      int        `json:"failed"`
	SinkErrors  int        `json:"sink_errors"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Stats summarises every job the manager knows about.
type Stats struct {
	TotalJobs     int     `json:"total_jobs"`
	PendingJobs   int     `json:"pending_jobs"`
	RunningJobs   int     `json:"running_jobs"`
	CompletedJobs int     `json:"completed_jobs"`
	FailedJobs    int     `json:"failed_jobs"`
	TotalRecords  int     `json:"total_records"`
	FailedRecords int     `json:"failed_records"`
	RecordSuccess float64 `json:"record_success_rate"`
	QueuedTasks   int     `json:"queued_tasks"`
}

// Manager keeps job state in memory and hands work to the workers
// through a queue.
type Manager struct {
	mu      sync.RWMutex
	jobs    map[string]*Job
	queue   queue.Queue
	runner  Runner
	crawler Crawler
	sink    scraper.Sink
	logger  *slog.Logger
	now     func() time.Time
}

// NewManager creates a manager. crawler may be nil, in which case crawl
// jobs are rejected.
func NewManager(q queue.Queue, runner Runner, crawler Crawler, sink scraper.Sink, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Manager{
		jobs:    make(map[string]*Job),
		queue:   q,
		runner:  runner,
		crawler: crawler,
		sink:    sink,
		logger:  logger.With("component", "job_manager"),
		now:     time.Now,
	}
}

// CreateJob validates req, records a pending job and queues it.
func (m *Manager) CreateJob(ctx context.Context, req Request) (*Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := m.validate(&req); err != nil {
		return nil, err
	}

	job := &Job{
		ID:        uuid.New().String(),
		Kind:      req.Kind,
		ListURL:   req.ListURL,
		Pages:     req.Pages,
		URLs:      req.URLs,
		Status:    StatusPending,
		CreatedAt: m.now(),
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	created := m.snapshot(job)
	m.mu.Unlock()

	task := &queue.Task{ID: uuid.New().String(), JobID: job.ID, CreatedAt: job.CreatedAt}
	if err := m.queue.Push(task); err != nil {
		m.mu.Lock()
		delete(m.jobs, job.ID)
		m.mu.Unlock()
		return nil, fmt.Errorf("failed to queue job: %w", err)
	}

	m.logger.Info("job created", "id", created.ID, "kind", created.Kind, "urls", len(created.URLs), "list_url", created.ListURL)
	return created, nil
}

// GetJob retrieves a job by ID
func (m *Manager) GetJob(id string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return m.snapshot(job), nil
}

// ListJobs returns the most recent jobs, newest first.
func (m *Manager) ListJobs() []*Job {
	m.mu.RLock()
	jobs := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, m.snapshot(job))
	}
	m.mu.RUnlock()

	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	if len(jobs) > maxListedJobs {
		jobs = jobs[:maxListedJobs]
	}
	return jobs
}

func (m *Manager) GetStats() *Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &Stats{TotalJobs: len(m.jobs), QueuedTasks: m.queue.Size()}
	for _, job := range m.jobs {
		switch job.Status {
		case StatusPending:
			stats.PendingJobs++
		case StatusRunning:
			stats.RunningJobs++
		case StatusCompleted:
			stats.CompletedJobs++
		case StatusFailed:
			stats.FailedJobs++
		}
		stats.TotalRecords += job.Total
		stats.FailedRecords += job.Failed
	}

	if stats.TotalRecords > 0 {
		stats.RecordSuccess = float64(stats.TotalRecords-stats.FailedRecords) / float64(stats.TotalRecords) * 100
	}
	return stats
}

func (m *Manager) validate(req *Request) error {
	switch req.Kind {
	case KindCrawl:
		if m.crawler == nil {
			return ErrCrawlUnavailable
		}
		if strings.TrimSpace(req.ListURL) == "" {
			return fmt.Errorf("%w: list_url is required", ErrInvalidJob)
		}
		if req.Pages == 0 {
			req.Pages = 1
		}
		if req.Pages < 1 || req.Pages > maxCrawlPages {
			return fmt.Errorf("%w: pages must be between 1 and %d", ErrInvalidJob, maxCrawlPages)
		}
		req.URLs = nil
	case KindParse:
		urls := make([]string, 0, len(req.URLs))
		for _, u := range req.URLs {
			if u = strings.TrimSpace(u); u != "" {
				urls = append(urls, u)
			}
		}
		if len(urls) == 0 {
			return fmt.Errorf("%w: urls must not be empty", ErrInvalidJob)
		}
		req.URLs = urls
		req.ListURL = ""
		req.Pages = 0
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidJob, req.Kind)
	}
	return nil
}

// update applies fn to the stored job under the write lock.
func (m *Manager) update(id string, fn func(*Job)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if job, ok := m.jobs[id]; ok {
		fn(job)
	}
}

// snapshot must be called with mu held.
func (m *Manager) snapshot(job *Job) *Job {
	cp := *job
	if job.URLs != nil {
		cp.URLs = append([]string(nil), job.URLs...)
	}
	return &cp
}
