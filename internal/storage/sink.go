package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/maltedev/market-scraper/internal/metrics"
	"github.com/maltedev/market-scraper/internal/models"
)

// Sink consumes product records. Close flushes anything buffered.
type Sink interface {
	Write(ctx context.Context, rec *models.ProductRecord) error
	Close() error
}

type named struct {
	name string
	sink Sink
}

// Multi fans every record out to several sinks. A failing sink does not
// keep the others from receiving the record.
type Multi struct {
	sinks []named
}

func NewMulti() *Multi {
	return &Multi{}
}

// Add registers s under name, used in errors and metrics.
func (m *Multi) Add(name string, s Sink) *Multi {
	m.sinks = append(m.sinks, named{name: name, sink: s})
	return m
}

func (m *Multi) Len() int {
	return len(m.sinks)
}

func (m *Multi) Write(ctx context.Context, rec *models.ProductRecord) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.sink.Write(ctx, rec); err != nil {
			metrics.SinkErrorsTotal.WithLabelValues(s.name).Inc()
			errs = append(errs, fmt.Errorf("%s sink: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}

func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s sink: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}
