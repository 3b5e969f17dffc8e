package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maltedev/market-scraper/internal/scraper"
)

// EventTypeParseRequested asks for one or more product pages to be parsed.
const EventTypeParseRequested = "PRODUCT_PARSE_REQUESTED"

var ErrInvalidMessage = errors.New("invalid parse request")

// StreamClient is the subset of *redis.Client the consumer uses.
type StreamClient interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
}

type Runner interface {
	Run(ctx context.Context, urls []string, sink scraper.Sink) (scraper.RunStats, error)
}

type Config struct {
	Stream   string
	Group    string
	Consumer string
	Count    int64
	Block    time.Duration
}

// ParseRequest is the payload of a PRODUCT_PARSE_REQUESTED entry.
type ParseRequest struct {
	URL  string   `json:"url,omitempty"`
	URLs []string `json:"urls,omitempty"`
}

func (r ParseRequest) targets() []string {
	var urls []string
	for _, u := range append([]string{r.URL}, r.URLs...) {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}

// Consumer reads parse requests from a stream through a consumer group and
// writes the resulting records to a sink.
type Consumer struct {
	redis  StreamClient
	runner Runner
	sink   scraper.Sink
	cfg    Config
	logger *slog.Logger
}

func New(client StreamClient, runner Runner, sink scraper.Sink, cfg Config, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Count <= 0 {
		cfg.Count = 1
	}
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}
	return &Consumer{
		redis:  client,
		runner: runner,
		sink:   sink,
		cfg:    cfg,
		logger: logger.With("component", "consumer", "stream", cfg.Stream, "group", cfg.Group),
	}
}

// Run consumes until ctx is done.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.redis.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err(); err != nil &&
		!strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	c.logger.Info("starting consumer", "consumer", c.cfg.Consumer)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		streams, err := c.redis.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.cfg.Group,
			Consumer: c.cfg.Consumer,
			Streams:  []string{c.cfg.Stream, ">"},
			Count:    c.cfg.Count,
			Block:    c.cfg.Block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("failed to read from stream", "error", err)
			if err := sleep(ctx, time.Second); err != nil {
				return err
			}
			continue
		}

		for _, stream := range streams {
			for _, message := range stream.Messages {
				if err := c.handle(ctx, message); err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					c.logger.Error("failed to process message", "id", message.ID, "error", err)
				}
			}
		}
	}
}

// handle processes one entry and acknowledges it unless the run was
// interrupted. Malformed requests are acknowledged so they are not
// redelivered.
func (c *Consumer) handle(ctx context.Context, msg redis.XMessage) error {
	err := c.processMessage(ctx, msg)
	if err != nil && !errors.Is(err, ErrInvalidMessage) {
		return err
	}
	if err != nil {
		c.logger.Warn("dropping malformed request", "id", msg.ID, "error", err)
	}

	if ackErr := c.redis.XAck(ctx, c.cfg.Stream, c.cfg.Group, msg.ID).Err(); ackErr != nil {
		return fmt.Errorf("failed to acknowledge message: %w", ackErr)
	}
	return nil
}

func (c *Consumer) processMessage(ctx context.Context, msg redis.XMessage) error {
	eventType, _ := msg.Values["event_type"].(string)
	if eventType != EventTypeParseRequested {
		return nil
	}

	payload, ok := msg.Values["payload"].(string)
	if !ok {
		return fmt.Errorf("%w: missing payload", ErrInvalidMessage)
	}

	var req ParseRequest
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	urls := req.targets()
	if len(urls) == 0 {
		return fmt.Errorf("%w: no urls", ErrInvalidMessage)
	}

	c.logger.Info("processing parse request", "id", msg.ID, "urls", len(urls))

	stats, err := c.runner.Run(ctx, urls, c.sink)
	if err != nil {
		return fmt.Errorf("run interrupted after %d of %d URLs: %w", stats.Total, len(urls), err)
	}

	c.logger.Info("parse request done", "id", msg.ID, "succeeded", stats.Succeeded, "failed", stats.Failed)
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
