// Package leadpush pages stored candidate rows and posts them to a webhook
// in batches.
package leadpush

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/cep-candidate-scraper/internal/metrics"
	"github.com/JakeFAU/cep-candidate-scraper/internal/retry"
)

// Batch size bounds.
const (
	MinBatchSize = 1
	MaxBatchSize = 5000
)

// RowSource yields rows by offset.
type RowSource interface {
	FetchRows(ctx context.Context, offset, limit int) ([]json.RawMessage, error)
}

// Config controls batching and delivery.
type Config struct {
	WebhookURL  string
	BatchSize   int
	StartOffset int
	Attempts    int
	Backoff     time.Duration
	Timeout     time.Duration
	Delay       time.Duration
}

// Payload is the webhook request body.
type Payload struct {
	Rows      []json.RawMessage `json:"rows"`
	Offset    int               `json:"offset"`
	BatchSize int               `json:"batch_size"`
}

// Stats summarizes a push run.
type Stats struct {
	Batches    int `json:"batches"`
	Rows       int `json:"rows"`
	NextOffset int `json:"next_offset"`
}

// Pusher moves rows from a RowSource to a webhook.
type Pusher struct {
	cfg    Config
	source RowSource
	client *http.Client
	logger *zap.Logger
}

// ClampBatchSize bounds n to [MinBatchSize, MaxBatchSize].
func ClampBatchSize(n int) int {
	return min(max(n, MinBatchSize), MaxBatchSize)
}

// New builds a Pusher. Zero values default to 3 attempts, 1s backoff step,
// 30s timeout and 100ms between batches.
func New(cfg Config, source RowSource, client *http.Client, logger *zap.Logger) *Pusher {
	cfg.BatchSize = ClampBatchSize(cfg.BatchSize)
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Delay < 0 {
		cfg.Delay = 0
	}
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pusher{cfg: cfg, source: source, client: client, logger: logger}
}

// Run pushes batches until the source returns a short or empty batch. A
// batch that cannot be fetched or delivered ends the run with an error;
// Stats.NextOffset is where a rerun should resume.
func (p *Pusher) Run(ctx context.Context) (Stats, error) {
	stats := Stats{NextOffset: p.cfg.StartOffset}
	size := p.cfg.BatchSize
	p.logger.Info("lead push starting",
		zap.Int("batch_size", size),
		zap.Int("offset", stats.NextOffset),
		zap.String("webhook", p.cfg.WebhookURL),
	)
	for {
		rows, err := p.source.FetchRows(ctx, stats.NextOffset, size)
		if err != nil {
			return stats, fmt.Errorf("fetch batch at offset %d: %w", stats.NextOffset, err)
		}
		if len(rows) == 0 {
			break
		}
		payload := Payload{Rows: rows, Offset: stats.NextOffset, BatchSize: size}
		if err := p.post(ctx, payload); err != nil {
			metrics.ObserveWebhookBatch("failed")
			return stats, fmt.Errorf("deliver batch at offset %d: %w", stats.NextOffset, err)
		}
		metrics.ObserveWebhookBatch("ok")
		stats.Batches++
		stats.Rows += len(rows)
		stats.NextOffset += len(rows)
		p.logger.Info("batch delivered",
			zap.Int("batch", stats.Batches),
			zap.Int("rows", len(rows)),
			zap.Int("next_offset", stats.NextOffset),
		)
		if len(rows) < size {
			break
		}
		if err := sleep(ctx, p.cfg.Delay); err != nil {
			return stats, err
		}
	}
	p.logger.Info("lead push finished", zap.Int("batches", stats.Batches), zap.Int("rows", stats.Rows))
	return stats, nil
}

// webhookPolicy retries every failure except cancellation, per-attempt
// timeouts included, waiting step * attempt in between.
type webhookPolicy struct {
	attempts int
	step     time.Duration
}

func (w webhookPolicy) ShouldRetry(err error, attempt int) bool {
	return attempt < w.attempts && !errors.Is(err, context.Canceled)
}

func (w webhookPolicy) Backoff(attempt int) time.Duration {
	return w.step * time.Duration(attempt)
}

func (p *Pusher) post(ctx context.Context, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	policy := webhookPolicy{attempts: p.cfg.Attempts, step: p.cfg.Backoff}
	return retry.Do(ctx, policy, func(ctx context.Context, attempt int) error {
		err := p.postOnce(ctx, body)
		if err != nil {
			p.logger.Warn("webhook attempt failed", zap.Int("attempt", attempt), zap.Error(err))
		}
		return err
	})
}

func (p *Pusher) postOnce(ctx context.Context, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("lead push interrupted: %w", ctx.Err())
	case <-t.C:
		return nil
	}
}
