// Package syncer delivers accumulated edits to the external persistence
// endpoint.
//
// Each batch is POSTed as JSON with an Idempotency-Key derived from its
// content, so a resent batch is recognisable server side. Failed batches
// are written to a pending-sync Cache and replayed by Resend. Transport
// retries, rate limiting and the circuit breaker come from httpclient.
package syncer

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"github.com/GriffinCanCode/VisualEdit/backend/internal/edits"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/infrastructure/httpclient"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/model"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/shared/clock"
)

var (
	// ErrSyncRejected means the endpoint refused the batch (4xx). Resending
	// the same batch will not help.
	ErrSyncRejected = errors.New("syncer: batch rejected by endpoint")
	ErrNoEndpoint   = errors.New("syncer: no endpoint configured")
)

// IdempotencyHeader carries the batch key.
const IdempotencyHeader = "Idempotency-Key"

// Batch is the body of one sync call.
type Batch struct {
	PageID    string             `json:"pageId"`
	Edits     []model.EditRecord `json:"edits"`
	Key       string             `json:"idempotencyKey"`
	CreatedAt time.Time          `json:"createdAt"`
}

// Config configures a Client.
type Config struct {
	Endpoint string
	Token    string
	HTTP     httpclient.Config
	// CacheDir persists failed batches across restarts when set.
	CacheDir string
}

// Client is an edits.Syncer backed by HTTP.
type Client struct {
	cfg     Config
	http    *httpclient.Client
	cache   *Cache
	clock   clock.Clock
	log     *zap.Logger
	metrics *monitoring.Metrics
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.log = logging.OrNop(l) }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithClock sets the clock used for batch timestamps.
func WithClock(cl clock.Clock) Option {
	return func(c *Client) { c.clock = cl }
}

// New creates a Client.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, ErrNoEndpoint
	}
	c := &Client{cfg: cfg, clock: clock.Real(), log: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.Named("syncer")

	cache, err := NewCache(cfg.CacheDir)
	if err != nil {
		return nil, err
	}
	c.cache = cache

	httpCfg := cfg.HTTP
	if httpCfg.Name == "" {
		httpCfg.Name = "sync"
	}
	httpCfg.IsFailure = func(err error) bool {
		return err != nil && !errors.Is(err, ErrSyncRejected) && !errors.Is(err, context.Canceled)
	}
	c.http = httpclient.New(httpCfg, c.log, c.metrics)
	if cfg.Token != "" {
		c.http.Resty.SetAuthToken(cfg.Token)
	}
	return c, nil
}

// Key returns the idempotency key of a batch: a BLAKE2b-256 digest of the
// page id and records. Identical batches share a key.
func Key(pageID string, records []model.EditRecord) string {
	raw, _ := sonic.ConfigStd.Marshal(struct {
		PageID string             `json:"pageId"`
		Edits  []model.EditRecord `json:"edits"`
	}{pageID, records})
	sum := blake2b.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// SyncEdits sends records for pageID. On failure the batch is cached for
// Resend; on success any cached batch for the page is dropped.
func (c *Client) SyncEdits(ctx context.Context, pageID string, records []model.EditRecord) error {
	b := Batch{
		PageID:    pageID,
		Edits:     records,
		Key:       Key(pageID, records),
		CreatedAt: c.clock.Now(),
	}
	if err := c.send(ctx, b); err != nil {
		if errors.Is(err, ErrSyncRejected) {
			return err
		}
		if cerr := c.cache.Put(b); cerr != nil {
			c.log.Error("Failed to cache unsynced batch", zap.String("page", pageID), zap.Error(cerr))
		} else {
			c.log.Info("Batch cached for resend", zap.String("page", pageID), zap.Int("edits", len(records)))
		}
		c.updatePending()
		return err
	}
	if err := c.cache.Remove(pageID); err != nil {
		c.log.Warn("Failed to clear cached batch", zap.String("page", pageID), zap.Error(err))
	}
	c.updatePending()
	return nil
}

// Resend replays every cached batch, oldest first. It returns how many were
// delivered and the first error met; undelivered batches stay cached.
func (c *Client) Resend(ctx context.Context) (int, error) {
	batches, err := c.cache.List()
	if err != nil {
		return 0, err
	}
	sent := 0
	var firstErr error
	for _, b := range batches {
		if err := c.send(ctx, b); err != nil {
			if errors.Is(err, ErrSyncRejected) {
				c.log.Warn("Dropping rejected cached batch", zap.String("page", b.PageID), zap.Error(err))
				_ = c.cache.Remove(b.PageID)
				continue
			}
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		_ = c.cache.Remove(b.PageID)
		sent++
	}
	c.updatePending()
	return sent, firstErr
}

// Pending returns the cached batches.
func (c *Client) Pending() ([]Batch, error) { return c.cache.List() }

// Close releases the cache.
func (c *Client) Close() error { return c.cache.Close() }

func (c *Client) send(ctx context.Context, b Batch) error {
	start := time.Now()
	resp, err := c.http.Do(ctx, func(req *resty.Request) (*resty.Response, error) {
		resp, err := req.
			SetHeader(IdempotencyHeader, b.Key).
			SetBody(b).
			Post(c.cfg.Endpoint)
		if err == nil && isRejection(resp.StatusCode()) {
			return resp, fmt.Errorf("%w: status %d", ErrSyncRejected, resp.StatusCode())
		}
		return resp, err
	})

	result := "success"
	switch {
	case errors.Is(err, ErrSyncRejected):
		result = "rejected"
	case err != nil:
		result = "failure"
	case resp.StatusCode() >= http.StatusMultipleChoices:
		err = fmt.Errorf("syncer: unexpected status %d", resp.StatusCode())
		result = "failure"
	}
	c.metrics.RecordSync(result, time.Since(start))
	if err != nil {
		c.log.Warn("Sync attempt failed",
			zap.String("page", b.PageID),
			zap.String("key", b.Key),
			zap.Error(err))
		return err
	}
	c.log.Debug("Batch synced", zap.String("page", b.PageID), zap.Int("edits", len(b.Edits)))
	return nil
}

// isRejection reports a client error that a retry cannot fix.
func isRejection(code int) bool {
	return code >= 400 && code < 500 && code != http.StatusRequestTimeout && code != http.StatusTooManyRequests
}

func (c *Client) updatePending() {
	batches, err := c.cache.List()
	if err != nil {
		return
	}
	n := 0
	for _, b := range batches {
		n += len(b.Edits)
	}
	c.metrics.SetPendingEdits(n)
}

var _ edits.Syncer = (*Client)(nil)
