// Package httpclient builds the outbound HTTP client shared by the edit
// syncer and the target fetcher: resty for request building, a
// retryablehttp transport for retries with backoff, a token bucket and a
// circuit breaker.
package httpclient

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/VisualEdit/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/shared/clock"
)

// Config tunes one client.
type Config struct {
	// Name labels the breaker in logs and metrics.
	Name         string
	Timeout      time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	// RequestsPerSecond <= 0 means unlimited.
	RequestsPerSecond float64
	BreakerFailures   uint32
	BreakerTimeout    time.Duration
	UserAgent         string
	// IsFailure classifies errors for the breaker. See resilience.Settings.
	IsFailure func(err error) bool
	Clock     clock.Clock
}

// DefaultConfig returns the settings used for external calls.
func DefaultConfig(name string) Config {
	return Config{
		Name:            name,
		Timeout:         30 * time.Second,
		RetryMax:        3,
		RetryWaitMin:    time.Second,
		RetryWaitMax:    30 * time.Second,
		BreakerFailures: 5,
		BreakerTimeout:  30 * time.Second,
		UserAgent:       "VisualEdit/1.0",
	}
}

// Client wraps resty with rate limiting and a circuit breaker.
type Client struct {
	Resty   *resty.Client
	Limiter *rate.Limiter
	Breaker *resilience.Breaker
	log     *zap.Logger
}

// New creates a client. A nil logger silences retry logs; a nil metrics
// sink skips breaker state export.
func New(cfg Config, log *zap.Logger, metrics *monitoring.Metrics) *Client {
	log = logging.OrNop(log).Named("http").With(zap.String("client", cfg.Name))

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.RetryMax
	retryClient.RetryWaitMin = cfg.RetryWaitMin
	retryClient.RetryWaitMax = cfg.RetryWaitMax
	retryClient.Logger = leveled{log.Sugar()}
	// Hand the last response back so callers can read its status.
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	restyClient := resty.New().
		SetTransport(&retryablehttp.RoundTripper{Client: retryClient}).
		SetTimeout(cfg.Timeout).
		SetJSONMarshaler(sonic.Marshal).
		SetJSONUnmarshaler(sonic.Unmarshal)
	if cfg.UserAgent != "" {
		restyClient.SetHeader("User-Agent", cfg.UserAgent)
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	breaker := resilience.New(cfg.Name, resilience.Settings{
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: resilience.ConsecutiveFailures(failures),
		IsFailure:   cfg.IsFailure,
		Clock:       cfg.Clock,
		OnStateChange: func(name string, from, to resilience.State) {
			log.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to))
			metrics.SetBreakerState(name, int(to))
		},
	})

	return &Client{Resty: restyClient, Limiter: limiter, Breaker: breaker, log: log}
}

// Do waits for the limiter, then runs fn through the breaker. fn receives a
// request bound to ctx. Responses with status >= 500 count as failures.
func (c *Client) Do(ctx context.Context, fn func(req *resty.Request) (*resty.Response, error)) (*resty.Response, error) {
	if err := c.Limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	var resp *resty.Response
	err := c.Breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		resp, err = fn(c.Resty.R().SetContext(ctx))
		if err != nil {
			return err
		}
		if resp.StatusCode() >= http.StatusInternalServerError {
			return &StatusError{Code: resp.StatusCode(), Body: truncate(resp.String(), 200)}
		}
		return nil
	})
	return resp, err
}

// StatusError reports a non-success HTTP status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http status %d", e.Code)
	}
	return fmt.Sprintf("http status %d: %s", e.Code, e.Body)
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// leveled adapts zap to retryablehttp.LeveledLogger.
type leveled struct{ s *zap.SugaredLogger }

func (l leveled) Error(msg string, kv ...interface{}) { l.s.Warnw(msg, kv...) }
func (l leveled) Info(msg string, kv ...interface{})  { l.s.Debugw(msg, kv...) }
func (l leveled) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l leveled) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }

var _ retryablehttp.LeveledLogger = leveled{}
