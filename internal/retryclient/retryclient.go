// Package retryclient wraps outbound HTTP calls with exponential backoff,
// a status-code allowlist, fatal-error short-circuiting, and a dedicated
// rate-limit branch (§4.F).
package retryclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"

	"github.com/ardriveapp/turbo-upload-core/internal/errs"
)

// defaultMaxRetries, defaultInitialDelay, defaultRateLimitTimeout mirror
// the spec's named defaults.
const (
	defaultMaxRetries       = 5
	defaultInitialDelay     = 200 * time.Millisecond
	defaultRateLimitTimeout = 60 * time.Second
)

// RequestBuilder constructs one attempt of an outbound HTTP request. It
// must be safe to call repeatedly and must itself be idempotent, since the
// client may invoke it more than once for the same logical call (§4.F
// "calls must be idempotent as the wrapper may repeat them").
type RequestBuilder func(ctx context.Context) (*http.Request, error)

// Options configures a Client's retry behavior. A zero Options uses the
// spec defaults.
type Options struct {
	MaxRetries        int
	InitialDelay      time.Duration
	ValidStatusCodes  map[int]bool
	FatalErrorSubstrs []string
	RateLimitTimeout  time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxRetries <= 0 {
		o.MaxRetries = defaultMaxRetries
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = defaultInitialDelay
	}
	if o.ValidStatusCodes == nil {
		o.ValidStatusCodes = map[int]bool{http.StatusOK: true}
	}
	if o.RateLimitTimeout <= 0 {
		o.RateLimitTimeout = defaultRateLimitTimeout
	}
	return o
}

// Client is the RetryClient (§4.F).
type Client struct {
	http      *http.Client
	opts      Options
	log       *zap.Logger
	accessLog *logrus.Logger
}

// New builds a Client. httpClient may be nil to use http.DefaultClient.
func New(httpClient *http.Client, opts Options, log *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{http: httpClient, opts: opts.withDefaults(), log: log, accessLog: logrus.New()}
}

// Do executes build, retrying with exponential backoff on transient
// failures, 5xx responses, and 404 responses, up to MaxRetries retries
// after the first attempt. A 429 response waits RateLimitTimeout and is
// retried without counting against MaxRetries. Any other 4xx response is
// terminal for the call and returns immediately without retrying. Any
// response that is neither 429 nor in ValidStatusCodes and whose body
// matches one of FatalErrorSubstrs aborts immediately without further
// retries.
func (c *Client) Do(ctx context.Context, build RequestBuilder) (*http.Response, error) {
	var attempt int
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.opts.InitialDelay
	bo.Multiplier = 2
	bo.MaxElapsedTime = 0 // bounded by MaxRetries instead of wall-clock

	for {
		req, err := build(ctx)
		if err != nil {
			return nil, fmt.Errorf("retryclient: building request: %w", err)
		}

		attemptStart := time.Now()
		resp, err := c.http.Do(req)
		if err == nil {
			c.accessLog.Infof("%s %s %d %s", req.Method, req.URL.Path, resp.StatusCode, time.Since(attemptStart))
		}
		if err != nil {
			if attempt >= c.opts.MaxRetries {
				return nil, fmt.Errorf("retryclient: %w: %v", errs.ErrUnavailable, err)
			}
			if !c.sleep(ctx, bo.NextBackOff()) {
				return nil, ctx.Err()
			}
			attempt++
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			c.log.Warn("retryclient: rate limited, waiting before retry", zap.Duration("timeout", c.opts.RateLimitTimeout))
			if !c.sleep(ctx, c.opts.RateLimitTimeout) {
				return nil, ctx.Err()
			}
			continue // does not count against attempt per §4.F
		}

		if c.opts.ValidStatusCodes[resp.StatusCode] {
			return resp, nil
		}

		body, fatal := c.checkFatal(resp)
		resp.Body.Close()
		if fatal != nil {
			return nil, fatal
		}

		// A 4xx other than 404 is terminal for the call: the gateway is
		// telling us this specific request is wrong, not that it's
		// temporarily unavailable, so retrying it would just repeat the
		// same failure (§4.F).
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusNotFound {
			return nil, fmt.Errorf("retryclient: %w: status %d: %s", errs.ErrFatal, resp.StatusCode, body)
		}

		if attempt >= c.opts.MaxRetries {
			return nil, fmt.Errorf("retryclient: %w: status %d after %d attempts: %s", errs.ErrUnavailable, resp.StatusCode, attempt+1, body)
		}
		if !c.sleep(ctx, bo.NextBackOff()) {
			return nil, ctx.Err()
		}
		attempt++
	}
}

// checkFatal reads the response body (bounded) and compares it against
// FatalErrorSubstrs, returning a terminal error if any match.
func (c *Client) checkFatal(resp *http.Response) (string, error) {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	text := string(body)
	for _, substr := range c.opts.FatalErrorSubstrs {
		if strings.Contains(text, substr) {
			return text, fmt.Errorf("retryclient: %w: fatal response: %s", errs.ErrFatal, text)
		}
	}
	return text, nil
}

func (c *Client) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
