package icloud

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// DefaultBaseURL is the production photo-service endpoint. The core
// never hardcodes endpoint paths beyond this root — concrete routes
// live in assets.go (assets, albums, libraries) and transfer.go.
const DefaultBaseURL = "https://p00-ckdatabasews.icloud.com"

// Retry tuning: base 1s, factor 2x, max 30s, +-25% jitter, max 5 retries.
const (
	maxRetries     = 5
	baseBackoff    = 1 * time.Second
	maxBackoff     = 30 * time.Second
	backoffFactor  = 2.0
	jitterFraction = 0.25
)

// SessionSource supplies the cookie/session credentials needed to
// authenticate a request. The core never reads cookies directly; it
// asks the session store through this interface (spec.md §6 Session
// store, §9 "service layers as explicit dependencies").
type SessionSource interface {
	// Headers returns the headers (cookies, CSRF token, etc.) to attach
	// to every request. Returns ErrAuthExpired if no valid session exists.
	Headers(ctx context.Context) (map[string]string, error)
}

// Client is an HTTP client for the remote photo service. It owns
// request construction, retry with exponential backoff, and error
// classification — the same responsibilities the teacher's graph
// client carries for Microsoft Graph, here pointed at a cookie-session
// photo API instead of an OAuth2 drive API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	session    SessionSource
	logger     *slog.Logger
	userAgent  string

	// sleepFunc waits between retries; tests override it to skip real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewClient creates a photo-service client.
func NewClient(baseURL string, httpClient *http.Client, session SessionSource, logger *slog.Logger, userAgent string) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		session:    session,
		logger:     logger,
		userAgent:  userAgent,
		sleepFunc:  timeSleep,
	}
}

// SetSession swaps the session source, used by the sync loop after a
// successful re-authentication mid-pass. Not goroutine-safe; callers
// rely on the single-threaded-per-account scheduling model (spec.md §5).
func (c *Client) SetSession(session SessionSource) {
	c.session = session
}

func timeSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do executes an authenticated request against the photo service with
// automatic retry on transient failures. The caller must close the
// response body on success.
func (c *Client) Do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	url := c.baseURL + path

	var attempt int

	for {
		resp, err := c.doOnce(ctx, method, url, body)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("icloud: request cancelled: %w", ctx.Err())
			}

			if errors.Is(err, ErrAuthExpired) {
				return nil, err
			}

			if attempt < maxRetries {
				if waitErr := c.waitRetry(ctx, attempt, "network error", method, path); waitErr != nil {
					return nil, waitErr
				}

				attempt++

				continue
			}

			return nil, fmt.Errorf("icloud: %s %s failed after %d retries: %w", method, path, maxRetries, err)
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}

		errBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		sentinel := classifyStatus(resp.StatusCode)
		reqID := resp.Header.Get("X-Apple-Request-UUID")

		if sentinel == ErrServiceUnavailable && attempt < maxRetries {
			if waitErr := c.waitRetry(ctx, attempt, "server error", method, path); waitErr != nil {
				return nil, waitErr
			}

			attempt++

			continue
		}

		return nil, &APIError{StatusCode: resp.StatusCode, RequestID: reqID, Message: string(errBody), Err: sentinel}
	}
}

// waitRetry logs and sleeps for the computed backoff duration.
func (c *Client) waitRetry(ctx context.Context, attempt int, reason, method, path string) error {
	backoff := c.calcBackoff(attempt)
	c.logger.Warn("retrying after "+reason,
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("attempt", attempt+1),
		slog.Duration("backoff", backoff),
	)

	if err := c.sleepFunc(ctx, backoff); err != nil {
		return fmt.Errorf("icloud: request cancelled: %w", err)
	}

	return nil
}

func (c *Client) doOnce(ctx context.Context, method, url string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("icloud: creating request: %w", err)
	}

	headers, err := c.session.Headers(ctx)
	if err != nil {
		return nil, err
	}

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	req.Header.Set("User-Agent", c.userAgent)

	// A client-generated correlation ID ties one logical request (across
	// retries) together in logs, matching the teacher's graph client
	// request-logging pattern — the service's own X-Apple-Request-UUID
	// response header identifies the server-side attempt, not the
	// logical call, so the two are logged side by side rather than one
	// replacing the other.
	correlationID := uuid.NewString()
	req.Header.Set("X-Client-Correlation-Id", correlationID)

	c.logger.Debug("icloud request",
		slog.String("method", method),
		slog.String("url", url),
		slog.String("correlation_id", correlationID),
	)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

// calcBackoff computes exponential backoff with jitter, capped at maxBackoff.
func (c *Client) calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1)
	result := time.Duration(backoff + jitter)

	if result < 0 {
		result = baseBackoff
	}

	return result
}
