package submit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/tveshas/quizagent/internal/solver"
)

// MaxPayloadSize caps the serialized submission body. Oversized payloads
// are refused locally, never sent.
const MaxPayloadSize = 1 << 20

const (
	defaultMaxRetries = 2
	defaultBackoff    = 500 * time.Millisecond
)

// Client posts answers to quiz grading endpoints.
type Client struct {
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
	logger     *log.Logger
}

// Option tweaks client behaviour.
type Option func(*Client)

// WithRetries overrides the transient-failure retry count.
func WithRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

// WithBackoff overrides the delay between retries.
func WithBackoff(d time.Duration) Option {
	return func(c *Client) { c.backoff = d }
}

// WithHTTPClient swaps the underlying transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient builds a submission client.
func NewClient(timeout time.Duration, logger *log.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = log.New(log.Writer(), "[SUBMIT] ", log.LstdFlags)
	}
	c := &Client{
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: defaultMaxRetries,
		backoff:    defaultBackoff,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ErrPayloadTooLarge reports a submission body over the wire cap.
type ErrPayloadTooLarge struct {
	Size int
}

func (e ErrPayloadTooLarge) Error() string {
	return fmt.Sprintf("submission payload is %d bytes, cap is %d", e.Size, MaxPayloadSize)
}

// Submit posts the answer and decodes the verdict. Transient transport and
// 5xx failures are retried with backoff; 4xx responses are terminal.
func (c *Client) Submit(ctx context.Context, submitURL string, sub solver.Submission) (solver.Verdict, error) {
	payload, err := json.Marshal(sub)
	if err != nil {
		return solver.Verdict{}, fmt.Errorf("encode submission: %w", err)
	}
	if len(payload) > MaxPayloadSize {
		return solver.Verdict{}, ErrPayloadTooLarge{Size: len(payload)}
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(c.backoff):
			case <-ctx.Done():
				return solver.Verdict{}, ctx.Err()
			}
			c.logger.Printf("retrying submission to %s (attempt %d)", submitURL, attempt+1)
		}

		verdict, retryable, err := c.post(ctx, submitURL, payload)
		if err == nil {
			return verdict, nil
		}
		lastErr = err
		if !retryable {
			return solver.Verdict{}, err
		}
	}
	return solver.Verdict{}, fmt.Errorf("submission to %s failed after %d attempts: %w", submitURL, c.maxRetries+1, lastErr)
}

func (c *Client) post(ctx context.Context, submitURL string, payload []byte) (solver.Verdict, bool, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", submitURL, bytes.NewReader(payload))
	if err != nil {
		return solver.Verdict{}, false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return solver.Verdict{}, false, ctx.Err()
		}
		return solver.Verdict{}, true, fmt.Errorf("send submission: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxPayloadSize))
	if err != nil {
		return solver.Verdict{}, true, fmt.Errorf("read verdict: %w", err)
	}

	switch {
	case resp.StatusCode >= 500:
		return solver.Verdict{}, true, fmt.Errorf("grading endpoint returned %d: %s", resp.StatusCode, truncate(string(body), 200))
	case resp.StatusCode >= 400:
		return solver.Verdict{}, false, fmt.Errorf("grading endpoint refused submission with %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var verdict solver.Verdict
	if err := json.Unmarshal(body, &verdict); err != nil {
		return solver.Verdict{}, false, fmt.Errorf("decode verdict: %w", err)
	}
	return verdict, false, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
