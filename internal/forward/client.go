package forward

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
)

// Result is a completed HTTP exchange. Responses with status >= 400 are
// returned as results, not errors: the caller decides how to surface them.
type Result struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// IsError reports whether the backend answered with an error status.
func (r *Result) IsError() bool {
	return r.StatusCode >= 400
}

// Client posts JSON payloads with bounded retries and fixed backoff. Only
// transport-level failures (connection refused, timeout, TLS) are retried;
// an HTTP error status is a valid response.
type Client struct {
	httpClient *http.Client
	logger     zerolog.Logger
	retries    int
	backoff    time.Duration
}

// NewClient builds a Client. timeout bounds each individual attempt. retries
// is the number of additional attempts after the first. verifyTLS disables
// certificate verification only when explicitly set to false.
func NewClient(logger zerolog.Logger, timeout time.Duration, retries int, backoff time.Duration, verifyTLS bool) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !verifyTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout, Transport: transport},
		logger:     logger.With().Str("component", "forward-client").Logger(),
		retries:    retries,
		backoff:    backoff,
	}
}

// Budget returns the wall-clock time a single Post may consume when every
// attempt runs to its timeout: retries+1 attempts plus the backoff sleeps.
// Background callers size their context deadlines from this.
func (c *Client) Budget() time.Duration {
	return time.Duration(c.retries+1)*c.httpClient.Timeout + time.Duration(c.retries)*c.backoff
}

// Post sends body as JSON to url with the given extra headers. It attempts
// retries+1 times, sleeping the fixed backoff between failed attempts, and
// returns the last transport error once attempts are exhausted.
func (c *Client) Post(ctx context.Context, url string, headers map[string]string, body any) (*Result, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}

	var result *Result
	attempt := 0

	b := retry.WithMaxRetries(uint64(c.retries), retry.NewConstant(c.backoff))
	err = retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.logger.Warn().Err(err).Str("url", url).Int("attempt", attempt).Msg("forward attempt failed")
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			c.logger.Warn().Err(err).Str("url", url).Int("attempt", attempt).Msg("read response failed")
			return retry.RetryableError(err)
		}

		result = &Result{
			StatusCode:  resp.StatusCode,
			ContentType: resp.Header.Get("Content-Type"),
			Body:        respBody,
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("post %s after %d attempts: %w", url, attempt, err)
	}
	return result, nil
}
