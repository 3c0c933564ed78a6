// Package common holds the REST transport shared by exchange connectors:
// rate limiting, bounded retries with backoff, and classification of
// exchange responses into the connector error taxonomy.
package common

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/avast/retry-go"
	"github.com/veiloq/binance-connector/pkg/exchanges/interfaces"
	"github.com/veiloq/binance-connector/pkg/logging"
	"github.com/veiloq/binance-connector/pkg/ratelimit"
)

// SignFunc finalizes query parameters immediately before a send attempt,
// injecting the timestamp, recvWindow and signature. It is invoked once per
// attempt so retried requests always carry a fresh signature; a request is
// never resent verbatim.
type SignFunc func(params url.Values) url.Values

// Request describes one REST call.
type Request struct {
	Method string
	Path   string
	Params url.Values

	// Sign is nil for public endpoints.
	Sign SignFunc

	// Weight is the endpoint's documented request weight (defaults to 1).
	Weight int

	// NoRetry forces a single attempt. Order placement sets this: an
	// ambiguous failure must surface, never trigger a resend.
	NoRetry bool
}

// HTTPClient executes REST calls with rate limiting and retry policy.
type HTTPClient interface {
	// Call executes the request and returns the raw response body.
	// Failures are classified per the connector taxonomy: *ExchangeError
	// for business rejections, ErrRateLimited after the retry budget for
	// throttling responses, *TransportError for everything else.
	Call(ctx context.Context, req Request) ([]byte, error)

	// SetRateLimit updates the request-weight budget at runtime.
	SetRateLimit(rate ratelimit.Rate) error
}

// ClientConfig holds configuration for the HTTP client.
type ClientConfig struct {
	BaseURL string

	// APIKey, when set, is attached to every request via X-MBX-APIKEY.
	APIKey string

	Timeout   time.Duration
	RateLimit ratelimit.Rate

	MaxRetries uint
	RetryDelay time.Duration

	// Rate-limit signaling. The exchange's discriminator is an external
	// contract, so both the HTTP statuses and the payload error codes that
	// mean "throttled" are configuration, not literals in the code path.
	RateLimitStatuses []int
	RateLimitCodes    []int

	Logger logging.Logger
}

// DefaultConfig returns a configuration with Binance-appropriate defaults:
// 429 and 418 (auto-ban warning) statuses plus error code -1003 signal
// throttling.
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		Timeout: 15 * time.Second,
		RateLimit: ratelimit.Rate{
			Limit:    1200,
			Interval: time.Minute,
		},
		MaxRetries:        3,
		RetryDelay:        time.Second,
		RateLimitStatuses: []int{http.StatusTooManyRequests, http.StatusTeapot},
		RateLimitCodes:    []int{-1003},
		Logger:            logging.NewLogger(),
	}
}

type client struct {
	config     *ClientConfig
	httpClient *http.Client
	limiter    ratelimit.Limiter
	logger     logging.Logger
}

// NewHTTPClient creates a transport with the given configuration.
func NewHTTPClient(config *ClientConfig) HTTPClient {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = logging.NewLogger()
	}

	return &client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		limiter: ratelimit.NewWeightLimiter(config.RateLimit),
		logger:  config.Logger,
	}
}

// rateLimitError marks a throttling response inside the retry loop so the
// final failure can be mapped to ErrRateLimited instead of TransportError.
type rateLimitError struct {
	status int
	code   int
}

func (e *rateLimitError) Error() string {
	return fmt.Sprintf("rate limited: status=%d code=%d", e.status, e.code)
}

func (c *client) Call(ctx context.Context, req Request) ([]byte, error) {
	weight := req.Weight
	if weight < 1 {
		weight = 1
	}
	if err := c.limiter.WaitN(ctx, weight); err != nil {
		return nil, &interfaces.TransportError{Op: req.Method + " " + req.Path, Err: err}
	}

	attempts := c.config.MaxRetries
	if req.NoRetry || attempts < 1 {
		attempts = 1
	}

	var (
		body        []byte
		rejection   *interfaces.ExchangeError
		rateLimited bool
	)

	err := retry.Do(
		func() error {
			data, attemptErr := c.attempt(ctx, req)
			switch e := attemptErr.(type) {
			case nil:
				body = data
				return nil
			case *interfaces.ExchangeError:
				rejection = e
				return retry.Unrecoverable(e)
			case *rateLimitError:
				rateLimited = true
				return e
			default:
				rateLimited = false
				return attemptErr
			}
		},
		retry.Attempts(attempts),
		retry.Delay(c.config.RetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Warn("retrying request",
				logging.Int("attempt", int(n)+1),
				logging.String("method", req.Method),
				logging.String("path", req.Path),
				logging.Error(err),
			)
		}),
	)

	if err == nil {
		return body, nil
	}
	if rejection != nil {
		return nil, rejection
	}
	if rateLimited {
		return nil, fmt.Errorf("%w: %s %s: %v", interfaces.ErrRateLimited, req.Method, req.Path, err)
	}
	return nil, &interfaces.TransportError{Op: req.Method + " " + req.Path, Err: err}
}

// attempt performs a single send. Signing happens here so every attempt
// carries a fresh timestamp.
func (c *client) attempt(ctx context.Context, req Request) ([]byte, error) {
	params := cloneValues(req.Params)
	if req.Sign != nil {
		params = req.Sign(params)
	}

	u := c.config.BaseURL + req.Path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u, nil)
	if err != nil {
		return nil, &interfaces.ExchangeError{Code: 0, Message: fmt.Sprintf("malformed request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		httpReq.Header.Set("X-MBX-APIKEY", c.config.APIKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request error: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	c.logger.Debug("http response",
		logging.String("method", req.Method),
		logging.String("path", req.Path),
		logging.Int("status", resp.StatusCode),
		logging.Duration("duration", time.Since(start)),
	)

	return c.classify(resp.StatusCode, data)
}

// classify maps a response to the error taxonomy. Retryable conditions
// (throttling, 5xx) come back as plain or rateLimitError values; business
// rejections come back as *ExchangeError.
func (c *client) classify(status int, data []byte) ([]byte, error) {
	if status >= 200 && status < 300 {
		return data, nil
	}

	code, msg := parseExchangeError(data)

	if c.isRateLimitSignal(status, code) {
		return nil, &rateLimitError{status: status, code: code}
	}
	if status >= 500 {
		return nil, fmt.Errorf("server error: status %d", status)
	}
	return nil, &interfaces.ExchangeError{Code: code, Message: msg}
}

func (c *client) isRateLimitSignal(status, code int) bool {
	for _, s := range c.config.RateLimitStatuses {
		if status == s {
			return true
		}
	}
	for _, rc := range c.config.RateLimitCodes {
		if code == rc && code != 0 {
			return true
		}
	}
	return false
}

func (c *client) SetRateLimit(rate ratelimit.Rate) error {
	return c.limiter.SetRate(rate)
}

func parseExchangeError(data []byte) (int, string) {
	var payload struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return 0, string(data)
	}
	return payload.Code, payload.Msg
}

func cloneValues(params url.Values) url.Values {
	out := make(url.Values, len(params))
	for k, vs := range params {
		out[k] = append([]string(nil), vs...)
	}
	return out
}
