// Package httpx is the shared JSON-over-HTTP transport used by the service
// adapters: authentication, client-side rate limiting and a circuit breaker.
package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

// ErrBreakerOpen is returned while the service's circuit breaker rejects calls.
var ErrBreakerOpen = errors.New("service unavailable: circuit breaker open")

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Service    string
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API error %d on %s %s: %s", e.Service, e.StatusCode, e.Method, e.URL, e.Body)
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}

const (
	DefaultTimeout           = 30 * time.Second
	DefaultRequestsPerSecond = 10
	DefaultBurst             = 5
	DefaultBreakerFailures   = 5
	maxErrorBody             = 512
)

// Config configures a Client. Exactly one authentication method is normally set.
type Config struct {
	// Service names the remote system in errors and logs.
	Service string
	BaseURL string

	// BearerToken is sent as "Authorization: Bearer".
	BearerToken string
	// BasicUser and BasicPassword enable basic authentication.
	BasicUser     string
	BasicPassword string
	// Header holds static headers such as API keys.
	Header map[string]string

	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
	BreakerFailures   uint32

	// HTTPClient is copied and used as the underlying client when set.
	HTTPClient *http.Client
	Log        *zap.Logger
}

// Client performs JSON requests against one service.
type Client struct {
	service string
	base    *url.URL
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	header  http.Header
	user    string
	pass    string
	log     *zap.Logger
}

// New creates a Client. The base URL is required.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("%s: base URL is not configured", cfg.Service)
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("%s: invalid base URL %q", cfg.Service, cfg.BaseURL)
	}

	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = DefaultRequestsPerSecond
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = DefaultBurst
	}
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = DefaultBreakerFailures
	}

	hc := &http.Client{}
	if cfg.HTTPClient != nil {
		cp := *cfg.HTTPClient
		hc = &cp
	}
	if cfg.BearerToken != "" {
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, hc)
		hc = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.BearerToken}))
	}
	hc.Timeout = timeout

	header := http.Header{}
	for k, v := range cfg.Header {
		header.Set(k, v)
	}

	c := &Client{
		service: cfg.Service,
		base:    base,
		http:    hc,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		header:  header,
		user:    cfg.BasicUser,
		pass:    cfg.BasicPassword,
		log:     log,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    cfg.Service,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !isServerFailure(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				zap.String("service", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return c, nil
}

// BaseURL returns the configured base URL without trailing slash.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// GetJSON fetches path (relative to the base URL, or absolute) and decodes the body into out.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	return c.Do(ctx, http.MethodGet, path, query, nil, out)
}

// PostJSON posts body as JSON and decodes the response into out, if non-nil.
func (c *Client) PostJSON(ctx context.Context, path string, body, out interface{}) error {
	return c.Do(ctx, http.MethodPost, path, nil, body, out)
}

// Do performs one request through the rate limiter and circuit breaker.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	endpoint := c.resolve(path, query)

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encoding %s request: %w", c.service, err)
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s rate limiter: %w", c.service, err)
	}

	start := time.Now()
	respBody, err := c.breaker.Execute(func() (interface{}, error) {
		return c.roundTrip(ctx, method, endpoint, payload)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%s: %w", c.service, ErrBreakerOpen)
	}
	c.log.Debug("http request",
		zap.String("service", c.service),
		zap.String("method", method),
		zap.String("url", endpoint),
		zap.Duration("elapsed", time.Since(start)),
		zap.Error(err))
	if err != nil {
		return err
	}

	data, _ := respBody.([]byte)
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding %s response: %w", c.service, err)
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, method, endpoint string, payload []byte) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.header {
		req.Header[k] = v
	}
	if c.user != "" {
		req.SetBasicAuth(c.user, c.pass)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", c.service, err)
	}
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("reading %s response body: %w", c.service, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := string(data)
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		return nil, &StatusError{
			Service:    c.service,
			Method:     method,
			URL:        endpoint,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(msg),
		}
	}
	return data, nil
}

func (c *Client) resolve(path string, query url.Values) string {
	var u *url.URL
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		parsed, err := url.Parse(path)
		if err == nil {
			u = parsed
		}
	}
	if u == nil {
		rel := *c.base
		p, rawQuery, _ := strings.Cut(path, "?")
		rel.Path = strings.TrimRight(c.base.Path, "/") + "/" + strings.TrimLeft(p, "/")
		rel.RawQuery = rawQuery
		u = &rel
	}
	if len(query) > 0 {
		q := u.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// isServerFailure reports whether err indicates the service itself is unhealthy.
func isServerFailure(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500 || se.StatusCode == http.StatusTooManyRequests
	}
	return !errors.Is(err, context.Canceled)
}
