package glpi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	pkgerrors "HelpdeskPulse/pkg/errors"
	pkglog "HelpdeskPulse/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/goccy/go-json"
	"golang.org/x/time/rate"
)

// Response is a successful (2xx) GLPI answer.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode unmarshals the body. Undecodable bodies are malformed responses.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode %d response: %v: %w", r.StatusCode, err, pkgerrors.ErrMalformedResponse)
	}
	return nil
}

// ClientMetrics is the read-only observability view of a Client.
type ClientMetrics struct {
	TotalRequests       int64      `json:"total_requests"`
	SuccessfulRequests  int64      `json:"successful_requests"`
	FailedRequests      int64      `json:"failed_requests"`
	RejectedRequests    int64      `json:"rejected_requests"`
	AverageLatencyMs    float64    `json:"average_latency_ms"`
	CircuitBreakerState string     `json:"circuit_breaker_state"`
	CircuitBreakerTrips int64      `json:"circuit_breaker_trips"`
	ConsecutiveFailures uint32     `json:"consecutive_failures"`
	LastFailure         *time.Time `json:"last_failure,omitempty"`
	SessionActive       bool       `json:"session_active"`
	SessionAgeSeconds   float64    `json:"session_age_seconds"`
	SessionRenewals     int64      `json:"session_renewals"`
}

type clientStats struct {
	total    int64
	success  int64
	failed   int64
	rejected int64
	avgMs    float64
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client (tests, custom TLS).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithAuthenticator replaces the initSession/killSession implementation.
func WithAuthenticator(a Authenticator) Option {
	return func(c *Client) { c.auth = a }
}

// WithBreaker shares an existing breaker instead of creating one.
func WithBreaker(b *CircuitBreaker) Option {
	return func(c *Client) { c.breaker = b }
}

// Client is the resilient GLPI client. It is safe for concurrent use.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	auth       Authenticator
	breaker    *CircuitBreaker
	sessions   *SessionManager
	retry      *RetryPolicy

	mu    sync.Mutex
	stats clientStats

	log *pkglog.LogHelper
}

// New creates a Client. Zero values in cfg take defaults.
func New(cfg Config, logger log.Logger, opts ...Option) (*Client, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	c := &Client{
		cfg: cfg,
		log: pkglog.NewLogHelper(log.With(logger, "module", "glpi/client", "client", cfg.Name)),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		hc, err := newHTTPClient(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("glpi: %w", err)
		}
		c.httpClient = hc
	}

	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	if c.auth == nil {
		c.auth = &sessionAPI{c: c}
	}
	if c.breaker == nil {
		c.breaker = NewCircuitBreaker(cfg.Name, cfg.Breaker, logger)
	}
	c.sessions = NewSessionManager(cfg.Name, c.auth, cfg.SessionTimeout, cfg.RenewalMargin, logger)
	c.retry = NewRetryPolicy(cfg.Retry, cfg.Breaker.Timeout, c.breaker, c.sessions, logger)
	c.retry.observe = func(class string, _ time.Duration) {
		attemptsTotal.WithLabelValues(cfg.Name, class).Inc()
	}

	return c, nil
}

// Request issues one logical call: token, headers, retry policy, response
// interpretation. Non-2xx answers surface as *pkgerrors.APIError.
func (c *Client) Request(ctx context.Context, method, endpoint string, params url.Values, body any) (*Response, error) {
	return c.request(ctx, method, endpoint, params, body, nil)
}

// Get issues a GET request.
func (c *Client) Get(ctx context.Context, endpoint string, params url.Values) (*Response, error) {
	return c.Request(ctx, http.MethodGet, endpoint, params, nil)
}

// Post issues a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, endpoint string, body any) (*Response, error) {
	return c.Request(ctx, http.MethodPost, endpoint, nil, body)
}

// Put issues a PUT request with a JSON body.
func (c *Client) Put(ctx context.Context, endpoint string, body any) (*Response, error) {
	return c.Request(ctx, http.MethodPut, endpoint, nil, body)
}

// Delete issues a DELETE request.
func (c *Client) Delete(ctx context.Context, endpoint string, params url.Values) (*Response, error) {
	return c.Request(ctx, http.MethodDelete, endpoint, params, nil)
}

// Search runs GET search/{itemtype}. rng is a GLPI range such as "0-49";
// empty uses the server default.
func (c *Client) Search(ctx context.Context, itemtype string, criteria []Criterion, rng string) (*SearchResult, error) {
	params := url.Values{}
	EncodeCriteria(params, criteria)
	if rng != "" {
		params.Set("range", rng)
	}

	var result SearchResult
	_, err := c.request(ctx, http.MethodGet, "search/"+itemtype, params, nil, func(resp *Response) error {
		var r SearchResult
		if err := resp.Decode(&r); err != nil {
			return err
		}
		if h := resp.Header.Get("Content-Range"); h != "" {
			cr, err := ParseContentRange(h)
			if err != nil {
				return err
			}
			r.Range = cr
			r.TotalCount = cr.Total
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Count returns the number of itemtype rows matching criteria. It requests
// range=0-0 and reads the total from Content-Range; when GLPI omits the
// header (empty results) the body's totalcount is used. A response carrying
// neither is malformed.
func (c *Client) Count(ctx context.Context, itemtype string, criteria []Criterion) (int64, error) {
	params := url.Values{}
	EncodeCriteria(params, criteria)
	params.Set("range", CountRange)

	var total int64
	_, err := c.request(ctx, http.MethodGet, "search/"+itemtype, params, nil, func(resp *Response) error {
		if h := resp.Header.Get("Content-Range"); h != "" {
			cr, err := ParseContentRange(h)
			if err != nil {
				return err
			}
			total = cr.Total
			return nil
		}

		var body struct {
			TotalCount *int64 `json:"totalcount"`
		}
		if len(resp.Body) == 0 {
			return fmt.Errorf("missing Content-Range header and empty body: %w", pkgerrors.ErrMalformedResponse)
		}
		if err := resp.Decode(&body); err != nil {
			return err
		}
		if body.TotalCount == nil {
			return fmt.Errorf("missing Content-Range header and totalcount: %w", pkgerrors.ErrMalformedResponse)
		}
		total = *body.TotalCount
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// request runs the call through the retry policy. check, when set, validates
// the response inside the attempt so a malformed answer counts as a failure.
func (c *Client) request(ctx context.Context, method, endpoint string, params url.Values, body any, check func(*Response) error) (*Response, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("glpi: encode %s %s body: %w", method, endpoint, err)
		}
	}

	start := time.Now()
	var resp *Response
	err := c.retry.Execute(ctx, func(ctx context.Context, token SessionToken) error {
		r, err := c.do(ctx, method, endpoint, params, payload, token.Value)
		if err != nil {
			return err
		}
		if check != nil {
			if err := check(r); err != nil {
				return err
			}
		}
		resp = r
		return nil
	})
	took := time.Since(start)
	c.record(method, took, err)

	if err != nil {
		c.log.Warnw("msg", "GLPI request failed", "method", method, "endpoint", endpoint,
			"duration_ms", took.Milliseconds(), "error", err)
		return nil, err
	}
	c.log.Debugw("msg", "GLPI request completed", "method", method, "endpoint", endpoint,
		"status", resp.StatusCode, "duration_ms", took.Milliseconds())
	return resp, nil
}

// do performs a single HTTP exchange.
func (c *Client) do(ctx context.Context, method, endpoint string, params url.Values, payload []byte, token string) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("glpi: outbound rate limit: %v: %w", err, context.DeadlineExceeded)
		}
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpointURL(endpoint, params), reader)
	if err != nil {
		return nil, fmt.Errorf("glpi: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("App-Token", c.cfg.AppToken)
	if token != "" {
		req.Header.Set("Session-Token", token)
	}

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("glpi: read %s %s response: %w", method, endpoint, err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, pkgerrors.NewAPIError(httpResp.StatusCode, method, endpoint, errorCode(respBody), respBody)
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       respBody,
	}, nil
}

func (c *Client) endpointURL(endpoint string, params url.Values) string {
	u := c.cfg.BaseURL + "/" + strings.TrimPrefix(endpoint, "/")
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

// errorCode extracts the code from a GLPI error body: ["ERROR_CODE", "message"].
func errorCode(body []byte) string {
	var parts []string
	if err := json.Unmarshal(body, &parts); err != nil || len(parts) == 0 {
		return ""
	}
	return parts[0]
}

func (c *Client) record(method string, took time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "failure"
		if errors.Is(err, ErrCircuitOpen) {
			result = "rejected"
		}
	}

	ms := float64(took) / float64(time.Millisecond)

	c.mu.Lock()
	c.stats.total++
	switch result {
	case "success":
		c.stats.success++
	case "rejected":
		c.stats.rejected++
		c.stats.failed++
	default:
		c.stats.failed++
	}
	c.stats.avgMs += (ms - c.stats.avgMs) / float64(c.stats.total)
	c.mu.Unlock()

	requestsTotal.WithLabelValues(c.cfg.Name, method, result).Inc()
	requestDuration.WithLabelValues(c.cfg.Name, method).Observe(took.Seconds())
}

// Metrics returns a consistent snapshot of the client counters.
//
// Request counters and latency describe calls as their callers saw them: a
// call whose caller gave up counts as failed even when its in-flight attempt
// later succeeds. That late outcome still reaches the breaker, so the breaker
// fields and the attempts_total collector reflect it.
func (c *Client) Metrics() ClientMetrics {
	c.mu.Lock()
	stats := c.stats
	c.mu.Unlock()

	counts := c.breaker.Counts()
	m := ClientMetrics{
		TotalRequests:       stats.total,
		SuccessfulRequests:  stats.success,
		FailedRequests:      stats.failed,
		RejectedRequests:    stats.rejected,
		AverageLatencyMs:    stats.avgMs,
		CircuitBreakerState: c.breaker.State().String(),
		CircuitBreakerTrips: c.breaker.Trips(),
		ConsecutiveFailures: counts.ConsecutiveFailures,
		SessionRenewals:     c.sessions.Renewals(),
	}
	if !counts.LastFailure.IsZero() {
		last := counts.LastFailure
		m.LastFailure = &last
	}
	if tok, ok := c.sessions.Current(); ok {
		m.SessionActive = true
		m.SessionAgeSeconds = tok.Age(time.Now()).Seconds()
	}
	return m
}

// Breaker exposes the circuit breaker for health checks.
func (c *Client) Breaker() *CircuitBreaker {
	return c.breaker
}

// Close kills the GLPI session and releases idle connections.
func (c *Client) Close(ctx context.Context) error {
	err := c.sessions.Close(ctx)
	c.httpClient.CloseIdleConnections()
	return err
}

// sessionAPI opens and closes sessions over HTTP.
type sessionAPI struct {
	c *Client
}

func (s *sessionAPI) InitSession(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.c.endpointURL("initSession", nil), nil)
	if err != nil {
		return "", fmt.Errorf("glpi: build initSession request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("App-Token", s.c.cfg.AppToken)
	req.Header.Set("Authorization", "user_token "+s.c.cfg.UserToken)

	resp, err := s.c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("glpi: read initSession response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", pkgerrors.NewAPIError(resp.StatusCode, http.MethodGet, "initSession", errorCode(body), body)
	}

	var out struct {
		SessionToken string `json:"session_token"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode initSession response: %v: %w", err, pkgerrors.ErrMalformedResponse)
	}
	if out.SessionToken == "" {
		return "", fmt.Errorf("initSession returned no session_token: %w", pkgerrors.ErrMalformedResponse)
	}
	return out.SessionToken, nil
}

func (s *sessionAPI) KillSession(ctx context.Context, token string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.c.endpointURL("killSession", nil), nil)
	if err != nil {
		return fmt.Errorf("glpi: build killSession request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("App-Token", s.c.cfg.AppToken)
	req.Header.Set("Session-Token", token)

	resp, err := s.c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return pkgerrors.NewAPIError(resp.StatusCode, http.MethodGet, "killSession", "", nil)
	}
	return nil
}
