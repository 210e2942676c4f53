package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"gallerio/internal/metrics"
	"gallerio/internal/nav"
)

const (
	defaultBaseURL = "http://localhost:8080/api"
	defaultTimeout = 15 * time.Second
	userAgent      = "gallerio-client/1.0"
)

// TokenSource provides the bearer token and owns its invalidation.
type TokenSource interface {
	Token() string
	// Invalidate clears the session if token is still current and reports whether it did.
	Invalidate(ctx context.Context, token string) bool
}

// Client is the single gateway to the marketplace REST API.
type Client struct {
	logger    *slog.Logger
	baseURL   string
	http      *http.Client
	metrics   *metrics.Metrics
	tokens    TokenSource
	navigator nav.Navigator
}

// Config holds API client configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration
	// HTTPClient overrides the default client; Timeout is ignored when set.
	HTTPClient *http.Client
}

// New creates the API client. metrics may be nil.
func New(cfg Config, tokens TokenSource, navigator nav.Navigator, logger *slog.Logger, metrics *metrics.Metrics) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	if navigator == nil {
		navigator = nav.Discard
	}
	return &Client{
		logger:    logger.With("component", "api"),
		baseURL:   base,
		http:      httpClient,
		metrics:   metrics,
		tokens:    tokens,
		navigator: navigator,
	}
}

// request describes one call. label is the route pattern used for metrics. bearer overrides the
// session token; anonymous requests carry none.
type request struct {
	method    string
	path      string
	label     string
	query     url.Values
	body      any
	bearer    string
	anonymous bool
}

func (c *Client) do(ctx context.Context, r request, dest any) error {
	var body io.Reader
	if r.body != nil {
		data, err := json.Marshal(r.body)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", r.label, err)
		}
		body = bytes.NewReader(data)
	}

	reqURL := c.baseURL + r.path
	if len(r.query) > 0 {
		reqURL += "?" + r.query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, r.method, reqURL, body)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Request-ID", uuid.NewString())
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	var token string
	switch {
	case r.anonymous:
	case r.bearer != "":
		token = r.bearer
	case c.tokens != nil:
		token = c.tokens.Token()
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		c.observe(r.label, "error", start)
		return fmt.Errorf("%s request: %w", r.label, err)
	}
	defer res.Body.Close()
	c.observe(r.label, strconv.Itoa(res.StatusCode), start)

	bodyBytes, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", r.label, err)
	}

	if res.StatusCode >= 400 {
		apiErr := classifyHTTPError(r.label, res.StatusCode, bodyBytes)
		if res.StatusCode == http.StatusUnauthorized && token != "" {
			c.handleUnauthorized(ctx, token)
		}
		return apiErr
	}

	if dest == nil || len(bytes.TrimSpace(bodyBytes)) == 0 {
		return nil
	}
	if err := json.Unmarshal(bodyBytes, dest); err != nil {
		return fmt.Errorf("decode %s response: %w", r.label, err)
	}
	return nil
}

// handleUnauthorized is the only place a 401 may end the session. Concurrent 401s for the same
// token race on Invalidate and exactly one of them navigates.
func (c *Client) handleUnauthorized(ctx context.Context, token string) {
	if c.tokens == nil || !c.tokens.Invalidate(context.WithoutCancel(ctx), token) {
		return
	}
	if c.metrics != nil {
		c.metrics.SessionInvalidations.Inc()
	}
	c.logger.Warn("unauthorized response, session cleared")
	c.navigator.Navigate(nav.Login)
}

func (c *Client) observe(label, status string, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.APIRequests.WithLabelValues(label, status).Inc()
	c.metrics.APILatency.WithLabelValues(label, status).Observe(time.Since(start).Seconds())
}

func idPath(format string, id int64) string {
	return fmt.Sprintf(format, strconv.FormatInt(id, 10))
}
