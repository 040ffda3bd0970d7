// Package service talks to the Ingresso APIs and adapts them to the cascade
// and seats contracts.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ingresso-cascade-cli/model"
)

const (
	DefaultAPIURL      = "https://api-content.ingresso.com/v0"
	DefaultCheckoutURL = "https://api.ingresso.com/v1"

	defaultUserAgent   = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.5.2 Safari/605.1.15"
	defaultMaxAttempts = 3
	defaultRetryBase   = 200 * time.Millisecond
	defaultRetryCap    = 1200 * time.Millisecond
	maxBodyBytes       = 8 << 20
)

// Client wraps HTTP access to the Ingresso content and checkout APIs.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	checkoutURL string
	userAgent   string
	token       string
	maxAttempts int
	retryBase   time.Duration
	retryCap    time.Duration
	logger      *slog.Logger
}

// Option customises a Client.
type Option func(*Client)

// WithBaseURLs overrides the content and checkout API roots. Empty values
// keep the defaults.
func WithBaseURLs(apiURL string, checkoutURL string) Option {
	return func(c *Client) {
		if apiURL = strings.TrimRight(strings.TrimSpace(apiURL), "/"); apiURL != "" {
			c.baseURL = apiURL
		}
		if checkoutURL = strings.TrimRight(strings.TrimSpace(checkoutURL), "/"); checkoutURL != "" {
			c.checkoutURL = checkoutURL
		}
	}
}

// WithToken sends token as a bearer credential on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = strings.TrimSpace(token) }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a new API client. If httpClient is nil, a default client is used.
func NewClient(httpClient *http.Client, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 12 * time.Second}
	}
	c := &Client{
		httpClient:  httpClient,
		baseURL:     DefaultAPIURL,
		checkoutURL: DefaultCheckoutURL,
		userAgent:   defaultUserAgent,
		maxAttempts: defaultMaxAttempts,
		retryBase:   defaultRetryBase,
		retryCap:    defaultRetryCap,
		logger:      slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetCities returns every city the API lists, flattened across states.
func (c *Client) GetCities(ctx context.Context) ([]model.City, error) {
	states, err := fetch[[]model.State](ctx, c, joinURL(c.baseURL, "states"))
	if err != nil {
		return nil, err
	}
	var cities []model.City
	for _, state := range states {
		cities = append(cities, state.Cities...)
	}
	return cities, nil
}

func (c *Client) GetTheatersByCity(ctx context.Context, cityID string) ([]model.Theater, error) {
	if cityID == "" {
		return nil, errors.New("city id is required")
	}
	return fetch[[]model.Theater](ctx, c, joinURL(c.baseURL, "theaters", "city", cityID))
}

// GetSessionsByCityAndTheater fetches the schedule of a theater. A nil date
// asks for the vendor's default window of upcoming days.
func (c *Client) GetSessionsByCityAndTheater(ctx context.Context, cityID string, theaterID string, date *time.Time) ([]model.TheaterSessionDay, error) {
	if cityID == "" || theaterID == "" {
		return nil, errors.New("city id and theater id are required")
	}
	endpoint := joinURL(c.baseURL, "sessions", "city", cityID, "theater", theaterID)
	if date != nil {
		endpoint += "?" + url.Values{"date": {date.Format(time.DateOnly)}}.Encode()
	}
	return fetch[[]model.TheaterSessionDay](ctx, c, endpoint)
}

// GetSessionDetails fetches a session from the checkout API. Its sections
// name the seat map to load.
func (c *Client) GetSessionDetails(ctx context.Context, sessionID string) (model.SessionDetail, error) {
	if sessionID == "" {
		return model.SessionDetail{}, errors.New("session id is required")
	}
	return fetch[model.SessionDetail](ctx, c, joinURL(c.checkoutURL, "sessions", sessionID))
}

// GetSeatMap fetches every seat of a section, whatever its status.
func (c *Client) GetSeatMap(ctx context.Context, sessionID string, sectionID string) (model.SeatMap, error) {
	if sessionID == "" || sectionID == "" {
		return model.SeatMap{}, errors.New("session id and section id are required")
	}
	return fetch[model.SeatMap](ctx, c, joinURL(c.checkoutURL, "sessions", sessionID, "sections", sectionID, "seats"))
}

// GetSaleableSeats fetches the seats of a section that can still be bought.
func (c *Client) GetSaleableSeats(ctx context.Context, sessionID string, sectionID string) (model.SaleableSeats, error) {
	if sessionID == "" || sectionID == "" {
		return model.SaleableSeats{}, errors.New("session id and section id are required")
	}
	return fetch[model.SaleableSeats](ctx, c, joinURL(c.checkoutURL, "sessions", sessionID, "sections", sectionID, "seats", "saleable"))
}

func joinURL(root string, segments ...string) string {
	var b strings.Builder
	b.WriteString(root)
	for _, segment := range segments {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(segment))
	}
	return b.String()
}

func fetch[T any](ctx context.Context, c *Client, endpoint string) (T, error) {
	var out T
	if err := c.getJSON(ctx, endpoint, &out); err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// getJSON decodes endpoint into out. Transport failures, 429 and 5xx are
// retried with capped exponential backoff.
func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	attempts := max(c.maxAttempts, 1)
	for attempt := 1; ; attempt++ {
		body, retry, err := c.get(ctx, endpoint)
		if err == nil {
			return decodeBody(endpoint, body, out)
		}
		if !retry || attempt >= attempts {
			return err
		}
		c.logger.Debug("request retry", "endpoint", endpoint, "attempt", attempt, "error", err)
		timer := time.NewTimer(c.retryDelay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// get performs one request. retry reports whether another attempt may
// succeed.
func (c *Client) get(ctx context.Context, endpoint string) (body []byte, retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		transient := !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		return nil, transient, fmt.Errorf("request failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 8<<10))
		transient := res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= http.StatusInternalServerError
		return nil, transient, &APIError{
			StatusCode: res.StatusCode,
			Status:     res.Status,
			Endpoint:   endpoint,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}

	body, err = io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return nil, false, fmt.Errorf("read response from %s: %w", endpoint, err)
	}
	return body, false, nil
}

// decodeBody decodes a 2xx body into out. Some endpoints answer 200 with a
// status envelope instead of data; an expired-token envelope becomes a
// *VendorError.
func decodeBody(endpoint string, body []byte, out any) error {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil
	}
	if trimmed[0] == '{' {
		var envelope struct {
			Ret *int   `json:"ret"`
			Sub *int   `json:"sub"`
			Msg string `json:"msg"`
		}
		if json.Unmarshal(trimmed, &envelope) == nil && envelope.Ret != nil && envelope.Sub != nil {
			status := model.VendorStatus{Ret: *envelope.Ret, Sub: *envelope.Sub, Msg: envelope.Msg}
			if status.TokenExpired() {
				return &VendorError{Status: status, Endpoint: endpoint}
			}
		}
	}
	if err := json.Unmarshal(trimmed, out); err != nil {
		return &DecodeError{Endpoint: endpoint, Err: err}
	}
	return nil
}

func (c *Client) retryDelay(attempt int) time.Duration {
	delay := c.retryBase
	for i := 1; i < attempt && delay < c.retryCap; i++ {
		delay *= 2
	}
	return min(delay, c.retryCap)
}
