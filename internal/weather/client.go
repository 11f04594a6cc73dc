package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

var (
	// ErrRateLimited is returned when the provider answers 429.
	ErrRateLimited = errors.New("weather API rate limit exceeded")
	// ErrMissingAPIKey is returned by every call when no API key is configured.
	ErrMissingAPIKey = errors.New("weather API key not configured")
	// ErrInvalidResponse is returned for a 200 without data.values.
	ErrInvalidResponse = errors.New("received invalid data structure from weather API")
)

// Client calls the realtime weather endpoint of a Tomorrow.io compatible API.
type Client struct {
	http   *resty.Client
	apiKey string
	logger *zap.Logger
}

// NewClient creates a realtime weather client rooted at baseURL.
func NewClient(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")

	return &Client{
		http:   httpClient,
		apiKey: apiKey,
		logger: logger,
	}
}

// Realtime fetches the current observation for one location.
func (c *Client) Realtime(ctx context.Context, location string) (*Observation, error) {
	if c.apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"location": location,
			"units":    "metric",
			"apikey":   c.apiKey,
		}).
		Get("/weather/realtime")
	if err != nil {
		return nil, fmt.Errorf("realtime request for %q: %w", location, err)
	}

	switch resp.StatusCode() {
	case http.StatusOK:
	case http.StatusTooManyRequests:
		return nil, fmt.Errorf("realtime request for %q: %w", location, ErrRateLimited)
	default:
		return nil, fmt.Errorf("weather API error for %q: status %d: %s", location, resp.StatusCode(), resp.String())
	}

	var body realtimeResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, fmt.Errorf("decode realtime response for %q: %w", location, err)
	}
	if body.Data.Values == nil {
		c.logger.Warn("realtime response missing values", zap.String("location", location))
		return nil, ErrInvalidResponse
	}

	return body.observation(), nil
}
