// Package ninjakiwi reads Contested Territory data from the Ninja Kiwi open
// data API.
package ninjakiwi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// DefaultBaseURL is the public open data API.
const DefaultBaseURL = "https://data.ninjakiwi.com"

// ErrNoEvent is returned when the API lists no event that has started.
var ErrNoEvent = errors.New("no contested territory event has started")

// Client is a Ninja Kiwi API client with rate limiting
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a new API client
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		// The open data API asks for a few requests per second at most.
		limiter: rate.NewLimiter(rate.Limit(2), 2),
	}
}

// envelope wraps every API response.
type envelope[T any] struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Body    T      `json:"body"`
}

// doRequest performs an HTTP request with rate limiting. A 429 is retried
// once after the server's Retry-After.
func (c *Client) doRequest(ctx context.Context, url string) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusTooManyRequests || attempt > 0 {
			return resp, nil
		}

		wait := time.Second
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs >= 0 {
			wait = time.Duration(secs) * time.Second
		}
		resp.Body.Close()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

// get performs a GET request and decodes the JSON body of the envelope
func get[T any](ctx context.Context, c *Client, path string) (T, error) {
	var zero T
	resp, err := c.doRequest(ctx, c.baseURL+path)
	if err != nil {
		return zero, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return zero, fmt.Errorf("API error: status %d, body: %s", resp.StatusCode, string(body))
	}

	var env envelope[T]
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return zero, fmt.Errorf("failed to decode response: %w", err)
	}
	if !env.Success && env.Error != "" {
		return zero, fmt.Errorf("API error: %s", env.Error)
	}
	return env.Body, nil
}

// Event is one Contested Territory event.
type Event struct {
	ID    string
	Start time.Time
	End   time.Time
}

type eventDTO struct {
	ID    string `json:"id"`
	Start int64  `json:"start"`
	End   int64  `json:"end"`
}

// Tile is one tile of an event's map.
type Tile struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Relic string `json:"relic,omitempty"`
}

// Tile types.
const (
	TileBanner = "Banner"
	TileRelic  = "Relic"
)

// Events lists the known events, newest first.
func (c *Client) Events(ctx context.Context) ([]Event, error) {
	dtos, err := get[[]eventDTO](ctx, c, "/btd6/ct")
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	events := make([]Event, 0, len(dtos))
	for _, d := range dtos {
		events = append(events, Event{
			ID:    d.ID,
			Start: time.UnixMilli(d.Start).UTC(),
			End:   time.UnixMilli(d.End).UTC(),
		})
	}
	return events, nil
}

// CurrentEvent returns the newest event that started at or before now.
func (c *Client) CurrentEvent(ctx context.Context, now time.Time) (Event, error) {
	events, err := c.Events(ctx)
	if err != nil {
		return Event{}, err
	}
	var (
		best  Event
		found bool
	)
	for _, e := range events {
		if e.Start.After(now) {
			continue
		}
		if !found || e.Start.After(best.Start) {
			best, found = e, true
		}
	}
	if !found {
		return Event{}, ErrNoEvent
	}
	return best, nil
}

// Tiles lists the tiles of an event.
func (c *Client) Tiles(ctx context.Context, eventID string) ([]Tile, error) {
	body, err := get[struct {
		Tiles []Tile `json:"tiles"`
	}](ctx, c, "/btd6/ct/"+eventID+"/tiles")
	if err != nil {
		return nil, fmt.Errorf("list tiles of %s: %w", eventID, err)
	}
	return body.Tiles, nil
}
