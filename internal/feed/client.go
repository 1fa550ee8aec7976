// Package feed is the quote feed collaborator: it pulls events and their
// markets from the upstream market data API and turns outcome prices into
// quotes for the wallet.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/polypredict/ledger-engine/internal/model"
)

// DefaultBaseURL is the public events API.
const DefaultBaseURL = "https://gamma-api.polymarket.com"

// EventsQuery selects the events shown on the dashboard: active, open,
// ordered by volume.
var EventsQuery = url.Values{
	"tag_id":    {"2"},
	"active":    {"true"},
	"closed":    {"false"},
	"limit":     {"5"},
	"offset":    {"5"},
	"order":     {"volume"},
	"ascending": {"false"},
}

// Client fetches events from the market data API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for baseURL (DefaultBaseURL when empty).
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// FetchEvents returns the current event list with embedded markets.
func (c *Client) FetchEvents(ctx context.Context) ([]model.Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/events?"+EventsQuery.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch events: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("fetch events: status %d: %s", resp.StatusCode, body)
	}

	var events []model.Event
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}
	return events, nil
}
