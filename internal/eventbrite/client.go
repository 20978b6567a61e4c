// Package eventbrite is a minimal client for the Eventbrite v3 REST API,
// covering the resources the warehouse loader ingests.
package eventbrite

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const defaultBaseURL = "https://www.eventbriteapi.com/v3"

// Pagination is the envelope every list response carries.
type Pagination struct {
	ObjectCount  int  `json:"object_count"`
	PageNumber   int  `json:"page_number"`
	HasMoreItems bool `json:"has_more_items"`
}

// EventsPage is one page of an organizer's events. Items are kept as raw
// field maps so source fields this client does not model still reach the
// warehouse's column intersection.
type EventsPage struct {
	Pagination Pagination       `json:"pagination"`
	Events     []map[string]any `json:"events"`
}

// AttendeesPage is one page of an event's attendees.
type AttendeesPage struct {
	Pagination Pagination       `json:"pagination"`
	Attendees  []map[string]any `json:"attendees"`
}

// Client makes Eventbrite REST calls using an opaque OAuth token.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     *slog.Logger
}

// New returns a client for the production API.
func New(token string, log *slog.Logger) *Client {
	return NewWithBaseURL(defaultBaseURL, token, log)
}

// NewWithBaseURL returns a client against an alternate endpoint, used by
// tests.
func NewWithBaseURL(baseURL, token string, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
		log:     log,
	}
}

// get performs a GET and decodes the body into out. A non-success status
// is logged and reported as absent (false, nil) without reading the
// status code any further; callers treat absence as a rate-limit signal.
func (c *Client) get(ctx context.Context, path string, params url.Values, out any) (bool, error) {
	if params == nil {
		params = url.Values{}
	}
	params.Set("token", c.token)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return false, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		c.log.Warn("eventbrite response had non-success status",
			"path", path, "status", resp.StatusCode)
		return false, nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("decode %s response: %w", path, err)
	}
	return true, nil
}

// Me returns metadata about the account associated with the token.
func (c *Client) Me(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	ok, err := c.get(ctx, "/users/me/", nil, &out)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("eventbrite rejected the token")
	}
	return out, nil
}

// GetEvents pulls one page of an organizer's events. A non-empty start
// bounds the listing to events starting on or after that date
// (YYYY-MM-DD). A nil page with nil error means the API returned a
// non-success status.
func (c *Client) GetEvents(ctx context.Context, orgID, start string, page int) (*EventsPage, error) {
	params := url.Values{"page": []string{strconv.Itoa(page)}}
	if start != "" {
		params.Set("start_date.range_start", start+"T00:00:00")
	}
	var out EventsPage
	ok, err := c.get(ctx, "/organizers/"+url.PathEscape(orgID)+"/events/", params, &out)
	if err != nil || !ok {
		return nil, err
	}
	return &out, nil
}

// GetEvent returns a single event by id.
func (c *Client) GetEvent(ctx context.Context, eventID string) (map[string]any, error) {
	var out map[string]any
	ok, err := c.get(ctx, "/events/"+url.PathEscape(eventID), nil, &out)
	if err != nil || !ok {
		return nil, err
	}
	return out, nil
}

// GetAttendees returns one page of an event's attendees.
func (c *Client) GetAttendees(ctx context.Context, eventID string, page int) (*AttendeesPage, error) {
	params := url.Values{"page": []string{strconv.Itoa(page)}}
	var out AttendeesPage
	ok, err := c.get(ctx, "/events/"+url.PathEscape(eventID)+"/attendees", params, &out)
	if err != nil || !ok {
		return nil, err
	}
	return &out, nil
}

// GetOrder returns metadata about an order.
func (c *Client) GetOrder(ctx context.Context, orderID string) (map[string]any, error) {
	var out map[string]any
	ok, err := c.get(ctx, "/orders/"+url.PathEscape(orderID), nil, &out)
	if err != nil || !ok {
		return nil, err
	}
	return out, nil
}

// GetVenue returns the metadata for a venue.
func (c *Client) GetVenue(ctx context.Context, venueID string) (map[string]any, error) {
	var out map[string]any
	ok, err := c.get(ctx, "/venues/"+url.PathEscape(venueID), nil, &out)
	if err != nil || !ok {
		return nil, err
	}
	return out, nil
}
