// Package airtable is a row backend over the Airtable REST API. Records use
// the snake_case column mapping shared with the Postgres table.
package airtable

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

	"github.com/campuscal/campuscal/internal/domain/event"
	"github.com/campuscal/campuscal/internal/storage"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://api.airtable.com/v0"
	pageSize       = 100
)

type Config struct {
	APIKey  string
	BaseID  string
	Table   string
	BaseURL string
	// RequestsPerSecond defaults to Airtable's published per-base limit.
	RequestsPerSecond float64
	HTTPClient        *http.Client
}

type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	now     func() time.Time
}

// APIError is a non-2xx answer from Airtable.
type APIError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("airtable: status %d: %s: %s", e.StatusCode, e.Type, e.Message)
}

func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" || cfg.BaseID == "" || cfg.Table == "" {
		return nil, errors.New("airtable: api key, base id and table are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 5
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}

	return &Client{
		cfg:     cfg,
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		now:     time.Now,
	}, nil
}

func (c *Client) Name() string { return "airtable" }

type record struct {
	ID          string `json:"id,omitempty"`
	CreatedTime string `json:"createdTime,omitempty"`
	Fields      fields `json:"fields"`
}

type fields struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	ClubName    string `json:"club_name,omitempty"`
	Date        string `json:"date,omitempty"`
	StartTime   string `json:"start_time,omitempty"`
	EndTime     string `json:"end_time,omitempty"`
	Location    string `json:"location,omitempty"`
	Image       string `json:"image,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
	UpdatedAt   string `json:"updated_at,omitempty"`
}

type listResponse struct {
	Records []record `json:"records"`
	Offset  string   `json:"offset"`
}

type createRequest struct {
	Records  []record `json:"records"`
	Typecast bool     `json:"typecast"`
}

func (c *Client) List(ctx context.Context) ([]event.Event, error) {
	out := make([]event.Event, 0)
	offset := ""

	for {
		q := url.Values{}
		q.Set("pageSize", fmt.Sprint(pageSize))
		if offset != "" {
			q.Set("offset", offset)
		}

		var page listResponse
		if err := c.do(ctx, http.MethodGet, c.tableURL()+"?"+q.Encode(), nil, &page); err != nil {
			return nil, err
		}

		for _, r := range page.Records {
			out = append(out, c.toEvent(r))
		}

		if page.Offset == "" {
			break
		}
		offset = page.Offset
	}

	event.Sort(out)

	return out, nil
}

// Create lets Airtable assign the id: the returned event carries the record
// id, not e.ID.
func (c *Client) Create(ctx context.Context, e event.Event) (event.Event, error) {
	body := createRequest{
		Records:  []record{{Fields: toFields(e)}},
		Typecast: true,
	}

	var resp struct {
		Records []record `json:"records"`
	}

	if err := c.do(ctx, http.MethodPost, c.tableURL(), body, &resp); err != nil {
		return event.Event{}, err
	}

	if len(resp.Records) == 0 {
		return event.Event{}, errors.New("airtable: create returned no records")
	}

	return c.toEvent(resp.Records[0]), nil
}

func (c *Client) Delete(ctx context.Context, id string) (bool, error) {
	err := c.do(ctx, http.MethodDelete, c.tableURL()+"/"+url.PathEscape(id), nil, nil)

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return true, nil
}

func (c *Client) tableURL() string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + "/" + url.PathEscape(c.cfg.BaseID) + "/" + url.PathEscape(c.cfg.Table)
}

func (c *Client) do(ctx context.Context, method, target string, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return err
	}

	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", storage.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := decodeAPIError(resp)

		// throttling and server faults say nothing about the request itself
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return fmt.Errorf("%w: %w", storage.ErrUnavailable, apiErr)
		}

		return apiErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("airtable: decode %s response: %w", method, err)
	}

	return nil
}

func decodeAPIError(resp *http.Response) *APIError {
	apiErr := &APIError{StatusCode: resp.StatusCode, Type: http.StatusText(resp.StatusCode)}

	// Airtable returns {"error": {"type": ..., "message": ...}} or {"error": "NOT_FOUND"}
	var payload struct {
		Error json.RawMessage `json:"error"`
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(raw, &payload) != nil || len(payload.Error) == 0 {
		return apiErr
	}

	var detailed struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}

	if json.Unmarshal(payload.Error, &detailed) == nil {
		if detailed.Type != "" {
			apiErr.Type = detailed.Type
		}
		apiErr.Message = detailed.Message
		return apiErr
	}

	var code string
	if json.Unmarshal(payload.Error, &code) == nil && code != "" {
		apiErr.Type = code
	}

	return apiErr
}

func toFields(e event.Event) fields {
	return fields{
		Title:       e.Title,
		Description: e.Description,
		ClubName:    e.ClubName,
		Date:        e.Date,
		StartTime:   e.StartTime,
		EndTime:     e.EndTime,
		Location:    e.Location,
		Image:       e.Image,
		CreatedAt:   e.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:   e.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// toEvent fills gaps in hand-edited rows so the calendar can still show them.
func (c *Client) toEvent(r record) event.Event {
	f := r.Fields

	fallback := c.now()
	if t, err := time.Parse(time.RFC3339, r.CreatedTime); err == nil {
		fallback = t
	}

	created := parseTime(f.CreatedAt, fallback)
	updated := parseTime(f.UpdatedAt, created)
	if updated.Before(created) {
		updated = created
	}

	date := f.Date
	if len(date) > len(event.DateLayout) {
		date = date[:len(event.DateLayout)]
	}

	return event.Event{
		ID:          r.ID,
		Title:       orDefault(f.Title, "Untitled"),
		Description: f.Description,
		ClubName:    orDefault(f.ClubName, "Unknown"),
		Date:        date,
		StartTime:   f.StartTime,
		EndTime:     f.EndTime,
		Location:    f.Location,
		Image:       f.Image,
		CreatedAt:   created,
		UpdatedAt:   updated,
	}
}

func parseTime(v string, fallback time.Time) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t
	}

	return fallback
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}

	return v
}
