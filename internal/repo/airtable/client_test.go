package airtable

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/campuscal/campuscal/internal/domain/event"
	"github.com/campuscal/campuscal/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAirtable serves one table in memory.
type fakeAirtable struct {
	mu      sync.Mutex
	records []record
	nextID  int
	fail    int
	authErr bool
}

func (f *fakeAirtable) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.Header.Get("Authorization") != "Bearer key123" || f.authErr {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"type":"AUTHENTICATION_REQUIRED","message":"Authentication required"}}`))
		return
	}

	if f.fail > 0 {
		f.fail--
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	const table = "/app1/Events"

	switch {
	case r.Method == http.MethodGet && r.URL.Path == table:
		// two records per page to exercise paging
		start := 0
		if off := r.URL.Query().Get("offset"); off != "" {
			start = 2
		}
		end := start + 2
		if end > len(f.records) {
			end = len(f.records)
		}

		resp := listResponse{Records: f.records[start:end]}
		if end < len(f.records) {
			resp.Offset = "page2"
		}
		_ = json.NewEncoder(w).Encode(resp)

	case r.Method == http.MethodPost && r.URL.Path == table:
		var req createRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusUnprocessableEntity)
			return
		}

		f.nextID++
		rec := req.Records[0]
		rec.ID = "rec" + string(rune('A'+f.nextID))
		rec.CreatedTime = "2025-05-01T12:00:00.000Z"
		f.records = append(f.records, rec)

		_ = json.NewEncoder(w).Encode(map[string]any{"records": []record{rec}})

	case r.Method == http.MethodDelete:
		id := r.URL.Path[len(table)+1:]
		for i, rec := range f.records {
			if rec.ID == id {
				f.records = append(f.records[:i], f.records[i+1:]...)
				_, _ = w.Write([]byte(`{"records":[{"id":"` + id + `","deleted":true}]}`))
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"NOT_FOUND"}`))

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newTestClient(t *testing.T, fake *fakeAirtable) *Client {
	t.Helper()

	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	c, err := New(Config{
		APIKey:            "key123",
		BaseID:            "app1",
		Table:             "Events",
		BaseURL:           srv.URL,
		RequestsPerSecond: 1000,
	})
	require.NoError(t, err)

	return c
}

func TestNew_RequiresCredentials(t *testing.T) {
	_, err := New(Config{BaseID: "app1", Table: "Events"})
	assert.Error(t, err)
}

func TestClient_CreateListDelete(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, &fakeAirtable{})

	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	var ids []string
	for _, title := range []string{"Club Meeting", "Elections", "Workshop"} {
		e := event.NewFromCreateRequest(event.CreateEventRequest{
			Title: title, ClubName: "CS Club", Date: "2025-05-10", StartTime: "15:00",
		}, now)

		stored, err := c.Create(ctx, e)
		require.NoError(t, err)

		assert.NotEqual(t, e.ID, stored.ID, "airtable assigns its own record id")
		assert.Equal(t, title, stored.Title)
		assert.True(t, stored.CreatedAt.Equal(now))
		ids = append(ids, stored.ID)
	}

	events, err := c.List(ctx)
	require.NoError(t, err)
	require.Len(t, events, 3, "all pages are read")

	removed, err := c.Delete(ctx, ids[0])
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = c.Delete(ctx, ids[0])
	require.NoError(t, err)
	assert.False(t, removed, "404 is a no-op")

	events, err = c.List(ctx)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestClient_DefaultsForSparseRows(t *testing.T) {
	fake := &fakeAirtable{records: []record{
		{ID: "recX", CreatedTime: "2025-05-02T08:00:00.000Z", Fields: fields{Date: "2025-05-10T00:00:00.000Z"}},
	}}
	c := newTestClient(t, fake)

	events, err := c.List(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)

	e := events[0]
	assert.Equal(t, "Untitled", e.Title)
	assert.Equal(t, "Unknown", e.ClubName)
	assert.Equal(t, "2025-05-10", e.Date)
	assert.Equal(t, time.Date(2025, 5, 2, 8, 0, 0, 0, time.UTC), e.CreatedAt.UTC())
	assert.False(t, e.UpdatedAt.Before(e.CreatedAt))
}

func TestClient_ErrorClassification(t *testing.T) {
	ctx := context.Background()

	fake := &fakeAirtable{fail: 1}
	c := newTestClient(t, fake)

	_, err := c.List(ctx)
	assert.ErrorIs(t, err, storage.ErrUnavailable)

	fake.mu.Lock()
	fake.authErr = true
	fake.mu.Unlock()

	_, err = c.List(ctx)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "AUTHENTICATION_REQUIRED", apiErr.Type)
	assert.NotErrorIs(t, err, storage.ErrUnavailable)
}
