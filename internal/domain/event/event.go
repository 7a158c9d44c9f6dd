package event

import (
	"errors"
	"sort"
	"strings"
	"time"
)

// DateLayout is the wire format of Event.Date.
const DateLayout = "2006-01-02"

type Event struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	ClubName    string    `json:"clubName"`
	Date        string    `json:"date"`
	StartTime   string    `json:"startTime,omitempty"`
	EndTime     string    `json:"endTime,omitempty"`
	Location    string    `json:"location,omitempty"`
	Image       string    `json:"image,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

var ErrNotFound = errors.New("event not found")

// CreateEventRequest is the form payload. There is no update request: events
// only change by being replaced wholesale during a sync.
type CreateEventRequest struct {
	Title       string `json:"title" binding:"required,notblank,max=120"`
	Description string `json:"description" binding:"omitempty,max=2000"`
	ClubName    string `json:"clubName" binding:"required,notblank,max=80"`
	Date        string `json:"date" binding:"required,datetime=2006-01-02"`
	StartTime   string `json:"startTime" binding:"omitempty,hhmm"`
	EndTime     string `json:"endTime" binding:"omitempty,hhmm"`
	Location    string `json:"location" binding:"omitempty,max=200"`
	Image       string `json:"image" binding:"omitempty,imageref"`
}

// with pointers if optional, it will be nil
type Filter struct {
	Date  *string
	Month *string // YYYY-MM
	Club  *string
}

func (f Filter) Matches(e Event) bool {
	if f.Date != nil && e.Date != *f.Date {
		return false
	}

	if f.Month != nil && !strings.HasPrefix(e.Date, *f.Month+"-") {
		return false
	}

	if f.Club != nil && !strings.EqualFold(strings.TrimSpace(e.ClubName), strings.TrimSpace(*f.Club)) {
		return false
	}

	return true
}

func (f Filter) Apply(events []Event) []Event {
	out := make([]Event, 0, len(events))

	for _, e := range events {
		if f.Matches(e) {
			out = append(out, e)
		}
	}

	return out
}

// Sort orders events the way the calendar shows them: by date, then start
// time (all-day first), then creation, then id.
func Sort(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]

		if a.Date != b.Date {
			return a.Date < b.Date
		}

		if sa, sb := normalizeTime(a.StartTime), normalizeTime(b.StartTime); sa != sb {
			return sa < sb
		}

		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}

		return a.ID < b.ID
	})
}

// ParseDate returns the calendar day of e in loc.
func (e Event) ParseDate(loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}

	return time.ParseInLocation(DateLayout, e.Date, loc)
}

// Clone returns a copy of events that shares nothing with the input slice.
func Clone(events []Event) []Event {
	if events == nil {
		return []Event{}
	}

	out := make([]Event, len(events))
	copy(out, events)

	return out
}

// Equal reports whether a and b hold the same events in the same order.
// Timestamps compare by instant.
func Equal(a, b []Event) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if !a[i].same(b[i]) {
			return false
		}
	}

	return true
}

func (e Event) same(o Event) bool {
	return e.ID == o.ID &&
		e.Title == o.Title &&
		e.Description == o.Description &&
		e.ClubName == o.ClubName &&
		e.Date == o.Date &&
		e.StartTime == o.StartTime &&
		e.EndTime == o.EndTime &&
		e.Location == o.Location &&
		e.Image == o.Image &&
		e.CreatedAt.Equal(o.CreatedAt) &&
		e.UpdatedAt.Equal(o.UpdatedAt)
}
