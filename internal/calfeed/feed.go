// Package calfeed renders events as an iCalendar (RFC 5545) feed that
// calendar apps can subscribe to.
package calfeed

import (
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"
	"github.com/campuscal/campuscal/internal/domain/event"
)

const productID = "-//campuscal//Club Events//EN"

// defaultDuration applies to timed events with no usable end time.
const defaultDuration = time.Hour

type Options struct {
	Name     string
	Location *time.Location // wall-clock zone of Date/StartTime; UTC when nil
	// Now stamps DTSTAMP; time.Now when nil.
	Now func() time.Time
}

// Render skips events whose date does not parse; the rest become VEVENTs
// keyed by event id.
func Render(events []event.Event, opts Options) string {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}

	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId(productID)
	if opts.Name != "" {
		cal.SetXWRCalName(opts.Name)
	}
	cal.SetXWRTimezone(loc.String())

	stamp := now().UTC()

	for _, e := range events {
		day, err := e.ParseDate(loc)
		if err != nil {
			continue
		}

		ve := cal.AddEvent(e.ID + "@campuscal")
		ve.SetDtStampTime(stamp)
		ve.SetCreatedTime(e.CreatedAt.UTC())
		ve.SetModifiedAt(e.UpdatedAt.UTC())
		ve.SetSummary(e.Title)

		if desc := description(e); desc != "" {
			ve.SetDescription(desc)
		}
		if e.Location != "" {
			ve.SetLocation(e.Location)
		}
		if strings.HasPrefix(e.Image, "http://") || strings.HasPrefix(e.Image, "https://") {
			ve.SetURL(e.Image)
		}
		ve.AddProperty(ics.ComponentPropertyCategories, e.ClubName)

		start, ok := atClock(day, e.StartTime)
		if !ok {
			ve.SetAllDayStartAt(day)
			ve.SetAllDayEndAt(day.AddDate(0, 0, 1))
			continue
		}

		end, ok := atClock(day, e.EndTime)
		if !ok || !end.After(start) {
			end = start.Add(defaultDuration)
		}

		ve.SetStartAt(start)
		ve.SetEndAt(end)
	}

	return cal.Serialize()
}

func description(e event.Event) string {
	if e.Description == "" {
		return "Hosted by " + e.ClubName
	}

	return e.Description + "\n\nHosted by " + e.ClubName
}

// atClock places an "HH:MM" wall time on day.
func atClock(day time.Time, hhmm string) (time.Time, bool) {
	if !event.IsTimeOfDay(hhmm) {
		return time.Time{}, false
	}

	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return time.Time{}, false
	}

	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, day.Location()), true
}
