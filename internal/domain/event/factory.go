package event

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

func NewFromCreateRequest(req CreateEventRequest, now time.Time) Event {
	return Event{
		ID:          uuid.NewString(),
		Title:       strings.TrimSpace(req.Title),
		Description: strings.TrimSpace(req.Description),
		ClubName:    strings.TrimSpace(req.ClubName),
		Date:        strings.TrimSpace(req.Date),
		StartTime:   normalizeTime(req.StartTime),
		EndTime:     normalizeTime(req.EndTime),
		Location:    strings.TrimSpace(req.Location),
		Image:       strings.TrimSpace(req.Image),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// normalizeTime zero-pads single digit hours so "9:05" and "09:05" sort and
// compare the same.
func normalizeTime(v string) string {
	v = strings.TrimSpace(v)

	if len(v) == 4 && v[1] == ':' {
		return "0" + v
	}

	return v
}
