package kv

import (
	"time"

	"github.com/campuscal/campuscal/internal/domain/event"
)

// DemoEvents is the sample calendar a fresh local store starts with when
// seeding is enabled.
func DemoEvents(now time.Time) []event.Event {
	mk := func(id, title, desc, club, date, start, end, loc string) event.Event {
		return event.Event{
			ID:          id,
			Title:       title,
			Description: desc,
			ClubName:    club,
			Date:        date,
			StartTime:   start,
			EndTime:     end,
			Location:    loc,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
	}

	return []event.Event{
		mk("1", "Computer Science Club Meeting", "Weekly meeting to discuss upcoming hackathon and projects.",
			"CS Club", "2025-05-10", "15:00", "16:30", "Engineering Building, Room 201"),
		mk("2", "Student Government Elections", "Cast your vote for next year's student representatives.",
			"Student Government", "2025-05-15", "10:00", "16:00", "Student Center"),
		mk("3", "Photography Workshop", "Learn portrait photography techniques with professional equipment.",
			"Photography Club", "2025-05-12", "14:00", "17:00", "Arts Building, Studio 3"),
		mk("4", "Basketball Tournament", "Inter-class basketball tournament. Sign up your team!",
			"Sports Association", "2025-05-20", "09:00", "18:00", "Gymnasium"),
	}
}
