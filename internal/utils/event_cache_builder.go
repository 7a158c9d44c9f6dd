package utils

import (
	"strconv"
	"strings"

	"github.com/campuscal/campuscal/internal/domain/event"
)

// BuildEventsListCacheKey keys a filtered list response by the cache version
// it was rendered from, so a sync invalidates it without explicit eviction.
func BuildEventsListCacheKey(version uint64, f event.Filter) string {
	return "events:list:v" + strconv.FormatUint(version, 10) +
		":date=" + deref(f.Date) +
		":month=" + deref(f.Month) +
		":club=" + strings.ToLower(strings.TrimSpace(deref(f.Club)))
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
