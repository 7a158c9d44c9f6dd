package utils

import (
	"testing"

	"github.com/campuscal/campuscal/internal/domain/event"
	"github.com/stretchr/testify/assert"
)

func TestBuildEventsListCacheKey(t *testing.T) {
	club := " CS Club "
	month := "2025-05"

	a := BuildEventsListCacheKey(3, event.Filter{Club: &club, Month: &month})
	assert.Equal(t, "events:list:v3:date=:month=2025-05:club=cs club", a)

	assert.NotEqual(t, a, BuildEventsListCacheKey(4, event.Filter{Club: &club, Month: &month}))
	assert.Equal(t, "events:list:v0:date=:month=:club=", BuildEventsListCacheKey(0, event.Filter{}))
}
