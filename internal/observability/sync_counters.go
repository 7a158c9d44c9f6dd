package observability

import (
	"sync/atomic"
	"time"
)

// SyncCounters are in-process totals for sync passes, reported on the
// status endpoint.
type SyncCounters struct {
	succeeded atomic.Uint64
	failed    atomic.Uint64
	skipped   atomic.Uint64

	// duration stats (nanoseconds)
	durationCount atomic.Uint64
	durationTotal atomic.Int64
	durationMax   atomic.Int64
}

func NewSyncCounters() *SyncCounters {
	return &SyncCounters{}
}

func (m *SyncCounters) IncSucceeded() {
	m.succeeded.Add(1)
}

func (m *SyncCounters) IncFailed() {
	m.failed.Add(1)
}

func (m *SyncCounters) IncSkipped() {
	m.skipped.Add(1)
}

func (m *SyncCounters) ObserveDuration(d time.Duration) {
	ns := d.Nanoseconds()
	m.durationCount.Add(1)
	m.durationTotal.Add(ns)

	// max update

	for {
		curr := m.durationMax.Load()

		if ns <= curr {
			return
		}

		if m.durationMax.CompareAndSwap(curr, ns) {
			return
		}
	}
}

type SyncCountersSnapshot struct {
	Succeeded       uint64        `json:"succeeded"`
	Failed          uint64        `json:"failed"`
	Skipped         uint64        `json:"skipped"`
	AverageDuration time.Duration `json:"averageDurationNs"`
	MaxDuration     time.Duration `json:"maxDurationNs"`
}

func (m *SyncCounters) Snapshot() SyncCountersSnapshot {
	count := m.durationCount.Load()
	total := m.durationTotal.Load()
	max := m.durationMax.Load()

	var avg time.Duration

	if count > 0 {
		avg = time.Duration(total / int64(count))
	}

	return SyncCountersSnapshot{
		Succeeded:       m.succeeded.Load(),
		Failed:          m.failed.Load(),
		Skipped:         m.skipped.Load(),
		AverageDuration: avg,
		MaxDuration:     time.Duration(max),
	}
}
