package eventsync

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/campuscal/campuscal/internal/domain/event"
	"github.com/campuscal/campuscal/internal/repo/kv"
	"github.com/campuscal/campuscal/internal/repo/memory"
	"github.com/campuscal/campuscal/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 5, 1, 9, 30, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newSync(t *testing.T, b storage.Backend) *Synchronizer {
	t.Helper()

	s := New(b, Config{Interval: time.Hour, InitialWait: 50 * time.Millisecond}, Options{Logger: quietLogger()})
	s.now = func() time.Time { return testNow }

	return s
}

func clubMeeting() event.CreateEventRequest {
	return event.CreateEventRequest{
		Title:     "Club Meeting",
		ClubName:  "CS Club",
		Date:      "2025-05-10",
		StartTime: "15:00",
		EndTime:   "16:00",
		Location:  "Room 101",
	}
}

// fakeBackend is a scriptable Backend.
type fakeBackend struct {
	mu        sync.Mutex
	events    []event.Event
	listErr   error
	createErr error
	listGate  chan struct{}
	lists     int
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) List(ctx context.Context) ([]event.Event, error) {
	f.mu.Lock()
	gate := f.listGate
	f.lists++
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.listErr != nil {
		return nil, f.listErr
	}
	return event.Clone(f.events), nil
}

func (f *fakeBackend) Create(ctx context.Context, e event.Event) (event.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.createErr != nil {
		return event.Event{}, f.createErr
	}
	f.events = append(f.events, e)
	return e, nil
}

func (f *fakeBackend) Delete(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i, e := range f.events {
		if e.ID == id {
			f.events = append(f.events[:i], f.events[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeBackend) setListErr(err error) {
	f.mu.Lock()
	f.listErr = err
	f.mu.Unlock()
}

func TestAddEvent_ClubMeeting(t *testing.T) {
	ctx := context.Background()
	s := newSync(t, kv.New(memory.NewStore(), kv.Options{Logger: quietLogger()}))

	created, err := s.AddEvent(ctx, clubMeeting())
	require.NoError(t, err)

	assert.NotEmpty(t, created.ID)
	assert.Equal(t, testNow, created.CreatedAt)
	assert.Equal(t, created.CreatedAt, created.UpdatedAt)

	all := s.AllEvents(ctx)
	require.Len(t, all, 1)
	assert.Equal(t, created, all[0])
	assert.Equal(t, "Room 101", all[0].Location)
}

func TestAddEvent_AssignsUniqueIDs(t *testing.T) {
	ctx := context.Background()
	s := newSync(t, kv.New(memory.NewStore(), kv.Options{Logger: quietLogger()}))

	a, err := s.AddEvent(ctx, clubMeeting())
	require.NoError(t, err)
	b, err := s.AddEvent(ctx, clubMeeting())
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	assert.Len(t, s.AllEvents(ctx), 2)
}

func TestAllEvents_FirstCallLoadsSeed(t *testing.T) {
	seed := kv.DemoEvents(testNow)
	s := newSync(t, kv.New(memory.NewStore(), kv.Options{Seed: seed, Logger: quietLogger()}))

	assert.False(t, s.Ready())

	all := s.AllEvents(context.Background())

	assert.True(t, s.Ready())
	assert.Len(t, all, len(seed))
}

func TestAllEvents_ReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := newSync(t, kv.New(memory.NewStore(), kv.Options{Logger: quietLogger()}))

	_, err := s.AddEvent(ctx, clubMeeting())
	require.NoError(t, err)

	all := s.AllEvents(ctx)
	all[0].Title = "mutated"

	assert.Equal(t, "Club Meeting", s.AllEvents(ctx)[0].Title)
}

func TestForceSyncNow_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := newSync(t, kv.New(memory.NewStore(), kv.Options{Seed: kv.DemoEvents(testNow), Logger: quietLogger()}))

	require.NoError(t, s.ForceSyncNow(ctx))
	first := s.AllEvents(ctx)

	require.NoError(t, s.ForceSyncNow(ctx))
	second := s.AllEvents(ctx)

	assert.Equal(t, first, second)
	assert.Equal(t, uint64(2), s.Status().Stats.Succeeded)
}

func TestForceSyncNow_SkipsWhileInFlight(t *testing.T) {
	gate := make(chan struct{})
	fb := &fakeBackend{listGate: gate}
	s := newSync(t, fb)

	done := make(chan error, 1)
	go func() { done <- s.ForceSyncNow(context.Background()) }()

	require.Eventually(t, func() bool { return s.Status().Syncing }, time.Second, time.Millisecond)

	assert.NoError(t, s.ForceSyncNow(context.Background()), "overlapping call returns immediately")
	assert.Equal(t, uint64(1), s.Status().Stats.Skipped)

	close(gate)
	require.NoError(t, <-done)

	fb.mu.Lock()
	defer fb.mu.Unlock()
	assert.Equal(t, 1, fb.lists)
}

func TestDeleteEvent(t *testing.T) {
	ctx := context.Background()
	s := newSync(t, kv.New(memory.NewStore(), kv.Options{Logger: quietLogger()}))

	created, err := s.AddEvent(ctx, clubMeeting())
	require.NoError(t, err)

	require.NoError(t, s.DeleteEvent(ctx, "does-not-exist"))
	assert.Len(t, s.AllEvents(ctx), 1)

	require.NoError(t, s.DeleteEvent(ctx, created.ID))
	assert.Empty(t, s.AllEvents(ctx))
}

func TestAddEvent_BackendErrorLeavesCache(t *testing.T) {
	ctx := context.Background()
	fb := &fakeBackend{}
	s := newSync(t, fb)
	require.NoError(t, s.ForceSyncNow(ctx))

	fb.createErr = fmt.Errorf("%w: connection refused", storage.ErrUnavailable)

	_, err := s.AddEvent(ctx, clubMeeting())
	assert.ErrorIs(t, err, storage.ErrUnavailable)
	assert.Empty(t, s.AllEvents(ctx))
}

func TestAddEvent_OptimisticWhenRefreshFails(t *testing.T) {
	ctx := context.Background()
	fb := &fakeBackend{}
	s := newSync(t, fb)
	require.NoError(t, s.ForceSyncNow(ctx))

	fb.setListErr(storage.ErrUnavailable)

	created, err := s.AddEvent(ctx, clubMeeting())
	require.NoError(t, err)

	all := s.AllEvents(ctx)
	require.Len(t, all, 1)
	assert.Equal(t, created.ID, all[0].ID)
}

func TestDeleteEvent_OptimisticWhenRefreshFails(t *testing.T) {
	ctx := context.Background()
	fb := &fakeBackend{}
	s := newSync(t, fb)

	created, err := s.AddEvent(ctx, clubMeeting())
	require.NoError(t, err)

	fb.setListErr(storage.ErrUnavailable)

	require.NoError(t, s.DeleteEvent(ctx, created.ID))
	assert.Empty(t, s.AllEvents(ctx))
}

func TestBackendDown_ServesCache(t *testing.T) {
	ctx := context.Background()
	fb := &fakeBackend{}
	s := newSync(t, fb)

	_, err := s.AddEvent(ctx, clubMeeting())
	require.NoError(t, err)

	fb.setListErr(storage.ErrUnavailable)

	err = s.ForceSyncNow(ctx)
	assert.ErrorIs(t, err, storage.ErrUnavailable)

	assert.Len(t, s.AllEvents(ctx), 1, "last good copy is kept")

	st := s.Status()
	assert.True(t, st.Initialized)
	assert.NotEmpty(t, st.LastError)
	assert.Equal(t, uint64(1), st.Stats.Failed)
}

func TestFailedFirstLoad_StillInitializes(t *testing.T) {
	fb := &fakeBackend{listErr: storage.ErrUnavailable}
	s := newSync(t, fb)

	all := s.AllEvents(context.Background())

	assert.Empty(t, all)
	assert.NotNil(t, all)
	assert.True(t, s.Ready())
}

func TestVersion_BumpsOnReplace(t *testing.T) {
	ctx := context.Background()
	s := newSync(t, &fakeBackend{})

	assert.Equal(t, uint64(0), s.Version())
	require.NoError(t, s.ForceSyncNow(ctx))
	v := s.Version()
	assert.Positive(t, v)

	_, err := s.AddEvent(ctx, clubMeeting())
	require.NoError(t, err)
	assert.Greater(t, s.Version(), v)
}

func TestRun_PicksUpPushedChanges(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := memory.NewStore()
	s := newSync(t, kv.New(store, kv.Options{Logger: quietLogger()}))

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, s.Ready, time.Second, 5*time.Millisecond)

	// a second writer over the same store, like another open tab
	other := kv.New(store, kv.Options{Logger: quietLogger()})
	_, err := other.Create(ctx, event.NewFromCreateRequest(clubMeeting(), testNow))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return s.Status().Events == 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestConcurrentAdds_MayLoseAnUpdate(t *testing.T) {
	ctx := context.Background()

	// Both writers read the same empty collection before either writes back.
	store := &barrierStore{Store: memory.NewStore(), pending: 2, release: make(chan struct{})}
	s := newSync(t, kv.New(store, kv.Options{Logger: quietLogger()}))

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.AddEvent(ctx, clubMeeting())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.NoError(t, s.ForceSyncNow(ctx))
	assert.Len(t, s.AllEvents(ctx), 1, "last write wins over the whole collection")
}

// barrierStore holds the first n reads of the primary key until all n have
// arrived.
type barrierStore struct {
	kv.Store

	mu      sync.Mutex
	pending int
	release chan struct{}
}

func (b *barrierStore) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := b.Store.Get(ctx, key)
	if key != kv.DefaultKey {
		return v, err
	}

	b.mu.Lock()
	if b.pending == 0 {
		b.mu.Unlock()
		return v, err
	}
	b.pending--
	if b.pending == 0 {
		close(b.release)
	}
	b.mu.Unlock()

	<-b.release

	return v, err
}

func TestVersion_StableWhenCollectionUnchanged(t *testing.T) {
	ctx := context.Background()
	s := newSync(t, kv.New(memory.NewStore(), kv.Options{Seed: kv.DemoEvents(testNow), Logger: quietLogger()}))

	require.NoError(t, s.ForceSyncNow(ctx))
	events, v := s.VersionedEvents(ctx)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.ForceSyncNow(ctx))
	}

	again, v2 := s.VersionedEvents(ctx)
	assert.Equal(t, v, v2, "re-reading the same collection keeps the version")
	assert.Equal(t, events, again)

	_, err := s.AddEvent(ctx, clubMeeting())
	require.NoError(t, err)

	_, v3 := s.VersionedEvents(ctx)
	assert.Greater(t, v3, v2)
}

func TestRefresh_SortsCollection(t *testing.T) {
	fb := &fakeBackend{events: []event.Event{
		{ID: "late", Title: "Elections", ClubName: "Debate", Date: "2025-05-12", CreatedAt: testNow, UpdatedAt: testNow},
		{ID: "afternoon", Title: "Club Meeting", ClubName: "CS Club", Date: "2025-05-10", StartTime: "15:00", CreatedAt: testNow, UpdatedAt: testNow},
		{ID: "allday", Title: "Bake Sale", ClubName: "Baking", Date: "2025-05-10", CreatedAt: testNow, UpdatedAt: testNow},
	}}
	s := newSync(t, fb)

	all := s.AllEvents(context.Background())
	require.Len(t, all, 3)

	ids := []string{all[0].ID, all[1].ID, all[2].ID}
	assert.Equal(t, []string{"allday", "afternoon", "late"}, ids)
}

func TestStatus_StateFollowsPasses(t *testing.T) {
	ctx := context.Background()
	gate := make(chan struct{})
	fb := &fakeBackend{listGate: gate}
	s := newSync(t, fb)

	assert.Equal(t, StateIdle, s.Status().State)

	done := make(chan error, 1)
	go func() { done <- s.ForceSyncNow(ctx) }()

	require.Eventually(t, func() bool { return s.Status().State == StateSyncing }, time.Second, time.Millisecond)

	close(gate)
	require.NoError(t, <-done)
	assert.Equal(t, StateSuccess, s.Status().State)

	fb.setListErr(storage.ErrUnavailable)
	assert.Error(t, s.ForceSyncNow(ctx))

	st := s.Status()
	assert.Equal(t, StateError, st.State)
	assert.NotEmpty(t, st.LastError)

	fb.setListErr(nil)
	require.NoError(t, s.ForceSyncNow(ctx))
	assert.Equal(t, StateSuccess, s.Status().State)
}
