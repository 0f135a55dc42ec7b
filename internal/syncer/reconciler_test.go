package syncer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fishnetapp/fishnet-vault-go/internal/model"
	"github.com/fishnetapp/fishnet-vault-go/internal/status"
	"github.com/fishnetapp/fishnet-vault-go/internal/storage"
)

// scriptedRemote fails pushes for the named species and records every call.
type scriptedRemote struct {
	mu          sync.Mutex
	failSpecies map[string]bool
	pushed      []string
	onPush      func(rec model.CatchRecord)
	inFlight    int
	maxInFlight int
}

func (s *scriptedRemote) PushCatch(ctx context.Context, rec model.CatchRecord) error {
	s.mu.Lock()
	s.inFlight++
	if s.inFlight > s.maxInFlight {
		s.maxInFlight = s.inFlight
	}
	fail := s.failSpecies[rec.Species]
	s.pushed = append(s.pushed, rec.Species)
	onPush := s.onPush
	s.mu.Unlock()

	if onPush != nil {
		onPush(rec)
	}

	s.mu.Lock()
	s.inFlight--
	s.mu.Unlock()

	if fail {
		return errors.New("network error during sync")
	}
	return nil
}

func (s *scriptedRemote) PushPost(ctx context.Context, post model.SocialPost) error {
	return nil
}

type noopEvents struct{}

func (n *noopEvents) PublishCatchSynced(ctx context.Context, rec model.CatchRecord) error { return nil }
func (n *noopEvents) PublishSyncCompleted(ctx context.Context, s model.SyncStatus) error  { return nil }
func (n *noopEvents) Close() error                                                        { return nil }

func newTestReconciler(t *testing.T, remote Remote) (*Reconciler, storage.Store, *PostQueue) {
	t.Helper()
	store := storage.NewMemory()
	posts := NewPostQueue()
	bus := status.NewBroadcaster(model.SyncStatus{})
	r := New(store, posts, remote, bus, &noopEvents{}, nil, Options{
		// Long debounce keeps automatic cycles out of deterministic tests.
		Debounce:  time.Hour,
		PollEvery: time.Hour,
	})
	t.Cleanup(func() {
		r.Stop()
		bus.Close()
		store.Close()
	})
	return r, store, posts
}

func seedCatches(t *testing.T, store storage.Store, species ...string) {
	t.Helper()
	base := time.Date(2026, 8, 1, 8, 0, 0, 0, time.UTC)
	for i, sp := range species {
		_, err := store.AddCatch(context.Background(), model.CatchRecord{
			Species:   sp,
			Count:     1,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("AddCatch failed: %v", err)
		}
	}
}

func TestForceSyncRejectedOffline(t *testing.T) {
	r, store, _ := newTestReconciler(t, &scriptedRemote{})
	seedCatches(t, store, "Walleye")

	result := r.ForceSync(context.Background())
	if result.Success {
		t.Fatal("expected force sync rejected while offline")
	}
	if result.Error != "cannot sync while offline" {
		t.Errorf("unexpected error string %q", result.Error)
	}

	// State untouched: the catch stays pending.
	unsynced, _ := store.GetUnsyncedCatches(context.Background())
	if len(unsynced) != 1 {
		t.Errorf("expected 1 pending catch, got %d", len(unsynced))
	}
	if r.Status().LastSyncTime != nil {
		t.Error("expected no last sync time after a rejected force sync")
	}
}

func TestSyncContinuesPastFailedItem(t *testing.T) {
	remote := &scriptedRemote{failSpecies: map[string]bool{"Bluegill": true}}
	r, store, _ := newTestReconciler(t, remote)
	seedCatches(t, store, "Walleye", "Bluegill", "Pike")

	r.SetOnline(true)
	result := r.ForceSync(context.Background())
	if !result.Success {
		t.Fatalf("expected force sync success, got %q", result.Error)
	}

	if len(remote.pushed) != 3 {
		t.Fatalf("expected all 3 items attempted, got %d", len(remote.pushed))
	}

	unsynced, _ := store.GetUnsyncedCatches(context.Background())
	if len(unsynced) != 1 || unsynced[0].Species != "Bluegill" {
		t.Fatalf("expected only Bluegill still pending, got %v", unsynced)
	}

	// lastSyncTime is recorded even though one item failed.
	s := r.Status()
	if s.LastSyncTime == nil {
		t.Error("expected last sync time after a completed cycle")
	}
	if s.PendingCatches != 1 {
		t.Errorf("expected 1 pending catch, got %d", s.PendingCatches)
	}
	if s.IsSyncing {
		t.Error("expected idle state after the cycle")
	}
}

func TestForceSyncRejectedWhileCycleRunning(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	remote := &scriptedRemote{onPush: func(model.CatchRecord) {
		once.Do(func() { close(started) })
		<-release
	}}

	r, store, _ := newTestReconciler(t, remote)
	seedCatches(t, store, "Walleye")
	r.SetOnline(true)

	done := make(chan model.SyncResult, 1)
	go func() { done <- r.ForceSync(context.Background()) }()
	<-started

	result := r.ForceSync(context.Background())
	if result.Success {
		t.Fatal("expected second force sync rejected while a cycle is running")
	}
	if result.Error != "sync already in progress" {
		t.Errorf("unexpected error string %q", result.Error)
	}

	close(release)
	if first := <-done; !first.Success {
		t.Errorf("expected the first cycle to succeed, got %q", first.Error)
	}
}

func TestGoingOfflineMidCycleStopsBetweenItems(t *testing.T) {
	var r *Reconciler
	remote := &scriptedRemote{}
	remote.onPush = func(model.CatchRecord) {
		// Connectivity drops while the first item is in flight.
		r.SetOnline(false)
	}

	var store storage.Store
	r, store, _ = newTestReconciler(t, remote)
	seedCatches(t, store, "Walleye", "Bluegill")
	r.SetOnline(true)

	result := r.ForceSync(context.Background())
	if !result.Success {
		t.Fatalf("force sync failed to start: %q", result.Error)
	}

	// The in-flight item completed, the rest stayed pending.
	if len(remote.pushed) != 1 {
		t.Fatalf("expected exactly 1 push before the abort, got %d", len(remote.pushed))
	}
	unsynced, _ := store.GetUnsyncedCatches(context.Background())
	if len(unsynced) != 1 {
		t.Fatalf("expected 1 catch still pending, got %d", len(unsynced))
	}
	if r.Status().LastSyncTime != nil {
		t.Error("an aborted cycle must not record a last sync time")
	}
}

func TestReconnectDuringPushKeepsCycleCancelled(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	remote := &scriptedRemote{onPush: func(model.CatchRecord) {
		once.Do(func() { close(started) })
		<-release
	}}

	store := storage.NewMemory()
	posts := NewPostQueue()
	bus := status.NewBroadcaster(model.SyncStatus{})
	r := New(store, posts, remote, bus, &noopEvents{}, nil, Options{
		Debounce:  10 * time.Millisecond,
		PollEvery: time.Hour,
	})
	defer func() {
		r.Stop()
		bus.Close()
		store.Close()
	}()

	seedCatches(t, store, "Walleye", "Bluegill")
	r.SetOnline(true)
	<-started

	// Connectivity flaps while the first push is in flight. The cycle
	// stays cancelled and the debounced reconnect must not start a
	// second loop alongside it.
	r.SetOnline(false)
	r.SetOnline(true)
	time.Sleep(50 * time.Millisecond)

	remote.mu.Lock()
	attempted := len(remote.pushed)
	maxInFlight := remote.maxInFlight
	remote.mu.Unlock()
	if maxInFlight != 1 {
		t.Fatalf("expected a single push at a time, saw %d concurrent", maxInFlight)
	}
	if attempted != 1 {
		t.Fatalf("expected 1 push attempt during the flap, got %d", attempted)
	}

	close(release)

	// The in-flight item resolves, then the cancelled loop halts
	// without touching the second item.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if unsynced, _ := store.GetUnsyncedCatches(context.Background()); len(unsynced) == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)

	remote.mu.Lock()
	total := len(remote.pushed)
	remote.mu.Unlock()
	if total != 1 {
		t.Fatalf("expected no duplicate submissions, got %d pushes", total)
	}
	unsynced, _ := store.GetUnsyncedCatches(context.Background())
	if len(unsynced) != 1 {
		t.Fatalf("expected 1 catch still pending, got %d", len(unsynced))
	}
	if r.Status().LastSyncTime != nil {
		t.Error("a cancelled cycle must not record a last sync time")
	}
}

func TestDebouncedSyncAfterComingOnline(t *testing.T) {
	remote := &scriptedRemote{}
	store := storage.NewMemory()
	posts := NewPostQueue()
	bus := status.NewBroadcaster(model.SyncStatus{})
	r := New(store, posts, remote, bus, &noopEvents{}, nil, Options{
		Debounce:  10 * time.Millisecond,
		PollEvery: time.Hour,
	})
	defer func() {
		r.Stop()
		bus.Close()
		store.Close()
	}()

	seedCatches(t, store, "Walleye")
	r.RecomputePending(context.Background())
	r.SetOnline(true)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s := r.Status()
		if !s.IsSyncing && s.PendingCatches == 0 && s.LastSyncTime != nil {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("debounced sync did not complete in time")
}

func TestPendingPostsArePushed(t *testing.T) {
	remote := &scriptedRemote{}
	r, _, posts := newTestReconciler(t, remote)

	posts.Add(model.SocialPost{UserID: "angler-1", Caption: "first walleye of the season"})
	posts.Add(model.SocialPost{UserID: "angler-1", Caption: "limit reached"})

	r.SetOnline(true)
	if result := r.ForceSync(context.Background()); !result.Success {
		t.Fatalf("force sync failed: %q", result.Error)
	}

	if pending := posts.Pending(); len(pending) != 0 {
		t.Errorf("expected every post pushed, %d still pending", len(pending))
	}
	if r.Status().PendingPosts != 0 {
		t.Errorf("expected 0 pending posts in status, got %d", r.Status().PendingPosts)
	}
}

func TestClearSyncData(t *testing.T) {
	remote := &scriptedRemote{}
	r, store, _ := newTestReconciler(t, remote)
	seedCatches(t, store, "Walleye")

	r.SetOnline(true)
	if result := r.ForceSync(context.Background()); !result.Success {
		t.Fatalf("force sync failed: %q", result.Error)
	}
	if r.Status().LastSyncTime == nil {
		t.Fatal("expected last sync time before clearing")
	}

	if err := r.ClearSyncData(context.Background()); err != nil {
		t.Fatalf("ClearSyncData failed: %v", err)
	}
	if r.Status().LastSyncTime != nil {
		t.Error("expected last sync time cleared")
	}
	if got, _ := store.LoadLastSyncTime(context.Background()); got != nil {
		t.Error("expected persisted last sync time cleared")
	}
}

func TestStartRestoresPersistedLastSync(t *testing.T) {
	store := storage.NewMemory()
	defer store.Close()

	persisted := time.Date(2026, 8, 20, 6, 30, 0, 0, time.UTC)
	if err := store.SaveLastSyncTime(context.Background(), persisted); err != nil {
		t.Fatalf("SaveLastSyncTime failed: %v", err)
	}

	bus := status.NewBroadcaster(model.SyncStatus{})
	defer bus.Close()
	r := New(store, NewPostQueue(), &scriptedRemote{}, bus, &noopEvents{}, nil, Options{
		Debounce:  time.Hour,
		PollEvery: time.Hour,
	})
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer r.Stop()

	s := r.Status()
	if s.LastSyncTime == nil || !s.LastSyncTime.Equal(persisted) {
		t.Fatalf("expected restored last sync time %v, got %v", persisted, s.LastSyncTime)
	}
}
