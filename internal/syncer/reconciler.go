// internal/syncer/reconciler.go
package syncer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fishnetapp/fishnet-vault-go/internal/event"
	"github.com/fishnetapp/fishnet-vault-go/internal/media"
	"github.com/fishnetapp/fishnet-vault-go/internal/metrics"
	"github.com/fishnetapp/fishnet-vault-go/internal/model"
	"github.com/fishnetapp/fishnet-vault-go/internal/status"
	"github.com/fishnetapp/fishnet-vault-go/internal/storage"
	"github.com/robfig/cron/v3"
)

// Options tune the reconciler's timing behavior.
type Options struct {
	Debounce  time.Duration // Delay between going online and starting a cycle
	PollEvery time.Duration // Interval of the background pending-count recompute
}

// Reconciler drives the two-state sync loop: Idle while offline or between
// cycles, Syncing while a cycle pushes pending items. Connectivity is
// reported by the UI through SetOnline; the reconciler never probes the
// network itself.
type Reconciler struct {
	store    storage.Store
	posts    *PostQueue
	remote   Remote
	bus      *status.Broadcaster[model.SyncStatus]
	events   event.Publisher
	uploader *media.Uploader // nil when photo offload is not configured
	met      *metrics.Metrics
	opts     Options

	mu             sync.Mutex
	online         bool
	syncing        bool // Reported state; flips to false the moment connectivity drops
	lastSync       *time.Time
	pendingCatches int
	pendingPosts   int
	debounce       *time.Timer

	// gen is bumped on every connectivity loss; a running cycle captures
	// the generation at start and halts once it no longer matches, so a
	// quick offline/online flap cannot un-cancel it. inCycle is the
	// single-flight guard: only runCycle clears it, which keeps a
	// debounced reconnect from starting a second loop while the
	// cancelled one drains its in-flight push.
	gen     int
	inCycle bool

	cron *cron.Cron
}

// New creates a reconciler in the Idle state.
// The uploader may be nil; photo offload is then skipped entirely.
func New(store storage.Store, posts *PostQueue, remote Remote,
	bus *status.Broadcaster[model.SyncStatus], events event.Publisher,
	uploader *media.Uploader, opts Options) *Reconciler {
	if opts.Debounce <= 0 {
		opts.Debounce = 2 * time.Second
	}
	if opts.PollEvery <= 0 {
		opts.PollEvery = 5 * time.Second
	}
	return &Reconciler{
		store:    store,
		posts:    posts,
		remote:   remote,
		bus:      bus,
		events:   events,
		uploader: uploader,
		met:      metrics.NewMetrics(),
		opts:     opts,
	}
}

// Start restores the persisted last-sync time and begins the background
// pending-count recompute. Call Stop on shutdown.
func (r *Reconciler) Start(ctx context.Context) error {
	if t, err := r.store.LoadLastSyncTime(ctx); err != nil {
		slog.Warn("failed to load last sync time", "error", err)
	} else if t != nil {
		r.mu.Lock()
		r.lastSync = t
		r.mu.Unlock()
	}

	r.RecomputePending(ctx)

	r.cron = cron.New()
	if _, err := r.cron.AddFunc("@every "+r.opts.PollEvery.String(), func() {
		r.RecomputePending(context.Background())
	}); err != nil {
		return err
	}
	r.cron.Start()
	return nil
}

// Stop halts the background recompute and cancels any pending debounce.
// An in-flight cycle is never aborted; each item's push runs to completion.
func (r *Reconciler) Stop() {
	if r.cron != nil {
		r.cron.Stop()
	}
	r.mu.Lock()
	if r.debounce != nil {
		r.debounce.Stop()
		r.debounce = nil
	}
	r.mu.Unlock()
}

// snapshotLocked builds a status copy from the current fields.
// Caller must hold r.mu.
func (r *Reconciler) snapshotLocked() model.SyncStatus {
	var last *time.Time
	if r.lastSync != nil {
		t := *r.lastSync
		last = &t
	}
	return model.SyncStatus{
		IsOnline:       r.online,
		PendingCatches: r.pendingCatches,
		PendingPosts:   r.pendingPosts,
		LastSyncTime:   last,
		IsSyncing:      r.syncing,
	}
}

// publishLocked publishes the current snapshot. Caller must hold r.mu.
// The lock is released around the broadcast so subscriber callbacks may
// safely re-enter the reconciler.
func (r *Reconciler) publishLocked() {
	snapshot := r.snapshotLocked()
	r.mu.Unlock()
	r.bus.Publish(snapshot)
	r.mu.Lock()
}

// Status returns the current sync state snapshot.
func (r *Reconciler) Status() model.SyncStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// SetOnline records the connectivity state reported by the UI.
// Going online schedules a sync cycle after the debounce delay, letting
// the link settle before pushing. Going offline cancels any scheduled
// cycle and forces the state back to Idle, but never interrupts an item
// push already in flight.
func (r *Reconciler) SetOnline(online bool) {
	r.mu.Lock()

	if r.online == online {
		r.mu.Unlock()
		return
	}
	r.online = online

	if online {
		slog.Info("connectivity restored, scheduling sync", "debounce", r.opts.Debounce)
		if r.debounce != nil {
			r.debounce.Stop()
		}
		r.debounce = time.AfterFunc(r.opts.Debounce, func() {
			r.runCycle(context.Background())
		})
	} else {
		slog.Info("connectivity lost, sync idle")
		if r.debounce != nil {
			r.debounce.Stop()
			r.debounce = nil
		}
		r.gen++
		r.syncing = false
	}

	r.publishLocked()
	r.mu.Unlock()
}

// ForceSync runs a sync cycle immediately, bypassing the debounce.
// It reports failure without starting a cycle when offline or when a
// cycle is already running; existing state is untouched in both cases.
func (r *Reconciler) ForceSync(ctx context.Context) model.SyncResult {
	r.mu.Lock()
	if !r.online {
		r.mu.Unlock()
		return model.SyncResult{Success: false, Error: "cannot sync while offline"}
	}
	if r.inCycle {
		r.mu.Unlock()
		return model.SyncResult{Success: false, Error: "sync already in progress"}
	}
	r.mu.Unlock()

	if !r.runCycle(ctx) {
		return model.SyncResult{Success: false, Error: "sync already in progress"}
	}
	return model.SyncResult{Success: true}
}

// runCycle transitions Idle -> Syncing -> Idle around syncAll.
// Returns false if another cycle was already running or the device went
// offline before the cycle could start.
func (r *Reconciler) runCycle(ctx context.Context) bool {
	r.mu.Lock()
	if r.inCycle || !r.online {
		r.mu.Unlock()
		return false
	}
	r.inCycle = true
	r.syncing = true
	gen := r.gen
	r.publishLocked()
	r.mu.Unlock()

	start := time.Now()
	aborted := r.syncAll(ctx, gen)
	r.met.SyncCycleSeconds.Observe(time.Since(start).Seconds())
	if aborted {
		r.met.SyncCycleTotal.WithLabelValues("aborted").Inc()
	} else {
		r.met.SyncCycleTotal.WithLabelValues("completed").Inc()
	}

	r.mu.Lock()
	if !aborted {
		now := time.Now().UTC()
		r.lastSync = &now
		if err := r.store.SaveLastSyncTime(ctx, now); err != nil {
			slog.Warn("failed to persist last sync time", "error", err)
		}
	}
	r.syncing = false
	r.inCycle = false
	r.mu.Unlock()

	r.RecomputePending(ctx)

	if !aborted {
		if err := r.events.PublishSyncCompleted(ctx, r.Status()); err != nil {
			slog.Warn("failed to publish sync completion event", "error", err)
		}
	}
	return true
}

// syncAll pushes every pending catch and post, best-effort. A failed item
// is logged and skipped; it stays pending for the next cycle. Returns true
// if the cycle was aborted because connectivity dropped mid-cycle. The
// abort is sticky: once the generation moves on, a reconnect does not
// resume this loop.
func (r *Reconciler) syncAll(ctx context.Context, gen int) (aborted bool) {
	catches, err := r.store.GetUnsyncedCatches(ctx)
	if err != nil {
		slog.Error("failed to load unsynced catches", "error", err)
		catches = nil
	}

	for _, rec := range catches {
		if r.cancelled(gen) {
			slog.Info("connectivity lost mid-cycle, stopping")
			return true
		}
		if err := r.remote.PushCatch(ctx, rec); err != nil {
			slog.Warn("catch push failed, will retry next cycle",
				"id", rec.ID, "species", rec.Species, "error", err)
			r.met.SyncPushTotal.WithLabelValues("catch", "failed").Inc()
			continue
		}
		if err := r.store.MarkAsSynced(ctx, rec.ID); err != nil {
			slog.Error("failed to mark catch as synced", "id", rec.ID, "error", err)
			continue
		}
		r.met.SyncPushTotal.WithLabelValues("catch", "ok").Inc()
		slog.Info("catch synced", "id", rec.ID, "species", rec.Species)

		r.offloadPhoto(ctx, rec)

		if err := r.events.PublishCatchSynced(ctx, rec); err != nil {
			slog.Warn("failed to publish catch synced event", "id", rec.ID, "error", err)
		}
	}

	for _, post := range r.posts.Pending() {
		if r.cancelled(gen) {
			slog.Info("connectivity lost mid-cycle, stopping")
			return true
		}
		if err := r.remote.PushPost(ctx, post); err != nil {
			slog.Warn("post push failed, will retry next cycle",
				"id", post.ID, "error", err)
			r.met.SyncPushTotal.WithLabelValues("post", "failed").Inc()
			continue
		}
		r.posts.MarkPushed(post.ID)
		r.met.SyncPushTotal.WithLabelValues("post", "ok").Inc()
		slog.Info("post synced", "id", post.ID)
	}

	return false
}

// offloadPhoto copies a synced catch's photo blob to the remote bucket.
// Offload failures are logged only; the record stays synced and the blob
// stays local, so nothing is lost.
func (r *Reconciler) offloadPhoto(ctx context.Context, rec model.CatchRecord) {
	if r.uploader == nil || rec.ImageRef == "" || rec.HasInlineImage() {
		return
	}
	data, err := r.store.GetImage(ctx, rec.ImageRef)
	if err != nil || data == nil {
		return
	}
	if err := r.uploader.PutPhoto(ctx, rec.ImageRef, data, ""); err != nil {
		slog.Warn("photo offload failed", "key", rec.ImageRef, "error", err)
	}
}

// cancelled reports whether connectivity was lost since the cycle holding
// gen started. Every loss bumps the generation, so the check stays true
// even after connectivity returns.
func (r *Reconciler) cancelled(gen int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gen != gen
}

// RecomputePending refreshes the pending counters from the store and the
// post queue, publishing a snapshot only when a counter changed. Runs on
// the background schedule and after every cycle.
func (r *Reconciler) RecomputePending(ctx context.Context) {
	stats, err := r.store.Stats(ctx)
	if err != nil {
		slog.Warn("failed to recompute pending counts", "error", err)
		return
	}
	pendingPosts := len(r.posts.Pending())

	r.met.PendingItems.WithLabelValues("catch").Set(float64(stats.UnsyncedCount))
	r.met.PendingItems.WithLabelValues("post").Set(float64(pendingPosts))

	r.mu.Lock()
	changed := r.pendingCatches != stats.UnsyncedCount || r.pendingPosts != pendingPosts
	r.pendingCatches = stats.UnsyncedCount
	r.pendingPosts = pendingPosts
	if changed {
		r.publishLocked()
	}
	r.mu.Unlock()
}

// ClearSyncData wipes the persisted last-sync time and resets the
// in-memory snapshot. Pending records themselves are untouched.
func (r *Reconciler) ClearSyncData(ctx context.Context) error {
	if err := r.store.SaveLastSyncTime(ctx, time.Time{}); err != nil {
		return err
	}
	r.mu.Lock()
	r.lastSync = nil
	r.publishLocked()
	r.mu.Unlock()
	return nil
}
