// internal/storage/fallback.go
// Fail-open storage selection: the vault must stay usable even where the
// durable backend is unavailable, so Open never returns an error and every
// operation that fails against the durable backend degrades that call to
// the in-memory variant for the rest of the session.
package storage

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fishnetapp/fishnet-vault-go/internal/model"
	"github.com/oklog/ulid/v2"
)

// Open selects the storage backend once at initialization.
// A non-empty DSN selects PostgreSQL wrapped in the fail-open fallback;
// an empty DSN or a failed open selects the in-memory variant outright.
// Open never fails: durable-storage problems are surfaced as warnings only.
func Open(dsn string) Store {
	if dsn == "" {
		slog.Info("no database DSN configured, using in-memory storage")
		return &fallback{mem: NewMemory().(*memory)}
	}

	durable, err := NewPostgres(dsn)
	if err != nil {
		slog.Warn("durable storage unavailable, falling back to in-memory storage", "error", err)
		return &fallback{mem: NewMemory().(*memory)}
	}

	return &fallback{durable: durable, mem: NewMemory().(*memory)}
}

// fallback wraps the durable backend with the in-memory variant.
// Once a durable operation fails the wrapper pins itself to memory:
// the memory backend's id space is independent from the durable one, so
// flip-flopping between backends mid-session could hand out colliding ids.
type fallback struct {
	durable  Store   // Nil when no durable backend was opened
	mem      *memory // Always present
	degraded atomic.Bool
}

// active returns the backend serving requests right now.
func (f *fallback) active() Store {
	if f.durable == nil || f.degraded.Load() {
		return f.mem
	}
	return f.durable
}

// degrade pins the wrapper to the in-memory variant after a durable failure.
func (f *fallback) degrade(op string, err error) {
	if f.degraded.CompareAndSwap(false, true) {
		slog.Warn("durable storage operation failed, degrading to in-memory storage", "op", op, "error", err)
	}
}

// AddCatch rewrites an inline image payload to an image-store key before
// persisting the record, then inserts it. Image decode or write failures
// never block the record itself: it persists without an image reference.
func (f *fallback) AddCatch(ctx context.Context, rec model.CatchRecord) (int64, error) {
	if rec.HasInlineImage() {
		data, err := decodeInlineImage(rec.ImageRef)
		if err != nil {
			slog.Warn("failed to decode inline image, storing catch without photo", "error", err)
			rec.ImageRef = ""
		} else {
			key := NewImageKey()
			if err := f.StoreImage(ctx, key, data); err != nil {
				slog.Warn("failed to store image, storing catch without photo", "key", key, "error", err)
				rec.ImageRef = ""
			} else {
				rec.ImageRef = key
			}
		}
	}

	id, err := f.active().AddCatch(ctx, rec)
	if err != nil && f.active() != f.mem {
		f.degrade("AddCatch", err)
		return f.mem.AddCatch(ctx, rec)
	}
	return id, err
}

func (f *fallback) GetCatch(ctx context.Context, id int64) (model.CatchRecord, error) {
	rec, err := f.active().GetCatch(ctx, id)
	if err != nil && !errors.Is(err, ErrNotFound) && f.active() != f.mem {
		f.degrade("GetCatch", err)
		return f.mem.GetCatch(ctx, id)
	}
	return rec, err
}

func (f *fallback) GetAllCatches(ctx context.Context) ([]model.CatchRecord, error) {
	recs, err := f.active().GetAllCatches(ctx)
	if err != nil && f.active() != f.mem {
		f.degrade("GetAllCatches", err)
		return f.mem.GetAllCatches(ctx)
	}
	return recs, err
}

func (f *fallback) GetCatchesBySpecies(ctx context.Context, species string) ([]model.CatchRecord, error) {
	recs, err := f.active().GetCatchesBySpecies(ctx, species)
	if err != nil && f.active() != f.mem {
		f.degrade("GetCatchesBySpecies", err)
		return f.mem.GetCatchesBySpecies(ctx, species)
	}
	return recs, err
}

func (f *fallback) GetUnsyncedCatches(ctx context.Context) ([]model.CatchRecord, error) {
	recs, err := f.active().GetUnsyncedCatches(ctx)
	if err != nil && f.active() != f.mem {
		f.degrade("GetUnsyncedCatches", err)
		return f.mem.GetUnsyncedCatches(ctx)
	}
	return recs, err
}

func (f *fallback) MarkAsSynced(ctx context.Context, id int64) error {
	err := f.active().MarkAsSynced(ctx, id)
	if err != nil && f.active() != f.mem {
		f.degrade("MarkAsSynced", err)
		return f.mem.MarkAsSynced(ctx, id)
	}
	return err
}

func (f *fallback) DeleteCatch(ctx context.Context, id int64) error {
	err := f.active().DeleteCatch(ctx, id)
	if err != nil && f.active() != f.mem {
		f.degrade("DeleteCatch", err)
		return f.mem.DeleteCatch(ctx, id)
	}
	return err
}

func (f *fallback) StoreImage(ctx context.Context, key string, data []byte) error {
	err := f.active().StoreImage(ctx, key, data)
	if err != nil && f.active() != f.mem {
		f.degrade("StoreImage", err)
		return f.mem.StoreImage(ctx, key, data)
	}
	return err
}

func (f *fallback) GetImage(ctx context.Context, key string) ([]byte, error) {
	data, err := f.active().GetImage(ctx, key)
	if err != nil && f.active() != f.mem {
		f.degrade("GetImage", err)
		return f.mem.GetImage(ctx, key)
	}
	return data, err
}

func (f *fallback) DeleteImage(ctx context.Context, key string) error {
	err := f.active().DeleteImage(ctx, key)
	if err != nil && f.active() != f.mem {
		f.degrade("DeleteImage", err)
		return f.mem.DeleteImage(ctx, key)
	}
	return err
}

func (f *fallback) Stats(ctx context.Context) (model.Stats, error) {
	stats, err := f.active().Stats(ctx)
	if err != nil && f.active() != f.mem {
		f.degrade("Stats", err)
		return f.mem.Stats(ctx)
	}
	return stats, err
}

func (f *fallback) LoadLastSyncTime(ctx context.Context) (*time.Time, error) {
	t, err := f.active().LoadLastSyncTime(ctx)
	if err != nil && f.active() != f.mem {
		f.degrade("LoadLastSyncTime", err)
		return f.mem.LoadLastSyncTime(ctx)
	}
	return t, err
}

func (f *fallback) SaveLastSyncTime(ctx context.Context, t time.Time) error {
	err := f.active().SaveLastSyncTime(ctx, t)
	if err != nil && f.active() != f.mem {
		f.degrade("SaveLastSyncTime", err)
		return f.mem.SaveLastSyncTime(ctx, t)
	}
	return err
}

func (f *fallback) Close() {
	if f.durable != nil {
		f.durable.Close()
	}
}

// NewImageKey generates a fresh opaque image-store key.
// ULIDs are time-ordered, which keeps the images table roughly in
// insertion order without exposing anything about the payload.
func NewImageKey() string {
	return "img_" + ulid.Make().String()
}

// decodeInlineImage extracts the binary payload from a base64 data URI.
func decodeInlineImage(dataURI string) ([]byte, error) {
	_, b64, found := strings.Cut(dataURI, ";base64,")
	if !found {
		// Data URIs without the base64 marker carry percent-encoded text,
		// which the camera capture path never produces.
		return nil, base64.CorruptInputError(0)
	}
	return base64.StdEncoding.DecodeString(b64)
}
