package storage

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/fishnetapp/fishnet-vault-go/internal/model"
)

// brokenStore fails every operation, standing in for a durable backend
// that dropped its connection mid-session.
type brokenStore struct{}

var errBroken = errors.New("connection refused")

func (b *brokenStore) AddCatch(ctx context.Context, rec model.CatchRecord) (int64, error) {
	return 0, errBroken
}
func (b *brokenStore) GetCatch(ctx context.Context, id int64) (model.CatchRecord, error) {
	return model.CatchRecord{}, errBroken
}
func (b *brokenStore) GetAllCatches(ctx context.Context) ([]model.CatchRecord, error) {
	return nil, errBroken
}
func (b *brokenStore) GetCatchesBySpecies(ctx context.Context, species string) ([]model.CatchRecord, error) {
	return nil, errBroken
}
func (b *brokenStore) GetUnsyncedCatches(ctx context.Context) ([]model.CatchRecord, error) {
	return nil, errBroken
}
func (b *brokenStore) MarkAsSynced(ctx context.Context, id int64) error   { return errBroken }
func (b *brokenStore) DeleteCatch(ctx context.Context, id int64) error    { return errBroken }
func (b *brokenStore) StoreImage(ctx context.Context, key string, data []byte) error {
	return errBroken
}
func (b *brokenStore) GetImage(ctx context.Context, key string) ([]byte, error) {
	return nil, errBroken
}
func (b *brokenStore) DeleteImage(ctx context.Context, key string) error { return errBroken }
func (b *brokenStore) Stats(ctx context.Context) (model.Stats, error) {
	return model.Stats{}, errBroken
}
func (b *brokenStore) LoadLastSyncTime(ctx context.Context) (*time.Time, error) {
	return nil, errBroken
}
func (b *brokenStore) SaveLastSyncTime(ctx context.Context, t time.Time) error { return errBroken }
func (b *brokenStore) Close()                                                  {}

func TestOpenWithoutDSNUsesMemory(t *testing.T) {
	s := Open("")
	defer s.Close()

	id, err := s.AddCatch(context.Background(), model.CatchRecord{
		Species:   "Walleye",
		Count:     1,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("AddCatch failed: %v", err)
	}
	if id == 0 {
		t.Fatal("expected a non-zero id")
	}
}

func TestFallbackDegradesAndStaysPinned(t *testing.T) {
	f := &fallback{durable: &brokenStore{}, mem: NewMemory().(*memory)}
	ctx := context.Background()

	// The first durable failure degrades the call to memory and succeeds.
	id, err := f.AddCatch(ctx, model.CatchRecord{
		Species:   "Walleye",
		Count:     1,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("AddCatch should degrade to memory, got error: %v", err)
	}

	if !f.degraded.Load() {
		t.Fatal("expected the wrapper pinned to memory after a durable failure")
	}

	// Subsequent reads come from memory and see the degraded write.
	recs, err := f.GetAllCatches(ctx)
	if err != nil {
		t.Fatalf("GetAllCatches failed: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != id {
		t.Fatalf("expected the degraded record visible from memory, got %v", recs)
	}
}

func TestFallbackNotFoundDoesNotDegrade(t *testing.T) {
	f := &fallback{mem: NewMemory().(*memory)}
	ctx := context.Background()

	if _, err := f.GetCatch(ctx, 42); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if f.degraded.Load() {
		t.Error("a not-found result must not degrade the wrapper")
	}
}

func TestAddCatchRewritesInlineImage(t *testing.T) {
	f := &fallback{mem: NewMemory().(*memory)}
	ctx := context.Background()

	payload := []byte{0xFF, 0xD8, 0xFF, 0xE0}
	dataURI := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(payload)

	id, err := f.AddCatch(ctx, model.CatchRecord{
		Species:   "Walleye",
		Count:     1,
		Timestamp: time.Now().UTC(),
		ImageRef:  dataURI,
	})
	if err != nil {
		t.Fatalf("AddCatch failed: %v", err)
	}

	rec, err := f.GetCatch(ctx, id)
	if err != nil {
		t.Fatalf("GetCatch failed: %v", err)
	}
	if rec.HasInlineImage() {
		t.Fatal("inline payload must be rewritten before the record is at rest")
	}
	if !strings.HasPrefix(rec.ImageRef, "img_") {
		t.Fatalf("expected an image-store key, got %q", rec.ImageRef)
	}

	data, err := f.GetImage(ctx, rec.ImageRef)
	if err != nil {
		t.Fatalf("GetImage failed: %v", err)
	}
	if len(data) != len(payload) {
		t.Fatalf("expected %d image bytes, got %d", len(payload), len(data))
	}
}

func TestAddCatchMalformedImageKeepsRecord(t *testing.T) {
	f := &fallback{mem: NewMemory().(*memory)}
	ctx := context.Background()

	id, err := f.AddCatch(ctx, model.CatchRecord{
		Species:   "Walleye",
		Count:     1,
		Timestamp: time.Now().UTC(),
		ImageRef:  "data:image/jpeg;base64,%%%not-base64%%%",
	})
	if err != nil {
		t.Fatalf("AddCatch must not fail on a bad image payload: %v", err)
	}

	rec, err := f.GetCatch(ctx, id)
	if err != nil {
		t.Fatalf("GetCatch failed: %v", err)
	}
	if rec.ImageRef != "" {
		t.Errorf("expected the record stored without a photo, got %q", rec.ImageRef)
	}
}

func TestNewImageKeyShape(t *testing.T) {
	key := NewImageKey()
	if !strings.HasPrefix(key, "img_") {
		t.Errorf("expected img_ prefix, got %q", key)
	}
	if key == NewImageKey() {
		t.Error("expected unique keys")
	}
}
