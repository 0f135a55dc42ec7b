package conformance

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/fishnetapp/fishnet-vault-go/internal/model"
)

// TestOfflineFirstLifecycle drives the whole stack through the offline
// capture, reconnect, and sync flow over the public API.
func TestOfflineFirstLifecycle(t *testing.T) {
	h, err := NewHarness(Config{FailureRate: 0})
	if err != nil {
		t.Fatalf("failed to create harness: %v", err)
	}
	defer h.Close()

	t.Run("HealthEndpoints", func(t *testing.T) {
		for _, path := range []string{"/healthz", "/readyz"} {
			resp, err := http.Get(h.URL() + path)
			if err != nil {
				t.Fatalf("failed to GET %s: %v", path, err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Errorf("expected status 200 for %s, got %d", path, resp.StatusCode)
			}
		}
	})

	t.Run("OfflineCapture", func(t *testing.T) {
		for _, species := range []string{"Walleye", "Northern Pike", "Walleye"} {
			var data model.CreateCatchData
			resp := h.postJSON(t, "/v1/catches", map[string]interface{}{
				"species": species,
				"count":   1,
			}, &data)
			if resp.StatusCode != http.StatusCreated {
				t.Fatalf("expected status 201, got %d", resp.StatusCode)
			}
			if data.ID == 0 {
				t.Error("expected an assigned catch id")
			}
		}

		s := h.syncStatus(t)
		if s.IsOnline {
			t.Error("expected offline initial state")
		}
		if s.PendingCatches != 3 {
			t.Errorf("expected 3 pending catches, got %d", s.PendingCatches)
		}
		if s.LastSyncTime != nil {
			t.Error("expected no last sync time before first sync")
		}
	})

	t.Run("ForceSyncRejectedOffline", func(t *testing.T) {
		resp, err := http.Post(h.URL()+"/v1/sync/force", "application/json", nil)
		if err != nil {
			t.Fatalf("failed to POST /v1/sync/force: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusConflict {
			t.Errorf("expected status 409 for offline force sync, got %d", resp.StatusCode)
		}

		var envelope struct {
			Error struct {
				Code string `json:"code"`
			} `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
			t.Fatalf("failed to decode error: %v", err)
		}
		if envelope.Error.Code != "FN_SYNC_OFFLINE" {
			t.Errorf("expected FN_SYNC_OFFLINE, got %s", envelope.Error.Code)
		}
	})

	t.Run("ReconnectAndSync", func(t *testing.T) {
		var s model.SyncStatus
		h.postJSON(t, "/v1/sync/online", map[string]bool{"online": true}, &s)
		if !s.IsOnline {
			t.Fatal("expected online after transition")
		}

		settled := h.waitForIdle(t, 0, 5*time.Second)
		if settled.LastSyncTime == nil {
			t.Error("expected last sync time after a completed cycle")
		}
	})

	t.Run("SpeciesFilter", func(t *testing.T) {
		resp, err := http.Get(h.URL() + "/v1/catches?species=Walleye")
		if err != nil {
			t.Fatalf("failed to GET /v1/catches: %v", err)
		}
		defer resp.Body.Close()

		var envelope struct {
			Data []model.CatchRecord `json:"data"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
			t.Fatalf("failed to decode catches: %v", err)
		}
		if len(envelope.Data) != 2 {
			t.Fatalf("expected 2 Walleye catches, got %d", len(envelope.Data))
		}
		for _, rec := range envelope.Data {
			if !rec.IsSynced {
				t.Errorf("expected catch %d to be synced", rec.ID)
			}
		}
	})

	t.Run("ClearSyncData", func(t *testing.T) {
		var s model.SyncStatus
		resp := h.postJSON(t, "/v1/sync/clear", nil, &s)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected status 200, got %d", resp.StatusCode)
		}
		if s.LastSyncTime != nil {
			t.Error("expected last sync time cleared")
		}
	})
}

// TestSyncWatchStream verifies the SSE stream replays the current
// snapshot to a new subscriber.
func TestSyncWatchStream(t *testing.T) {
	h, err := NewHarness(Config{FailureRate: 0})
	if err != nil {
		t.Fatalf("failed to create harness: %v", err)
	}
	defer h.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, h.URL()+"/v1/sync/watch", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("failed to open watch stream: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected text/event-stream, got %q", ct)
	}

	// The initial snapshot is replayed immediately on subscribe.
	buf := make([]byte, 4096)
	n, err := resp.Body.Read(buf)
	if err != nil {
		t.Fatalf("failed to read stream: %v", err)
	}
	if n == 0 {
		t.Fatal("expected an initial snapshot event")
	}
	payload := string(buf[:n])
	if len(payload) < len("data: ") || payload[:6] != "data: " {
		t.Fatalf("expected SSE data frame, got %q", payload)
	}
}
