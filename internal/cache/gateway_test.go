package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// newShellUpstream serves every path with a small body echoing the path,
// standing in for the asset origin.
func newShellUpstream() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusAccepted)
			fmt.Fprintf(w, "method=%s", r.Method)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprintf(w, "body:%s", r.URL.Path)
	}))
}

func newTestGateway(t *testing.T, upstream string, buckets BucketStore) *Gateway {
	t.Helper()
	gw, err := NewGateway(upstream, buckets, Options{
		Version:     "v1",
		ShellAssets: []string{"/index.html", "/placeholder.svg", "/models/species.json"},
		ShellEntry:  "/index.html",
		Placeholder: "/placeholder.svg",
	})
	if err != nil {
		t.Fatalf("NewGateway failed: %v", err)
	}
	return gw
}

func installAndActivate(t *testing.T, gw *Gateway) {
	t.Helper()
	ctx := context.Background()
	if err := gw.Install(ctx); err != nil {
		t.Fatalf("Install failed: %v", err)
	}
	if err := gw.Activate(ctx); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
}

func TestInstallFailsOnMissingAsset(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/models/species.json" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprint(w, "ok")
	}))
	defer upstream.Close()

	gw := newTestGateway(t, upstream.URL, NewMemoryBuckets())
	if err := gw.Install(context.Background()); err == nil {
		t.Fatal("expected Install to fail when a shell asset is missing")
	}
	if gw.Active() {
		t.Error("a failed install must not activate")
	}
}

func TestActivatePurgesStaleBuckets(t *testing.T) {
	buckets := NewMemoryBuckets()
	ctx := context.Background()

	// Leftovers from a previous version and an unrelated writer
	stale := CachedResponse{StatusCode: 200, Body: []byte("stale"), StoredAt: time.Now()}
	_ = buckets.Put(ctx, "fishnet-static-v0", "http://x/a", stale)
	_ = buckets.Put(ctx, "some-other-cache", "http://x/b", stale)

	upstream := newShellUpstream()
	defer upstream.Close()

	gw := newTestGateway(t, upstream.URL, buckets)
	installAndActivate(t, gw)

	names, err := buckets.Buckets(ctx)
	if err != nil {
		t.Fatalf("Buckets failed: %v", err)
	}
	for _, name := range names {
		if name == "fishnet-static-v0" || name == "some-other-cache" {
			t.Errorf("expected stale bucket %s purged at activation", name)
		}
	}
	if !gw.Active() {
		t.Error("expected gateway active after Activate")
	}
}

func TestNetworkFirstFallsBackToCachedCopy(t *testing.T) {
	upstream := newShellUpstream()
	gw := newTestGateway(t, upstream.URL, NewMemoryBuckets())
	installAndActivate(t, gw)

	// Warm the dynamic bucket while the origin is reachable.
	rr := httptest.NewRecorder()
	gw.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/catches", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 from upstream, got %d", rr.Code)
	}

	upstream.Close()

	rr = httptest.NewRecorder()
	gw.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/catches", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected cached copy after origin loss, got %d", rr.Code)
	}
	if body := rr.Body.String(); body != "body:/api/catches" {
		t.Errorf("expected cached body, got %q", body)
	}
}

func TestCacheFirstServesShellAssetOffline(t *testing.T) {
	upstream := newShellUpstream()
	gw := newTestGateway(t, upstream.URL, NewMemoryBuckets())
	installAndActivate(t, gw)
	upstream.Close()

	rr := httptest.NewRecorder()
	gw.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/models/species.json", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected installed asset served offline, got %d", rr.Code)
	}
	if body := rr.Body.String(); body != "body:/models/species.json" {
		t.Errorf("expected installed asset body, got %q", body)
	}
}

func TestNavigationFallsBackToShellEntry(t *testing.T) {
	upstream := newShellUpstream()
	gw := newTestGateway(t, upstream.URL, NewMemoryBuckets())
	installAndActivate(t, gw)
	upstream.Close()

	req := httptest.NewRequest(http.MethodGet, "/trips/42", nil)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	rr := httptest.NewRecorder()
	gw.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected shell fallback, got %d", rr.Code)
	}
	if body := rr.Body.String(); body != "body:/index.html" {
		t.Errorf("expected shell entry body, got %q", body)
	}
}

func TestImageRequestFallsBackToPlaceholder(t *testing.T) {
	upstream := newShellUpstream()
	gw := newTestGateway(t, upstream.URL, NewMemoryBuckets())
	installAndActivate(t, gw)
	upstream.Close()

	req := httptest.NewRequest(http.MethodGet, "/photos/walleye-uncached.png", nil)
	req.Header.Set("Accept", "image/avif,image/webp")

	rr := httptest.NewRecorder()
	gw.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected placeholder fallback, got %d", rr.Code)
	}
	if body := rr.Body.String(); body != "body:/placeholder.svg" {
		t.Errorf("expected placeholder body, got %q", body)
	}
}

func TestOfflineFallbackSynthesizesErrorPayload(t *testing.T) {
	upstream := newShellUpstream()
	gw := newTestGateway(t, upstream.URL, NewMemoryBuckets())
	installAndActivate(t, gw)
	upstream.Close()

	// Not cached, not a navigation, not an image: the terminal fallback.
	rr := httptest.NewRecorder()
	gw.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/uncached", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	var payload struct {
		Error     string `json:"error"`
		Message   string `json:"message"`
		Timestamp string `json:"timestamp"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&payload); err != nil {
		t.Fatalf("failed to decode offline payload: %v", err)
	}
	if payload.Error != "Offline" {
		t.Errorf("expected error=Offline, got %q", payload.Error)
	}
	if payload.Message == "" || payload.Timestamp == "" {
		t.Error("expected message and timestamp in the offline payload")
	}
}

func TestNonGETPassesThrough(t *testing.T) {
	upstream := newShellUpstream()
	defer upstream.Close()

	gw := newTestGateway(t, upstream.URL, NewMemoryBuckets())
	installAndActivate(t, gw)

	rr := httptest.NewRecorder()
	gw.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/catches", strings.NewReader("{}")))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected proxied POST status, got %d", rr.Code)
	}
	if body := rr.Body.String(); body != "method=POST" {
		t.Errorf("expected proxied body, got %q", body)
	}
}

func TestServesUncachedUntilActivated(t *testing.T) {
	upstream := newShellUpstream()
	defer upstream.Close()

	buckets := NewMemoryBuckets()
	gw := newTestGateway(t, upstream.URL, buckets)
	if err := gw.Install(context.Background()); err != nil {
		t.Fatalf("Install failed: %v", err)
	}

	// Installed but not activated: requests are proxied, not cached.
	rr := httptest.NewRecorder()
	gw.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/catches", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected proxied response before activation, got %d", rr.Code)
	}
	if body := rr.Body.String(); body != "body:/api/catches" {
		t.Errorf("expected upstream body, got %q", body)
	}

	cached, err := buckets.Get(context.Background(), gw.dynamicBucket(), gw.cacheKey("/api/catches"))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if cached != nil {
		t.Error("expected nothing cached before activation")
	}
}

func TestOnlySuccessfulResponsesAreCached(t *testing.T) {
	fail := false
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, "ok")
	}))

	gw := newTestGateway(t, upstream.URL, NewMemoryBuckets())
	installAndActivate(t, gw)

	// A 500 must not enter the cache...
	fail = true
	rr := httptest.NewRecorder()
	gw.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/data", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected upstream 500 passed through, got %d", rr.Code)
	}

	// ...so after the origin is gone there is nothing to fall back to.
	upstream.Close()
	rr = httptest.NewRecorder()
	gw.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/data", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 offline payload, got %d", rr.Code)
	}
}
