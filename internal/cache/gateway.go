// internal/cache/gateway.go
// Gateway fronts the asset origin and remote API, applying per-request
// caching strategies so the application shell keeps working offline.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fishnetapp/fishnet-vault-go/internal/metrics"
)

// Default routing pattern sets, matching the shell's known traffic shape.
var (
	defaultNetworkFirst = []string{"/api/", "https://api."}
	defaultCacheFirst   = []string{
		".js", ".css", ".woff2", ".woff", ".ttf",
		".png", ".jpg", ".jpeg", ".svg", ".webp",
		"/models/",
	}
)

// Options configures a Gateway.
type Options struct {
	Version      string       // Version tag baked into bucket names
	ShellAssets  []string     // Paths pre-populated into the static bucket at install
	ShellEntry   string       // Cached entry point served to offline navigations
	Placeholder  string       // Cached placeholder served to offline image requests
	NetworkFirst []string     // URL substrings routed network-first (defaults applied if nil)
	CacheFirst   []string     // URL substrings routed cache-first (defaults applied if nil)
	Client       *http.Client // Upstream HTTP client (defaults applied if nil)
}

// Gateway classifies GET requests into caching strategies backed by
// named, versioned buckets. Lifecycle per version: Install pre-populates
// the static bucket (and must succeed before Activate), Activate purges
// buckets from other versions and starts serving.
type Gateway struct {
	upstream    *url.URL
	client      *http.Client
	buckets     BucketStore
	version     string
	shellAssets []string
	shellEntry  string
	placeholder string
	netFirst    []string
	cacheFirst  []string
	metrics     *metrics.Metrics
	active      atomic.Bool
}

// NewGateway creates a gateway fronting the given upstream origin.
func NewGateway(upstream string, buckets BucketStore, opts Options) (*Gateway, error) {
	u, err := url.Parse(upstream)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("upstream URL must be http or https, got %q", upstream)
	}

	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	netFirst := opts.NetworkFirst
	if netFirst == nil {
		netFirst = defaultNetworkFirst
	}
	cacheFirst := opts.CacheFirst
	if cacheFirst == nil {
		cacheFirst = defaultCacheFirst
	}

	return &Gateway{
		upstream:    u,
		client:      client,
		buckets:     buckets,
		version:     opts.Version,
		shellAssets: opts.ShellAssets,
		shellEntry:  opts.ShellEntry,
		placeholder: opts.Placeholder,
		netFirst:    netFirst,
		cacheFirst:  cacheFirst,
		metrics:     metrics.NewMetrics(),
	}, nil
}

// Bucket names for the current version. The version bucket itself holds
// no entries; its name is the version tag reported over the command
// channel and spared by Activate.
func (g *Gateway) versionBucket() string { return "fishnet-" + g.version }
func (g *Gateway) staticBucket() string  { return "fishnet-static-" + g.version }
func (g *Gateway) dynamicBucket() string { return "fishnet-dynamic-" + g.version }

// Version reports the current version tag.
func (g *Gateway) Version() string { return g.versionBucket() }

// Install pre-populates the static bucket with the shell asset manifest.
// It fails on the first asset that cannot be fetched, so a partially
// cached shell is never activated.
func (g *Gateway) Install(ctx context.Context) error {
	for _, asset := range g.shellAssets {
		resp, err := g.fetchUpstream(ctx, asset, nil)
		if err != nil {
			return fmt.Errorf("install: fetch %s: %w", asset, err)
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("install: fetch %s: status %d", asset, resp.StatusCode)
		}
		if err := g.buckets.Put(ctx, g.staticBucket(), g.cacheKey(asset), *resp); err != nil {
			return fmt.Errorf("install: cache %s: %w", asset, err)
		}
	}
	slog.Info("shell assets cached", "count", len(g.shellAssets), "bucket", g.staticBucket())
	return nil
}

// Activate deletes every bucket whose name does not belong to the current
// version, then starts serving requests.
func (g *Gateway) Activate(ctx context.Context) error {
	expected := map[string]bool{
		g.versionBucket(): true,
		g.staticBucket():  true,
		g.dynamicBucket(): true,
	}

	names, err := g.buckets.Buckets(ctx)
	if err != nil {
		return fmt.Errorf("activate: list buckets: %w", err)
	}
	for _, name := range names {
		if !expected[name] {
			slog.Info("deleting stale cache bucket", "bucket", name)
			if err := g.buckets.DeleteBucket(ctx, name); err != nil {
				return fmt.Errorf("activate: delete bucket %s: %w", name, err)
			}
		}
	}

	g.active.Store(true)
	slog.Info("cache gateway activated", "version", g.versionBucket())
	return nil
}

// Active reports whether Activate has completed for this version.
func (g *Gateway) Active() bool { return g.active.Load() }

// ClearAll deletes every bucket, including the current version's.
func (g *Gateway) ClearAll(ctx context.Context) error {
	names, err := g.buckets.Buckets(ctx)
	if err != nil {
		return fmt.Errorf("clear: list buckets: %w", err)
	}
	for _, name := range names {
		if err := g.buckets.DeleteBucket(ctx, name); err != nil {
			return fmt.Errorf("clear: delete bucket %s: %w", name, err)
		}
	}
	return nil
}

// cacheKey canonicalizes a request path into the bucket key.
func (g *Gateway) cacheKey(pathAndQuery string) string {
	ref, err := url.Parse(pathAndQuery)
	if err != nil {
		return pathAndQuery
	}
	return g.upstream.ResolveReference(ref).String()
}

// ServeHTTP routes one request through the strategy table.
// Only GET requests on an activated version participate in caching;
// non-GET requests, and every request until Activate completes, are
// proxied untouched. A failed install therefore leaves the gateway a
// plain pass-through proxy rather than serving with un-purged buckets.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !g.active.Load() || r.Method != http.MethodGet {
		g.passThrough(w, r)
		return
	}

	pathAndQuery := r.URL.RequestURI()
	key := g.cacheKey(pathAndQuery)

	var resp *CachedResponse
	var err error
	var strategy string
	switch {
	case matchesAny(key, g.netFirst):
		strategy = "network_first"
		resp, err = g.networkFirst(r, pathAndQuery, key)
	case matchesAny(key, g.cacheFirst):
		strategy = "cache_first"
		resp, err = g.cacheFirstFetch(r, pathAndQuery, key)
	case isNavigation(r):
		strategy = "navigation"
		resp, err = g.navigation(r, pathAndQuery)
	default:
		strategy = "default"
		resp, err = g.networkFirst(r, pathAndQuery, key)
	}

	if err != nil {
		g.metrics.CacheRequestTotal.WithLabelValues(strategy, "fallback").Inc()
		g.offlineFallback(w, r, key)
		return
	}

	g.metrics.CacheRequestTotal.WithLabelValues(strategy, "ok").Inc()
	writeCached(w, resp)
}

// matchesAny reports whether the URL contains any of the patterns.
func matchesAny(href string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(href, p) {
			return true
		}
	}
	return false
}

// isNavigation detects an HTML page navigation request.
func isNavigation(r *http.Request) bool {
	if r.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

// isImageRequest detects a request destined for an image element.
func isImageRequest(r *http.Request) bool {
	if r.Header.Get("Sec-Fetch-Dest") == "image" {
		return true
	}
	return strings.HasPrefix(r.Header.Get("Accept"), "image/")
}

// fetchUpstream performs the actual network fetch for a path.
// headers may be nil; a non-nil header set is forwarded as-is.
func (g *Gateway) fetchUpstream(ctx context.Context, pathAndQuery string, headers http.Header) (*CachedResponse, error) {
	ref, err := url.Parse(pathAndQuery)
	if err != nil {
		return nil, fmt.Errorf("parse path: %w", err)
	}
	target := g.upstream.ResolveReference(ref).String()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return &CachedResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
		StoredAt:   time.Now().UTC(),
	}, nil
}

// cacheOK opportunistically stores a successful response in the dynamic
// bucket. Cache write failures are logged, never surfaced.
func (g *Gateway) cacheOK(ctx context.Context, key string, resp *CachedResponse) {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return
	}
	if err := g.buckets.Put(ctx, g.dynamicBucket(), key, *resp); err != nil {
		slog.Warn("failed to cache response", "key", key, "error", err)
	}
}

// match searches the dynamic bucket first, then the static bucket.
func (g *Gateway) match(ctx context.Context, key string) *CachedResponse {
	for _, bucket := range []string{g.dynamicBucket(), g.staticBucket()} {
		resp, err := g.buckets.Get(ctx, bucket, key)
		if err != nil {
			slog.Warn("cache lookup failed", "bucket", bucket, "key", key, "error", err)
			continue
		}
		if resp != nil {
			return resp
		}
	}
	return nil
}

// networkFirst tries the network, caches successes, and falls back to the
// best cached copy on network failure.
func (g *Gateway) networkFirst(r *http.Request, pathAndQuery, key string) (*CachedResponse, error) {
	resp, err := g.fetchUpstream(r.Context(), pathAndQuery, r.Header)
	if err == nil {
		g.cacheOK(r.Context(), key, resp)
		return resp, nil
	}

	if cached := g.match(r.Context(), key); cached != nil {
		g.metrics.CacheHitTotal.WithLabelValues("network_first").Inc()
		return cached, nil
	}
	return nil, err
}

// cacheFirstFetch serves a cached copy immediately and refreshes it in
// the background (stale-while-revalidate); a miss fetches and caches.
func (g *Gateway) cacheFirstFetch(r *http.Request, pathAndQuery, key string) (*CachedResponse, error) {
	if cached := g.match(r.Context(), key); cached != nil {
		g.metrics.CacheHitTotal.WithLabelValues("cache_first").Inc()
		go g.revalidate(pathAndQuery, key)
		return cached, nil
	}

	resp, err := g.fetchUpstream(r.Context(), pathAndQuery, r.Header)
	if err != nil {
		return nil, err
	}
	g.cacheOK(r.Context(), key, resp)
	return resp, nil
}

// revalidate refreshes a cached entry in the background.
// Runs detached from the request context, which is gone by the time this
// executes; a failed refresh leaves the stale copy in place.
func (g *Gateway) revalidate(pathAndQuery, key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resp, err := g.fetchUpstream(ctx, pathAndQuery, nil)
	if err != nil {
		return
	}
	g.cacheOK(ctx, key, resp)
}

// navigation tries the network and falls back to the cached shell entry
// point so client-side routing keeps working offline.
func (g *Gateway) navigation(r *http.Request, pathAndQuery string) (*CachedResponse, error) {
	resp, err := g.fetchUpstream(r.Context(), pathAndQuery, r.Header)
	if err == nil {
		return resp, nil
	}

	if shell := g.match(r.Context(), g.cacheKey(g.shellEntry)); shell != nil {
		g.metrics.CacheHitTotal.WithLabelValues("navigation").Inc()
		return shell, nil
	}
	return nil, err
}

// offlineFallback is the terminal fallback chain: exact cached response,
// then the shell entry for navigations, then the placeholder for image
// destinations, then a synthesized offline error payload.
func (g *Gateway) offlineFallback(w http.ResponseWriter, r *http.Request, key string) {
	if cached := g.match(r.Context(), key); cached != nil {
		writeCached(w, cached)
		return
	}

	if isNavigation(r) {
		if shell := g.match(r.Context(), g.cacheKey(g.shellEntry)); shell != nil {
			writeCached(w, shell)
			return
		}
	}

	if isImageRequest(r) {
		if placeholder := g.match(r.Context(), g.cacheKey(g.placeholder)); placeholder != nil {
			writeCached(w, placeholder)
			return
		}
	}

	g.metrics.CacheFallbackTotal.Inc()
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusServiceUnavailable)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error":     "Offline",
		"message":   "This resource is not available offline",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// passThrough proxies a request to the upstream untouched.
func (g *Gateway) passThrough(w http.ResponseWriter, r *http.Request) {
	ref, err := url.Parse(r.URL.RequestURI())
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	target := g.upstream.ResolveReference(ref).String()

	req, err := http.NewRequestWithContext(r.Context(), r.Method, target, r.Body)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	req.Header = r.Header.Clone()

	resp, err := g.client.Do(req)
	if err != nil {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

// writeCached writes a cached (or just-fetched) response to the client.
func writeCached(w http.ResponseWriter, resp *CachedResponse) {
	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(resp.Body)
}
