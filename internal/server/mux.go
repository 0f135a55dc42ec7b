// internal/server/mux.go
// Package server implements the HTTP handlers and routing for the vault
// service: catch logging and retrieval, the sync control surface, the
// cache command channel, and the offline-capable asset gateway.
package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fishnetapp/fishnet-vault-go/internal/cache"
	"github.com/fishnetapp/fishnet-vault-go/internal/classify"
	errordefs "github.com/fishnetapp/fishnet-vault-go/internal/errors"
	"github.com/fishnetapp/fishnet-vault-go/internal/jwks"
	"github.com/fishnetapp/fishnet-vault-go/internal/metrics"
	"github.com/fishnetapp/fishnet-vault-go/internal/model"
	"github.com/fishnetapp/fishnet-vault-go/internal/schema"
	"github.com/fishnetapp/fishnet-vault-go/internal/status"
	"github.com/fishnetapp/fishnet-vault-go/internal/storage"
	"github.com/fishnetapp/fishnet-vault-go/internal/syncer"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ContextKey is used for context values to avoid collisions
// when storing values in request context
type ContextKey string

const (
	// Context keys for storing request-scoped values
	ContextKeyUserID        ContextKey = "userId"        // Stores the subject from JWT
	ContextKeyCorrelationID ContextKey = "correlationId" // Unique ID for request tracking
)

// Options carries the wired dependencies for the HTTP surface.
type Options struct {
	Store      storage.Store
	Posts      *syncer.PostQueue
	Reconciler *syncer.Reconciler
	Bus        *status.Broadcaster[model.SyncStatus]
	Commander  *cache.Commander
	Gateway    http.Handler // Optional; mounted as the default handler when set
	Classifier classify.Classifier
	Validator  *schema.Validator
	JWKSClient *jwks.Client

	// Auth; an empty issuer disables JWT checks entirely
	JWTIssuer   string
	JWTAudience string

	// Image limits
	MaxImageSize      int64
	AllowedImageTypes []string

	// CORS configuration
	CORSAllowedOrigins []string
}

// Mux handles HTTP requests for the vault service.
type Mux struct {
	mux     *http.ServeMux
	o       Options
	metrics *metrics.Metrics
}

// NewMux creates the HTTP mux with all vault endpoints registered.
func NewMux(o Options) *http.ServeMux {
	m := &Mux{
		mux:     http.NewServeMux(),
		o:       o,
		metrics: metrics.NewMetrics(),
	}

	// Health and observability endpoints
	m.mux.HandleFunc("GET /healthz", m.handleHealthz)
	m.mux.HandleFunc("GET /readyz", m.handleReadyz)
	m.mux.Handle("GET /metrics", promhttp.Handler())

	// Catch vault
	m.mux.HandleFunc("POST /v1/catches", m.withMiddleware(m.handleCreateCatch))
	m.mux.HandleFunc("GET /v1/catches", m.withMiddleware(m.handleListCatches))
	m.mux.HandleFunc("GET /v1/catches/stats", m.withMiddleware(m.handleCatchStats))
	m.mux.HandleFunc("DELETE /v1/catches/{id}", m.withMiddleware(m.handleDeleteCatch))
	m.mux.HandleFunc("GET /v1/images/{key}", m.withMiddleware(m.handleGetImage))

	// Local post queue
	m.mux.HandleFunc("POST /v1/posts", m.withMiddleware(m.handleCreatePost))
	m.mux.HandleFunc("GET /v1/posts", m.withMiddleware(m.handleListPosts))

	// Sync control surface
	m.mux.HandleFunc("GET /v1/sync/status", m.withMiddleware(m.handleSyncStatus))
	m.mux.HandleFunc("GET /v1/sync/watch", m.withMiddleware(m.handleSyncWatch))
	m.mux.HandleFunc("POST /v1/sync/force", m.withMiddleware(m.handleSyncForce))
	m.mux.HandleFunc("POST /v1/sync/online", m.withMiddleware(m.handleSyncOnline))
	m.mux.HandleFunc("POST /v1/sync/clear", m.withMiddleware(m.handleSyncClear))

	// Cache command channel
	m.mux.HandleFunc("POST /v1/cache/command", m.withMiddleware(m.handleCacheCommand))

	// Everything outside the vault API flows through the caching gateway
	// to the upstream origin, when one is configured.
	if o.Gateway != nil {
		m.mux.Handle("/", o.Gateway)
	}

	return m.mux
}

// statusWriter captures the response status for the request metrics.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (s *statusWriter) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Flush preserves streaming support for the SSE handler.
func (s *statusWriter) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// withMiddleware applies CORS, correlation IDs, request metrics, and
// optional JWT authentication for mutating methods.
func (m *Mux) withMiddleware(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		m.applyCORS(w, r)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		w = sw
		defer func() {
			status := strconv.Itoa(sw.status)
			m.metrics.HTTPRequestTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			m.metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path, status).Observe(time.Since(start).Seconds())
		}()

		// Add correlation ID if not present
		correlationID := r.Header.Get("X-Correlation-Id")
		if correlationID == "" {
			correlationID = uuid.New().String()
		}
		r = r.WithContext(context.WithValue(r.Context(), ContextKeyCorrelationID, correlationID))
		w.Header().Set("X-Correlation-Id", correlationID)

		// JWT authentication for mutating endpoints, only when configured
		if m.o.JWTIssuer != "" && (r.Method == http.MethodPost || r.Method == http.MethodDelete) {
			userID, err := m.validateJWT(r)
			if err != nil {
				var errorDef *errordefs.Error
				if stderrors.As(err, &errorDef) {
					errorDef.CorrelationID = correlationID
				} else {
					errorDef = errordefs.New(errordefs.FN_AUTHN, err.Error(), correlationID)
				}
				m.writeErrorDef(w, errorDef)
				m.logRequest(r, errorDef.HTTPStatus, time.Since(start), correlationID, err)
				return
			}
			r = r.WithContext(context.WithValue(r.Context(), ContextKeyUserID, userID))
		}

		h(w, r)
		m.logRequest(r, 0, time.Since(start), correlationID, nil)
	}
}

// applyCORS sets the allow headers when the request origin is permitted.
func (m *Mux) applyCORS(w http.ResponseWriter, r *http.Request) {
	if len(m.o.CORSAllowedOrigins) == 0 {
		return
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	for _, allowed := range m.o.CORSAllowedOrigins {
		if allowed == "*" || allowed == origin {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Correlation-Id")
			w.Header().Set("Access-Control-Max-Age", "86400")
			return
		}
	}
}

// validateJWT validates a bearer token and extracts the subject.
func (m *Mux) validateJWT(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", errordefs.New(errordefs.FN_AUTHN, "missing Authorization header", "")
	}

	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", errordefs.New(errordefs.FN_AUTHN, "invalid Authorization header format", "")
	}

	tokenString := strings.TrimPrefix(authHeader, "Bearer ")

	claims, err := m.o.JWKSClient.ValidateJWT(r.Context(), tokenString, m.o.JWTIssuer, m.o.JWTAudience)
	if err != nil {
		errStr := err.Error()
		switch {
		case strings.Contains(errStr, "expired"):
			return "", errordefs.New(errordefs.FN_JWT_EXPIRED, "JWT token expired", "")
		case strings.Contains(errStr, "issuer"), strings.Contains(errStr, "audience"):
			return "", errordefs.New(errordefs.FN_JWT_INVALID, errStr, "")
		default:
			return "", errordefs.New(errordefs.FN_JWT_INVALID, fmt.Sprintf("failed to validate JWT: %v", err), "")
		}
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", errordefs.New(errordefs.FN_JWT_INVALID, "missing or invalid sub claim", "")
	}

	return sub, nil
}

// writeSuccess writes a successful response wrapped in a data envelope.
func (m *Mux) writeSuccess(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	response := map[string]interface{}{
		"data": data,
	}
	_ = json.NewEncoder(w).Encode(response)
}

// writeErrorDef writes an error response following the vault error taxonomy.
func (m *Mux) writeErrorDef(w http.ResponseWriter, err *errordefs.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.HTTPStatus)
	response := map[string]interface{}{
		"error": err,
	}
	_ = json.NewEncoder(w).Encode(response)
}

// correlationID extracts the request's correlation ID from its context.
func correlationID(ctx context.Context) string {
	if id, ok := ctx.Value(ContextKeyCorrelationID).(string); ok {
		return id
	}
	return ""
}

// logRequest logs request details
func (m *Mux) logRequest(r *http.Request, status int, duration time.Duration, correlationID string, err error) {
	attrs := []slog.Attr{
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Duration("duration", duration),
		slog.String("remote_addr", r.RemoteAddr),
	}

	if status != 0 {
		attrs = append(attrs, slog.Int("status", status))
	}
	if correlationID != "" {
		attrs = append(attrs, slog.String("correlation_id", correlationID))
	}
	if userID, ok := r.Context().Value(ContextKeyUserID).(string); ok && userID != "" {
		attrs = append(attrs, slog.String("user_id", userID))
	}

	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
		slog.LogAttrs(r.Context(), slog.LevelError, "request completed with error", attrs...)
	} else {
		slog.LogAttrs(r.Context(), slog.LevelInfo, "request completed", attrs...)
	}
}

// handleHealthz handles liveness health check requests
func (m *Mux) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReadyz handles readiness health check requests
func (m *Mux) handleReadyz(w http.ResponseWriter, r *http.Request) {
	// The store is fail-open, so a Stats error means even the in-memory
	// variant is gone and the process cannot serve anything.
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if _, err := m.o.Store.Stats(ctx); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// checkInlineImage enforces the media-type and size limits on an inline
// data-URI payload before any decode or storage work.
func (m *Mux) checkInlineImage(imageData string) *errordefs.Error {
	mediaType, b64, found := strings.Cut(strings.TrimPrefix(imageData, "data:"), ";base64,")
	if !found {
		return errordefs.New(errordefs.FN_IMAGE_TYPE, "image payload must be a base64 data URI", "")
	}

	allowed := false
	for _, t := range m.o.AllowedImageTypes {
		if mediaType == t {
			allowed = true
			break
		}
	}
	if !allowed {
		return errordefs.New(errordefs.FN_IMAGE_TYPE,
			fmt.Sprintf("image type %s is not allowed", mediaType), "")
	}

	if decoded := int64(base64.StdEncoding.DecodedLen(len(b64))); decoded > m.o.MaxImageSize {
		return errordefs.New(errordefs.FN_IMAGE_SIZE,
			fmt.Sprintf("image payload exceeds limit of %d bytes", m.o.MaxImageSize), "")
	}
	return nil
}

// handleCreateCatch handles POST /v1/catches.
// Species and scores may be omitted; the classifier fills them in from
// the attached photo. Absent coordinates degrade to the (0,0) sentinel.
func (m *Mux) handleCreateCatch(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("fishnet-vault").Start(r.Context(), "handleCreateCatch")
	defer span.End()
	defer r.Body.Close()

	cid := correlationID(ctx)

	body, err := readBody(w, r, m.o.MaxImageSize*2)
	if err != nil {
		m.writeErrorDef(w, errordefs.New(errordefs.FN_VALIDATION, "request body too large or unreadable", cid))
		return
	}

	if err := m.o.Validator.Validate(schema.KindCatchCreate, body); err != nil {
		span.SetStatus(codes.Error, "schema rejected")
		m.writeErrorDef(w, errordefs.NewWithDetails(errordefs.FN_SCHEMA_REJECT, "payload schema validation failed", cid, err.Error()))
		return
	}

	var req model.CreateCatchRequest
	if err := json.Unmarshal(body, &req); err != nil {
		m.writeErrorDef(w, errordefs.New(errordefs.FN_VALIDATION, "invalid JSON", cid))
		return
	}

	span.SetAttributes(
		attribute.String("species", req.Species),
		attribute.Bool("has_image", req.ImageData != ""),
	)

	if req.ImageData != "" {
		if errDef := m.checkInlineImage(req.ImageData); errDef != nil {
			errDef.CorrelationID = cid
			m.writeErrorDef(w, errDef)
			return
		}
	}

	// Consult the classifier when the submission omits a species but
	// carries a photo.
	if req.Species == "" {
		if req.ImageData == "" {
			m.writeErrorDef(w, errordefs.New(errordefs.FN_VALIDATION, "species or imageData is required", cid))
			return
		}
		_, b64, _ := strings.Cut(req.ImageData, ";base64,")
		imageBytes, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			m.writeErrorDef(w, errordefs.New(errordefs.FN_VALIDATION, "image payload is not valid base64", cid))
			return
		}
		pred, err := m.o.Classifier.Predict(ctx, imageBytes)
		if err != nil {
			span.SetStatus(codes.Error, "classifier failed")
			m.writeErrorDef(w, errordefs.New(errordefs.FN_INTERNAL, "species classification failed", cid))
			return
		}
		req.Species = pred.Species
		req.Confidence = pred.Confidence
		req.HealthScore = pred.HealthScore
		if req.Count == 0 {
			req.Count = pred.EstimatedCount
		}
		if req.EstimatedWeight == 0 {
			req.EstimatedWeight = pred.EstimatedWeight
		}
	}

	if req.Count < 1 {
		req.Count = 1
	}

	rec := model.CatchRecord{
		Species:         req.Species,
		Confidence:      req.Confidence,
		HealthScore:     req.HealthScore,
		Count:           req.Count,
		EstimatedWeight: req.EstimatedWeight,
		Timestamp:       time.Now().UTC(),
		ImageRef:        req.ImageData,
	}
	if req.Latitude != nil {
		rec.Latitude = *req.Latitude
	}
	if req.Longitude != nil {
		rec.Longitude = *req.Longitude
	}

	start := time.Now()
	id, err := m.o.Store.AddCatch(ctx, rec)
	m.observeStorage("add_catch", start, err)
	if err != nil {
		span.SetStatus(codes.Error, "store failed")
		m.writeErrorDef(w, errordefs.New(errordefs.FN_INTERNAL, "failed to store catch", cid))
		return
	}

	// Best-effort read-back for the rewritten image key; the record is
	// already durable if this fails.
	imageKey := ""
	timestamp := rec.Timestamp
	if stored, err := m.o.Store.GetCatch(ctx, id); err == nil {
		imageKey = stored.ImageRef
		timestamp = stored.Timestamp
	}

	m.o.Reconciler.RecomputePending(ctx)

	m.writeSuccess(w, http.StatusCreated, model.CreateCatchData{
		ID:        id,
		ImageKey:  imageKey,
		Timestamp: timestamp,
	})
}

// handleListCatches handles GET /v1/catches with an optional species filter.
func (m *Mux) handleListCatches(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cid := correlationID(ctx)

	var recs []model.CatchRecord
	var err error
	start := time.Now()
	if species := r.URL.Query().Get("species"); species != "" {
		recs, err = m.o.Store.GetCatchesBySpecies(ctx, species)
		m.observeStorage("list_catches_by_species", start, err)
	} else {
		recs, err = m.o.Store.GetAllCatches(ctx)
		m.observeStorage("list_catches", start, err)
	}
	if err != nil {
		m.writeErrorDef(w, errordefs.New(errordefs.FN_INTERNAL, "failed to list catches", cid))
		return
	}

	m.writeSuccess(w, http.StatusOK, recs)
}

// handleCatchStats handles GET /v1/catches/stats.
func (m *Mux) handleCatchStats(w http.ResponseWriter, r *http.Request) {
	stats, err := m.o.Store.Stats(r.Context())
	if err != nil {
		m.writeErrorDef(w, errordefs.New(errordefs.FN_INTERNAL, "failed to compute stats", correlationID(r.Context())))
		return
	}
	m.writeSuccess(w, http.StatusOK, stats)
}

// handleDeleteCatch handles DELETE /v1/catches/{id}.
// Deleting cascades to the record's image blob; unknown ids succeed.
func (m *Mux) handleDeleteCatch(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("fishnet-vault").Start(r.Context(), "handleDeleteCatch")
	defer span.End()

	cid := correlationID(ctx)

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		m.writeErrorDef(w, errordefs.New(errordefs.FN_VALIDATION, "invalid catch id", cid))
		return
	}
	span.SetAttributes(attribute.Int64("id", id))

	start := time.Now()
	err = m.o.Store.DeleteCatch(ctx, id)
	m.observeStorage("delete_catch", start, err)
	if err != nil {
		span.SetStatus(codes.Error, "store failed")
		m.writeErrorDef(w, errordefs.New(errordefs.FN_INTERNAL, "failed to delete catch", cid))
		return
	}

	m.o.Reconciler.RecomputePending(ctx)
	m.writeSuccess(w, http.StatusOK, map[string]interface{}{"deleted": id})
}

// handleGetImage handles GET /v1/images/{key}, serving the raw blob.
func (m *Mux) handleGetImage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := r.PathValue("key")

	data, err := m.o.Store.GetImage(ctx, key)
	if err != nil {
		m.writeErrorDef(w, errordefs.New(errordefs.FN_INTERNAL, "failed to load image", correlationID(ctx)))
		return
	}
	if data == nil {
		m.writeErrorDef(w, errordefs.New(errordefs.FN_NOT_FOUND, "image not found", correlationID(ctx)))
		return
	}

	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Cache-Control", "private, max-age=86400")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// handleCreatePost handles POST /v1/posts.
// Posts enter the local queue pending and are pushed by the next sync cycle.
func (m *Mux) handleCreatePost(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	ctx := r.Context()
	cid := correlationID(ctx)

	body, err := readBody(w, r, 1<<20)
	if err != nil {
		m.writeErrorDef(w, errordefs.New(errordefs.FN_VALIDATION, "request body too large or unreadable", cid))
		return
	}

	if err := m.o.Validator.Validate(schema.KindPostCreate, body); err != nil {
		m.writeErrorDef(w, errordefs.NewWithDetails(errordefs.FN_SCHEMA_REJECT, "payload schema validation failed", cid, err.Error()))
		return
	}

	var post model.SocialPost
	if err := json.Unmarshal(body, &post); err != nil {
		m.writeErrorDef(w, errordefs.New(errordefs.FN_VALIDATION, "invalid JSON", cid))
		return
	}

	queued := m.o.Posts.Add(post)
	m.o.Reconciler.RecomputePending(ctx)
	m.writeSuccess(w, http.StatusCreated, queued)
}

// handleListPosts handles GET /v1/posts, newest-first.
func (m *Mux) handleListPosts(w http.ResponseWriter, r *http.Request) {
	m.writeSuccess(w, http.StatusOK, m.o.Posts.All())
}

// handleSyncStatus handles GET /v1/sync/status.
func (m *Mux) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	m.writeSuccess(w, http.StatusOK, m.o.Reconciler.Status())
}

// handleSyncWatch handles GET /v1/sync/watch as a server-sent event
// stream. The subscriber receives the current snapshot immediately,
// then every subsequent change until the client disconnects.
func (m *Mux) handleSyncWatch(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		m.writeErrorDef(w, errordefs.New(errordefs.FN_INTERNAL, "streaming unsupported", correlationID(r.Context())))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Buffered so the broadcaster never blocks on a slow client; a
	// snapshot dropped here is superseded by the next one anyway.
	updates := make(chan model.SyncStatus, 8)
	cancel := m.o.Bus.Subscribe(func(s model.SyncStatus) {
		select {
		case updates <- s:
		default:
		}
	})
	defer cancel()

	for {
		select {
		case <-r.Context().Done():
			return
		case snapshot := <-updates:
			payload, err := json.Marshal(snapshot)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

// handleSyncForce handles POST /v1/sync/force.
// Rejected explicitly while offline or while a cycle is already running.
func (m *Mux) handleSyncForce(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("fishnet-vault").Start(r.Context(), "handleSyncForce")
	defer span.End()

	result := m.o.Reconciler.ForceSync(ctx)
	if !result.Success {
		span.SetStatus(codes.Error, result.Error)
		code := errordefs.FN_SYNC_FAILED
		switch {
		case strings.Contains(result.Error, "offline"):
			code = errordefs.FN_SYNC_OFFLINE
		case strings.Contains(result.Error, "in progress"):
			code = errordefs.FN_SYNC_BUSY
		}
		m.writeErrorDef(w, errordefs.New(code, result.Error, correlationID(ctx)))
		return
	}

	m.writeSuccess(w, http.StatusOK, result)
}

// handleSyncOnline handles POST /v1/sync/online, the connectivity
// transition signal from the UI.
func (m *Mux) handleSyncOnline(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	cid := correlationID(r.Context())

	var req struct {
		Online bool `json:"online"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		m.writeErrorDef(w, errordefs.New(errordefs.FN_VALIDATION, "invalid JSON", cid))
		return
	}

	m.o.Reconciler.SetOnline(req.Online)
	m.writeSuccess(w, http.StatusOK, m.o.Reconciler.Status())
}

// handleSyncClear handles POST /v1/sync/clear, wiping the persisted
// last-sync timestamp. Pending records are untouched.
func (m *Mux) handleSyncClear(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := m.o.Reconciler.ClearSyncData(ctx); err != nil {
		m.writeErrorDef(w, errordefs.New(errordefs.FN_INTERNAL, "failed to clear sync data", correlationID(ctx)))
		return
	}
	m.writeSuccess(w, http.StatusOK, m.o.Reconciler.Status())
}

// handleCacheCommand handles POST /v1/cache/command.
// Unknown command kinds are rejected, never silently ignored.
func (m *Mux) handleCacheCommand(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	ctx := r.Context()
	cid := correlationID(ctx)

	if m.o.Commander == nil {
		m.writeErrorDef(w, errordefs.New(errordefs.FN_BAD_REQUEST, "cache gateway not configured", cid))
		return
	}

	var cmd cache.Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		m.writeErrorDef(w, errordefs.New(errordefs.FN_VALIDATION, "invalid JSON", cid))
		return
	}

	reply, err := m.o.Commander.Dispatch(ctx, cmd)
	if err != nil {
		if strings.Contains(err.Error(), "unknown cache command") {
			m.writeErrorDef(w, errordefs.New(errordefs.FN_BAD_REQUEST, err.Error(), cid))
			return
		}
		m.writeErrorDef(w, errordefs.New(errordefs.FN_INTERNAL, err.Error(), cid))
		return
	}

	m.writeSuccess(w, http.StatusOK, reply)
}

// observeStorage records a storage operation's outcome and duration.
func (m *Mux) observeStorage(op string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.metrics.StorageOperationTotal.WithLabelValues(op, outcome).Inc()
	m.metrics.StorageOperationDuration.WithLabelValues(op, outcome).Observe(time.Since(start).Seconds())
}

// readBody reads the request body with a hard size cap.
func readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	return io.ReadAll(r.Body)
}
