package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/quartz"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"quotepulse-backend/internal/metrics"
	"quotepulse-backend/internal/models"
	"quotepulse-backend/internal/repository"
	"quotepulse-backend/internal/useragent"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	maxIngestBody    = 64 << 10

	// A session counts as active while its latest event is this recent.
	activeSessionWindow = 5 * time.Minute
)

type ActivityStore interface {
	Create(ctx context.Context, a *models.ActivityRecord) error
	ListRecent(ctx context.Context, quoteID string, limit int) ([]models.ActivityRecord, error)
	ActiveSessions(ctx context.Context, quoteID string, since time.Time) ([]models.ActiveSession, error)
}

type QuoteLookup interface {
	Exists(ctx context.Context, id string) (bool, error)
}

// Deduper maps a repeated client sequence back to the first stored id.
type Deduper interface {
	Claim(ctx context.Context, key string, id uuid.UUID) (uuid.UUID, bool, error)
	Release(ctx context.Context, key string) error
}

type ActivityHandler struct {
	activities ActivityStore
	quotes     QuoteLookup
	dedupe     Deduper
	clock      quartz.Clock
	logger     zerolog.Logger
}

type ActivityOption func(*ActivityHandler)

func WithDedupe(d Deduper) ActivityOption {
	return func(h *ActivityHandler) { h.dedupe = d }
}

func WithClock(c quartz.Clock) ActivityOption {
	return func(h *ActivityHandler) { h.clock = c }
}

func NewActivityHandler(activities ActivityStore, quotes QuoteLookup, logger zerolog.Logger, opts ...ActivityOption) *ActivityHandler {
	h := &ActivityHandler{
		activities: activities,
		quotes:     quotes,
		clock:      quartz.NewReal(),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// MissingDocument answers ingest and read requests that carry no document id.
func (h *ActivityHandler) MissingDocument(w http.ResponseWriter, r *http.Request) {
	metrics.IngestFailures.WithLabelValues("missing_document").Inc()
	writeJSON(w, http.StatusBadRequest, errorResp("MISSING_DOCUMENT_ID", "Document id is required", r))
}

// Ingest stores one activity event. Beacons arrive as text/plain with the
// same JSON body, so the content type is not checked.
func (h *ActivityHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	documentID := chi.URLParam(r, "documentId")
	if documentID == "" {
		h.MissingDocument(w, r)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxIngestBody+1))
	if err != nil || len(body) > maxIngestBody {
		metrics.IngestFailures.WithLabelValues("invalid_body").Inc()
		writeJSON(w, http.StatusBadRequest, errorResp("INVALID_BODY", "Request body could not be read", r))
		return
	}

	var req models.IngestRequest
	if err := json.Unmarshal(body, &req); err != nil {
		metrics.IngestFailures.WithLabelValues("invalid_body").Inc()
		writeJSON(w, http.StatusBadRequest, errorResp("INVALID_BODY", "Request body must be a JSON object", r))
		return
	}
	if fields := validateIngest(req); len(fields) > 0 {
		metrics.IngestFailures.WithLabelValues("validation").Inc()
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed", fields, r))
		return
	}

	ctx := r.Context()
	log := h.logger.With().Str("document_id", documentID).Str("session_id", req.SessionID).Logger()

	exists, err := h.quotes.Exists(ctx, documentID)
	if err != nil {
		log.Error().Err(err).Msg("Quote lookup failed")
		metrics.IngestFailures.WithLabelValues("storage").Inc()
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "An unexpected error occurred", r))
		return
	}
	if !exists {
		metrics.IngestFailures.WithLabelValues("unknown_document").Inc()
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Quote not found", r))
		return
	}

	record := h.buildRecord(r, documentID, req)

	var dedupeKey string
	if h.dedupe != nil && req.ClientSeq != "" {
		key := repository.DedupeKey(documentID, req.SessionID, string(req.EventType), req.ClientSeq)
		existing, claimed, err := h.dedupe.Claim(ctx, key, record.ID)
		switch {
		case err != nil:
			// Fall through to a plain write.
			log.Warn().Err(err).Msg("Dedupe claim failed")
		case !claimed:
			metrics.ActivitiesDeduplicated.Inc()
			writeJSON(w, http.StatusCreated, models.IngestResponse{ActivityID: existing, SessionID: req.SessionID})
			return
		default:
			dedupeKey = key
		}
	}

	if err := h.activities.Create(ctx, record); err != nil {
		log.Error().Err(err).Str("event_type", string(req.EventType)).Msg("Failed to store activity")
		if dedupeKey != "" {
			if err := h.dedupe.Release(context.WithoutCancel(ctx), dedupeKey); err != nil {
				log.Warn().Err(err).Msg("Failed to release dedupe claim")
			}
		}
		metrics.IngestFailures.WithLabelValues("storage").Inc()
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "An unexpected error occurred", r))
		return
	}

	metrics.ActivitiesIngested.WithLabelValues(string(req.EventType)).Inc()
	writeJSON(w, http.StatusCreated, models.IngestResponse{ActivityID: record.ID, SessionID: req.SessionID})
}

// List returns the most recent activity for a quote plus its active sessions.
func (h *ActivityHandler) List(w http.ResponseWriter, r *http.Request) {
	documentID := chi.URLParam(r, "documentId")
	if documentID == "" {
		h.MissingDocument(w, r)
		return
	}
	limit := parseLimit(r.URL.Query().Get("limit"))
	ctx := r.Context()

	activities, err := h.activities.ListRecent(ctx, documentID, limit)
	if err != nil {
		h.logger.Error().Err(err).Str("document_id", documentID).Msg("Failed to list activities")
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "An unexpected error occurred", r))
		return
	}
	sessions, err := h.activities.ActiveSessions(ctx, documentID, h.clock.Now().Add(-activeSessionWindow))
	if err != nil {
		h.logger.Error().Err(err).Str("document_id", documentID).Msg("Failed to list active sessions")
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "An unexpected error occurred", r))
		return
	}

	writeJSON(w, http.StatusOK, models.ActivityListResponse{Activities: activities, ActiveSessions: sessions})
}

func (h *ActivityHandler) buildRecord(r *http.Request, documentID string, req models.IngestRequest) *models.ActivityRecord {
	rec := &models.ActivityRecord{
		ID:           uuid.New(),
		QuoteID:      documentID,
		SessionID:    req.SessionID,
		EventType:    req.EventType,
		EventData:    req.EventData,
		PageLoadTime: req.PageLoadTime,
	}
	if bytes.Equal(bytes.TrimSpace(rec.EventData), []byte("null")) {
		rec.EventData = nil
	}

	ua := r.UserAgent()
	var inferred useragent.Info
	if req.DeviceType == "" || req.BrowserName == "" || req.OSName == "" {
		inferred = useragent.Parse(ua)
	}
	rec.DeviceType = optional(firstNonEmpty(string(req.DeviceType), string(inferred.DeviceType)))
	rec.BrowserName = optional(firstNonEmpty(req.BrowserName, inferred.BrowserName))
	rec.OSName = optional(firstNonEmpty(req.OSName, inferred.OSName))
	rec.ClientSeq = optional(req.ClientSeq)
	rec.UserAgent = optional(ua)
	rec.IPAddress = optional(clientIP(r))
	rec.Country = optional(r.Header.Get("CF-IPCountry"))
	rec.City = optional(r.Header.Get("CF-IPCity"))
	return rec
}

func validateIngest(req models.IngestRequest) map[string]string {
	fields := map[string]string{}
	if req.SessionID == "" {
		fields["sessionId"] = "is required"
	}
	if req.EventType == "" {
		fields["eventType"] = "is required"
	}
	if req.DeviceType != "" && !req.DeviceType.Valid() {
		fields["deviceType"] = "must be desktop, tablet or mobile"
	}
	if len(req.EventData) > 0 {
		trimmed := bytes.TrimSpace(req.EventData)
		if !bytes.Equal(trimmed, []byte("null")) && (len(trimmed) == 0 || trimmed[0] != '{') {
			fields["eventData"] = "must be an object"
		}
	}
	if req.PageLoadTime != nil && *req.PageLoadTime < 0 {
		fields["pageLoadTime"] = "must not be negative"
	}
	return fields
}

func parseLimit(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return defaultListLimit
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}

// clientIP relies on chi's RealIP having rewritten RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
