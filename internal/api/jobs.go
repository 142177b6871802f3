package api

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/speecher/stt-engine/internal/audio"
	"github.com/speecher/stt-engine/internal/config"
	"github.com/speecher/stt-engine/internal/job"
	"github.com/speecher/stt-engine/internal/metrics"
	"github.com/speecher/stt-engine/internal/pricing"
	"github.com/speecher/stt-engine/internal/ratelimit"
	"github.com/speecher/stt-engine/internal/store"
)

// TranscriptStore is the subset of the persistence layer the handler reads
// finished transcripts from.
type TranscriptStore interface {
	GetTranscript(ctx context.Context, id string) (*store.TranscriptAPI, error)
	ListTranscripts(ctx context.Context, filter store.TranscriptFilter) ([]store.TranscriptAPI, int, error)
	DeleteTranscript(ctx context.Context, id string) error
}

// TranscriptionsHandler serves the transcription job endpoints.
type TranscriptionsHandler struct {
	orch     *job.Orchestrator
	registry *job.Registry
	store    TranscriptStore // may be nil when persistence is disabled
	pricing  *pricing.Table
	limiter  *ratelimit.Limiter
	cfg      *config.Config
	log      zerolog.Logger
}

func NewTranscriptionsHandler(orch *job.Orchestrator, registry *job.Registry, ts TranscriptStore, table *pricing.Table, limiter *ratelimit.Limiter, cfg *config.Config, log zerolog.Logger) *TranscriptionsHandler {
	return &TranscriptionsHandler{
		orch:     orch,
		registry: registry,
		store:    ts,
		pricing:  table,
		limiter:  limiter,
		cfg:      cfg,
		log:      log.With().Str("handler", "transcriptions").Logger(),
	}
}

// Routes registers the transcription endpoints.
func (h *TranscriptionsHandler) Routes(r chi.Router) {
	r.Post("/transcriptions", h.Submit)
	r.Get("/transcriptions", h.List)
	r.Get("/transcriptions/{id}", h.Get)
	r.Delete("/transcriptions/{id}", h.Delete)
	r.Post("/estimate", h.Estimate)
	r.Get("/languages", h.Languages)
}

// Submit handles POST /api/v1/transcriptions. Accepts a multipart form with
// an "audio" file field, validates the payload, and starts the job in the
// background. Responds 202 with the job's initial state.
func (h *TranscriptionsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	providerName := r.FormValue("provider")
	if providerName == "" {
		WriteError(w, http.StatusBadRequest, "provider is required")
		return
	}

	file, _, err := r.FormFile("audio")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "failed to read audio file")
		return
	}

	format, err := audio.Validate(data, h.cfg.MaxUploadBytes)
	if err != nil {
		metrics.SubmissionsRejectedTotal.WithLabelValues("invalid_audio").Inc()
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if !h.limiter.Allow(clientUser(r), providerName) {
		metrics.SubmissionsRejectedTotal.WithLabelValues("rate_limited").Inc()
		WriteError(w, http.StatusTooManyRequests, "submission rate limit exceeded")
		return
	}

	req := job.Request{
		Provider:         providerName,
		Language:         h.cfg.DefaultLanguage,
		MaxSpeakers:      h.cfg.MaxSpeakers,
		Audio:            data,
		ContentType:      format.ContentType(),
		Format:           string(format),
		DurationEstimate: audio.EstimateDuration(data, format),
	}
	if v := r.FormValue("language"); v != "" {
		req.Language = v
	}
	if v := r.FormValue("diarization"); v != "" {
		req.Diarization, _ = strconv.ParseBool(v)
	}
	if v := r.FormValue("max_speakers"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			req.MaxSpeakers = n
		}
	}
	if v := r.FormValue("retain_resources"); v != "" {
		req.RetainResources, _ = strconv.ParseBool(v)
	}

	j, err := h.orch.Submit(req)
	if err != nil {
		metrics.SubmissionsRejectedTotal.WithLabelValues("unknown_provider").Inc()
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.registry.Add(j)
	metrics.JobsSubmittedTotal.WithLabelValues(providerName).Inc()

	go h.runJob(j)

	WriteJSON(w, http.StatusAccepted, j.Snapshot())
}

// runJob drives the job to completion and records outcome metrics. The job
// runs detached from the submitting request's context.
func (h *TranscriptionsHandler) runJob(j *job.Job) {
	start := time.Now()
	h.orch.Run(context.Background(), j)

	snap := j.Snapshot()
	metrics.JobsFinishedTotal.WithLabelValues(snap.Provider, string(snap.Status)).Inc()
	metrics.JobDuration.WithLabelValues(snap.Provider).Observe(time.Since(start).Seconds())

	// Terminal jobs live on in the database; evicting them keeps the
	// registry bounded. Without a store the registry stays authoritative.
	if h.store != nil && h.cfg.Job.PersistResults {
		h.registry.Remove(j.ID)
	}
}

// Get handles GET /api/v1/transcriptions/{id}. Live jobs come from the
// registry; finished jobs fall back to the database.
func (h *TranscriptionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if j := h.registry.Get(id); j != nil {
		WriteJSON(w, http.StatusOK, j.Snapshot())
		return
	}

	if h.store != nil {
		t, err := h.store.GetTranscript(r.Context(), id)
		if err == nil {
			WriteJSON(w, http.StatusOK, t)
			return
		}
		if !errors.Is(err, store.ErrNotFound) {
			h.log.Error().Err(err).Str("id", id).Msg("transcript lookup failed")
			WriteError(w, http.StatusInternalServerError, "transcript lookup failed")
			return
		}
	}

	WriteError(w, http.StatusNotFound, "transcription not found")
}

// List handles GET /api/v1/transcriptions with provider, status, and date
// range filters.
func (h *TranscriptionsHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		WriteJSON(w, http.StatusOK, map[string]any{
			"transcriptions": h.registry.Snapshots(),
			"total":          h.registry.Len(),
		})
		return
	}

	p, err := ParsePagination(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	filter := store.TranscriptFilter{Limit: p.Limit, Offset: p.Offset}
	if v, ok := QueryString(r, "provider"); ok {
		filter.Provider = v
	}
	if v, ok := QueryString(r, "status"); ok {
		filter.Status = v
	}
	if t, ok := QueryTime(r, "from"); ok {
		filter.StartTime = &t
	}
	if t, ok := QueryTime(r, "to"); ok {
		filter.EndTime = &t
	}

	items, total, err := h.store.ListTranscripts(r.Context(), filter)
	if err != nil {
		h.log.Error().Err(err).Msg("transcript list failed")
		WriteError(w, http.StatusInternalServerError, "transcript list failed")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"transcriptions": items,
		"total":          total,
		"limit":          p.Limit,
		"offset":         p.Offset,
	})
}

// Delete handles DELETE /api/v1/transcriptions/{id}. A running job is
// cancelled; a stored transcript is removed.
func (h *TranscriptionsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if j := h.registry.Get(id); j != nil && !j.Status().Terminal() {
		j.Cancel()
		WriteJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "cancelling"})
		return
	}

	h.registry.Remove(id)
	if h.store != nil {
		if err := h.store.DeleteTranscript(r.Context(), id); err != nil {
			h.log.Error().Err(err).Str("id", id).Msg("transcript delete failed")
			WriteError(w, http.StatusInternalServerError, "transcript delete failed")
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// EstimateRequest is the body for POST /api/v1/transcriptions/estimate.
type EstimateRequest struct {
	Provider        string  `json:"provider"`
	DurationSeconds float64 `json:"duration_seconds"`
	SizeBytes       int64   `json:"size_bytes"`
	Diarization     bool    `json:"diarization"`
}

// Estimate handles POST /api/v1/transcriptions/estimate. Prices a
// hypothetical job without running it.
func (h *TranscriptionsHandler) Estimate(w http.ResponseWriter, r *http.Request) {
	var req EstimateRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	est, err := h.pricing.Estimate(req.Provider, req.DurationSeconds, req.SizeBytes, req.Diarization)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, est)
}

// supportedLanguages lists the locales each provider accepts. The lists are
// intentionally short; providers accept more, these are the validated ones.
var supportedLanguages = map[string][]string{
	"aws":   {"en-US", "en-GB", "de-DE", "es-ES", "fr-FR", "it-IT", "pl-PL", "pt-BR", "ja-JP"},
	"azure": {"en-US", "en-GB", "de-DE", "es-ES", "fr-FR", "it-IT", "pl-PL", "pt-BR", "ja-JP"},
	"gcp":   {"en-US", "en-GB", "de-DE", "es-ES", "fr-FR", "it-IT", "pl-PL", "pt-BR", "ja-JP"},
}

// Languages handles GET /api/v1/languages.
func (h *TranscriptionsHandler) Languages(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"default":   h.cfg.DefaultLanguage,
		"providers": supportedLanguages,
	})
}

// clientUser identifies the submitting client for rate limiting: an explicit
// X-API-User header when present, otherwise the client IP.
func clientUser(r *http.Request) string {
	if u := r.Header.Get("X-API-User"); u != "" {
		return u
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
