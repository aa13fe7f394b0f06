// Package api exposes the read-only reporting queries and session control
// over HTTP. All attendance writes happen in the recognition path; nothing
// here mutates the ledger.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"face-attendance-go/config"
	"face-attendance-go/internal/camera"
	"face-attendance-go/internal/core/models"
	"face-attendance-go/internal/gallery"
	"face-attendance-go/internal/ledger"
	"face-attendance-go/internal/session"
	"face-attendance-go/internal/sse"
	"face-attendance-go/internal/utils"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"
)

// SourceFactory builds a fresh frame source for each started session.
type SourceFactory func() (camera.Source, error)

// Handler bundles the API dependencies.
type Handler struct {
	cfg        *config.Config
	store      *gallery.Store
	ledger     *ledger.Ledger
	controller *session.Controller
	hub        *sse.Hub
	gallery    *gallery.Gallery
	newSource  SourceFactory
}

// NewHandler creates the API handler. gallery is the active session gallery
// loaded at startup; its roster feeds the daily summaries.
func NewHandler(cfg *config.Config, store *gallery.Store, led *ledger.Ledger, controller *session.Controller, hub *sse.Hub, g *gallery.Gallery, newSource SourceFactory) *Handler {
	return &Handler{
		cfg:        cfg,
		store:      store,
		ledger:     led,
		controller: controller,
		hub:        hub,
		gallery:    g,
		newSource:  newSource,
	}
}

// RegisterRoutes registers all API endpoints on the given router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/attendance/{date}", h.getAttendanceForDate)
	r.Get("/attendance/{date}/summary", h.getDailySummary)
	r.Get("/students/{key}/attendance", h.getStudentAttendance)
	r.Get("/students/{key}/stats", h.getStudentStats)
	r.Get("/datasets", h.listDatasets)
	r.Get("/session", h.getSession)
	r.Post("/session/start", h.startSession)
	r.Post("/session/stop", h.stopSession)
	r.Get("/system/stats", h.getSystemStats)
	r.Get("/events", h.serveEvents)
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.WithError(err).Error("Failed to encode API response")
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func parseDay(r *http.Request) (string, error) {
	day := chi.URLParam(r, "date")
	if _, err := time.Parse(models.DayFormat, day); err != nil {
		return "", fmt.Errorf("invalid date %q, want YYYY-MM-DD", day)
	}
	return day, nil
}

func (h *Handler) getAttendanceForDate(w http.ResponseWriter, r *http.Request) {
	day, err := parseDay(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := h.ledger.RecordsForDate(r.Context(), day)
	if err != nil {
		log.WithError(err).Error("Failed to read attendance records")
		respondError(w, http.StatusInternalServerError, "failed to read attendance records")
		return
	}
	respondJSON(w, http.StatusOK, records)
}

func (h *Handler) getDailySummary(w http.ResponseWriter, r *http.Request) {
	day, err := parseDay(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	summary, err := h.ledger.DailySummary(r.Context(), day, h.gallery.Roster())
	if err != nil {
		log.WithError(err).Error("Failed to build daily summary")
		respondError(w, http.StatusInternalServerError, "failed to build daily summary")
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

func (h *Handler) getStudentAttendance(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	records, err := h.ledger.RecordsForStudent(r.Context(), key)
	if err != nil {
		log.WithError(err).Error("Failed to read student attendance")
		respondError(w, http.StatusInternalServerError, "failed to read student attendance")
		return
	}
	respondJSON(w, http.StatusOK, records)
}

func (h *Handler) getStudentStats(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	stats, err := h.ledger.StudentStats(r.Context(), key)
	if err != nil {
		log.WithError(err).Error("Failed to compute student stats")
		respondError(w, http.StatusInternalServerError, "failed to compute student stats")
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (h *Handler) listDatasets(w http.ResponseWriter, r *http.Request) {
	infos, err := h.store.ListDatasets(r.Context())
	if err != nil {
		log.WithError(err).Error("Failed to list datasets")
		respondError(w, http.StatusInternalServerError, "failed to list datasets")
		return
	}
	respondJSON(w, http.StatusOK, infos)
}

type sessionStatus struct {
	State    session.State    `json:"state"`
	Snapshot session.Snapshot `json:"snapshot"`
	Error    string           `json:"error,omitempty"`
}

func (h *Handler) getSession(w http.ResponseWriter, _ *http.Request) {
	status := sessionStatus{
		State:    h.controller.State(),
		Snapshot: h.controller.Snapshot(),
	}
	if err := h.controller.Err(); err != nil {
		status.Error = err.Error()
	}
	respondJSON(w, http.StatusOK, status)
}

type startSessionRequest struct {
	Threshold float64 `json:"threshold"`
}

func (h *Handler) startSession(w http.ResponseWriter, r *http.Request) {
	threshold := h.cfg.Recognition.Threshold
	if r.Body != nil && r.ContentLength != 0 {
		var req startSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Threshold != 0 {
			if req.Threshold <= 0 || req.Threshold >= 1 {
				respondError(w, http.StatusBadRequest, "threshold must be in (0, 1)")
				return
			}
			threshold = req.Threshold
		}
	}

	source, err := h.newSource()
	if err != nil {
		log.WithError(err).Error("Failed to open frame source")
		respondError(w, http.StatusServiceUnavailable, "failed to open frame source")
		return
	}

	if err := h.controller.Start(h.gallery, threshold, source); err != nil {
		if closeErr := source.Close(); closeErr != nil {
			log.WithError(closeErr).Warn("Failed to close unused frame source")
		}
		if errors.Is(err, session.ErrSessionRunning) {
			respondError(w, http.StatusConflict, "a session is already running")
			return
		}
		log.WithError(err).Error("Failed to start session")
		respondError(w, http.StatusInternalServerError, "failed to start session")
		return
	}

	respondJSON(w, http.StatusOK, h.controller.Snapshot())
}

func (h *Handler) stopSession(w http.ResponseWriter, _ *http.Request) {
	if err := h.controller.Stop(); err != nil {
		log.WithError(err).Error("Failed to stop session")
		respondError(w, http.StatusInternalServerError, "failed to stop session")
		return
	}
	respondJSON(w, http.StatusOK, h.controller.Snapshot())
}

func (h *Handler) getSystemStats(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, utils.CollectSystemStats())
}

// serveEvents streams session snapshots and attendance events as SSE.
func (h *Handler) serveEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	client := make(sse.Client, 16)
	h.hub.Register(client)
	defer h.hub.Unregister(client)

	for {
		select {
		case <-r.Context().Done():
			return
		case message, open := <-client:
			if !open {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", message); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
