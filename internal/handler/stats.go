package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/shortstat/shortstat/internal/auth"
	"github.com/shortstat/shortstat/internal/handler/dto"
	"github.com/shortstat/shortstat/internal/report"
)

// StatsHandler serves the merged analytics reports.
type StatsHandler struct {
	svc    *report.Service
	logger *slog.Logger
}

// NewStatsHandler creates a new StatsHandler.
func NewStatsHandler(svc *report.Service, logger *slog.Logger) *StatsHandler {
	return &StatsHandler{
		svc:    svc,
		logger: logger.With("component", "handler.stats"),
	}
}

// Overview handles GET /v1/stats/overview.
func (h *StatsHandler) Overview(w http.ResponseWriter, r *http.Request) {
	ownerID, rng, ok := h.prepare(w, r)
	if !ok {
		return
	}

	overview, err := h.svc.Overview(r.Context(), ownerID, rng)
	if err != nil {
		h.serveError(w, r, "overview", err)
		return
	}

	writeJSON(w, http.StatusOK, overview)
}

// Countries handles GET /v1/stats/countries.
func (h *StatsHandler) Countries(w http.ResponseWriter, r *http.Request) {
	ownerID, rng, ok := h.prepare(w, r)
	if !ok {
		return
	}

	shares, err := h.svc.Countries(r.Context(), ownerID, rng)
	if err != nil {
		h.serveError(w, r, "countries", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"countries": shares})
}

// Devices handles GET /v1/stats/devices.
func (h *StatsHandler) Devices(w http.ResponseWriter, r *http.Request) {
	ownerID, rng, ok := h.prepare(w, r)
	if !ok {
		return
	}

	devices, err := h.svc.Devices(r.Context(), ownerID, rng)
	if err != nil {
		h.serveError(w, r, "devices", err)
		return
	}

	writeJSON(w, http.StatusOK, devices)
}

// DeviceTypes handles GET /v1/stats/device-types.
func (h *StatsHandler) DeviceTypes(w http.ResponseWriter, r *http.Request) {
	ownerID, rng, ok := h.prepare(w, r)
	if !ok {
		return
	}

	shares, err := h.svc.DeviceTypes(r.Context(), ownerID, rng)
	if err != nil {
		h.serveError(w, r, "device types", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"devices": shares})
}

// MobileBrands handles GET /v1/stats/mobile-brands.
func (h *StatsHandler) MobileBrands(w http.ResponseWriter, r *http.Request) {
	ownerID, rng, ok := h.prepare(w, r)
	if !ok {
		return
	}

	shares, err := h.svc.MobileBrands(r.Context(), ownerID, rng)
	if err != nil {
		h.serveError(w, r, "mobile brands", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"brands": shares})
}

// TimePatterns handles GET /v1/stats/time-patterns.
func (h *StatsHandler) TimePatterns(w http.ResponseWriter, r *http.Request) {
	ownerID, rng, ok := h.prepare(w, r)
	if !ok {
		return
	}

	patterns, err := h.svc.TimePatterns(r.Context(), ownerID, rng)
	if err != nil {
		h.serveError(w, r, "time patterns", err)
		return
	}

	writeJSON(w, http.StatusOK, patterns)
}

// LinkStats handles GET /v1/links/{id}/stats.
func (h *StatsHandler) LinkStats(w http.ResponseWriter, r *http.Request) {
	ownerID, rng, ok := h.prepare(w, r)
	if !ok {
		return
	}

	linkID := chi.URLParam(r, "id")
	if linkID == "" {
		h.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Link ID is required")
		return
	}

	detail, err := h.svc.LinkDetail(r.Context(), ownerID, linkID, rng)
	if err != nil {
		h.serveError(w, r, "link detail", err)
		return
	}

	writeJSON(w, http.StatusOK, detail)
}

// prepare extracts the authenticated owner and resolves the
// requested date range. On failure the error response is already
// written.
func (h *StatsHandler) prepare(w http.ResponseWriter, r *http.Request) (string, report.Range, bool) {
	authCtx := auth.AuthFromContext(r.Context())
	if authCtx == nil || authCtx.UserID == "" {
		h.writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
		return "", report.Range{}, false
	}

	q := r.URL.Query()
	rng, err := h.svc.Resolve(report.RangeInput{
		StartDate: q.Get("start_date"),
		EndDate:   q.Get("end_date"),
		Period:    report.Period(q.Get("period")),
	})
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_RANGE", err.Error())
		return "", report.Range{}, false
	}

	return authCtx.UserID, rng, true
}

// serveError maps report errors to HTTP responses.
func (h *StatsHandler) serveError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, report.ErrLinkNotFound):
		h.writeError(w, http.StatusNotFound, "LINK_NOT_FOUND", "Link not found")
	case errors.Is(err, report.ErrInvalidRange):
		h.writeError(w, http.StatusBadRequest, "INVALID_RANGE", err.Error())
	default:
		h.logger.Error("stats query failed",
			"op", op,
			"path", r.URL.Path,
			"error", err,
		)
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to fetch stats")
	}
}

// writeError writes a JSON error response.
func (h *StatsHandler) writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, dto.ErrorResponse{
		Error: message,
		Code:  code,
	})
}
