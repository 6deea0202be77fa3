// Package handler implements the HTTP endpoints: link management,
// redirects, stats, API keys, health, and the admin surface.
package handler

import (
	"encoding/json"
	"net/http"
)

const serviceVersion = "0.1.0"

// Handler serves the endpoints that need no collaborators: the
// service root and the router's fallback responses.
type Handler struct{}

func New() *Handler {
	return &Handler{}
}

// Root identifies the service.
//
// GET /
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "shortstat",
		"version": serviceVersion,
	})
}

// NotFound is the router's 404 fallback, kept JSON like every other
// error response.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "resource not found",
		"code":  "NOT_FOUND",
	})
}

// MethodNotAllowed is the router's 405 fallback.
func (h *Handler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{
		"error": "method not allowed",
		"code":  "METHOD_NOT_ALLOWED",
	})
}

// writeJSON writes data with the given status. An encode failure
// here means the connection is gone; there is nothing left to send.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
