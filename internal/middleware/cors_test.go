package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func corsHandler(origins []string) http.Handler {
	cfg := DefaultCORSConfig()
	cfg.AllowedOrigins = origins
	return CORS(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func TestCORS_OriginMatching(t *testing.T) {
	tests := []struct {
		name       string
		origins    []string
		origin     string
		method     string
		wantStatus int
		wantAllow  string
	}{
		{
			name:       "no origins configured denies everyone",
			origins:    nil,
			origin:     "https://app.shortstat.dev",
			method:     http.MethodGet,
			wantStatus: http.StatusOK,
			wantAllow:  "",
		},
		{
			name:       "listed origin is echoed back",
			origins:    []string{"https://app.shortstat.dev"},
			origin:     "https://app.shortstat.dev",
			method:     http.MethodGet,
			wantStatus: http.StatusOK,
			wantAllow:  "https://app.shortstat.dev",
		},
		{
			name:       "unlisted origin preflight gets 403",
			origins:    []string{"https://app.shortstat.dev"},
			origin:     "https://attacker.example",
			method:     http.MethodOptions,
			wantStatus: http.StatusForbidden,
			wantAllow:  "",
		},
		{
			name:       "unlisted origin plain request passes through bare",
			origins:    []string{"https://app.shortstat.dev"},
			origin:     "https://attacker.example",
			method:     http.MethodGet,
			wantStatus: http.StatusOK,
			wantAllow:  "",
		},
		{
			name:       "allowed preflight answers 204",
			origins:    []string{"https://app.shortstat.dev"},
			origin:     "https://app.shortstat.dev",
			method:     http.MethodOptions,
			wantStatus: http.StatusNoContent,
			wantAllow:  "https://app.shortstat.dev",
		},
		{
			name:       "origin match is case-insensitive",
			origins:    []string{"HTTPS://APP.SHORTSTAT.DEV"},
			origin:     "https://app.shortstat.dev",
			method:     http.MethodGet,
			wantStatus: http.StatusOK,
			wantAllow:  "https://app.shortstat.dev",
		},
		{
			name:       "wildcard matches subdomain",
			origins:    []string{"*.shortstat.dev"},
			origin:     "https://dash.shortstat.dev",
			method:     http.MethodGet,
			wantStatus: http.StatusOK,
			wantAllow:  "https://dash.shortstat.dev",
		},
		{
			name:       "wildcard does not match suffix lookalike",
			origins:    []string{"*.shortstat.dev"},
			origin:     "https://notshortstat.dev",
			method:     http.MethodGet,
			wantStatus: http.StatusOK,
			wantAllow:  "",
		},
		{
			name:       "same-origin request untouched",
			origins:    []string{"https://app.shortstat.dev"},
			origin:     "",
			method:     http.MethodGet,
			wantStatus: http.StatusOK,
			wantAllow:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/v1/links", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rec := httptest.NewRecorder()

			corsHandler(tt.origins).ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllow {
				t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, tt.wantAllow)
			}
		})
	}
}

func TestCORS_PreflightHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/links", nil)
	req.Header.Set("Origin", "https://app.shortstat.dev")
	rec := httptest.NewRecorder()

	corsHandler([]string{"https://app.shortstat.dev"}).ServeHTTP(rec, req)

	for _, header := range []string{
		"Access-Control-Allow-Methods",
		"Access-Control-Allow-Headers",
		"Access-Control-Max-Age",
	} {
		if rec.Header().Get(header) == "" {
			t.Errorf("%s not set on preflight", header)
		}
	}
	if got := rec.Header().Get("Vary"); got != "Origin" {
		t.Errorf("Vary = %q, want %q", got, "Origin")
	}
}
