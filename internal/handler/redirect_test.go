package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestVisitorFromCookie_CookielessHitHasNoIdentity(t *testing.T) {
	h := &RedirectHandler{}

	req := httptest.NewRequest(http.MethodGet, "/abc123", nil)
	rec := httptest.NewRecorder()

	if got := h.visitorFromCookie(rec, req); got != "" {
		t.Errorf("cookie-less hit returned identity %q, want none", got)
	}

	// A cookie is still minted for future requests.
	if visitorCookieValue(t, rec) == "" {
		t.Fatal("expected a minted ss_vid cookie on the response")
	}

	// A client that never echoes the cookie back must not accumulate
	// identities: every hit stays identity-less and falls through to
	// the session-fingerprint path.
	rec2 := httptest.NewRecorder()
	if got := h.visitorFromCookie(rec2, httptest.NewRequest(http.MethodGet, "/abc123", nil)); got != "" {
		t.Errorf("second cookie-less hit returned identity %q, want none", got)
	}
}

func TestVisitorFromCookie_EchoedCookieIsTheIdentity(t *testing.T) {
	h := &RedirectHandler{}

	req := httptest.NewRequest(http.MethodGet, "/abc123", nil)
	req.AddCookie(&http.Cookie{Name: visitorCookieName, Value: "01HV5K0YB7LZ"})
	rec := httptest.NewRecorder()

	if got := h.visitorFromCookie(rec, req); got != "01HV5K0YB7LZ" {
		t.Errorf("identity = %q, want the echoed cookie value", got)
	}
	if v := visitorCookieValue(t, rec); v != "01HV5K0YB7LZ" {
		t.Errorf("re-set cookie = %q, want the existing value refreshed", v)
	}
}

func visitorCookieValue(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == visitorCookieName {
			return c.Value
		}
	}
	return ""
}
