package ingest

import (
	"strings"
	"testing"
)

func validPayload() VisitPayload {
	return VisitPayload{
		ShortCode: "abc123",
		LinkID:    "link-1",
		IP:        "203.0.113.7",
		UserAgent: "Mozilla/5.0",
		Country:   "US",
		VisitedAt: 1700000000000,
	}
}

func TestValidateVisitPayload_Valid(t *testing.T) {
	t.Parallel()

	if err := ValidateVisitPayload(validPayload()); err != nil {
		t.Errorf("valid payload rejected: %v", err)
	}

	// Optional fields may all be empty.
	minimal := VisitPayload{ShortCode: "abc", LinkID: "l1", VisitedAt: 1}
	if err := ValidateVisitPayload(minimal); err != nil {
		t.Errorf("minimal payload rejected: %v", err)
	}
}

func TestValidateVisitPayload_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*VisitPayload)
	}{
		{"missing short code", func(p *VisitPayload) { p.ShortCode = "" }},
		{"short code too short", func(p *VisitPayload) { p.ShortCode = "ab" }},
		{"short code too long", func(p *VisitPayload) { p.ShortCode = strings.Repeat("x", 51) }},
		{"missing link id", func(p *VisitPayload) { p.LinkID = "" }},
		{"missing timestamp", func(p *VisitPayload) { p.VisitedAt = 0 }},
		{"bad country", func(p *VisitPayload) { p.Country = "USA" }},
		{"referrer too long", func(p *VisitPayload) { p.Referrer = strings.Repeat("r", 501) }},
		{"user agent too long", func(p *VisitPayload) { p.UserAgent = strings.Repeat("u", 501) }},
		{"visitor id too long", func(p *VisitPayload) { p.VisitorID = strings.Repeat("v", 65) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p := validPayload()
			tt.mutate(&p)
			if err := ValidateVisitPayload(p); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
