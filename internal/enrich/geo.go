package enrich

import (
	"net/http"
	"strings"
)

// Geo holds the edge-provided location attributes of a visit. Fields
// are empty when the request did not pass through the CDN.
type Geo struct {
	Country  string // ISO 3166-1 alpha-2, upper case
	Region   string
	City     string
	Timezone string // IANA name, e.g. America/New_York
}

// GeoFromHeaders extracts geo attributes from Cloudflare edge
// headers. The application trusts these headers; they are stripped at
// the edge for direct requests.
func GeoFromHeaders(h http.Header) Geo {
	return Geo{
		Country:  normalizeCountry(h.Get("CF-IPCountry")),
		Region:   h.Get("CF-Region"),
		City:     h.Get("CF-IPCity"),
		Timezone: h.Get("CF-Timezone"),
	}
}

// normalizeCountry upper-cases a two-letter country code and drops
// anything else, including Cloudflare's "XX" (unknown) and "T1" (Tor)
// placeholders.
func normalizeCountry(code string) string {
	if len(code) != 2 {
		return ""
	}
	code = strings.ToUpper(code)
	if code == "XX" || code == "T1" {
		return ""
	}
	return code
}
