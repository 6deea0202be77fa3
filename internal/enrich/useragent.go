// Package enrich derives device, browser, and geo attributes for
// visit events before they are persisted.
package enrich

import (
	"strings"

	"github.com/ua-parser/uap-go/uaparser"
)

// Device type values stored on visit events.
const (
	DeviceDesktop = "desktop"
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceBot     = "bot"
	DeviceUnknown = "unknown"
)

// Device is the parsed user-agent profile of a visit.
type Device struct {
	Type           string
	Brand          string
	OS             string
	Browser        string
	BrowserVersion string
	BrowserEngine  string
}

// IsBot reports whether the visit came from a crawler.
func (d Device) IsBot() bool {
	return d.Type == DeviceBot
}

// Parser wraps the uap-core user-agent parser with device type
// classification. Safe for concurrent use.
type Parser struct {
	parser *uaparser.Parser
}

// NewParser creates a Parser backed by the regex set bundled with
// uap-go, so no external regexes.yaml is needed at runtime.
func NewParser() *Parser {
	return &Parser{parser: uaparser.NewFromSaved()}
}

// ParseUserAgent derives the device profile from a raw User-Agent
// header. An empty or unrecognized UA yields "unknown" fields rather
// than an error; enrichment never blocks ingestion.
func (p *Parser) ParseUserAgent(userAgent string) Device {
	if userAgent == "" {
		return Device{
			Type:    DeviceUnknown,
			OS:      "unknown",
			Browser: "unknown",
		}
	}

	client := p.parser.Parse(userAgent)

	d := Device{
		Brand:          orEmpty(client.Device.Brand),
		OS:             orUnknown(client.Os.Family),
		Browser:        orUnknown(client.UserAgent.Family),
		BrowserVersion: browserVersion(client),
		BrowserEngine:  browserEngine(client.UserAgent.Family),
	}
	d.Type = deviceType(client, userAgent)

	return d
}

// deviceType classifies the visit as bot, tablet, mobile, desktop, or
// unknown. Bots are checked first so crawler traffic never pollutes
// the device breakdown.
func deviceType(client *uaparser.Client, userAgent string) string {
	if isBot(client, userAgent) {
		return DeviceBot
	}

	family := client.Device.Family
	if family != "" && family != "Other" {
		if isTabletDevice(family) {
			return DeviceTablet
		}
		if isMobileDevice(family) {
			return DeviceMobile
		}
	}

	switch os := client.Os.Family; {
	case isMobileOS(os):
		if isTabletUA(os, userAgent) {
			return DeviceTablet
		}
		return DeviceMobile
	case isDesktopOS(os):
		return DeviceDesktop
	}

	return DeviceUnknown
}

var botIndicators = []string{
	"googlebot", "bingbot", "slurp", "duckduckbot", "baiduspider",
	"yandexbot", "facebookexternalhit", "twitterbot", "linkedinbot",
	"whatsapp", "telegrambot", "bot", "crawler", "spider", "scraper",
	"curl", "wget", "python-requests",
}

func isBot(client *uaparser.Client, userAgent string) bool {
	ua := strings.ToLower(userAgent)
	family := strings.ToLower(client.UserAgent.Family)
	for _, indicator := range botIndicators {
		if strings.Contains(family, indicator) || strings.Contains(ua, indicator) {
			return true
		}
	}
	return false
}

func isTabletDevice(family string) bool {
	for _, d := range []string{"iPad", "Tablet", "Kindle", "Surface"} {
		if strings.Contains(family, d) {
			return true
		}
	}
	return false
}

func isMobileDevice(family string) bool {
	for _, d := range []string{"iPhone", "Android", "BlackBerry", "Windows Phone", "Mobile", "Phone", "Pixel", "Galaxy"} {
		if strings.Contains(family, d) {
			return true
		}
	}
	return false
}

func isMobileOS(family string) bool {
	for _, os := range []string{"iOS", "Android", "Windows Phone", "BlackBerry OS", "Firefox OS", "KaiOS"} {
		if strings.Contains(family, os) {
			return true
		}
	}
	return false
}

// isTabletUA distinguishes tablets within mobile operating systems:
// iPads report iOS, and Android tablets omit "Mobile" from the UA.
func isTabletUA(osFamily, userAgent string) bool {
	if strings.Contains(osFamily, "iOS") {
		return strings.Contains(userAgent, "iPad")
	}
	if strings.Contains(osFamily, "Android") {
		return !strings.Contains(userAgent, "Mobile")
	}
	return false
}

func isDesktopOS(family string) bool {
	for _, os := range []string{"Windows", "Mac OS X", "macOS", "Linux", "Ubuntu", "Chrome OS", "FreeBSD", "OpenBSD", "NetBSD"} {
		if strings.Contains(family, os) {
			return true
		}
	}
	return false
}

func browserVersion(client *uaparser.Client) string {
	ua := client.UserAgent
	if ua.Major == "" {
		return ""
	}
	version := ua.Major
	if ua.Minor != "" {
		version += "." + ua.Minor
	}
	return version
}

// browserEngine maps the browser family to its rendering engine.
// uap-core does not report the engine, so this is a coarse mapping of
// the families that matter for the breakdown.
func browserEngine(family string) string {
	switch {
	case family == "":
		return ""
	case strings.Contains(family, "Firefox"):
		return "Gecko"
	case strings.Contains(family, "Safari") && !strings.Contains(family, "Chrome"):
		return "WebKit"
	case strings.Contains(family, "Chrome"),
		strings.Contains(family, "Chromium"),
		strings.Contains(family, "Edge"),
		strings.Contains(family, "Opera"),
		strings.Contains(family, "Brave"),
		strings.Contains(family, "Samsung Internet"):
		return "Blink"
	case strings.Contains(family, "IE"), strings.Contains(family, "Trident"):
		return "Trident"
	}
	return ""
}

func orUnknown(s string) string {
	if s == "" || s == "Other" {
		return "unknown"
	}
	return s
}

func orEmpty(s string) string {
	if s == "Other" {
		return ""
	}
	return s
}
