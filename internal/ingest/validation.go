package ingest

import "fmt"

const (
	minShortCodeLength = 3
	maxShortCodeLength = 50
	maxMetaLength      = 500
	maxVisitorIDLength = 64
)

// ValidateVisitPayload validates visit payload fields before the
// worker spends any effort on them. Failures send the message to the
// dead-letter queue.
func ValidateVisitPayload(payload VisitPayload) error {
	if payload.ShortCode == "" {
		return fmt.Errorf("short_code is required")
	}
	if len(payload.ShortCode) < minShortCodeLength || len(payload.ShortCode) > maxShortCodeLength {
		return fmt.Errorf("short_code length out of bounds")
	}
	if payload.LinkID == "" {
		return fmt.Errorf("link_id is required")
	}
	if payload.VisitedAt <= 0 {
		return fmt.Errorf("visited_at must be set")
	}
	if payload.Country != "" && len(payload.Country) != 2 {
		return fmt.Errorf("country must be 2 chars")
	}
	if len(payload.Referrer) > maxMetaLength {
		return fmt.Errorf("referrer too long")
	}
	if len(payload.UserAgent) > maxMetaLength {
		return fmt.Errorf("user_agent too long")
	}
	if len(payload.VisitorID) > maxVisitorIDLength {
		return fmt.Errorf("visitor_id too long")
	}
	return nil
}
