package requestid

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// MaxLength caps request IDs at UUID length.
const MaxLength = 36

var sanitizeRegex = regexp.MustCompile(`[^a-zA-Z0-9-]+`)

// New returns a request ID. A caller-supplied ID is sanitized to
// [a-zA-Z0-9-] and truncated; if nothing usable remains, a fresh UUID
// is generated instead.
func New(customID string) string {
	sanitized := strings.ReplaceAll(customID, " ", "-")
	sanitized = sanitizeRegex.ReplaceAllString(sanitized, "")
	sanitized = strings.Trim(sanitized, "-")

	if sanitized == "" {
		return uuid.New().String()
	}
	if len(sanitized) > MaxLength {
		sanitized = sanitized[:MaxLength]
	}
	return sanitized
}
