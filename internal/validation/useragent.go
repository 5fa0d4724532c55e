package validation

import (
	"errors"
	"strings"
)

const minUserAgentLen = 10

var (
	// ErrUserAgentEmpty is returned when no User-Agent is configured.
	ErrUserAgentEmpty = errors.New("user agent is required")

	// ErrUserAgentTooShort is returned when the User-Agent cannot identify an operator.
	ErrUserAgentTooShort = errors.New("user agent too short")

	// ErrUserAgentNoContact is returned when the User-Agent has no version, URL or email.
	ErrUserAgentNoContact = errors.New("user agent must contain contact information (/, @ or .)")
)

var placeholderUserAgents = []string{"test", "example", "change-me"}

// ValidateUserAgent checks that ua identifies the operator the way met.no's
// terms of service require, e.g. "weather-exporter/1.0 ops@example.org".
// It returns the trimmed value and any non-fatal warnings.
func ValidateUserAgent(ua string) (string, []string, error) {
	s := strings.TrimSpace(ua)
	if s == "" {
		return "", nil, ErrUserAgentEmpty
	}
	if len(s) < minUserAgentLen {
		return "", nil, ErrUserAgentTooShort
	}
	if !strings.ContainsAny(s, "/@.") {
		return "", nil, ErrUserAgentNoContact
	}

	var warnings []string
	lower := strings.ToLower(s)
	for _, p := range placeholderUserAgents {
		if strings.Contains(lower, p) {
			warnings = append(warnings, "user agent looks like a placeholder (contains \""+p+"\"); met.no may block it")
		}
	}
	return s, warnings, nil
}
