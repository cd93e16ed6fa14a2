package validate

import (
	"regexp"
	"strings"
)

// HostnameResult is the outcome of validating a hostname.
type HostnameResult int

const (
	HostnameValid HostnameResult = iota
	HostnameEmpty
	HostnameDisallowed
	HostnameTooLong
	HostnameLeadingDot
	HostnameTrailingDot
	HostnameConsecutiveDots
	HostnameEmptyLabel
	HostnameLabelTooLong
	HostnameInvalidCharacters
)

const (
	// MaxHostnameLength is the maximum total hostname length.
	MaxHostnameLength = 253
	// MaxLabelLength is the maximum length of a single dot-separated label.
	MaxLabelLength = 63
)

// Each label must start and end with an alphanumeric character, with
// hyphens allowed in between.
var labelPattern = regexp.MustCompile(`^[A-Za-z0-9](?:[A-Za-z0-9-]*[A-Za-z0-9])?$`)

// disallowedHostnames are names that would shadow the loopback entry.
var disallowedHostnames = []string{"localhost", "localhost.localdomain"}

// Hostname validates the given hostname after trimming whitespace.
func Hostname(hostname string) HostnameResult {
	trimmed := strings.TrimSpace(hostname)

	if trimmed == "" {
		return HostnameEmpty
	}
	for _, disallowed := range disallowedHostnames {
		if strings.EqualFold(trimmed, disallowed) {
			return HostnameDisallowed
		}
	}
	if len(trimmed) > MaxHostnameLength {
		return HostnameTooLong
	}
	if strings.HasPrefix(trimmed, ".") {
		return HostnameLeadingDot
	}
	if strings.HasSuffix(trimmed, ".") {
		return HostnameTrailingDot
	}
	if strings.Contains(trimmed, "..") {
		return HostnameConsecutiveDots
	}

	for _, label := range strings.Split(trimmed, ".") {
		if label == "" {
			return HostnameEmptyLabel
		}
		if len(label) > MaxLabelLength {
			return HostnameLabelTooLong
		}
		if !labelPattern.MatchString(label) {
			return HostnameInvalidCharacters
		}
	}

	return HostnameValid
}

// HostnameOK reports whether the hostname passes validation.
func HostnameOK(hostname string) bool {
	return Hostname(hostname) == HostnameValid
}

// HostnameMessage returns the user-facing feedback for a validation
// result. Empty for a valid hostname.
func HostnameMessage(result HostnameResult) string {
	switch result {
	case HostnameValid:
		return ""
	case HostnameEmpty:
		return "Hostname cannot be empty."
	case HostnameDisallowed:
		return "Hostname cannot be \"localhost\" or \"localhost.localdomain\"."
	case HostnameTooLong:
		return "Hostname is too long (maximum 253 characters)."
	case HostnameLeadingDot:
		return "Hostname cannot start with a dot."
	case HostnameTrailingDot:
		return "Hostname cannot end with a dot."
	case HostnameConsecutiveDots:
		return "Hostname cannot contain consecutive dots."
	case HostnameEmptyLabel:
		return "Hostname labels cannot be empty."
	case HostnameLabelTooLong:
		return "Each hostname label must be at most 63 characters."
	case HostnameInvalidCharacters:
		return "Hostnames may contain letters, numbers, and hyphens. Each label must start and end with a letter or number."
	}
	return ""
}
