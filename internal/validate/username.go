// Package validate holds the input validation rules for names the setup
// helper accepts from the unprivileged GUI: usernames, hostnames, and
// group names. The validators are pure functions safe to call on every
// keystroke; only the group existence check touches the system database
// and is meant for submission time.
package validate

import (
	"regexp"
	"strings"
)

// UsernameResult is the outcome of validating a username.
type UsernameResult int

const (
	UsernameValid UsernameResult = iota
	UsernameEmpty
	UsernameTooLong
	UsernameInvalidCharacters
)

// MaxUsernameLength is the maximum number of characters in a username.
const MaxUsernameLength = 32

// Usernames must start with a letter or underscore, followed by letters,
// digits, periods, underscores, or hyphens.
var usernamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.-]*$`)

// Username validates the given username after trimming whitespace.
func Username(username string) UsernameResult {
	trimmed := strings.TrimSpace(username)

	if trimmed == "" {
		return UsernameEmpty
	}
	if len(trimmed) > MaxUsernameLength {
		return UsernameTooLong
	}
	if !usernamePattern.MatchString(trimmed) {
		return UsernameInvalidCharacters
	}
	return UsernameValid
}

// UsernameOK reports whether the username passes validation.
func UsernameOK(username string) bool {
	return Username(username) == UsernameValid
}

// UsernameMessage returns the user-facing feedback for a validation
// result. Empty for a valid username.
func UsernameMessage(result UsernameResult) string {
	switch result {
	case UsernameValid:
		return ""
	case UsernameEmpty:
		return "Username cannot be empty."
	case UsernameTooLong:
		return "Username is too long (maximum 32 characters)."
	case UsernameInvalidCharacters:
		return "Usernames must start with a letter or underscore. They may contain only letters, numbers, periods, underscores, or hyphens."
	}
	return ""
}
