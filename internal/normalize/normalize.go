// Package normalize turns LMS display strings into identifier slugs and maps
// Moodle role shortnames onto hub groups.
package normalize

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxSlugLen bounds every slug produced by FormatString.
const MaxSlugLen = 50

var (
	ErrEmptyInput    = errors.New("normalize: input is empty")
	ErrEmptyRoleList = errors.New("normalize: role list is empty")
)

// UnknownRoleError reports a role shortname outside the fixed role table.
type UnknownRoleError struct{ Role string }

func (e *UnknownRoleError) Error() string {
	return fmt.Sprintf("normalize: unknown role %q", e.Role)
}

var (
	nonWordRun  = regexp.MustCompile(`[^\p{L}\p{N}_-]+`)
	parenthesis = regexp.MustCompile(`\([^)]*\)`)
)

// FormatString replaces every run of characters outside [word, hyphen] with
// an underscore, prefixes a leading digit with "a_", strips leading "_.-",
// lowercases and truncates to MaxSlugLen characters.
func FormatString(s string) (string, error) {
	if s == "" {
		return "", ErrEmptyInput
	}
	s = nonWordRun.ReplaceAllString(s, "_")
	if r, _ := utf8.DecodeRuneInString(s); unicode.IsDigit(r) {
		s = "a_" + s
	}
	s = strings.ToLower(strings.TrimLeft(s, "_.-"))
	if utf8.RuneCountInString(s) > MaxSlugLen {
		s = string([]rune(s)[:MaxSlugLen])
	}
	return s, nil
}

// MustFormat is FormatString for inputs already known to be non-empty.
func MustFormat(s string) string {
	out, err := FormatString(s)
	if err != nil {
		panic(err)
	}
	return out
}

// EmailToUsername derives a username from the local part of an email:
// plus-addressing and parenthesized comments are dropped before slugging.
func EmailToUsername(email string) (string, error) {
	if email == "" {
		return "", fmt.Errorf("email: %w", ErrEmptyInput)
	}
	username, _, _ := strings.Cut(email, "@")
	username, _, _ = strings.Cut(username, "+")
	username = parenthesis.ReplaceAllString(username, "")
	username = nonWordRun.ReplaceAllString(username, "")
	return FormatString(strings.ToLower(username))
}
