package session

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxTitleLength is the longest sanitized title in runes
const MaxTitleLength = 100

// DefaultTitle replaces titles that sanitize to nothing
const DefaultTitle = "video"

const unsafeChars = `<>:"/\|?*`

// SanitizeFilename turns a free-form title into a filesystem-safe base name.
// The result is deterministic, never longer than MaxTitleLength runes, and
// sanitizing it again returns it unchanged.
func SanitizeFilename(title string) string {
	var b strings.Builder
	b.Grow(len(title))

	pendingSpace := false
	for _, r := range title {
		switch {
		case r == utf8.RuneError:
			r = '_'
		case strings.ContainsRune(unsafeChars, r):
			r = '_'
		case unicode.IsSpace(r):
			pendingSpace = true
			continue
		case unicode.IsControl(r):
			r = '_'
		}
		if pendingSpace {
			b.WriteByte(' ')
			pendingSpace = false
		}
		b.WriteRune(r)
	}

	safe := strings.Trim(b.String(), " .")
	if utf8.RuneCountInString(safe) > MaxTitleLength {
		runes := []rune(safe)
		safe = strings.Trim(string(runes[:MaxTitleLength]), " .")
	}
	if safe == "" {
		return DefaultTitle
	}
	return safe
}
