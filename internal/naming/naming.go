// Package naming derives file-system-safe names and date-bucketed paths.
package naming

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// ReplacementChar substitutes every reserved or control character.
const ReplacementChar = '_'

// Extension is appended to every document file name.
const Extension = ".md"

// MaxNameBytes is the longest file name, extension included, that common
// file systems accept.
const MaxNameBytes = 255

// ErrBadTimestamp is returned when a timestamp lacks a YYYY-MM-DD prefix.
var ErrBadTimestamp = errors.New("naming: timestamp has no YYYY-MM-DD prefix")

// BucketPath returns the YYYY-MM-DD directory segment for an ISO-8601
// timestamp. Only the first 10 characters are inspected.
func BucketPath(ts string) (string, error) {
	if len(ts) < 10 {
		return "", ErrBadTimestamp
	}
	parts := strings.Split(ts[:10], "-")
	if len(parts) != 3 || len(parts[0]) != 4 || len(parts[1]) != 2 || len(parts[2]) != 2 {
		return "", ErrBadTimestamp
	}
	for _, p := range parts {
		if !allDigits(p) {
			return "", ErrBadTimestamp
		}
	}
	year, month, day := parts[0], parts[1], parts[2]
	return year + "-" + month + "-" + day, nil
}

// Sanitize replaces < > : " / \ | ? * and control characters 0x00-0x1F
// with ReplacementChar. The result has the same byte length as name;
// invalid UTF-8 bytes are copied through unchanged.
func Sanitize(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for i := 0; i < len(name); {
		r, size := utf8.DecodeRuneInString(name[i:])
		switch {
		case r == utf8.RuneError && size == 1:
			b.WriteByte(name[i])
		case isReserved(r):
			b.WriteRune(ReplacementChar)
		default:
			b.WriteString(name[i : i+size])
		}
		i += size
	}
	return b.String()
}

// FileName returns the document file name for a title. A blank title falls
// back to the given identifier.
func FileName(title, fallback string) string {
	if strings.TrimSpace(title) == "" {
		title = fallback
	}
	return truncate(Sanitize(title), MaxNameBytes-len(Extension)) + Extension
}

// truncate cuts s to at most max bytes without splitting a character.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	end := 0
	for end < len(s) {
		_, size := utf8.DecodeRuneInString(s[end:])
		if end+size > max {
			break
		}
		end += size
	}
	return s[:end]
}

func isReserved(r rune) bool {
	if r < 0x20 {
		return true
	}
	switch r {
	case '<', '>', ':', '"', '/', '\\', '|', '?', '*':
		return true
	}
	return false
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
