// Package sanitize normalizes user supplied text before it is stored.
package sanitize

import (
	"strings"
	"unicode"
)

// Text trims a message body and drops control characters. Line breaks and
// tabs survive so multi-line messages keep their shape.
func Text(input string) string {
	var b strings.Builder
	b.Grow(len(input))
	for _, r := range input {
		if r == '\n' || r == '\t' || !unicode.IsControl(r) {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// Name normalizes a single-line label such as a group name: control
// characters are removed and runs of whitespace collapse to one space.
// Group matching compares names after Name, so "Book  Club" and " Book Club"
// refer to the same group.
func Name(input string) string {
	return strings.Join(strings.FieldsFunc(input, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsControl(r)
	}), " ")
}

// Filename keeps only the base name of an uploaded file
func Filename(filename string) string {
	filename = strings.ReplaceAll(filename, "\\", "/")
	if i := strings.LastIndex(filename, "/"); i >= 0 {
		filename = filename[i+1:]
	}
	filename = Name(filename)
	if filename == "." || filename == ".." {
		return ""
	}
	return filename
}
