package verify

import (
	"regexp"
	"strings"
)

var (
	lineBreaks = strings.NewReplacer("\n", "", "\t", "")
	whitespace = regexp.MustCompile(`\s+`)
	bareKey    = regexp.MustCompile(`([{,]\s*)([a-zA-Z0-9_]+)\s*:`)
)

// Normalize turns loosely written pseudo-JSON into strict JSON text.
// Newlines and tabs are removed, whitespace runs collapse to one space and
// bare identifier keys are quoted. Applying it twice is a no-op.
func Normalize(s string) string {
	s = lineBreaks.Replace(s)
	s = strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
	return bareKey.ReplaceAllString(s, `$1"$2":`)
}
