// Package security sanitizes the free-text fields the core accepts from
// customers and providers: job notes, decline reasons, and cancellation
// reasons. Closed-set fields are validated against their enum via
// go-playground/validator; free text is stripped of control characters
// and HTML-escaped before it is ever persisted or echoed back.
package security

import (
	"html"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

const maxFreeTextLen = 1000

// SanitizeFreeText strips control characters, trims surrounding
// whitespace, HTML-escapes the remainder, and truncates to a bounded
// length. Used for decline/cancellation reasons and job notes.
func SanitizeFreeText(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r == '\n' || r == '\t' || !unicode.IsControl(r) {
			b.WriteRune(r)
		}
	}
	cleaned := strings.TrimSpace(b.String())
	if len(cleaned) > maxFreeTextLen {
		cleaned = cleaned[:maxFreeTextLen]
	}
	return html.EscapeString(cleaned)
}

// SanitizeNotes applies SanitizeFreeText to a slice of customer-submitted
// notes, dropping any that are empty after sanitization.
func SanitizeNotes(notes []string) []string {
	out := make([]string, 0, len(notes))
	for _, n := range notes {
		if s := SanitizeFreeText(n); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// ValidateStruct runs struct-tag validation (go-playground/validator) for
// closed-set fields — status enums, priority, rating bounds — on any
// request DTO.
func ValidateStruct(v interface{}) error {
	return validate.Struct(v)
}
