package monitor

import (
	"regexp"
	"strings"
)

var numericToken = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

// Normalize turns raw extracted text into a canonical comparable value.
// If the trimmed text contains a numeric token, the canonical value is that
// number with thousands separators stripped ("$1,234.50 USD" → "1234.50").
// Otherwise it is the trimmed text itself. Makes prices and counters
// comparable despite formatting churn while keeping exact comparison for
// everything else.
func Normalize(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if tok := numericToken.FindString(strings.ReplaceAll(trimmed, ",", "")); tok != "" {
		return tok
	}
	return trimmed
}
