package card

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeText trims surrounding whitespace and applies Unicode NFC so that
// visually identical names compare and persist identically.
func NormalizeText(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}
