package card

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// NumberWidth is the fixed width of a card number.
const NumberWidth = 4

// MaxID is the largest id that still fits in NumberWidth digits.
const MaxID = 9999

var (
	// ErrInvalidNumber is returned for input that contains no digits or an id below 1.
	ErrInvalidNumber = errors.New("invalid card number")
	// ErrNumberOverflow is returned when an id or input needs more than NumberWidth digits.
	ErrNumberOverflow = errors.New("card number exceeds 4 digits")
)

// FormatNumber renders id as a zero-padded 4-digit string.
// Ids above MaxID are rejected rather than truncated.
func FormatNumber(id int64) (string, error) {
	if id < 1 {
		return "", fmt.Errorf("%w: id %d", ErrInvalidNumber, id)
	}
	if id > MaxID {
		return "", fmt.Errorf("%w: id %d", ErrNumberOverflow, id)
	}
	return fmt.Sprintf("%0*d", NumberWidth, id), nil
}

// NormalizeNumber turns user input such as "7", "#0007" or "[12]" into the
// storage key form. Non-digit characters are dropped.
func NormalizeNumber(s string) (string, error) {
	var b strings.Builder
	for _, r := range s {
		if r < unicode.MaxASCII && unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if digits == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidNumber, s)
	}
	if len(digits) > NumberWidth {
		return "", fmt.Errorf("%w: %q", ErrNumberOverflow, s)
	}
	return strings.Repeat("0", NumberWidth-len(digits)) + digits, nil
}
