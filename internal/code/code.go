// Package code normalizes raw instrument identifiers and classifies them by
// market segment.
package code

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidFormat is returned when an identifier does not reduce to exactly six digits.
var ErrInvalidFormat = errors.New("invalid instrument code format")

// Width is the number of digits in a canonical code.
const Width = 6

var marketPrefixes = []string{"sh", "sz", "bj", "hk"}

// Format reduces a raw identifier such as "sh510300", "510300.SH" or
// "SZ.159915" to its six digit form. Prefixes and every non-digit rune are
// stripped; the remainder must be exactly six digits; nothing is padded or cut.
func Format(raw string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	for _, p := range marketPrefixes {
		s = strings.TrimPrefix(s, p)
		s = strings.TrimSuffix(s, "."+p)
	}

	var b strings.Builder
	b.Grow(Width)
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}

	out := b.String()
	if len(out) != Width {
		return "", fmt.Errorf("%w: %q", ErrInvalidFormat, raw)
	}
	return out, nil
}

// IsCanonical reports whether s is already a six digit code.
func IsCanonical(s string) bool {
	if len(s) != Width {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
