// Package phone canonicalizes recipient numbers before they enter the outbox.
package phone

import (
	"errors"
	"strings"
	"unicode"
)

// CountryCode is prepended to every 11-digit subscriber number.
const CountryCode = "+86"

var ErrInvalidRecipient = errors.New("invalid recipient")

// strip drops any Unicode whitespace, hyphens and parentheses.
func strip(raw string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '-' || r == '(' || r == ')' {
			return -1
		}
		return r
	}, raw)
}

// Normalize returns the canonical form of raw: "+86" followed by the 11-digit
// subscriber number, or a 3-10 digit short code unchanged.
func Normalize(raw string) (string, error) {
	cleaned := strip(raw)

	switch {
	case strings.HasPrefix(cleaned, CountryCode):
		cleaned = strings.TrimPrefix(cleaned, CountryCode)
	case strings.HasPrefix(cleaned, "86") && len(cleaned) == 13:
		cleaned = cleaned[2:]
	}

	if !allDigits(cleaned) {
		return "", ErrInvalidRecipient
	}
	switch n := len(cleaned); {
	case n == 11:
		return CountryCode + cleaned, nil
	case n >= 3 && n <= 10:
		return cleaned, nil
	default:
		return "", ErrInvalidRecipient
	}
}

func allDigits(value string) bool {
	if value == "" {
		return false
	}
	for i := 0; i < len(value); i++ {
		if value[i] < '0' || value[i] > '9' {
			return false
		}
	}
	return true
}
