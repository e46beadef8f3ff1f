package sms

import (
	"errors"
	"strings"
)

var ErrInvalidNumber = errors.New("invalid phone number")

// NormalizeNumber converts local Kenyan formats to canonical
// international form (+2547XXXXXXXX / +2541XXXXXXXX). Accepted inputs:
// "+2547...", "2547...", "07...", "01...", "7...", "1..." with
// spaces, dashes or dots mixed in.
func NormalizeNumber(raw string) (string, error) {
	var b strings.Builder
	for i, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
		case r == ' ' || r == '-' || r == '.':
		default:
			return "", ErrInvalidNumber
		}
	}
	digits := b.String()

	switch {
	case strings.HasPrefix(digits, "254"):
		digits = digits[3:]
	case strings.HasPrefix(digits, "0"):
		digits = digits[1:]
	}
	if len(digits) != 9 {
		return "", ErrInvalidNumber
	}
	if digits[0] != '7' && digits[0] != '1' {
		return "", ErrInvalidNumber
	}
	return "+254" + digits, nil
}
