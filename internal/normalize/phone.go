package normalize

import (
	"errors"
	"strings"
)

// ErrInvalidPhone is returned for anything that is not a Russian mobile or
// landline number.
var ErrInvalidPhone = errors.New("Invalid phone")

// Phone normalizes a Russian phone number to E.164 (+7XXXXXXXXXX).
//
// Every non-digit is dropped first, so "+7 (999) 123-45-67" is accepted.
// Eleven digits starting with 7 or 8 keep the last ten; ten digits are taken
// as the local part; any other length is invalid, as is an all-zero local part.
func Phone(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	var local string
	switch {
	case len(digits) == 11 && (digits[0] == '7' || digits[0] == '8'):
		local = digits[1:]
	case len(digits) == 10:
		local = digits
	default:
		return "", ErrInvalidPhone
	}

	if strings.Trim(local, "0") == "" {
		return "", ErrInvalidPhone
	}

	return "+7" + local, nil
}
