// Package normalize turns user-supplied contact identifiers into the
// canonical form they are stored and compared in.
package normalize

import (
	"net/mail"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// gmailDomain ignores dots and "+tag" suffixes in the local part, so every
// spelling of one mailbox collapses to a single key.
const gmailDomain = "gmail.com"

// Email trims, NFC-normalizes and lower-cases an address. For gmail.com the
// "+suffix" and all dots are removed from the local part.
//
// Email does not validate; an input without "@" is returned lower-cased.
func Email(raw string) string {
	// A Caser keeps internal state, so build one per call instead of sharing.
	email := cases.Lower(language.Und).String(norm.NFC.String(strings.TrimSpace(raw)))

	at := strings.LastIndex(email, "@")
	if at < 0 {
		return email
	}
	local, domain := email[:at], email[at+1:]
	if domain != gmailDomain {
		return email
	}

	local, _, _ = strings.Cut(local, "+")
	local = strings.ReplaceAll(local, ".", "")
	return local + "@" + domain
}

// ValidEmail reports whether s is a bare address (no display name) with a
// dotted domain.
func ValidEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s || addr.Name != "" {
		return false
	}
	at := strings.LastIndex(s, "@")
	domain := s[at+1:]
	return strings.Contains(domain, ".") && !strings.HasPrefix(domain, ".") && !strings.HasSuffix(domain, ".")
}

// Name NFC-normalizes a person name and collapses every run of whitespace
// to one space, so that visually equal names compare equal.
func Name(raw string) string {
	return strings.Join(strings.Fields(norm.NFC.String(raw)), " ")
}
