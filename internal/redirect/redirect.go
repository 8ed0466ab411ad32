// Package redirect decides where the browser may be sent after an auth flow.
//
// Every post-login redirect goes through Target.Resolve, so there is a single
// open-redirect policy: same host only, and no https→http downgrade.
package redirect

import (
	"net/http"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Target describes the request a redirect is issued from.
type Target struct {
	Host   string // host[:port] exactly as the client addressed us
	Secure bool   // request arrived over https; only https targets are allowed
}

// FromRequest builds a Target for r. X-Forwarded-Proto is honoured only when
// trustForwardedProto is set (i.e. we run behind a known TLS terminator).
func FromRequest(r *http.Request, trustForwardedProto bool) Target {
	secure := r.TLS != nil
	if !secure && trustForwardedProto {
		secure = strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
	}
	return Target{Host: r.Host, Secure: secure}
}

// Candidate picks the redirect candidate: the "next" query value when set,
// else the Referer header.
func Candidate(next, referer string) string {
	if next != "" {
		return next
	}
	return referer
}

// Allows reports whether candidate is a relative URL or an absolute URL on
// t.Host with an acceptable scheme.
func (t Target) Allows(candidate string) bool {
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return false
	}
	// Browsers treat "\" as "/", so "/\evil.com" must be checked both ways.
	return t.allows(candidate) && t.allows(strings.ReplaceAll(candidate, `\`, "/"))
}

func (t Target) allows(raw string) bool {
	// "///evil.com" parses as a path but browsers follow it as a host.
	if strings.HasPrefix(raw, "///") {
		return false
	}

	first, _ := utf8.DecodeRuneInString(raw)
	if unicode.Is(unicode.C, first) {
		return false
	}

	u, err := url.Parse(raw)
	if err != nil {
		return false
	}

	// "http:evil.com" and "javascript:..." carry a scheme but no host.
	if u.Scheme != "" && u.Host == "" {
		return false
	}

	if u.Host != "" {
		if u.User != nil || !strings.EqualFold(u.Host, t.Host) {
			return false
		}
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme == "" && u.Host != "" {
		// Scheme-relative "//host/path" inherits the page scheme; assume the
		// weaker one so it is rejected under Secure.
		scheme = "http"
	}
	switch scheme {
	case "":
		return true
	case "https":
		return true
	case "http":
		return !t.Secure
	default:
		return false
	}
}

// Resolve returns candidate when Allows accepts it, else fallback.
func (t Target) Resolve(candidate, fallback string) string {
	if t.Allows(candidate) {
		return strings.TrimSpace(candidate)
	}
	return fallback
}
