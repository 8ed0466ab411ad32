package auth

import (
	"errors"
	"fmt"
)

// Kind classifies why an OAuth sign-in failed. Every kind is terminal for
// the request; the user restarts the flow.
type Kind int

const (
	KindInvalidState Kind = iota + 1
	KindMissingCode
	KindTokenExchangeFailed
	KindIntrospectionFailed
	KindProfileFetchFailed
	KindInsufficientScope
	KindNoEmailAvailable
	KindAuthenticationFailed
	KindIdentityConflict
)

var kindNames = map[Kind]string{
	KindInvalidState:         "invalid_state",
	KindMissingCode:          "missing_code",
	KindTokenExchangeFailed:  "token_exchange_failed",
	KindIntrospectionFailed:  "introspection_failed",
	KindProfileFetchFailed:   "profile_fetch_failed",
	KindInsufficientScope:    "insufficient_scope",
	KindNoEmailAvailable:     "no_email_available",
	KindAuthenticationFailed: "authentication_failed",
	KindIdentityConflict:     "identity_conflict",
}

// kindMessages are the client-facing texts. They never include upstream
// error details.
var kindMessages = map[Kind]string{
	KindInvalidState:         "Invalid OAuth state",
	KindMissingCode:          "Missing code parameter",
	KindTokenExchangeFailed:  "Failed to get access token",
	KindIntrospectionFailed:  "Failed to get introspect token",
	KindProfileFetchFailed:   "Failed to get user info",
	KindInsufficientScope:    "Missing scope",
	KindNoEmailAvailable:     "User has no email",
	KindAuthenticationFailed: "Authentication failed",
	KindIdentityConflict:     "Identity already linked to another account",
}

// String is the machine-readable name, e.g. "insufficient_scope".
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Message is the short human-readable text sent to the client.
func (k Kind) Message() string {
	if s, ok := kindMessages[k]; ok {
		return s
	}
	return kindMessages[KindAuthenticationFailed]
}

// Error is a tagged sign-in failure. Err carries the underlying cause for
// logs only.
type Error struct {
	Kind Kind
	Err  error
}

// NewError tags err with kind. err may be nil.
func NewError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return "auth: " + e.Kind.String()
	}
	return "auth: " + e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the Kind from anywhere in err's chain.
func KindOf(err error) (Kind, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind, true
	}
	return 0, false
}

// tag wraps err as kind unless it is already a tagged *Error.
func tag(kind Kind, err error) error {
	if _, ok := KindOf(err); ok {
		return err
	}
	return NewError(kind, err)
}
