// Package auth holds the authentication building blocks: OAuth provider
// clients, the provider registry, password hashing, activation tokens and the
// session-based auth middleware.
//
// PROVIDER MODEL:
// Every provider implements the small Provider interface. Provider-specific
// extra steps are optional interfaces discovered with a type assertion:
//
//	EmailFetcher      → GitHub: /user may omit the email, /user/emails has it
//	ScopeIntrospector → Tinkoff: the granted scope must be checked before use
//
// Authenticate runs the steps in order and tags every failure with a Kind.
// Providers report facts only; deciding which local user a profile belongs
// to is the service layer's job.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
)

// Profile is the normalized result of a provider profile fetch.
type Profile struct {
	ProviderUserID string
	Email          string // "" when the provider gave none
	FirstName      string
	LastName       string
	Raw            json.RawMessage // provider payload, stored with the identity
}

// Provider is one OAuth2 identity provider.
type Provider interface {
	// Name is the path segment and storage key, e.g. "github".
	Name() string

	// AuthURL returns the authorize URL carrying state.
	AuthURL(state string) string

	// ExchangeCode trades an authorization code for a token.
	ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error)

	// FetchProfile reads the account behind token.
	FetchProfile(ctx context.Context, token *oauth2.Token) (*Profile, error)
}

// EmailFetcher is implemented by providers whose profile may lack an email
// that a secondary endpoint can supply.
type EmailFetcher interface {
	FetchPrimaryEmail(ctx context.Context, token *oauth2.Token) (string, error)
}

// ScopeIntrospector is implemented by providers that require checking the
// granted scope before the token is used.
type ScopeIntrospector interface {
	IntrospectScope(ctx context.Context, token *oauth2.Token) error
}

// Authenticate runs the full provider round-trip for code. Each step is a
// single HTTP call with no retry: codes are single-use, so a failure means
// the user has to start over.
func Authenticate(ctx context.Context, p Provider, code string) (*Profile, error) {
	token, err := p.ExchangeCode(ctx, code)
	if err != nil {
		return nil, tag(KindTokenExchangeFailed, err)
	}

	if in, ok := p.(ScopeIntrospector); ok {
		if err := in.IntrospectScope(ctx, token); err != nil {
			return nil, tag(KindIntrospectionFailed, err)
		}
	}

	profile, err := p.FetchProfile(ctx, token)
	if err != nil {
		return nil, tag(KindProfileFetchFailed, err)
	}
	if profile.ProviderUserID == "" {
		return nil, NewError(KindProfileFetchFailed, fmt.Errorf("%s profile has no user id", p.Name()))
	}

	if profile.Email == "" {
		if ef, ok := p.(EmailFetcher); ok {
			email, err := ef.FetchPrimaryEmail(ctx, token)
			if err != nil {
				return nil, tag(KindProfileFetchFailed, err)
			}
			profile.Email = email
		}
	}

	return profile, nil
}

// NewHTTPClient returns the client providers use for outbound calls: bounded
// by timeout and traced through otelhttp.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// withClient makes golang.org/x/oauth2 use client for the token exchange.
func withClient(ctx context.Context, client *http.Client) context.Context {
	if client == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, client)
}

// maxBodyBytes caps provider responses.
const maxBodyBytes = 1 << 20

// doJSON sends req and decodes a 2xx JSON response into out.
func doJSON(client *http.Client, req *http.Request, out any) error {
	if client == nil {
		client = http.DefaultClient
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Redacted(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("reading %s: %w", req.URL.Redacted(), err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: status %d", req.Method, req.URL.Redacted(), resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding %s: %w", req.URL.Redacted(), err)
	}
	return nil
}

// splitName splits "First Rest Of Name" on the first space.
func splitName(full string) (first, last string) {
	full = strings.TrimSpace(full)
	first, last, _ = strings.Cut(full, " ")
	return first, strings.TrimSpace(last)
}
