package auth

// ACTIVATION TOKENS:
// Registration creates an inactive account and mails a link containing a
// signed token. The token is a JWT:
//
//	HEADER.PAYLOAD.SIGNATURE
//	- Payload: {"sub":"<userID>","aud":["activation"],"iss":"authlink","exp":...}
//	- Signature: HMAC-SHA256 with SECRET_KEY
//
// Verifying it needs no database lookup; the audience stops a token minted
// for one purpose from being accepted for another.

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	tokenIssuer = "authlink"

	// AudienceActivation marks account-activation tokens.
	AudienceActivation = "activation"

	// ActivationTTL is how long an activation link stays valid.
	ActivationTTL = 72 * time.Hour
)

// TokenService signs and verifies purpose-scoped tokens.
type TokenService struct {
	secret []byte
	now    func() time.Time
}

// NewTokenService creates a TokenService with the given secret.
// Generate one with: SECRET_KEY=$(openssl rand -hex 32)
func NewTokenService(secret string) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: secret key must be at least 16 characters")
	}
	return &TokenService{secret: []byte(secret), now: time.Now}, nil
}

// GenerateActivation returns an activation token for userID.
func (s *TokenService) GenerateActivation(userID string) (string, error) {
	return s.GenerateWithDuration(userID, AudienceActivation, ActivationTTL)
}

// GenerateWithDuration signs a token for userID, valid for audience, that
// expires after d.
func (s *TokenService) GenerateWithDuration(userID, audience string, d time.Duration) (string, error) {
	now := s.now()

	c := jwt.RegisteredClaims{
		Subject:   userID,
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(d)),
		Issuer:    tokenIssuer,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}
	return signed, nil
}

// Validate verifies tokenStr for audience and returns the user id in "sub".
//
// Checks: HS256 only (no "none"/algorithm confusion), issuer, audience,
// and a required, unexpired exp.
func (s *TokenService) Validate(tokenStr, audience string) (string, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&jwt.RegisteredClaims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", fmt.Errorf("auth: token expired")
		}
		return "", fmt.Errorf("auth: invalid token: %w", err)
	}

	c, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("auth: invalid token claims")
	}
	if c.Subject == "" {
		return "", fmt.Errorf("auth: token has no subject")
	}
	return c.Subject, nil
}
