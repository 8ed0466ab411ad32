package model

import (
	"encoding/json"
	"time"
)

// Identity binds one provider account to one local User.
//
// (Provider, ProviderUserID) is globally unique. Rows are written once and
// never updated.
type Identity struct {
	ID             string          `json:"id"`
	UserID         string          `json:"userId"`
	Provider       string          `json:"provider"`
	ProviderUserID string          `json:"providerUserId"`
	Email          *string         `json:"email"`
	EmailVerified  bool            `json:"emailVerified"`
	Profile        json.RawMessage `json:"-"` // raw provider payload, kept for audit
	CreatedAt      time.Time       `json:"createdAt"`
}
