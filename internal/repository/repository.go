// Package repository declares the persistence contracts the services depend
// on. Implementations live in sub-packages (see repository/sqlite).
package repository

import (
	"context"

	"github.com/sakif/authlink/internal/model"
)

// UserRepository reads and writes local accounts.
//
// Lookups that find nothing return an error wrapping apperror.ErrNotFound;
// unique violations on email or phone wrap apperror.ErrConflict with
// AppError.Field set to "email" or "phone".
type UserRepository interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	PhoneInUse(ctx context.Context, phone string) (bool, error)
	UpdateProfile(ctx context.Context, id string, update model.ProfileUpdate) error
	Activate(ctx context.Context, id string) error
	TouchLastLogin(ctx context.Context, id string) error
	DeleteUser(ctx context.Context, id string) error
}

// BindRequest asks for one Identity to be attached to a user.
//
// With UserID set the identity is attached to that existing user (link flow).
// Otherwise the user is found by Email, or created from Email, FirstName and
// LastName when absent (sign-in flow).
type BindRequest struct {
	UserID    string
	Email     string
	FirstName string
	LastName  string
	Identity  model.Identity
}

// BindResult is what BindIdentity wrote.
type BindResult struct {
	User        *model.User
	Identity    *model.Identity
	UserCreated bool
}

// IdentityRepository reads and writes provider identities.
type IdentityRepository interface {
	GetIdentity(ctx context.Context, provider, providerUserID string) (*model.Identity, error)
	ListIdentities(ctx context.Context, userID string) ([]model.Identity, error)

	// BindIdentity resolves or creates the user and inserts the identity in
	// one transaction: either both rows are written or neither is. A second
	// identity for the same (provider, provider_user_id) fails with an error
	// wrapping apperror.ErrConflict.
	BindIdentity(ctx context.Context, req BindRequest) (*BindResult, error)
}

// Stats are the row counts reported by the health endpoint.
type Stats struct {
	Users      int `json:"users"`
	Identities int `json:"identities"`
	Sessions   int `json:"sessions"`
}
