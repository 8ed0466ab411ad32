// Package service holds the business rules between the HTTP handlers and
// the repositories:
//
//	handler (HTTP) → OAuthService   → auth.Provider (network)
//	                                → IdentityResolver → IdentityRepository
//	               → AccountService → UserRepository, mail.Sender
//
// Nothing here reads requests or writes responses.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/sakif/authlink/internal/apperror"
	"github.com/sakif/authlink/internal/auth"
	"github.com/sakif/authlink/internal/model"
	"github.com/sakif/authlink/internal/normalize"
	"github.com/sakif/authlink/internal/repository"
)

// Resolution is the outcome of IdentityResolver.Resolve.
type Resolution struct {
	User            *model.User
	Identity        *model.Identity
	UserCreated     bool
	IdentityCreated bool
}

// IdentityResolver maps a provider profile to a local user, creating the
// user and the identity row when needed.
//
// DECISION ORDER:
//  1. An identity for (provider, provider user id) already exists → its user.
//     In a link flow it must belong to the linking user.
//  2. Link flow → attach a new identity to the linking user.
//  3. Sign-in → find or create the user by normalized email and attach.
type IdentityResolver struct {
	users      repository.UserRepository
	identities repository.IdentityRepository
	logger     *slog.Logger
}

func NewIdentityResolver(
	users repository.UserRepository,
	identities repository.IdentityRepository,
	logger *slog.Logger,
) *IdentityResolver {
	return &IdentityResolver{users: users, identities: identities, logger: logger}
}

// bindAttempts bounds the retries after losing a uniqueness race.
const bindAttempts = 2

// Resolve binds profile from provider to a user. linkTo is the signed-in
// user in a link flow and nil otherwise.
func (r *IdentityResolver) Resolve(ctx context.Context, provider string, profile *auth.Profile, linkTo *model.User) (*Resolution, error) {
	if profile == nil || profile.ProviderUserID == "" {
		return nil, auth.NewError(auth.KindProfileFetchFailed, errors.New("profile has no provider user id"))
	}

	for attempt := 1; ; attempt++ {
		res, err := r.existing(ctx, provider, profile.ProviderUserID, linkTo)
		if err != nil || res != nil {
			return res, err
		}

		res, err = r.bind(ctx, provider, profile, linkTo)
		if err == nil {
			r.logger.Info("identity bound",
				slog.String("provider", provider),
				slog.String("user_id", res.User.ID),
				slog.Bool("user_created", res.UserCreated),
				slog.Bool("link", linkTo != nil),
			)
			return res, nil
		}
		// A concurrent callback for the same account, or a concurrent sign-up
		// with the same email, won the race. Look again.
		if !errors.Is(err, apperror.ErrConflict) || attempt == bindAttempts {
			return nil, err
		}
	}
}

// existing returns the resolution for an already-linked identity, or nil
// when there is none.
func (r *IdentityResolver) existing(ctx context.Context, provider, providerUserID string, linkTo *model.User) (*Resolution, error) {
	ident, err := r.identities.GetIdentity(ctx, provider, providerUserID)
	if errors.Is(err, apperror.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("service/identity: looking up %s identity: %w", provider, err)
	}

	if linkTo != nil && ident.UserID != linkTo.ID {
		return nil, auth.NewError(auth.KindIdentityConflict,
			fmt.Errorf("%s account %s belongs to user %s", provider, providerUserID, ident.UserID))
	}

	user, err := r.users.GetUserByID(ctx, ident.UserID)
	if err != nil {
		return nil, fmt.Errorf("service/identity: loading owner of %s identity: %w", provider, err)
	}
	if !user.IsActive {
		return nil, auth.NewError(auth.KindAuthenticationFailed, fmt.Errorf("user %s is not active", user.ID))
	}
	return &Resolution{User: user, Identity: ident}, nil
}

func (r *IdentityResolver) bind(ctx context.Context, provider string, profile *auth.Profile, linkTo *model.User) (*Resolution, error) {
	ident := model.Identity{
		Provider:       provider,
		ProviderUserID: profile.ProviderUserID,
		EmailVerified:  profile.Email != "",
		Profile:        profile.Raw,
	}
	if profile.Email != "" {
		email := profile.Email
		ident.Email = &email
	}

	req := repository.BindRequest{Identity: ident}
	if linkTo != nil {
		req.UserID = linkTo.ID
	} else {
		if profile.Email == "" {
			return nil, auth.NewError(auth.KindNoEmailAvailable, fmt.Errorf("%s returned no email", provider))
		}
		req.Email = normalize.Email(profile.Email)
		req.FirstName = clampName(profile.FirstName)
		req.LastName = clampName(profile.LastName)

		// Registered but never activated: the provider does not get to skip
		// the activation step.
		if user, err := r.users.GetUserByEmail(ctx, req.Email); err == nil && !user.IsActive {
			return nil, auth.NewError(auth.KindAuthenticationFailed, fmt.Errorf("user %s is not active", user.ID))
		}
	}

	res, err := r.identities.BindIdentity(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("service/identity: binding %s identity: %w", provider, err)
	}
	return &Resolution{
		User:            res.User,
		Identity:        res.Identity,
		UserCreated:     res.UserCreated,
		IdentityCreated: true,
	}, nil
}

// clampName normalizes a provider-supplied name and cuts it to
// model.MaxNameLength characters.
func clampName(raw string) string {
	name := normalize.Name(raw)
	if utf8.RuneCountInString(name) <= model.MaxNameLength {
		return name
	}
	runes := []rune(name)
	return strings.TrimSpace(string(runes[:model.MaxNameLength]))
}
