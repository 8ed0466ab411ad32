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
	"github.com/sakif/authlink/internal/mail"
	"github.com/sakif/authlink/internal/model"
	"github.com/sakif/authlink/internal/normalize"
	"github.com/sakif/authlink/internal/repository"
	"github.com/sakif/authlink/internal/session"
)

// Client-facing messages of the local account endpoints.
const (
	msgFieldsRequired     = "All fields are required"
	msgInvalidEmail       = "Invalid email"
	msgPasswordMismatch   = "The passwords entered do not match."
	msgTermsRequired      = "Terms must be accepted"
	msgCredentialsMissing = "Email and password required"
	msgInvalidCredential  = "Invalid credential"
	msgUserInactive       = "User is not active"
	msgActivationInvalid  = "Activation link is invalid"
)

// AccountService handles email/password accounts: registration with mailed
// activation, login, logout and profile edits.
type AccountService struct {
	users      repository.UserRepository
	identities repository.IdentityRepository
	passwords  *auth.PasswordService
	tokens     *auth.TokenService
	mailer     mail.Sender
	baseURL    string
	logger     *slog.Logger
}

func NewAccountService(
	users repository.UserRepository,
	identities repository.IdentityRepository,
	passwords *auth.PasswordService,
	tokens *auth.TokenService,
	mailer mail.Sender,
	baseURL string,
	logger *slog.Logger,
) *AccountService {
	return &AccountService{
		users:      users,
		identities: identities,
		passwords:  passwords,
		tokens:     tokens,
		mailer:     mailer,
		baseURL:    strings.TrimRight(baseURL, "/"),
		logger:     logger,
	}
}

// RegisterInput is the registration form. AcceptTerms is a pointer so an
// absent field can be told apart from false.
type RegisterInput struct {
	Email         string
	Password      string
	PasswordAgain string
	Phone         string
	AcceptTerms   *bool
}

// Register creates an inactive account and mails its activation link.
//
// Checks run in a fixed order and the first failure is reported:
// required fields, email syntax, password match, password policy, terms,
// phone format, phone uniqueness, email uniqueness.
func (s *AccountService) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	if strings.TrimSpace(in.Email) == "" || in.Password == "" || in.PasswordAgain == "" ||
		strings.TrimSpace(in.Phone) == "" || in.AcceptTerms == nil {
		return nil, apperror.ValidationFailed("", msgFieldsRequired)
	}
	if !normalize.ValidEmail(in.Email) {
		return nil, apperror.ValidationFailed("email", msgInvalidEmail)
	}
	if in.Password != in.PasswordAgain {
		return nil, apperror.ValidationFailed("passwordAgain", msgPasswordMismatch)
	}
	if err := auth.CheckPasswordPolicy(in.Password); err != nil {
		return nil, apperror.ValidationFailed("password", err.Error())
	}
	if !*in.AcceptTerms {
		return nil, apperror.ValidationFailed("acceptTerms", msgTermsRequired)
	}

	phone, err := normalize.Phone(in.Phone)
	if err != nil {
		return nil, apperror.ValidationFailed("phone", err.Error())
	}
	inUse, err := s.users.PhoneInUse(ctx, phone)
	if err != nil {
		return nil, fmt.Errorf("service/account: checking phone: %w", err)
	}
	if inUse {
		return nil, apperror.ConflictMessage("phone", "Phone already in use")
	}

	email := normalize.Email(in.Email)
	if _, err := s.users.GetUserByEmail(ctx, email); err == nil {
		return nil, apperror.ConflictMessage("email", "This Email already exists.")
	} else if !errors.Is(err, apperror.ErrNotFound) {
		return nil, fmt.Errorf("service/account: checking email: %w", err)
	}

	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		return nil, apperror.ValidationFailed("password", auth.ErrWeakPassword.Error())
	}

	user := &model.User{
		Email:        email,
		Phone:        &phone,
		PasswordHash: hash,
		IsActive:     false,
	}
	// Email and phone are unique in storage too; a concurrent registration
	// that slips past the checks above fails here with the same conflicts.
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("service/account: creating user: %w", err)
	}

	if err := s.sendActivation(ctx, user); err != nil {
		if delErr := s.users.DeleteUser(ctx, user.ID); delErr != nil {
			s.logger.Error("account: rolling back registration",
				slog.String("user_id", user.ID),
				slog.String("error", delErr.Error()),
			)
		}
		return nil, err
	}

	s.logger.Info("user registered", slog.String("user_id", user.ID))
	return user, nil
}

func (s *AccountService) sendActivation(ctx context.Context, user *model.User) error {
	token, err := s.tokens.GenerateActivation(user.ID)
	if err != nil {
		return fmt.Errorf("service/account: %w", err)
	}
	link := s.baseURL + "/auth/activate/" + token + "/"
	if err := s.mailer.Send(ctx, mail.ActivationMessage(user.Email, user.FirstName, link)); err != nil {
		return fmt.Errorf("service/account: sending activation mail: %w", err)
	}
	return nil
}

// Activate validates an activation token and activates its user.
// Activating an already active user succeeds.
func (s *AccountService) Activate(ctx context.Context, token string) (*model.User, error) {
	userID, err := s.tokens.Validate(token, auth.AudienceActivation)
	if err != nil {
		return nil, apperror.ValidationFailed("token", msgActivationInvalid)
	}

	if err := s.users.Activate(ctx, userID); err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.ValidationFailed("token", msgActivationInvalid)
		}
		return nil, fmt.Errorf("service/account: activating %s: %w", userID, err)
	}

	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/account: loading %s: %w", userID, err)
	}
	s.logger.Info("user activated", slog.String("user_id", user.ID))
	return user, nil
}

// Login checks email and password and logs sess in. Unknown email and wrong
// password give the same answer.
func (s *AccountService) Login(ctx context.Context, sess *session.Session, email, password string) (*model.User, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return nil, apperror.ValidationFailed("", msgCredentialsMissing)
	}

	user, err := s.users.GetUserByEmail(ctx, normalize.Email(email))
	if errors.Is(err, apperror.ErrNotFound) {
		return nil, apperror.ValidationFailed("", msgInvalidCredential)
	}
	if err != nil {
		return nil, fmt.Errorf("service/account: looking up user: %w", err)
	}

	if err := s.passwords.Verify(user.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrInvalidPassword) {
			return nil, apperror.ValidationFailed("", msgInvalidCredential)
		}
		return nil, fmt.Errorf("service/account: verifying password: %w", err)
	}
	if !user.IsActive {
		return nil, apperror.ValidationFailed("", msgUserInactive)
	}

	if err := sess.Login(ctx, user.ID); err != nil {
		return nil, fmt.Errorf("service/account: %w", err)
	}
	if err := s.users.TouchLastLogin(ctx, user.ID); err != nil {
		s.logger.Warn("account: recording last login", slog.String("error", err.Error()))
	}
	return user, nil
}

// Logout clears sess.
func (s *AccountService) Logout(ctx context.Context, sess *session.Session) error {
	if err := sess.Logout(ctx); err != nil {
		return fmt.Errorf("service/account: %w", err)
	}
	return nil
}

// Identities lists the provider accounts linked to user.
func (s *AccountService) Identities(ctx context.Context, user *model.User) ([]model.Identity, error) {
	list, err := s.identities.ListIdentities(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("service/account: listing identities: %w", err)
	}
	return list, nil
}

// UpdateProfile applies a user-submitted name change. Nil fields are left
// alone; values are trimmed and must fit model.MaxNameLength.
func (s *AccountService) UpdateProfile(ctx context.Context, user *model.User, update model.ProfileUpdate) (*model.User, error) {
	if update.Empty() {
		return nil, apperror.ValidationFailed("", "Nothing to update")
	}
	fields := []struct {
		name  string
		value *string
	}{
		{"first_name", update.FirstName},
		{"last_name", update.LastName},
	}
	for _, f := range fields {
		if f.value == nil {
			continue
		}
		*f.value = normalize.Name(*f.value)
		if utf8.RuneCountInString(*f.value) > model.MaxNameLength {
			return nil, apperror.ValidationFailed(f.name,
				fmt.Sprintf("Ensure this field has no more than %d characters.", model.MaxNameLength))
		}
	}

	if err := s.users.UpdateProfile(ctx, user.ID, update); err != nil {
		return nil, fmt.Errorf("service/account: updating profile: %w", err)
	}
	updated := *user
	if update.FirstName != nil {
		updated.FirstName = *update.FirstName
	}
	if update.LastName != nil {
		updated.LastName = *update.LastName
	}
	return &updated, nil
}
