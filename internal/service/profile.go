package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sakif/authlink/internal/model"
	"github.com/sakif/authlink/internal/repository"
)

// ProfileMerger writes a provider's suggested name onto a user.
type ProfileMerger struct {
	users  repository.UserRepository
	logger *slog.Logger
}

func NewProfileMerger(users repository.UserRepository, logger *slog.Logger) *ProfileMerger {
	return &ProfileMerger{users: users, logger: logger}
}

// Apply stages every non-empty suggested field that differs from user and
// persists only those. It returns the updated column names, possibly none,
// and updates user in place.
func (m *ProfileMerger) Apply(ctx context.Context, user *model.User, suggested model.SuggestedProfile) ([]string, error) {
	var update model.ProfileUpdate
	if first := clampName(suggested.FirstName); first != "" && first != user.FirstName {
		update.FirstName = &first
	}
	if last := clampName(suggested.LastName); last != "" && last != user.LastName {
		update.LastName = &last
	}

	if update.Empty() {
		return []string{}, nil
	}
	fields := update.Fields()
	if err := m.users.UpdateProfile(ctx, user.ID, update); err != nil {
		return nil, fmt.Errorf("service/profile: updating user %s: %w", user.ID, err)
	}

	if update.FirstName != nil {
		user.FirstName = *update.FirstName
	}
	if update.LastName != nil {
		user.LastName = *update.LastName
	}
	m.logger.Info("suggested profile applied",
		slog.String("user_id", user.ID),
		slog.Any("fields", fields),
	)
	return fields, nil
}
