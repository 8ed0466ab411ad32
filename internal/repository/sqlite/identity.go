package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/authlink/internal/apperror"
	"github.com/sakif/authlink/internal/model"
	"github.com/sakif/authlink/internal/repository"
)

// IdentityDB implements repository.IdentityRepository.
type IdentityDB struct {
	conn *sql.DB
}

var _ repository.IdentityRepository = (*IdentityDB)(nil)

const identityColumns = `id, user_id, provider, provider_user_id, email,
	email_verified, profile, created_at`

func scanIdentity(row interface{ Scan(...any) error }) (*model.Identity, error) {
	var (
		ident   model.Identity
		email   sql.NullString
		profile string
	)
	err := row.Scan(
		&ident.ID,
		&ident.UserID,
		&ident.Provider,
		&ident.ProviderUserID,
		&email,
		&ident.EmailVerified,
		&profile,
		&ident.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if email.Valid {
		ident.Email = &email.String
	}
	ident.Profile = json.RawMessage(profile)
	return &ident, nil
}

// GetIdentity returns the identity for (provider, providerUserID) or an
// apperror.ErrNotFound.
func (db *IdentityDB) GetIdentity(ctx context.Context, provider, providerUserID string) (*model.Identity, error) {
	ident, err := scanIdentity(db.conn.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE provider = ? AND provider_user_id = ?`,
		provider, providerUserID,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("identity", provider+":"+providerUserID)
		}
		return nil, fmt.Errorf("sqlite: getting identity %s:%s: %w", provider, providerUserID, err)
	}
	return ident, nil
}

// ListIdentities returns every identity linked to userID, oldest first.
func (db *IdentityDB) ListIdentities(ctx context.Context, userID string) ([]model.Identity, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE user_id = ? ORDER BY created_at, id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing identities: %w", err)
	}
	defer rows.Close()

	identities := []model.Identity{}
	for rows.Next() {
		ident, err := scanIdentity(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning identity: %w", err)
		}
		identities = append(identities, *ident)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating identities: %w", err)
	}
	return identities, nil
}

// BindIdentity resolves the owning user and inserts the identity in one
// transaction, so a failed identity insert never leaves a fresh user behind.
func (db *IdentityDB) BindIdentity(ctx context.Context, req repository.BindRequest) (*repository.BindResult, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: beginning bind transaction: %w", err)
	}
	// Rollback after Commit is a no-op.
	defer tx.Rollback()

	result := &repository.BindResult{}

	switch {
	case req.UserID != "":
		result.User, err = getUserBy(ctx, tx, "id", req.UserID)
		if err != nil {
			return nil, err
		}
	case req.Email != "":
		result.User, err = getUserBy(ctx, tx, "email", req.Email)
		if errors.Is(err, apperror.ErrNotFound) {
			result.User = &model.User{
				Email:     req.Email,
				FirstName: req.FirstName,
				LastName:  req.LastName,
				IsActive:  true,
			}
			err = insertUser(ctx, tx, result.User)
			result.UserCreated = err == nil
		}
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("sqlite: bind request needs a user id or an email")
	}

	ident := req.Identity
	ident.ID = xid.New().String()
	ident.UserID = result.User.ID
	ident.CreatedAt = time.Now().UTC()
	profile := ident.Profile
	if len(profile) == 0 {
		profile = json.RawMessage("{}")
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO identities (id, user_id, provider, provider_user_id, email, email_verified, profile, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ident.ID,
		ident.UserID,
		ident.Provider,
		ident.ProviderUserID,
		ident.Email,
		ident.EmailVerified,
		string(profile),
		ident.CreatedAt,
	)
	if err != nil {
		if violates(err, "identities.provider") {
			return nil, apperror.Conflict("identity", ident.Provider+":"+ident.ProviderUserID)
		}
		return nil, fmt.Errorf("sqlite: inserting identity %s:%s: %w", ident.Provider, ident.ProviderUserID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: committing bind: %w", err)
	}
	result.Identity = &ident
	return result, nil
}
