package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sakif/authlink/internal/session"
)

// SessionDB is a session.Store backed by the sessions table.
type SessionDB struct {
	conn *sql.DB
	ttl  time.Duration
	now  func() time.Time
}

var _ session.Store = (*SessionDB)(nil)

func (db *SessionDB) clock() time.Time {
	if db.now != nil {
		return db.now()
	}
	return time.Now()
}

func (db *SessionDB) Load(ctx context.Context, id string) (*session.Data, error) {
	return db.load(ctx, db.conn, id)
}

func (db *SessionDB) load(ctx context.Context, q querier, id string) (*session.Data, error) {
	var (
		raw       string
		expiresAt int64
	)
	err := q.QueryRowContext(ctx,
		`SELECT data, expires_at FROM sessions WHERE id = ?`, id,
	).Scan(&raw, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return &session.Data{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: loading session: %w", err)
	}
	if db.clock().Unix() >= expiresAt {
		return &session.Data{}, nil
	}

	var d session.Data
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return nil, fmt.Errorf("sqlite: decoding session: %w", err)
	}
	return &d, nil
}

// Update runs fn inside a transaction. With the pool pinned to one
// connection, concurrent Updates are fully serialized.
func (db *SessionDB) Update(ctx context.Context, id string, fn func(*session.Data) error) error {
	return db.move(ctx, id, id, fn)
}

// Rotate reads oldID, writes the result under newID and deletes oldID in one
// transaction.
func (db *SessionDB) Rotate(ctx context.Context, oldID, newID string, fn func(*session.Data) error) error {
	return db.move(ctx, oldID, newID, fn)
}

func (db *SessionDB) move(ctx context.Context, fromID, toID string, fn func(*session.Data) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning session update: %w", err)
	}
	defer tx.Rollback()

	d, err := db.load(ctx, tx, fromID)
	if err != nil {
		return err
	}
	if err := fn(d); err != nil {
		return err
	}

	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("sqlite: encoding session: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions (id, data, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET data = excluded.data, expires_at = excluded.expires_at`,
		toID, string(raw), db.clock().Add(db.ttl).Unix(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: saving session: %w", err)
	}
	if fromID != toID {
		if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, fromID); err != nil {
			return fmt.Errorf("sqlite: deleting rotated session: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing session: %w", err)
	}
	return nil
}

func (db *SessionDB) Delete(ctx context.Context, id string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("sqlite: deleting session: %w", err)
	}
	return nil
}

// DeleteExpired removes sessions past their expiry and reports how many.
func (db *SessionDB) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := db.conn.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires_at <= ?`, db.clock().Unix())
	if err != nil {
		return 0, fmt.Errorf("sqlite: purging sessions: %w", err)
	}
	return result.RowsAffected()
}
