package session

import (
	"context"
	"fmt"

	"github.com/sakif/authlink/internal/model"
)

// Session is one request's handle on its session. It is not safe for
// concurrent use; each request gets its own.
type Session struct {
	store Store
	id    string

	// onChange is called with the current id whenever it must be (re)sent to
	// the client: first write to a new session, or id rotation.
	onChange func(id string)
	sent     bool
}

// New returns a handle for id. A nil onChange is allowed (tests, background
// callers that never talk to a browser).
func New(store Store, id string, onChange func(id string)) *Session {
	return &Session{store: store, id: id, onChange: onChange}
}

// ID returns the current session id.
func (s *Session) ID() string { return s.id }

func (s *Session) update(ctx context.Context, fn func(*Data) error) error {
	if err := s.store.Update(ctx, s.id, fn); err != nil {
		return err
	}
	s.announce()
	return nil
}

func (s *Session) announce() {
	if s.sent || s.onChange == nil {
		return
	}
	s.sent = true
	s.onChange(s.id)
}

// Data returns a snapshot of the session.
func (s *Session) Data(ctx context.Context) (*Data, error) {
	d, err := s.store.Load(ctx, s.id)
	if err != nil {
		return nil, fmt.Errorf("session: loading: %w", err)
	}
	return d, nil
}

// UserID returns the authenticated user, or "" for an anonymous session.
func (s *Session) UserID(ctx context.Context) (string, error) {
	d, err := s.Data(ctx)
	if err != nil {
		return "", err
	}
	return d.UserID, nil
}

// ===== OAUTH STATE + FLOWS =====

// SaveState stores state in the single pending-state slot, replacing any
// previous value.
func (s *Session) SaveState(ctx context.Context, state string) error {
	return s.update(ctx, func(d *Data) error {
		d.OAuthState = state
		return nil
	})
}

// PopState removes the pending state and returns it ("" when none). The
// removal is persisted before PopState returns.
func (s *Session) PopState(ctx context.Context) (string, error) {
	var state string
	err := s.update(ctx, func(d *Data) error {
		state = d.OAuthState
		d.OAuthState = ""
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("session: popping state: %w", err)
	}
	return state, nil
}

// SaveFlow inserts or overwrites the flow for state. Flows for other states
// are left alone, so several tabs can be mid-flow at once.
func (s *Session) SaveFlow(ctx context.Context, state string, flow model.Flow) error {
	return s.update(ctx, func(d *Data) error {
		if d.Flows == nil {
			d.Flows = make(map[string]model.Flow)
		}
		d.Flows[state] = flow
		return nil
	})
}

// PeekFlow returns the flow for state without removing it. Unknown states
// yield the zero Flow.
func (s *Session) PeekFlow(ctx context.Context, state string) (model.Flow, error) {
	d, err := s.Data(ctx)
	if err != nil {
		return model.Flow{}, err
	}
	return d.Flows[state], nil
}

// PopFlow removes and returns the flow for state. Unknown states yield the
// zero Flow and no error.
func (s *Session) PopFlow(ctx context.Context, state string) (model.Flow, error) {
	var flow model.Flow
	err := s.update(ctx, func(d *Data) error {
		flow = d.Flows[state]
		delete(d.Flows, state)
		return nil
	})
	if err != nil {
		return model.Flow{}, fmt.Errorf("session: popping flow: %w", err)
	}
	return flow, nil
}

// ===== PROFILE SUGGESTIONS =====

// SetSuggestion replaces provider's suggested profile.
func (s *Session) SetSuggestion(ctx context.Context, provider string, p model.SuggestedProfile) error {
	return s.update(ctx, func(d *Data) error {
		if d.Suggested == nil {
			d.Suggested = make(map[string]model.SuggestedProfile)
		}
		d.Suggested[SuggestionKey(provider)] = p
		return nil
	})
}

// Suggestion returns provider's suggested profile and whether one is stored.
func (s *Session) Suggestion(ctx context.Context, provider string) (model.SuggestedProfile, bool, error) {
	d, err := s.Data(ctx)
	if err != nil {
		return model.SuggestedProfile{}, false, err
	}
	p, ok := d.Suggested[SuggestionKey(provider)]
	return p, ok, nil
}

// ClearSuggestion drops provider's suggested profile. Clearing an absent
// suggestion is not an error.
func (s *Session) ClearSuggestion(ctx context.Context, provider string) error {
	return s.update(ctx, func(d *Data) error {
		delete(d.Suggested, SuggestionKey(provider))
		return nil
	})
}

// ===== LOGIN / LOGOUT =====

// Login marks the session as authenticated for userID and moves it to a
// fresh id, so an id planted before login is useless afterwards. Pending
// flows and suggestions carry over.
func (s *Session) Login(ctx context.Context, userID string) error {
	newID, err := NewID()
	if err != nil {
		return err
	}

	err = s.store.Rotate(ctx, s.id, newID, func(d *Data) error {
		d.UserID = userID
		return nil
	})
	if err != nil {
		return fmt.Errorf("session: rotating on login: %w", err)
	}

	s.rotate(newID)
	return nil
}

// Logout discards everything in the session and moves to a fresh, empty id.
func (s *Session) Logout(ctx context.Context) error {
	if err := s.store.Delete(ctx, s.id); err != nil {
		return fmt.Errorf("session: deleting on logout: %w", err)
	}
	newID, err := NewID()
	if err != nil {
		return err
	}
	s.rotate(newID)
	return nil
}

func (s *Session) rotate(id string) {
	s.id = id
	s.sent = false
	s.announce()
}
