package session

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// DefaultCookieName matches what browsers already carry for this app.
const DefaultCookieName = "sessionid"

// CookieOptions defines how the session cookie is issued.
type CookieOptions struct {
	Name   string
	Secure bool
	MaxAge time.Duration
}

type contextKey string

const sessionKey contextKey = "session"

// Manager attaches a *Session to every request.
type Manager struct {
	store  Store
	cookie CookieOptions
	logger *slog.Logger
}

// NewManager creates a Manager. An empty cookie name falls back to
// DefaultCookieName.
func NewManager(store Store, cookie CookieOptions, logger *slog.Logger) *Manager {
	if cookie.Name == "" {
		cookie.Name = DefaultCookieName
	}
	return &Manager{store: store, cookie: cookie, logger: logger}
}

// Store exposes the backing store.
func (m *Manager) Store() Store { return m.store }

// Middleware resolves the session id from the cookie (or mints one) and puts
// a *Session in the request context. The cookie is only sent once something
// is written to the session, so anonymous GETs stay cookie-free.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := ""
		if c, err := r.Cookie(m.cookie.Name); err == nil && validID(c.Value) {
			id = c.Value
		}
		if id == "" {
			var err error
			if id, err = NewID(); err != nil {
				m.logger.Error("session: minting id", slog.String("error", err.Error()))
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
		}

		sess := New(m.store, id, func(id string) { m.setCookie(w, id) })
		next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), sess)))
	})
}

func (m *Manager) setCookie(w http.ResponseWriter, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookie.Name,
		Value:    id,
		Path:     "/",
		MaxAge:   int(m.cookie.MaxAge.Seconds()),
		HttpOnly: true,
		Secure:   m.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// WithSession returns a copy of ctx carrying sess.
func WithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionKey, sess)
}

// FromContext returns the request's session, or nil outside Middleware.
func FromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(sessionKey).(*Session)
	return sess
}
