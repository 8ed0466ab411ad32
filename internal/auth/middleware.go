package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/authlink/internal/apperror"
	"github.com/sakif/authlink/internal/model"
	"github.com/sakif/authlink/internal/session"
)

type contextKey string

const userKey contextKey = "user"

// UserLoader is the slice of the user repository the middleware needs.
type UserLoader interface {
	GetUserByID(ctx context.Context, id string) (*model.User, error)
}

// CurrentUser resolves the session's authenticated user and stores it in the
// request context. It never blocks a request: anonymous sessions, deleted
// users and deactivated users all continue as anonymous.
//
// It must run inside session.Manager.Middleware.
//
//	req → session.Middleware → CurrentUser → RequireAuth → handler
func CurrentUser(users UserLoader, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess := session.FromContext(r.Context())
			if sess == nil {
				next.ServeHTTP(w, r)
				return
			}

			userID, err := sess.UserID(r.Context())
			if err != nil {
				logger.Error("auth: reading session user", slog.String("error", err.Error()))
				writeStatus(w, http.StatusInternalServerError, "An internal error occurred")
				return
			}
			if userID == "" {
				next.ServeHTTP(w, r)
				return
			}

			user, err := users.GetUserByID(r.Context(), userID)
			switch {
			case errors.Is(err, apperror.ErrNotFound):
				next.ServeHTTP(w, r)
				return
			case err != nil:
				logger.Error("auth: loading session user",
					slog.String("user_id", userID),
					slog.String("error", err.Error()),
				)
				writeStatus(w, http.StatusInternalServerError, "An internal error occurred")
				return
			}
			if user.IsActive {
				r = r.WithContext(WithUser(r.Context(), user))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAuth rejects requests that CurrentUser left anonymous with 401.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := UserFromContext(r.Context()); !ok {
			writeStatus(w, http.StatusUnauthorized, "Authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// WithUser returns a copy of ctx carrying user.
func WithUser(ctx context.Context, user *model.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// UserFromContext returns the authenticated user, or (nil, false) for an
// anonymous request.
func UserFromContext(ctx context.Context) (*model.User, bool) {
	user, ok := ctx.Value(userKey).(*model.User)
	return user, ok && user != nil
}

// writeStatus writes the API's error envelope. The handler package owns the
// full mapping; the middleware only ever needs these two statuses.
func writeStatus(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"status":"error","message":"` + message + `"}` + "\n"))
}
