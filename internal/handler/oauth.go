package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/authlink/internal/auth"
	"github.com/sakif/authlink/internal/redirect"
	"github.com/sakif/authlink/internal/service"
	"github.com/sakif/authlink/internal/session"
)

// OAuthHandler serves the provider sign-in routes:
//
//	GET  /auth/providers/                    → enabled providers
//	GET  /auth/{provider}/start/             → redirect to the provider
//	GET  /auth/{provider}/callback/          → finish sign-in, redirect on
//	POST /auth/{provider}/profile/apply/     → merge the suggested name
type OAuthHandler struct {
	oauth               *service.OAuthService
	trustForwardedProto bool
	logger              *slog.Logger
}

func NewOAuthHandler(oauth *service.OAuthService, trustForwardedProto bool, logger *slog.Logger) *OAuthHandler {
	return &OAuthHandler{oauth: oauth, trustForwardedProto: trustForwardedProto, logger: logger}
}

// HandleProviders lists the enabled providers.
func (h *OAuthHandler) HandleProviders(w http.ResponseWriter, r *http.Request) {
	writeOK(w, http.StatusOK, map[string]any{"providers": h.oauth.Providers()})
}

// HandleStart begins a flow.
//
// HTTP: GET /auth/{provider}/start/?next=&apply=&link=
//
// XHR clients that send "X-Inertia" cannot follow a cross-origin 302, so they
// get 409 with the target in X-Inertia-Location and navigate themselves.
func (h *OAuthHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	authURL, err := h.oauth.Start(r.Context(), session.FromContext(r.Context()), service.StartRequest{
		Provider:  chi.URLParam(r, "provider"),
		Candidate: redirect.Candidate(q.Get("next"), r.Referer()),
		Target:    redirect.FromRequest(r, h.trustForwardedProto),
		Apply:     truthy(q.Get("apply")),
		Link:      truthy(q.Get("link")),
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	if r.Header.Get("X-Inertia") != "" {
		w.Header().Set("X-Inertia-Location", authURL)
		w.WriteHeader(http.StatusConflict)
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// HandleCallback finishes a flow.
//
// HTTP: GET /auth/{provider}/callback/?state=&code=
func (h *OAuthHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	user, _ := auth.UserFromContext(r.Context())

	res, err := h.oauth.Callback(r.Context(), session.FromContext(r.Context()), service.CallbackRequest{
		Provider: chi.URLParam(r, "provider"),
		State:    q.Get("state"),
		Code:     q.Get("code"),
		Error:    q.Get("error"),
		Target:   redirect.FromRequest(r, h.trustForwardedProto),
		User:     user,
	})
	if err != nil {
		writeOAuthError(w, h.logger, err)
		return
	}
	http.Redirect(w, r, res.Redirect, http.StatusFound)
}

// HandleApply merges the provider's suggested name into the signed-in user.
//
// HTTP: POST /auth/{provider}/profile/apply/
func (h *OAuthHandler) HandleApply(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())

	updated, err := h.oauth.ApplySuggested(r.Context(), session.FromContext(r.Context()), chi.URLParam(r, "provider"), user)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"updated": updated})
}

// truthy is true for 1, true and yes in any case.
func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes":
		return true
	}
	return false
}
