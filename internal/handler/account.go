package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/authlink/internal/auth"
	"github.com/sakif/authlink/internal/model"
	"github.com/sakif/authlink/internal/service"
	"github.com/sakif/authlink/internal/session"
)

// AccountHandler serves the email/password routes and the account API.
type AccountHandler struct {
	accounts *service.AccountService
	logger   *slog.Logger
}

func NewAccountHandler(accounts *service.AccountService, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{accounts: accounts, logger: logger}
}

type registerRequest struct {
	Email         string `json:"email"`
	Password      string `json:"password"`
	PasswordAgain string `json:"passwordAgain"`
	AcceptTerms   *bool  `json:"acceptTerms"`
	Phone         string `json:"phone"`
}

// HandleRegister creates an inactive account and mails the activation link.
//
// HTTP: POST /auth/register/
func (h *AccountHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	user, err := h.accounts.Register(r.Context(), service.RegisterInput{
		Email:         req.Email,
		Password:      req.Password,
		PasswordAgain: req.PasswordAgain,
		Phone:         req.Phone,
		AcceptTerms:   req.AcceptTerms,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOK(w, http.StatusCreated, map[string]string{"userId": user.ID})
}

// HandleActivate follows the mailed link.
//
// HTTP: GET /auth/activate/{token}/
func (h *AccountHandler) HandleActivate(w http.ResponseWriter, r *http.Request) {
	user, err := h.accounts.Activate(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]string{"userId": user.ID})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HandleLogin signs in with email and password.
//
// HTTP: POST /auth/login/
func (h *AccountHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	user, err := h.accounts.Login(r.Context(), session.FromContext(r.Context()), req.Email, req.Password)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]string{"userId": user.ID})
}

// HandleLogout clears the session.
//
// HTTP: POST /auth/logout/
func (h *AccountHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.accounts.Logout(r.Context(), session.FromContext(r.Context())); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeMessage(w, http.StatusOK, "User logged out")
}

type meResponse struct {
	User       *model.User      `json:"user"`
	Identities []model.Identity `json:"identities"`
}

// HandleMe returns the signed-in user and their linked providers.
//
// HTTP: GET /api/me/ (RequireAuth)
func (h *AccountHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())

	identities, err := h.accounts.Identities(r.Context(), user)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if identities == nil {
		identities = []model.Identity{}
	}
	writeOK(w, http.StatusOK, meResponse{User: user, Identities: identities})
}

type profileRequest struct {
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
}

// HandleUpdateProfile edits the signed-in user's name.
//
// HTTP: POST /api/account/profile/ (RequireAuth)
func (h *AccountHandler) HandleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	user, _ := auth.UserFromContext(r.Context())

	updated, err := h.accounts.UpdateProfile(r.Context(), user, model.ProfileUpdate{
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOK(w, http.StatusOK, updated)
}
