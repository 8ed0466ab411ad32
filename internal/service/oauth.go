package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/sakif/authlink/internal/apperror"
	"github.com/sakif/authlink/internal/auth"
	"github.com/sakif/authlink/internal/model"
	"github.com/sakif/authlink/internal/redirect"
	"github.com/sakif/authlink/internal/repository"
	"github.com/sakif/authlink/internal/session"
)

// OAuthService runs the provider sign-in flow on top of a session.
//
// CALLBACK ORDER:
//
//	pop state ─► check code ─► peek flow ─► provider round-trip ─► bind
//	  ─► store suggestion ─► login ─► pop flow ─► resolve redirect ─► apply?
//
// The pending state is removed and persisted before any provider call, so a
// replayed callback fails with InvalidState and has no side effects.
type OAuthService struct {
	providers *auth.Registry
	resolver  *IdentityResolver
	merger    *ProfileMerger
	users     repository.UserRepository
	fallback  string
	logger    *slog.Logger
}

func NewOAuthService(
	providers *auth.Registry,
	resolver *IdentityResolver,
	merger *ProfileMerger,
	users repository.UserRepository,
	fallback string,
	logger *slog.Logger,
) *OAuthService {
	if fallback == "" {
		fallback = "/"
	}
	return &OAuthService{
		providers: providers,
		resolver:  resolver,
		merger:    merger,
		users:     users,
		fallback:  fallback,
		logger:    logger,
	}
}

// Providers lists the enabled provider names.
func (s *OAuthService) Providers() []string {
	return s.providers.Names()
}

// StartRequest is one click on "sign in with ...".
type StartRequest struct {
	Provider  string
	Candidate string // "next" query value, else the Referer
	Target    redirect.Target
	Apply     bool
	Link      bool
}

// Start records a new flow in sess and returns the provider authorize URL.
func (s *OAuthService) Start(ctx context.Context, sess *session.Session, req StartRequest) (string, error) {
	p, err := s.provider(req.Provider)
	if err != nil {
		return "", err
	}

	state, err := session.NewID()
	if err != nil {
		return "", fmt.Errorf("service/oauth: generating state: %w", err)
	}
	if err := sess.SaveState(ctx, state); err != nil {
		return "", fmt.Errorf("service/oauth: saving state: %w", err)
	}

	flow := model.Flow{Apply: req.Apply, Link: req.Link}
	if req.Target.Allows(req.Candidate) {
		flow.Next = req.Candidate
	}
	if err := sess.SaveFlow(ctx, state, flow); err != nil {
		return "", fmt.Errorf("service/oauth: saving flow: %w", err)
	}

	return p.AuthURL(state), nil
}

// CallbackRequest is the provider redirecting the browser back to us.
type CallbackRequest struct {
	Provider string
	State    string
	Code     string
	Error    string // provider's "error" parameter, e.g. access_denied
	Target   redirect.Target
	User     *model.User // signed-in user, nil when anonymous
}

// CallbackResult tells the handler where to send the browser.
type CallbackResult struct {
	Redirect string
	User     *model.User // nil when the user declined at the provider
	Created  bool
	Applied  []string // fields written by an apply=1 flow
}

// Callback completes a flow. Failures are *auth.Error values for the OAuth
// kinds, apperror values for an unknown provider, anything else is internal.
func (s *OAuthService) Callback(ctx context.Context, sess *session.Session, req CallbackRequest) (*CallbackResult, error) {
	p, err := s.provider(req.Provider)
	if err != nil {
		return nil, err
	}

	res, err := s.callback(ctx, sess, p, req)
	if err != nil {
		if kind, ok := auth.KindOf(err); ok {
			s.logger.Warn("oauth callback failed",
				slog.String("provider", req.Provider),
				slog.String("kind", kind.String()),
				slog.String("error", err.Error()),
			)
		}
		return nil, err
	}
	return res, nil
}

func (s *OAuthService) callback(ctx context.Context, sess *session.Session, p auth.Provider, req CallbackRequest) (*CallbackResult, error) {
	pending, err := sess.PopState(ctx)
	if err != nil {
		return nil, fmt.Errorf("service/oauth: %w", err)
	}
	if pending == "" || subtle.ConstantTimeCompare([]byte(pending), []byte(req.State)) != 1 {
		return nil, auth.NewError(auth.KindInvalidState, nil)
	}

	// From here on the flow for req.State is removed whatever happens.
	flowPopped := false
	defer func() {
		if !flowPopped {
			if _, err := sess.PopFlow(ctx, req.State); err != nil {
				s.logger.Error("oauth: discarding flow", slog.String("error", err.Error()))
			}
		}
	}()

	if req.Error != "" {
		flow, err := sess.PopFlow(ctx, req.State)
		if err != nil {
			return nil, fmt.Errorf("service/oauth: %w", err)
		}
		flowPopped = true
		s.logger.Info("oauth sign-in declined at provider",
			slog.String("provider", p.Name()),
			slog.String("error", req.Error),
		)
		return &CallbackResult{Redirect: withQuery(req.Target.Resolve(flow.Next, s.fallback), "auth", "denied")}, nil
	}

	if req.Code == "" {
		return nil, auth.NewError(auth.KindMissingCode, nil)
	}

	flow, err := sess.PeekFlow(ctx, req.State)
	if err != nil {
		return nil, fmt.Errorf("service/oauth: %w", err)
	}
	var linkTo *model.User
	if flow.Link && req.User != nil {
		linkTo = req.User
	}

	profile, err := auth.Authenticate(ctx, p, req.Code)
	if err != nil {
		return nil, err
	}

	res, err := s.resolver.Resolve(ctx, p.Name(), profile, linkTo)
	if err != nil {
		return nil, err
	}
	if res.User == nil {
		return nil, auth.NewError(auth.KindAuthenticationFailed, nil)
	}

	suggested := model.SuggestedProfile{
		FirstName: clampName(profile.FirstName),
		LastName:  clampName(profile.LastName),
	}
	if err := sess.SetSuggestion(ctx, p.Name(), suggested); err != nil {
		return nil, fmt.Errorf("service/oauth: storing suggestion: %w", err)
	}

	if err := sess.Login(ctx, res.User.ID); err != nil {
		return nil, fmt.Errorf("service/oauth: %w", err)
	}
	if err := s.users.TouchLastLogin(ctx, res.User.ID); err != nil {
		s.logger.Warn("oauth: recording last login", slog.String("error", err.Error()))
	}

	flow, err = sess.PopFlow(ctx, req.State)
	if err != nil {
		return nil, fmt.Errorf("service/oauth: %w", err)
	}
	flowPopped = true

	result := &CallbackResult{
		Redirect: req.Target.Resolve(flow.Next, s.fallback),
		User:     res.User,
		Created:  res.UserCreated,
	}

	if flow.Apply {
		applied, err := s.applyStored(ctx, sess, p.Name(), res.User)
		if err != nil {
			return nil, err
		}
		result.Applied = applied
	}
	return result, nil
}

// ApplySuggested merges provider's stored suggestion into user. It is the
// explicit, stand-alone form of the apply=1 flag.
func (s *OAuthService) ApplySuggested(ctx context.Context, sess *session.Session, provider string, user *model.User) ([]string, error) {
	if user == nil {
		return nil, apperror.Unauthorized("Authentication required")
	}
	if _, err := s.provider(provider); err != nil {
		return nil, err
	}

	if _, ok, err := sess.Suggestion(ctx, provider); err != nil {
		return nil, fmt.Errorf("service/oauth: reading suggestion: %w", err)
	} else if !ok {
		return nil, apperror.NotFoundMessage("No suggested data")
	}
	return s.applyStored(ctx, sess, provider, user)
}

// applyStored applies and clears the stored suggestion. No suggestion is a
// no-op.
func (s *OAuthService) applyStored(ctx context.Context, sess *session.Session, provider string, user *model.User) ([]string, error) {
	suggested, ok, err := sess.Suggestion(ctx, provider)
	if err != nil {
		return nil, fmt.Errorf("service/oauth: reading suggestion: %w", err)
	}
	if !ok {
		return []string{}, nil
	}

	fields, err := s.merger.Apply(ctx, user, suggested)
	if err != nil {
		return nil, err
	}
	if err := sess.ClearSuggestion(ctx, provider); err != nil {
		return nil, fmt.Errorf("service/oauth: clearing suggestion: %w", err)
	}
	return fields, nil
}

func (s *OAuthService) provider(name string) (auth.Provider, error) {
	p, err := s.providers.Get(name)
	if errors.Is(err, auth.ErrUnknownProvider) {
		return nil, apperror.NotFoundMessage("Unknown provider")
	}
	return p, err
}

// withQuery sets key=value on a relative or absolute URL.
func withQuery(target, key, value string) string {
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}
