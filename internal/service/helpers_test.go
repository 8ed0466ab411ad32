package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"

	"github.com/sakif/authlink/internal/auth"
	"github.com/sakif/authlink/internal/mail"
	"github.com/sakif/authlink/internal/model"
	"github.com/sakif/authlink/internal/redirect"
	"github.com/sakif/authlink/internal/repository"
	sqliteRepo "github.com/sakif/authlink/internal/repository/sqlite"
	"github.com/sakif/authlink/internal/session"
)

// =========================================================================
// FAKES
// =========================================================================

// fakeProvider answers codes from a table. The code doubles as the access
// token so FetchProfile can find the profile again.
type fakeProvider struct {
	name string

	mu       sync.Mutex
	profiles map[string]*auth.Profile
	calls    int
}

var _ auth.Provider = (*fakeProvider)(nil)

func newFakeProvider(name string) *fakeProvider {
	return &fakeProvider{name: name, profiles: map[string]*auth.Profile{}}
}

func (p *fakeProvider) on(code string, profile auth.Profile) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.profiles[code] = &profile
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) AuthURL(state string) string {
	return "https://" + p.name + ".test/authorize?state=" + url.QueryEscape(state)
}

func (p *fakeProvider) ExchangeCode(_ context.Context, code string) (*oauth2.Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if _, ok := p.profiles[code]; !ok {
		return nil, errors.New("bad_verification_code")
	}
	return &oauth2.Token{AccessToken: code}, nil
}

func (p *fakeProvider) FetchProfile(_ context.Context, token *oauth2.Token) (*auth.Profile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	profile := *p.profiles[token.AccessToken]
	return &profile, nil
}

// fakeMailer records messages and fails while err is set.
type fakeMailer struct {
	mu   sync.Mutex
	sent []mail.Message
	err  error
}

func (m *fakeMailer) Send(_ context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

// =========================================================================
// HARNESS
// =========================================================================

var testTarget = redirect.Target{Host: "app.test"}

type harness struct {
	db       *sqliteRepo.DB
	users    *sqliteRepo.UserDB
	store    *session.MemoryStore
	github   *fakeProvider
	oauth    *OAuthService
	resolver *IdentityResolver
	merger   *ProfileMerger
	accounts *AccountService
	mailer   *fakeMailer
	tokens   *auth.TokenService
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := sqliteRepo.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := discardLogger()
	users, identities := db.Users(), db.Identities()
	tokens, err := auth.NewTokenService("service-test-secret-key")
	require.NoError(t, err)

	h := &harness{
		db:     db,
		users:  users,
		store:  session.NewMemoryStore(time.Hour),
		github: newFakeProvider("github"),
		mailer: &fakeMailer{},
		tokens: tokens,
	}
	h.resolver = NewIdentityResolver(users, identities, logger)
	h.merger = NewProfileMerger(users, logger)
	h.oauth = NewOAuthService(auth.NewRegistry(h.github), h.resolver, h.merger, users, "/dashboard/", logger)
	h.accounts = NewAccountService(users, identities,
		auth.NewPasswordServiceForTest(bcrypt.MinCost), tokens, h.mailer, "https://app.test/", logger)
	return h
}

func (h *harness) newSession(t *testing.T) *session.Session {
	t.Helper()
	id, err := session.NewID()
	require.NoError(t, err)
	return session.New(h.store, id, nil)
}

// start runs Start and returns the state embedded in the authorize URL.
func (h *harness) start(t *testing.T, sess *session.Session, req StartRequest) string {
	t.Helper()
	if req.Provider == "" {
		req.Provider = "github"
	}
	if req.Target.Host == "" {
		req.Target = testTarget
	}
	authURL, err := h.oauth.Start(context.Background(), sess, req)
	require.NoError(t, err)
	u, err := url.Parse(authURL)
	require.NoError(t, err)
	state := u.Query().Get("state")
	require.NotEmpty(t, state)
	return state
}

func (h *harness) callback(sess *session.Session, state, code string, user *model.User) (*CallbackResult, error) {
	return h.oauth.Callback(context.Background(), sess, CallbackRequest{
		Provider: "github",
		State:    state,
		Code:     code,
		Target:   testTarget,
		User:     user,
	})
}

func (h *harness) createUser(t *testing.T, email, first, last string) *model.User {
	t.Helper()
	u := &model.User{Email: email, FirstName: first, LastName: last, IsActive: true}
	require.NoError(t, h.users.CreateUser(context.Background(), u))
	return u
}

func (h *harness) stats(t *testing.T) repository.Stats {
	t.Helper()
	st, err := h.db.Stats(context.Background())
	require.NoError(t, err)
	return st
}

func octocat() auth.Profile {
	return auth.Profile{
		ProviderUserID: "1",
		Email:          "octo@example.com",
		FirstName:      "Octo",
		LastName:       "Cat",
		Raw:            []byte(`{"id":1}`),
	}
}

func ptr[T any](v T) *T { return &v }
