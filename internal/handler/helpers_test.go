package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/sakif/authlink/internal/auth"
	"github.com/sakif/authlink/internal/mail"
	"github.com/sakif/authlink/internal/model"
	"github.com/sakif/authlink/internal/repository"
	sqliteRepo "github.com/sakif/authlink/internal/repository/sqlite"
	"github.com/sakif/authlink/internal/service"
	"github.com/sakif/authlink/internal/session"
)

// =========================================================================
// FAKE TINKOFF ID
// =========================================================================

// fakeTinkoff serves the token, introspect and userinfo endpoints. Each code
// maps to one profile; the access token is "tok-" + code.
type fakeTinkoff struct {
	srv *httptest.Server

	mu       sync.Mutex
	profiles map[string]map[string]string
	granted  []string
}

func newFakeTinkoff(t *testing.T) *fakeTinkoff {
	t.Helper()
	f := &fakeTinkoff{
		profiles: map[string]map[string]string{},
		granted:  []string{"profile", "email"},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		code := r.FormValue("code")
		f.mu.Lock()
		_, ok := f.profiles[code]
		f.mu.Unlock()
		if !ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		writeFakeJSON(w, map[string]any{"access_token": "tok-" + code, "token_type": "Bearer", "expires_in": 3600})
	})
	mux.HandleFunc("/introspect", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		writeFakeJSON(w, map[string]any{"active": true, "scope": f.granted})
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		code := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer tok-")
		f.mu.Lock()
		profile, ok := f.profiles[code]
		f.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeFakeJSON(w, profile)
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func writeFakeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// on registers the Tinkoff account returned for code.
func (f *fakeTinkoff) on(code, sub, email, given, family string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles[code] = map[string]string{
		"sub":         sub,
		"email":       email,
		"given_name":  given,
		"family_name": family,
	}
}

func (f *fakeTinkoff) grant(scopes ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.granted = scopes
}

func (f *fakeTinkoff) provider() *auth.TinkoffProvider {
	return auth.NewTinkoffProvider(auth.TinkoffConfig{
		ClientID:      "tk-id",
		ClientSecret:  "tk-secret",
		RedirectURL:   "http://app.test/auth/tinkoff/callback/",
		Scopes:        []string{"profile", "email"},
		AuthURL:       f.srv.URL + "/authorize",
		TokenURL:      f.srv.URL + "/token",
		IntrospectURL: f.srv.URL + "/introspect",
		UserInfoURL:   f.srv.URL + "/userinfo",
	}, f.srv.Client())
}

// fakeMailer keeps every message.
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

func (m *fakeMailer) last(t *testing.T) mail.Message {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.sent, "no mail sent")
	return m.sent[len(m.sent)-1]
}

// =========================================================================
// TEST APP
// =========================================================================

// testApp is the full HTTP stack over in-memory storage.
type testApp struct {
	srv     *httptest.Server
	db      *sqliteRepo.DB
	tinkoff *fakeTinkoff
	mailer  *fakeMailer
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	logger := discardLogger()

	db, err := sqliteRepo.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	users, identities := db.Users(), db.Identities()
	tokens, err := auth.NewTokenService("handler-test-secret-key")
	require.NoError(t, err)

	app := &testApp{db: db, tinkoff: newFakeTinkoff(t), mailer: &fakeMailer{}}

	resolver := service.NewIdentityResolver(users, identities, logger)
	merger := service.NewProfileMerger(users, logger)
	oauthService := service.NewOAuthService(auth.NewRegistry(app.tinkoff.provider()),
		resolver, merger, users, "/", logger)
	accountService := service.NewAccountService(users, identities,
		auth.NewPasswordServiceForTest(bcrypt.MinCost), tokens, app.mailer, "https://app.test", logger)

	sessions := session.NewManager(session.NewMemoryStore(time.Hour), session.CookieOptions{MaxAge: time.Hour}, logger)
	oauthHandler := NewOAuthHandler(oauthService, false, logger)
	accountHandler := NewAccountHandler(accountService, logger)

	r := chi.NewRouter()
	r.NotFound(NotFound)
	r.MethodNotAllowed(MethodNotAllowed)
	r.Get("/healthz", NewHealthHandler(db, logger).HandleHealth)
	r.Group(func(r chi.Router) {
		r.Use(sessions.Middleware)
		r.Use(auth.CurrentUser(users, logger))

		r.Get("/auth/providers/", oauthHandler.HandleProviders)
		r.Get("/auth/{provider}/start/", oauthHandler.HandleStart)
		r.Get("/auth/{provider}/callback/", oauthHandler.HandleCallback)
		r.Post("/auth/{provider}/profile/apply/", oauthHandler.HandleApply)
		r.Post("/auth/register/", accountHandler.HandleRegister)
		r.Get("/auth/activate/{token}/", accountHandler.HandleActivate)
		r.Post("/auth/login/", accountHandler.HandleLogin)
		r.Post("/auth/logout/", accountHandler.HandleLogout)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth)
			r.Get("/api/me/", accountHandler.HandleMe)
			r.Post("/api/account/profile/", accountHandler.HandleUpdateProfile)
		})
	})

	app.srv = httptest.NewServer(r)
	t.Cleanup(app.srv.Close)
	return app
}

// browser is a client with its own cookie jar that never follows redirects.
func (a *testApp) browser(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// reply is a decoded response.
type reply struct {
	status int
	header http.Header
	body   Response
}

func (r reply) data() map[string]any {
	m, _ := r.body.Data.(map[string]any)
	return m
}

func (a *testApp) do(t *testing.T, c *http.Client, method, path string, body any, header map[string]string) reply {
	t.Helper()

	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rd = strings.NewReader(string(raw))
	}

	req, err := http.NewRequest(method, a.srv.URL+path, rd)
	require.NoError(t, err)
	if _, ok := body.(string); !ok && body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}

	resp, err := c.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := reply{status: resp.StatusCode, header: resp.Header}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out.body))
	}
	return out
}

func (a *testApp) get(t *testing.T, c *http.Client, path string) reply {
	return a.do(t, c, http.MethodGet, path, nil, nil)
}

func (a *testApp) post(t *testing.T, c *http.Client, path string, body any) reply {
	return a.do(t, c, http.MethodPost, path, body, nil)
}

// start begins a Tinkoff flow and returns the state from the authorize URL.
func (a *testApp) start(t *testing.T, c *http.Client, query string) string {
	t.Helper()
	res := a.get(t, c, "/auth/tinkoff/start/"+query)
	require.Equal(t, http.StatusFound, res.status)

	loc, err := url.Parse(res.header.Get("Location"))
	require.NoError(t, err)
	require.Equal(t, a.tinkoff.srv.URL+"/authorize", loc.Scheme+"://"+loc.Host+loc.Path)
	state := loc.Query().Get("state")
	require.NotEmpty(t, state)
	return state
}

// signIn runs a full Tinkoff sign-in for code and returns the callback reply.
func (a *testApp) signIn(t *testing.T, c *http.Client, query, code string) reply {
	t.Helper()
	state := a.start(t, c, query)
	return a.get(t, c, "/auth/tinkoff/callback/?state="+url.QueryEscape(state)+"&code="+code)
}

// createUser inserts an active password user.
func (a *testApp) createUser(t *testing.T, email, password, first, last string) *model.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	u := &model.User{Email: email, FirstName: first, LastName: last, PasswordHash: string(hash), IsActive: true}
	require.NoError(t, a.db.Users().CreateUser(context.Background(), u))
	return u
}

func (a *testApp) stats(t *testing.T) repository.Stats {
	t.Helper()
	st, err := a.db.Stats(context.Background())
	require.NoError(t, err)
	return st
}

// failingHealth is a HealthSource whose database is down.
type failingHealth struct{}

func (failingHealth) Ping(context.Context) error { return errors.New("database is locked") }
func (failingHealth) Stats(context.Context) (repository.Stats, error) {
	return repository.Stats{}, errors.New("unreachable")
}
