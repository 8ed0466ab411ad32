// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the wiring layer. It decides which URL patterns map to
// which handlers, which middleware runs where, which session store and mail
// transport back the services, and how the server stops.
//
// DEPENDENCY INJECTION FLOW:
//
//	config.Config → Server.New() creates:
//	  sqlite.DB → UserDB / IdentityDB / session store
//	  providers (GitHub, Yandex, Tinkoff) → auth.Registry
//	  IdentityResolver + ProfileMerger → OAuthService → OAuthHandler
//	  PasswordService + TokenService + mail.Sender → AccountService → AccountHandler
//
// Everything is assembled here (the composition root); no other package
// reads configuration.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sakif/authlink/internal/auth"
	"github.com/sakif/authlink/internal/config"
	"github.com/sakif/authlink/internal/handler"
	"github.com/sakif/authlink/internal/mail"
	"github.com/sakif/authlink/internal/middleware"
	sqliteRepo "github.com/sakif/authlink/internal/repository/sqlite"
	"github.com/sakif/authlink/internal/service"
	"github.com/sakif/authlink/internal/session"
)

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the database connection and, with the redis session
// backend, the Redis client. Close releases both; Start calls it on the way
// out.
type Server struct {
	router *chi.Mux
	config *config.Config
	logger *slog.Logger
	db     *sqliteRepo.DB
	redis  *redis.Client // nil unless SESSION_BACKEND=redis
}

// New creates a Server from cfg. Nothing listens until Start.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	// === CREATE DATABASE ===
	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		db:     db,
	}

	if err := s.setupRoutes(); err != nil {
		s.Close() // release whatever was opened before the failure
		return nil, fmt.Errorf("setting up routes: %w", err)
	}

	return s, nil
}

// Handler returns the root handler: the router wrapped in otelhttp so every
// request gets a server span.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "authlink")
}

// Close releases the database and the Redis client.
func (s *Server) Close() error {
	var errs []error
	if s.redis != nil {
		errs = append(errs, s.redis.Close())
	}
	errs = append(errs, s.db.Close())
	return errors.Join(errs...)
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
// GET    /healthz                          → DB ping + row counts
// GET    /auth/providers/                  → enabled providers
// GET    /auth/{provider}/start/           → redirect to the provider
// GET    /auth/{provider}/callback/        → finish sign-in
// POST   /auth/{provider}/profile/apply/   → merge suggested name
// POST   /auth/register/                   → email/password sign-up
// GET    /auth/activate/{token}/           → mailed activation link
// POST   /auth/login/                      → email/password sign-in
// POST   /auth/logout/                     → end the session
// GET    /api/me/                          → current user (auth required)
// POST   /api/account/profile/             → edit name (auth required)
//
// MIDDLEWARE ORDER MATTERS:
// 1. RequestID, RealIP: request metadata the logger reads
// 2. Logger: one line per request
// 3. Recoverer: panics become 500 (inside Logger so they get logged)
// 4. session.Middleware: attaches the *Session
// 5. auth.CurrentUser: loads the signed-in user from the session
func (s *Server) setupRoutes() error {
	store, err := s.sessionStore()
	if err != nil {
		return err
	}
	sessions := session.NewManager(store, session.CookieOptions{
		Name:   session.DefaultCookieName,
		Secure: s.config.Session.CookieSecure,
		MaxAge: s.config.Session.TTL,
	}, s.logger)

	users, identities := s.db.Users(), s.db.Identities()

	tokens, err := auth.NewTokenService(s.config.SecretKey)
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}

	providers := s.providers()
	if len(providers.Names()) == 0 {
		s.logger.Warn("no OAuth provider configured; only email/password sign-in is available")
	}

	// === SERVICES ===
	resolver := service.NewIdentityResolver(users, identities, s.logger)
	merger := service.NewProfileMerger(users, s.logger)
	oauthService := service.NewOAuthService(providers, resolver, merger, users, s.config.DefaultRedirect, s.logger)
	accountService := service.NewAccountService(users, identities,
		auth.NewPasswordService(), tokens, s.mailer(), s.config.BaseURL, s.logger)

	// === HANDLERS ===
	oauthHandler := handler.NewOAuthHandler(oauthService, s.config.Session.TrustForwardedProto, s.logger)
	accountHandler := handler.NewAccountHandler(accountService, s.logger)
	healthHandler := handler.NewHealthHandler(s.db, s.logger)

	// === GLOBAL MIDDLEWARE ===
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)

	s.router.NotFound(handler.NotFound)
	s.router.MethodNotAllowed(handler.MethodNotAllowed)

	// Health stays outside the session middleware: probes carry no cookie
	// and must not mint sessions.
	s.router.Get("/healthz", healthHandler.HandleHealth)

	s.router.Group(func(r chi.Router) {
		r.Use(sessions.Middleware)
		r.Use(auth.CurrentUser(users, s.logger))

		r.Route("/auth", func(r chi.Router) {
			r.Get("/providers/", oauthHandler.HandleProviders)
			r.Get("/{provider}/start/", oauthHandler.HandleStart)
			r.Get("/{provider}/callback/", oauthHandler.HandleCallback)
			r.Post("/{provider}/profile/apply/", oauthHandler.HandleApply)

			r.Post("/register/", accountHandler.HandleRegister)
			r.Get("/activate/{token}/", accountHandler.HandleActivate)
			r.Post("/login/", accountHandler.HandleLogin)
			r.Post("/logout/", accountHandler.HandleLogout)
		})

		r.Route("/api", func(r chi.Router) {
			r.Use(auth.RequireAuth)
			r.Get("/me/", accountHandler.HandleMe)
			r.Post("/account/profile/", accountHandler.HandleUpdateProfile)
		})
	})

	return nil
}

// sessionStore builds the configured session backend.
func (s *Server) sessionStore() (session.Store, error) {
	ttl := s.config.Session.TTL

	switch s.config.Session.Backend {
	case config.SessionRedis:
		s.redis = redis.NewClient(&redis.Options{
			Addr:     s.config.Session.RedisAddr,
			Password: s.config.Session.RedisPassword,
			DB:       s.config.Session.RedisDB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connecting to redis at %s: %w", s.config.Session.RedisAddr, err)
		}
		return session.NewRedisStore(s.redis, ttl), nil

	case config.SessionMemory:
		s.logger.Warn("in-memory sessions are lost on restart and not shared between instances")
		return session.NewMemoryStore(ttl), nil

	default:
		store := s.db.Sessions(ttl)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		n, err := store.DeleteExpired(ctx)
		if err != nil {
			return nil, fmt.Errorf("purging expired sessions: %w", err)
		}
		if n > 0 {
			s.logger.Info("purged expired sessions", slog.Int64("count", n))
		}
		return store, nil
	}
}

// providers registers every provider whose credentials are configured.
func (s *Server) providers() *auth.Registry {
	client := auth.NewHTTPClient(s.config.ProviderTimeout)
	var list []auth.Provider

	if gh := s.config.GitHub; gh.Enabled() {
		list = append(list, auth.NewGitHubProvider(auth.GitHubConfig{
			ClientID:     gh.ClientID,
			ClientSecret: gh.ClientSecret,
			RedirectURL:  gh.RedirectURL,
			Scopes:       gh.Scopes,
		}, client))
	}
	if ya := s.config.Yandex; ya.Enabled() {
		list = append(list, auth.NewYandexProvider(auth.YandexConfig{
			ClientID:     ya.ClientID,
			ClientSecret: ya.ClientSecret,
			RedirectURL:  ya.RedirectURL,
			Scopes:       ya.Scopes,
		}, client))
	}
	if tk := s.config.Tinkoff; tk.Enabled() {
		list = append(list, auth.NewTinkoffProvider(auth.TinkoffConfig{
			ClientID:      tk.ClientID,
			ClientSecret:  tk.ClientSecret,
			RedirectURL:   tk.RedirectURL,
			Scopes:        tk.Scopes,
			AuthURL:       tk.AuthURL,
			TokenURL:      tk.TokenURL,
			IntrospectURL: tk.IntrospectURL,
			UserInfoURL:   tk.UserInfoURL,
		}, client))
	}

	registry := auth.NewRegistry(list...)
	s.logger.Info("oauth providers enabled", slog.Any("providers", registry.Names()))
	return registry
}

// mailer sends over SMTP with retries when a host is configured, otherwise
// it logs the message.
func (s *Server) mailer() mail.Sender {
	m := s.config.Mail
	if m.SMTPHost == "" {
		s.logger.Warn("SMTP host not set; activation mail will only be logged")
		return mail.NewLogSender(s.logger)
	}
	smtp := mail.NewSMTPSender(mail.SMTPConfig{
		Host:     m.SMTPHost,
		Port:     m.SMTPPort,
		Username: m.SMTPUsername,
		Password: m.SMTPPassword,
		From:     m.From,
	})
	return mail.NewRetrySender(smtp, m.MaxRetries, m.RetryDelay, s.logger)
}

// Start starts the HTTP server and handles graceful shutdown.
//
// GRACEFUL SHUTDOWN:
// 1. Stop accepting new HTTP connections
// 2. Wait for in-flight requests to finish (30s timeout)
// 3. Close the database and Redis (deferred, so it runs on every path)
func (s *Server) Start() error {
	defer s.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second, // covers a provider round trip plus mail retries
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", s.config.BaseURL),
			slog.String("database", s.config.DBPath),
			slog.String("sessions", s.config.Session.Backend),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
