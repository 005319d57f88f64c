// ABOUTME: Gateway orchestrator that wires the store, challenge cache and auth services
// ABOUTME: Runs the HTTP server and the expired-session purger until the context ends

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/2389/keyport/internal/auth"
	"github.com/2389/keyport/internal/challenge"
	"github.com/2389/keyport/internal/config"
	"github.com/2389/keyport/internal/connections"
	"github.com/2389/keyport/internal/passkey"
	"github.com/2389/keyport/internal/password"
	"github.com/2389/keyport/internal/session"
	"github.com/2389/keyport/internal/store"
)

// Gateway owns every long-lived keyport component.
type Gateway struct {
	config     *config.Config
	store      *store.SQLiteStore
	cache      challenge.Cache
	sessions   *session.Issuer
	api        *API
	httpServer *http.Server
	logger     *slog.Logger
}

// initCache builds the configured challenge cache backend.
func initCache(ctx context.Context, cfg config.ChallengeConfig) (challenge.Cache, error) {
	switch cfg.Backend {
	case "redis":
		c, err := challenge.NewRedisCache(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.KeyPrefix)
		if err != nil {
			return nil, fmt.Errorf("initializing challenge cache: %w", err)
		}
		return c, nil
	case "memory", "":
		return challenge.NewMemoryCache(cfg.MaxEntries), nil
	default:
		return nil, fmt.Errorf("unknown challenge backend %q", cfg.Backend)
	}
}

// relyingParty resolves the WebAuthn relying party from config. Explicit
// rp_id and rp_origins win over values derived from base_url.
func relyingParty(cfg *config.Config) (passkey.Config, error) {
	rpID, origins, err := passkey.DeriveRelyingParty(cfg.WebAuthn.BaseURL)
	if err != nil {
		return passkey.Config{}, err
	}
	if cfg.WebAuthn.RPID != "" {
		rpID = cfg.WebAuthn.RPID
	}
	if len(cfg.WebAuthn.RPOrigins) > 0 {
		origins = cfg.WebAuthn.RPOrigins
	}
	return passkey.Config{
		RPID:          rpID,
		RPDisplayName: cfg.WebAuthn.RPDisplayName,
		RPOrigins:     origins,
		MaxBlobBytes:  cfg.Auth.MaxBlobBytes,
		SessionTTL:    cfg.Auth.PasskeySessionTTL,
	}, nil
}

// New creates a Gateway from cfg. The store is opened and migrated, and the
// challenge backend is connected, before New returns.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	sqlStore, err := store.NewSQLiteStore(ctx, cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}

	cache, err := initCache(ctx, cfg.Challenge)
	if err != nil {
		sqlStore.Close()
		return nil, err
	}

	gw, err := assemble(cfg, sqlStore, cache, logger)
	if err != nil {
		cache.Close()
		sqlStore.Close()
		return nil, err
	}
	return gw, nil
}

// assemble wires services over an open store and cache.
func assemble(cfg *config.Config, sqlStore *store.SQLiteStore, cache challenge.Cache, logger *slog.Logger) (*Gateway, error) {
	hasher, err := password.New(password.Options{
		Algorithm:  password.Algorithm(cfg.Auth.PasswordAlgorithm),
		BcryptCost: cfg.Auth.BcryptCost,
	})
	if err != nil {
		return nil, fmt.Errorf("configuring password hasher: %w", err)
	}

	rp, err := relyingParty(cfg)
	if err != nil {
		return nil, fmt.Errorf("configuring relying party: %w", err)
	}
	wa, err := passkey.NewWebAuthn(rp)
	if err != nil {
		return nil, err
	}

	challenges := challenge.NewService(cache, cfg.Challenge.TTL)
	sessions := session.NewIssuer(sqlStore)
	passkeys := passkey.New(sqlStore, rp, wa, challenges, sessions)
	authSvc := auth.NewService(sqlStore, hasher, challenges, passkeys, sessions, auth.Config{
		PasswordSessionTTL: cfg.Auth.PasswordSessionTTL,
		PasskeySessionTTL:  cfg.Auth.PasskeySessionTTL,
	})
	conns := connections.NewService(sqlStore, connections.NewRegistry(connections.DefaultServices))
	api := NewAPI(authSvc, passkeys, conns, challenges.TTL())

	logger.Info("relying party configured", "rp_id", rp.RPID, "origins", rp.RPOrigins)

	return &Gateway{
		config:   cfg,
		store:    sqlStore,
		cache:    cache,
		sessions: sessions,
		api:      api,
		httpServer: &http.Server{
			Addr:              cfg.Server.HTTPAddr,
			Handler:           api.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger.With("component", "gateway"),
	}, nil
}

// Handler returns the HTTP handler served by Run.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Run starts the HTTP server and session purger and blocks until the context
// is canceled. Returns nil on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	purgeCtx, stopPurger := context.WithCancel(ctx)
	defer stopPurger()
	if g.config.Auth.SessionPurgeEvery > 0 {
		go g.sessions.RunPurger(purgeCtx, g.config.Auth.SessionPurgeEvery)
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}
	stopPurger()

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() since the run context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	timeout := g.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the HTTP server and releases the cache and store.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	errs = appendCloseError(errs, "challenge cache close", g.cache.Close())
	errs = appendCloseError(errs, "store close", g.store.Close())

	return errors.Join(errs...)
}
