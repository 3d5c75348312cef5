// Package app wires the filmdoms auth server runtime: config, logging,
// storage backends, HTTP routes, and metrics.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"filmdoms/cmd/account"
	"filmdoms/cmd/internal/auth/api"
	"filmdoms/cmd/internal/auth/session"
	"filmdoms/cmd/internal/migrations"
	"filmdoms/cmd/security/password"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// App owns the server's long-lived resources and its HTTP handler.
type App struct {
	cfg Config
	log *slog.Logger

	dbPool *pgxpool.Pool
	rdb    *redis.Client

	registry *prometheus.Registry
	sessions *session.Service
	handler  http.Handler
}

// Option customizes New.
type Option func(*options)

type options struct {
	finder account.Finder
	now    func() time.Time
}

// WithAccountFinder overrides the account backend selection.
func WithAccountFinder(f account.Finder) Option {
	return func(o *options) { o.finder = f }
}

// WithClock overrides the HTTP layer's clock.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New constructs a fully wired App. On error every resource opened so far is
// released.
func New(ctx context.Context, cfg Config, log *slog.Logger, opts ...Option) (_ *App, err error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	hasher, err := ValidateSecurityConfig(cfg)
	if err != nil {
		return nil, err
	}
	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	passwords, err := password.FromEnv()
	if err != nil {
		return nil, err
	}
	authCfg := api.LoadConfigFromEnv()

	a := &App{cfg: cfg, log: log, registry: NewRegistry()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if cfg.DatabaseURL != "" {
		if a.dbPool, err = a.openDB(ctx); err != nil {
			return nil, err
		}
	}
	if cfg.sessionStore() == StoreRedis {
		if a.rdb, err = NewRedisClient(ctx, cfg); err != nil {
			return nil, err
		}
		log.Info("redis.enabled")
	}

	finder, err := a.accountFinder(o.finder)
	if err != nil {
		return nil, err
	}
	verifier, err := account.NewVerifier(finder, passwords)
	if err != nil {
		return nil, err
	}

	store, err := a.sessionStore()
	if err != nil {
		return nil, err
	}
	codec, err := session.NewAccessTokenCodec(sessCfg)
	if err != nil {
		return nil, err
	}
	a.sessions = session.NewService(sessCfg, verifier, codec, session.NewRefreshTokens(store, hasher, sessCfg), log)

	handlerOpts := []api.HandlerOption{api.WithAuditor(a.auditor())}
	if o.now != nil {
		handlerOpts = append(handlerOpts, api.WithClock(o.now))
	}
	var httpMetrics *HTTPMetrics
	if cfg.MetricsEnabled {
		authMetrics, err := api.NewMetrics(a.registry)
		if err != nil {
			return nil, err
		}
		handlerOpts = append(handlerOpts, api.WithMetrics(authMetrics))
		if httpMetrics, err = NewHTTPMetrics(a.registry); err != nil {
			return nil, err
		}
	}

	auth, err := api.NewHandler(log, a.sessions, authCfg, handlerOpts...)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	registerHTTP(mux, a, auth)

	var h http.Handler = mux
	h = httpMetrics.Wrap(h)
	h = WithCORS(h, cfg, log)
	h = WithSecurityHeaders(h)
	h = WithRequestLogging(h, log)
	a.handler = WithRecover(h, log)

	log.Info("app.ready",
		"session_store", cfg.sessionStore(),
		"token_format", string(sessCfg.TokenFormat),
		"db_enabled", a.dbPool != nil,
		"token_hmac", hasher.HMACEnabled(),
	)
	return a, nil
}

func (a *App) openDB(ctx context.Context) (*pgxpool.Pool, error) {
	pool, err := NewDBPool(ctx, a.cfg)
	if err != nil {
		return nil, err
	}
	if !a.cfg.DBAutoMigrate {
		a.log.Info("db.enabled", "schema", a.cfg.DBSchema)
		return pool, nil
	}
	if err := EnsureSchema(ctx, pool, a.cfg.DBSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db: ensure schema: %w", err)
	}
	if err := migrations.Up(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	a.log.Info("db.enabled", "schema", a.cfg.DBSchema, "migrated", true)
	return pool, nil
}

func (a *App) accountFinder(override account.Finder) (account.Finder, error) {
	switch {
	case override != nil:
		return override, nil
	case a.dbPool != nil:
		return account.NewPostgresStore(a.dbPool, account.WithSchema(a.cfg.DBSchema))
	case a.cfg.DevAccountsFile != "":
		st, err := account.LoadMemoryStoreFile(a.cfg.DevAccountsFile)
		if err != nil {
			return nil, err
		}
		a.log.Info("accounts.dev_file", "path", a.cfg.DevAccountsFile, "count", st.Len())
		return st, nil
	default:
		a.log.Warn("accounts.empty", "hint", "set FILMDOMS_DATABASE_URL or FILMDOMS_DEV_ACCOUNTS_FILE")
		return account.NewMemoryStore(), nil
	}
}

func (a *App) sessionStore() (session.Store, error) {
	switch a.cfg.sessionStore() {
	case StorePostgres:
		return session.NewPostgresStore(a.dbPool, session.WithSchema(a.cfg.DBSchema))
	case StoreRedis:
		return session.NewRedisStore(a.rdb,
			session.WithKeyPrefix(a.cfg.RedisKeyPrefix),
			session.WithRetention(a.cfg.RedisRetention),
		), nil
	default:
		a.log.Warn("session.store.memory", "hint", "sessions are lost on restart")
		return session.NewMemoryStore(), nil
	}
}

func (a *App) auditor() api.Auditor {
	if a.dbPool == nil {
		return api.LogAuditor{Log: a.log}
	}
	pa, err := api.NewPostgresAuditor(a.dbPool, a.cfg.DBSchema, a.log)
	if err != nil {
		a.log.Warn("audit.postgres.disabled", "err", err)
		return api.LogAuditor{Log: a.log}
	}
	return pa
}

// Handler returns the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Sessions exposes the session service for maintenance commands.
func (a *App) Sessions() *session.Service { return a.sessions }

// Registry returns the Prometheus registry backing /metrics.
func (a *App) Registry() *prometheus.Registry { return a.registry }

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
		ErrorLog:          slog.NewLogLogger(a.log.Handler(), slog.LevelWarn),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbPool != nil)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	a.log.Info("server.stopped")
	return nil
}

// Close releases the DB pool and Redis client. Safe to call more than once.
func (a *App) Close() {
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.log.Warn("redis.close.fail", "err", err)
		}
		a.rdb = nil
	}
	if a.dbPool != nil {
		a.dbPool.Close()
		a.dbPool = nil
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
