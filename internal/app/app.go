package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"companion-auth/internal/config"
	"companion-auth/internal/event"
	"companion-auth/internal/handler"
	"companion-auth/internal/middleware"
	"companion-auth/internal/ratelimit"
	"companion-auth/internal/router"
	"companion-auth/internal/security"
	"companion-auth/internal/service"
	"companion-auth/internal/token"
)

type App struct {
	cfg          *config.Config
	server       *http.Server
	cleanupFuncs []func()
}

func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{cfg: cfg}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.cleanupFuncs = append(a.cleanupFuncs, store.close)

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		a.cleanup()
		return nil, fmt.Errorf("failed to parse REDIS_URL: %w", err)
	}
	redisClient := redis.NewClient(redisOpts)
	a.cleanupFuncs = append(a.cleanupFuncs, func() {
		if err := redisClient.Close(); err != nil {
			slog.Warn("redis close failed", "error", err)
		}
	})

	limiter := ratelimit.New(redisClient)
	if err := limiter.Ping(ctx); err != nil {
		a.cleanup()
		return nil, fmt.Errorf("failed to reach redis: %w", err)
	}
	slog.Info("redis ready", "addr", redisOpts.Addr, "db", redisOpts.DB)

	tokens, err := token.NewIssuer(token.Options{
		Secret:   cfg.TokenSecret,
		TTL:      cfg.AccessTTL,
		Issuer:   cfg.TokenIssuer,
		Audience: cfg.TokenAudience,
	})
	if err != nil {
		a.cleanup()
		return nil, fmt.Errorf("failed to initialize token issuer: %w", err)
	}

	hasher := security.NewHasher(cfg.PasswordPepper, cfg.Argon2)
	bus := event.NewBus()

	authService := service.NewAuthService(service.AuthServiceConfig{
		Identities: service.NewIdentityService(store.identities, hasher, service.NewOperatorEmailPolicy(cfg.OperatorEmails)),
		Sessions:   service.NewSessionManager(store.sessions, hasher, cfg.RefreshTTL),
		Tokens:     tokens,
		Limiter:    limiter,
		Policies: service.RateLimitPolicies{
			Guest:   cfg.GuestRateLimit,
			Login:   cfg.LoginRateLimit,
			Claim:   cfg.ClaimRateLimit,
			Refresh: cfg.RefreshRateLimit,
		},
		Bus: bus,
	})

	auditCtx, auditCancel := context.WithCancel(context.Background())
	auditDone := make(chan struct{})
	go func() {
		defer close(auditDone)
		event.NewAuditor(bus, slog.Default()).Run(auditCtx)
	}()
	a.cleanupFuncs = append(a.cleanupFuncs, func() {
		auditCancel()
		<-auditDone
	})

	var authMiddleware *middleware.AuthMiddleware
	if cfg.StrictSessionCheck {
		authMiddleware = middleware.NewAuthMiddleware(tokens, authService)
	} else {
		authMiddleware = middleware.NewAuthMiddleware(tokens, nil)
	}

	appRouter := router.New(cfg, authMiddleware, router.Handlers{
		Auth: handler.NewAuthHandler(authService, handler.CookieConfig{
			Prefix: cfg.CookiePrefix,
			Secure: cfg.CookieSecure,
			Domain: cfg.CookieDomain,
			MaxAge: cfg.RefreshTTL,
		}),
		Health: handler.NewHealthHandler(map[string]handler.Pinger{
			"database": handler.PingFunc(store.ping),
			"redis":    limiter,
		}),
		Docs: handler.NewDocsHandler(),
	})

	a.server = &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           appRouter,
		ReadHeaderTimeout: cfg.ServerReadTimeout,
		ReadTimeout:       cfg.ServerReadTimeout,
		WriteTimeout:      cfg.ServerWriteTimeout,
		IdleTimeout:       cfg.ServerIdleTimeout,
	}

	return a, nil
}

func (a *App) Handler() http.Handler {
	return a.server.Handler
}

func (a *App) Run() error {
	serveErr := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", a.server.Addr, "env", a.cfg.AppEnv)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case err := <-serveErr:
		a.cleanup()
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-stop:
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	shutdownErr := a.server.Shutdown(ctx)
	a.cleanup()
	if shutdownErr != nil {
		return fmt.Errorf("graceful shutdown failed: %w", shutdownErr)
	}

	slog.Info("server stopped")
	return nil
}

// Close releases every resource acquired by New. Run calls it on shutdown.
func (a *App) Close() {
	a.cleanup()
}

// cleanup releases resources in reverse order of acquisition.
func (a *App) cleanup() {
	for i := len(a.cleanupFuncs) - 1; i >= 0; i-- {
		a.cleanupFuncs[i]()
	}
	a.cleanupFuncs = nil
}
