package app

import (
	"context"
	"fmt"
	"log/slog"

	"companion-auth/internal/config"
	"companion-auth/internal/database"
	"companion-auth/internal/repository"
	"companion-auth/internal/repository/sqlite"
)

type store struct {
	identities repository.IdentityRepository
	sessions   repository.SessionRepository
	ping       func(ctx context.Context) error
	close      func()
}

// openStore connects to the backend named by DATABASE_URL and brings its
// schema up to date.
func openStore(ctx context.Context, cfg *config.Config) (*store, error) {
	if database.IsSQLiteURL(cfg.DatabaseURL) {
		db, err := database.OpenSQLite(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		if err := database.Migrate(ctx, db, database.DialectSQLite); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to ensure database schema: %w", err)
		}
		if !cfg.IsDevelopment() {
			slog.Warn("embedded sqlite database in use outside development", "env", cfg.AppEnv)
		}

		return &store{
			identities: sqlite.NewIdentityRepo(db),
			sessions:   sqlite.NewSessionRepo(db),
			ping:       db.PingContext,
			close: func() {
				if err := db.Close(); err != nil {
					slog.Warn("sqlite close failed", "error", err)
				}
			},
		}, nil
	}

	slog.Info("connecting to PostgreSQL")
	db, err := database.New(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure database schema: %w", err)
	}
	slog.Info("database ready")

	return &store{
		identities: repository.NewIdentityRepo(db.Pool),
		sessions:   repository.NewSessionRepo(db.Pool),
		ping:       db.Health,
		close:      db.Close,
	}, nil
}

// Migrate applies pending migrations and returns without serving.
func Migrate(ctx context.Context, cfg *config.Config) error {
	s, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	s.close()
	return nil
}
