package db

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/leozw/routerfleet/internal/config"
	"github.com/leozw/routerfleet/internal/secrets"
)

// Open returns the store selected by cfg.Database.Driver and a function that
// releases it. In release mode postgres requires security.secret_key, since
// secrets sealed with an ephemeral key are unreadable after a restart.
func Open(cfg *config.Config, logger *zap.Logger) (Store, func() error, error) {
	switch cfg.Database.Driver {
	case "memory":
		logger.Warn("Using in-memory store, data is lost on restart")
		return NewMemoryRepository(), func() error { return nil }, nil

	case "postgres":
		sealer, err := newSealer(cfg, logger)
		if err != nil {
			return nil, nil, err
		}

		conn, err := NewConnection(cfg.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if cfg.Database.AutoMigrate {
			if err := Migrate(conn); err != nil {
				conn.Close()
				return nil, nil, err
			}
			logger.Info("Database migrations applied")
		}
		return NewRepository(conn, sealer), conn.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Database.Driver)
	}
}

func newSealer(cfg *config.Config, logger *zap.Logger) (*secrets.Sealer, error) {
	if cfg.Security.SecretKey != "" {
		sealer, err := secrets.NewSealer(cfg.Security.SecretKey)
		if err != nil {
			return nil, fmt.Errorf("invalid secret key: %w", err)
		}
		return sealer, nil
	}
	if cfg.Server.Mode == "release" {
		return nil, errors.New("security.secret_key is required in release mode")
	}
	logger.Warn("No security.secret_key configured, sealing secrets with an ephemeral key")
	return secrets.NewRandomSealer()
}
