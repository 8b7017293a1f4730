// Package app wires configuration to concrete stores for the binaries.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/safestay/safestay/internal/agreement"
	"github.com/safestay/safestay/internal/config"
	"github.com/safestay/safestay/internal/observability/logger"
	"github.com/safestay/safestay/internal/session"
	"github.com/safestay/safestay/internal/store/memory"
	"github.com/safestay/safestay/internal/store/mongo"
	"github.com/safestay/safestay/internal/store/postgres"
	"github.com/safestay/safestay/internal/tenant"
)

// Stores holds the repositories for the configured driver
type Stores struct {
	Driver     string
	Agreements agreement.Repository
	Tenants    tenant.Repository
	Sessions   session.Repository

	migrate func(ctx context.Context) error
	close   func(ctx context.Context)
}

// Migrate applies the driver's schema: tables for Postgres, indexes for
// MongoDB. It is a no-op for the memory store.
func (s *Stores) Migrate(ctx context.Context) error {
	if s.migrate == nil {
		return nil
	}
	return s.migrate(ctx)
}

// Close releases the underlying connections
func (s *Stores) Close(ctx context.Context) {
	if s.close != nil {
		s.close(ctx)
	}
}

// OpenStores connects to the configured store
func OpenStores(ctx context.Context, cfg *config.Config) (*Stores, error) {
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		db, err := postgres.New(ctx, postgres.Config{
			Host:         cfg.Database.Host,
			Port:         cfg.Database.Port,
			User:         cfg.Database.User,
			Password:     cfg.Database.Password,
			Database:     cfg.Database.Database,
			SSLMode:      cfg.Database.SSLMode,
			MaxOpenConns: cfg.Database.MaxOpenConns,
			MaxIdleConns: cfg.Database.MaxIdleConns,
		})
		if err != nil {
			return nil, err
		}
		slog.InfoContext(ctx, "connected to database", logger.Store(config.DriverPostgres))
		return &Stores{
			Driver:     config.DriverPostgres,
			Agreements: postgres.NewAgreementRepository(db),
			Tenants:    postgres.NewTenantRepository(db),
			Sessions:   postgres.NewSessionRepository(db),
			migrate: func(ctx context.Context) error {
				return db.Migrate(ctx, postgres.InitialSchema)
			},
			close: func(context.Context) { db.Close() },
		}, nil

	case config.DriverMongo:
		m, err := mongo.NewConnection(ctx, mongo.ConnectionInfo{
			Scheme:     cfg.Mongo.Scheme,
			User:       cfg.Mongo.User,
			Password:   cfg.Mongo.Password,
			Host:       cfg.Mongo.Host,
			Port:       cfg.Mongo.Port,
			DB:         cfg.Mongo.Database,
			AuthSource: cfg.Mongo.AuthSource,
		})
		if err != nil {
			return nil, err
		}
		slog.InfoContext(ctx, "connected to database", logger.Store(config.DriverMongo))
		return &Stores{
			Driver:     config.DriverMongo,
			Agreements: mongo.NewAgreementRepository(m),
			Tenants:    mongo.NewTenantRepository(m),
			Sessions:   mongo.NewSessionRepository(m),
			migrate:    m.EnsureIndexes,
			close: func(ctx context.Context) {
				if err := m.Close(ctx); err != nil {
					slog.WarnContext(ctx, "failed to disconnect mongo", logger.Error(err))
				}
			},
		}, nil

	case config.DriverMemory:
		slog.WarnContext(ctx, "using in-memory store; data is lost on restart", logger.Store(config.DriverMemory))
		agreements := memory.NewAgreementRepository()
		return &Stores{
			Driver:     config.DriverMemory,
			Agreements: agreements,
			Tenants:    memory.NewTenantRepository(agreements),
			Sessions:   memory.NewSessionRepository(),
		}, nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
