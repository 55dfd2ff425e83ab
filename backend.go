package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/tejzpr/rishvan-input/internal/config"
	"github.com/tejzpr/rishvan-input/internal/db"
	"github.com/tejzpr/rishvan-input/internal/document"
	"github.com/tejzpr/rishvan-input/internal/events"
	"github.com/tejzpr/rishvan-input/internal/logger"
)

// backend is the selected store and whatever it depends on.
type backend struct {
	store   document.Store
	closers []func() error
}

func (b *backend) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func openBackend(ctx context.Context, cfg *config.Config, log *logger.Logger) (*backend, error) {
	b := &backend{}
	switch cfg.Store.Driver {
	case config.DriverMemory:
		b.store = document.NewMemoryStore()

	case config.DriverRedis:
		s, err := document.NewRedisStore(ctx, cfg.Store.RedisURL, cfg.Store.RedisPrefix, log)
		if err != nil {
			return nil, err
		}
		b.store = s
		b.closers = append(b.closers, s.Close)

	case config.DriverPostgres:
		s, err := document.NewPostgresStore(ctx, cfg.Store.PostgresURL, log)
		if err != nil {
			return nil, err
		}
		b.store = s
		b.closers = append(b.closers, s.Close)

	case config.DriverSQLite:
		bus, err := openBus(cfg, log)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, func() error { bus.Close(); return nil })

		gdb, err := db.Open(cfg.Store.SQLitePath)
		if err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		s, err := db.NewStore(gdb, bus, cfg.SourceName, log)
		if err != nil {
			_ = b.Close()
			return nil, err
		}
		b.store = s
		b.closers = append(b.closers, s.Close)

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	log.Info("store ready", zap.String("driver", cfg.Store.Driver))
	return b, nil
}

// openBus connects to NATS when configured, otherwise events stay in
// process.
func openBus(cfg *config.Config, log *logger.Logger) (events.Bus, error) {
	if cfg.NATS.URL == "" {
		return events.NewMemoryBus(log), nil
	}
	bus, err := events.NewNATSBus(cfg.NATS, log)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return bus, nil
}
