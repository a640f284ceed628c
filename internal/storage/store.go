package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"beaconwatch/internal/config"
	"beaconwatch/internal/model"
)

// Store persists zone events and beacon discoveries. Persistence is
// optional and best-effort; engine behavior never depends on it.
type Store interface {
	Init(ctx context.Context) error
	Close() error
	SaveEvent(ctx context.Context, ev model.ZoneEvent) error
	SaveDiscovery(ctx context.Context, b model.BeaconSnapshot) error
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, errors.New("unsupported storage driver")
	}
}

type baseStore struct {
	db *sql.DB
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
