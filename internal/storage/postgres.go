package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"beaconwatch/internal/model"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/beaconwatch?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS zone_events (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			kind TEXT NOT NULL,
			zone_id TEXT NOT NULL,
			zone_name TEXT NOT NULL,
			beacon_uuid UUID NOT NULL,
			beacon_major INTEGER NOT NULL,
			beacon_minor INTEGER NOT NULL,
			distance_m DOUBLE PRECISION NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_zone_events_ts ON zone_events(ts)`,
		`CREATE INDEX IF NOT EXISTS idx_zone_events_zone ON zone_events(zone_id)`,
		`CREATE TABLE IF NOT EXISTS discoveries (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			beacon_uuid UUID NOT NULL,
			beacon_major INTEGER NOT NULL,
			beacon_minor INTEGER NOT NULL,
			rssi INTEGER NOT NULL,
			distance_m DOUBLE PRECISION NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_discoveries_ts ON discoveries(ts)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *postgresStore) SaveEvent(ctx context.Context, ev model.ZoneEvent) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO zone_events (ts, kind, zone_id, zone_name, beacon_uuid, beacon_major, beacon_minor, distance_m)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		ev.Timestamp.UTC(),
		string(ev.Kind),
		ev.ZoneID,
		ev.ZoneName,
		ev.Identity.UUID.String(),
		ev.Identity.Major,
		ev.Identity.Minor,
		ev.Distance,
	)
	return err
}

func (s *postgresStore) SaveDiscovery(ctx context.Context, b model.BeaconSnapshot) error {
	if s.db == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO discoveries (ts, beacon_uuid, beacon_major, beacon_minor, rssi, distance_m)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		nowUTC(),
		b.Identity.UUID.String(),
		b.Identity.Major,
		b.Identity.Minor,
		b.RSSI,
		b.Distance,
	)
	return err
}
