package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"

	"beaconwatch/internal/model"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:beaconwatch.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &sqliteStore{baseStore{db: db}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS zone_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			kind TEXT NOT NULL,
			zone_id TEXT NOT NULL,
			zone_name TEXT NOT NULL,
			beacon_uuid TEXT NOT NULL,
			beacon_major INTEGER NOT NULL,
			beacon_minor INTEGER NOT NULL,
			distance_m REAL NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_zone_events_ts ON zone_events(ts)`,
		`CREATE INDEX IF NOT EXISTS idx_zone_events_zone ON zone_events(zone_id)`,
		`CREATE TABLE IF NOT EXISTS discoveries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			beacon_uuid TEXT NOT NULL,
			beacon_major INTEGER NOT NULL,
			beacon_minor INTEGER NOT NULL,
			rssi INTEGER NOT NULL,
			distance_m REAL NOT NULL
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

func (s *sqliteStore) SaveEvent(ctx context.Context, ev model.ZoneEvent) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO zone_events (ts, kind, zone_id, zone_name, beacon_uuid, beacon_major, beacon_minor, distance_m)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
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

func (s *sqliteStore) SaveDiscovery(ctx context.Context, b model.BeaconSnapshot) error {
	if s.db == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO discoveries (ts, beacon_uuid, beacon_major, beacon_minor, rssi, distance_m)
		VALUES (?, ?, ?, ?, ?, ?)`,
		nowUTC(),
		b.Identity.UUID.String(),
		b.Identity.Major,
		b.Identity.Minor,
		b.RSSI,
		b.Distance,
	)
	return err
}
