package tracker

import (
	"testing"
	"time"

	"beaconwatch/internal/config"
	"beaconwatch/internal/events"
	"beaconwatch/internal/model"
	"beaconwatch/internal/monitor"
)

// Full pipeline: frames through the tracker's filter, zone decisions
// from the monitor over real snapshots.
func TestZoneScenarioEndToEnd(t *testing.T) {
	cfg := testConfig()
	trk := newTrackerForTest(cfg)
	major := uint16(1)
	minor := uint16(100)
	mon := monitor.New(cfg, nil, trk, events.NewStore(100), nil, nil)
	if err := mon.RegisterZone(zoneConfigFor(testUUID.String(), &major, &minor, 10)); err != nil {
		t.Fatalf("register zone: %v", err)
	}

	id := model.Identity{UUID: testUUID, Major: 1, Minor: 100}
	base := time.Now().UTC()

	// Close approach: rssi -70 against tx -59 estimates well under 10m.
	trk.HandleFrame(frame(id, -70, base))
	evs := mon.Evaluate()
	if len(evs) != 1 || evs[0].Kind != model.EventEnter {
		t.Fatalf("expected one enter, got %d events", len(evs))
	}

	// Walk away: repeated weak samples drag the smoothed estimate past
	// the 12m exit threshold.
	for i := 1; i <= 4; i++ {
		trk.HandleFrame(frame(id, -88, base.Add(time.Duration(i)*time.Second)))
	}
	evs = mon.Evaluate()
	if len(evs) != 1 || evs[0].Kind != model.EventExit {
		t.Fatalf("expected one exit, got %d events", len(evs))
	}

	// Silence past the beacon timeout: the beacon expires, the zone is
	// already outside, nothing further fires.
	if removed := trk.expireStale(base.Add(5*time.Second + cfg.Tracker.BeaconTimeout)); removed != 1 {
		t.Fatalf("expected beacon expiry, removed %d", removed)
	}
	if evs := mon.Evaluate(); len(evs) != 0 {
		t.Fatalf("expected silence after expiry, got %d events", len(evs))
	}
	if mon.InsideAnyZone() {
		t.Fatalf("still inside after scenario")
	}
}

func zoneConfigFor(u string, major, minor *uint16, radius float64) config.ZoneConfig {
	return config.ZoneConfig{
		ID:           "z1",
		Name:         "Zone One",
		UUID:         u,
		Major:        major,
		Minor:        minor,
		RadiusMeters: radius,
		Enabled:      true,
	}
}
