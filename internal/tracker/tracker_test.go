package tracker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"beaconwatch/internal/advert"
	"beaconwatch/internal/config"
	"beaconwatch/internal/model"
	"beaconwatch/internal/scan"
)

var testUUID = uuid.MustParse("e2c56db5-dffb-48d2-b060-d0f5a71096e0")

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Tracker.BeaconTimeout = 60 * time.Second
	cfg.Tracker.DedupeWindow = 0
	return cfg
}

func newTrackerForTest(cfg *config.Config) *Tracker {
	return New(cfg, nil, nil, nil)
}

func frame(id model.Identity, rssi int, ts time.Time) scan.RawFrame {
	return scan.RawFrame{
		Payload:   advert.Encode(id, -59),
		RSSI:      rssi,
		Timestamp: ts,
		Source:    "test",
	}
}

func TestFirstDiscoveryFiresOnce(t *testing.T) {
	trk := newTrackerForTest(testConfig())
	discovered := 0
	trk.AddListener(DiscoveryFunc(func(model.BeaconSnapshot) {
		discovered++
	}))
	id := model.Identity{UUID: testUUID, Major: 1, Minor: 100}
	base := time.Now().UTC()
	for i := 0; i < 10; i++ {
		if !trk.HandleFrame(frame(id, -60-i, base.Add(time.Duration(i)*100*time.Millisecond))) {
			t.Fatalf("frame %d rejected", i)
		}
	}
	if discovered != 1 {
		t.Fatalf("expected exactly one discovery, got %d", discovered)
	}
	snap := trk.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected one tracked beacon, got %d", len(snap))
	}
	if snap[0].Identity != id {
		t.Fatalf("identity mismatch: %s", snap[0].Identity)
	}
}

func TestDistinctIdentitiesTrackedSeparately(t *testing.T) {
	trk := newTrackerForTest(testConfig())
	base := time.Now().UTC()
	near := model.Identity{UUID: testUUID, Major: 1, Minor: 1}
	far := model.Identity{UUID: testUUID, Major: 1, Minor: 2}
	trk.HandleFrame(frame(near, -55, base))
	trk.HandleFrame(frame(far, -90, base))
	snap := trk.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected two tracked beacons, got %d", len(snap))
	}
	// Snapshot is identity-sorted; minor 1 comes first.
	if snap[0].Identity != near || snap[1].Identity != far {
		t.Fatalf("snapshot order: %s, %s", snap[0].Identity, snap[1].Identity)
	}
	if snap[0].Distance >= snap[1].Distance {
		t.Fatalf("stronger signal should estimate nearer: %f vs %f", snap[0].Distance, snap[1].Distance)
	}
}

func TestMalformedFrameDropped(t *testing.T) {
	trk := newTrackerForTest(testConfig())
	if trk.HandleFrame(scan.RawFrame{Payload: []byte{0x01, 0x02}, RSSI: -60}) {
		t.Fatalf("malformed frame accepted")
	}
	if len(trk.Snapshot()) != 0 {
		t.Fatalf("malformed frame created a beacon")
	}
}

func TestExpiry(t *testing.T) {
	trk := newTrackerForTest(testConfig())
	id := model.Identity{UUID: testUUID, Major: 1, Minor: 100}
	base := time.Now().UTC()
	trk.HandleFrame(frame(id, -60, base))

	if removed := trk.expireStale(base.Add(30 * time.Second)); removed != 0 {
		t.Fatalf("beacon expired too early")
	}
	if removed := trk.expireStale(base.Add(61 * time.Second)); removed != 1 {
		t.Fatalf("expected one expiry, got %d", removed)
	}
	if len(trk.Snapshot()) != 0 {
		t.Fatalf("expired beacon still in snapshot")
	}
}

func TestRefreshDefersExpiry(t *testing.T) {
	trk := newTrackerForTest(testConfig())
	id := model.Identity{UUID: testUUID, Major: 1, Minor: 100}
	base := time.Now().UTC()
	trk.HandleFrame(frame(id, -60, base))
	trk.HandleFrame(frame(id, -61, base.Add(45*time.Second)))
	if removed := trk.expireStale(base.Add(61 * time.Second)); removed != 0 {
		t.Fatalf("refreshed beacon expired")
	}
}

func TestDedupeWindow(t *testing.T) {
	cfg := testConfig()
	cfg.Tracker.DedupeWindow = time.Second
	trk := newTrackerForTest(cfg)
	clock := time.Now().UTC()
	trk.nowFn = func() time.Time { return clock }

	id := model.Identity{UUID: testUUID, Major: 1, Minor: 100}
	f := frame(id, -60, clock)
	if !trk.HandleFrame(f) {
		t.Fatalf("first frame rejected")
	}
	if trk.HandleFrame(f) {
		t.Fatalf("duplicate frame inside window accepted")
	}
	clock = clock.Add(2 * time.Second)
	f.Timestamp = clock
	if !trk.HandleFrame(f) {
		t.Fatalf("frame outside dedupe window rejected")
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	trk := newTrackerForTest(testConfig())
	id := model.Identity{UUID: testUUID, Major: 1, Minor: 100}
	trk.HandleFrame(frame(id, -60, time.Now().UTC()))
	snap := trk.Snapshot()
	snap[0].Distance = -999
	if trk.Snapshot()[0].Distance < 0 {
		t.Fatalf("mutating a snapshot reached tracker state")
	}
}

func TestRemovedListenerNotCalled(t *testing.T) {
	trk := newTrackerForTest(testConfig())
	calls := 0
	handle := trk.AddListener(DiscoveryFunc(func(model.BeaconSnapshot) { calls++ }))
	trk.RemoveListener(handle)
	trk.HandleFrame(frame(model.Identity{UUID: testUUID, Major: 1, Minor: 1}, -60, time.Now().UTC()))
	if calls != 0 {
		t.Fatalf("removed listener was invoked")
	}
}

type failingSource struct{}

func (failingSource) Name() string { return "failing" }
func (failingSource) Start(context.Context, chan<- scan.RawFrame) error {
	return errors.New("hci device disabled")
}

func TestStartFailureLeavesTrackerStopped(t *testing.T) {
	trk := New(testConfig(), nil, failingSource{}, nil)
	err := trk.Start(context.Background())
	if err == nil {
		t.Fatalf("expected start error")
	}
	if !errors.Is(err, ErrScanUnavailable) {
		t.Fatalf("expected ErrScanUnavailable, got %v", err)
	}
	if trk.Running() {
		t.Fatalf("tracker running after failed start")
	}
}

func TestStopWithoutStartIsNoop(t *testing.T) {
	trk := newTrackerForTest(testConfig())
	trk.Stop()
	trk.Stop()
	if trk.Running() {
		t.Fatalf("tracker running after stop")
	}
}
