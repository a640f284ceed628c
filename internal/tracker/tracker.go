// Package tracker converts the raw advertisement stream into a decayed,
// filtered, queryable map of currently-present beacons. The map and the
// per-beacon filters are owned exclusively by the tracker; everything
// outside sees immutable snapshot copies only.
package tracker

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"beaconwatch/internal/advert"
	"beaconwatch/internal/config"
	"beaconwatch/internal/kalman"
	"beaconwatch/internal/model"
	"beaconwatch/internal/scan"
	"beaconwatch/internal/storage"
)

// ErrScanUnavailable wraps the precondition failure from the scan layer.
// The tracker stays stopped; callers may retry Start after resolving it.
var ErrScanUnavailable = errors.New("tracker: scan source unavailable")

// DiscoveryListener receives first-discovery notifications. Only the
// first sighting of an identity is pushed; refinements are available via
// Snapshot, so listeners are not flooded at advertisement rates.
type DiscoveryListener interface {
	OnDiscovered(model.BeaconSnapshot)
}

// DiscoveryFunc adapts a plain function to DiscoveryListener.
type DiscoveryFunc func(model.BeaconSnapshot)

func (f DiscoveryFunc) OnDiscovered(b model.BeaconSnapshot) { f(b) }

const dedupeCacheSize = 4096

type trackedBeacon struct {
	identity  model.Identity
	rssi      int
	filter    *kalman.Filter
	distance  float64
	firstSeen time.Time
	lastSeen  time.Time
}

type Tracker struct {
	logger *slog.Logger
	source scan.Source
	store  storage.Store
	cfg    atomic.Value

	mu       sync.Mutex
	beacons  map[model.Identity]*trackedBeacon
	running  bool
	cancel   context.CancelFunc
	listMu   sync.Mutex
	nextID   int
	listener map[int]DiscoveryListener

	dedupe *lru.Cache[string, time.Time]

	nowFn func() time.Time
}

func New(cfg *config.Config, logger *slog.Logger, source scan.Source, store storage.Store) *Tracker {
	cache, _ := lru.New[string, time.Time](dedupeCacheSize)
	t := &Tracker{
		logger:   logger,
		source:   source,
		store:    store,
		beacons:  make(map[model.Identity]*trackedBeacon),
		listener: make(map[int]DiscoveryListener),
		dedupe:   cache,
		nowFn:    func() time.Time { return time.Now().UTC() },
	}
	t.cfg.Store(cfg)
	return t
}

func (t *Tracker) UpdateConfig(cfg *config.Config) {
	t.cfg.Store(cfg)
}

func (t *Tracker) config() *config.Config {
	if v := t.cfg.Load(); v != nil {
		return v.(*config.Config)
	}
	return config.DefaultConfig()
}

// Start begins the scan lifecycle. Idempotent: a second Start while
// running is a no-op. If the scan source cannot be brought up the
// tracker stays stopped and the error is surfaced once.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	cfg := t.config()
	runCtx, cancel := context.WithCancel(ctx)
	frames := make(chan scan.RawFrame, cfg.Scan.ChannelBuffer)
	if t.source == nil {
		cancel()
		return fmt.Errorf("%w: no source configured", ErrScanUnavailable)
	}
	if err := t.source.Start(runCtx, frames); err != nil {
		cancel()
		return fmt.Errorf("%w: %w", ErrScanUnavailable, err)
	}

	t.mu.Lock()
	t.running = true
	t.cancel = cancel
	t.mu.Unlock()

	go t.consume(runCtx, frames)
	go t.expiryLoop(runCtx)
	if t.logger != nil {
		t.logger.Info("tracker started",
			"source", t.source.Name(),
			"beacon_timeout", cfg.Tracker.BeaconTimeout,
			"expiry_interval", cfg.Tracker.ExpiryInterval,
		)
	}
	return nil
}

// Stop halts the scan lifecycle. Safe to call without a prior Start and
// safe to call twice.
func (t *Tracker) Stop() {
	t.mu.Lock()
	cancel := t.cancel
	wasRunning := t.running
	t.running = false
	t.cancel = nil
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if wasRunning && t.logger != nil {
		t.logger.Info("tracker stopped")
	}
}

func (t *Tracker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

func (t *Tracker) consume(ctx context.Context, in <-chan scan.RawFrame) {
	for {
		select {
		case frame := <-in:
			t.HandleFrame(frame)
		case <-ctx.Done():
			return
		}
	}
}

func (t *Tracker) expiryLoop(ctx context.Context) {
	ticker := time.NewTicker(t.config().Tracker.ExpiryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			removed := t.expireStale(t.nowFn())
			if removed > 0 && t.logger != nil {
				t.logger.Debug("expired stale beacons", "count", removed)
			}
		case <-ctx.Done():
			return
		}
	}
}

// HandleFrame decodes and applies one raw frame. Malformed frames are
// dropped silently per the engine's error policy. Returns true when the
// frame updated a beacon.
func (t *Tracker) HandleFrame(frame scan.RawFrame) bool {
	sighting, ok := advert.Decode(frame.Payload, frame.RSSI, frame.Timestamp)
	if !ok {
		return false
	}
	cfg := t.config()
	if t.isDuplicate(frame, cfg.Tracker.DedupeWindow) {
		return false
	}
	if sighting.Timestamp.IsZero() {
		sighting.Timestamp = t.nowFn()
	}

	raw := advert.Distance(sighting.RSSI, sighting.TxPower)

	t.mu.Lock()
	b, exists := t.beacons[sighting.Identity]
	if !exists {
		f := kalman.New(cfg.Tracker.ProcessNoise, cfg.Tracker.MeasurementNoise)
		b = &trackedBeacon{
			identity:  sighting.Identity,
			rssi:      sighting.RSSI,
			filter:    f,
			distance:  f.Update(raw),
			firstSeen: sighting.Timestamp,
			lastSeen:  sighting.Timestamp,
		}
		t.beacons[sighting.Identity] = b
	} else {
		b.rssi = sighting.RSSI
		b.distance = b.filter.Update(raw)
		b.lastSeen = sighting.Timestamp
	}
	snap := snapshotOf(b)
	t.mu.Unlock()

	if !exists {
		if t.logger != nil {
			t.logger.Info("beacon discovered",
				"identity", snap.Identity.String(),
				"rssi", snap.RSSI,
				"distance_m", snap.Distance,
			)
		}
		if t.store != nil {
			_ = t.store.SaveDiscovery(context.Background(), snap)
		}
		t.notifyDiscovered(snap)
	}
	return true
}

// Snapshot returns a point-in-time copy of all tracked beacons, sorted
// by identity so consecutive calls are comparable. No live references
// escape.
func (t *Tracker) Snapshot() []model.BeaconSnapshot {
	t.mu.Lock()
	out := make([]model.BeaconSnapshot, 0, len(t.beacons))
	for _, b := range t.beacons {
		out = append(out, snapshotOf(b))
	}
	t.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		return lessIdentity(out[i].Identity, out[j].Identity)
	})
	return out
}

// AddListener registers a first-discovery listener and returns a handle
// for removal.
func (t *Tracker) AddListener(l DiscoveryListener) int {
	t.listMu.Lock()
	defer t.listMu.Unlock()
	t.nextID++
	t.listener[t.nextID] = l
	return t.nextID
}

func (t *Tracker) RemoveListener(id int) {
	t.listMu.Lock()
	defer t.listMu.Unlock()
	delete(t.listener, id)
}

func (t *Tracker) notifyDiscovered(snap model.BeaconSnapshot) {
	t.listMu.Lock()
	listeners := make([]DiscoveryListener, 0, len(t.listener))
	for _, l := range t.listener {
		listeners = append(listeners, l)
	}
	t.listMu.Unlock()
	for _, l := range listeners {
		l.OnDiscovered(snap)
	}
}

// expireStale removes beacons whose last sighting is older than the
// timeout. Removal is silent; the monitor detects absence via Snapshot.
func (t *Tracker) expireStale(now time.Time) int {
	timeout := t.config().Tracker.BeaconTimeout
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for id, b := range t.beacons {
		if now.Sub(b.lastSeen) > timeout {
			delete(t.beacons, id)
			removed++
		}
	}
	return removed
}

func (t *Tracker) isDuplicate(frame scan.RawFrame, window time.Duration) bool {
	if window <= 0 || t.dedupe == nil {
		return false
	}
	key := hex.EncodeToString(frame.Payload) + "|" + fmt.Sprint(frame.RSSI)
	now := t.nowFn()
	if ts, ok := t.dedupe.Get(key); ok && now.Sub(ts) <= window {
		return true
	}
	t.dedupe.Add(key, now)
	return false
}

func snapshotOf(b *trackedBeacon) model.BeaconSnapshot {
	return model.BeaconSnapshot{
		Identity:  b.identity,
		RSSI:      b.rssi,
		Distance:  b.distance,
		FirstSeen: b.firstSeen,
		LastSeen:  b.lastSeen,
	}
}

func lessIdentity(a, b model.Identity) bool {
	for i := range a.UUID {
		if a.UUID[i] != b.UUID[i] {
			return a.UUID[i] < b.UUID[i]
		}
	}
	if a.Major != b.Major {
		return a.Major < b.Major
	}
	return a.Minor < b.Minor
}
