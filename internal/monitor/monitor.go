// Package monitor owns the configured zones and turns tracked-beacon
// presence, absence and distance into stable enter/exit/dwell events.
// Zone runtime state is mutated only inside Evaluate; everything else
// reads copies.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"beaconwatch/internal/config"
	"beaconwatch/internal/events"
	"beaconwatch/internal/model"
	"beaconwatch/internal/storage"
)

// ErrZoneNotFound is returned for state queries on unregistered ids.
var ErrZoneNotFound = errors.New("monitor: zone not found")

// SnapshotProvider is the tracker-facing capability: a point-in-time,
// immutable view of all currently tracked beacons.
type SnapshotProvider interface {
	Snapshot() []model.BeaconSnapshot
}

// EventListener receives zone transition events. Payloads are values;
// listeners cannot reach back into zone state.
type EventListener interface {
	OnZoneEvent(model.ZoneEvent)
}

// EventFunc adapts a plain function to EventListener.
type EventFunc func(model.ZoneEvent)

func (f EventFunc) OnZoneEvent(ev model.ZoneEvent) { f(ev) }

// EventSink is an outbound transport for zone events (Kafka producer in
// production). Failures are logged, never propagated into the machine.
type EventSink interface {
	PublishEvent(ctx context.Context, ev model.ZoneEvent) error
}

type zone struct {
	cfg     config.ZoneConfig
	pattern pattern

	state       model.ZoneState
	matched     *model.Identity
	distance    float64
	enteredAt   time.Time
	lastConfirm time.Time
	dwellFired  bool
}

type Monitor struct {
	logger   *slog.Logger
	provider SnapshotProvider
	events   *events.Store
	store    storage.Store
	sink     EventSink
	cfg      atomic.Value

	mu      sync.Mutex
	zones   map[string]*zone
	running bool
	cancel  context.CancelFunc

	listMu   sync.Mutex
	nextID   int
	listener map[int]EventListener

	// kick requests an immediate evaluation pass between ticks, used for
	// lower enter latency on first discoveries.
	kick chan struct{}

	nowFn func() time.Time
}

func New(cfg *config.Config, logger *slog.Logger, provider SnapshotProvider, eventStore *events.Store, store storage.Store, sink EventSink) *Monitor {
	m := &Monitor{
		logger:   logger,
		provider: provider,
		events:   eventStore,
		store:    store,
		sink:     sink,
		zones:    make(map[string]*zone),
		listener: make(map[int]EventListener),
		kick:     make(chan struct{}, 1),
		nowFn:    func() time.Time { return time.Now().UTC() },
	}
	m.cfg.Store(cfg)
	return m
}

func (m *Monitor) UpdateConfig(cfg *config.Config) {
	m.cfg.Store(cfg)
}

func (m *Monitor) config() *config.Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*config.Config)
	}
	return config.DefaultConfig()
}

// RegisterZone adds a zone or replaces the configuration of an existing
// id. Runtime state survives a replace unless the identity pattern
// changed, in which case the zone restarts from unknown.
func (m *Monitor) RegisterZone(cfg config.ZoneConfig) error {
	if cfg.ID == "" {
		return errors.New("monitor: zone id is required")
	}
	if cfg.RadiusMeters <= 0 {
		return fmt.Errorf("monitor: zone %q: radius must be > 0", cfg.ID)
	}
	p, err := compilePattern(cfg)
	if err != nil {
		return fmt.Errorf("monitor: zone %q: %w", cfg.ID, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.zones[cfg.ID]; ok {
		patternChanged := !existing.pattern.equal(p)
		existing.cfg = cfg
		existing.pattern = p
		if patternChanged {
			existing.state = model.ZoneUnknown
			existing.matched = nil
			existing.distance = 0
			existing.enteredAt = time.Time{}
			existing.lastConfirm = time.Time{}
			existing.dwellFired = false
		}
		return nil
	}
	m.zones[cfg.ID] = &zone{cfg: cfg, pattern: p, state: model.ZoneUnknown}
	if m.logger != nil {
		m.logger.Info("zone registered", "zone_id", cfg.ID, "radius_m", cfg.RadiusMeters, "enabled", cfg.Enabled)
	}
	return nil
}

// UnregisterZone removes a zone. Removing an unknown id is a no-op.
func (m *Monitor) UnregisterZone(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.zones[id]; ok {
		delete(m.zones, id)
		if m.logger != nil {
			m.logger.Info("zone unregistered", "zone_id", id)
		}
	}
}

// CurrentState returns the runtime state of one zone.
func (m *Monitor) CurrentState(id string) (model.ZoneStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	z, ok := m.zones[id]
	if !ok {
		return model.ZoneStatus{}, ErrZoneNotFound
	}
	return statusOf(z), nil
}

// States returns the runtime state of every zone, for the API.
func (m *Monitor) States() []model.ZoneStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.ZoneStatus, 0, len(m.zones))
	for _, z := range m.zones {
		out = append(out, statusOf(z))
	}
	return out
}

// Zones returns the registered configurations.
func (m *Monitor) Zones() []config.ZoneConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]config.ZoneConfig, 0, len(m.zones))
	for _, z := range m.zones {
		out = append(out, z.cfg)
	}
	return out
}

// InsideAnyZone reports whether any enabled zone is currently inside.
func (m *Monitor) InsideAnyZone() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, z := range m.zones {
		if z.cfg.Enabled && z.state == model.ZoneInside {
			return true
		}
	}
	return false
}

// Start begins the evaluation loop. Idempotent. The monitor governs only
// its own loop; the tracker's lifecycle is composed by the caller.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.running = true
	m.cancel = cancel
	m.mu.Unlock()

	go m.loop(runCtx)
	if m.logger != nil {
		m.logger.Info("monitor started", "eval_interval", m.config().Monitor.EvalInterval)
	}
}

// Stop halts the evaluation loop. Safe without a prior Start, safe
// twice.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	wasRunning := m.running
	m.running = false
	m.cancel = nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if wasRunning && m.logger != nil {
		m.logger.Info("monitor stopped")
	}
}

func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// OnDiscovered implements the tracker's discovery listener: a fresh
// beacon triggers one extra evaluation pass through the same logic the
// timer drives, never a shortcut.
func (m *Monitor) OnDiscovered(model.BeaconSnapshot) {
	if !m.config().Monitor.EvaluateOnDiscovery {
		return
	}
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

func (m *Monitor) loop(ctx context.Context) {
	ticker := time.NewTicker(m.config().Monitor.EvalInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.Evaluate()
		case <-m.kick:
			m.Evaluate()
		case <-ctx.Done():
			return
		}
	}
}

// Evaluate runs one pass of the state machine over a single consistent
// snapshot. This is the only place zone state is mutated.
func (m *Monitor) Evaluate() []model.ZoneEvent {
	cfg := m.config()
	now := m.nowFn()
	snapshot := m.provider.Snapshot()

	var out []model.ZoneEvent
	m.mu.Lock()
	for _, z := range m.zones {
		if !z.cfg.Enabled {
			continue
		}
		out = append(out, m.evaluateZone(z, snapshot, cfg, now)...)
	}
	m.mu.Unlock()

	for _, ev := range out {
		m.emit(ev)
	}
	return out
}

func (m *Monitor) evaluateZone(z *zone, snapshot []model.BeaconSnapshot, cfg *config.Config, now time.Time) []model.ZoneEvent {
	best, matched := bestMatch(z.pattern, snapshot)
	exitThreshold := z.cfg.RadiusMeters * cfg.Monitor.ExitMultiplier

	var evs []model.ZoneEvent

	switch z.state {
	case model.ZoneUnknown:
		if !matched {
			// No data yet; unknown persists until a matching beacon is
			// seen at all.
			return nil
		}
		if best.Distance <= z.cfg.RadiusMeters {
			evs = append(evs, m.enter(z, best, now))
		} else {
			z.state = model.ZoneOutside
			z.matched = nil
			z.distance = best.Distance
			z.lastConfirm = now
		}

	case model.ZoneOutside:
		if matched && best.Distance <= z.cfg.RadiusMeters {
			evs = append(evs, m.enter(z, best, now))
		} else if matched {
			z.distance = best.Distance
			z.lastConfirm = now
		}

	case model.ZoneInside:
		if !matched {
			// Signal loss: the driver expired from the tracker. Treated
			// exactly like a geometric exit.
			evs = append(evs, m.exit(z, z.driverIdentity(), z.distance, now))
			return evs
		}
		if best.Distance > exitThreshold {
			evs = append(evs, m.exit(z, best.Identity, best.Distance, now))
			return evs
		}
		// Still inside; the nearest matching beacon is the driver from
		// here on, even if it is a different one than last pass.
		id := best.Identity
		z.matched = &id
		z.distance = best.Distance
		z.lastConfirm = now
		if !z.dwellFired && now.Sub(z.enteredAt) >= cfg.Monitor.DwellThreshold {
			z.dwellFired = true
			evs = append(evs, model.ZoneEvent{
				Kind:      model.EventDwell,
				ZoneID:    z.cfg.ID,
				ZoneName:  z.cfg.Name,
				Identity:  best.Identity,
				Distance:  best.Distance,
				Timestamp: now,
			})
		}
	}
	return evs
}

func (m *Monitor) enter(z *zone, best model.BeaconSnapshot, now time.Time) model.ZoneEvent {
	id := best.Identity
	z.state = model.ZoneInside
	z.matched = &id
	z.distance = best.Distance
	z.enteredAt = now
	z.lastConfirm = now
	z.dwellFired = false
	return model.ZoneEvent{
		Kind:      model.EventEnter,
		ZoneID:    z.cfg.ID,
		ZoneName:  z.cfg.Name,
		Identity:  id,
		Distance:  best.Distance,
		Timestamp: now,
	}
}

func (m *Monitor) exit(z *zone, id model.Identity, distance float64, now time.Time) model.ZoneEvent {
	z.state = model.ZoneOutside
	z.matched = nil
	z.distance = distance
	z.lastConfirm = now
	z.dwellFired = false
	return model.ZoneEvent{
		Kind:      model.EventExit,
		ZoneID:    z.cfg.ID,
		ZoneName:  z.cfg.Name,
		Identity:  id,
		Distance:  distance,
		Timestamp: now,
	}
}

func (m *Monitor) emit(ev model.ZoneEvent) {
	if m.logger != nil {
		m.logger.Info("zone event",
			"kind", string(ev.Kind),
			"zone_id", ev.ZoneID,
			"identity", ev.Identity.String(),
			"distance_m", ev.Distance,
		)
	}
	if m.events != nil {
		m.events.Add(ev)
	}
	if m.store != nil {
		_ = m.store.SaveEvent(context.Background(), ev)
	}
	if m.sink != nil {
		if err := m.sink.PublishEvent(context.Background(), ev); err != nil && m.logger != nil {
			m.logger.Warn("event publish failed", "err", err, "zone_id", ev.ZoneID)
		}
	}
	m.listMu.Lock()
	listeners := make([]EventListener, 0, len(m.listener))
	for _, l := range m.listener {
		listeners = append(listeners, l)
	}
	m.listMu.Unlock()
	for _, l := range listeners {
		l.OnZoneEvent(ev)
	}
}

// AddListener registers a zone event listener and returns a handle for
// removal.
func (m *Monitor) AddListener(l EventListener) int {
	m.listMu.Lock()
	defer m.listMu.Unlock()
	m.nextID++
	m.listener[m.nextID] = l
	return m.nextID
}

func (m *Monitor) RemoveListener(id int) {
	m.listMu.Lock()
	defer m.listMu.Unlock()
	delete(m.listener, id)
}

func (z *zone) driverIdentity() model.Identity {
	if z.matched != nil {
		return *z.matched
	}
	return model.Identity{}
}

func statusOf(z *zone) model.ZoneStatus {
	st := model.ZoneStatus{
		ZoneID:     z.cfg.ID,
		State:      z.state,
		Distance:   z.distance,
		EnteredAt:  z.enteredAt,
		LastUpdate: z.lastConfirm,
	}
	if z.matched != nil {
		id := *z.matched
		st.Matched = &id
	}
	return st
}
