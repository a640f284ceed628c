package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"beaconwatch/internal/config"
	"beaconwatch/internal/events"
	"beaconwatch/internal/model"
	"beaconwatch/internal/monitor"
	"beaconwatch/internal/tracker"
)

type Server struct {
	cfg     *config.Manager
	tracker *tracker.Tracker
	monitor *monitor.Monitor
	events  *events.Store
	logger  *slog.Logger
	version string
}

type statusResponse struct {
	Status     string        `json:"status"`
	Time       string        `json:"time"`
	Version    string        `json:"version"`
	ConfigPath string        `json:"config_path"`
	Tracking   bool          `json:"tracking"`
	Monitoring bool          `json:"monitoring"`
	InsideAny  bool          `json:"inside_any_zone"`
	Beacons    int           `json:"beacons"`
	Zones      int           `json:"zones"`
	Intervals  intervalsInfo `json:"intervals"`
}

type intervalsInfo struct {
	Expiry        string `json:"expiry"`
	BeaconTimeout string `json:"beacon_timeout"`
	Evaluation    string `json:"evaluation"`
	Dwell         string `json:"dwell"`
}

func Start(ctx context.Context, cfg *config.Manager, trk *tracker.Tracker, mon *monitor.Monitor, eventStore *events.Store, logger *slog.Logger, version string) *http.Server {
	if cfg == nil {
		return nil
	}
	current := cfg.Get().API
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr)
	}
	server := &Server{
		cfg:     cfg,
		tracker: trk,
		monitor: mon,
		events:  eventStore,
		logger:  logger,
		version: version,
	}
	r := mux.NewRouter()
	r.HandleFunc("/status", server.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/health", server.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/beacons", server.handleBeacons).Methods(http.MethodGet)
	r.HandleFunc("/zones", server.handleListZones).Methods(http.MethodGet)
	r.HandleFunc("/zones", server.handleRegisterZones).Methods(http.MethodPost)
	r.HandleFunc("/zones/{id}", server.handleUnregisterZone).Methods(http.MethodDelete)
	r.HandleFunc("/zones/{id}/state", server.handleZoneState).Methods(http.MethodGet)
	r.HandleFunc("/events", server.handleEvents).Methods(http.MethodGet)
	r.HandleFunc("/inside", server.handleInside).Methods(http.MethodGet)

	httpServer := &http.Server{Addr: current.Addr, Handler: handlers.RecoveryHandler()(r)}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	cfg := s.cfg.Get()
	resp := statusResponse{
		Status:     "ok",
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		Version:    s.version,
		ConfigPath: s.cfg.Path(),
		Tracking:   s.tracker != nil && s.tracker.Running(),
		Monitoring: s.monitor != nil && s.monitor.Running(),
		InsideAny:  s.monitor != nil && s.monitor.InsideAnyZone(),
		Intervals: intervalsInfo{
			Expiry:        cfg.Tracker.ExpiryInterval.String(),
			BeaconTimeout: cfg.Tracker.BeaconTimeout.String(),
			Evaluation:    cfg.Monitor.EvalInterval.String(),
			Dwell:         cfg.Monitor.DwellThreshold.String(),
		},
	}
	if s.tracker != nil {
		resp.Beacons = len(s.tracker.Snapshot())
	}
	if s.monitor != nil {
		resp.Zones = len(s.monitor.Zones())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleBeacons(w http.ResponseWriter, _ *http.Request) {
	snapshot := s.tracker.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"beacons": snapshot,
		"count":   len(snapshot),
	})
}

func (s *Server) handleListZones(w http.ResponseWriter, _ *http.Request) {
	zones := s.monitor.Zones()
	states := s.monitor.States()
	byID := make(map[string]model.ZoneStatus, len(states))
	for _, st := range states {
		byID[st.ZoneID] = st
	}
	type zoneView struct {
		Config config.ZoneConfig `json:"config"`
		State  model.ZoneStatus  `json:"state"`
	}
	out := make([]zoneView, 0, len(zones))
	for _, z := range zones {
		out = append(out, zoneView{Config: z, State: byID[z.ID]})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"zones": out,
		"count": len(out),
	})
}

func (s *Server) handleRegisterZones(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil || len(body) == 0 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var zones []config.ZoneConfig
	trim := bytesTrim(body)
	if len(trim) == 0 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if trim[0] == '[' {
		if err := json.Unmarshal(trim, &zones); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
	} else {
		var z config.ZoneConfig
		if err := json.Unmarshal(trim, &z); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		zones = append(zones, z)
	}
	accepted := 0
	failed := 0
	var firstErr string
	for _, z := range zones {
		if err := s.monitor.RegisterZone(z); err != nil {
			failed++
			if firstErr == "" {
				firstErr = err.Error()
			}
			continue
		}
		accepted++
	}
	status := http.StatusOK
	if accepted == 0 && failed > 0 {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]any{
		"accepted": accepted,
		"failed":   failed,
		"error":    firstErr,
	})
}

func (s *Server) handleUnregisterZone(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.monitor.UnregisterZone(id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleZoneState(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	st, err := s.monitor.CurrentState(id)
	if err != nil {
		if errors.Is(err, monitor.ErrZoneNotFound) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	sinceStr := r.URL.Query().Get("since")
	var list []model.ZoneEvent
	if sinceStr != "" {
		ts, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		list = s.events.Since(ts)
	} else {
		list = s.events.List(limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": list,
		"count":  len(list),
	})
}

func (s *Server) handleInside(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"inside_any_zone": s.monitor.InsideAnyZone(),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func bytesTrim(b []byte) []byte {
	start := 0
	for start < len(b) && (b[start] == ' ' || b[start] == '\n' || b[start] == '\r' || b[start] == '\t') {
		start++
	}
	end := len(b)
	for end > start && (b[end-1] == ' ' || b[end-1] == '\n' || b[end-1] == '\r' || b[end-1] == '\t') {
		end--
	}
	return b[start:end]
}
