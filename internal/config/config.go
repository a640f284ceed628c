package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel string        `json:"log_level" yaml:"log_level"`
	Scan     ScanConfig    `json:"scan" yaml:"scan"`
	Tracker  TrackerConfig `json:"tracker" yaml:"tracker"`
	Monitor  MonitorConfig `json:"monitor" yaml:"monitor"`
	Zones    []ZoneConfig  `json:"zones" yaml:"zones"`
	API      APIConfig     `json:"api" yaml:"api"`
	Storage  StorageConfig `json:"storage" yaml:"storage"`
	Publish  PublishConfig `json:"publish" yaml:"publish"`
	Notify   NotifyConfig  `json:"notify" yaml:"notify"`
}

type ScanConfig struct {
	ChannelBuffer int             `json:"channel_buffer" yaml:"channel_buffer"`
	Kafka         KafkaConfig     `json:"kafka" yaml:"kafka"`
	MQTT          MQTTConfig      `json:"mqtt" yaml:"mqtt"`
	TCPStream     TCPStreamConfig `json:"tcp_stream" yaml:"tcp_stream"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

type MQTTConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Broker   string `json:"broker" yaml:"broker"`
	Topic    string `json:"topic" yaml:"topic"`
	ClientID string `json:"client_id" yaml:"client_id"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
}

type TCPStreamConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type TrackerConfig struct {
	BeaconTimeout    time.Duration `json:"beacon_timeout" yaml:"beacon_timeout"`
	ExpiryInterval   time.Duration `json:"expiry_interval" yaml:"expiry_interval"`
	DedupeWindow     time.Duration `json:"dedupe_window" yaml:"dedupe_window"`
	ProcessNoise     float64       `json:"process_noise" yaml:"process_noise"`
	MeasurementNoise float64       `json:"measurement_noise" yaml:"measurement_noise"`
}

type MonitorConfig struct {
	EvalInterval        time.Duration `json:"eval_interval" yaml:"eval_interval"`
	ExitMultiplier      float64       `json:"exit_multiplier" yaml:"exit_multiplier"`
	DwellThreshold      time.Duration `json:"dwell_threshold" yaml:"dwell_threshold"`
	EvaluateOnDiscovery bool          `json:"evaluate_on_discovery" yaml:"evaluate_on_discovery"`
}

// ZoneConfig describes one zone. Major and Minor are wildcards when nil.
type ZoneConfig struct {
	ID           string  `json:"id" yaml:"id"`
	Name         string  `json:"name" yaml:"name"`
	UUID         string  `json:"uuid" yaml:"uuid"`
	Major        *uint16 `json:"major,omitempty" yaml:"major,omitempty"`
	Minor        *uint16 `json:"minor,omitempty" yaml:"minor,omitempty"`
	RadiusMeters float64 `json:"radius_m" yaml:"radius_m"`
	Enabled      bool    `json:"enabled" yaml:"enabled"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Driver  string `json:"driver" yaml:"driver"`
	DSN     string `json:"dsn" yaml:"dsn"`
}

type PublishConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
}

type NotifyConfig struct {
	Enabled    bool     `json:"enabled" yaml:"enabled"`
	SMTPHost   string   `json:"smtp_host" yaml:"smtp_host"`
	SMTPPort   int      `json:"smtp_port" yaml:"smtp_port"`
	Sender     string   `json:"sender" yaml:"sender"`
	Password   string   `json:"password" yaml:"password"`
	Recipients []string `json:"recipients" yaml:"recipients"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Scan: ScanConfig{
			ChannelBuffer: 10000,
			Kafka:         KafkaConfig{Enabled: false},
			MQTT:          MQTTConfig{Enabled: false, Topic: "gateway/+/adv", ClientID: "beaconwatch"},
			TCPStream:     TCPStreamConfig{Enabled: true, Addr: ":9400"},
		},
		Tracker: TrackerConfig{
			BeaconTimeout:    60 * time.Second,
			ExpiryInterval:   5 * time.Second,
			DedupeWindow:     0,
			ProcessNoise:     0.065,
			MeasurementNoise: 1.4,
		},
		Monitor: MonitorConfig{
			// Raised from 3s to cut wake frequency; worst-case detection
			// latency grows by the same amount.
			EvalInterval:        10 * time.Second,
			ExitMultiplier:      1.2,
			DwellThreshold:      10 * time.Second,
			EvaluateOnDiscovery: true,
		},
		API:     APIConfig{Enabled: true, Addr: ":8084"},
		Storage: StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:beaconwatch.db?_pragma=busy_timeout(5000)"},
		Publish: PublishConfig{Enabled: false, Topic: "zone.events"},
		Notify:  NotifyConfig{Enabled: false, SMTPPort: 587},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	if cfg.Scan.ChannelBuffer <= 0 {
		cfg.Scan.ChannelBuffer = 10000
	}
	if cfg.Tracker.BeaconTimeout <= 0 {
		cfg.Tracker.BeaconTimeout = 60 * time.Second
	}
	if cfg.Tracker.ExpiryInterval <= 0 {
		cfg.Tracker.ExpiryInterval = 5 * time.Second
	}
	if cfg.Tracker.ProcessNoise <= 0 {
		cfg.Tracker.ProcessNoise = 0.065
	}
	if cfg.Tracker.MeasurementNoise <= 0 {
		cfg.Tracker.MeasurementNoise = 1.4
	}
	if cfg.Monitor.EvalInterval <= 0 {
		cfg.Monitor.EvalInterval = 10 * time.Second
	}
	if cfg.Monitor.ExitMultiplier <= 1 {
		cfg.Monitor.ExitMultiplier = 1.2
	}
	if cfg.Monitor.DwellThreshold <= 0 {
		cfg.Monitor.DwellThreshold = 10 * time.Second
	}
	if cfg.Publish.Topic == "" {
		cfg.Publish.Topic = "zone.events"
	}
}

func Validate(cfg *Config) error {
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Scan.TCPStream.Enabled && cfg.Scan.TCPStream.Addr == "" {
		return errors.New("scan.tcp_stream.addr required when scan.tcp_stream.enabled is true")
	}
	if cfg.Scan.Kafka.Enabled {
		if len(cfg.Scan.Kafka.Brokers) == 0 || cfg.Scan.Kafka.Topic == "" || cfg.Scan.Kafka.GroupID == "" {
			return errors.New("scan.kafka requires brokers, topic, group_id")
		}
	}
	if cfg.Scan.MQTT.Enabled {
		if cfg.Scan.MQTT.Broker == "" || cfg.Scan.MQTT.Topic == "" {
			return errors.New("scan.mqtt requires broker and topic")
		}
	}
	if cfg.Publish.Enabled && len(cfg.Publish.Brokers) == 0 {
		return errors.New("publish.brokers required when publish.enabled is true")
	}
	if cfg.Notify.Enabled && (cfg.Notify.SMTPHost == "" || len(cfg.Notify.Recipients) == 0) {
		return errors.New("notify requires smtp_host and recipients")
	}
	seen := make(map[string]struct{}, len(cfg.Zones))
	for i, z := range cfg.Zones {
		if z.ID == "" {
			return fmt.Errorf("zones[%d]: id is required", i)
		}
		if _, dup := seen[z.ID]; dup {
			return fmt.Errorf("zones[%d]: duplicate id %q", i, z.ID)
		}
		seen[z.ID] = struct{}{}
		if _, err := uuid.Parse(z.UUID); err != nil {
			return fmt.Errorf("zones[%d]: invalid uuid: %w", i, err)
		}
		if z.RadiusMeters <= 0 {
			return fmt.Errorf("zones[%d]: radius_m must be > 0", i)
		}
	}
	return nil
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	info, err := os.Stat(path)
	if err == nil {
		m.modTime = info.ModTime()
	}
	return m, nil
}

// NewStaticManager wraps an in-memory config with no backing file.
func NewStaticManager(cfg *Config) *Manager {
	m := &Manager{}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(m.modTime), nil
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
