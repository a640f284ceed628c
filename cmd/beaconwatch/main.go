package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"beaconwatch/internal/api"
	"beaconwatch/internal/config"
	"beaconwatch/internal/events"
	"beaconwatch/internal/logging"
	"beaconwatch/internal/monitor"
	"beaconwatch/internal/notify"
	"beaconwatch/internal/publish"
	"beaconwatch/internal/scan"
	"beaconwatch/internal/storage"
	"beaconwatch/internal/tracker"
)

const version = "1.2.0"

func main() {
	configPath := flag.String("config", "beaconwatch.yaml", "path to config file")
	flag.Parse()

	mgr, err := config.NewManager(config.ResolvePath(*configPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	cfg := mgr.Get()
	logger := logging.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("beaconwatch starting", "version", version, "config", mgr.Path())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		logger.Error("storage init error", "err", err)
		os.Exit(1)
	}
	if store != nil {
		if err := store.Init(ctx); err != nil {
			logger.Error("storage schema error", "err", err)
			os.Exit(1)
		}
		defer store.Close()
	}

	var sink monitor.EventSink
	var publisher *publish.KafkaPublisher
	if cfg.Publish.Enabled {
		publisher = publish.NewKafkaPublisher(cfg.Publish)
		sink = publisher
		defer publisher.Close()
		logger.Info("event publishing enabled", "brokers", cfg.Publish.Brokers, "topic", cfg.Publish.Topic)
	}

	scanLog := logging.Component(logger, "scan")
	var sources []scan.Source
	if cfg.Scan.Kafka.Enabled {
		sources = append(sources, scan.NewKafkaSource(cfg.Scan.Kafka, scanLog))
	}
	if cfg.Scan.MQTT.Enabled {
		sources = append(sources, scan.NewMQTTSource(cfg.Scan.MQTT, scanLog))
	}
	if cfg.Scan.TCPStream.Enabled {
		sources = append(sources, scan.NewTCPStreamSource(cfg.Scan.TCPStream, scanLog))
	}
	source := scan.NewComposite(scanLog, sources...)

	trk := tracker.New(cfg, logging.Component(logger, "tracker"), source, store)
	eventStore := events.NewStore(1000)
	mon := monitor.New(cfg, logging.Component(logger, "monitor"), trk, eventStore, store, sink)

	for _, z := range cfg.Zones {
		if err := mon.RegisterZone(z); err != nil {
			logger.Error("zone registration error", "zone_id", z.ID, "err", err)
			os.Exit(1)
		}
	}

	// First discoveries trigger an immediate evaluation pass for lower
	// enter latency.
	trk.AddListener(mon)

	if cfg.Notify.Enabled {
		mon.AddListener(notify.NewNotifier(cfg.Notify, logging.Component(logger, "notify")))
		logger.Info("mail notifications enabled", "recipients", len(cfg.Notify.Recipients))
	}

	if err := trk.Start(ctx); err != nil {
		logger.Error("tracker start failed", "err", err)
		os.Exit(1)
	}
	mon.Start(ctx)

	api.Start(ctx, mgr, trk, mon, eventStore, logging.Component(logger, "api"), version)

	stopWatch := make(chan struct{})
	go mgr.Watch(3*time.Second,
		func(next *config.Config) {
			logger.Info("config reloaded")
			trk.UpdateConfig(next)
			mon.UpdateConfig(next)
			for _, z := range next.Zones {
				if err := mon.RegisterZone(z); err != nil {
					logger.Warn("zone reload error", "zone_id", z.ID, "err", err)
				}
			}
		},
		func(err error) {
			logger.Warn("config watch error", "err", err)
		},
		stopWatch,
	)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	logger.Info("shutting down", "signal", s.String())

	close(stopWatch)
	mon.Stop()
	trk.Stop()
	cancel()
}
