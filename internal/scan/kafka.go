package scan

import (
	"context"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"beaconwatch/internal/config"
)

// KafkaSource consumes gateway frames from a Kafka topic, one frame per
// message.
type KafkaSource struct {
	cfg    config.KafkaConfig
	logger *slog.Logger
}

func NewKafkaSource(cfg config.KafkaConfig, logger *slog.Logger) *KafkaSource {
	return &KafkaSource{cfg: cfg, logger: logger}
}

func (s *KafkaSource) Name() string { return "kafka" }

func (s *KafkaSource) Start(ctx context.Context, out chan<- RawFrame) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  s.cfg.Brokers,
		Topic:    s.cfg.Topic,
		GroupID:  s.cfg.GroupID,
		MinBytes: 1e3,
		MaxBytes: 10e6,
	})
	if s.logger != nil {
		s.logger.Info("kafka scan source enabled", "brokers", s.cfg.Brokers, "topic", s.cfg.Topic, "group_id", s.cfg.GroupID)
	}
	go func() {
		defer reader.Close()
		for {
			m, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if s.logger != nil {
					s.logger.Warn("kafka read error", "err", err)
				}
				continue
			}
			frame, err := ParseFrame(m.Value, s.Name())
			if err != nil {
				if s.logger != nil {
					s.logger.Debug("dropping malformed kafka frame", "err", err, "offset", m.Offset)
				}
				continue
			}
			SendNonBlocking(ctx, out, frame, s.logger)
		}
	}()
	return nil
}
