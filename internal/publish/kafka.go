// Package publish writes zone events to Kafka for downstream consumers
// (notification pipelines, dashboards). One JSON message per event,
// keyed by zone id so per-zone ordering survives partitioning.
package publish

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"beaconwatch/internal/config"
	"beaconwatch/internal/model"
)

type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(cfg config.PublishConfig) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		Async:        true,
		RequiredAcks: kafka.RequireOne,
	}
	return &KafkaPublisher{writer: w}
}

func (p *KafkaPublisher) PublishEvent(ctx context.Context, ev model.ZoneEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.ZoneID),
		Value: data,
	})
}

// Close flushes pending messages and closes the connection.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
