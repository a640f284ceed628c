package scan

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"beaconwatch/internal/config"
)

// MQTTSource subscribes to a broker topic on which BLE gateways publish
// advertisement frames. Most commodity gateways speak exactly this:
// one JSON message per observed advertisement.
type MQTTSource struct {
	cfg    config.MQTTConfig
	logger *slog.Logger
}

func NewMQTTSource(cfg config.MQTTConfig, logger *slog.Logger) *MQTTSource {
	return &MQTTSource{cfg: cfg, logger: logger}
}

func (s *MQTTSource) Name() string { return "mqtt" }

func (s *MQTTSource) Start(ctx context.Context, out chan<- RawFrame) error {
	opts := mqtt.NewClientOptions().
		AddBroker(s.cfg.Broker).
		SetClientID(s.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second)
	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
		opts.SetPassword(s.cfg.Password)
	}
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt connect: %w", token.Error())
	}
	handler := func(_ mqtt.Client, msg mqtt.Message) {
		frame, err := ParseFrame(msg.Payload(), s.Name())
		if err != nil {
			if s.logger != nil {
				s.logger.Debug("dropping malformed mqtt frame", "err", err, "topic", msg.Topic())
			}
			return
		}
		SendNonBlocking(ctx, out, frame, s.logger)
	}
	if token := client.Subscribe(s.cfg.Topic, 0, handler); token.Wait() && token.Error() != nil {
		client.Disconnect(250)
		return fmt.Errorf("mqtt subscribe: %w", token.Error())
	}
	if s.logger != nil {
		s.logger.Info("mqtt scan source enabled", "broker", s.cfg.Broker, "topic", s.cfg.Topic)
	}
	go func() {
		<-ctx.Done()
		client.Disconnect(250)
	}()
	return nil
}
