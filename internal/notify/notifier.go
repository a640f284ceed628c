// Package notify mails enter/exit events to a configured recipient list.
// Dwell events are deliberately not mailed; they fire while someone is
// already known to be present and would only add noise.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nikoksr/notify"
	"github.com/nikoksr/notify/service/mail"

	"beaconwatch/internal/config"
	"beaconwatch/internal/model"
)

type Notifier struct {
	cfg    config.NotifyConfig
	logger *slog.Logger
	sender *notify.Notify
}

func NewNotifier(cfg config.NotifyConfig, logger *slog.Logger) *Notifier {
	m := mail.New(cfg.Sender, fmt.Sprintf("%s:%d", cfg.SMTPHost, cfg.SMTPPort))
	m.AuthenticateSMTP("", cfg.Sender, cfg.Password, cfg.SMTPHost)
	m.AddReceivers(cfg.Recipients...)

	sender := notify.New()
	sender.UseServices(m)
	return &Notifier{cfg: cfg, logger: logger, sender: sender}
}

// OnZoneEvent implements the monitor's event listener.
func (n *Notifier) OnZoneEvent(ev model.ZoneEvent) {
	if ev.Kind == model.EventDwell {
		return
	}
	subject := fmt.Sprintf("[beaconwatch] %s %s zone %s", ev.Identity, verb(ev.Kind), ev.ZoneName)
	body := fmt.Sprintf(
		"Beacon: %s\nEvent: %s\nZone: %s (%s)\nDistance: %.2f m\nTime: %s",
		ev.Identity,
		ev.Kind,
		ev.ZoneName,
		ev.ZoneID,
		ev.Distance,
		ev.Timestamp.Format("2006-01-02 15:04:05 MST"),
	)
	if err := n.sender.Send(context.Background(), subject, body); err != nil && n.logger != nil {
		n.logger.Error("mail notification failed", "zone_id", ev.ZoneID, "err", err)
	}
}

func verb(kind model.EventKind) string {
	if kind == model.EventExit {
		return "left"
	}
	return "entered"
}
