// Package scan turns BLE gateway feeds into a stream of raw
// advertisement frames. The tracker consumes the stream; it never talks
// to a feed directly.
package scan

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrNoSource is returned by Start when no advertisement feed is enabled
// or none of the enabled feeds could be brought up. This is the
// precondition failure a caller may retry after fixing the environment.
var ErrNoSource = errors.New("scan: no advertisement source available")

// RawFrame is one advertisement as delivered by a gateway: the
// manufacturer record bytes, the RSSI observed by the gateway, and the
// capture timestamp.
type RawFrame struct {
	Payload   []byte
	RSSI      int
	Timestamp time.Time
	Source    string
}

// Source is a single advertisement feed. Start must either fail fast or
// hand off to background goroutines that exit when ctx is done.
type Source interface {
	Name() string
	Start(ctx context.Context, out chan<- RawFrame) error
}

// SendNonBlocking pushes a frame into the stream, dropping it with a
// warning when the consumer is saturated. One slow consumer must not
// stall a gateway feed.
func SendNonBlocking(ctx context.Context, out chan<- RawFrame, frame RawFrame, logger *slog.Logger) bool {
	select {
	case out <- frame:
		return true
	case <-ctx.Done():
		return false
	default:
		if logger != nil {
			logger.Warn("frame channel full, dropping frame", "source", frame.Source)
		}
		return false
	}
}

// Composite fans several feeds into one stream.
type Composite struct {
	sources []Source
	logger  *slog.Logger
}

func NewComposite(logger *slog.Logger, sources ...Source) *Composite {
	active := make([]Source, 0, len(sources))
	for _, s := range sources {
		if s != nil {
			active = append(active, s)
		}
	}
	return &Composite{sources: active, logger: logger}
}

func (c *Composite) Name() string { return "composite" }

// Start brings up every feed. All-or-nothing: a feed that cannot bind
// fails the whole start so the caller sees the precondition error
// immediately rather than a silently degraded scan.
func (c *Composite) Start(ctx context.Context, out chan<- RawFrame) error {
	if len(c.sources) == 0 {
		return ErrNoSource
	}
	for _, s := range c.sources {
		if err := s.Start(ctx, out); err != nil {
			if c.logger != nil {
				c.logger.Error("scan source failed to start", "source", s.Name(), "err", err)
			}
			return errors.Join(ErrNoSource, err)
		}
		if c.logger != nil {
			c.logger.Info("scan source started", "source", s.Name())
		}
	}
	return nil
}
