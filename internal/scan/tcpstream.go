package scan

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"beaconwatch/internal/config"
)

// TCPStreamSource accepts line-delimited frame JSON over plain TCP, for
// gateways and test rigs that just open a socket and write.
type TCPStreamSource struct {
	cfg    config.TCPStreamConfig
	logger *slog.Logger
}

func NewTCPStreamSource(cfg config.TCPStreamConfig, logger *slog.Logger) *TCPStreamSource {
	return &TCPStreamSource{cfg: cfg, logger: logger}
}

func (s *TCPStreamSource) Name() string { return "tcp_stream" }

func (s *TCPStreamSource) Start(ctx context.Context, out chan<- RawFrame) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("tcp stream listen: %w", err)
	}
	if s.logger != nil {
		s.logger.Info("tcp stream scan source enabled", "addr", s.cfg.Addr)
	}
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				if s.logger != nil {
					s.logger.Warn("tcp stream accept error", "err", err)
				}
				continue
			}
			go s.handleConn(ctx, conn, out)
		}
	}()
	return nil
}

func (s *TCPStreamSource) handleConn(ctx context.Context, conn net.Conn, out chan<- RawFrame) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 8192), 1024*1024)
	for scanner.Scan() {
		frame, err := ParseFrame(scanner.Bytes(), s.Name())
		if err != nil {
			if s.logger != nil {
				s.logger.Debug("dropping malformed tcp frame", "err", err)
			}
			continue
		}
		SendNonBlocking(ctx, out, frame, s.logger)
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
	if err := scanner.Err(); err != nil && s.logger != nil {
		s.logger.Warn("tcp stream scanner error", "err", err)
	}
}
