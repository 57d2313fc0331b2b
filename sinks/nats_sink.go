package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fjlanasa/trainpos/api/v1/events"
	"github.com/fjlanasa/trainpos/config"
	"github.com/nats-io/nats.go"
)

const (
	defaultNATSSubject = "trainpos.positions"
	natsFlushTimeout   = 5 * time.Second
)

// NATSSink publishes each record on <subject>.<route>.<vehicle>. A commit
// succeeds once the server has acknowledged the flush.
type NATSSink struct {
	route   config.ID
	url     string
	subject string
	nc      *nats.Conn
}

func NewNATSSink(route config.ID, cfg config.NATSSinkConfig) *NATSSink {
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	subject := cfg.Subject
	if subject == "" {
		subject = defaultNATSSubject
	}
	return &NATSSink{route: route, url: url, subject: subject}
}

func (s *NATSSink) Init(ctx context.Context) error {
	nc, err := nats.Connect(s.url,
		nats.Name("trainpos-"+string(s.route)),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats disconnected", "route_id", s.route, "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			slog.Info("nats reconnected", "route_id", s.route)
		}),
	)
	if err != nil {
		return fmt.Errorf("nats sink: connect %s: %w", s.url, err)
	}
	s.nc = nc
	return nil
}

func (s *NATSSink) Subject(record events.Record) string {
	return fmt.Sprintf("%s.%s.%s", s.subject, subjectToken(record.RouteID), subjectToken(record.VehicleID))
}

func (s *NATSSink) Commit(ctx context.Context, records []events.Record) error {
	if len(records) == 0 {
		return nil
	}
	if s.nc == nil {
		return fmt.Errorf("nats sink: not initialized")
	}
	for i := range records {
		data, err := json.Marshal(events.GetEventMap(&records[i]))
		if err != nil {
			return fmt.Errorf("nats sink: encode: %w", err)
		}
		if err := s.nc.Publish(s.Subject(records[i]), data); err != nil {
			return fmt.Errorf("nats sink: publish: %w", err)
		}
	}
	if err := flush(ctx, s.nc); err != nil {
		return fmt.Errorf("nats sink: flush: %w", err)
	}
	return nil
}

type flusher interface {
	FlushTimeout(timeout time.Duration) error
	FlushWithContext(ctx context.Context) error
}

// flush waits for the server to acknowledge published messages, bounded by
// the ctx deadline when there is one.
func flush(ctx context.Context, f flusher) error {
	if _, ok := ctx.Deadline(); ok {
		return f.FlushWithContext(ctx)
	}
	return f.FlushTimeout(natsFlushTimeout)
}

func (s *NATSSink) Close() error {
	if s.nc == nil {
		return nil
	}
	if err := s.nc.Drain(); err != nil {
		s.nc.Close()
		return err
	}
	return nil
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS tokens cannot contain spaces, '>', '*' or '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
