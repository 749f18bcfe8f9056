// Package events publishes mission events to observers outside the process.
//
// The executor writes every event to the mission log first; publishing is
// best effort and a publish error never changes a mission outcome.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/ChuLiYu/topo-nav/internal/storage/wal"
)

// DefaultSubject is the subject prefix used when none is configured.
const DefaultSubject = "toponav.missions"

var ErrPublisherClosed = errors.New("event publisher is closed")

// Publisher delivers mission events.
type Publisher interface {
	Publish(ctx context.Context, event wal.Event) error
	Close() error
}

// Subject returns the subject an event is published on:
// <prefix>.<mission id>.<event type in lower case>.
func Subject(prefix string, event wal.Event) string {
	if prefix == "" {
		prefix = DefaultSubject
	}
	mission := event.MissionID
	if mission == "" {
		mission = "_"
	}
	return prefix + "." + mission + "." + strings.ToLower(string(event.Type))
}

// ============================================================================
// NATS
// ============================================================================

// NATSConfig configures the NATS publisher.
type NATSConfig struct {
	URL     string `yaml:"nats_url"`
	Subject string `yaml:"subject"`
	Stream  string `yaml:"stream"` // JetStream stream name; empty publishes core NATS
}

// NATSPublisher publishes events as JSON on NATS. With a stream configured
// the events go through JetStream and are acknowledged by the server.
type NATSPublisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	subject string
}

// ConnectNATS connects and, with cfg.Stream set, ensures the stream captures
// <subject>.>.
func ConnectNATS(ctx context.Context, cfg NATSConfig) (*NATSPublisher, error) {
	if cfg.Subject == "" {
		cfg.Subject = DefaultSubject
	}
	nc, err := nats.Connect(cfg.URL, nats.Name("topo-nav"))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	p := &NATSPublisher{nc: nc, subject: cfg.Subject}
	if cfg.Stream != "" {
		js, err := jetstream.New(nc)
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("jetstream init: %w", err)
		}
		_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:     cfg.Stream,
			Subjects: []string{cfg.Subject + ".>"},
		})
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("jetstream stream create: %w", err)
		}
		p.js = js
	}

	slog.Info("nats connected", "url", cfg.URL, "subject", cfg.Subject, "stream", cfg.Stream)
	return p, nil
}

// Publish implements Publisher.
func (p *NATSPublisher) Publish(ctx context.Context, event wal.Event) error {
	if p.nc.IsClosed() {
		return ErrPublisherClosed
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	subject := Subject(p.subject, event)
	if p.js != nil {
		if _, err := p.js.Publish(ctx, subject, data); err != nil {
			return fmt.Errorf("nats publish %s: %w", subject, err)
		}
		return nil
	}
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe delivers every event of mission (all missions when empty) to fn
// until the returned stop function is called.
func (p *NATSPublisher) Subscribe(mission string, fn func(wal.Event)) (func(), error) {
	if mission == "" {
		mission = "*"
	}
	sub, err := p.nc.Subscribe(p.subject+"."+mission+".*", func(msg *nats.Msg) {
		var event wal.Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			slog.Error("dropping undecodable mission event", "subject", msg.Subject, "error", err)
			return
		}
		fn(event)
	})
	if err != nil {
		return nil, fmt.Errorf("nats subscribe: %w", err)
	}
	return func() { _ = sub.Unsubscribe() }, nil
}

// Close drains pending publishes and closes the connection.
func (p *NATSPublisher) Close() error {
	if p.nc.IsClosed() {
		return nil
	}
	return p.nc.Drain()
}

// ============================================================================
// Log, Multi, Nop
// ============================================================================

// LogPublisher writes each event as a structured log record.
type LogPublisher struct {
	Logger *slog.Logger
	Level  slog.Level
}

// Publish implements Publisher.
func (p LogPublisher) Publish(ctx context.Context, event wal.Event) error {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{"seq", event.Seq, "mission", event.MissionID, "node", event.Node}
	if event.ZoneID != "" {
		attrs = append(attrs, "zone", event.ZoneID)
	}
	if event.Edge != nil {
		attrs = append(attrs, "edge", event.Edge.String())
	}
	if event.Attempt > 0 {
		attrs = append(attrs, "attempt", event.Attempt)
	}
	if event.Reason != "" {
		attrs = append(attrs, "reason", event.Reason)
	}
	logger.Log(ctx, p.Level, string(event.Type), attrs...)
	return nil
}

// Close implements Publisher.
func (LogPublisher) Close() error { return nil }

// Multi publishes to every publisher; errors are joined.
type Multi []Publisher

// Publish implements Publisher.
func (m Multi) Publish(ctx context.Context, event wal.Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close implements Publisher.
func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, wal.Event) error { return nil }
func (Nop) Close() error                              { return nil }
