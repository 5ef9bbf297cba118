// Package transport carries protocol messages between the background
// service, the CLI and page hosts over NATS.
package transport

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/runnerr0/procedura/internal/config"
)

// Subjects derives the subject names from a prefix.
type Subjects struct {
	Prefix string
}

// Request is the request/reply subject served by the background.
func (s Subjects) Request() string { return s.Prefix + ".request" }

// Event is the broadcast subject for one notification type. An empty type
// yields the wildcard over all events.
func (s Subjects) Event(msgType string) string {
	if msgType == "" {
		return s.Prefix + ".events.>"
	}
	return s.Prefix + ".events." + msgType
}

// Connectivity carries "online"/"offline" signals.
func (s Subjects) Connectivity() string { return s.Prefix + ".connectivity" }

const queueGroup = "procedura-background"

// Conn is a NATS connection plus the subject scheme.
type Conn struct {
	nc       *nats.Conn
	subjects Subjects
	cfg      config.TransportConfig
	logger   *slog.Logger

	mu       sync.Mutex
	onChange []func(connected bool)
}

// Connect dials cfg.NATSURL.
func Connect(cfg config.TransportConfig, logger *slog.Logger) (*Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Conn{
		subjects: Subjects{Prefix: cfg.SubjectPrefix},
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "transport")),
	}

	name := cfg.ClientName
	if name == "" {
		name = "procedura"
	}
	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait()),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.logger.Info("NATS reconnected", slog.String("url", nc.ConnectedUrl()))
			c.notify(true)
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				c.logger.Warn("NATS disconnected", slog.String("error", err.Error()))
			}
			c.notify(false)
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			c.logger.Debug("NATS connection closed")
		}),
	}

	nc, err := nats.Connect(cfg.NATSURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATSURL, err)
	}
	c.nc = nc
	return c, nil
}

// OnConnectionChange registers fn for disconnect and reconnect events.
func (c *Conn) OnConnectionChange(fn func(connected bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = append(c.onChange, fn)
}

func (c *Conn) notify(connected bool) {
	c.mu.Lock()
	fns := append([]func(bool){}, c.onChange...)
	c.mu.Unlock()
	for _, fn := range fns {
		fn(connected)
	}
}

func (c *Conn) Subjects() Subjects { return c.subjects }

// IsConnected reports whether the connection is currently up.
func (c *Conn) IsConnected() bool {
	return c.nc != nil && c.nc.IsConnected()
}

// Close drains subscriptions and closes the connection.
func (c *Conn) Close() {
	if c.nc == nil || c.nc.IsClosed() {
		return
	}
	if err := c.nc.Drain(); err != nil {
		c.nc.Close()
	}
}
