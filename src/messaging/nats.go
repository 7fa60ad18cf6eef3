package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	logger "github.com/sirupsen/logrus"
)

type rawPublisher interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher forwards bus events to NATS subjects <prefix>.<kind>.
type NATSPublisher struct {
	Log *logger.Entry

	conn   *nats.Conn
	pub    rawPublisher
	prefix string
}

// NewNATSPublisher connects to cfg.NATSURL and reconnects forever.
func NewNATSPublisher(cfg Config) (*NATSPublisher, error) {
	log := logger.WithField("component", "nats")
	nc, err := nats.Connect(cfg.NATSURL,
		nats.Name(cfg.NATSClientName),
		nats.ReconnectWait(cfg.NATSReconnect),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.WithError(err).Warn("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.WithField("url", nc.ConnectedUrlRedacted()).Info("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATSPublisher{Log: log, conn: nc, pub: nc, prefix: cfg.NATSSubject}, nil
}

func (p *NATSPublisher) Subject(kind string) string {
	if p.prefix == "" {
		return kind
	}
	return p.prefix + "." + kind
}

func (p *NATSPublisher) Publish(ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", ev.Kind, err)
	}
	if err := p.pub.Publish(p.Subject(ev.Kind), payload); err != nil {
		return fmt.Errorf("publish to %s: %w", p.Subject(ev.Kind), err)
	}
	return nil
}

// Forward publishes every bus event until ctx is done or the bus closes.
func (p *NATSPublisher) Forward(ctx context.Context, bus *Bus) {
	events, cancel := bus.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := p.Publish(ev); err != nil {
				p.Log.WithError(err).Warn("nats forward failed")
			}
		}
	}
}

func (p *NATSPublisher) IsConnected() bool {
	return p.conn != nil && p.conn.IsConnected()
}

func (p *NATSPublisher) Close() {
	if p.conn != nil {
		_ = p.conn.Drain()
	}
}
