package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"stark-claimer/internal/config"
)

// DefaultSubject is used when no subject is configured.
const DefaultSubject = "claimer.wallet.summary"

// NATS publishes summaries as JSON.
type NATS struct {
	conn    *nats.Conn
	subject string
}

// NewNATS connects to cfg.URL. It returns nil, nil when no URL is configured.
func NewNATS(cfg config.NATSConfig, log logrus.FieldLogger) (*NATS, error) {
	if cfg.URL == "" {
		return nil, nil
	}
	conn, err := nats.Connect(cfg.URL,
		nats.Name("stark-claimer"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.WithError(err).Warn("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.WithField("url", nc.ConnectedUrl()).Info("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	subject := cfg.Subject
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATS{conn: conn, subject: subject}, nil
}

// Notify publishes s and waits for the server to acknowledge the flush.
func (n *NATS) Notify(ctx context.Context, s Summary) error {
	if n == nil {
		return nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	if err := n.conn.Publish(n.subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", n.subject, err)
	}
	flushCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := n.conn.FlushWithContext(flushCtx); err != nil {
		return fmt.Errorf("flush %s: %w", n.subject, err)
	}
	return nil
}

// Close drains the connection.
func (n *NATS) Close() error {
	if n == nil {
		return nil
	}
	return n.conn.Drain()
}
