package natspub

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"mysql-triggers/internal/models"
)

// Publisher publishes row events to NATS subjects as JSON.
type Publisher struct {
	conn   *nats.Conn
	logger *logrus.Logger
}

// NewPublisher connects to NATS with reconnect handling.
func NewPublisher(url string, maxReconnect int, reconnectWait time.Duration, logger *logrus.Logger) (*Publisher, error) {
	opts := []nats.Option{
		nats.MaxReconnects(maxReconnect),
		nats.ReconnectWait(reconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warnf("NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Infof("NATS reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Warn("NATS connection closed")
		}),
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	logger.Infof("Connected to NATS at %s", url)

	return &Publisher{conn: conn, logger: logger}, nil
}

// Publish sends the event to the given subject.
func (p *Publisher) Publish(subject string, event *models.RowEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to NATS: %w", err)
	}

	p.logger.Debugf("Published %s event for %s.%s to %s", event.Type, event.Database, event.Table, subject)
	return nil
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}
