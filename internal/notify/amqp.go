package notify

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

// DefaultExchange is used when no exchange name is configured.
const DefaultExchange = "postloom.notifications"

// publisher is the part of *amqp.Channel the sink needs.
type publisher interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPSink publishes notifications as JSON to a topic exchange using the
// routing key generation.<level>.
type AMQPSink struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       publisher
	exchange string
	logger   *zap.Logger
}

// DialAMQP connects to the broker and declares the exchange.
func DialAMQP(url, exchange string, logger *zap.Logger) (*AMQPSink, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	s := newAMQPSink(ch, exchange, logger)
	s.conn = conn
	return s, nil
}

func newAMQPSink(ch publisher, exchange string, logger *zap.Logger) *AMQPSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AMQPSink{ch: ch, exchange: exchange, logger: logger}
}

// RoutingKey returns the routing key for a level.
func RoutingKey(level Level) string {
	return "generation." + string(level)
}

// Send publishes one notification.
func (s *AMQPSink) Send(n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	err = s.ch.Publish(s.exchange, RoutingKey(n.Level), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    n.Time,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// Handler adapts the sink to a bus subscriber. Publish failures are logged.
func (s *AMQPSink) Handler() Handler {
	return func(n Notification) {
		if err := s.Send(n); err != nil {
			s.logger.Warn("notification publish failed", zap.Error(err))
		}
	}
}

// Close closes the channel and connection.
func (s *AMQPSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ch.Close(); err != nil {
		return err
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
