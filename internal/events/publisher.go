// Package events publishes card lifecycle notifications to RabbitMQ.
package events

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Config configures the publisher. Queue is optional; when set it is
// declared and bound to the exchange with RoutingKey.
type Config struct {
	URL        string
	Exchange   string
	RoutingKey string
	Queue      string
}

// CardEvent is the message body published when a card is written.
type CardEvent struct {
	Action        string    `json:"action"`
	WorkID        string    `json:"work_id"`
	ExternalID    int64     `json:"external_id"`
	ETag          string    `json:"etag"`
	SchemaVersion int       `json:"schema_version"`
	Timestamp     time.Time `json:"timestamp"`
}

// ActionCardUpdated is the action of every CardEvent.
const ActionCardUpdated = "card.updated"

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher sends CardEvents to a topic exchange.
type Publisher struct {
	conn       *amqp.Connection
	ch         channel
	exchange   string
	routingKey string
	log        *zap.Logger
}

// NewPublisher connects to the broker and declares the exchange.
func NewPublisher(cfg Config) (*Publisher, error) {
	if cfg.URL == "" {
		return nil, eris.New("events: broker url is required")
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, eris.Wrap(err, "events: connect")
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "events: open channel")
	}

	if err := declare(ch, cfg); err != nil {
		ch.Close()   //nolint:errcheck
		conn.Close() //nolint:errcheck
		return nil, err
	}

	log := zap.L().With(zap.String("component", "events"))
	log.Info("connected to broker",
		zap.String("exchange", cfg.Exchange),
		zap.String("routing_key", cfg.RoutingKey),
		zap.String("queue", cfg.Queue),
	)
	return &Publisher{
		conn:       conn,
		ch:         ch,
		exchange:   cfg.Exchange,
		routingKey: cfg.RoutingKey,
		log:        log,
	}, nil
}

func declare(ch *amqp.Channel, cfg Config) error {
	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		return eris.Wrapf(err, "events: declare exchange %s", cfg.Exchange)
	}
	if cfg.Queue == "" {
		return nil
	}
	q, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, nil)
	if err != nil {
		return eris.Wrapf(err, "events: declare queue %s", cfg.Queue)
	}
	if err := ch.QueueBind(q.Name, cfg.RoutingKey, cfg.Exchange, false, nil); err != nil {
		return eris.Wrapf(err, "events: bind queue %s", cfg.Queue)
	}
	return nil
}

// CardUpdated publishes a persistent card.updated event.
func (p *Publisher) CardUpdated(ctx context.Context, workID string, externalID int64, etag string, schemaVersion int) error {
	now := time.Now().UTC()
	body, err := json.Marshal(CardEvent{
		Action:        ActionCardUpdated,
		WorkID:        workID,
		ExternalID:    externalID,
		ETag:          etag,
		SchemaVersion: schemaVersion,
		Timestamp:     now,
	})
	if err != nil {
		return eris.Wrap(err, "events: marshal card event")
	}

	err = p.ch.PublishWithContext(ctx, p.exchange, p.routingKey, false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		MessageId:    workID + ":" + etag,
		Timestamp:    now,
		Body:         body,
	})
	if err != nil {
		return eris.Wrapf(err, "events: publish card %s", workID)
	}

	p.log.Debug("published card event", zap.Int64("external_id", externalID), zap.String("etag", etag))
	return nil
}

// Close closes the channel and the connection.
func (p *Publisher) Close() error {
	if p.ch != nil {
		p.ch.Close() //nolint:errcheck
	}
	if p.conn != nil {
		return eris.Wrap(p.conn.Close(), "events: close connection")
	}
	return nil
}
