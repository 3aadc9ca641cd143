package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/samber/oops"
)

// Publisher sends auth events to the broker.
type Publisher interface {
	Publish(ctx context.Context, ev AuthEvent) error
}

// Nop discards every event.  It is used when AUTH_EVENTS_ENABLED is false.
type Nop struct{}

func (Nop) Publish(context.Context, AuthEvent) error { return nil }

// AMQPPublisher publishes persistent JSON messages to AuthEventsQueue on the
// default exchange.  The connection is opened on first use and dropped after
// any failure, so the next publish redials.
type AMQPPublisher struct {
	url string
	log *slog.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewAMQPPublisher(url string, logger *slog.Logger) *AMQPPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &AMQPPublisher{url: url, log: logger.With("component", "auth-events")}
}

// Publish marshals ev and sends it.  Errors are logged and returned so the
// caller can choose to ignore them; a broker outage never fails a login.
func (p *AMQPPublisher) Publish(ctx context.Context, ev AuthEvent) error {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return oops.Code("EVENT_MARSHAL_FAILED").With("type", string(ev.Type)).Wrap(err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channel()
	if err != nil {
		p.log.WarnContext(ctx, "broker unavailable", "error", err)
		return oops.Code("EVENT_PUBLISH_FAILED").Wrap(err)
	}
	err = ch.PublishWithContext(ctx,
		"",              // default exchange
		AuthEventsQueue, // routing key = queue name
		false,           // mandatory
		false,           // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    ev.OccurredAt,
			Type:         string(ev.Type),
			Body:         body,
		})
	if err != nil {
		p.log.WarnContext(ctx, "publish failed", "type", ev.Type, "error", err)
		p.reset()
		return oops.Code("EVENT_PUBLISH_FAILED").With("type", string(ev.Type)).Wrap(err)
	}
	return nil
}

// Close releases the broker connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
	return nil
}

// channel returns the open channel, dialing if needed.  p.mu must be held.
func (p *AMQPPublisher) channel() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	p.reset()
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := declare(ch); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	p.conn, p.ch = conn, ch
	return ch, nil
}

func (p *AMQPPublisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

// declare makes sure the durable queue exists; it is idempotent.
func declare(ch *amqp.Channel) error {
	_, err := ch.QueueDeclare(AuthEventsQueue, true, false, false, false, nil)
	return err
}
