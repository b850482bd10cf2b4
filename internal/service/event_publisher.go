package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"fieldclock/internal/timeclock"
)

// DefaultEventQueue receives every transition for downstream reporting.
const DefaultEventQueue = "timeclock.events"

type amqpChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// EventPublisher writes transition events to a durable RabbitMQ queue. The
// connection is opened lazily and dropped after a failure so the next event
// reconnects.
type EventPublisher struct {
	queue string
	log   *logrus.Entry
	dial  func() (amqpChannel, func() error, error)

	mu      sync.Mutex
	ch      amqpChannel
	closeFn func() error
}

func NewEventPublisher(url, queue string, log *logrus.Entry) *EventPublisher {
	if queue == "" {
		queue = DefaultEventQueue
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &EventPublisher{
		queue: queue,
		log:   log,
		dial: func() (amqpChannel, func() error, error) {
			conn, err := amqp.Dial(url)
			if err != nil {
				return nil, nil, err
			}
			ch, err := conn.Channel()
			if err != nil {
				_ = conn.Close()
				return nil, nil, err
			}
			return ch, conn.Close, nil
		},
	}
}

// Publish sends one event as a persistent JSON message.
func (p *EventPublisher) Publish(ctx context.Context, ev timeclock.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, err := p.channel()
	if err != nil {
		return err
	}
	err = ch.PublishWithContext(ctx,
		"",      // default exchange
		p.queue, // routing key = queue name
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Type:         ev.Type,
			Timestamp:    ev.OccurredAt.UTC(),
			Body:         body,
		})
	if err != nil {
		p.reset()
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// OnEvent is the broker observer; failures are logged, never retried.
func (p *EventPublisher) OnEvent(ev timeclock.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Publish(ctx, ev); err != nil {
		p.log.WithError(err).WithFields(logrus.Fields{"user_id": ev.UserID, "event": ev.Type}).Warn("rabbitmq publish failed")
	}
}

func (p *EventPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reset()
}

// channel expects p.mu to be held.
func (p *EventPublisher) channel() (amqpChannel, error) {
	if p.ch != nil {
		return p.ch, nil
	}
	ch, closeFn, err := p.dial()
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}
	// Durable so messages survive broker restarts.
	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		if closeFn != nil {
			_ = closeFn()
		}
		return nil, fmt.Errorf("queue declare: %w", err)
	}
	p.ch, p.closeFn = ch, closeFn
	return ch, nil
}

func (p *EventPublisher) reset() error {
	var err error
	if p.ch != nil {
		err = p.ch.Close()
	}
	if p.closeFn != nil {
		if cerr := p.closeFn(); err == nil {
			err = cerr
		}
	}
	p.ch, p.closeFn = nil, nil
	return err
}
