// Package events publishes booking notifications so that other services
// (slot caches, reminders) can react without polling the database.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Routing keys.
const (
	BookingCreated    = "booking.created"
	ClosureAdded      = "schedule.closure_added"
	ClosureRemoved    = "schedule.closure_removed"
	WorkingDayUpdated = "schedule.working_day_updated"
)

// Publisher sends one JSON-encoded event under a routing key.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, string, any) error { return nil }

// Envelope wraps every published payload.
type Envelope struct {
	ID         uuid.UUID `json:"id"`
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Data       any       `json:"data"`
}

func encode(routingKey string, payload any, now time.Time) (Envelope, []byte, error) {
	env := Envelope{ID: uuid.New(), Type: routingKey, OccurredAt: now.UTC(), Data: payload}
	body, err := json.Marshal(env)
	if err != nil {
		return Envelope{}, nil, fmt.Errorf("encode %s event: %w", routingKey, err)
	}
	return env, body, nil
}

// channel is the part of *amqp.Channel the publisher uses.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQP publishes persistent messages to a durable topic exchange.
type AMQP struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       channel
	exchange string
	now      func() time.Time
}

// DialAMQP connects to url and declares exchange.
func DialAMQP(url, exchange string) (*AMQP, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %q: %w", exchange, err)
	}
	return &AMQP{conn: conn, ch: ch, exchange: exchange, now: time.Now}, nil
}

func (p *AMQP) Publish(ctx context.Context, routingKey string, payload any) error {
	env, body, err := encode(routingKey, payload, p.now())
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    env.ID.String(),
		Timestamp:    env.OccurredAt,
		Type:         routingKey,
		Body:         body,
	})
}

func (p *AMQP) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ch.Close(); err != nil {
		if p.conn != nil {
			p.conn.Close()
		}
		return err
	}
	if p.conn == nil {
		return nil
	}
	return p.conn.Close()
}
