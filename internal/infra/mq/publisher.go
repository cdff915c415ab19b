// Package mq relays bus events to a RabbitMQ topic exchange so other services
// (reminders, reporting) can follow booking activity.
package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"clinic-booking/internal/notify"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const DefaultExchange = "clinic.events"

// channel is the part of *amqp.Channel the publisher uses.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type Publisher struct {
	conn     *amqp.Connection
	ch       channel
	exchange string
	mu       sync.Mutex
}

func NewPublisher(url, exchange string) (*Publisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &Publisher{conn: conn, ch: ch, exchange: exchange}, nil
}

func (p *Publisher) Name() string { return "rabbitmq" }

// Deliver publishes evt as its flat JSON envelope under RoutingKey(evt).
func (p *Publisher) Deliver(ctx context.Context, evt notify.Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode %s: %w", evt.Type, err)
	}

	headers := amqp.Table{"event_type": evt.Type}
	if evt.TenantID != nil {
		headers["tenant_id"] = *evt.TenantID
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(ctx, p.exchange, RoutingKey(evt), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    evt.Timestamp,
		Type:         evt.Type,
		Headers:      headers,
		Body:         body,
	})
}

// RoutingKey is "<tenant>.<event type>", with "platform" for events of records
// that belong to no clinic. Consumers bind with e.g. "clinic_a.*" or "*.payment_succeeded".
func RoutingKey(evt notify.Event) string {
	owner := "platform"
	if evt.TenantID != nil && *evt.TenantID != "" {
		owner = *evt.TenantID
	}
	return owner + "." + evt.Type
}

func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
