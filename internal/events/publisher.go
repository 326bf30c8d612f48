// Package events publishes order lifecycle events to Kafka for downstream
// consumers (analytics, fulfilment). Publishing is best-effort: it runs
// after the state transition commits and never fails the request.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/bedsmarket/orders-api/internal/order"
)

type Publisher struct {
	writer *kafka.Writer
}

func NewPublisher(broker, topic string) *Publisher {
	if broker == "" {
		return nil
	}
	return &Publisher{writer: &kafka.Writer{
		Addr:     kafka.TCP(broker),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}}
}

// Publish writes one message keyed order-<verb>-<order_number>. A nil
// Publisher is valid and drops the event.
func (p *Publisher) Publish(ctx context.Context, o *order.Order, verb string) error {
	if p == nil {
		return nil
	}
	payload, err := json.Marshal(o)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(fmt.Sprintf("order-%s-%s", verb, o.OrderNumber)),
		Value: payload,
	})
}

func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	return p.writer.Close()
}
