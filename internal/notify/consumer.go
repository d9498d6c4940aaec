package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DeliveryRecorder is told about every notification that was delivered.
type DeliveryRecorder interface {
	RecordDelivery(ctx context.Context, n Notification) error
}

type ConsumerConfig struct {
	RabbitURL string
	Exchange  string
	Queue     string
	Prefetch  int
}

// Consumer drains the notification exchange, delivers through a Dispatcher
// and reports successful deliveries.
type Consumer struct {
	cfg      ConsumerConfig
	deliver  Dispatcher
	recorder DeliveryRecorder

	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewConsumer(cfg ConsumerConfig, deliver Dispatcher, recorder DeliveryRecorder) *Consumer {
	return &Consumer{cfg: cfg, deliver: deliver, recorder: recorder}
}

func (c *Consumer) Connect() error {
	conn, err := amqp.Dial(c.cfg.RabbitURL)
	if err != nil {
		return fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	closeAll := func() {
		_ = ch.Close()
		_ = conn.Close()
	}

	if err := ch.ExchangeDeclare(c.cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		closeAll()
		return fmt.Errorf("declare exchange: %w", err)
	}
	q, err := ch.QueueDeclare(c.cfg.Queue, true, false, false, false, nil)
	if err != nil {
		closeAll()
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, "notify.#", c.cfg.Exchange, false, nil); err != nil {
		closeAll()
		return fmt.Errorf("bind queue: %w", err)
	}

	prefetch := c.cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 8
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		closeAll()
		return fmt.Errorf("set qos: %w", err)
	}

	c.conn = conn
	c.ch = ch
	return nil
}

func (c *Consumer) Close() {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

func (c *Consumer) Run(ctx context.Context) error {
	msgs, err := c.ch.ConsumeWithContext(ctx, c.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return nil
			}
			if err := c.handle(ctx, d.Body); err != nil {
				log.Printf("[notify] handle error key=%s err=%v -> nack", d.RoutingKey, err)
				_ = d.Nack(false, !d.Redelivered)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, body []byte) error {
	var n Notification
	if err := json.Unmarshal(body, &n); err != nil {
		// a malformed message will never succeed; log and drop it
		log.Printf("[notify] dropping undecodable message: %v", err)
		return nil
	}

	if err := c.deliver.Notify(ctx, n); err != nil {
		return fmt.Errorf("deliver %s: %w", n.ID, err)
	}

	if c.recorder != nil {
		if err := c.recorder.RecordDelivery(ctx, n); err != nil {
			// already delivered, so ack regardless
			log.Printf("[notify] record delivery id=%s: %v", n.ID, err)
		}
	}
	return nil
}
