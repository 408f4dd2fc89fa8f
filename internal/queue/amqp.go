package queue

import (
	"context"
	"fmt"
	"log"

	amqp "github.com/rabbitmq/amqp091-go"
)

func amqpQueueName(class string) string {
	return "whatsapp." + class
}

// AMQPDispatcher publishes tasks to RabbitMQ queues, one queue per class.
// The task name travels in the message Type field.
type AMQPDispatcher struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewAMQPDispatcher(url string) (*AMQPDispatcher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to AMQP: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open AMQP channel: %w", err)
	}

	for _, class := range []string{ClassShort, ClassLong} {
		if _, err := ch.QueueDeclare(amqpQueueName(class), true, false, false, false, nil); err != nil {
			ch.Close()
			conn.Close()
			return nil, fmt.Errorf("declare queue %s: %w", class, err)
		}
	}
	return &AMQPDispatcher{conn: conn, ch: ch}, nil
}

func (d *AMQPDispatcher) Submit(ctx context.Context, task string, payload interface{}, queueClass string) error {
	body, err := encodePayload(payload)
	if err != nil {
		return err
	}
	if queueClass != ClassShort && queueClass != ClassLong {
		queueClass = ClassShort
	}

	return d.ch.PublishWithContext(ctx,
		"",                        // default exchange
		amqpQueueName(queueClass), // routing key = queue
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Type:         task,
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
}

// StartWorkers opens a dedicated consumer channel and starts a worker on
// every class queue.
func (d *AMQPDispatcher) StartWorkers(registry *Registry) error {
	ch, err := d.conn.Channel()
	if err != nil {
		return fmt.Errorf("open AMQP consumer channel: %w", err)
	}

	worker := NewAMQPWorker(ch, registry)
	for _, class := range []string{ClassShort, ClassLong} {
		if err := worker.Start(class); err != nil {
			return err
		}
	}
	return nil
}

func (d *AMQPDispatcher) Close() {
	d.ch.Close()
	d.conn.Close()
}

// AMQPWorker consumes a class queue and dispatches tasks to registered
// handlers with manual acknowledgment. Malformed or unroutable deliveries
// are rejected without requeue; handler failures are requeued once by the
// broker's redelivery flag and dropped after that.
type AMQPWorker struct {
	ch       *amqp.Channel
	registry *Registry
}

func NewAMQPWorker(ch *amqp.Channel, registry *Registry) *AMQPWorker {
	return &AMQPWorker{ch: ch, registry: registry}
}

func (w *AMQPWorker) Start(class string) error {
	deliveries, err := w.ch.Consume(amqpQueueName(class), "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", class, err)
	}

	go func() {
		for d := range deliveries {
			h, ok := w.registry.handler(d.Type)
			if !ok {
				log.Printf("No handler for task %q, dropping", d.Type)
				d.Nack(false, false)
				continue
			}

			if err := h(context.Background(), d.Body); err != nil {
				log.Printf("Task %s failed: %v", d.Type, err)
				d.Nack(false, !d.Redelivered)
				continue
			}
			d.Ack(false)
		}
	}()
	return nil
}
