package rabbitmq

import (
	"context"
	"log"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Subscriber consumes sync events from a topic exchange. Each Consume call
// binds its own exclusive queue, so every subscriber sees every matching
// event (fan-out, at-least-once).
type Subscriber interface {
	Consume(ctx context.Context, routingKey string, handler func(body []byte)) (stop func(), err error)
	Close() error
}

// NewSubscriber builds a RabbitMQ subscriber or a noop subscriber when AMQP
// is disabled. The noop subscriber never delivers anything.
func NewSubscriber(amqpURL, exchange string) Subscriber {
	if amqpURL == "" {
		log.Printf("rabbitmq subscriber disabled, using noop: empty amqp url")
		return noopSubscriber{}
	}

	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		log.Printf("rabbitmq subscriber disabled, using noop: %v", err)
		return noopSubscriber{}
	}

	return &amqpSubscriber{conn: conn, exchange: exchange}
}

type amqpSubscriber struct {
	conn     *amqp.Connection
	exchange string
}

func (s *amqpSubscriber) Consume(ctx context.Context, routingKey string, handler func([]byte)) (func(), error) {
	ch, err := s.conn.Channel()
	if err != nil {
		return nil, err
	}

	if err := ch.ExchangeDeclare(s.exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, err
	}

	queue, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, err
	}

	if err := ch.QueueBind(queue.Name, routingKey, s.exchange, false, nil); err != nil {
		_ = ch.Close()
		return nil, err
	}

	deliveries, err := ch.Consume(queue.Name, "", true, true, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				handler(d.Body)
			}
		}
	}()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(done)
			_ = ch.Close()
		})
	}
	return stop, nil
}

func (s *amqpSubscriber) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

type noopSubscriber struct{}

func (noopSubscriber) Consume(ctx context.Context, routingKey string, handler func([]byte)) (func(), error) {
	return func() {}, nil
}

func (noopSubscriber) Close() error {
	return nil
}
