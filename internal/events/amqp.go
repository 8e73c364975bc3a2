package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/streadway/amqp"
)

type amqpPublisher interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPForwarder republishes bus events to a topic exchange, using the
// event topic as routing key.
type AMQPForwarder struct {
	ch       amqpPublisher
	exchange string
	conn     *amqp.Connection
}

// DialAMQP connects and declares the durable topic exchange.
func DialAMQP(url, exchange string) (*AMQPForwarder, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &AMQPForwarder{ch: ch, exchange: exchange, conn: conn}, nil
}

func (f *AMQPForwarder) Handle(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return f.ch.Publish(f.exchange, ev.Topic, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    ev.At,
		Body:         body,
	})
}

func (f *AMQPForwarder) Close() error {
	if f.conn == nil {
		return nil
	}
	return f.conn.Close()
}

// ConsumeWake binds queue to the campaign start topic and calls wake for
// every start event until ctx is done or the connection drops.
func ConsumeWake(ctx context.Context, url, exchange, queue string, log zerolog.Logger, wake func(Event)) error {
	conn, err := amqp.Dial(url)
	if err != nil {
		return fmt.Errorf("connect to RabbitMQ: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	q, err := ch.QueueDeclare(
		queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, TopicCampaignStart, exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}

	msgs, err := ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("register consumer: %w", err)
	}
	handleWakeDeliveries(ctx, msgs, log, wake)
	return nil
}

func handleWakeDeliveries(ctx context.Context, msgs <-chan amqp.Delivery, log zerolog.Logger, wake func(Event)) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-msgs:
			if !ok {
				return
			}
			var ev Event
			if err := json.Unmarshal(d.Body, &ev); err != nil {
				log.Warn().Err(err).Msg("invalid wake message, discarding")
				d.Ack(false)
				continue
			}
			wake(ev)
			d.Ack(false)
		}
	}
}
