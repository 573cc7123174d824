package audit

import (
	"fmt"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPPublisher appends audit messages to a topic exchange, one routing key
// per audit topic. Messages are persistent JSON.
type AMQPPublisher struct {
	channel  *amqp.Channel
	exchange string
}

func NewAMQPPublisher(conn *amqp.Connection, exchange string) (*AMQPPublisher, error) {
	channel, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	return &AMQPPublisher{channel: channel, exchange: exchange}, nil
}

func (p *AMQPPublisher) Publish(topic string, body []byte) error {
	return p.channel.Publish(
		p.exchange,
		topic,
		false, false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			Timestamp:    time.Now(),
			DeliveryMode: amqp.Persistent,
		},
	)
}

// LogPublisher is the fallback sink used when no broker is configured: audit
// messages go to the process log instead of a topic.
type LogPublisher struct{}

func (LogPublisher) Publish(topic string, body []byte) error {
	log.Printf("audit [%s]: %s", topic, body)
	return nil
}
