// Package rabbitmq schedules delayed payment retries on RabbitMQ.
//
// Each delay gets its own queue with a message TTL whose expired messages
// are dead-lettered into the work queue, where the consumer picks them up.
package rabbitmq

import (
	"fmt"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	// WorkQueue receives retry jobs once their delay has elapsed.
	WorkQueue = "payments.retry.work"

	delayQueuePrefix = "payments.retry.delay."
)

// SetupConn dials RabbitMQ and declares the work queue.
func SetupConn(url string, attempts int) (*amqp.Connection, *amqp.Channel, error) {
	var conn *amqp.Connection
	var err error

	if attempts < 1 {
		attempts = 1
	}

	// Simple retry logic for container startup
	for i := 0; i < attempts; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			break
		}
		log.Printf("[RABBITMQ] Failed to connect (attempt %d): %v", i+1, err)
		if i < attempts-1 {
			time.Sleep(2 * time.Second)
		}
	}
	if err != nil {
		return nil, nil, fmt.Errorf("could not connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("could not open channel: %w", err)
	}

	if err := declareWorkQueue(ch); err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, err
	}

	return conn, ch, nil
}

func declareWorkQueue(ch *amqp.Channel) error {
	_, err := ch.QueueDeclare(
		WorkQueue, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	)
	if err != nil {
		return fmt.Errorf("could not declare work queue: %w", err)
	}
	return nil
}

// delayQueueName returns the queue holding jobs delayed by d.
func delayQueueName(d time.Duration) string {
	return fmt.Sprintf("%s%d", delayQueuePrefix, d.Milliseconds())
}

// delayQueueArgs configures a delay queue: messages expire after d and are
// routed to the work queue through the default exchange.
func delayQueueArgs(d time.Duration) amqp.Table {
	return amqp.Table{
		"x-message-ttl":             d.Milliseconds(),
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": WorkQueue,
	}
}
