package messaging

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Config holds configuration for the RabbitMQ client.
type Config struct {
	URL string

	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	HeartbeatTimeout  time.Duration
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 60 * time.Second,
		HeartbeatTimeout:  10 * time.Second,
	}
}

// RabbitMQClient wraps an AMQP connection with automatic reconnection.
type RabbitMQClient struct {
	cfg Config

	mu      sync.RWMutex
	conn    *amqp.Connection
	channel *amqp.Channel
	closed  bool

	done chan struct{}
}

// NewRabbitMQClient connects to the broker and starts the reconnect loop.
func NewRabbitMQClient(url string) (*RabbitMQClient, error) {
	cfg := DefaultConfig()
	cfg.URL = url
	return NewRabbitMQClientWithConfig(cfg)
}

// NewRabbitMQClientWithConfig connects using the given configuration.
func NewRabbitMQClientWithConfig(cfg Config) (*RabbitMQClient, error) {
	c := &RabbitMQClient{
		cfg:  cfg,
		done: make(chan struct{}),
	}
	if err := c.connect(); err != nil {
		return nil, err
	}
	go c.reconnectLoop()
	log.Printf("Connected to RabbitMQ at %s", maskURL(cfg.URL))
	return c, nil
}

func (c *RabbitMQClient) connect() error {
	conn, err := amqp.DialConfig(c.cfg.URL, amqp.Config{
		Heartbeat: c.cfg.HeartbeatTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.channel = ch
	c.mu.Unlock()
	return nil
}

// reconnectLoop re-establishes the connection when the broker drops it,
// backing off exponentially up to MaxReconnectDelay.
func (c *RabbitMQClient) reconnectLoop() {
	for {
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()

		notify := conn.NotifyClose(make(chan *amqp.Error, 1))
		select {
		case <-c.done:
			return
		case amqpErr := <-notify:
			if amqpErr == nil {
				return
			}
			log.Printf("RabbitMQ connection lost: %v, reconnecting", amqpErr)
		}

		delay := c.cfg.ReconnectDelay
		for {
			select {
			case <-c.done:
				return
			case <-time.After(delay):
			}
			if err := c.connect(); err == nil {
				log.Println("RabbitMQ reconnected")
				break
			} else {
				log.Printf("RabbitMQ reconnect failed: %v", err)
			}
			delay *= 2
			if delay > c.cfg.MaxReconnectDelay {
				delay = c.cfg.MaxReconnectDelay
			}
		}
	}
}

// DeclareQueueWithDLQ declares a durable queue backed by a dead-letter queue.
// Messages rejected without requeue land on "<name>.dlq".
func (c *RabbitMQClient) DeclareQueueWithDLQ(name string) error {
	c.mu.RLock()
	ch := c.channel
	c.mu.RUnlock()

	dlqName := name + ".dlq"
	if _, err := ch.QueueDeclare(dlqName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare DLQ %s: %w", dlqName, err)
	}

	args := amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": dlqName,
	}
	if _, err := ch.QueueDeclare(name, true, false, false, false, args); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", name, err)
	}
	return nil
}

// Publish sends a persistent JSON message to the named queue.
func (c *RabbitMQClient) Publish(ctx context.Context, queue string, body []byte) error {
	c.mu.RLock()
	ch := c.channel
	closed := c.closed
	c.mu.RUnlock()

	if closed {
		return fmt.Errorf("client is closed")
	}

	err := ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", queue, err)
	}
	return nil
}

// ConsumeWithContext consumes messages from the named queue until ctx is
// cancelled. The handler's error decides the message's fate: nil acks,
// non-nil nacks with requeue.
func (c *RabbitMQClient) ConsumeWithContext(ctx context.Context, queue string, handler func(ctx context.Context, body []byte) error) error {
	c.mu.RLock()
	ch := c.channel
	c.mu.RUnlock()

	if err := ch.Qos(10, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to start consumer on %s: %w", queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("consumer channel for %s closed", queue)
			}
			if err := handler(ctx, msg.Body); err != nil {
				log.Printf("Handler error on %s: %v", queue, err)
				msg.Nack(false, true)
			} else {
				msg.Ack(false)
			}
		}
	}
}

// IsHealthy reports whether the underlying connection is open.
func (c *RabbitMQClient) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && !c.conn.IsClosed()
}

// Close shuts down the connection and stops the reconnect loop.
func (c *RabbitMQClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)

	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// maskURL hides credentials in an AMQP URL for logging.
func maskURL(url string) string {
	at := strings.LastIndex(url, "@")
	if at == -1 {
		return url
	}
	scheme := strings.Index(url, "://")
	if scheme == -1 {
		return url
	}
	return url[:scheme+3] + "***" + url[at:]
}
