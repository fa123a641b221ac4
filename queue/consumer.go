package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"

	"github.com/bgeels/tsds-services/common"
)

const (
	// DefaultPrefetchCount is the broker-side window of unacknowledged
	// deliveries per worker.
	DefaultPrefetchCount = 20

	// DefaultFetchTimeout bounds one wait for a delivery before the loop
	// comes around again.
	DefaultFetchTimeout = 10 * time.Second

	// DefaultReconnectTimeout is the pause between reconnection attempts
	// after a transport failure.
	DefaultReconnectTimeout = 10 * time.Second
)

// Handler processes one decoded batch. A nil return acknowledges the batch;
// any error rejects it back onto the queue for redelivery.
type Handler interface {
	ProcessBatch(ctx context.Context, items []json.RawMessage) error
}

// Config holds the consumer's transport settings.
type Config struct {
	URL              string
	Queue            string
	PrefetchCount    int
	FetchTimeout     time.Duration
	ReconnectTimeout time.Duration
}

// withDefaults fills the zero-valued tuning knobs.
func (c Config) withDefaults() Config {
	if c.PrefetchCount == 0 {
		c.PrefetchCount = DefaultPrefetchCount
	}
	if c.FetchTimeout == 0 {
		c.FetchTimeout = DefaultFetchTimeout
	}
	if c.ReconnectTimeout == 0 {
		c.ReconnectTimeout = DefaultReconnectTimeout
	}
	return c
}

// Consumer is the writer's consumer loop: it fetches batches from the
// durable queue, hands them to the handler, and acknowledges or rejects them
// according to the outcome. Transport failures trigger reconnection; the
// loop never exits on broker failure.
type Consumer struct {
	config  Config
	dialer  AMQPDialer
	handler Handler

	connection AMQPConnection
	channel    AMQPChannel
	deliveries <-chan amqp.Delivery

	running atomic.Bool
}

// NewConsumer creates a consumer over the real AMQP transport.
func NewConsumer(config Config, handler Handler) *Consumer {
	return NewConsumerWithDialer(config, handler, &RealAMQPDialer{})
}

// NewConsumerWithDialer creates a consumer with an injected dialer. Used by
// tests to run the loop against mocks.
func NewConsumerWithDialer(config Config, handler Handler, dialer AMQPDialer) *Consumer {
	return &Consumer{
		config:  config.withDefaults(),
		dialer:  dialer,
		handler: handler,
	}
}

// Connect establishes the connection, channel, queue, and consumer
// registration. The queue is durable and never auto-deleted; deliveries
// require explicit acknowledgement.
func (c *Consumer) Connect() error {
	conn, err := c.dialer.Dial(c.config.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	_, err = ch.QueueDeclare(
		c.config.Queue, // name
		true,           // durable
		false,          // delete when unused
		false,          // exclusive
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := ch.Qos(c.config.PrefetchCount, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.Consume(
		c.config.Queue,
		"tsds-writer-"+uuid.NewString(), // consumer tag
		false,                           // auto-ack
		false,                           // exclusive
		false,                           // no-local
		false,                           // no-wait
		nil,                             // args
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.connection = conn
	c.channel = ch
	c.deliveries = deliveries
	return nil
}

// Run executes the consume loop until Stop is called or the context is
// canceled. The in-flight batch always completes and is acknowledged or
// rejected before the loop exits.
func (c *Consumer) Run(ctx context.Context) error {
	c.running.Store(true)

	common.Logger.WithFields(logrus.Fields{
		"queue": c.config.Queue,
	}).Info("consumer started")

	for c.running.Load() {
		if ctx.Err() != nil {
			break
		}

		delivery, ok, open := c.fetch(ctx)
		if !open {
			common.Logger.Warn("delivery channel closed, reconnecting")
			if err := c.reconnect(ctx); err != nil {
				break
			}
			continue
		}
		if !ok {
			continue
		}

		if err := c.handleDelivery(ctx, delivery); err != nil {
			common.Logger.WithError(err).Warn("acknowledgement failed, reconnecting")
			if err := c.reconnect(ctx); err != nil {
				break
			}
		}
	}

	c.teardown()
	common.Logger.Info("consumer stopped")
	return nil
}

// Stop asks the loop to exit at its next iteration boundary.
func (c *Consumer) Stop() {
	c.running.Store(false)
}

// fetch waits up to the fetch timeout for one delivery. The second return
// value reports whether a delivery arrived, the third whether the transport
// is still open.
func (c *Consumer) fetch(ctx context.Context) (amqp.Delivery, bool, bool) {
	select {
	case delivery, open := <-c.deliveries:
		return delivery, open, open
	case <-time.After(c.config.FetchTimeout):
		return amqp.Delivery{}, false, true
	case <-ctx.Done():
		return amqp.Delivery{}, false, true
	}
}

// handleDelivery decodes and processes one batch. Malformed payloads are
// rejected without requeue; handler failures are rejected with requeue so
// the broker redelivers them. The returned error reports acknowledgement
// transport failures only.
func (c *Consumer) handleDelivery(ctx context.Context, delivery amqp.Delivery) error {
	body := bytes.TrimSpace(delivery.Body)

	if len(body) == 0 || body[0] != '[' {
		common.Logger.Warn("rejecting non-array payload")
		return delivery.Nack(false, false)
	}

	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		common.Logger.WithError(err).Warn("rejecting malformed payload")
		return delivery.Nack(false, false)
	}

	if err := c.handler.ProcessBatch(ctx, items); err != nil {
		common.Logger.WithError(err).Warn("batch failed, requeueing")
		return delivery.Nack(false, true)
	}

	return delivery.Ack(false)
}

// reconnect tears down the current transport and redials until it succeeds,
// pausing the reconnect timeout between attempts. It only gives up when the
// consumer is stopped or the context is canceled.
func (c *Consumer) reconnect(ctx context.Context) error {
	c.teardown()

	policy := backoff.WithContext(backoff.NewConstantBackOff(c.config.ReconnectTimeout), ctx)

	return backoff.Retry(func() error {
		if !c.running.Load() {
			return backoff.Permanent(fmt.Errorf("consumer stopped during reconnect"))
		}
		if err := c.Connect(); err != nil {
			common.Logger.WithError(err).Warn("reconnect attempt failed")
			return err
		}
		common.Logger.Info("reconnected to broker")
		return nil
	}, policy)
}

// teardown closes the channel and connection, ignoring errors: the transport
// may already be gone.
func (c *Consumer) teardown() {
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.connection != nil {
		c.connection.Close()
		c.connection = nil
	}
	c.deliveries = nil
}
