package consumer

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	wbfkafka "github.com/wb-go/wbf/kafka"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/toolbox/internal/config"
)

// handler processes a single maintenance message.
type handler interface {
	Handle(ctx context.Context, msg kafka.Message) error
}

// client is the subset of the Kafka consumer used here.
type client interface {
	Fetch(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, msg kafka.Message) error
	Close() error
}

// Consumer reads maintenance requests from Kafka and passes them to a handler.
type Consumer struct {
	Client   client
	handler  handler
	topic    string
	strategy retry.Strategy
	backoff  time.Duration
}

// New creates a Consumer for cfg.MaintenanceTopic.
func New(cfg *config.Kafka, s retry.Strategy, h handler) *Consumer {
	return &Consumer{
		Client:   wbfkafka.NewConsumer(cfg.Brokers, cfg.MaintenanceTopic, cfg.GroupID),
		handler:  h,
		topic:    cfg.MaintenanceTopic,
		strategy: s,
		backoff:  500 * time.Millisecond,
	}
}

// Consume continuously fetches messages, processes them using the handler,
// and commits offsets after successful processing. It stops gracefully on context cancellation.
func (c *Consumer) Consume(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	zlog.Logger.Info().
		Str("topic", c.topic).
		Msg("starting consumer")

	for {
		// Exit if context is canceled (graceful shutdown).
		if ctx.Err() != nil {
			zlog.Logger.Info().Msg("shutdown signal received, stopping consumer")
			return
		}

		var msg kafka.Message
		err := retry.Do(func() error {
			var fetchErr error
			msg, fetchErr = c.Client.Fetch(ctx)
			return fetchErr
		}, c.strategy)

		if err != nil {
			if ctx.Err() != nil {
				continue
			}

			zlog.Logger.Err(err).Msg("failed to fetch message")
			select {
			case <-ctx.Done():
			case <-time.After(c.backoff):
			}
			continue
		}

		if err := c.handler.Handle(ctx, msg); err != nil {
			zlog.Logger.Err(err).
				Str("message", string(msg.Value)).
				Msg("failed to handle maintenance request")
			continue
		}

		err = retry.Do(func() error {
			return c.Client.Commit(ctx, msg)
		}, c.strategy)
		if err != nil {
			zlog.Logger.Err(err).Msg("failed to commit message after retries")
			continue
		}

		zlog.Logger.Info().
			Int64("offset", msg.Offset).
			Msg("maintenance request handled")
	}
}

// Close closes the underlying reader.
func (c *Consumer) Close() error {
	return c.Client.Close()
}
