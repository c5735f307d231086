package producer

import (
	"context"
	"encoding/json"
	"fmt"

	wbfkafka "github.com/wb-go/wbf/kafka"
	"github.com/wb-go/wbf/retry"

	"github.com/aliskhannn/toolbox/internal/config"
	"github.com/aliskhannn/toolbox/internal/model"
)

// sender is the subset of the Kafka client used to publish.
type sender interface {
	SendWithRetry(ctx context.Context, strategy retry.Strategy, key, value []byte) error
	Close() error
}

// Producer publishes conversion lifecycle events to Kafka.
type Producer struct {
	Client   sender
	strategy retry.Strategy
}

// New creates a Producer writing to cfg.EventsTopic.
func New(cfg *config.Kafka, s retry.Strategy) *Producer {
	return &Producer{
		Client:   wbfkafka.NewProducer(cfg.Brokers, cfg.EventsTopic),
		strategy: s,
	}
}

// Publish serializes the event to JSON and sends it to Kafka.
// The token is used as the message key so events of one conversion stay ordered.
func (p *Producer) Publish(ctx context.Context, ev model.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := p.Client.SendWithRetry(ctx, p.strategy, []byte(ev.Token), data); err != nil {
		return fmt.Errorf("failed to send event: %w", err)
	}

	return nil
}

// Close flushes and closes the underlying writer.
func (p *Producer) Close() error {
	return p.Client.Close()
}
