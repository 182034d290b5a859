package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/JakeFAU/lurk/internal/lurk"
)

// PubSubName labels the Pub/Sub sink.
const PubSubName = "pubsub"

// PubSubConfig configures the Pub/Sub sink.
type PubSubConfig struct {
	ProjectID string
	Topic     string
}

// PubSub publishes one JSON message per product with provider and sku
// attributes.
type PubSub struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	logger *zap.Logger
}

// NewPubSub connects to the project and checks the topic exists. Credentials
// come from Application Default Credentials unless opts override them.
func NewPubSub(ctx context.Context, cfg PubSubConfig, logger *zap.Logger, opts ...option.ClientOption) (*PubSub, error) {
	if cfg.ProjectID == "" || cfg.Topic == "" {
		return nil, lurk.Configf("pubsub: project_id and topic are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	topic := c.Topic(cfg.Topic)
	exists, err := topic.Exists(ctx)
	if err == nil && !exists {
		err = fmt.Errorf("topic %q does not exist in project %q", cfg.Topic, cfg.ProjectID)
	}
	if err != nil {
		if closeErr := c.Close(); closeErr != nil {
			logger.Warn("close pubsub client after topic check failed", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("pubsub topic check: %w", err)
	}
	return &PubSub{client: c, topic: topic, logger: logger.With(zap.String("sink", PubSubName))}, nil
}

// Name implements Sink.
func (*PubSub) Name() string { return PubSubName }

// Notify publishes every product and waits for all server acknowledgements.
func (p *PubSub) Notify(ctx context.Context, products []lurk.Product) error {
	results := make([]*pubsub.PublishResult, 0, len(products))
	for _, product := range products {
		data, err := json.Marshal(product)
		if err != nil {
			return &lurk.NotificationError{Sink: PubSubName, Err: fmt.Errorf("marshal product %s: %w", product.Key(), err)}
		}
		results = append(results, p.topic.Publish(ctx, &pubsub.Message{
			Data: data,
			Attributes: map[string]string{
				"provider": product.Provider,
				"sku":      product.SKU,
			},
		}))
	}
	var errs []error
	for _, res := range results {
		if _, err := res.Get(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return &lurk.NotificationError{Sink: PubSubName, Err: fmt.Errorf("publish: %w", errors.Join(errs...))}
	}
	p.logger.Debug("products published", zap.String("topic", p.topic.ID()), zap.Int("messages", len(results)))
	return nil
}

// Close flushes pending messages and closes the client.
func (p *PubSub) Close() error {
	p.topic.Stop()
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
