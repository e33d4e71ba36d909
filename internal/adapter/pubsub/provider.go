package pubsub

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/lostfound/im-realtime-service/config"
)

// Provider builds AMQP publishers and subscribers bound to topic exchanges.
// Routing keys are the watermill topics.
type Provider struct {
	uri    string
	logger watermill.LoggerAdapter
}

func NewProvider(cfg *config.Config, logger watermill.LoggerAdapter) *Provider {
	return &Provider{uri: cfg.AMQP.URI, logger: logger}
}

// NewWatermillLogger routes watermill's own logs through slog.
func NewWatermillLogger(logger *slog.Logger) watermill.LoggerAdapter {
	return watermill.NewSlogLogger(logger.With("component", "watermill"))
}

// Enabled reports whether a broker URI was configured.
func (p *Provider) Enabled() bool { return p.uri != "" }

// BuildPublisher returns a publisher writing into exchange.
func (p *Provider) BuildPublisher(exchange string) (message.Publisher, error) {
	pub, err := amqp.NewPublisher(topicConfig(p.uri, exchange, ""), p.logger)
	if err != nil {
		return nil, fmt.Errorf("PUBLISHER_BUILD_FAILED: exchange=%s: %w", exchange, err)
	}
	return pub, nil
}

// Build returns a subscriber consuming queue, bound to exchange with the
// topic as binding key.
func (p *Provider) Build(queue, exchange, topic string) (message.Subscriber, error) {
	sub, err := amqp.NewSubscriber(topicConfig(p.uri, exchange, queue), p.logger)
	if err != nil {
		return nil, fmt.Errorf("SUBSCRIBER_BUILD_FAILED: queue=%s topic=%s: %w", queue, topic, err)
	}
	return sub, nil
}

func topicConfig(uri, exchange, queue string) amqp.Config {
	cfg := amqp.NewDurablePubSubConfig(uri, amqp.GenerateQueueNameConstant(queue))
	cfg.Exchange.GenerateName = func(string) string { return exchange }
	cfg.Exchange.Type = "topic"
	cfg.Publish.GenerateRoutingKey = func(topic string) string { return topic }
	cfg.QueueBind.GenerateRoutingKey = func(topic string) string { return topic }
	return cfg
}
