// Package notifier carries the asynchronous side effects of booking
// transitions: confirmation email, push notification, ticket rendering and
// cache invalidation. Everything here runs on the watermill router, after
// the owning transaction committed, and retries independently of the
// booking flow.
package notifier

import (
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/components/cqrs"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/redis/go-redis/v9"
)

const consumerGroupPrefix = "svc-eventease."

func marshaler() cqrs.JSONMarshaler {
	return cqrs.JSONMarshaler{GenerateName: cqrs.StructName}
}

// NewLoggerAdapter bridges watermill's logging onto the application slog
// handler.
func NewLoggerAdapter(logger *slog.Logger) watermill.LoggerAdapter {
	return watermill.NewSlogLogger(logger)
}

// NewEventBus builds the publish side over a Redis stream publisher. Topics
// are derived from the event struct name, prefixed for namespacing.
func NewEventBus(rdb *redis.Client, logger watermill.LoggerAdapter) (*cqrs.EventBus, error) {
	publisher, err := redisstream.NewPublisher(redisstream.PublisherConfig{
		Client: rdb,
	}, logger)
	if err != nil {
		return nil, err
	}

	return cqrs.NewEventBusWithConfig(
		publisher,
		cqrs.EventBusConfig{
			GeneratePublishTopic: func(params cqrs.GenerateEventPublishTopicParams) (string, error) {
				return "events." + params.EventName, nil
			},
			Marshaler: marshaler(),
			Logger:    logger,
		},
	)
}

// NewRouter builds the message router the event processor runs on, with
// recovery and bounded retries.
func NewRouter(logger watermill.LoggerAdapter) (*message.Router, error) {
	router, err := message.NewRouter(message.RouterConfig{}, logger)
	if err != nil {
		return nil, err
	}

	router.AddMiddleware(middleware.Recoverer)
	router.AddMiddleware(middleware.Retry{
		MaxRetries:      10,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     time.Second,
		Multiplier:      2,
		Logger:          logger,
	}.Middleware)

	return router, nil
}

// NewEventProcessor builds the consume side. Each handler gets its own
// consumer group so a slow email sender never blocks cache invalidation.
func NewEventProcessor(
	router *message.Router,
	rdb *redis.Client,
	logger watermill.LoggerAdapter,
) (*cqrs.EventProcessor, error) {
	return cqrs.NewEventProcessorWithConfig(
		router,
		cqrs.EventProcessorConfig{
			GenerateSubscribeTopic: func(params cqrs.EventProcessorGenerateSubscribeTopicParams) (string, error) {
				return "events." + params.EventName, nil
			},
			SubscriberConstructor: func(params cqrs.EventProcessorSubscriberConstructorParams) (message.Subscriber, error) {
				return redisstream.NewSubscriber(redisstream.SubscriberConfig{
					Client:        rdb,
					ConsumerGroup: consumerGroupPrefix + params.HandlerName,
				}, logger)
			},
			Marshaler: marshaler(),
			Logger:    logger,
		},
	)
}
