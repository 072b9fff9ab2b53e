package cmd

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/xid"

	"github.com/dukex/aide/pkg/channels/gochannel"
	"github.com/dukex/aide/pkg/channels/kafka"
	"github.com/dukex/aide/pkg/queue"
)

const (
	QueueGoChannel = "gochannel"
	QueueKafka     = "kafka"
)

type QueueConfig struct {
	Provider string
	// Brokers is a comma separated Kafka broker list.
	Brokers string
	// ConsumerGroup is shared by every process of one role, so run jobs and
	// work items are split between them.
	ConsumerGroup string
}

// NewQueue connects the run transport. Each gochannel queue is private to
// the process that creates it, so it only serves the all-in-one binary.
func NewQueue(cfg QueueConfig, logger *slog.Logger) (*queue.Watermill, error) {
	wmLogger := watermill.NewSlogLogger(logger)

	switch cfg.Provider {
	case QueueGoChannel, "":
		pubSub := gochannel.CreateChannel(wmLogger)

		return queue.NewWatermill(pubSub, pubSub, nil, logger), nil
	case QueueKafka:
		brokers, err := kafka.ParseBrokers(cfg.Brokers)
		if err != nil {
			return nil, err
		}

		pub, err := kafka.CreatePublisher(wmLogger, brokers)
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka publisher: %w", err)
		}

		sub, err := kafka.CreateSubscriber(wmLogger, brokers, cfg.ConsumerGroup)
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka subscriber: %w", err)
		}

		// Every process needs every run notice.
		notices, err := kafka.CreateSubscriber(wmLogger, brokers, cfg.ConsumerGroup+"-"+xid.New().String())
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka notice subscriber: %w", err)
		}

		return queue.NewWatermill(pub, sub, notices, logger), nil
	default:
		return nil, fmt.Errorf("unsupported queue provider: %s", cfg.Provider)
	}
}

var ErrReceiverNeedsKafka = errors.New("the integration event receiver needs the kafka queue")

// NewEventSubscriber subscribes to the topic external systems publish
// integration events on.
func NewEventSubscriber(cfg QueueConfig, logger *slog.Logger) (message.Subscriber, error) {
	if cfg.Provider != QueueKafka {
		return nil, ErrReceiverNeedsKafka
	}

	brokers, err := kafka.ParseBrokers(cfg.Brokers)
	if err != nil {
		return nil, err
	}

	return kafka.CreateSubscriber(watermill.NewSlogLogger(logger), brokers, cfg.ConsumerGroup)
}
