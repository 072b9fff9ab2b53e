// Package queue carries run jobs, work items and run notices over watermill.
package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/dukex/aide/pkg/channels/kafka"
	"github.com/dukex/aide/pkg/codec"
	"github.com/dukex/aide/pkg/models"
)

const (
	TopicRunsReady = "aide.runs.ready"
	TopicWorkItems = "aide.work.items"
	TopicRunEvents = "aide.run.events"

	kindMetadata = "aide_kind"
)

// Delivery is one decoded message. The consumer must call exactly one of
// Ack or Nack; a nacked message is redelivered.
type Delivery[T any] struct {
	Value T
	ID    string
	msg   *message.Message
}

func (d Delivery[T]) Ack() { d.msg.Ack() }

func (d Delivery[T]) Nack() { d.msg.Nack() }

type Publisher interface {
	PublishRunJob(ctx context.Context, job models.RunJob) error
	PublishWorkItem(ctx context.Context, item models.WorkItem) error
	PublishRunNotice(ctx context.Context, notice models.RunNotice) error
}

type Queue interface {
	Publisher
	RunJobs(ctx context.Context) (<-chan Delivery[models.RunJob], error)
	WorkItems(ctx context.Context) (<-chan Delivery[models.WorkItem], error)
	RunNotices(ctx context.Context) (<-chan Delivery[models.RunNotice], error)
	Close() error
}

// Watermill implements Queue. Jobs and work items are read from subscriber,
// which is expected to share consumers across instances; notices are read
// from notices, which should reach every instance.
type Watermill struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	notices    message.Subscriber
	logger     *slog.Logger
}

func NewWatermill(pub message.Publisher, sub message.Subscriber, notices message.Subscriber, logger *slog.Logger) *Watermill {
	if notices == nil {
		notices = sub
	}

	return &Watermill{
		publisher:  pub,
		subscriber: sub,
		notices:    notices,
		logger:     logger,
	}
}

func (q *Watermill) publish(ctx context.Context, topic, kind, runID string, v any) error {
	payload, err := codec.Marshal(kind, v)
	if err != nil {
		return err
	}

	msg := message.NewMessage(watermill.NewULID(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set(kindMetadata, kind)
	msg.Metadata.Set(kafka.PartitionKeyMetadata, runID)

	if err := q.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish %s for run %s: %w", kind, runID, err)
	}

	return nil
}

func (q *Watermill) PublishRunJob(ctx context.Context, job models.RunJob) error {
	return q.publish(ctx, TopicRunsReady, codec.KindRunJob, job.RunID, job)
}

func (q *Watermill) PublishWorkItem(ctx context.Context, item models.WorkItem) error {
	return q.publish(ctx, TopicWorkItems, codec.KindWorkItem, item.RunID, item)
}

func (q *Watermill) PublishRunNotice(ctx context.Context, notice models.RunNotice) error {
	return q.publish(ctx, TopicRunEvents, codec.KindRunNotice, notice.RunID, notice)
}

func (q *Watermill) RunJobs(ctx context.Context) (<-chan Delivery[models.RunJob], error) {
	return subscribe[models.RunJob](ctx, q.logger, q.subscriber, TopicRunsReady, codec.KindRunJob)
}

func (q *Watermill) WorkItems(ctx context.Context) (<-chan Delivery[models.WorkItem], error) {
	return subscribe[models.WorkItem](ctx, q.logger, q.subscriber, TopicWorkItems, codec.KindWorkItem)
}

func (q *Watermill) RunNotices(ctx context.Context) (<-chan Delivery[models.RunNotice], error) {
	return subscribe[models.RunNotice](ctx, q.logger, q.notices, TopicRunEvents, codec.KindRunNotice)
}

// subscribe decodes messages of one topic. A message that cannot be decoded
// is logged and acked so it does not block the partition forever.
func subscribe[T any](ctx context.Context, logger *slog.Logger, sub message.Subscriber, topic, kind string) (<-chan Delivery[T], error) {
	messages, err := sub.Subscribe(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	out := make(chan Delivery[T])

	go func() {
		defer close(out)

		for msg := range messages {
			var v T

			if err := codec.Unmarshal(msg.Payload, kind, &v); err != nil {
				logger.ErrorContext(ctx, "dropping undecodable message", "topic", topic, "message_id", msg.UUID, "error", err)
				msg.Ack()

				continue
			}

			select {
			case out <- Delivery[T]{Value: v, ID: msg.UUID, msg: msg}:
			case <-ctx.Done():
				msg.Nack()

				return
			}
		}
	}()

	return out, nil
}

func (q *Watermill) Close() error {
	closed := map[any]bool{}

	for _, c := range []interface{ Close() error }{q.publisher, q.subscriber, q.notices} {
		if closed[c] {
			continue
		}

		closed[c] = true

		if err := c.Close(); err != nil {
			return err
		}
	}

	return nil
}
