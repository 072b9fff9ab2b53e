// Package receiver consumes integration events published on a topic by
// external systems and fires the matching integration-event triggers.
package receiver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-playground/validator/v10"

	"github.com/dukex/aide/pkg/engine"
)

const (
	DefaultTopic = "aide.integration.events"

	// Metadata keys read when the body does not name the event.
	SourceMetadata    = "source"
	EventTypeMetadata = "event_type"
)

// Firer fires the integration-event triggers of source and eventType.
type Firer interface {
	FireEvent(ctx context.Context, source, eventType string, payload any) ([]string, error)
}

// Event is the message body. Source and type may come from metadata instead,
// in which case the whole body is the payload.
type Event struct {
	Source  string `json:"source"     validate:"required"`
	Type    string `json:"event_type" validate:"required"`
	Payload any    `json:"payload"`
}

type Receiver struct {
	subscriber message.Subscriber
	topic      string
	firer      Firer
	validate   *validator.Validate
	logger     *slog.Logger
}

func New(subscriber message.Subscriber, topic string, firer Firer, logger *slog.Logger) *Receiver {
	if topic == "" {
		topic = DefaultTopic
	}

	return &Receiver{
		subscriber: subscriber,
		topic:      topic,
		firer:      firer,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		logger:     logger.With("module", "receiver", "topic", topic),
	}
}

// Start consumes the topic until ctx is done.
func (r *Receiver) Start(ctx context.Context) error {
	messages, err := r.subscriber.Subscribe(ctx, r.topic)
	if err != nil {
		return err
	}

	r.logger.InfoContext(ctx, "receiver started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}

			if err := r.Handle(ctx, msg); err != nil {
				msg.Nack()

				continue
			}

			msg.Ack()
		}
	}
}

// Handle fires the triggers of one message. It only returns an error when
// the message should be redelivered.
func (r *Receiver) Handle(ctx context.Context, msg *message.Message) error {
	event, err := decode(msg)
	if err == nil {
		err = r.validate.Struct(event)
	}

	if err != nil {
		r.logger.WarnContext(ctx, "dropping malformed integration event", "message_id", msg.UUID, "error", err)

		return nil
	}

	logger := r.logger.With("source", event.Source, "event_type", event.Type, "message_id", msg.UUID)

	runIDs, err := r.firer.FireEvent(ctx, event.Source, event.Type, event.Payload)

	switch {
	case errors.Is(err, engine.ErrTriggerNotFound), errors.Is(err, engine.ErrTriggerDisabled):
		logger.DebugContext(ctx, "no enabled trigger for integration event")

		return nil
	case err != nil:
		logger.ErrorContext(ctx, "failed to fire integration event", "error", err)

		return err
	}

	logger.InfoContext(ctx, "integration event fired", "runs", len(runIDs))

	return nil
}

func decode(msg *message.Message) (Event, error) {
	source := msg.Metadata.Get(SourceMetadata)
	eventType := msg.Metadata.Get(EventTypeMetadata)

	if source != "" && eventType != "" {
		var payload any
		if len(msg.Payload) > 0 {
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				return Event{}, err
			}
		}

		return Event{Source: source, Type: eventType, Payload: payload}, nil
	}

	var event Event
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return Event{}, err
	}

	return event, nil
}
