//go:build integration
// +build integration

package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/kafka"

	kafkachannel "github.com/dukex/aide/pkg/channels/kafka"
	"github.com/dukex/aide/pkg/log"
	"github.com/dukex/aide/pkg/models"
	"github.com/dukex/aide/pkg/queue"
)

func newKafkaQueue(t *testing.T, brokers []string, group string) *queue.Watermill {
	t.Helper()

	logger := watermill.NewSlogLogger(log.Discard())

	pub, err := kafkachannel.CreatePublisher(logger, brokers)
	require.NoError(t, err)

	sub, err := kafkachannel.CreateSubscriber(logger, brokers, group)
	require.NoError(t, err)

	notices, err := kafkachannel.CreateSubscriber(logger, brokers, group+"-"+watermill.NewShortUUID())
	require.NoError(t, err)

	q := queue.NewWatermill(pub, sub, notices, log.Discard())
	t.Cleanup(func() { _ = q.Close() })

	return q
}

func TestKafka_RunJobsAndNotices(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := kafka.Run(ctx, "confluentinc/confluent-local:7.5.0", kafka.WithClusterID("test-cluster"))
	require.NoError(t, err)

	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)

	q := newKafkaQueue(t, brokers, "aide-orchestrator")

	require.NoError(t, q.PublishRunJob(ctx, models.RunJob{RunID: "run-1", Reason: "fired"}))
	require.NoError(t, q.PublishRunNotice(ctx, models.RunNotice{RunID: "run-1", Sequence: 3}))

	jobs, err := q.RunJobs(ctx)
	require.NoError(t, err)

	job := receiveWithin(t, jobs, time.Minute)
	job.Ack()
	assert.Equal(t, "run-1", job.Value.RunID)

	notices, err := q.RunNotices(ctx)
	require.NoError(t, err)

	notice := receiveWithin(t, notices, time.Minute)
	notice.Ack()
	assert.Equal(t, int64(3), notice.Value.Sequence)
}

func receiveWithin[T any](t *testing.T, ch <-chan queue.Delivery[T], wait time.Duration) queue.Delivery[T] {
	t.Helper()

	select {
	case d, ok := <-ch:
		require.True(t, ok, "channel closed")

		return d
	case <-time.After(wait):
		t.Fatal("timed out waiting for message")
	}

	return queue.Delivery[T]{}
}
