package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/aide/pkg/channels/gochannel"
	"github.com/dukex/aide/pkg/log"
	"github.com/dukex/aide/pkg/models"
	"github.com/dukex/aide/pkg/queue"
)

func newQueue(t *testing.T) (*queue.Watermill, message.Publisher) {
	t.Helper()

	pubSub := gochannel.CreateTestChannel(watermill.NopLogger{})
	q := queue.NewWatermill(pubSub, pubSub, nil, log.Discard())

	t.Cleanup(func() { _ = q.Close() })

	return q, pubSub
}

func receive[T any](t *testing.T, ch <-chan queue.Delivery[T]) queue.Delivery[T] {
	t.Helper()

	select {
	case d, ok := <-ch:
		require.True(t, ok, "channel closed")

		return d
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}

	return queue.Delivery[T]{}
}

func TestWatermill_WorkItemRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q, _ := newQueue(t)

	items, err := q.WorkItems(ctx)
	require.NoError(t, err)

	index := 2
	item := models.WorkItem{
		RunID: "run-1", DefinitionID: "wf", DefinitionVersion: 3, NodeID: "D", Instance: models.Instance{2},
		Inputs: map[string]models.InputRef{"input": {Key: "run-1/F", Index: &index}},
	}
	require.NoError(t, q.PublishWorkItem(ctx, item))

	d := receive(t, items)
	d.Ack()

	assert.Equal(t, models.ExecKey("D#2"), d.Value.Key())
	require.NotNil(t, d.Value.Inputs["input"].Index)
	assert.Equal(t, 2, *d.Value.Inputs["input"].Index)
}

func TestWatermill_NackRedelivers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q, _ := newQueue(t)

	jobs, err := q.RunJobs(ctx)
	require.NoError(t, err)

	require.NoError(t, q.PublishRunJob(ctx, models.RunJob{RunID: "run-1", Reason: "fired"}))

	first := receive(t, jobs)
	first.Nack()

	second := receive(t, jobs)
	second.Ack()

	assert.Equal(t, "run-1", second.Value.RunID)
	assert.Equal(t, first.ID, second.ID)
}

func TestWatermill_UndecodableMessagesAreDropped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q, pub := newQueue(t)

	notices, err := q.RunNotices(ctx)
	require.NoError(t, err)

	require.NoError(t, pub.Publish(queue.TopicRunEvents, message.NewMessage(watermill.NewUUID(), []byte("not json"))))
	require.NoError(t, q.PublishRunNotice(ctx, models.RunNotice{RunID: "run-1", Sequence: 7}))

	d := receive(t, notices)
	d.Ack()

	assert.Equal(t, int64(7), d.Value.Sequence)
}
