package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/haricheung/thor-planner/internal/types"
)

func TestPublish_DeliversToSubscriberAndTap(t *testing.T) {
	b := New(zaptest.NewLogger(t))
	stages := b.Subscribe(types.MsgStageChanged)
	outcomes := b.Subscribe(types.MsgOutcome)

	b.Publish(types.Message{TaskID: "t1", Type: types.MsgStageChanged, Stage: types.StageValidating})

	msg := <-stages
	assert.Equal(t, types.StageValidating, msg.Stage)
	assert.NotEmpty(t, msg.ID)
	assert.False(t, msg.Timestamp.IsZero())

	tapped := <-b.Tap()
	assert.Equal(t, msg.ID, tapped.ID)

	// Other types are not delivered
	select {
	case m := <-outcomes:
		t.Fatalf("unexpected outcome message %+v", m)
	default:
	}
}

func TestPublish_FullSubscriberDoesNotBlock(t *testing.T) {
	// A slow subscriber drops messages instead of stalling the publisher
	b := New(nil)
	_ = b.Subscribe(types.MsgPlannerAttempt)
	for i := 0; i < subscriberBufSize+10; i++ {
		b.Publish(types.Message{Type: types.MsgPlannerAttempt})
	}
}

func TestClose_ClosesChannelsAndIgnoresLatePublish(t *testing.T) {
	b := New(nil)
	ch := b.Subscribe(types.MsgOutcome)
	b.Publish(types.Message{Type: types.MsgOutcome, TaskID: "t1"})
	b.Close()
	b.Close()
	b.Publish(types.Message{Type: types.MsgOutcome, TaskID: "late"})

	// Buffered message survives Close
	msg, ok := <-ch
	require.True(t, ok)
	assert.Equal(t, "t1", msg.TaskID)
	_, ok = <-ch
	assert.False(t, ok)

	var tapped []types.Message
	for m := range b.Tap() {
		tapped = append(tapped, m)
	}
	require.Len(t, tapped, 1)

	_, ok = <-b.Subscribe(types.MsgOutcome)
	assert.False(t, ok)
}

func TestSubscribeAll_KeepsPublishOrderAcrossTypes(t *testing.T) {
	b := New(zaptest.NewLogger(t))
	all := b.SubscribeAll()

	b.Publish(types.Message{TaskID: "t1", Type: types.MsgStageChanged, Stage: types.StagePlanning})
	b.Publish(types.Message{TaskID: "t1", Type: types.MsgPlannerAttempt, Stage: types.StagePlanning})
	b.Publish(types.Message{TaskID: "t1", Type: types.MsgOutcome, Stage: types.StageCompleted})
	b.Close()

	var got []types.MessageType
	for msg := range all {
		got = append(got, msg.Type)
	}
	assert.Equal(t, []types.MessageType{types.MsgStageChanged, types.MsgPlannerAttempt, types.MsgOutcome}, got)

	_, ok := <-b.SubscribeAll()
	assert.False(t, ok, "subscribing after close yields a closed channel")
}
