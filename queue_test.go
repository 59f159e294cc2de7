package banyan

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueTimestampsStrictlyIncrease(t *testing.T) {
	q := &messageQueue{}
	var last int64
	for i := 0; i < 1000; i++ {
		msg := q.Add(fmt.Sprintf("message %d", i))
		require.Greater(t, msg.Timestamp, last, "timestamps must be strictly monotonic")
		last = msg.Timestamp
	}
}

func TestQueueEditPreservesTimestamp(t *testing.T) {
	q := &messageQueue{}
	msg := q.Add("original")

	require.True(t, q.Edit(msg.ID, "edited"))
	snap := q.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "edited", snap[0].Text)
	assert.Equal(t, msg.Timestamp, snap[0].Timestamp)
}

func TestQueueEditAfterDrainLosesRace(t *testing.T) {
	q := &messageQueue{}
	msg := q.Add("will be consumed")
	q.Drain(DrainAll)

	assert.False(t, q.Edit(msg.ID, "too late"))
}

func TestQueueRemoveAt(t *testing.T) {
	q := &messageQueue{}
	q.Add("a")
	q.Add("b")
	q.Add("c")

	require.True(t, q.RemoveAt(1))
	snap := q.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "a", snap[0].Text)
	assert.Equal(t, "c", snap[1].Text)

	assert.False(t, q.RemoveAt(5))
	assert.False(t, q.RemoveAt(-1))
	assert.Equal(t, 2, q.Len())
}

func TestQueueDrainModes(t *testing.T) {
	q := &messageQueue{}
	q.Add("one")
	q.Add("two")
	q.Add("three")

	drained := q.Drain(DrainOneAtATime)
	require.Len(t, drained, 1)
	assert.Equal(t, "one", drained[0].Text)
	assert.Equal(t, 2, q.Len())

	drained = q.Drain(DrainAll)
	require.Len(t, drained, 2)
	assert.Equal(t, "two", drained[0].Text)
	assert.Equal(t, "three", drained[1].Text)
	assert.Equal(t, 0, q.Len())

	assert.Nil(t, q.Drain(DrainAll))
}
