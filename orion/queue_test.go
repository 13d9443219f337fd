package orion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTaskQueue_FIFO(t *testing.T) {
	q := NewTaskQueue(DefaultQueueConfig())
	t1 := &Task{ID: "t1", Repo: "/a", CreatedAt: time.Now()}
	t2 := &Task{ID: "t2", Repo: "/b", CreatedAt: time.Now()}

	require.NoError(t, q.Enqueue(t1))
	require.NoError(t, q.Enqueue(t2))

	require.Equal(t, "t1", q.Dequeue().ID)
	require.Equal(t, "t2", q.Dequeue().ID)
	require.Nil(t, q.Dequeue())
}

func TestTaskQueue_RejectsWhenFull(t *testing.T) {
	q := NewTaskQueue(QueueConfig{MaxQueueSize: 2, MaxWaitTime: time.Minute})
	require.NoError(t, q.Enqueue(&Task{ID: "1", CreatedAt: time.Now()}))
	require.NoError(t, q.Enqueue(&Task{ID: "2", CreatedAt: time.Now()}))
	require.ErrorIs(t, q.Enqueue(&Task{ID: "3", CreatedAt: time.Now()}), ErrQueueFull)
}

func TestTaskQueue_CleanupExpired(t *testing.T) {
	q := NewTaskQueue(QueueConfig{MaxQueueSize: 10, MaxWaitTime: time.Millisecond})
	require.NoError(t, q.Enqueue(&Task{ID: "old", CreatedAt: time.Now().Add(-time.Hour)}))
	require.NoError(t, q.Enqueue(&Task{ID: "fresh", CreatedAt: time.Now().Add(time.Hour)}))

	expired := q.CleanupExpired()
	require.Len(t, expired, 1)
	require.Equal(t, "old", expired[0].ID)

	require.Equal(t, "fresh", q.Dequeue().ID)
}

func TestTaskQueue_Stats(t *testing.T) {
	q := NewTaskQueue(DefaultQueueConfig())
	stats := q.Stats()
	require.Equal(t, 0, stats.TotalQueued)
	require.False(t, stats.HasOldest)

	require.NoError(t, q.Enqueue(&Task{ID: "1", CreatedAt: time.Now()}))
	stats = q.Stats()
	require.Equal(t, 1, stats.TotalQueued)
	require.True(t, stats.HasOldest)
}
