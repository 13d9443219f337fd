// Package orion implements the L4b build dispatcher of spec §5: a bounded
// FIFO queue of pending build tasks, a registry of connected workers, and a
// dispatcher that pairs the two over a gorilla/websocket transport. Grounded
// on orion-server/src/scheduler.rs's TaskScheduler, translated from Rust's
// tokio::sync primitives to Go's sync.Mutex/sync.Map the way the teacher's
// own concurrent state (remote/server's peer/session maps) is built.
package orion

import (
	"container/list"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// QueueConfig bounds the pending task queue. Field names mirror
// scheduler.rs's TaskQueueConfig.
type QueueConfig struct {
	MaxQueueSize    int
	MaxWaitTime     time.Duration
	CleanupInterval time.Duration
}

// DefaultQueueConfig matches scheduler.rs's Default impl.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		MaxQueueSize:    1000,
		MaxWaitTime:     300 * time.Second,
		CleanupInterval: 30 * time.Second,
	}
}

// Task is a build request waiting for an idle worker.
type Task struct {
	ID        string
	CLLink    string
	Repo      string
	Changes   []string
	RetryCount int
	CreatedAt time.Time
}

// QueueStats mirrors scheduler.rs's TaskQueueStats.
type QueueStats struct {
	TotalQueued       int
	OldestTaskAgeSecs int64
	HasOldest         bool
}

// ErrQueueFull is returned by Enqueue when the queue is at MaxQueueSize.
var ErrQueueFull = errors.New("orion: queue is full")

// TaskQueue is a bounded, mutex-guarded FIFO, backed by container/list the
// way scheduler.rs backs its queue on VecDeque.
type TaskQueue struct {
	mu     sync.Mutex
	items  *list.List
	config QueueConfig
}

// NewTaskQueue creates an empty queue with the given config.
func NewTaskQueue(config QueueConfig) *TaskQueue {
	return &TaskQueue{items: list.New(), config: config}
}

// Enqueue appends task to the back of the queue, rejecting it if the queue
// is already at MaxQueueSize.
func (q *TaskQueue) Enqueue(task *Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.items.Len() >= q.config.MaxQueueSize {
		return ErrQueueFull
	}
	q.items.PushBack(task)
	return nil
}

// Dequeue pops the task at the front of the queue, or nil if empty.
func (q *TaskQueue) Dequeue() *Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	front := q.items.Front()
	if front == nil {
		return nil
	}
	q.items.Remove(front)
	return front.Value.(*Task)
}

// CleanupExpired removes and returns every task older than MaxWaitTime.
func (q *TaskQueue) CleanupExpired() []*Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	var expired []*Task
	now := time.Now()
	var next *list.Element
	for e := q.items.Front(); e != nil; e = next {
		next = e.Next()
		task := e.Value.(*Task)
		if now.Sub(task.CreatedAt) > q.config.MaxWaitTime {
			expired = append(expired, task)
			q.items.Remove(e)
		}
	}
	return expired
}

// Stats reports queue depth and the age of the oldest pending task.
func (q *TaskQueue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	stats := QueueStats{TotalQueued: q.items.Len()}
	if front := q.items.Front(); front != nil {
		task := front.Value.(*Task)
		stats.HasOldest = true
		stats.OldestTaskAgeSecs = int64(time.Since(task.CreatedAt).Seconds())
	}
	return stats
}
