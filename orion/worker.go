package orion

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WorkerState is scheduler.rs's WorkerStatus taxonomy, flattened to an enum
// since Go has no first-class variant payload: the busy task id lives
// alongside it on WorkerInfo instead.
type WorkerState string

const (
	WorkerIdle  WorkerState = "idle"
	WorkerBusy  WorkerState = "busy"
	WorkerError WorkerState = "error"
	WorkerLost  WorkerState = "lost"
)

// WorkerInfo is a connected worker's live state.
type WorkerInfo struct {
	ID            string
	Conn          *websocket.Conn
	Hostname      string
	State         WorkerState
	BusyTaskID    string
	LastHeartbeat time.Time
	StartedAt     time.Time
	SendMu        sync.Mutex
}

// Send writes msg to the worker's connection, serialized against
// concurrent writers the way a single tokio mpsc sender serializes
// scheduler.rs's WorkerInfo.sender.
func (w *WorkerInfo) Send(msg interface{}) error {
	w.SendMu.Lock()
	defer w.SendMu.Unlock()
	return w.Conn.WriteJSON(msg)
}

// WorkerRegistry is a concurrent-map-keyed-by-worker-id registry, the Go
// counterpart of scheduler.rs's DashMap<String, WorkerInfo>.
type WorkerRegistry struct {
	workers sync.Map // string -> *WorkerInfo
}

// NewWorkerRegistry creates an empty registry.
func NewWorkerRegistry() *WorkerRegistry {
	return &WorkerRegistry{}
}

// Register adds or replaces a worker's entry.
func (r *WorkerRegistry) Register(w *WorkerInfo) {
	r.workers.Store(w.ID, w)
}

// Unregister removes a worker's entry, called on disconnect.
func (r *WorkerRegistry) Unregister(id string) {
	r.workers.Delete(id)
}

// Get returns a worker's entry, or nil if unknown.
func (r *WorkerRegistry) Get(id string) *WorkerInfo {
	v, ok := r.workers.Load(id)
	if !ok {
		return nil
	}
	return v.(*WorkerInfo)
}

// Idle returns the IDs of every worker currently in WorkerIdle state.
func (r *WorkerRegistry) Idle() []string {
	var ids []string
	r.workers.Range(func(k, v interface{}) bool {
		if v.(*WorkerInfo).State == WorkerIdle {
			ids = append(ids, k.(string))
		}
		return true
	})
	return ids
}

// SweepLost marks every worker whose last heartbeat is older than timeout
// as Lost, returning the task ids that were in flight on them so the
// caller can requeue.
func (r *WorkerRegistry) SweepLost(timeout time.Duration) []string {
	var lostTasks []string
	now := time.Now()
	r.workers.Range(func(_, v interface{}) bool {
		w := v.(*WorkerInfo)
		if w.State == WorkerLost {
			return true
		}
		if now.Sub(w.LastHeartbeat) > timeout {
			if w.State == WorkerBusy && w.BusyTaskID != "" {
				lostTasks = append(lostTasks, w.BusyTaskID)
			}
			w.State = WorkerLost
		}
		return true
	})
	return lostTasks
}
