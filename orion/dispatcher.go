package orion

import (
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/monogit/monogit/config"
	"github.com/monogit/monogit/pkgs/logger"
)

// Dispatcher owns the pending queue and worker registry and pairs them,
// the Go counterpart of scheduler.rs's TaskScheduler. Active builds are
// tracked separately (task id -> worker id); SweepLost itself finds the
// task to requeue through the silent worker's BusyTaskID.
type Dispatcher struct {
	Queue   *TaskQueue
	Workers *WorkerRegistry
	Builds  *BuildStore
	Logs    *LogSink
	notify  chan struct{}
	active  map[string]string // task id -> worker id
	cfg     config.OrionConfig
	log     logger.Logger
	stopCh  chan struct{}
}

// NewDispatcher builds a Dispatcher from process config. builds persists
// build rows and logs sinks per-build output to disk; either may be nil in
// tests that don't exercise that part of the pipeline.
func NewDispatcher(cfg config.OrionConfig, builds *BuildStore, logs *LogSink, log logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.NewNoop()
	}
	return &Dispatcher{
		Queue: NewTaskQueue(QueueConfig{
			MaxQueueSize:    cfg.MaxQueueSize,
			MaxWaitTime:     time.Duration(cfg.MaxWaitSeconds) * time.Second,
			CleanupInterval: time.Duration(cfg.CleanupIntervalMS) * time.Millisecond,
		}),
		Workers: NewWorkerRegistry(),
		Builds:  builds,
		Logs:    logs,
		notify:  make(chan struct{}, 1),
		active:  map[string]string{},
		cfg:     cfg,
		log:     log.Module("orion"),
		stopCh:  make(chan struct{}),
	}
}

// Enqueue adds a new build task to the pending queue, creates its Pending
// build row, and wakes the dispatch loop.
func (d *Dispatcher) Enqueue(repo, clLink string, changes []string) (*Task, error) {
	task := &Task{
		ID:        uuid.NewString(),
		Repo:      repo,
		CLLink:    clLink,
		Changes:   changes,
		CreatedAt: time.Now(),
	}
	if err := d.Queue.Enqueue(task); err != nil {
		return nil, err
	}
	if d.Builds != nil {
		if _, err := d.Builds.Create(task); err != nil {
			d.log.Warn("orion: failed to create build row", "task", task.ID, "err", err)
		}
	}
	d.notifyOne()
	return task, nil
}

func (d *Dispatcher) notifyOne() {
	select {
	case d.notify <- struct{}{}:
	default:
	}
}

// DispatchPending pairs every idle worker with a pending task, up to
// however many idle workers are currently available, mirroring
// process_pending_tasks's batch-dequeue-then-send loop.
func (d *Dispatcher) DispatchPending() {
	idle := d.Workers.Idle()
	for _, workerID := range idle {
		task := d.Queue.Dequeue()
		if task == nil {
			return
		}
		d.send(workerID, task)
	}
}

// dispatchToRandomIdle picks a uniformly random idle worker for task,
// mirroring dispatch_task's rand::rng().random_range selection, used when
// a task is re-dispatched outside the normal one-task-per-idle-worker loop
// (e.g. a single retried task with several idle workers available).
func (d *Dispatcher) dispatchToRandomIdle(task *Task) bool {
	idle := d.Workers.Idle()
	if len(idle) == 0 {
		return false
	}
	workerID := idle[rand.Intn(len(idle))]
	d.send(workerID, task)
	return true
}

// send dispatches task to workerID. On any failure to hand it off, the
// build row is rolled back to Pending and the task is NOT put back on the
// queue (an operator decision per spec §4.6): re-enqueuing here would mean
// a worker connection that keeps failing to accept work retries forever
// rather than surfacing as a stuck Pending build row.
func (d *Dispatcher) send(workerID string, task *Task) {
	worker := d.Workers.Get(workerID)
	if worker == nil {
		d.rollbackToPending(task)
		return
	}
	msg := &Envelope{Type: MsgTask, Task: &TaskPayload{
		ID: task.ID, Repo: task.Repo, CLLink: task.CLLink, Changes: task.Changes,
	}}
	if err := worker.Send(msg); err != nil {
		d.log.Warn("orion: failed to dispatch task to worker", "worker", workerID, "task", task.ID, "err", err)
		d.rollbackToPending(task)
		return
	}
	worker.State = WorkerBusy
	worker.BusyTaskID = task.ID
	d.active[task.ID] = workerID
	if d.Builds != nil {
		if err := d.Builds.MarkDispatched(task.ID, workerID); err != nil {
			d.log.Warn("orion: failed to persist dispatched build row", "task", task.ID, "err", err)
		}
	}
	d.log.Info("orion: dispatched task", "task", task.ID, "worker", workerID)
}

func (d *Dispatcher) rollbackToPending(task *Task) {
	if d.Builds == nil {
		return
	}
	if err := d.Builds.RollbackToPending(task.ID); err != nil {
		d.log.Warn("orion: failed to roll back build row to pending", "task", task.ID, "err", err)
	}
}

// CompleteTask clears a task's active-build binding, called on a Done
// message or a cancel.
func (d *Dispatcher) CompleteTask(taskID string) {
	delete(d.active, taskID)
}

// RequeueLostWork sweeps workers whose heartbeat has gone stale, requeuing
// any task they had in flight with RetryCount incremented, up to
// cfg.MaxRetries; beyond that the task is dropped and logged.
func (d *Dispatcher) RequeueLostWork(tasksByID map[string]*Task) {
	lost := d.Workers.SweepLost(time.Duration(d.cfg.HeartbeatTimeoutS) * time.Second)
	for _, taskID := range lost {
		d.CompleteTask(taskID)
		task := tasksByID[taskID]
		if task == nil {
			continue
		}
		task.RetryCount++
		if task.RetryCount > d.cfg.MaxRetries {
			d.log.Warn("orion: task exceeded max retries, dropping", "task", taskID, "retries", task.RetryCount)
			if d.Builds != nil {
				if err := d.Builds.Expire(taskID); err != nil {
					d.log.Warn("orion: failed to mark dropped build row expired", "task", taskID, "err", err)
				}
			}
			continue
		}
		task.CreatedAt = time.Now()
		if d.Builds != nil {
			if err := d.Builds.MarkRequeued(taskID, task.RetryCount); err != nil {
				d.log.Warn("orion: failed to persist requeued build row", "task", taskID, "err", err)
			}
		}
		if d.dispatchToRandomIdle(task) {
			continue
		}
		if err := d.Queue.Enqueue(task); err != nil {
			d.log.Warn("orion: failed to requeue lost task", "task", taskID, "err", err)
		}
	}
}

// Run starts the event-driven dispatch loop and the periodic expired-task
// sweep, blocking until Stop is called. Mirrors scheduler.rs's
// start_queue_manager tokio::select! between a notify channel and a
// periodic ticker.
func (d *Dispatcher) Run() {
	cleanupInterval := d.Queue.config.CleanupInterval
	if cleanupInterval <= 0 {
		cleanupInterval = 30 * time.Second
	}
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	fallback := time.NewTicker(5 * time.Second)
	defer fallback.Stop()

	for {
		select {
		case <-d.stopCh:
			return
		case <-d.notify:
			d.DispatchPending()
		case <-fallback.C:
			d.DispatchPending()
		case <-ticker.C:
			expired := d.Queue.CleanupExpired()
			if len(expired) > 0 {
				d.log.Warn("orion: dropped expired tasks from queue", "count", len(expired))
			}
			if d.Builds != nil {
				for _, task := range expired {
					if err := d.Builds.Expire(task.ID); err != nil {
						d.log.Warn("orion: failed to mark expired build row", "task", task.ID, "err", err)
					}
				}
			}
		}
	}
}

// Stop ends the dispatch loop started by Run.
func (d *Dispatcher) Stop() {
	close(d.stopCh)
}
