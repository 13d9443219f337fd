package orion

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/monogit/monogit/config"
	"github.com/monogit/monogit/storage"
)

func newTestBuildStore(t *testing.T) *BuildStore {
	db := storage.NewBadger()
	require.NoError(t, db.Init(""))
	t.Cleanup(func() { _ = db.Close() })
	return NewBuildStore(db)
}

func newTestDispatcher() *Dispatcher {
	return NewDispatcher(config.OrionConfig{
		MaxQueueSize:      10,
		MaxWaitSeconds:    300,
		CleanupIntervalMS: 30000,
		HeartbeatTimeoutS: 30,
		MaxRetries:        3,
	}, nil, nil, nil)
}

func newTestDispatcherWithBuilds(t *testing.T) (*Dispatcher, *BuildStore) {
	builds := newTestBuildStore(t)
	d := NewDispatcher(config.OrionConfig{
		MaxQueueSize:      10,
		MaxWaitSeconds:    300,
		CleanupIntervalMS: 30000,
		HeartbeatTimeoutS: 30,
		MaxRetries:        3,
	}, builds, nil, nil)
	return d, builds
}

func TestDispatcher_EnqueueAndDispatchToIdleWorker(t *testing.T) {
	d := newTestDispatcher()
	server := NewServer(d, nil)
	httpServer := httptest.NewServer(server)
	defer httpServer.Close()

	url := "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/worker"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	require.Eventually(t, func() bool {
		return len(d.Workers.Idle()) == 1
	}, time.Second, 10*time.Millisecond)

	task, err := d.Enqueue("/myrepo", "cl-1", []string{"src/main.go"})
	require.NoError(t, err)

	d.DispatchPending()

	var env Envelope
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(time.Second)))
	require.NoError(t, ws.ReadJSON(&env))
	require.Equal(t, MsgTask, env.Type)
	require.Equal(t, task.ID, env.Task.ID)
	require.Equal(t, "/myrepo", env.Task.Repo)
}

func TestDispatcher_DoneMessageFreesWorker(t *testing.T) {
	d := newTestDispatcher()
	server := NewServer(d, nil)
	httpServer := httptest.NewServer(server)
	defer httpServer.Close()

	url := "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/worker"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	require.Eventually(t, func() bool {
		return len(d.Workers.Idle()) == 1
	}, time.Second, 10*time.Millisecond)

	_, err = d.Enqueue("/myrepo", "cl-1", nil)
	require.NoError(t, err)
	d.DispatchPending()

	var env Envelope
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(time.Second)))
	require.NoError(t, ws.ReadJSON(&env))
	require.NoError(t, ws.WriteJSON(&Envelope{Type: MsgDone, Done: &DonePayload{TaskID: env.Task.ID, ExitCode: 0}}))

	require.Eventually(t, func() bool {
		return len(d.Workers.Idle()) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestWorkerRegistry_SweepLostRequeuesBusyTask(t *testing.T) {
	r := NewWorkerRegistry()
	r.Register(&WorkerInfo{ID: "w1", State: WorkerBusy, BusyTaskID: "t1", LastHeartbeat: time.Now().Add(-time.Hour)})
	r.Register(&WorkerInfo{ID: "w2", State: WorkerIdle, LastHeartbeat: time.Now()})

	lost := r.SweepLost(time.Minute)
	require.Equal(t, []string{"t1"}, lost)
	require.Equal(t, WorkerLost, r.Get("w1").State)
	require.Equal(t, WorkerIdle, r.Get("w2").State)
}

func TestDispatcher_SendFailureRollsBackWithoutRequeuing(t *testing.T) {
	d, builds := newTestDispatcherWithBuilds(t)

	task, err := d.Enqueue("/myrepo", "cl-1", nil)
	require.NoError(t, err)
	require.Equal(t, task.ID, d.Queue.Dequeue().ID)

	row, err := builds.Get(task.ID)
	require.NoError(t, err)
	require.Equal(t, BuildPending, row.Status)

	// send() against a worker id with no registered connection must roll
	// the build row back to Pending and must NOT put the task back on the
	// queue, so a permanently failing worker cannot spin it forever.
	d.send("no-such-worker", task)

	row, err = builds.Get(task.ID)
	require.NoError(t, err)
	require.Equal(t, BuildPending, row.Status)
	require.Nil(t, d.Queue.Dequeue())
}

func TestDispatcher_BuildRowTracksDispatchAndCompletion(t *testing.T) {
	d, builds := newTestDispatcherWithBuilds(t)
	server := NewServer(d, nil)
	httpServer := httptest.NewServer(server)
	defer httpServer.Close()

	url := "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/worker"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	require.Eventually(t, func() bool {
		return len(d.Workers.Idle()) == 1
	}, time.Second, 10*time.Millisecond)

	task, err := d.Enqueue("/myrepo", "cl-1", nil)
	require.NoError(t, err)
	d.DispatchPending()

	var env Envelope
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(time.Second)))
	require.NoError(t, ws.ReadJSON(&env))

	row, err := builds.Get(task.ID)
	require.NoError(t, err)
	require.Equal(t, BuildDispatched, row.Status)
	require.Nil(t, row.ExitCode)

	require.NoError(t, ws.WriteJSON(&Envelope{Type: MsgDone, Done: &DonePayload{TaskID: task.ID, ExitCode: 0}}))

	require.Eventually(t, func() bool {
		row, err := builds.Get(task.ID)
		return err == nil && row.Status == BuildFinished
	}, time.Second, 10*time.Millisecond)

	row, err = builds.Get(task.ID)
	require.NoError(t, err)
	require.NotNil(t, row.ExitCode)
	require.Equal(t, 0, *row.ExitCode)
}

func TestQueueConfig_DefaultsMatchScheduler(t *testing.T) {
	cfg := DefaultQueueConfig()
	require.Equal(t, 1000, cfg.MaxQueueSize)
	require.Equal(t, 300*time.Second, cfg.MaxWaitTime)
	require.Equal(t, 30*time.Second, cfg.CleanupInterval)
}
