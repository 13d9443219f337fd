package orion

import (
	"bufio"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/monogit/monogit/pkgs/logger"
)

// BuildRunner executes a dispatched task's build script, the thing a worker
// actually does besides speaking the orion wire protocol. onOutput is
// called once per line of combined stdout/stderr, letting the caller
// stream it back to the dispatcher as LogChunk messages.
type BuildRunner func(task *TaskPayload, onOutput func(line string)) error

// ShellBuildRunner runs scriptPath with the task's changed paths as
// arguments, a stand-in for whatever build tooling a real worker invokes.
// Combined stdout/stderr is tee'd to the worker's own stdout for local visibility
// and to onOutput line by line for the LogChunk stream.
func ShellBuildRunner(scriptPath string) BuildRunner {
	return func(task *TaskPayload, onOutput func(line string)) error {
		cmd := exec.Command(scriptPath, task.Changes...)
		cmd.Dir = task.Repo

		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return errors.Wrap(err, "failed to open stdout pipe")
		}
		cmd.Stderr = cmd.Stdout

		if err := cmd.Start(); err != nil {
			return errors.Wrap(err, "failed to start build command")
		}

		scanner := bufio.NewScanner(io.TeeReader(stdout, os.Stdout))
		for scanner.Scan() {
			onOutput(scanner.Text())
		}
		return cmd.Wait()
	}
}

// WorkerClient dials a dispatcher's /worker endpoint and runs tasks it is
// sent until Close or the connection drops.
type WorkerClient struct {
	conn     *websocket.Conn
	writeMu  sync.Mutex
	id       string
	hostname string
	run      BuildRunner
	log      logger.Logger
}

func (c *WorkerClient) writeJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

// DialWorker connects to the dispatcher at url (e.g. ws://host:9006/worker)
// and identifies itself with a fresh worker id.
func DialWorker(url, hostname string, run BuildRunner, log logger.Logger) (*WorkerClient, error) {
	if log == nil {
		log = logger.NewNoop()
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "orion: failed to dial dispatcher")
	}
	return &WorkerClient{
		conn:     conn,
		id:       uuid.NewString(),
		hostname: hostname,
		run:      run,
		log:      log.Module("orion-worker"),
	}, nil
}

// Run reads task envelopes until the connection closes, executing each via
// run and reporting heartbeats/Done back to the dispatcher. It blocks.
func (c *WorkerClient) Run() error {
	defer c.conn.Close()

	heartbeat := time.NewTicker(10 * time.Second)
	defer heartbeat.Stop()
	stopHeartbeat := make(chan struct{})
	go func() {
		for {
			select {
			case <-stopHeartbeat:
				return
			case <-heartbeat.C:
				_ = c.writeJSON(&Envelope{
					Type:      MsgHeartbeat,
					Heartbeat: &HeartbeatPayload{WorkerID: c.id, Hostname: c.hostname},
				})
			}
		}
	}()
	defer close(stopHeartbeat)

	for {
		var env Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			return errors.Wrap(err, "orion: worker connection closed")
		}
		if env.Type != MsgTask || env.Task == nil {
			continue
		}
		c.handleTask(env.Task)
	}
}

func (c *WorkerClient) handleTask(task *TaskPayload) {
	c.log.Info("orion: starting task", "id", task.ID, "repo", task.Repo)
	seq := 0
	onOutput := func(line string) {
		_ = c.writeJSON(&Envelope{
			Type:     MsgLogChunk,
			LogChunk: &LogChunkPayload{TaskID: task.ID, Seq: seq, Data: line + "\n"},
		})
		seq++
	}

	done := &DonePayload{TaskID: task.ID}
	if err := c.run(task, onOutput); err != nil {
		done.ExitCode = 1
		done.Error = err.Error()
		c.log.Warn("orion: task failed", "id", task.ID, "err", err)
	} else {
		c.log.Info("orion: task finished", "id", task.ID)
	}
	_ = c.writeJSON(&Envelope{Type: MsgDone, Done: done})
}

// Close terminates the websocket connection.
func (c *WorkerClient) Close() error {
	return c.conn.Close()
}
