package orion

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/monogit/monogit/pkgs/logger"
)

// upgrader accepts worker connections from any origin: workers are build
// machines on a private network, not browsers, so the usual same-origin
// CSRF concern doesn't apply.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server exposes the Dispatcher over HTTP: a websocket endpoint workers
// connect to, and a small JSON API for enqueuing builds and inspecting
// queue depth, routed the way the teacher's remote/server wires gorilla/mux.
type Server struct {
	dispatcher *Dispatcher
	tasks      map[string]*Task
	router     *mux.Router
	log        logger.Logger
}

// NewServer wires dispatcher's endpoints onto a fresh gorilla/mux router.
func NewServer(dispatcher *Dispatcher, log logger.Logger) *Server {
	if log == nil {
		log = logger.NewNoop()
	}
	s := &Server{dispatcher: dispatcher, tasks: map[string]*Task{}, log: log.Module("orion-server")}
	r := mux.NewRouter()
	r.HandleFunc("/worker", s.handleWorker).Methods(http.MethodGet)
	r.HandleFunc("/tasks", s.handleEnqueue).Methods(http.MethodPost)
	r.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	s.router = r
	return s
}

// ServeHTTP makes Server an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleWorker(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("orion: websocket upgrade failed", "err", err)
		return
	}
	worker := &WorkerInfo{
		ID:            uuid.NewString(),
		Conn:          conn,
		State:         WorkerIdle,
		LastHeartbeat: time.Now(),
		StartedAt:     time.Now(),
	}
	s.dispatcher.Workers.Register(worker)
	s.log.Info("orion: worker connected", "worker", worker.ID)
	defer func() {
		s.dispatcher.Workers.Unregister(worker.ID)
		_ = conn.Close()
	}()

	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			s.log.Info("orion: worker disconnected", "worker", worker.ID, "err", err)
			return
		}
		s.handleWorkerMessage(worker, &env)
	}
}

func (s *Server) handleWorkerMessage(worker *WorkerInfo, env *Envelope) {
	switch env.Type {
	case MsgHeartbeat:
		worker.LastHeartbeat = time.Now()
		if env.Heartbeat != nil {
			worker.Hostname = env.Heartbeat.Hostname
		}
	case MsgDone:
		if env.Done == nil {
			return
		}
		if s.dispatcher.Builds != nil {
			if err := s.dispatcher.Builds.Finish(env.Done.TaskID, env.Done.ExitCode, env.Done.Error != ""); err != nil {
				s.log.Warn("orion: failed to close build row", "task", env.Done.TaskID, "err", err)
			}
		}
		if s.dispatcher.Logs != nil {
			if err := s.dispatcher.Logs.Close(env.Done.TaskID); err != nil {
				s.log.Warn("orion: failed to close build log", "task", env.Done.TaskID, "err", err)
			}
		}
		s.dispatcher.CompleteTask(env.Done.TaskID)
		worker.State = WorkerIdle
		worker.BusyTaskID = ""
		delete(s.tasks, env.Done.TaskID)
		s.dispatcher.notifyOne()
	case MsgLogChunk:
		if env.LogChunk == nil || s.dispatcher.Logs == nil {
			return
		}
		task := s.tasks[env.LogChunk.TaskID]
		repo := ""
		if task != nil {
			repo = task.Repo
		}
		if err := s.dispatcher.Logs.Append(env.LogChunk.TaskID, repo, env.LogChunk.TaskID, env.LogChunk.Seq, []byte(env.LogChunk.Data)); err != nil {
			s.log.Warn("orion: failed to append build log chunk", "task", env.LogChunk.TaskID, "err", err)
		}
	}
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Repo    string   `json:"repo"`
		CLLink  string   `json:"clLink"`
		Changes []string `json:"changes"`
	}
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	task, err := s.dispatcher.Enqueue(req.Repo, req.CLLink, req.Changes)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	s.tasks[task.ID] = task
	writeJSON(w, http.StatusAccepted, map[string]string{"id": task.ID})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.dispatcher.Queue.Stats())
}
