package scorpio

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/monogit/monogit/config"
	"github.com/monogit/monogit/objectstore"
	"github.com/monogit/monogit/pkgs/logger"
	"github.com/monogit/monogit/refstore"
	"github.com/monogit/monogit/storage"
)

// TaskStatus reports the progress of an asynchronous mount request.
type TaskStatus string

const (
	TaskPending TaskStatus = "pending"
	TaskRunning TaskStatus = "running"
	TaskDone    TaskStatus = "done"
	TaskError   TaskStatus = "error"
)

// MountInfo describes one live mount, returned by select and mpoint.
type MountInfo struct {
	ID         string `json:"id"`
	Path       string `json:"path"`
	RefName    string `json:"refName"`
	Mountpoint string `json:"mountpoint"`
}

// mountTask tracks one POST /api/fs/mount request as it transitions from
// pending to done/error, mirroring spec §6's async fs-mount API.
type mountTask struct {
	Status TaskStatus `json:"task_status"`
	Mount  *MountInfo `json:"mount,omitempty"`
	Error  string     `json:"error,omitempty"`
}

type activeMount struct {
	info   MountInfo
	root   *Root
	server *fuse.Server
}

// Daemon serves the FUSE mount-lifecycle HTTP API of spec §6: mount,
// select, mpoint, unmount and config, over a small gorilla/mux router,
// tracking mounts by monorepo path so unmount can look one up without the
// caller needing to keep the mount id around.
type Daemon struct {
	db      storage.Engine
	objects *objectstore.Store
	refs    *refstore.Store
	cfg     *config.AppConfig
	log     logger.Logger

	mu           sync.Mutex
	mountsByPath map[string]*activeMount
	tasks        map[string]*mountTask

	router *mux.Router
}

// NewDaemon builds the mount daemon. Each mount's host directory is created
// under cfg.DataDir()/scorpio-mounts, named by its request id.
func NewDaemon(db storage.Engine, objects *objectstore.Store, refs *refstore.Store, cfg *config.AppConfig, log logger.Logger) *Daemon {
	if log == nil {
		log = logger.NewNoop()
	}
	d := &Daemon{
		db:           db,
		objects:      objects,
		refs:         refs,
		cfg:          cfg,
		log:          log.Module("scorpio-daemon"),
		mountsByPath: map[string]*activeMount{},
		tasks:        map[string]*mountTask{},
	}
	r := mux.NewRouter()
	r.HandleFunc("/api/fs/mount", d.handleMount).Methods(http.MethodPost)
	r.HandleFunc("/api/fs/select/{id}", d.handleSelect).Methods(http.MethodGet)
	r.HandleFunc("/api/fs/mpoint", d.handleMpoint).Methods(http.MethodGet)
	r.HandleFunc("/api/fs/unmount", d.handleUnmount).Methods(http.MethodPost)
	r.HandleFunc("/api/config", d.handleConfig).Methods(http.MethodGet, http.MethodPost)
	d.router = r
	return d
}

// ServeHTTP makes Daemon an http.Handler.
func (d *Daemon) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.router.ServeHTTP(w, r)
}

func (d *Daemon) handleMount(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Path string `json:"path"`
		CL   string `json:"cl"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Path == "" {
		http.Error(w, "invalid mount request body", http.StatusBadRequest)
		return
	}

	refName := "refs/heads/main"
	if body.CL != "" {
		refName = "refs/cl/" + body.CL
	}

	requestID := uuid.NewString()
	d.mu.Lock()
	d.tasks[requestID] = &mountTask{Status: TaskPending}
	d.mu.Unlock()

	go d.runMount(requestID, body.Path, refName)

	writeJSON(w, http.StatusAccepted, map[string]string{
		"request_id": requestID,
		"status":     string(TaskPending),
		"message":    "mount request accepted",
	})
}

func (d *Daemon) runMount(requestID, path, refName string) {
	d.mu.Lock()
	d.tasks[requestID].Status = TaskRunning
	d.mu.Unlock()

	overlay := NewOverlay(d.db, d.log)
	root, err := NewRoot(d.objects, d.refs, overlay, path, refName, "scorpio", d.cfg.Scorpio.GitServerURL, d.cfg.Scorpio, d.log)
	if err != nil {
		d.failTask(requestID, err.Error())
		return
	}

	mountpoint := mountpointFor(d.cfg, requestID)
	if err := ensureDir(mountpoint); err != nil {
		d.failTask(requestID, err.Error())
		return
	}

	server, err := root.Mount(mountpoint)
	if err != nil {
		d.failTask(requestID, err.Error())
		return
	}

	info := MountInfo{ID: requestID, Path: path, RefName: refName, Mountpoint: mountpoint}
	d.mu.Lock()
	d.mountsByPath[path] = &activeMount{info: info, root: root, server: server}
	d.tasks[requestID] = &mountTask{Status: TaskDone, Mount: &info}
	d.mu.Unlock()
	d.log.Info("scorpio: mount task finished", "requestId", requestID, "path", path, "mountpoint", mountpoint)
}

func (d *Daemon) failTask(requestID, msg string) {
	d.mu.Lock()
	d.tasks[requestID] = &mountTask{Status: TaskError, Error: msg}
	d.mu.Unlock()
	d.log.Warn("scorpio: mount task failed", "requestId", requestID, "err", msg)
}

// handleSelect reports a mount task's status, garbage-collecting it from
// the task table once read, per spec §6.
func (d *Daemon) handleSelect(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	d.mu.Lock()
	task, ok := d.tasks[id]
	if ok && (task.Status == TaskDone || task.Status == TaskError) {
		delete(d.tasks, id)
	}
	d.mu.Unlock()

	if !ok {
		http.Error(w, "unknown request id", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (d *Daemon) handleMpoint(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	out := make([]MountInfo, 0, len(d.mountsByPath))
	for _, m := range d.mountsByPath {
		out = append(out, m.info)
	}
	d.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (d *Daemon) handleUnmount(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Path  string `json:"path"`
		Inode string `json:"inode"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	d.mu.Lock()
	var target *activeMount
	var targetPath string
	if body.Path != "" {
		target, targetPath = d.mountsByPath[body.Path], body.Path
	} else {
		for p, m := range d.mountsByPath {
			if m.info.ID == body.Inode {
				target, targetPath = m, p
				break
			}
		}
	}
	if target != nil {
		delete(d.mountsByPath, targetPath)
	}
	d.mu.Unlock()

	if target == nil {
		http.Error(w, "mount not found", http.StatusNotFound)
		return
	}
	if err := target.server.Unmount(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unmounted"})
}

func (d *Daemon) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		var cfg config.ScorpioConfig
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			http.Error(w, "invalid config body", http.StatusBadRequest)
			return
		}
		d.cfg.Scorpio = cfg
	}
	writeJSON(w, http.StatusOK, d.cfg.Scorpio)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
