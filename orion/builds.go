package orion

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/monogit/monogit/storage"
)

// BuildStatus is the build-row state machine of spec §4.6: Pending ->
// Dispatched -> {Finished, Failed, Cancelled, Expired}, with a dispatch
// failure rolling Dispatched back to Pending rather than forward.
type BuildStatus string

const (
	BuildPending    BuildStatus = "pending"
	BuildDispatched BuildStatus = "dispatched"
	BuildFinished   BuildStatus = "finished"
	BuildFailed     BuildStatus = "failed"
	BuildCancelled  BuildStatus = "cancelled"
	BuildExpired    BuildStatus = "expired"
)

const prefixBuilds = "builds"

// BuildRow is the persisted record of one build task, the Go counterpart of
// spec §4.6's build row: created on enqueue, updated on dispatch and again
// on completion, never deleted.
type BuildRow struct {
	BuildID    string      `json:"buildId"`
	TaskID     string      `json:"taskId"`
	Repo       string      `json:"repo"`
	CLLink     string      `json:"clLink"`
	Changes    []string    `json:"changes"`
	RetryCount int         `json:"retryCount"`
	Status     BuildStatus `json:"status"`
	ExitCode   *int        `json:"exitCode,omitempty"`
	WorkerID   string      `json:"workerId,omitempty"`
	CreatedAt  time.Time   `json:"createdAt"`
	StartedAt  time.Time   `json:"startedAt,omitempty"`
	EndedAt    time.Time   `json:"endedAt,omitempty"`
}

func buildKey(buildID string) []byte {
	return storage.MakeKey([]byte(buildID), []byte(prefixBuilds))
}

// BuildStore persists build rows, grounded on refstore.Store's
// json-record-over-storage.Engine pattern.
type BuildStore struct {
	db storage.Engine
}

// NewBuildStore creates a BuildStore over db.
func NewBuildStore(db storage.Engine) *BuildStore {
	return &BuildStore{db: db}
}

// Create inserts a new Pending build row for task, mirroring the "create a
// build row (exit_code=null, start_at=now)" step of the scheduling loop,
// except start_at is left zero until the row actually reaches Dispatched.
func (s *BuildStore) Create(task *Task) (*BuildRow, error) {
	row := &BuildRow{
		BuildID:    task.ID,
		TaskID:     task.ID,
		Repo:       task.Repo,
		CLLink:     task.CLLink,
		Changes:    task.Changes,
		RetryCount: task.RetryCount,
		Status:     BuildPending,
		CreatedAt:  task.CreatedAt,
	}
	return row, s.put(row)
}

func (s *BuildStore) put(row *BuildRow) error {
	b, err := json.Marshal(row)
	if err != nil {
		return errors.Wrap(err, "failed to encode build row")
	}
	return s.db.Put(storage.NewRecord([]byte(row.BuildID), b, []byte(prefixBuilds)))
}

// Get fetches a build row by id.
func (s *BuildStore) Get(buildID string) (*BuildRow, error) {
	rec, err := s.db.Get(buildKey(buildID))
	if err != nil {
		if errors.Is(err, storage.ErrRecordNotFound) {
			return nil, storage.ErrRecordNotFound
		}
		return nil, err
	}
	var row BuildRow
	if err := json.Unmarshal(rec.Value, &row); err != nil {
		return nil, errors.Wrap(err, "failed to decode build row")
	}
	return &row, nil
}

// MarkDispatched transitions a build row to Dispatched, recording the
// worker it was sent to and the dispatch time.
func (s *BuildStore) MarkDispatched(buildID, workerID string) error {
	row, err := s.Get(buildID)
	if err != nil {
		return err
	}
	row.Status = BuildDispatched
	row.WorkerID = workerID
	row.StartedAt = time.Now()
	return s.put(row)
}

// RollbackToPending reverts a build row from Dispatched back to Pending
// after a failed send, per spec §4.6 ("the build row is rolled back to
// Pending and the task is not re-enqueued"): the row remains visible and
// queryable, but nothing puts it back on the in-memory dispatch queue.
func (s *BuildStore) RollbackToPending(buildID string) error {
	row, err := s.Get(buildID)
	if err != nil {
		return err
	}
	row.Status = BuildPending
	row.WorkerID = ""
	row.StartedAt = time.Time{}
	return s.put(row)
}

// MarkRequeued increments retry_count and returns a build row to Pending,
// used when a worker's heartbeat goes stale and its build is requeued.
func (s *BuildStore) MarkRequeued(buildID string, retryCount int) error {
	row, err := s.Get(buildID)
	if err != nil {
		return err
	}
	row.Status = BuildPending
	row.WorkerID = ""
	row.RetryCount = retryCount
	row.StartedAt = time.Time{}
	return s.put(row)
}

// Finish closes a build row with its worker-reported exit code.
func (s *BuildStore) Finish(buildID string, exitCode int, failed bool) error {
	row, err := s.Get(buildID)
	if err != nil {
		return err
	}
	row.ExitCode = &exitCode
	row.EndedAt = time.Now()
	if failed {
		row.Status = BuildFailed
	} else {
		row.Status = BuildFinished
	}
	return s.put(row)
}

// Expire marks a build row Expired, for tasks the pending-queue sweep drops.
func (s *BuildStore) Expire(buildID string) error {
	row, err := s.Get(buildID)
	if err != nil {
		return err
	}
	row.Status = BuildExpired
	row.EndedAt = time.Now()
	return s.put(row)
}

// repoLast returns the final path segment of a repo path, used to lay out
// per-build log files under <task_id>/<repo_last>/<build_id>.log.
func repoLast(repo string) string {
	repo = filepath.Clean(repo)
	last := filepath.Base(repo)
	if last == "." || last == string(filepath.Separator) || last == "" {
		return "repo"
	}
	return last
}

// LogSink appends LogChunk payloads to a per-build log file, tracking seq
// so a gap (a chunk lost on the wire) is visible in the file rather than
// silently skipped, per spec §4.6's "seq ensures no gaps".
type LogSink struct {
	root string

	mu      sync.Mutex
	files   map[string]*os.File
	nextSeq map[string]int
}

// NewLogSink creates a LogSink rooted at dir.
func NewLogSink(dir string) *LogSink {
	return &LogSink{root: dir, files: map[string]*os.File{}, nextSeq: map[string]int{}}
}

func (l *LogSink) pathFor(taskID, repo, buildID string) string {
	return filepath.Join(l.root, taskID, repoLast(repo), buildID+".log")
}

func (l *LogSink) fileFor(taskID, repo, buildID string) (*os.File, error) {
	if f, ok := l.files[buildID]; ok {
		return f, nil
	}
	p := l.pathFor(taskID, repo, buildID)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create build log directory")
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open build log file")
	}
	l.files[buildID] = f
	return f, nil
}

// Append writes one LogChunk's bytes to its build's log file. A seq that
// skips ahead of what was expected is recorded as an explicit gap marker
// rather than silently accepted, so a reader of the log file can tell a
// chunk was lost on the wire.
func (l *LogSink) Append(taskID, repo, buildID string, seq int, data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := l.fileFor(taskID, repo, buildID)
	if err != nil {
		return err
	}
	want := l.nextSeq[buildID]
	if seq != want {
		if _, werr := fmt.Fprintf(f, "\n[gap: expected seq %d, got %d]\n", want, seq); werr != nil {
			return werr
		}
	}
	if _, err := f.Write(data); err != nil {
		return err
	}
	l.nextSeq[buildID] = seq + 1
	return nil
}

// Close releases the file handle for a finished build, called once its
// Done message lands.
func (l *LogSink) Close(buildID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	f, ok := l.files[buildID]
	if !ok {
		return nil
	}
	delete(l.files, buildID)
	delete(l.nextSeq, buildID)
	return f.Close()
}
