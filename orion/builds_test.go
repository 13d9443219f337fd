package orion

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLogSink_AppendWritesInOrderAndMarksGaps(t *testing.T) {
	dir := t.TempDir()
	sink := NewLogSink(dir)

	require.NoError(t, sink.Append("task-1", "/monorepo/myrepo", "build-1", 0, []byte("line one\n")))
	require.NoError(t, sink.Append("task-1", "/monorepo/myrepo", "build-1", 2, []byte("line three\n")))
	require.NoError(t, sink.Close("build-1"))

	content, err := os.ReadFile(filepath.Join(dir, "task-1", "myrepo", "build-1.log"))
	require.NoError(t, err)
	require.Contains(t, string(content), "line one\n")
	require.Contains(t, string(content), "gap: expected seq 1, got 2")
	require.Contains(t, string(content), "line three\n")
}

func TestRepoLast(t *testing.T) {
	require.Equal(t, "myrepo", repoLast("/monorepo/myrepo"))
	require.Equal(t, "myrepo", repoLast("myrepo"))
}

func TestBuildStore_Lifecycle(t *testing.T) {
	builds := newTestBuildStore(t)
	task := &Task{ID: "t1", Repo: "/myrepo", CLLink: "cl-1"}

	_, err := builds.Create(task)
	require.NoError(t, err)

	require.NoError(t, builds.MarkDispatched("t1", "w1"))
	row, err := builds.Get("t1")
	require.NoError(t, err)
	require.Equal(t, BuildDispatched, row.Status)
	require.Equal(t, "w1", row.WorkerID)

	require.NoError(t, builds.RollbackToPending("t1"))
	row, err = builds.Get("t1")
	require.NoError(t, err)
	require.Equal(t, BuildPending, row.Status)
	require.Empty(t, row.WorkerID)

	require.NoError(t, builds.Finish("t1", 1, true))
	row, err = builds.Get("t1")
	require.NoError(t, err)
	require.Equal(t, BuildFailed, row.Status)
	require.NotNil(t, row.ExitCode)
	require.Equal(t, 1, *row.ExitCode)
}
