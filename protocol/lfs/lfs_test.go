package lfs

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/monogit/monogit/storage"
)

func newTestDB(t *testing.T) storage.Engine {
	db := storage.NewBadger()
	require.NoError(t, db.Init(""))
	t.Cleanup(func() { _ = db.Close() })
	return db
}

type fakeObjects struct {
	present map[string]bool
}

func (f *fakeObjects) Exists(oid string) bool { return f.present[oid] }

func TestHandler_ServeBatch_DownloadMissingObjectReturnsError(t *testing.T) {
	h := NewHandler(&fakeObjects{present: map[string]bool{}}, "http://example.test/lfs", 3600)

	body, _ := json.Marshal(BatchRequest{Operation: OpDownload, Objects: []Pointer{{OID: "deadbeef", Size: 10}}})
	req := httptest.NewRequest(http.MethodPost, "/objects/batch", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.ServeBatch(rec, req)

	var resp BatchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Objects, 1)
	require.NotNil(t, resp.Objects[0].Error)
	require.Equal(t, http.StatusNotFound, resp.Objects[0].Error.Code)
}

func TestHandler_ServeBatch_UploadNewObjectGetsAction(t *testing.T) {
	h := NewHandler(&fakeObjects{present: map[string]bool{}}, "http://example.test/lfs", 3600)

	body, _ := json.Marshal(BatchRequest{Operation: OpUpload, Objects: []Pointer{{OID: "cafef00d", Size: 42}}})
	req := httptest.NewRequest(http.MethodPost, "/objects/batch", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.ServeBatch(rec, req)

	var resp BatchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Objects, 1)
	require.Nil(t, resp.Objects[0].Error)
	require.Contains(t, resp.Objects[0].Actions, "upload")
}

func TestHandler_ServeBatch_UploadExistingObjectNoAction(t *testing.T) {
	h := NewHandler(&fakeObjects{present: map[string]bool{"cafef00d": true}}, "http://example.test/lfs", 3600)

	body, _ := json.Marshal(BatchRequest{Operation: OpUpload, Objects: []Pointer{{OID: "cafef00d", Size: 42}}})
	req := httptest.NewRequest(http.MethodPost, "/objects/batch", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.ServeBatch(rec, req)

	var resp BatchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Empty(t, resp.Objects[0].Actions)
}

func TestLockStore_CreateListDelete(t *testing.T) {
	s := NewLockStore(newTestDB(t))

	lock, err := s.CreateLock("/myrepo", "src/big.bin", "alice", "lock-1")
	require.NoError(t, err)
	require.Equal(t, "src/big.bin", lock.Path)

	locks, err := s.ListLocks("/myrepo")
	require.NoError(t, err)
	require.Len(t, locks, 1)

	_, err = s.CreateLock("/myrepo", "src/big.bin", "bob", "lock-2")
	require.ErrorIs(t, err, ErrAlreadyLocked)

	deleted, err := s.DeleteLock("/myrepo", "lock-1", "alice", false)
	require.NoError(t, err)
	require.Equal(t, "lock-1", deleted.ID)

	locks, err = s.ListLocks("/myrepo")
	require.NoError(t, err)
	require.Empty(t, locks)
}

func TestLockStore_DeleteByOtherOwnerRequiresForce(t *testing.T) {
	s := NewLockStore(newTestDB(t))

	_, err := s.CreateLock("/myrepo", "src/big.bin", "alice", "lock-1")
	require.NoError(t, err)

	_, err = s.DeleteLock("/myrepo", "lock-1", "bob", false)
	require.Error(t, err)

	_, err = s.DeleteLock("/myrepo", "lock-1", "bob", true)
	require.NoError(t, err)
}

func TestLockStore_LocksAreScopedPerRepo(t *testing.T) {
	s := NewLockStore(newTestDB(t))

	_, err := s.CreateLock("/repo-a", "file.bin", "alice", "lock-1")
	require.NoError(t, err)

	locksB, err := s.ListLocks("/repo-b")
	require.NoError(t, err)
	require.Empty(t, locksB)
}
