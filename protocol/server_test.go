package protocol

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/monogit/monogit/objectstore"
	"github.com/monogit/monogit/protocol/lfs"
	"github.com/monogit/monogit/refstore"
	"github.com/monogit/monogit/storage"
)

func newTestServer(t *testing.T) (*Server, storage.Engine) {
	db := storage.NewBadger()
	require.NoError(t, db.Init(""))
	t.Cleanup(func() { _ = db.Close() })

	objects := objectstore.New(db, nil, 0, nil)
	refs := refstore.New(db, nil)
	s := NewServer(objects, refs, nil).WithLFS(db, "http://example.test/lfs", 3600)
	return s, db
}

func TestServer_InfoRefsRejectsUnknownService(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/myrepo/info/refs?service=not-a-thing", nil)
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_InfoRefsAdvertisesEmptyRepo(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/myrepo/info/refs?service=git-upload-pack", nil)
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/x-git-upload-pack-advertisement", rec.Header().Get("Content-Type"))
}

func TestServer_LFSBatchDownloadMissingObject(t *testing.T) {
	s, _ := newTestServer(t)
	body, _ := json.Marshal(lfs.BatchRequest{Operation: lfs.OpDownload, Objects: []lfs.Pointer{{OID: "deadbeef", Size: 1}}})
	req := httptest.NewRequest(http.MethodPost, "/myrepo/info/lfs/objects/batch", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp lfs.BatchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Objects[0].Error)
}

func TestServer_LFSLockLifecycle(t *testing.T) {
	s, _ := newTestServer(t)

	createBody, _ := json.Marshal(map[string]string{"path": "assets/model.bin"})
	req := httptest.NewRequest(http.MethodPost, "/myrepo/info/lfs/locks", bytes.NewReader(createBody))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created struct {
		Lock lfs.Lock `json:"lock"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, "assets/model.bin", created.Lock.Path)

	listReq := httptest.NewRequest(http.MethodGet, "/myrepo/info/lfs/locks", nil)
	listRec := httptest.NewRecorder()
	s.ServeHTTP(listRec, listReq)
	require.Equal(t, http.StatusOK, listRec.Code)

	var listed struct {
		Locks []lfs.Lock `json:"locks"`
	}
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &listed))
	require.Len(t, listed.Locks, 1)

	unlockReq := httptest.NewRequest(http.MethodPost, "/myrepo/info/lfs/locks/"+created.Lock.ID+"/unlock", bytes.NewReader([]byte(`{}`)))
	unlockRec := httptest.NewRecorder()
	s.ServeHTTP(unlockRec, unlockReq)
	require.Equal(t, http.StatusOK, unlockRec.Code)
}
