package protocol

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/monogit/monogit/objectstore"
	"github.com/monogit/monogit/pack"
	"github.com/monogit/monogit/pkgs/logger"
	"github.com/monogit/monogit/protocol/lfs"
	"github.com/monogit/monogit/refstore"
	"github.com/monogit/monogit/storage"
)

// Server exposes the smart-HTTP endpoints of spec §4.4 over gorilla/mux,
// the way the teacher's remote/server wires its own git service handlers.
type Server struct {
	objects *objectstore.Store
	refs    *refstore.Store
	log     logger.Logger
	router  *mux.Router

	// UploadPack tunes the non-multi_ack_detailed negotiation fallback;
	// zero value is DefaultUploadPackConfig's off setting.
	UploadPack UploadPackConfig

	lfsHandler *lfs.Handler
	lfsLocks   *lfs.LockStore
}

// NewServer wires the info/refs, upload-pack, receive-pack, file-read and
// LFS batch/lock endpoints for every monorepo path, addressed as
// /{path:.*}/info/refs and siblings. The /file/* routes are the HTTP
// surface Scorpio's Dictionary reads trees and blobs through instead of
// sharing the object/ref stores in-process.
func NewServer(objects *objectstore.Store, refs *refstore.Store, log logger.Logger) *Server {
	if log == nil {
		log = logger.NewNoop()
	}
	s := &Server{objects: objects, refs: refs, log: log.Module("protocol-server"), UploadPack: DefaultUploadPackConfig()}
	r := mux.NewRouter()
	r.HandleFunc("/{path:.*}/info/refs", s.handleInfoRefs).Methods(http.MethodGet)
	r.HandleFunc("/{path:.*}/git-upload-pack", s.handleUploadPack).Methods(http.MethodPost)
	r.HandleFunc("/{path:.*}/git-receive-pack", s.handleReceivePack).Methods(http.MethodPost)
	r.HandleFunc("/{path:.*}/info/lfs/objects/batch", s.handleLFSBatch).Methods(http.MethodPost)
	r.HandleFunc("/{path:.*}/info/lfs/locks", s.handleLFSListLocks).Methods(http.MethodGet)
	r.HandleFunc("/{path:.*}/info/lfs/locks", s.handleLFSCreateLock).Methods(http.MethodPost)
	r.HandleFunc("/{path:.*}/info/lfs/locks/{id}/unlock", s.handleLFSDeleteLock).Methods(http.MethodPost)
	r.HandleFunc("/file/tree", s.handleFileTree).Methods(http.MethodGet)
	r.HandleFunc("/file/blob", s.handleFileBlob).Methods(http.MethodGet)
	r.HandleFunc("/file/ref", s.handleFileRef).Methods(http.MethodGet)
	s.router = r
	return s
}

// WithLFS attaches LFS batch-transfer and lock-CRUD support, backed by db
// for the per-repository-path lock lists and baseURL for issued action hrefs.
func (s *Server) WithLFS(db storage.Engine, baseURL string, expirySecs int) *Server {
	s.lfsHandler = lfs.NewHandler(s.objects, baseURL, expirySecs)
	s.lfsLocks = lfs.NewLockStore(db)
	return s
}

// ServeHTTP makes Server an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func repoPathOf(r *http.Request) string {
	p := mux.Vars(r)["path"]
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

func (s *Server) handleInfoRefs(w http.ResponseWriter, r *http.Request) {
	repoPath := repoPathOf(r)
	svc := ServiceType(strings.TrimPrefix(r.URL.Query().Get("service"), "git-"))
	if svc != ServiceUploadPack && svc != ServiceReceivePack {
		http.Error(w, "unsupported or missing service parameter", http.StatusBadRequest)
		return
	}

	headHash := ZeroOID
	allRefs, err := s.refs.ListRefs(repoPath, false)
	if err != nil {
		http.Error(w, "failed to list refs", http.StatusInternalServerError)
		return
	}
	if head, err := s.refs.GetRef(repoPath, "HEAD"); err == nil {
		headHash = head.TargetCommitID
	} else if len(allRefs) > 0 {
		headHash = allRefs[0].TargetCommitID
	}

	w.Header().Set("Content-Type", "application/x-git-"+string(svc)+"-advertisement")
	_, _ = w.Write(BuildInfoRefs(svc, headHash, RefsToAds(allRefs, false)))
}

func (s *Server) handleUploadPack(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	req := ParseUploadPackRequest(body)
	result, err := RunUploadPack(s.objects, req, s.UploadPack)
	if err != nil {
		s.log.Warn("protocol: upload-pack failed", "err", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/x-git-upload-pack-result")
	_, _ = w.Write(result.Header)
	sideband := req.Capabilities[CapSideBand] || req.Capabilities[CapSideBand64k]
	if err := WritePackStream(w, result.Pack, sideband); err != nil {
		s.log.Warn("protocol: failed to stream packfile", "err", err)
	}
}

func (s *Server) handleReceivePack(w http.ResponseWriter, r *http.Request) {
	repoPath := repoPathOf(r)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	commands, caps, packData := splitReceivePackBody(body)
	result := RunReceivePack(s.objects, s.refs, repoPath, commands, caps, packData)

	w.Header().Set("Content-Type", "application/x-git-receive-pack-result")
	_, _ = w.Write(result.Report)
}

// splitReceivePackBody separates the leading command pkt-lines from the
// packfile that follows their terminating flush-pkt.
func splitReceivePackBody(body []byte) ([]*RefCommand, map[Capability]bool, io.ReadSeeker) {
	commands, caps := ParseReceivePackCommands(body)

	offset := 0
	for offset < len(body) {
		length, _, consumed, err := ReadPktLine(body[offset:])
		if err != nil {
			break
		}
		offset += consumed
		if length == 0 {
			break
		}
	}
	return commands, caps, bytes.NewReader(body[offset:])
}

func (s *Server) handleLFSBatch(w http.ResponseWriter, r *http.Request) {
	if s.lfsHandler == nil {
		http.Error(w, "lfs not configured", http.StatusNotImplemented)
		return
	}
	s.lfsHandler.ServeBatch(w, r)
}

func (s *Server) handleLFSListLocks(w http.ResponseWriter, r *http.Request) {
	if s.lfsLocks == nil {
		http.Error(w, "lfs not configured", http.StatusNotImplemented)
		return
	}
	locks, err := s.lfsLocks.ListLocks(repoPathOf(r))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeLFSJSON(w, http.StatusOK, map[string]interface{}{"locks": locks})
}

func (s *Server) handleLFSCreateLock(w http.ResponseWriter, r *http.Request) {
	if s.lfsLocks == nil {
		http.Error(w, "lfs not configured", http.StatusNotImplemented)
		return
	}
	var body struct {
		Path string `json:"path"`
	}
	if err := decodeLFSJSON(r, &body); err != nil {
		http.Error(w, "invalid lock request body", http.StatusBadRequest)
		return
	}
	owner := r.Header.Get("X-Monogit-User")
	if owner == "" {
		owner = "unknown"
	}
	lock, err := s.lfsLocks.CreateLock(repoPathOf(r), body.Path, owner, uuid.NewString())
	if err != nil {
		if errors.Is(err, lfs.ErrAlreadyLocked) {
			writeLFSJSON(w, http.StatusConflict, map[string]string{"message": err.Error()})
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeLFSJSON(w, http.StatusCreated, map[string]interface{}{"lock": lock})
}

func (s *Server) handleLFSDeleteLock(w http.ResponseWriter, r *http.Request) {
	if s.lfsLocks == nil {
		http.Error(w, "lfs not configured", http.StatusNotImplemented)
		return
	}
	var body struct {
		Force bool `json:"force"`
	}
	_ = decodeLFSJSON(r, &body)

	owner := r.Header.Get("X-Monogit-User")
	if owner == "" {
		owner = "unknown"
	}
	lock, err := s.lfsLocks.DeleteLock(repoPathOf(r), mux.Vars(r)["id"], owner, body.Force)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeLFSJSON(w, http.StatusOK, map[string]interface{}{"lock": lock})
}

// handleFileTree serves a tree object's entries as JSON, the endpoint
// Scorpio's RemoteStore reads instead of sharing an in-process object
// store with the git server.
func (s *Server) handleFileTree(w http.ResponseWriter, r *http.Request) {
	hash := r.URL.Query().Get("hash")
	if hash == "" {
		http.Error(w, "missing hash parameter", http.StatusBadRequest)
		return
	}
	entries, err := pack.ReadTree(s.objects, hash)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleFileBlob serves a blob object's raw content.
func (s *Server) handleFileBlob(w http.ResponseWriter, r *http.Request) {
	hash := r.URL.Query().Get("hash")
	if hash == "" {
		http.Error(w, "missing hash parameter", http.StatusBadRequest)
		return
	}
	content, err := pack.ReadBlob(s.objects, hash)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(content)
}

// handleFileRef serves the (commit, tree) pair a ref currently points at,
// letting a Scorpio mount resolve its base view without refstore access.
func (s *Server) handleFileRef(w http.ResponseWriter, r *http.Request) {
	repoPath := r.URL.Query().Get("repo")
	refName := r.URL.Query().Get("ref")
	if repoPath == "" || refName == "" {
		http.Error(w, "missing repo or ref parameter", http.StatusBadRequest)
		return
	}
	ref, err := s.refs.GetRef(repoPath, refName)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"commit": ref.TargetCommitID, "tree": ref.TargetTreeID})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeLFSJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func writeLFSJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/vnd.git-lfs+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
