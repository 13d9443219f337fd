// Package lfs implements the Git LFS batch transfer API and lock CRUD of
// spec §4.4.6: JSON over net/http, with the per-refspec lock list persisted
// as a single encoded blob in storage, the way the teacher's remote/policy
// package stores a repo's whole policy document as one blob keyed by repo
// rather than row-per-rule.
package lfs

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/monogit/monogit/storage"
)

const prefixLocks = "lfs-locks"

// Pointer identifies one LFS object by its content hash and size.
type Pointer struct {
	OID  string `json:"oid"`
	Size int64  `json:"size"`
}

// Operation is "upload" or "download", per the LFS batch API.
type Operation string

const (
	OpUpload   Operation = "upload"
	OpDownload Operation = "download"
)

// BatchRequest is the body of POST .../info/lfs/objects/batch.
type BatchRequest struct {
	Operation Operation `json:"operation"`
	Objects   []Pointer `json:"objects"`
}

// Action is one HTTP action (upload/download/verify) a client should take
// for an object.
type Action struct {
	Href      string            `json:"href"`
	Header    map[string]string `json:"header,omitempty"`
	ExpiresIn int               `json:"expires_in,omitempty"`
}

// BatchObject is one object's response entry: either a set of Actions (it
// needs transfer) or an Error (the client asked for something invalid).
type BatchObject struct {
	Pointer
	Actions map[string]Action `json:"actions,omitempty"`
	Error   *ObjectError       `json:"error,omitempty"`
}

// ObjectError reports why an object's batch entry could not be served.
type ObjectError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// BatchResponse is the body of a successful batch request.
type BatchResponse struct {
	Transfer string        `json:"transfer"`
	Objects  []BatchObject `json:"objects"`
}

// ObjectExistence reports whether an object is already present, letting
// Handler decide between a download action and an upload action.
type ObjectExistence interface {
	Exists(oid string) bool
}

// Handler serves the LFS batch endpoint for one repoPath, building plain
// (unsigned) href URLs under baseURL.
type Handler struct {
	objects    ObjectExistence
	baseURL    string
	expirySecs int
}

// NewHandler creates a Handler. expirySecs is reported to the client as each
// action's expires_in (config.RemoteConfig.LFSSignedURLExpiry); the server
// does not itself enforce it.
func NewHandler(objects ObjectExistence, baseURL string, expirySecs int) *Handler {
	return &Handler{objects: objects, baseURL: baseURL, expirySecs: expirySecs}
}

// ServeBatch answers POST .../info/lfs/objects/batch.
func (h *Handler) ServeBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid batch request body", http.StatusBadRequest)
		return
	}

	resp := BatchResponse{Transfer: "basic"}
	for _, obj := range req.Objects {
		entry := BatchObject{Pointer: obj}
		exists := h.objects.Exists(obj.OID)

		switch req.Operation {
		case OpDownload:
			if !exists {
				entry.Error = &ObjectError{Code: http.StatusNotFound, Message: "object does not exist"}
				break
			}
			entry.Actions = map[string]Action{
				"download": {Href: h.baseURL + "/objects/" + obj.OID, ExpiresIn: h.expirySecs},
			}
		case OpUpload:
			if exists {
				break // no actions: client already has nothing to upload
			}
			entry.Actions = map[string]Action{
				"upload": {Href: h.baseURL + "/objects/" + obj.OID, ExpiresIn: h.expirySecs},
			}
		default:
			entry.Error = &ObjectError{Code: http.StatusUnprocessableEntity, Message: "unsupported operation"}
		}
		resp.Objects = append(resp.Objects, entry)
	}

	w.Header().Set("Content-Type", "application/vnd.git-lfs+json")
	_ = json.NewEncoder(w).Encode(resp)
}

// Lock is one held lock over a path within a repo.
type Lock struct {
	ID       string    `json:"id"`
	Path     string    `json:"path"`
	Owner    string    `json:"owner"`
	LockedAt time.Time `json:"locked_at"`
}

// lockList is the whole lock set for one repoPath, encoded and stored as a
// single blob.
type lockList struct {
	Locks []Lock `json:"locks"`
}

// LockStore persists the lock list for each repoPath as one JSON blob.
type LockStore struct {
	db storage.Engine
}

// NewLockStore creates a LockStore over db.
func NewLockStore(db storage.Engine) *LockStore {
	return &LockStore{db: db}
}

func (s *LockStore) load(repoPath string) (*lockList, error) {
	rec, err := s.db.Get(storage.MakeKey([]byte(repoPath), []byte(prefixLocks)))
	if err != nil {
		if errors.Is(err, storage.ErrRecordNotFound) {
			return &lockList{}, nil
		}
		return nil, err
	}
	var list lockList
	if err := json.Unmarshal(rec.Value, &list); err != nil {
		return nil, errors.Wrap(err, "failed to decode lock list")
	}
	return &list, nil
}

func (s *LockStore) save(repoPath string, list *lockList) error {
	b, err := json.Marshal(list)
	if err != nil {
		return err
	}
	return s.db.Put(storage.NewRecord([]byte(repoPath), b, []byte(prefixLocks)))
}

// ErrAlreadyLocked is returned by CreateLock when path is already locked.
var ErrAlreadyLocked = errors.New("lfs: path is already locked")

// CreateLock locks path for owner, rejecting a duplicate lock on the same
// path.
func (s *LockStore) CreateLock(repoPath, path, owner, id string) (*Lock, error) {
	list, err := s.load(repoPath)
	if err != nil {
		return nil, err
	}
	for _, l := range list.Locks {
		if l.Path == path {
			return nil, ErrAlreadyLocked
		}
	}
	lock := Lock{ID: id, Path: path, Owner: owner, LockedAt: time.Now()}
	list.Locks = append(list.Locks, lock)
	if err := s.save(repoPath, list); err != nil {
		return nil, err
	}
	return &lock, nil
}

// ListLocks returns every lock held on repoPath.
func (s *LockStore) ListLocks(repoPath string) ([]Lock, error) {
	list, err := s.load(repoPath)
	if err != nil {
		return nil, err
	}
	return list.Locks, nil
}

// DeleteLock releases lock id, or force-releases it regardless of owner
// when force is true.
func (s *LockStore) DeleteLock(repoPath, id, requester string, force bool) (*Lock, error) {
	list, err := s.load(repoPath)
	if err != nil {
		return nil, err
	}
	for i, l := range list.Locks {
		if l.ID != id {
			continue
		}
		if !force && l.Owner != requester {
			return nil, errors.New("lfs: lock is owned by another user")
		}
		list.Locks = append(list.Locks[:i], list.Locks[i+1:]...)
		if err := s.save(repoPath, list); err != nil {
			return nil, err
		}
		return &l, nil
	}
	return nil, errors.New("lfs: lock not found")
}
