// Package refstore implements the L1 ref & reflog store of spec §4.2: named
// refs scoped to a monorepo path, change-lists, reviewers, and the reflog
// that every ref mutation appends to atomically.
package refstore

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/monogit/monogit/pkgs/logger"
	"github.com/monogit/monogit/storage"
)

// ErrNotFound indicates no ref/CL matched.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a ref CAS failed (non-fast-forward, or a CL already
// open at a different tip).
var ErrConflict = errors.New("ref update conflict")

const (
	prefixRefs     = "refs"
	prefixReflog   = "reflog"
	prefixCLs      = "cls"
	prefixReviewer = "reviewers"
)

// Ref is a named pointer to a commit, scoped to a monorepo path.
type Ref struct {
	Path           string    `json:"path"`
	RefName        string    `json:"refName"`
	TargetCommitID string    `json:"targetCommitId"`
	TargetTreeID   string    `json:"targetTreeId"`
	IsCLRef        bool      `json:"isClRef"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// ReflogAction is the taxonomy of spec §4.2.
type ReflogAction string

const (
	ActionCommit         ReflogAction = "commit"
	ActionPush           ReflogAction = "push"
	ActionFetch          ReflogAction = "fetch"
	ActionReset          ReflogAction = "reset"
	ActionRebase         ReflogAction = "rebase"
	ActionCheckoutSwitch ReflogAction = "checkout"
	ActionMerge          ReflogAction = "merge"
)

// ReflogEntry records one ref mutation.
type ReflogEntry struct {
	RefOrHead string       `json:"refOrHead"`
	OldOID    string       `json:"oldOid"`
	NewOID    string       `json:"newOid"`
	Action    ReflogAction `json:"action"`
	Details   string       `json:"details"`
	Timestamp time.Time    `json:"timestamp"`
}

// CLStatus is the change-list state machine: Open -> {Merged, Closed},
// Closed -> Open (reopen).
type CLStatus string

const (
	CLOpen   CLStatus = "open"
	CLMerged CLStatus = "merged"
	CLClosed CLStatus = "closed"
)

// ChangeList is a proposed ref update awaiting review.
type ChangeList struct {
	Link      string    `json:"link"`
	Path      string    `json:"path"`
	FromHash  string    `json:"fromHash"`
	ToHash    string    `json:"toHash"`
	Title     string    `json:"title"`
	Status    CLStatus  `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Reviewer is a participant on a CL. SystemRequired=true marks a reviewer
// assigned by the policy engine, subject to wholesale replacement on resync.
type Reviewer struct {
	CLLink         string `json:"clLink"`
	Username       string `json:"username"`
	Approved       bool   `json:"approved"`
	SystemRequired bool   `json:"systemRequired"`
}

func refKey(path, refName string) []byte {
	return storage.MakeKey([]byte(path+"\x00"+refName), []byte(prefixRefs))
}

// Store is the L1 ref & CL store.
type Store struct {
	db  storage.Engine
	log logger.Logger
}

// New creates a Store over db.
func New(db storage.Engine, log logger.Logger) *Store {
	if log == nil {
		log = logger.NewNoop()
	}
	return &Store{db: db, log: log.Module("refstore")}
}

// GetRef fetches a single ref, or ErrNotFound.
func (s *Store) GetRef(path, refName string) (*Ref, error) {
	rec, err := s.db.Get(refKey(path, refName))
	if err != nil {
		if errors.Is(err, storage.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var ref Ref
	if err := json.Unmarshal(rec.Value, &ref); err != nil {
		return nil, errors.Wrap(err, "failed to decode ref")
	}
	return &ref, nil
}

// ListRefs lists every ref scoped under path. When filterCL is true, only
// refs/cl/* refs are returned; when false, only non-CL refs are returned.
func (s *Store) ListRefs(path string, filterCL bool) ([]*Ref, error) {
	var out []*Ref
	prefix := storage.MakePrefix([]byte(prefixRefs))
	s.db.Iterate(prefix, true, func(rec *storage.Record) bool {
		var ref Ref
		if err := json.Unmarshal(rec.Value, &ref); err != nil {
			return false
		}
		if ref.Path != path {
			return false
		}
		if ref.IsCLRef == filterCL {
			out = append(out, &ref)
		}
		return false
	})
	return out, nil
}

func (s *Store) putRefInTx(tx storage.Tx, ref *Ref) error {
	b, err := json.Marshal(ref)
	if err != nil {
		return err
	}
	return tx.Put(storage.NewRecord([]byte(ref.Path+"\x00"+ref.RefName), b, []byte(prefixRefs)))
}

func (s *Store) appendReflogInTx(tx storage.Tx, entry *ReflogEntry) error {
	b, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	key := []byte(entry.RefOrHead + "\x00" + entry.Timestamp.UTC().Format("2006-01-02T15:04:05.000000000Z07:00"))
	return tx.Put(storage.NewRecord(key, b, []byte(prefixReflog)))
}

// UpdateRef upserts ref and appends a reflog entry for the transition in a
// single transaction: readers observe either the old (commit,tree) pair or
// the new one, never a split pair, and the reflog entry and ref mutation
// are visible together or not at all.
func (s *Store) UpdateRef(path, refName, newCommit, newTree string, action ReflogAction, details string) error {
	tx := s.db.NewTx(false, false)

	var oldCommit string
	if existing, err := tx.Get(refKey(path, refName)); err == nil {
		var old Ref
		if err := json.Unmarshal(existing.Value, &old); err == nil {
			oldCommit = old.TargetCommitID
		}
	} else if !errors.Is(err, storage.ErrRecordNotFound) {
		tx.Discard()
		return err
	}

	ref := &Ref{
		Path: path, RefName: refName,
		TargetCommitID: newCommit, TargetTreeID: newTree,
		UpdatedAt: time.Now(),
	}
	if err := s.putRefInTx(tx, ref); err != nil {
		tx.Discard()
		return errors.Wrap(err, "failed to write ref")
	}

	entry := &ReflogEntry{
		RefOrHead: refName, OldOID: oldCommit, NewOID: newCommit,
		Action: action, Details: details, Timestamp: time.Now(),
	}
	if err := s.appendReflogInTx(tx, entry); err != nil {
		tx.Discard()
		return errors.Wrap(err, "failed to append reflog")
	}

	return tx.Commit()
}

// CreateOrUpdateCLRef is the specialized ref-update variant that always
// marks is_cl_ref=true; refs/cl/* refs are created exclusively this way.
func (s *Store) CreateOrUpdateCLRef(path, refName, commit, tree string) error {
	tx := s.db.NewTx(false, false)
	ref := &Ref{
		Path: path, RefName: refName,
		TargetCommitID: commit, TargetTreeID: tree,
		IsCLRef: true, UpdatedAt: time.Now(),
	}
	if err := s.putRefInTx(tx, ref); err != nil {
		tx.Discard()
		return err
	}
	entry := &ReflogEntry{RefOrHead: refName, NewOID: commit, Action: ActionPush, Timestamp: time.Now()}
	if err := s.appendReflogInTx(tx, entry); err != nil {
		tx.Discard()
		return err
	}
	return tx.Commit()
}

// RemoveNonCLRefsUnder deletes every non-CL ref scoped under path, used
// during branch cleanup.
func (s *Store) RemoveNonCLRefsUnder(path string) error {
	refs, err := s.ListRefs(path, false)
	if err != nil {
		return err
	}
	tx := s.db.NewTx(false, false)
	for _, ref := range refs {
		if err := tx.Del(refKey(ref.Path, ref.RefName)); err != nil {
			tx.Discard()
			return err
		}
	}
	return tx.Commit()
}

// RefUpdate is one entry of a BatchUpdateRefs call.
type RefUpdate struct {
	Path, RefName, NewCommit, NewTree string
	// OldCommit is the commit the caller believed RefName pointed at
	// before this update; empty means "ref must not already exist" (a
	// create). A mismatch against the ref's actual current value means
	// the caller's view of the ref is stale and is reported as
	// ErrConflict rather than applied, unless Force is set.
	OldCommit string
	Force     bool
	Action    ReflogAction
	Details   string
}

// checkCAS compares u.OldCommit against refName's current value inside tx,
// returning ErrConflict on a mismatch: this is the compare-and-swap that
// stops a push based on stale knowledge of a ref from silently clobbering
// whatever another push already landed there.
func (s *Store) checkCAS(tx storage.Tx, u RefUpdate) error {
	if u.Force {
		return nil
	}
	existing, err := tx.Get(refKey(u.Path, u.RefName))
	if err != nil {
		if errors.Is(err, storage.ErrRecordNotFound) {
			if u.OldCommit != "" {
				return ErrConflict
			}
			return nil
		}
		return err
	}
	var old Ref
	if err := json.Unmarshal(existing.Value, &old); err != nil {
		return errors.Wrap(err, "failed to decode existing ref")
	}
	if old.TargetCommitID != u.OldCommit {
		return ErrConflict
	}
	return nil
}

// BatchUpdateRefs applies every update whose CAS check against its current
// value passes. When atomic is true, any single conflict aborts the whole
// batch (git's atomic push capability): nothing is written and every entry
// comes back with an error. When false, each update is independent and a
// conflict on one ref does not block the others from landing. The returned
// slice is aligned with updates; a nil entry means that update was applied.
func (s *Store) BatchUpdateRefs(updates []RefUpdate, atomic bool) ([]error, error) {
	errs := make([]error, len(updates))
	tx := s.db.NewTx(false, false)
	now := time.Now()

	conflict := false
	for i, u := range updates {
		if err := s.checkCAS(tx, u); err != nil {
			errs[i] = err
			conflict = true
		}
	}

	if atomic && conflict {
		tx.Discard()
		for i := range errs {
			if errs[i] == nil {
				errs[i] = errors.New("ref update aborted: another ref in the same atomic push was rejected")
			}
		}
		return errs, nil
	}

	for i, u := range updates {
		if errs[i] != nil {
			continue
		}
		ref := &Ref{Path: u.Path, RefName: u.RefName, TargetCommitID: u.NewCommit, TargetTreeID: u.NewTree, UpdatedAt: now}
		if err := s.putRefInTx(tx, ref); err != nil {
			errs[i] = errors.Wrap(err, "failed to write ref")
			continue
		}
		entry := &ReflogEntry{RefOrHead: u.RefName, OldOID: u.OldCommit, NewOID: u.NewCommit, Action: u.Action, Details: u.Details, Timestamp: now}
		if err := s.appendReflogInTx(tx, entry); err != nil {
			errs[i] = err
		}
	}

	if err := tx.Commit(); err != nil {
		return errs, err
	}
	return errs, nil
}

// DeleteRef removes a ref and appends a deletion reflog entry.
func (s *Store) DeleteRef(path, refName string) error {
	tx := s.db.NewTx(false, false)
	var oldCommit string
	if existing, err := tx.Get(refKey(path, refName)); err == nil {
		var old Ref
		_ = json.Unmarshal(existing.Value, &old)
		oldCommit = old.TargetCommitID
	}
	if err := tx.Del(refKey(path, refName)); err != nil {
		tx.Discard()
		return err
	}
	entry := &ReflogEntry{RefOrHead: refName, OldOID: oldCommit, NewOID: "", Action: ActionPush, Details: "deleted", Timestamp: time.Now()}
	if err := s.appendReflogInTx(tx, entry); err != nil {
		tx.Discard()
		return err
	}
	return tx.Commit()
}

// Reflog returns the reflog entries for refOrHead, oldest first.
func (s *Store) Reflog(refOrHead string) []*ReflogEntry {
	var out []*ReflogEntry
	s.db.Iterate(storage.MakePrefix([]byte(prefixReflog)), true, func(rec *storage.Record) bool {
		var e ReflogEntry
		if err := json.Unmarshal(rec.Value, &e); err != nil {
			return false
		}
		if e.RefOrHead == refOrHead {
			out = append(out, &e)
		}
		return false
	})
	return out
}
