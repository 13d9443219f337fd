package scorpio

import (
	"encoding/json"
	"time"

	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/pkg/errors"

	"github.com/monogit/monogit/pkgs/logger"
	"github.com/monogit/monogit/storage"
)

const prefixOverlay = "scorpio-overlay"

// OverlayEntry records one uncommitted edit made through the mounted
// filesystem, keyed by its full path relative to the mount root. A nil
// Content with Deleted=true whites out a path inherited from the base
// Dictionary tree (handles rm of a read-only file).
type OverlayEntry struct {
	Path      string    `json:"path"`
	Content   []byte    `json:"content"`
	Mode      uint32    `json:"mode"`
	Deleted   bool      `json:"deleted"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Overlay is the local, uncommitted write layer of a mounted path: every
// create/write/unlink lands here first, and Commit later folds it
// into the monorepo's real tree/commit objects. Mirrors linear-fuse's
// pattern of buffering file content locally before flushing it upstream,
// generalized from a single in-memory buffer per node to a persisted,
// path-addressed table so edits survive a daemon restart.
type Overlay struct {
	db  storage.Engine
	log logger.Logger
}

// NewOverlay creates an Overlay backed by db.
func NewOverlay(db storage.Engine, log logger.Logger) *Overlay {
	if log == nil {
		log = logger.NewNoop()
	}
	return &Overlay{db: db, log: log.Module("scorpio-overlay")}
}

func overlayKey(path string) []byte {
	return storage.MakeKey([]byte(path), []byte(prefixOverlay))
}

// Put stages content at path.
func (o *Overlay) Put(path string, content []byte, mode uint32) error {
	entry := &OverlayEntry{Path: path, Content: content, Mode: mode, UpdatedAt: time.Now()}
	b, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return o.db.Put(storage.NewRecord([]byte(path), b, []byte(prefixOverlay)))
}

// Delete stages a whiteout of path.
func (o *Overlay) Delete(path string) error {
	entry := &OverlayEntry{Path: path, Deleted: true, UpdatedAt: time.Now()}
	b, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return o.db.Put(storage.NewRecord([]byte(path), b, []byte(prefixOverlay)))
}

// Get returns the staged entry for path, or nil if path has no pending edit.
func (o *Overlay) Get(path string) (*OverlayEntry, error) {
	rec, err := o.db.Get(overlayKey(path))
	if err != nil {
		if errors.Is(err, storage.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var entry OverlayEntry
	if err := json.Unmarshal(rec.Value, &entry); err != nil {
		return nil, errors.Wrap(err, "failed to decode overlay entry")
	}
	return &entry, nil
}

// List returns every staged entry, for folding into a commit.
func (o *Overlay) List() ([]*OverlayEntry, error) {
	var out []*OverlayEntry
	o.db.Iterate(storage.MakePrefix([]byte(prefixOverlay)), true, func(rec *storage.Record) bool {
		var entry OverlayEntry
		if err := json.Unmarshal(rec.Value, &entry); err == nil {
			out = append(out, &entry)
		}
		return false
	})
	return out, nil
}

// Clear drops every staged entry, called after a successful Commit.
func (o *Overlay) Clear() error {
	entries, err := o.List()
	if err != nil {
		return err
	}
	tx := o.db.NewTx(false, false)
	for _, e := range entries {
		if err := tx.Del(overlayKey(e.Path)); err != nil && !errors.Is(err, storage.ErrRecordNotFound) {
			tx.Discard()
			return err
		}
	}
	return tx.Commit()
}

func modeToFilemode(mode uint32) filemode.FileMode {
	if mode&0111 != 0 {
		return filemode.Executable
	}
	return filemode.Regular
}
