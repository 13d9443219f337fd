// Package objectstore implements the L0 object store of spec §4.1: a
// content-addressed map from object id to blob/tree/commit/tag payload,
// built on the generic storage engine the way the teacher's remote
// subsystem builds repository state on storage.Engine.
package objectstore

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/monogit/monogit/pkgs/logger"
	"github.com/monogit/monogit/storage"
)

// Kind identifies the type of a Git object.
type Kind uint8

const (
	KindBlob Kind = iota
	KindTree
	KindCommit
	KindTag
)

func (k Kind) String() string {
	switch k {
	case KindBlob:
		return "blob"
	case KindTree:
		return "tree"
	case KindCommit:
		return "commit"
	case KindTag:
		return "tag"
	default:
		return "unknown"
	}
}

// ErrNotFound indicates the requested object id has no matching row.
var ErrNotFound = errors.New("object not found")

const prefixObjects = "objects"

// Object is the universal content-addressed Git object. Id is a pure
// function of Kind and Payload; objects are immutable once inserted.
type Object struct {
	ID      string
	Kind    Kind
	Payload []byte
	Size    int64
}

// BlobBackend stores the bytes of large blobs out of the row, keyed by a
// content-derived key. The object row then carries only that key.
type BlobBackend interface {
	Put(key string, payload []byte) error
	Get(key string) ([]byte, error)
}

// Store is the L0 object store.
type Store struct {
	db        storage.Engine
	log       logger.Logger
	threshold int64
	blobs     BlobBackend
}

// New creates a Store. threshold is the blob-offload size in bytes (0
// disables offloading); blobs may be nil when threshold is 0.
func New(db storage.Engine, log logger.Logger, threshold int64, blobs BlobBackend) *Store {
	if log == nil {
		log = logger.NewNoop()
	}
	return &Store{db: db, log: log.Module("objectstore"), threshold: threshold, blobs: blobs}
}

func objectKey(id string) []byte {
	return storage.MakeKey([]byte(id), []byte(prefixObjects))
}

// row is the on-disk encoding of an Object. Kept deliberately simple
// (length-prefixed fields) rather than a generic serializer, mirroring the
// teacher's preference for small hand-rolled encodings in the storage
// layer over pulling in a schema system for internal-only records.
type row struct {
	kind      Kind
	size      int64
	inline    []byte
	blobKey   string
	offloaded bool
}

func encodeRow(r row) []byte {
	var flag byte
	if r.offloaded {
		flag = 1
	}
	head := fmt.Sprintf("%d|%d|%d|%s|", r.kind, r.size, flag, r.blobKey)
	return append([]byte(head), r.inline...)
}

func decodeRow(b []byte) (row, error) {
	var r row
	// format: kind|size|flag|blobKey|<inline bytes>
	fields := make([]int, 0, 4)
	start := 0
	for i := 0; i < 4 && start <= len(b); i++ {
		idx := indexByte(b, '|', start)
		if idx < 0 {
			return r, errors.New("malformed object row")
		}
		fields = append(fields, idx)
		start = idx + 1
	}
	if len(fields) != 4 {
		return r, errors.New("malformed object row")
	}
	kindStr := string(b[0:fields[0]])
	sizeStr := string(b[fields[0]+1 : fields[1]])
	flagStr := string(b[fields[1]+1 : fields[2]])
	blobKey := string(b[fields[2]+1 : fields[3]])
	inline := b[fields[3]+1:]

	var kind int
	var size int64
	if _, err := fmt.Sscanf(kindStr, "%d", &kind); err != nil {
		return r, err
	}
	if _, err := fmt.Sscanf(sizeStr, "%d", &size); err != nil {
		return r, err
	}
	r.kind = Kind(kind)
	r.size = size
	r.offloaded = flagStr == "1"
	r.blobKey = blobKey
	r.inline = inline
	return r, nil
}

func indexByte(b []byte, c byte, start int) int {
	for i := start; i < len(b); i++ {
		if b[i] == c {
			return i
		}
	}
	return -1
}

// Exists reports whether id is already stored. Accepts both 40-char
// SHA-1 hex and 64-char SHA-256 hex ids; the store treats both as opaque
// strings distinguished only by length.
func (s *Store) Exists(id string) bool {
	tx := s.db.NewTx(true, false)
	_, err := tx.Get(objectKey(id))
	return err == nil
}

// PutObjects idempotently inserts a batch of objects in one transaction.
// Re-inserting an id already present is a no-op, required so that retried
// packfile ingestion and racing concurrent pushes never error.
func (s *Store) PutObjects(batch []*Object) error {
	tx := s.db.NewTx(false, false)
	for _, obj := range batch {
		key := objectKey(obj.ID)
		if _, err := tx.Get(key); err == nil {
			continue // AlreadyExists: silently absorbed, per spec §4.1
		} else if !errors.Is(err, storage.ErrRecordNotFound) {
			tx.Discard()
			return errors.Wrap(err, "failed to check existing object")
		}

		r := row{kind: obj.Kind, size: obj.Size, inline: obj.Payload}
		if s.threshold > 0 && obj.Size > s.threshold && s.blobs != nil {
			blobKey := obj.ID
			if err := s.blobs.Put(blobKey, obj.Payload); err != nil {
				tx.Discard()
				return errors.Wrap(err, "failed to offload blob")
			}
			r.offloaded = true
			r.blobKey = blobKey
			r.inline = nil
		}

		if err := tx.Put(storage.NewRecord([]byte(obj.ID), encodeRow(r), []byte(prefixObjects))); err != nil {
			tx.Discard()
			return errors.Wrap(err, "failed to write object")
		}
	}
	return tx.Commit()
}

// GetObject fetches a single object, transparently resolving offloaded blobs.
func (s *Store) GetObject(id string) (*Object, error) {
	rec, err := s.db.Get(objectKey(id))
	if err != nil {
		if errors.Is(err, storage.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	r, err := decodeRow(rec.Value)
	if err != nil {
		return nil, err
	}
	payload := r.inline
	if r.offloaded {
		if s.blobs == nil {
			return nil, errors.New("object is offloaded but no blob backend is configured")
		}
		payload, err = s.blobs.Get(r.blobKey)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read offloaded blob")
		}
	}
	return &Object{ID: id, Kind: r.kind, Payload: payload, Size: r.size}, nil
}

// GetMany fetches several objects, skipping ones that do not exist.
func (s *Store) GetMany(ids []string) (map[string]*Object, error) {
	out := make(map[string]*Object, len(ids))
	for _, id := range ids {
		obj, err := s.GetObject(id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		out[id] = obj
	}
	return out, nil
}
