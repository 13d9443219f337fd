// Package pack implements the L2 packfile layer of spec §4.4: ingesting an
// incoming packfile into the object store (Unpack) and generating outgoing
// packfiles for fetch/clone (FullPack, IncrementalPack), built on go-git's
// packfile codec the way the teacher's remote/plumbing package does,
// adapted to read and write through objectstore instead of a go-git Storer
// backed by an on-disk .git directory.
package pack

import (
	"io"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/storer"
	"github.com/pkg/errors"

	"github.com/monogit/monogit/objectstore"
)

// objectStorer adapts objectstore.Store to go-git's storer.EncodedObjectStorer
// so the stock packfile encoder/decoder can read and write objects directly
// against the content-addressed store.
type objectStorer struct {
	store    *objectstore.Store
	recorded []string
}

func newObjectStorer(store *objectstore.Store) *objectStorer {
	return &objectStorer{store: store}
}

// NewStorer exposes the objectstore-backed go-git storer adapter so other
// layers (scorpio's commit pipeline, in particular) can encode/decode the
// same git-compatible tree/commit/blob representation pack uses, without
// duplicating the translation between objectstore.Kind and
// plumbing.ObjectType.
func NewStorer(store *objectstore.Store) storer.EncodedObjectStorer {
	return newObjectStorer(store)
}

func (s *objectStorer) NewEncodedObject() plumbing.EncodedObject {
	return &plumbing.MemoryObject{}
}

func kindFromObjectType(t plumbing.ObjectType) objectstore.Kind {
	switch t {
	case plumbing.TreeObject:
		return objectstore.KindTree
	case plumbing.CommitObject:
		return objectstore.KindCommit
	case plumbing.TagObject:
		return objectstore.KindTag
	default:
		return objectstore.KindBlob
	}
}

func objectTypeFromKind(k objectstore.Kind) plumbing.ObjectType {
	switch k {
	case objectstore.KindTree:
		return plumbing.TreeObject
	case objectstore.KindCommit:
		return plumbing.CommitObject
	case objectstore.KindTag:
		return plumbing.TagObject
	default:
		return plumbing.BlobObject
	}
}

func (s *objectStorer) SetEncodedObject(obj plumbing.EncodedObject) (plumbing.Hash, error) {
	r, err := obj.Reader()
	if err != nil {
		return plumbing.ZeroHash, err
	}
	defer r.Close()
	payload, err := io.ReadAll(r)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	id := obj.Hash().String()
	if err := s.store.PutObjects([]*objectstore.Object{{
		ID: id, Kind: kindFromObjectType(obj.Type()), Payload: payload, Size: obj.Size(),
	}}); err != nil {
		return plumbing.ZeroHash, err
	}
	s.recorded = append(s.recorded, id)
	return obj.Hash(), nil
}

func (s *objectStorer) EncodedObject(t plumbing.ObjectType, h plumbing.Hash) (plumbing.EncodedObject, error) {
	obj, err := s.store.GetObject(h.String())
	if err != nil {
		return nil, plumbing.ErrObjectNotFound
	}
	if t != plumbing.AnyObject && objectTypeFromKind(obj.Kind) != t {
		return nil, plumbing.ErrObjectNotFound
	}
	mem := &plumbing.MemoryObject{}
	mem.SetType(objectTypeFromKind(obj.Kind))
	mem.SetSize(int64(len(obj.Payload)))
	if _, err := mem.Write(obj.Payload); err != nil {
		return nil, err
	}
	mem.Hash()
	return mem, nil
}

func (s *objectStorer) IterEncodedObjects(t plumbing.ObjectType) (storer.EncodedObjectIter, error) {
	return nil, errors.New("pack: full-store iteration is not supported; objects must be reached by id")
}

func (s *objectStorer) HasEncodedObject(h plumbing.Hash) error {
	if s.store.Exists(h.String()) {
		return nil
	}
	return plumbing.ErrObjectNotFound
}

func (s *objectStorer) EncodedObjectSize(h plumbing.Hash) (int64, error) {
	obj, err := s.store.GetObject(h.String())
	if err != nil {
		return 0, plumbing.ErrObjectNotFound
	}
	return int64(len(obj.Payload)), nil
}

var _ storer.EncodedObjectStorer = (*objectStorer)(nil)
