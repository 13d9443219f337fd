package pack

import (
	"bytes"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/pkg/errors"

	"github.com/monogit/monogit/objectstore"
)

// TreeEntry is one row of a tree object's listing: the wire shape the
// /file/tree endpoint returns to an HTTP tree reader (Scorpio's
// RemoteStore, chiefly). Field names mirror scorpio's own TreeEntry so the
// two decode/encode against each other without custom JSON tags.
type TreeEntry struct {
	Name string
	Mode filemode.FileMode
	Hash string
}

// ReadTree decodes the tree object at hash into its entries directly off
// the object store, the server-side counterpart of scorpio's
// gitStorer-backed ReadTree.
func ReadTree(store *objectstore.Store, hash string) ([]TreeEntry, error) {
	st := newObjectStorer(store)
	eo, err := st.EncodedObject(plumbing.TreeObject, plumbing.NewHash(hash))
	if err != nil {
		return nil, errors.Wrap(err, "failed to load tree object")
	}
	var tree object.Tree
	if err := tree.Decode(eo); err != nil {
		return nil, errors.Wrap(err, "failed to decode tree object")
	}
	out := make([]TreeEntry, 0, len(tree.Entries))
	for _, e := range tree.Entries {
		out = append(out, TreeEntry{Name: e.Name, Mode: e.Mode, Hash: e.Hash.String()})
	}
	return out, nil
}

// ReadBlob returns the raw content of the blob object at hash.
func ReadBlob(store *objectstore.Store, hash string) ([]byte, error) {
	st := newObjectStorer(store)
	eo, err := st.EncodedObject(plumbing.BlobObject, plumbing.NewHash(hash))
	if err != nil {
		return nil, errors.Wrap(err, "failed to load blob object")
	}
	r, err := eo.Reader()
	if err != nil {
		return nil, err
	}
	defer r.Close()
	buf := bytes.NewBuffer(nil)
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
