// Package scorpio implements the L4a FUSE overlay filesystem of spec §4.5:
// a read-only lazy view of a monorepo path's tree (Dictionary), a writable
// local layer collecting uncommitted edits (Overlay), and a commit pipeline
// that folds the overlay back into new tree/commit objects and pushes them
// through refstore. Grounded on the teacher pack's only FUSE codebase,
// jra3-linear-fuse's pkg/fuse, generalized from its Linear-issue-per-file
// model to a real lazy directory tree backed by git-compatible tree/commit
// objects.
package scorpio

import (
	"bytes"
	"time"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
	"github.com/pkg/errors"
)

// TreeEntry is one row of a directory listing: a name, its git file mode,
// and the hash of the object it points to (a blob, or another tree).
type TreeEntry struct {
	Name string
	Mode filemode.FileMode
	Hash string
}

// ReadTree decodes the tree object at hash into its entries.
func ReadTree(gitStorer storer.EncodedObjectStorer, hash string) ([]TreeEntry, error) {
	h := plumbing.NewHash(hash)
	eo, err := gitStorer.EncodedObject(plumbing.TreeObject, h)
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

// WriteTree encodes entries into a tree object and stores it, returning
// its id.
func WriteTree(gitStorer storer.EncodedObjectStorer, entries []TreeEntry) (string, error) {
	tree := &object.Tree{}
	for _, e := range entries {
		tree.Entries = append(tree.Entries, object.TreeEntry{
			Name: e.Name, Mode: e.Mode, Hash: plumbing.NewHash(e.Hash),
		})
	}
	mem := &plumbing.MemoryObject{}
	if err := tree.Encode(mem); err != nil {
		return "", errors.Wrap(err, "failed to encode tree object")
	}
	h, err := gitStorer.SetEncodedObject(mem)
	if err != nil {
		return "", errors.Wrap(err, "failed to write tree object")
	}
	return h.String(), nil
}

// ReadBlob returns the raw content of the blob at hash.
func ReadBlob(gitStorer storer.EncodedObjectStorer, hash string) ([]byte, error) {
	eo, err := gitStorer.EncodedObject(plumbing.BlobObject, plumbing.NewHash(hash))
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

// WriteBlob stores content as a blob object, returning its id.
func WriteBlob(gitStorer storer.EncodedObjectStorer, content []byte) (string, error) {
	mem := &plumbing.MemoryObject{}
	mem.SetType(plumbing.BlobObject)
	if _, err := mem.Write(content); err != nil {
		return "", err
	}
	h, err := gitStorer.SetEncodedObject(mem)
	if err != nil {
		return "", errors.Wrap(err, "failed to write blob object")
	}
	return h.String(), nil
}

// WriteCommit creates a commit pointing at treeHash with the given parents
// and message, returning its id.
func WriteCommit(gitStorer storer.EncodedObjectStorer, treeHash string, parents []string, author, message string) (string, error) {
	commit := &object.Commit{
		Author:    object.Signature{Name: author, Email: author, When: time.Now()},
		Committer: object.Signature{Name: author, Email: author, When: time.Now()},
		Message:   message,
		TreeHash:  plumbing.NewHash(treeHash),
	}
	for _, p := range parents {
		commit.ParentHashes = append(commit.ParentHashes, plumbing.NewHash(p))
	}
	mem := &plumbing.MemoryObject{}
	if err := commit.Encode(mem); err != nil {
		return "", errors.Wrap(err, "failed to encode commit object")
	}
	h, err := gitStorer.SetEncodedObject(mem)
	if err != nil {
		return "", errors.Wrap(err, "failed to write commit object")
	}
	return h.String(), nil
}

// ReadCommitTree returns the tree hash a commit points to.
func ReadCommitTree(gitStorer storer.EncodedObjectStorer, commitHash string) (string, error) {
	eo, err := gitStorer.EncodedObject(plumbing.CommitObject, plumbing.NewHash(commitHash))
	if err != nil {
		return "", errors.Wrap(err, "failed to load commit object")
	}
	var commit object.Commit
	if err := commit.Decode(eo); err != nil {
		return "", errors.Wrap(err, "failed to decode commit object")
	}
	return commit.TreeHash.String(), nil
}
