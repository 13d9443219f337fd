package scorpio

import (
	"testing"

	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/stretchr/testify/require"

	"github.com/monogit/monogit/objectstore"
	"github.com/monogit/monogit/pack"
	"github.com/monogit/monogit/refstore"
	"github.com/monogit/monogit/storage"
)

func newTestEnv(t *testing.T) (*objectstore.Store, *refstore.Store, *Overlay) {
	db := storage.NewBadger()
	require.NoError(t, db.Init(""))
	t.Cleanup(func() { _ = db.Close() })
	return objectstore.New(db, nil, 0, nil), refstore.New(db, nil), NewOverlay(db, nil)
}

func TestWriteAndReadBlob(t *testing.T) {
	objects, _, _ := newTestEnv(t)
	gitStorer := pack.NewStorer(objects)

	hash, err := WriteBlob(gitStorer, []byte("hello world"))
	require.NoError(t, err)

	content, err := ReadBlob(gitStorer, hash)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(content))
}

func TestWriteAndReadTree(t *testing.T) {
	objects, _, _ := newTestEnv(t)
	gitStorer := pack.NewStorer(objects)

	blobHash, err := WriteBlob(gitStorer, []byte("content"))
	require.NoError(t, err)

	treeHash, err := WriteTree(gitStorer, []TreeEntry{
		{Name: "a.txt", Mode: filemode.Regular, Hash: blobHash},
	})
	require.NoError(t, err)

	entries, err := ReadTree(gitStorer, treeHash)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "a.txt", entries[0].Name)
	require.Equal(t, blobHash, entries[0].Hash)
}

func TestCommitOverlay_CreatesNestedTreesAndAdvancesRef(t *testing.T) {
	objects, refs, overlay := newTestEnv(t)
	gitStorer := pack.NewStorer(objects)

	require.NoError(t, overlay.Put("README.md", []byte("hi"), 0644))
	require.NoError(t, overlay.Put("src/main.go", []byte("package main"), 0644))

	commitHash, err := Commit(gitStorer, refs, overlay, "/myrepo", "refs/heads/main", "student", "initial commit")
	require.NoError(t, err)
	require.NotEmpty(t, commitHash)

	ref, err := refs.GetRef("/myrepo", "refs/heads/main")
	require.NoError(t, err)
	require.Equal(t, commitHash, ref.TargetCommitID)

	rootEntries, err := ReadTree(gitStorer, ref.TargetTreeID)
	require.NoError(t, err)
	names := map[string]filemode.FileMode{}
	for _, e := range rootEntries {
		names[e.Name] = e.Mode
	}
	require.Equal(t, filemode.Regular, names["README.md"])
	require.Equal(t, filemode.Dir, names["src"])

	staged, err := overlay.List()
	require.NoError(t, err)
	require.Empty(t, staged, "overlay must be cleared after a successful commit")
}

func TestCommitOverlay_SecondCommitParentsFirst(t *testing.T) {
	objects, refs, overlay := newTestEnv(t)
	gitStorer := pack.NewStorer(objects)

	require.NoError(t, overlay.Put("a.txt", []byte("v1"), 0644))
	first, err := Commit(gitStorer, refs, overlay, "/myrepo", "refs/heads/main", "student", "first")
	require.NoError(t, err)

	require.NoError(t, overlay.Put("b.txt", []byte("v2"), 0644))
	second, err := Commit(gitStorer, refs, overlay, "/myrepo", "refs/heads/main", "student", "second")
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	ref, err := refs.GetRef("/myrepo", "refs/heads/main")
	require.NoError(t, err)
	entries, err := ReadTree(gitStorer, ref.TargetTreeID)
	require.NoError(t, err)
	require.Len(t, entries, 2, "first commit's file must survive the second commit")
}

func TestCommitOverlay_DeleteRemovesBaseEntry(t *testing.T) {
	objects, refs, overlay := newTestEnv(t)
	gitStorer := pack.NewStorer(objects)

	require.NoError(t, overlay.Put("keep.txt", []byte("k"), 0644))
	require.NoError(t, overlay.Put("drop.txt", []byte("d"), 0644))
	_, err := Commit(gitStorer, refs, overlay, "/myrepo", "refs/heads/main", "student", "seed")
	require.NoError(t, err)

	require.NoError(t, overlay.Delete("drop.txt"))
	_, err = Commit(gitStorer, refs, overlay, "/myrepo", "refs/heads/main", "student", "remove")
	require.NoError(t, err)

	ref, err := refs.GetRef("/myrepo", "refs/heads/main")
	require.NoError(t, err)
	entries, err := ReadTree(gitStorer, ref.TargetTreeID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "keep.txt", entries[0].Name)
}

func TestOverlay_PutGetDeleteClear(t *testing.T) {
	_, _, overlay := newTestEnv(t)

	require.NoError(t, overlay.Put("x.txt", []byte("v"), 0644))
	entry, err := overlay.Get("x.txt")
	require.NoError(t, err)
	require.Equal(t, "v", string(entry.Content))

	require.NoError(t, overlay.Delete("x.txt"))
	entry, err = overlay.Get("x.txt")
	require.NoError(t, err)
	require.True(t, entry.Deleted)

	require.NoError(t, overlay.Clear())
	entry, err = overlay.Get("x.txt")
	require.NoError(t, err)
	require.Nil(t, entry)
}
