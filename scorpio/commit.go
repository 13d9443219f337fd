package scorpio

import (
	"sort"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/storer"
	"github.com/pkg/errors"

	"github.com/monogit/monogit/refstore"
)

// errBaseDirMissing marks a directory path with no counterpart in the base
// tree: every entry under it is new, contributed entirely by the overlay.
var errBaseDirMissing = errors.New("scorpio: directory absent from base tree")

// treeReader is the minimal read surface a directory/blob lookup needs:
// either the in-process git-compatible store the commit pipeline writes
// through, or an HTTP RemoteStore reading the same trees/blobs off the git
// server. Dictionary and FileNode read through a RemoteStore; Commit's own
// tree-building still reads/writes in-process, since it owns the object
// store it's about to write new objects into.
type treeReader interface {
	Tree(hash string) ([]TreeEntry, error)
	Blob(hash string) ([]byte, error)
}

// gitStorerTreeReader adapts a go-git storer.EncodedObjectStorer to
// treeReader.
type gitStorerTreeReader struct {
	gitStorer storer.EncodedObjectStorer
}

func (g gitStorerTreeReader) Tree(hash string) ([]TreeEntry, error) {
	return ReadTree(g.gitStorer, hash)
}

func (g gitStorerTreeReader) Blob(hash string) ([]byte, error) {
	return ReadBlob(g.gitStorer, hash)
}

func splitPath(path string) (dir, name string) {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return "", path
	}
	return path[:idx], path[idx+1:]
}

// resolveTreeHash walks rootHash down dirPath ("" is the root itself),
// returning errBaseDirMissing when any segment doesn't exist yet.
func resolveTreeHash(tr treeReader, rootHash, dirPath string) (string, error) {
	if rootHash == "" {
		return "", errBaseDirMissing
	}
	if dirPath == "" {
		return rootHash, nil
	}
	cur := rootHash
	for _, seg := range strings.Split(dirPath, "/") {
		entries, err := tr.Tree(cur)
		if err != nil {
			return "", err
		}
		found := false
		for _, e := range entries {
			if e.Name == seg && e.Mode == filemode.Dir {
				cur = e.Hash
				found = true
				break
			}
		}
		if !found {
			return "", errBaseDirMissing
		}
	}
	return cur, nil
}

// buildTreeFromOverlay folds a set of staged file edits into a new root
// tree, starting from baseTreeHash (empty for a repo with no commits yet).
// Directories are rebuilt bottom-up so a child directory's freshly written
// hash is available by the time its parent is processed.
func buildTreeFromOverlay(gitStorer storer.EncodedObjectStorer, baseTreeHash string, entries []*OverlayEntry) (string, error) {
	byDir := map[string][]*OverlayEntry{}
	dirSet := map[string]bool{"": true}
	for _, e := range entries {
		dir, _ := splitPath(e.Path)
		byDir[dir] = append(byDir[dir], e)
		for d := dir; ; {
			dirSet[d] = true
			if d == "" {
				break
			}
			d, _ = splitPath(d)
		}
	}

	dirs := make([]string, 0, len(dirSet))
	for d := range dirSet {
		dirs = append(dirs, d)
	}
	sort.Slice(dirs, func(i, j int) bool {
		return strings.Count(dirs[i], "/") > strings.Count(dirs[j], "/")
	})

	newHash := map[string]string{}
	for _, dir := range dirs {
		entryMap := map[string]TreeEntry{}

		baseHash, err := resolveTreeHash(gitStorerTreeReader{gitStorer}, baseTreeHash, dir)
		if err != nil && !errors.Is(err, errBaseDirMissing) {
			return "", err
		}
		if err == nil {
			baseEntries, rerr := ReadTree(gitStorer, baseHash)
			if rerr != nil {
				return "", rerr
			}
			for _, be := range baseEntries {
				entryMap[be.Name] = be
			}
		}

		for _, e := range byDir[dir] {
			_, name := splitPath(e.Path)
			if e.Deleted {
				delete(entryMap, name)
				continue
			}
			blobHash, err := WriteBlob(gitStorer, e.Content)
			if err != nil {
				return "", err
			}
			entryMap[name] = TreeEntry{Name: name, Mode: modeToFilemode(e.Mode), Hash: blobHash}
		}

		for childDir, childHash := range newHash {
			parent, name := splitPath(childDir)
			if parent != dir || childDir == dir {
				continue
			}
			entryMap[name] = TreeEntry{Name: name, Mode: filemode.Dir, Hash: childHash}
		}

		finalEntries := make([]TreeEntry, 0, len(entryMap))
		for _, te := range entryMap {
			finalEntries = append(finalEntries, te)
		}
		sort.Slice(finalEntries, func(i, j int) bool { return finalEntries[i].Name < finalEntries[j].Name })

		treeHash, err := WriteTree(gitStorer, finalEntries)
		if err != nil {
			return "", err
		}
		newHash[dir] = treeHash
	}

	return newHash[""], nil
}

// Commit folds every staged Overlay edit for path/refName into a new
// tree and commit object, advances the ref, and clears the overlay. Root.Commit
// is its caller; the FUSE file operations only stage edits in the overlay
// and never commit on their own.
func Commit(gitStorer storer.EncodedObjectStorer, refs *refstore.Store, overlay *Overlay, path, refName, author, message string) (string, error) {
	entries, err := overlay.List()
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", errors.New("scorpio: nothing staged to commit")
	}

	var baseTreeHash, parentCommit string
	ref, err := refs.GetRef(path, refName)
	if err != nil {
		if !errors.Is(err, refstore.ErrNotFound) {
			return "", err
		}
	} else {
		baseTreeHash = ref.TargetTreeID
		parentCommit = ref.TargetCommitID
	}

	newTreeHash, err := buildTreeFromOverlay(gitStorer, baseTreeHash, entries)
	if err != nil {
		return "", errors.Wrap(err, "failed to build tree from overlay")
	}

	var parents []string
	if parentCommit != "" {
		parents = []string{parentCommit}
	}
	newCommitHash, err := WriteCommit(gitStorer, newTreeHash, parents, author, message)
	if err != nil {
		return "", errors.Wrap(err, "failed to write commit")
	}

	if err := refs.UpdateRef(path, refName, newCommitHash, newTreeHash, refstore.ActionCommit, message); err != nil {
		return "", errors.Wrap(err, "failed to advance ref")
	}
	if err := overlay.Clear(); err != nil {
		return "", errors.Wrap(err, "failed to clear overlay after commit")
	}
	return newCommitHash, nil
}
