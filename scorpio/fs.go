package scorpio

import (
	"github.com/go-git/go-git/v5/plumbing/storer"
	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"github.com/monogit/monogit/config"
	"github.com/monogit/monogit/objectstore"
	"github.com/monogit/monogit/pack"
	"github.com/monogit/monogit/pkgs/cache"
	"github.com/monogit/monogit/pkgs/logger"
	"github.com/monogit/monogit/refstore"
)

// Root is the DictionaryNode embedded at the mountpoint: a monorepo path
// and ref checked out read-write, with commit-back driven by Commit.
// Mirrors linear-fuse's LinearFS root, generalized to hold the object/ref
// stores and the local overlay rather than a single API client.
type Root struct {
	DictionaryNode

	objects   *objectstore.Store
	refs      *refstore.Store
	overlay   *Overlay
	gitStorer storer.EncodedObjectStorer

	// remote reads trees and blobs for this mount's path over HTTP against
	// the git server, the transport the Dictionary/FileNode read path uses
	// instead of gitStorer directly: gitStorer stays solely for Commit's
	// in-process tree-building.
	remote treeReader

	path    string
	refName string
	author  string

	baseCommitHash string
	baseTreeHash   string

	// listGroup coalesces concurrent list() misses for the same directory
	// into a single tree/overlay read, the way a thundering herd of
	// parallel Lookup/Readdir calls from the kernel would otherwise each
	// redo the same work.
	listGroup singleflight.Group

	cfg config.ScorpioConfig
	log logger.Logger
}

// NewRoot loads path/refName's current tip and constructs the mount root.
// A path/ref with no commits yet mounts an empty, writable directory.
// gitServerURL points at the protocol.Server instance this mount reads
// trees and blobs from over HTTP.
func NewRoot(objects *objectstore.Store, refs *refstore.Store, overlay *Overlay, path, refName, author, gitServerURL string, cfg config.ScorpioConfig, log logger.Logger) (*Root, error) {
	if log == nil {
		log = logger.NewNoop()
	}
	log = log.Module("scorpio")

	root := &Root{
		objects:   objects,
		refs:      refs,
		overlay:   overlay,
		gitStorer: pack.NewStorer(objects),
		remote:    NewRemoteStore(gitServerURL, path, cfg),
		path:      path,
		refName:   refName,
		author:    author,
		cfg:       cfg,
		log:       log,
	}

	ref, err := refs.GetRef(path, refName)
	if err != nil {
		if !errors.Is(err, refstore.ErrNotFound) {
			return nil, errors.Wrap(err, "failed to load ref for mount")
		}
	} else {
		root.baseCommitHash = ref.TargetCommitID
		root.baseTreeHash = ref.TargetTreeID
	}

	dirTTL := cfg.DirTTLSeconds
	if dirTTL <= 0 {
		dirTTL = 30
	}
	root.DictionaryNode = DictionaryNode{
		root:     root,
		treePath: "",
		dirCache: cache.NewCacheWithExpiringEntry(4096),
	}
	return root, nil
}

// resolveBlobHash returns the blob hash for treePath in the base tree, or
// an error if no such base file exists (a brand-new overlay-only file).
func (r *Root) resolveBlobHash(treePath string) (string, error) {
	if r.baseTreeHash == "" {
		return "", errBaseDirMissing
	}
	dir, name := splitPath(treePath)
	dirHash, err := resolveTreeHash(r.remote, r.baseTreeHash, dir)
	if err != nil {
		return "", err
	}
	entries, err := r.remote.Tree(dirHash)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if e.Name == name {
			return e.Hash, nil
		}
	}
	return "", errBaseDirMissing
}

// Commit folds every staged edit under this mount into a new commit and
// advances path/refName, refreshing the root's view of the tip.
func (r *Root) Commit(message string) (string, error) {
	newCommit, err := Commit(r.gitStorer, r.refs, r.overlay, r.path, r.refName, r.author, message)
	if err != nil {
		return "", err
	}
	ref, err := r.refs.GetRef(r.path, r.refName)
	if err != nil {
		return "", err
	}
	r.baseCommitHash = ref.TargetCommitID
	r.baseTreeHash = ref.TargetTreeID
	r.DictionaryNode.dirCache = cache.NewCacheWithExpiringEntry(4096)
	return newCommit, nil
}

// Mount mounts the monorepo path/ref at mountpoint.
func (r *Root) Mount(mountpoint string) (*fuse.Server, error) {
	opts := &fs.Options{
		MountOptions: fuse.MountOptions{
			Name:   "scorpio",
			FsName: "monogit",
		},
	}
	server, err := fs.Mount(mountpoint, r, opts)
	if err != nil {
		return nil, errors.Wrap(err, "scorpio: mount failed")
	}
	return server, nil
}
