package scorpio

import (
	"context"
	"strings"
	"syscall"

	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/monogit/monogit/pkgs/cache"
)

// DictionaryNode is a read-only lazy view of one directory of a monorepo
// path's tree, overlaid with whatever edits are staged under it. Mirrors
// linear-fuse's StateDirectoryNode/TeamDirectoryNode pattern of a thin
// fs.Inode that materializes its children on Readdir/Lookup rather than
// eagerly building the whole tree, generalized from a flat issue list to
// a real recursive git tree plus a local overlay merge.
type DictionaryNode struct {
	fs.Inode

	root     *Root
	treePath string // path relative to the mount root ("" for the mount root)
	dirCache *cache.Cache
}

var _ = (fs.NodeReaddirer)((*DictionaryNode)(nil))
var _ = (fs.NodeLookuper)((*DictionaryNode)(nil))
var _ = (fs.NodeCreater)((*DictionaryNode)(nil))
var _ = (fs.NodeUnlinker)((*DictionaryNode)(nil))
var _ = (fs.NodeMkdirer)((*DictionaryNode)(nil))

type listedEntry struct {
	name string
	mode filemode.FileMode
}

// list merges the base tree's entries at treePath with any staged overlay
// edits directly inside it, honoring whiteouts and new files/dirs. The
// merged result is cached for DirTTLSeconds, mirroring linear-fuse's
// cache.Cache-backed issue list. Concurrent misses for the same treePath
// are coalesced through root.listGroup so a burst of kernel lookups into
// one unloaded directory triggers a single rebuild.
func (n *DictionaryNode) list() ([]listedEntry, error) {
	if cached := n.dirCache.Get(n.treePath); cached != nil {
		return cached.([]listedEntry), nil
	}

	v, err, _ := n.root.listGroup.Do(n.treePath, func() (interface{}, error) {
		if cached := n.dirCache.Get(n.treePath); cached != nil {
			return cached.([]listedEntry), nil
		}
		return n.buildList()
	})
	if err != nil {
		return nil, err
	}
	return v.([]listedEntry), nil
}

func (n *DictionaryNode) buildList() ([]listedEntry, error) {
	byName := map[string]listedEntry{}
	if n.root.baseTreeHash != "" {
		baseHash, err := resolveTreeHash(n.root.remote, n.root.baseTreeHash, n.treePath)
		if err == nil {
			entries, rerr := n.root.remote.Tree(baseHash)
			if rerr != nil {
				return nil, rerr
			}
			for _, e := range entries {
				byName[e.Name] = listedEntry{name: e.Name, mode: e.Mode}
			}
		}
	}

	staged, err := n.root.overlay.List()
	if err != nil {
		return nil, err
	}
	seenDirs := map[string]bool{}
	for _, e := range staged {
		dir, name := splitPath(e.Path)
		if dir != n.treePath {
			// a staged file deeper under this directory keeps its immediate
			// child subdirectory present even if the subdirectory itself
			// has no direct entries of its own yet.
			if strings.HasPrefix(dir, prefixWithSlash(n.treePath)) || n.treePath == "" {
				rest := strings.TrimPrefix(dir, prefixWithSlash(n.treePath))
				if idx := strings.Index(rest, "/"); idx >= 0 {
					rest = rest[:idx]
				}
				if rest != "" && !seenDirs[rest] {
					seenDirs[rest] = true
					byName[rest] = listedEntry{name: rest, mode: filemode.Dir}
				}
			}
			continue
		}
		if e.Deleted {
			delete(byName, name)
			continue
		}
		byName[name] = listedEntry{name: name, mode: modeToFilemode(e.Mode)}
	}

	out := make([]listedEntry, 0, len(byName))
	for _, v := range byName {
		out = append(out, v)
	}
	n.dirCache.Add(n.treePath, out, cache.Sec(n.root.cfg.DirTTLSeconds))
	return out, nil
}

func prefixWithSlash(p string) string {
	if p == "" {
		return ""
	}
	return p + "/"
}

func (n *DictionaryNode) childPath(name string) string {
	if n.treePath == "" {
		return name
	}
	return n.treePath + "/" + name
}

// Readdir lists the merged base+overlay contents of this directory.
func (n *DictionaryNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	entries, err := n.list()
	if err != nil {
		n.root.log.Error("scorpio: readdir failed", "path", n.treePath, "err", err)
		return nil, syscall.EIO
	}
	out := make([]fuse.DirEntry, 0, len(entries))
	for _, e := range entries {
		mode := uint32(fuse.S_IFREG)
		if e.mode == filemode.Dir {
			mode = fuse.S_IFDIR
		}
		out = append(out, fuse.DirEntry{Name: e.name, Mode: mode})
	}
	return fs.NewListDirStream(out), fs.OK
}

// Lookup resolves one child, returning a DictionaryNode for subdirectories
// or a FileNode for blobs.
func (n *DictionaryNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	entries, err := n.list()
	if err != nil {
		return nil, syscall.EIO
	}
	for _, e := range entries {
		if e.name != name {
			continue
		}
		childPath := n.childPath(name)
		if e.mode == filemode.Dir {
			child := n.NewInode(ctx, &DictionaryNode{root: n.root, treePath: childPath, dirCache: n.dirCache}, fs.StableAttr{Mode: fuse.S_IFDIR})
			return child, fs.OK
		}
		child := n.NewInode(ctx, &FileNode{root: n.root, treePath: childPath}, fs.StableAttr{Mode: fuse.S_IFREG})
		return child, fs.OK
	}
	return nil, syscall.ENOENT
}

// Create stages a new, initially empty file directly in the overlay.
func (n *DictionaryNode) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	childPath := n.childPath(name)
	if err := n.root.overlay.Put(childPath, []byte{}, mode); err != nil {
		return nil, nil, 0, syscall.EIO
	}
	n.dirCache.Remove(n.treePath)
	node := n.NewInode(ctx, &FileNode{root: n.root, treePath: childPath}, fs.StableAttr{Mode: fuse.S_IFREG})
	return node, nil, fuse.FOPEN_DIRECT_IO, fs.OK
}

// Unlink stages a whiteout of name.
func (n *DictionaryNode) Unlink(ctx context.Context, name string) syscall.Errno {
	if err := n.root.overlay.Delete(n.childPath(name)); err != nil {
		return syscall.EIO
	}
	n.dirCache.Remove(n.treePath)
	return fs.OK
}

// Mkdir creates a directory marker: an empty .monogit-keep file staged in
// the overlay, since git trees have no concept of an empty directory.
func (n *DictionaryNode) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	childPath := n.childPath(name)
	if err := n.root.overlay.Put(childPath+"/.monogit-keep", []byte{}, 0644); err != nil {
		return nil, syscall.EIO
	}
	n.dirCache.Remove(n.treePath)
	child := n.NewInode(ctx, &DictionaryNode{root: n.root, treePath: childPath, dirCache: n.dirCache}, fs.StableAttr{Mode: fuse.S_IFDIR})
	return child, fs.OK
}
