package scorpio

import (
	"context"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// FileNode is one file of a mounted tree: it reads from the base blob
// until the first write, at which point edits buffer in memory and flush
// to the Overlay on Release/Flush, following linear-fuse's IssueFileNode
// pattern of a lazily-populated content buffer.
type FileNode struct {
	fs.Inode

	root     *Root
	treePath string

	content []byte
	loaded  bool
	dirty   bool
	mode    uint32
}

var _ = (fs.NodeOpener)((*FileNode)(nil))
var _ = (fs.NodeReader)((*FileNode)(nil))
var _ = (fs.NodeWriter)((*FileNode)(nil))
var _ = (fs.NodeGetattrer)((*FileNode)(nil))
var _ = (fs.NodeSetattrer)((*FileNode)(nil))
var _ = (fs.NodeFlusher)((*FileNode)(nil))
var _ = (fs.NodeReleaser)((*FileNode)(nil))

func (n *FileNode) ensureLoaded() syscall.Errno {
	if n.loaded {
		return fs.OK
	}
	staged, err := n.root.overlay.Get(n.treePath)
	if err != nil {
		return syscall.EIO
	}
	if staged != nil {
		if staged.Deleted {
			n.content = nil
		} else {
			n.content = staged.Content
			n.mode = staged.Mode
		}
		n.loaded = true
		return fs.OK
	}

	blobHash, err := n.root.resolveBlobHash(n.treePath)
	if err != nil {
		n.content = nil
		n.loaded = true
		return fs.OK
	}
	content, err := n.root.remote.Blob(blobHash)
	if err != nil {
		return syscall.EIO
	}
	n.content = content
	n.mode = 0644
	n.loaded = true
	return fs.OK
}

// Open returns no file handle: state lives on the FileNode itself, as
// linear-fuse's file nodes do.
func (n *FileNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	return nil, fuse.FOPEN_DIRECT_IO, fs.OK
}

// Read serves bytes from the loaded content buffer.
func (n *FileNode) Read(ctx context.Context, f fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	if errno := n.ensureLoaded(); errno != fs.OK {
		return nil, errno
	}
	if off >= int64(len(n.content)) {
		return fuse.ReadResultData(nil), fs.OK
	}
	end := int(off) + len(dest)
	if end > len(n.content) {
		end = len(n.content)
	}
	return fuse.ReadResultData(n.content[off:end]), fs.OK
}

// Write buffers data into the in-memory content, growing it as needed.
func (n *FileNode) Write(ctx context.Context, f fs.FileHandle, data []byte, off int64) (uint32, syscall.Errno) {
	if errno := n.ensureLoaded(); errno != fs.OK {
		return 0, errno
	}
	newSize := int(off) + len(data)
	if newSize > len(n.content) {
		grown := make([]byte, newSize)
		copy(grown, n.content)
		n.content = grown
	}
	copy(n.content[off:], data)
	n.dirty = true
	return uint32(len(data)), fs.OK
}

// flush persists dirty content into the Overlay so it survives until the
// next Commit.
func (n *FileNode) flush() syscall.Errno {
	if !n.dirty {
		return fs.OK
	}
	mode := n.mode
	if mode == 0 {
		mode = 0644
	}
	if err := n.root.overlay.Put(n.treePath, n.content, mode); err != nil {
		return syscall.EIO
	}
	n.dirty = false
	return fs.OK
}

// Flush stages buffered writes, called on every close(2).
func (n *FileNode) Flush(ctx context.Context, f fs.FileHandle) syscall.Errno {
	return n.flush()
}

// Release stages any writes a caller left pending past Flush.
func (n *FileNode) Release(ctx context.Context, f fs.FileHandle) syscall.Errno {
	return n.flush()
}

// Getattr reports the loaded content's size, with mtime/atime/ctime set to
// the current time on every call.
func (n *FileNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	if errno := n.ensureLoaded(); errno != fs.OK {
		return errno
	}
	mode := n.mode
	if mode == 0 {
		mode = 0644
	}
	out.Mode = mode
	out.Size = uint64(len(n.content))
	now := uint64(time.Now().Unix())
	out.Mtime, out.Atime, out.Ctime = now, now, now
	return fs.OK
}

// Setattr supports truncation (the only attribute change a commit
// editor's save-as-truncate path exercises).
func (n *FileNode) Setattr(ctx context.Context, f fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	if errno := n.ensureLoaded(); errno != fs.OK {
		return errno
	}
	if size, ok := in.GetSize(); ok {
		if int(size) <= len(n.content) {
			n.content = n.content[:size]
		} else {
			grown := make([]byte, size)
			copy(grown, n.content)
			n.content = grown
		}
		n.dirty = true
	}
	return n.Getattr(ctx, f, out)
}
