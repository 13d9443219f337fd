package pack

import (
	"io"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/format/packfile"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/pkg/errors"

	"github.com/monogit/monogit/objectstore"
	"github.com/monogit/monogit/pkgs/logger"
)

// Unpacker ingests a received packfile into the object store.
type Unpacker struct {
	store *objectstore.Store
	log   logger.Logger
}

// NewUnpacker creates an Unpacker writing into store.
func NewUnpacker(store *objectstore.Store, log logger.Logger) *Unpacker {
	if log == nil {
		log = logger.NewNoop()
	}
	return &Unpacker{store: store, log: log.Module("pack")}
}

// Unpack scans pack, resolving ref/offset deltas, and writes every object
// into the object store idempotently. It returns the ids of the objects it
// saw, in scan order, for use by the caller building a receive-pack report.
func (u *Unpacker) Unpack(pack io.ReadSeeker) ([]string, error) {
	scn := packfile.NewScanner(pack)
	storer := newObjectStorer(u.store)
	d, err := packfile.NewDecoder(scn, storer)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create packfile decoder")
	}

	if _, err := d.Decode(); err != nil {
		return nil, errors.Wrap(err, "failed to decode packfile")
	}

	return storer.recorded, nil
}

// FullPack builds a packfile containing every object reachable from want,
// used for a clone / fetch against an empty client.
func FullPack(store *objectstore.Store, want []string) (io.Reader, error) {
	return buildPack(store, want, nil)
}

// IncrementalPack builds a packfile containing objects reachable from want
// but not reachable from have, used for an ordinary fetch after the client
// already has some history.
func IncrementalPack(store *objectstore.Store, want, have []string) (io.Reader, error) {
	return buildPack(store, want, have)
}

// chunkBufferSize bounds how many encoded writes can be in flight between
// the packfile encoder goroutine and whatever is draining buildPack's
// result, so a slow HTTP client can't force the whole pack into memory.
const chunkBufferSize = 8

// chunkWriter is an io.Writer whose Write calls hand each write off to a
// bounded channel instead of appending to an in-memory buffer, so the
// packfile encoder and its reader run concurrently with backpressure.
type chunkWriter struct {
	chunks chan []byte
	done   chan error
}

func newChunkWriter() *chunkWriter {
	return &chunkWriter{chunks: make(chan []byte, chunkBufferSize), done: make(chan error, 1)}
}

func (w *chunkWriter) Write(p []byte) (int, error) {
	buf := make([]byte, len(p))
	copy(buf, p)
	w.chunks <- buf
	return len(p), nil
}

func (w *chunkWriter) finish(err error) {
	close(w.chunks)
	w.done <- err
}

// chunkReader is the read side of a chunkWriter, exposed to callers as a
// plain io.Reader that never holds more than one pending chunk at a time.
type chunkReader struct {
	w       *chunkWriter
	current []byte
}

func (r *chunkReader) Read(p []byte) (int, error) {
	for len(r.current) == 0 {
		chunk, ok := <-r.w.chunks
		if !ok {
			if err := <-r.w.done; err != nil {
				return 0, err
			}
			return 0, io.EOF
		}
		r.current = chunk
	}
	n := copy(p, r.current)
	r.current = r.current[n:]
	return n, nil
}

func buildPack(store *objectstore.Store, want, have []string) (io.Reader, error) {
	st := newObjectStorer(store)

	wantHashes := make([]plumbing.Hash, 0, len(want))
	for _, w := range want {
		wantHashes = append(wantHashes, plumbing.NewHash(w))
	}
	haveSet := make(map[plumbing.Hash]bool, len(have))
	for _, h := range have {
		haveSet[plumbing.NewHash(h)] = true
	}

	objs, err := reachable(st, wantHashes, haveSet)
	if err != nil {
		return nil, errors.Wrap(err, "failed to walk reachable objects")
	}

	cw := newChunkWriter()
	go func() {
		enc := packfile.NewEncoder(cw, st, false)
		_, encErr := enc.Encode(objs, 0)
		cw.finish(encErr)
	}()

	return &chunkReader{w: cw}, nil
}

// CheckCommitExists reports whether hash is a known commit in store, used
// to compute multi_ack_detailed common-ancestor responses.
func CheckCommitExists(store *objectstore.Store, hash string) bool {
	obj, err := store.GetObject(hash)
	if err != nil {
		return false
	}
	return obj.Kind == objectstore.KindCommit
}

// CommitTree decodes the commit at hash and returns the tree id it points
// to, used by receive-pack to populate a ref's TargetTreeID after a push.
func CommitTree(store *objectstore.Store, hash string) (string, error) {
	st := newObjectStorer(store)
	eo, err := st.EncodedObject(plumbing.CommitObject, plumbing.NewHash(hash))
	if err != nil {
		return "", errors.Wrap(err, "failed to load pushed commit")
	}
	var commit object.Commit
	if err := commit.Decode(eo); err != nil {
		return "", errors.Wrap(err, "failed to decode pushed commit")
	}
	return commit.TreeHash.String(), nil
}
