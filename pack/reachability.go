package pack

import (
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// reachable performs a bounded breadth-first walk over the commit/tree/blob
// graph starting at wants, stopping descent into any commit already in
// haves (the client's common-ancestor boundary) or already visited. It
// mirrors the teacher's GetPackableObjects traversal, generalized to walk
// commit history instead of assuming a single object.
func reachable(st *objectStorer, wants []plumbing.Hash, haves map[plumbing.Hash]bool) ([]plumbing.Hash, error) {
	visited := make(map[plumbing.Hash]bool)
	var order []plumbing.Hash

	var queue []plumbing.Hash
	queue = append(queue, wants...)

	for len(queue) > 0 {
		h := queue[0]
		queue = queue[1:]
		if visited[h] || haves[h] {
			continue
		}
		visited[h] = true

		eo, err := st.EncodedObject(plumbing.AnyObject, h)
		if err != nil {
			return nil, err
		}

		switch eo.Type() {
		case plumbing.CommitObject:
			var c object.Commit
			if err := c.Decode(eo); err != nil {
				return nil, err
			}
			order = append(order, h)
			queue = append(queue, c.TreeHash)
			for _, p := range c.ParentHashes {
				if !haves[p] {
					queue = append(queue, p)
				}
			}

		case plumbing.TreeObject:
			var t object.Tree
			if err := t.Decode(eo); err != nil {
				return nil, err
			}
			order = append(order, h)
			for _, entry := range t.Entries {
				queue = append(queue, entry.Hash)
			}

		case plumbing.TagObject:
			var tag object.Tag
			if err := tag.Decode(eo); err != nil {
				return nil, err
			}
			order = append(order, h)
			queue = append(queue, tag.Target)

		default: // blob
			order = append(order, h)
		}
	}

	return order, nil
}
