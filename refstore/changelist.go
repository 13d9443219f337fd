package refstore

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/monogit/monogit/storage"
)

func clKey(link string) []byte {
	return storage.MakeKey([]byte(link), []byte(prefixCLs))
}

func reviewerKey(clLink, username string) []byte {
	return storage.MakeKey([]byte(clLink+"\x00"+username), []byte(prefixReviewer))
}

// CreateCL opens a new change-list, created in the Open state per the
// state machine Open -> {Merged, Closed}, Closed -> Open.
func (s *Store) CreateCL(cl *ChangeList) error {
	cl.Status = CLOpen
	b, err := json.Marshal(cl)
	if err != nil {
		return err
	}
	return s.db.Put(storage.NewRecord([]byte(cl.Link), b, []byte(prefixCLs)))
}

// GetCL fetches a change-list by its link.
func (s *Store) GetCL(link string) (*ChangeList, error) {
	rec, err := s.db.Get(clKey(link))
	if err != nil {
		if errors.Is(err, storage.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var cl ChangeList
	if err := json.Unmarshal(rec.Value, &cl); err != nil {
		return nil, errors.Wrap(err, "failed to decode change list")
	}
	return &cl, nil
}

// ListCLsByPath returns every change-list scoped under path.
func (s *Store) ListCLsByPath(path string) ([]*ChangeList, error) {
	var out []*ChangeList
	s.db.Iterate(storage.MakePrefix([]byte(prefixCLs)), true, func(rec *storage.Record) bool {
		var cl ChangeList
		if err := json.Unmarshal(rec.Value, &cl); err != nil {
			return false
		}
		if cl.Path == path {
			out = append(out, &cl)
		}
		return false
	})
	return out, nil
}

// transitions encodes the legal CL status state machine.
var transitions = map[CLStatus]map[CLStatus]bool{
	CLOpen:   {CLMerged: true, CLClosed: true},
	CLClosed: {CLOpen: true},
	CLMerged: {},
}

// ErrIllegalTransition indicates a CL status change outside the state
// machine Open -> {Merged, Closed}, Closed -> Open.
var ErrIllegalTransition = errors.New("illegal change list transition")

// TransitionCL moves cl.Status to next, rejecting any move the state
// machine forbids (e.g. Merged -> anything).
func (s *Store) TransitionCL(link string, next CLStatus) error {
	cl, err := s.GetCL(link)
	if err != nil {
		return err
	}
	if cl.Status == next {
		return nil
	}
	if !transitions[cl.Status][next] {
		return errors.Wrapf(ErrIllegalTransition, "%s -> %s", cl.Status, next)
	}
	cl.Status = next
	b, err := json.Marshal(cl)
	if err != nil {
		return err
	}
	return s.db.Put(storage.NewRecord([]byte(cl.Link), b, []byte(prefixCLs)))
}

// UpdateCLTip advances ToHash as new commits land on the CL's source ref.
func (s *Store) UpdateCLTip(link, newToHash string) error {
	cl, err := s.GetCL(link)
	if err != nil {
		return err
	}
	if cl.Status != CLOpen {
		return errors.Wrap(ErrIllegalTransition, "cannot update tip of a non-open change list")
	}
	cl.ToHash = newToHash
	b, err := json.Marshal(cl)
	if err != nil {
		return err
	}
	return s.db.Put(storage.NewRecord([]byte(cl.Link), b, []byte(prefixCLs)))
}

// AddReviewer upserts a reviewer entry on a CL.
func (s *Store) AddReviewer(r *Reviewer) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return s.db.Put(storage.NewRecord([]byte(r.CLLink+"\x00"+r.Username), b, []byte(prefixReviewer)))
}

// SetApproval flips a reviewer's approval state.
func (s *Store) SetApproval(clLink, username string, approved bool) error {
	rec, err := s.db.Get(reviewerKey(clLink, username))
	if err != nil {
		if errors.Is(err, storage.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}
	var r Reviewer
	if err := json.Unmarshal(rec.Value, &r); err != nil {
		return err
	}
	r.Approved = approved
	return s.AddReviewer(&r)
}

// RemoveReviewer deletes a reviewer entry, used when SyncSystemReviewers
// drops a reviewer no longer implied by policy.
func (s *Store) RemoveReviewer(clLink, username string) error {
	return s.db.Del(reviewerKey(clLink, username))
}

// ListReviewers returns every reviewer on a CL.
func (s *Store) ListReviewers(clLink string) ([]*Reviewer, error) {
	var out []*Reviewer
	s.db.Iterate(storage.MakePrefix([]byte(prefixReviewer)), true, func(rec *storage.Record) bool {
		var r Reviewer
		if err := json.Unmarshal(rec.Value, &r); err != nil {
			return false
		}
		if r.CLLink == clLink {
			out = append(out, &r)
		}
		return false
	})
	return out, nil
}

// AllApproved reports whether every reviewer on the CL has approved. A CL
// with zero reviewers is not considered approved.
func (s *Store) AllApproved(clLink string) (bool, error) {
	reviewers, err := s.ListReviewers(clLink)
	if err != nil {
		return false, err
	}
	if len(reviewers) == 0 {
		return false, nil
	}
	for _, r := range reviewers {
		if !r.Approved {
			return false, nil
		}
	}
	return true, nil
}
