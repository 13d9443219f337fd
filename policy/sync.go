package policy

import (
	"github.com/monogit/monogit/refstore"
)

// ReviewerStore is the subset of refstore.Store that SyncSystemReviewers
// needs, narrowed to keep this package testable against a fake.
type ReviewerStore interface {
	ListReviewers(clLink string) ([]*refstore.Reviewer, error)
	AddReviewer(r *refstore.Reviewer) error
	RemoveReviewer(clLink, username string) error
}

// SyncSystemReviewers reconciles a CL's system-required reviewers against
// the set policy currently implies for targetPath: reviewers no longer
// implied are removed (if still system-required and not yet approved
// weight is irrelevant, removal is unconditional since policy is the
// source of truth for this subset), and newly implied reviewers are added
// with SystemRequired=true. Manually added reviewers (SystemRequired=false)
// are left untouched.
func SyncSystemReviewers(store ReviewerStore, clLink string, policyFiles []PolicyFile, targetPath string) error {
	required := AggregateReviewers(policyFiles, targetPath)
	requiredSet := make(map[string]bool, len(required))
	for _, r := range required {
		requiredSet[r] = true
	}

	existing, err := store.ListReviewers(clLink)
	if err != nil {
		return err
	}
	existingSystem := make(map[string]bool)
	for _, r := range existing {
		if r.SystemRequired {
			existingSystem[r.Username] = true
			if !requiredSet[r.Username] {
				if err := store.RemoveReviewer(clLink, r.Username); err != nil {
					return err
				}
			}
		}
	}

	for _, username := range required {
		if existingSystem[username] {
			continue
		}
		if err := store.AddReviewer(&refstore.Reviewer{
			CLLink:         clLink,
			Username:       username,
			SystemRequired: true,
		}); err != nil {
			return err
		}
	}
	return nil
}
