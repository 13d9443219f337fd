package policy

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/monogit/monogit/refstore"
)

type fakeReviewerStore struct {
	reviewers map[string]*refstore.Reviewer // key: clLink+"\x00"+username
}

func newFakeReviewerStore() *fakeReviewerStore {
	return &fakeReviewerStore{reviewers: map[string]*refstore.Reviewer{}}
}

func (f *fakeReviewerStore) key(clLink, username string) string { return clLink + "\x00" + username }

func (f *fakeReviewerStore) ListReviewers(clLink string) ([]*refstore.Reviewer, error) {
	var out []*refstore.Reviewer
	for _, r := range f.reviewers {
		if r.CLLink == clLink {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeReviewerStore) AddReviewer(r *refstore.Reviewer) error {
	f.reviewers[f.key(r.CLLink, r.Username)] = r
	return nil
}

func (f *fakeReviewerStore) RemoveReviewer(clLink, username string) error {
	delete(f.reviewers, f.key(clLink, username))
	return nil
}

func TestSyncSystemReviewers_AddsAndRemoves(t *testing.T) {
	store := newFakeReviewerStore()
	require.NoError(t, store.AddReviewer(&refstore.Reviewer{CLLink: "cl-1", Username: "stale_owner", SystemRequired: true}))
	require.NoError(t, store.AddReviewer(&refstore.Reviewer{CLLink: "cl-1", Username: "manual_reviewer", SystemRequired: false}))

	files := []PolicyFile{
		{Location: "/repo", Content: `permit(action == "code:review", principal, resource)
			when { resource.path.startsWith("service_a/") }
			to ["alice"];`},
	}

	require.NoError(t, SyncSystemReviewers(store, "cl-1", files, "service_a/main.rs"))

	reviewers, err := store.ListReviewers("cl-1")
	require.NoError(t, err)

	byName := map[string]*refstore.Reviewer{}
	for _, r := range reviewers {
		byName[r.Username] = r
	}
	require.NotContains(t, byName, "stale_owner")
	require.Contains(t, byName, "manual_reviewer")
	require.Contains(t, byName, "alice")
	require.True(t, byName["alice"].SystemRequired)
}

func TestSyncSystemReviewers_IdempotentOnRerun(t *testing.T) {
	store := newFakeReviewerStore()
	files := []PolicyFile{
		{Location: "/repo", Content: `permit(action == "code:review", principal, resource)
			when { resource.path.startsWith("") }
			to ["alice"];`},
	}
	require.NoError(t, SyncSystemReviewers(store, "cl-1", files, "any.rs"))
	require.NoError(t, SyncSystemReviewers(store, "cl-1", files, "any.rs"))

	reviewers, err := store.ListReviewers("cl-1")
	require.NoError(t, err)
	require.Len(t, reviewers, 1)
}
