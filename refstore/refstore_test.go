package refstore

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/monogit/monogit/storage"
)

func newTestStore(t *testing.T) *Store {
	db := storage.NewBadger()
	require.NoError(t, db.Init(""))
	t.Cleanup(func() { _ = db.Close() })
	return New(db, nil)
}

func TestUpdateRef_AppendsReflog(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.UpdateRef("/proj", "refs/heads/main", "c1", "t1", ActionPush, "initial"))
	ref, err := s.GetRef("/proj", "refs/heads/main")
	require.NoError(t, err)
	require.Equal(t, "c1", ref.TargetCommitID)

	require.NoError(t, s.UpdateRef("/proj", "refs/heads/main", "c2", "t2", ActionPush, "fast-forward"))
	ref, err = s.GetRef("/proj", "refs/heads/main")
	require.NoError(t, err)
	require.Equal(t, "c2", ref.TargetCommitID)

	log := s.Reflog("refs/heads/main")
	require.Len(t, log, 2)
	require.Equal(t, "", log[0].OldOID)
	require.Equal(t, "c1", log[0].NewOID)
	require.Equal(t, "c1", log[1].OldOID)
	require.Equal(t, "c2", log[1].NewOID)
}

func TestGetRef_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetRef("/proj", "refs/heads/missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListRefs_FiltersByCLFlag(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.UpdateRef("/proj", "refs/heads/main", "c1", "t1", ActionPush, ""))
	require.NoError(t, s.CreateOrUpdateCLRef("/proj", "refs/cl/1", "c2", "t2"))

	branches, err := s.ListRefs("/proj", false)
	require.NoError(t, err)
	require.Len(t, branches, 1)
	require.Equal(t, "refs/heads/main", branches[0].RefName)

	cls, err := s.ListRefs("/proj", true)
	require.NoError(t, err)
	require.Len(t, cls, 1)
	require.Equal(t, "refs/cl/1", cls[0].RefName)
}

func TestBatchUpdateRefs_AllOrNothingOnSuccess(t *testing.T) {
	s := newTestStore(t)
	errs, err := s.BatchUpdateRefs([]RefUpdate{
		{Path: "/proj", RefName: "refs/heads/a", NewCommit: "c1", NewTree: "t1", Action: ActionPush},
		{Path: "/proj", RefName: "refs/heads/b", NewCommit: "c2", NewTree: "t2", Action: ActionPush},
	}, false)
	require.NoError(t, err)
	require.Equal(t, []error{nil, nil}, errs)

	a, err := s.GetRef("/proj", "refs/heads/a")
	require.NoError(t, err)
	require.Equal(t, "c1", a.TargetCommitID)
	b, err := s.GetRef("/proj", "refs/heads/b")
	require.NoError(t, err)
	require.Equal(t, "c2", b.TargetCommitID)
}

func TestBatchUpdateRefs_StalePushIsConflict(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.UpdateRef("/proj", "refs/heads/main", "c1", "t1", ActionPush, ""))

	// someone else moved main to c2 while this pusher still thinks it's c1.
	errs, err := s.BatchUpdateRefs([]RefUpdate{
		{Path: "/proj", RefName: "refs/heads/main", OldCommit: "c1", NewCommit: "c3", NewTree: "t3", Action: ActionPush},
	}, false)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	require.NoError(t, s.UpdateRef("/proj", "refs/heads/main", "c2", "t2", ActionPush, ""))

	errs, err = s.BatchUpdateRefs([]RefUpdate{
		{Path: "/proj", RefName: "refs/heads/main", OldCommit: "c1", NewCommit: "c3", NewTree: "t3", Action: ActionPush},
	}, false)
	require.NoError(t, err)
	require.ErrorIs(t, errs[0], ErrConflict)

	ref, err := s.GetRef("/proj", "refs/heads/main")
	require.NoError(t, err)
	require.Equal(t, "c2", ref.TargetCommitID, "conflicting update must not clobber the ref")
}

func TestBatchUpdateRefs_AtomicAbortsWholeBatchOnConflict(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.UpdateRef("/proj", "refs/heads/main", "c1", "t1", ActionPush, ""))

	errs, err := s.BatchUpdateRefs([]RefUpdate{
		{Path: "/proj", RefName: "refs/heads/main", OldCommit: "stale", NewCommit: "c2", NewTree: "t2", Action: ActionPush},
		{Path: "/proj", RefName: "refs/heads/other", NewCommit: "c3", NewTree: "t3", Action: ActionPush},
	}, true)
	require.NoError(t, err)
	require.ErrorIs(t, errs[0], ErrConflict)
	require.Error(t, errs[1])

	_, err = s.GetRef("/proj", "refs/heads/other")
	require.ErrorIs(t, err, ErrNotFound, "atomic batch must not apply any update when one conflicts")
}

func TestRemoveNonCLRefsUnder_KeepsCLRefs(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.UpdateRef("/proj", "refs/heads/main", "c1", "t1", ActionPush, ""))
	require.NoError(t, s.CreateOrUpdateCLRef("/proj", "refs/cl/1", "c2", "t2"))

	require.NoError(t, s.RemoveNonCLRefsUnder("/proj"))

	_, err := s.GetRef("/proj", "refs/heads/main")
	require.ErrorIs(t, err, ErrNotFound)
	cl, err := s.GetRef("/proj", "refs/cl/1")
	require.NoError(t, err)
	require.True(t, cl.IsCLRef)
}

func TestDeleteRef(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.UpdateRef("/proj", "refs/heads/tmp", "c1", "t1", ActionPush, ""))
	require.NoError(t, s.DeleteRef("/proj", "refs/heads/tmp"))
	_, err := s.GetRef("/proj", "refs/heads/tmp")
	require.ErrorIs(t, err, ErrNotFound)
}
