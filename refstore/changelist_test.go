package refstore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateCL_StartsOpen(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateCL(&ChangeList{Link: "cl-1", Path: "/proj", FromHash: "a", ToHash: "b", Title: "fix"}))

	cl, err := s.GetCL("cl-1")
	require.NoError(t, err)
	require.Equal(t, CLOpen, cl.Status)
}

func TestTransitionCL_ForbidsMergedToAnything(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateCL(&ChangeList{Link: "cl-1", Path: "/proj"}))
	require.NoError(t, s.TransitionCL("cl-1", CLMerged))

	err := s.TransitionCL("cl-1", CLOpen)
	require.ErrorIs(t, err, ErrIllegalTransition)
}

func TestTransitionCL_ClosedCanReopen(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateCL(&ChangeList{Link: "cl-1", Path: "/proj"}))
	require.NoError(t, s.TransitionCL("cl-1", CLClosed))
	require.NoError(t, s.TransitionCL("cl-1", CLOpen))

	cl, err := s.GetCL("cl-1")
	require.NoError(t, err)
	require.Equal(t, CLOpen, cl.Status)
}

func TestUpdateCLTip_RejectsOnClosedCL(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateCL(&ChangeList{Link: "cl-1", Path: "/proj", ToHash: "a"}))
	require.NoError(t, s.TransitionCL("cl-1", CLClosed))

	err := s.UpdateCLTip("cl-1", "b")
	require.ErrorIs(t, err, ErrIllegalTransition)
}

func TestReviewers_AllApprovedRequiresEveryone(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateCL(&ChangeList{Link: "cl-1", Path: "/proj"}))
	require.NoError(t, s.AddReviewer(&Reviewer{CLLink: "cl-1", Username: "alice", SystemRequired: true}))
	require.NoError(t, s.AddReviewer(&Reviewer{CLLink: "cl-1", Username: "bob"}))

	ok, err := s.AllApproved("cl-1")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.SetApproval("cl-1", "alice", true))
	ok, err = s.AllApproved("cl-1")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.SetApproval("cl-1", "bob", true))
	ok, err = s.AllApproved("cl-1")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestReviewers_NoneMeansNotApproved(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateCL(&ChangeList{Link: "cl-1", Path: "/proj"}))
	ok, err := s.AllApproved("cl-1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRemoveReviewer(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateCL(&ChangeList{Link: "cl-1", Path: "/proj"}))
	require.NoError(t, s.AddReviewer(&Reviewer{CLLink: "cl-1", Username: "alice"}))
	require.NoError(t, s.RemoveReviewer("cl-1", "alice"))

	reviewers, err := s.ListReviewers("cl-1")
	require.NoError(t, err)
	require.Len(t, reviewers, 0)
}
