package hireloop

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hireloop/hireloop/pkg/transport"
)

func TestGetCandidateRoundTrip(t *testing.T) {
	db, _ := newTestDB(t)
	ctx := context.Background()

	job, err := db.CreateJob(ctx, NewJob{Title: "Support Engineer"})
	require.NoError(t, err)
	cand, err := db.CreateCandidate(ctx, NewCandidate{
		Name:  "Nora Vik",
		Email: "nora@example.com",
		JobID: job.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, "applied", cand.Stage)
	assert.False(t, strings.HasPrefix(cand.ID, "pending-"))

	got, err := db.GetCandidate(ctx, cand.ID)
	require.NoError(t, err)
	assert.Equal(t, cand.ID, got.ID)
	assert.Equal(t, "Nora Vik", got.Name)

	_, err = db.GetCandidate(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = db.GetCandidate(ctx, "")
	assert.ErrorIs(t, err, ErrNotFound)

	// Creating a candidate also opens its history.
	tl, err := db.CandidateTimeline(ctx, cand.ID, PageFilter{})
	require.NoError(t, err)
	require.Equal(t, 1, tl.Total)
	assert.Equal(t, "created", tl.Entries[0].Kind)
	assert.Equal(t, "applied", tl.Entries[0].ToStage)
}

func TestCreateCandidateRequiresKnownJob(t *testing.T) {
	db, _ := newTestDB(t)
	ctx := context.Background()

	_, err := db.CreateCandidate(ctx, NewCandidate{
		Name:  "Orphan",
		Email: "orphan@example.com",
		JobID: "no-such-job",
	})
	var serr *transport.ServerError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, 400, serr.Status)
	assert.Contains(t, serr.Message, "jobId")
}

func TestMoveCandidateWritesTimelineAndRefilters(t *testing.T) {
	db, _ := newTestDB(t)
	seedSmall(t, db)
	ctx := context.Background()

	all, err := db.ListCandidates(ctx, CandidateFilter{PageSize: 50})
	require.NoError(t, err)
	require.NotEmpty(t, all.Candidates)
	target := all.Candidates[0]
	toStage := "tech"
	if target.Stage == "tech" {
		toStage = "screen"
	}

	stagePage, err := db.ListCandidates(ctx, CandidateFilter{Stage: target.Stage, PageSize: 50})
	require.NoError(t, err)
	tl, err := db.CandidateTimeline(ctx, target.ID, PageFilter{PageSize: 50})
	require.NoError(t, err)

	moved, err := db.MoveCandidate(ctx, target.ID, toStage)
	require.NoError(t, err)
	assert.Equal(t, toStage, moved.Stage)

	db.Drain()

	tlAfter, err := db.CandidateTimeline(ctx, target.ID, PageFilter{PageSize: 50})
	require.NoError(t, err)
	require.Equal(t, tl.Total+1, tlAfter.Total)
	last := tlAfter.Entries[len(tlAfter.Entries)-1]
	assert.Equal(t, "stage_change", last.Kind)
	assert.Equal(t, target.Stage, last.FromStage)
	assert.Equal(t, toStage, last.ToStage)
	assert.False(t, strings.HasPrefix(last.ID, "pending-"))

	// The page filtered on the old stage no longer lists the candidate.
	stageAfter, err := db.ListCandidates(ctx, CandidateFilter{Stage: target.Stage, PageSize: 50})
	require.NoError(t, err)
	assert.Equal(t, stagePage.Total-1, stageAfter.Total)
	for _, c := range stageAfter.Candidates {
		assert.NotEqual(t, target.ID, c.ID)
	}

	got, err := db.GetCandidate(ctx, target.ID)
	require.NoError(t, err)
	assert.Equal(t, toStage, got.Stage)
}

func TestMoveCandidateRollbackRestoresCaches(t *testing.T) {
	db := newFailingDB(t)
	seedSmall(t, db)
	ctx := context.Background()

	all, err := db.ListCandidates(ctx, CandidateFilter{PageSize: 50})
	require.NoError(t, err)
	require.NotEmpty(t, all.Candidates)
	target := all.Candidates[0]
	toStage := "offer"
	if target.Stage == "offer" {
		toStage = "screen"
	}
	tl, err := db.CandidateTimeline(ctx, target.ID, PageFilter{PageSize: 50})
	require.NoError(t, err)

	moved, err := db.MoveCandidate(ctx, target.ID, toStage)
	require.Error(t, err)
	assert.Nil(t, moved)
	var serr *transport.ServerError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, 500, serr.Status)
	assert.Equal(t, int64(1), db.TransportStats().InjectedFailures)

	// Every touched entry is back to its exact pre-mutation object.
	allAfter, err := db.ListCandidates(ctx, CandidateFilter{PageSize: 50})
	require.NoError(t, err)
	assert.Same(t, all, allAfter)
	tlAfter, err := db.CandidateTimeline(ctx, target.ID, PageFilter{PageSize: 50})
	require.NoError(t, err)
	assert.Same(t, tl, tlAfter)
}

func TestAddNoteAppendsToCachedPage(t *testing.T) {
	db, _ := newTestDB(t)
	ctx := context.Background()

	job, err := db.CreateJob(ctx, NewJob{Title: "Platform Engineer"})
	require.NoError(t, err)
	cand, err := db.CreateCandidate(ctx, NewCandidate{
		Name:  "Ilya Brandt",
		Email: "ilya@example.com",
		JobID: job.ID,
	})
	require.NoError(t, err)

	notes, err := db.ListNotes(ctx, cand.ID, PageFilter{})
	require.NoError(t, err)
	require.Equal(t, 0, notes.Total)

	note, err := db.AddNote(ctx, cand.ID, NewNote{
		Author:   "margot",
		Body:     "Great intro call.",
		Mentions: []string{"felix"},
	})
	require.NoError(t, err)
	assert.False(t, strings.HasPrefix(note.ID, "pending-"))
	assert.Equal(t, "margot", note.Author)

	db.Drain()
	after, err := db.ListNotes(ctx, cand.ID, PageFilter{})
	require.NoError(t, err)
	require.Equal(t, 1, after.Total)
	assert.Equal(t, "Great intro call.", after.Notes[0].Body)
	assert.Equal(t, []string{"felix"}, after.Notes[0].Mentions)
}
