package hireloop

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hireloop/hireloop/pkg/transport"
)

func TestListJobsServesFreshThenStale(t *testing.T) {
	db, clock := newTestDB(t)
	seedSmall(t, db)
	ctx := context.Background()

	page1, err := db.ListJobs(ctx, JobFilter{PageSize: 50})
	require.NoError(t, err)
	assert.Equal(t, 6, page1.Total)
	calls := db.TransportStats().Calls

	// Fresh hit: same cached object, no transport call.
	page2, err := db.ListJobs(ctx, JobFilter{PageSize: 50})
	require.NoError(t, err)
	assert.Same(t, page1, page2)
	assert.Equal(t, calls, db.TransportStats().Calls)

	// Stale hit: the old value is served immediately and a background
	// revalidation is scheduled.
	clock.Advance(2 * time.Hour)
	page3, err := db.ListJobs(ctx, JobFilter{PageSize: 50})
	require.NoError(t, err)
	assert.Same(t, page1, page3)

	db.Drain()
	assert.Equal(t, calls+1, db.TransportStats().Calls)

	page4, err := db.ListJobs(ctx, JobFilter{PageSize: 50})
	require.NoError(t, err)
	assert.NotSame(t, page1, page4)
	assert.Equal(t, page1.Total, page4.Total)
	assert.Equal(t, jobIDs(page1), jobIDs(page4))
}

func TestGetJobNotFound(t *testing.T) {
	db, _ := newTestDB(t)
	seedSmall(t, db)
	ctx := context.Background()

	_, err := db.GetJob(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = db.GetJob(ctx, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateJobOptimisticThenCommit(t *testing.T) {
	db := newSlowDB(t, 250*time.Millisecond, 0)
	seedSmall(t, db)
	ctx := context.Background()

	before, err := db.ListJobs(ctx, JobFilter{PageSize: 50})
	require.NoError(t, err)

	done := make(chan struct{})
	var created *Job
	var createErr error
	go func() {
		defer close(done)
		created, createErr = db.CreateJob(ctx, NewJob{Title: "ML Engineer", Tags: []string{"remote"}})
	}()

	// The provisional row lands in the cached page while the write is
	// still in flight.
	require.Eventually(t, func() bool {
		page, err := db.ListJobs(ctx, JobFilter{PageSize: 50})
		return err == nil && page.Total == before.Total+1
	}, 150*time.Millisecond, 5*time.Millisecond)

	page, err := db.ListJobs(ctx, JobFilter{PageSize: 50})
	require.NoError(t, err)
	prov := page.Jobs[len(page.Jobs)-1]
	assert.True(t, strings.HasPrefix(prov.ID, "pending-"), "provisional id, got %q", prov.ID)
	assert.Equal(t, "ML Engineer", prov.Title)
	assert.Empty(t, prov.Slug, "slug is server-assigned")

	<-done
	require.NoError(t, createErr)
	assert.Equal(t, "ml-engineer", created.Slug)
	assert.Equal(t, before.Total, created.Order)

	db.Drain()
	after, err := db.ListJobs(ctx, JobFilter{PageSize: 50})
	require.NoError(t, err)
	assert.Equal(t, before.Total+1, after.Total)
	for _, j := range after.Jobs {
		assert.False(t, strings.HasPrefix(j.ID, "pending-"), "provisional id survived reconciliation: %q", j.ID)
	}
}

func TestCreateJobRollsBackOnInjectedFailure(t *testing.T) {
	db := newSlowDB(t, 200*time.Millisecond, 1)
	seedSmall(t, db)
	ctx := context.Background()

	before, err := db.ListJobs(ctx, JobFilter{PageSize: 50})
	require.NoError(t, err)

	done := make(chan struct{})
	var createErr error
	go func() {
		defer close(done)
		_, createErr = db.CreateJob(ctx, NewJob{Title: "Doomed Role"})
	}()

	require.Eventually(t, func() bool {
		page, err := db.ListJobs(ctx, JobFilter{PageSize: 50})
		return err == nil && page.Total == before.Total+1
	}, 120*time.Millisecond, 5*time.Millisecond)

	<-done
	var serr *transport.ServerError
	require.ErrorAs(t, createErr, &serr)
	assert.Equal(t, 500, serr.Status)
	assert.Equal(t, int64(1), db.TransportStats().InjectedFailures)

	// Rollback restores the exact pre-mutation page object.
	after, err := db.ListJobs(ctx, JobFilter{PageSize: 50})
	require.NoError(t, err)
	assert.Same(t, before, after)
}

func TestReorderJobShiftsCachedOrders(t *testing.T) {
	db, _ := newTestDB(t)
	seedSmall(t, db)
	ctx := context.Background()

	page, err := db.ListJobs(ctx, JobFilter{PageSize: 50})
	require.NoError(t, err)
	require.Len(t, page.Jobs, 6)
	ids := jobIDs(page)

	// Cache one record so the shift is visible on it too.
	third, err := db.GetJob(ctx, ids[2])
	require.NoError(t, err)
	require.Equal(t, 2, third.Order)

	moved, err := db.ReorderJob(ctx, ids[4], 4, 1)
	require.NoError(t, err)
	assert.Equal(t, ids[4], moved.ID)
	assert.Equal(t, 1, moved.Order)

	want := []string{ids[0], ids[4], ids[1], ids[2], ids[3], ids[5]}
	mid, err := db.ListJobs(ctx, JobFilter{PageSize: 50})
	require.NoError(t, err)
	assert.Equal(t, want, jobIDs(mid))

	thirdAfter, err := db.GetJob(ctx, ids[2])
	require.NoError(t, err)
	assert.Equal(t, 3, thirdAfter.Order)

	db.Drain()
	require.NoError(t, db.CheckJobOrders())
	after, err := db.ListJobs(ctx, JobFilter{PageSize: 50})
	require.NoError(t, err)
	assert.Equal(t, want, jobIDs(after))
}

func TestReorderJobRejectsStaleFromOrder(t *testing.T) {
	db, _ := newTestDB(t)
	seedSmall(t, db)
	ctx := context.Background()

	page, err := db.ListJobs(ctx, JobFilter{PageSize: 50})
	require.NoError(t, err)
	ids := jobIDs(page)

	_, err = db.ReorderJob(ctx, ids[0], 3, 1)
	var serr *transport.ServerError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, 400, serr.Status)
	assert.Contains(t, serr.Message, "does not match")

	// The cache reconciles back to the server ordering.
	db.Drain()
	after, err := db.ListJobs(ctx, JobFilter{PageSize: 50})
	require.NoError(t, err)
	assert.Equal(t, ids, jobIDs(after))
	require.NoError(t, db.CheckJobOrders())
}

func TestArchiveJobDropsFromActivePage(t *testing.T) {
	db, _ := newTestDB(t)
	ctx := context.Background()

	created, err := db.CreateJob(ctx, NewJob{Title: "Ephemeral Role"})
	require.NoError(t, err)
	require.Equal(t, "active", created.Status)

	active, err := db.ListJobs(ctx, JobFilter{Status: "active", PageSize: 50})
	require.NoError(t, err)
	require.Equal(t, 1, active.Total)

	archived, err := db.ArchiveJob(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "archived", archived.Status)

	db.Drain()
	activeAfter, err := db.ListJobs(ctx, JobFilter{Status: "active", PageSize: 50})
	require.NoError(t, err)
	assert.Equal(t, 0, activeAfter.Total)
	assert.Empty(t, activeAfter.Jobs)

	got, err := db.GetJob(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "archived", got.Status)
}
