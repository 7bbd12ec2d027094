package backend

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hireloop/hireloop/pkg/reorder"
	"github.com/hireloop/hireloop/pkg/store"
)

func TestCreateJobAssignsServerFields(t *testing.T) {
	b := newTestBackend(t)

	first := mustCreateJob(t, b, "Senior Go Engineer", "remote")
	assert.NotEmpty(t, first["id"])
	assert.Equal(t, "senior-go-engineer", first["slug"])
	assert.Equal(t, float64(0), first["order"])
	assert.Equal(t, "active", first["status"])
	assert.NotEmpty(t, first["createdAt"])

	second := mustCreateJob(t, b, "Staff Platform Engineer")
	assert.Equal(t, float64(1), second["order"])
	assert.NotEqual(t, first["id"], second["id"])
}

func TestCreateJobSlugUniqueness(t *testing.T) {
	b := newTestBackend(t)

	assert.Equal(t, "backend-engineer", mustCreateJob(t, b, "Backend Engineer")["slug"])
	assert.Equal(t, "backend-engineer-2", mustCreateJob(t, b, "Backend Engineer")["slug"])
	assert.Equal(t, "backend-engineer-3", mustCreateJob(t, b, "Backend  Engineer!")["slug"])
}

func TestCreateJobValidation(t *testing.T) {
	b := newTestBackend(t)

	_, err := do(t, b, "POST", "/jobs", nil, map[string]any{"title": "   "})
	assert.Equal(t, 400, errStatus(t, err))

	_, err = do(t, b, "POST", "/jobs", nil, map[string]any{"title": "OK", "status": "paused"})
	assert.Equal(t, 400, errStatus(t, err))

	count, cerr := b.Engine().Count(store.Jobs)
	require.NoError(t, cerr)
	assert.Zero(t, count, "validation failures must not write")
}

func TestListJobsFiltersSortsPaginates(t *testing.T) {
	b := newTestBackend(t)

	mustCreateJob(t, b, "Alpha", "remote", "senior")
	mustCreateJob(t, b, "Bravo", "remote")
	mustCreateJob(t, b, "Charlie", "onsite")
	mustCreateJob(t, b, "Delta")

	// Archive one.
	id := mustCreateJob(t, b, "Echo")["id"].(string)
	resp, err := do(t, b, "PATCH", "/jobs/"+id, nil, map[string]any{"status": "archived"})
	require.NoError(t, err)
	require.Equal(t, 200, resp.Status)

	resp, err = do(t, b, "GET", "/jobs", nil, nil)
	page := decodePage(t, mustOK(t, resp, err))
	assert.Equal(t, 5, page.Total)
	require.Len(t, page.Data, 5)
	// Sorted by order.
	for i, item := range page.Data {
		assert.Equal(t, float64(i), item["order"])
	}

	resp, err = do(t, b, "GET", "/jobs", url.Values{"status": {"active"}}, nil)
	page = decodePage(t, mustOK(t, resp, err))
	assert.Equal(t, 4, page.Total)

	resp, err = do(t, b, "GET", "/jobs", url.Values{"tags": {"remote"}}, nil)
	page = decodePage(t, mustOK(t, resp, err))
	assert.Equal(t, 2, page.Total)

	// All requested tags must match.
	resp, err = do(t, b, "GET", "/jobs", url.Values{"tags": {"remote,senior"}}, nil)
	page = decodePage(t, mustOK(t, resp, err))
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, "Alpha", page.Data[0]["title"])

	// Window 2 of size 2 out of 5.
	resp, err = do(t, b, "GET", "/jobs", url.Values{"page": {"2"}, "pageSize": {"2"}}, nil)
	page = decodePage(t, mustOK(t, resp, err))
	assert.Equal(t, 5, page.Total)
	require.Len(t, page.Data, 2)
	assert.Equal(t, float64(2), page.Data[0]["order"])

	_, err = do(t, b, "GET", "/jobs", url.Values{"sort": {"title"}}, nil)
	assert.Equal(t, 400, errStatus(t, err))
}

func TestPatchJob(t *testing.T) {
	b := newTestBackend(t)
	id := mustCreateJob(t, b, "Original Title")["id"].(string)

	resp, err := do(t, b, "PATCH", "/jobs/"+id, nil, map[string]any{"title": "New Title"})
	require.NoError(t, err)
	obj := decodeObj(t, resp)
	assert.Equal(t, "New Title", obj["title"])
	// Slug never changes after creation.
	assert.Equal(t, "original-title", obj["slug"])

	_, err = do(t, b, "PATCH", "/jobs/"+id, nil, map[string]any{})
	assert.Equal(t, 400, errStatus(t, err))

	_, err = do(t, b, "PATCH", "/jobs/missing", nil, map[string]any{"title": "X"})
	assert.Equal(t, 404, errStatus(t, err))
}

func TestReorderJobEndpoint(t *testing.T) {
	b := newTestBackend(t)

	ids := make([]string, 5)
	for i, title := range []string{"A", "B", "C", "D", "E"} {
		ids[i] = mustCreateJob(t, b, title)["id"].(string)
	}

	// Move D (order 3) to position 1.
	resp, err := do(t, b, "PATCH", "/jobs/"+ids[3]+"/reorder", nil,
		map[string]any{"fromOrder": 3, "toOrder": 1})
	require.NoError(t, err)
	moved := decodeObj(t, resp)
	assert.Equal(t, float64(1), moved["order"])

	recs, err := b.Engine().List(store.Jobs, nil)
	require.NoError(t, err)
	require.NoError(t, reorder.CheckDense(reorder.Orders(recs)))

	// B and C shifted up by one.
	orderOf := func(id string) float64 {
		rec, err := b.Engine().Get(store.Jobs, store.RecordID(id))
		require.NoError(t, err)
		o, _ := rec.Int("order")
		return float64(o)
	}
	assert.Equal(t, float64(0), orderOf(ids[0]))
	assert.Equal(t, float64(2), orderOf(ids[1]))
	assert.Equal(t, float64(3), orderOf(ids[2]))
	assert.Equal(t, float64(4), orderOf(ids[4]))
}

func TestReorderJobValidation(t *testing.T) {
	b := newTestBackend(t)
	ids := make([]string, 3)
	for i, title := range []string{"A", "B", "C"} {
		ids[i] = mustCreateJob(t, b, title)["id"].(string)
	}

	// Out-of-range target.
	_, err := do(t, b, "PATCH", "/jobs/"+ids[0]+"/reorder", nil,
		map[string]any{"fromOrder": 0, "toOrder": 7})
	require.Error(t, err)
	assert.Equal(t, 400, errStatus(t, err))
	var rverr *reorder.ValidationError
	assert.ErrorAs(t, err, &rverr)

	// Stale client view of the member's position.
	_, err = do(t, b, "PATCH", "/jobs/"+ids[0]+"/reorder", nil,
		map[string]any{"fromOrder": 2, "toOrder": 1})
	assert.Equal(t, 400, errStatus(t, err))

	// Missing fields.
	_, err = do(t, b, "PATCH", "/jobs/"+ids[0]+"/reorder", nil,
		map[string]any{"toOrder": 1})
	assert.Equal(t, 400, errStatus(t, err))

	// Nothing moved.
	recs, err := b.Engine().List(store.Jobs, nil)
	require.NoError(t, err)
	require.NoError(t, reorder.CheckDense(reorder.Orders(recs)))
}

func TestReorderJobRefusedWhileBroken(t *testing.T) {
	b := newTestBackend(t)
	ids := make([]string, 3)
	for i, title := range []string{"A", "B", "C"} {
		ids[i] = mustCreateJob(t, b, title)["id"].(string)
	}

	// Corrupt the order set behind the router's back.
	_, err := b.Engine().UpdateFields(store.Jobs, store.RecordID(ids[2]), map[string]any{"order": 99})
	require.NoError(t, err)

	_, err = do(t, b, "PATCH", "/jobs/"+ids[0]+"/reorder", nil,
		map[string]any{"fromOrder": 0, "toOrder": 1})
	require.Error(t, err)
	assert.Equal(t, 409, errStatus(t, err))

	var rerr *reorder.RepairError
	require.ErrorAs(t, err, &rerr)
	assert.Contains(t, rerr.OutOfRange, 99)
}
