package hireloop

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hireloop/hireloop/pkg/mutate"
	"github.com/hireloop/hireloop/pkg/query"
	"github.com/hireloop/hireloop/pkg/reorder"
)

// ListJobs returns one window of the board, sorted by order. Fresh pages
// come straight from the cache; stale ones are served immediately while a
// revalidation runs behind them.
func (db *DB) ListJobs(ctx context.Context, f JobFilter) (*JobPage, error) {
	params := f.params()
	key := query.MakeKey(jobsResource, params)
	return getCached[JobPage](ctx, db, key, jobsResource, queryValues(params))
}

// GetJob returns one job. Missing jobs surface ErrNotFound.
func (db *DB) GetJob(ctx context.Context, id string) (*Job, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	path := jobsResource + "/" + id
	return getCached[Job](ctx, db, jobKey(id), path, nil)
}

// NewJob is the client-supplied part of a job. The server assigns id,
// slug, order and timestamps.
type NewJob struct {
	Title  string   `json:"title"`
	Status string   `json:"status,omitempty"`
	Tags   []string `json:"tags,omitempty"`
}

// CreateJob creates a job at the end of the board. Cached list pages
// matching the new job show a provisional entry until the write settles;
// a failure removes it again.
func (db *DB) CreateJob(ctx context.Context, in NewJob) (*Job, error) {
	now := db.clock.Now()
	prov := &Job{
		ID:        "pending-" + uuid.New().String(),
		Title:     strings.TrimSpace(in.Title),
		Status:    in.Status,
		Tags:      append([]string(nil), in.Tags...),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if prov.Status == "" {
		prov.Status = "active"
	}

	var out Job
	err := db.runWrite(ctx, mutate.Mutation{
		Name: "job.create",
		Keys: db.cachedListKeys(jobsResource),
		Transform: func(key query.Key, prev any) any {
			page, ok := prev.(*JobPage)
			if !ok || !jobMatchesKey(prov, key) {
				return prev
			}
			next := *page
			next.Total = page.Total + 1
			if pageHoldsIndex(page.Page, page.PageSize, page.Total) {
				p := *prov
				p.Order = page.Total
				next.Jobs = append(append([]*Job(nil), page.Jobs...), &p)
			}
			return &next
		},
		Write: func(ctx context.Context) (json.RawMessage, error) {
			return db.do(ctx, "POST", jobsResource, nil, in)
		},
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// JobPatch updates selected job fields. Nil fields are left untouched;
// the slug never changes after creation.
type JobPatch struct {
	Title  *string   `json:"title,omitempty"`
	Status *string   `json:"status,omitempty"`
	Tags   *[]string `json:"tags,omitempty"`
}

// UpdateJob patches one job. Cached entries preview the change
// immediately; a job whose patched form no longer matches a filtered
// page drops off that page.
func (db *DB) UpdateJob(ctx context.Context, id string, patch JobPatch) (*Job, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	now := db.clock.Now()

	var out Job
	err := db.runWrite(ctx, mutate.Mutation{
		Name: "job.update",
		Keys: db.withCachedKey(db.cachedListKeys(jobsResource), jobKey(id)),
		Transform: func(key query.Key, prev any) any {
			switch v := prev.(type) {
			case *Job:
				if v.ID == id {
					return patchedJob(v, patch, now)
				}
			case *JobPage:
				return patchJobPage(v, key, id, patch, now)
			}
			return prev
		},
		Write: func(ctx context.Context) (json.RawMessage, error) {
			return db.do(ctx, "PATCH", jobsResource+"/"+id, nil, patch)
		},
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ArchiveJob marks a job archived. Archived jobs keep their order slot,
// so the board stays dense across both statuses.
func (db *DB) ArchiveJob(ctx context.Context, id string) (*Job, error) {
	status := "archived"
	return db.UpdateJob(ctx, id, JobPatch{Status: &status})
}

type reorderBody struct {
	FromOrder int `json:"fromOrder"`
	ToOrder   int `json:"toOrder"`
}

// ReorderJob moves the job at fromOrder to toOrder. Every cached job
// entry previews its shifted position immediately; pages re-sort locally
// and cross-page moves settle at revalidation. The server refuses the
// move when its order set is not dense, surfacing a
// *reorder.RepairError through the reply.
func (db *DB) ReorderJob(ctx context.Context, id string, fromOrder, toOrder int) (*Job, error) {
	if id == "" {
		return nil, ErrNotFound
	}

	var out Job
	err := db.runWrite(ctx, mutate.Mutation{
		Name: "job.reorder",
		Keys: db.cache.KeysWithPrefix(query.KeyPrefix(jobsResource)),
		Transform: func(_ query.Key, prev any) any {
			switch v := prev.(type) {
			case *Job:
				next := *v
				next.Order = reorder.ShiftOrder(v.Order, fromOrder, toOrder)
				return &next
			case *JobPage:
				next := *v
				next.Jobs = make([]*Job, len(v.Jobs))
				for i, j := range v.Jobs {
					moved := *j
					moved.Order = reorder.ShiftOrder(j.Order, fromOrder, toOrder)
					next.Jobs[i] = &moved
				}
				sort.Slice(next.Jobs, func(i, j int) bool {
					return next.Jobs[i].Order < next.Jobs[j].Order
				})
				return &next
			}
			return prev
		},
		Write: func(ctx context.Context) (json.RawMessage, error) {
			return db.do(ctx, "PATCH", jobsResource+"/"+id+"/reorder", nil,
				reorderBody{FromOrder: fromOrder, ToOrder: toOrder})
		},
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// patchedJob returns a copy of j with the patch applied, previewing what
// the server will commit.
func patchedJob(j *Job, patch JobPatch, now time.Time) *Job {
	next := *j
	if patch.Title != nil {
		next.Title = strings.TrimSpace(*patch.Title)
	}
	if patch.Status != nil {
		next.Status = *patch.Status
	}
	if patch.Tags != nil {
		next.Tags = append([]string(nil), (*patch.Tags)...)
	}
	next.UpdatedAt = now
	return &next
}

// patchJobPage rewrites the page copy holding id. A patched job that no
// longer matches the page's filters is dropped from it.
func patchJobPage(page *JobPage, key query.Key, id string, patch JobPatch, now time.Time) *JobPage {
	for i, j := range page.Jobs {
		if j.ID != id {
			continue
		}
		patched := patchedJob(j, patch, now)
		next := *page
		if jobMatchesKey(patched, key) {
			next.Jobs = append([]*Job(nil), page.Jobs...)
			next.Jobs[i] = patched
		} else {
			next.Jobs = append(append([]*Job(nil), page.Jobs[:i]...), page.Jobs[i+1:]...)
			next.Total = page.Total - 1
		}
		return &next
	}
	return page
}

// jobMatchesKey reports whether a job belongs on the list page key
// identifies, honoring its status and tags filters.
func jobMatchesKey(j *Job, key query.Key) bool {
	params := keyParams(key)
	if s := params.Get("status"); s != "" && s != j.Status {
		return false
	}
	if raw := params.Get("tags"); raw != "" {
		for _, want := range strings.Split(raw, ",") {
			if want = strings.TrimSpace(want); want == "" {
				continue
			}
			if !hasTag(j.Tags, want) {
				return false
			}
		}
	}
	return true
}

func hasTag(tags []string, want string) bool {
	for _, t := range tags {
		if t == want {
			return true
		}
	}
	return false
}

// pageHoldsIndex reports whether a page window covers the collection
// index a newly appended record lands on.
func pageHoldsIndex(page, size, index int) bool {
	if size <= 0 {
		return false
	}
	end := page * size
	return index >= end-size && index < end
}
