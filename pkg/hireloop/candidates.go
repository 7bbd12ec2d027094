package hireloop

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hireloop/hireloop/pkg/mutate"
	"github.com/hireloop/hireloop/pkg/query"
)

// ListCandidates returns one window of a candidate listing, oldest
// first.
func (db *DB) ListCandidates(ctx context.Context, f CandidateFilter) (*CandidatePage, error) {
	params := f.params()
	key := query.MakeKey(candidatesResource, params)
	return getCached[CandidatePage](ctx, db, key, candidatesResource, queryValues(params))
}

// GetCandidate returns one candidate. Missing candidates surface
// ErrNotFound.
func (db *DB) GetCandidate(ctx context.Context, id string) (*Candidate, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	path := candidatesResource + "/" + id
	return getCached[Candidate](ctx, db, candidateKey(id), path, nil)
}

// CandidateTimeline returns one window of a candidate's history, oldest
// first.
func (db *DB) CandidateTimeline(ctx context.Context, id string, f PageFilter) (*TimelinePage, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	params := f.params()
	path := timelineResource(id)
	return getCached[TimelinePage](ctx, db, query.MakeKey(path, params), path, queryValues(params))
}

// ListNotes returns one window of a candidate's notes, oldest first.
func (db *DB) ListNotes(ctx context.Context, id string, f PageFilter) (*NotePage, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	params := f.params()
	path := notesResource(id)
	return getCached[NotePage](ctx, db, query.MakeKey(path, params), path, queryValues(params))
}

func timelineResource(id string) string {
	return candidatesResource + "/" + id + "/timeline"
}

func notesResource(id string) string {
	return candidatesResource + "/" + id + "/notes"
}

// NewCandidate is the client-supplied part of a candidate. Stage
// defaults to "applied"; the referenced job must exist.
type NewCandidate struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	JobID string `json:"jobId"`
	Stage string `json:"stage,omitempty"`
}

// CreateCandidate adds a candidate to a job's pipeline. Cached list
// pages matching the new candidate show a provisional entry until the
// write settles.
func (db *DB) CreateCandidate(ctx context.Context, in NewCandidate) (*Candidate, error) {
	now := db.clock.Now()
	prov := &Candidate{
		ID:        "pending-" + uuid.New().String(),
		Name:      strings.TrimSpace(in.Name),
		Email:     in.Email,
		JobID:     in.JobID,
		Stage:     in.Stage,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if prov.Stage == "" {
		prov.Stage = "applied"
	}

	var out Candidate
	err := db.runWrite(ctx, mutate.Mutation{
		Name: "candidate.create",
		Keys: db.cachedListKeys(candidatesResource),
		Transform: func(key query.Key, prev any) any {
			page, ok := prev.(*CandidatePage)
			if !ok || !candidateMatchesKey(prov, key) {
				return prev
			}
			next := *page
			next.Total = page.Total + 1
			if pageHoldsIndex(page.Page, page.PageSize, page.Total) {
				c := *prov
				next.Candidates = append(append([]*Candidate(nil), page.Candidates...), &c)
			}
			return &next
		},
		Write: func(ctx context.Context) (json.RawMessage, error) {
			return db.do(ctx, "POST", candidatesResource, nil, in)
		},
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

type stageBody struct {
	Stage string `json:"stage"`
}

// MoveCandidate advances a candidate to another pipeline stage. Cached
// entries preview the move immediately, and when the current stage is
// known from the cache, cached timeline pages gain a provisional
// stage_change entry. A failure restores all of it.
func (db *DB) MoveCandidate(ctx context.Context, id, toStage string) (*Candidate, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	now := db.clock.Now()

	keys := db.withCachedKey(db.cachedListKeys(candidatesResource), candidateKey(id))
	var prov *TimelineEntry
	if fromStage, ok := db.cachedCandidateStage(id); ok && fromStage != toStage {
		prov = &TimelineEntry{
			ID:          "pending-" + uuid.New().String(),
			CandidateID: id,
			Kind:        "stage_change",
			FromStage:   fromStage,
			ToStage:     toStage,
			At:          now,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		keys = append(keys, db.cachedListKeys(timelineResource(id))...)
	}

	var out Candidate
	err := db.runWrite(ctx, mutate.Mutation{
		Name: "candidate.move",
		Keys: keys,
		Transform: func(key query.Key, prev any) any {
			switch v := prev.(type) {
			case *Candidate:
				if v.ID == id {
					next := *v
					next.Stage = toStage
					next.UpdatedAt = now
					return &next
				}
			case *CandidatePage:
				return moveCandidateInPage(v, key, id, toStage, now)
			case *TimelinePage:
				if prov == nil {
					return prev
				}
				next := *v
				next.Total = v.Total + 1
				if pageHoldsIndex(v.Page, v.PageSize, v.Total) {
					e := *prov
					next.Entries = append(append([]*TimelineEntry(nil), v.Entries...), &e)
				}
				return &next
			}
			return prev
		},
		Write: func(ctx context.Context) (json.RawMessage, error) {
			return db.do(ctx, "PATCH", candidatesResource+"/"+id, nil, stageBody{Stage: toStage})
		},
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// NewNote is the client-supplied part of a note.
type NewNote struct {
	Author   string   `json:"author"`
	Body     string   `json:"body"`
	Mentions []string `json:"mentions,omitempty"`
}

// AddNote attaches a note to a candidate. Cached note pages show it
// provisionally until the write settles.
func (db *DB) AddNote(ctx context.Context, candidateID string, in NewNote) (*Note, error) {
	if candidateID == "" {
		return nil, ErrNotFound
	}
	now := db.clock.Now()
	prov := &Note{
		ID:          "pending-" + uuid.New().String(),
		CandidateID: candidateID,
		Author:      in.Author,
		Body:        in.Body,
		Mentions:    append([]string(nil), in.Mentions...),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	var out Note
	err := db.runWrite(ctx, mutate.Mutation{
		Name: "note.add",
		Keys: db.cachedListKeys(notesResource(candidateID)),
		Transform: func(_ query.Key, prev any) any {
			page, ok := prev.(*NotePage)
			if !ok {
				return prev
			}
			next := *page
			next.Total = page.Total + 1
			if pageHoldsIndex(page.Page, page.PageSize, page.Total) {
				n := *prov
				next.Notes = append(append([]*Note(nil), page.Notes...), &n)
			}
			return &next
		},
		Write: func(ctx context.Context) (json.RawMessage, error) {
			return db.do(ctx, "POST", notesResource(candidateID), nil, in)
		},
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// cachedCandidateStage finds a candidate's current stage in the cache:
// the record entry first, then any cached list page.
func (db *DB) cachedCandidateStage(id string) (string, bool) {
	if e, ok := db.cache.Read(candidateKey(id)); ok {
		if c, ok := e.Data.(*Candidate); ok {
			return c.Stage, true
		}
	}
	for _, k := range db.cachedListKeys(candidatesResource) {
		e, ok := db.cache.Read(k)
		if !ok {
			continue
		}
		page, ok := e.Data.(*CandidatePage)
		if !ok {
			continue
		}
		for _, c := range page.Candidates {
			if c.ID == id {
				return c.Stage, true
			}
		}
	}
	return "", false
}

// moveCandidateInPage rewrites the page copy holding id. A candidate
// that no longer matches the page's stage filter drops off that page.
func moveCandidateInPage(page *CandidatePage, key query.Key, id, toStage string, now time.Time) *CandidatePage {
	for i, c := range page.Candidates {
		if c.ID != id {
			continue
		}
		moved := *c
		moved.Stage = toStage
		moved.UpdatedAt = now
		next := *page
		if candidateMatchesKey(&moved, key) {
			next.Candidates = append([]*Candidate(nil), page.Candidates...)
			next.Candidates[i] = &moved
		} else {
			next.Candidates = append(append([]*Candidate(nil), page.Candidates[:i]...), page.Candidates[i+1:]...)
			next.Total = page.Total - 1
		}
		return &next
	}
	return page
}

// candidateMatchesKey reports whether a candidate belongs on the list
// page key identifies, honoring its stage, job and search filters.
func candidateMatchesKey(c *Candidate, key query.Key) bool {
	params := keyParams(key)
	if s := params.Get("stage"); s != "" && s != c.Stage {
		return false
	}
	if j := params.Get("jobId"); j != "" && j != c.JobID {
		return false
	}
	if q := strings.ToLower(params.Get("search")); q != "" &&
		!strings.Contains(strings.ToLower(c.Name), q) &&
		!strings.Contains(strings.ToLower(c.Email), q) {
		return false
	}
	return true
}
