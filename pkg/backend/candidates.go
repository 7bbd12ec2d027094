package backend

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hireloop/hireloop/pkg/store"
	"github.com/hireloop/hireloop/pkg/transport"
)

func (b *Backend) registerCandidateRoutes() {
	b.handle("GET", "/candidates", b.listCandidates)
	b.handle("GET", "/candidates/:id", b.getCandidate)
	b.handle("POST", "/candidates", b.createCandidate)
	b.handle("PATCH", "/candidates/:id", b.patchCandidate)
	b.handle("GET", "/candidates/:id/timeline", b.candidateTimeline)
	b.handle("GET", "/candidates/:id/notes", b.listNotes)
	b.handle("POST", "/candidates/:id/notes", b.createNote)
}

// listCandidates filters by stage, job and a case-insensitive name/email
// substring, sorted oldest first.
func (b *Backend) listCandidates(ctx context.Context, req *transport.Request, _ map[string]string) (*transport.Response, error) {
	page, size, err := pageParams(req)
	if err != nil {
		return nil, err
	}
	stage := param(req, "stage")
	if stage != "" && !ValidStage(stage) {
		return nil, validationf("unknown stage %q", stage)
	}
	jobID := param(req, "jobId")
	search := strings.ToLower(param(req, "search"))

	// Prefer the narrower index when both filters are present.
	var recs []*store.Record
	switch {
	case jobID != "":
		recs, err = b.engine.ListIndexed(store.Candidates, "jobId", jobID)
	case stage != "":
		recs, err = b.engine.ListIndexed(store.Candidates, "stage", stage)
	default:
		recs, err = b.engine.List(store.Candidates, nil)
	}
	if err != nil {
		return nil, err
	}

	items := make([]map[string]any, 0, len(recs))
	for _, rec := range recs {
		if jobID != "" && stage != "" && rec.String("stage") != stage {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(rec.String("name")), search) &&
			!strings.Contains(strings.ToLower(rec.String("email")), search) {
			continue
		}
		items = append(items, wireRecord(rec))
	}
	sortByCreatedAt(items)

	return respond(200, paginate(items, page, size))
}

func (b *Backend) getCandidate(ctx context.Context, req *transport.Request, params map[string]string) (*transport.Response, error) {
	rec, err := b.engine.Get(store.Candidates, store.RecordID(params["id"]))
	if err != nil {
		return nil, err
	}
	return respond(200, wireRecord(rec))
}

type candidatePayload struct {
	Name  *string `json:"name"`
	Email *string `json:"email"`
	JobID *string `json:"jobId"`
	Stage *string `json:"stage"`
}

// createCandidate stores a new candidate and writes its "created" timeline
// entry. The referenced job must exist.
func (b *Backend) createCandidate(ctx context.Context, req *transport.Request, _ map[string]string) (*transport.Response, error) {
	var in candidatePayload
	if err := decodeBody(req, &in); err != nil {
		return nil, err
	}
	if in.Name == nil || strings.TrimSpace(*in.Name) == "" {
		return nil, validationf("name is required")
	}
	if in.Email == nil || !strings.Contains(*in.Email, "@") {
		return nil, validationf("valid email is required")
	}
	if in.JobID == nil || *in.JobID == "" {
		return nil, validationf("jobId is required")
	}
	stage := "applied"
	if in.Stage != nil {
		if !ValidStage(*in.Stage) {
			return nil, validationf("unknown stage %q", *in.Stage)
		}
		stage = *in.Stage
	}

	if _, err := b.engine.Get(store.Jobs, store.RecordID(*in.JobID)); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, validationf("unknown jobId %q", *in.JobID)
		}
		return nil, err
	}

	now := time.Now()
	rec := &store.Record{
		ID: store.RecordID(uuid.New().String()),
		Fields: map[string]any{
			"name":  strings.TrimSpace(*in.Name),
			"email": *in.Email,
			"jobId": *in.JobID,
			"stage": stage,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := b.engine.Put(store.Candidates, rec); err != nil {
		return nil, err
	}
	if err := b.writeTimeline(rec.ID, "created", "", stage, now); err != nil {
		return nil, err
	}
	return respond(201, wireRecord(rec))
}

// patchCandidate updates name, email or stage. A stage change also writes
// a stage_change timeline entry carrying both stages.
func (b *Backend) patchCandidate(ctx context.Context, req *transport.Request, params map[string]string) (*transport.Response, error) {
	var in candidatePayload
	if err := decodeBody(req, &in); err != nil {
		return nil, err
	}
	if in.JobID != nil {
		return nil, validationf("jobId cannot be changed")
	}

	id := store.RecordID(params["id"])
	current, err := b.engine.Get(store.Candidates, id)
	if err != nil {
		return nil, err
	}

	patch := make(map[string]any, 3)
	if in.Name != nil {
		if strings.TrimSpace(*in.Name) == "" {
			return nil, validationf("name cannot be empty")
		}
		patch["name"] = strings.TrimSpace(*in.Name)
	}
	if in.Email != nil {
		if !strings.Contains(*in.Email, "@") {
			return nil, validationf("valid email is required")
		}
		patch["email"] = *in.Email
	}
	fromStage := current.String("stage")
	stageChanged := false
	if in.Stage != nil {
		if !ValidStage(*in.Stage) {
			return nil, validationf("unknown stage %q", *in.Stage)
		}
		if *in.Stage != fromStage {
			patch["stage"] = *in.Stage
			stageChanged = true
		}
	}
	if len(patch) == 0 {
		return respond(200, wireRecord(current))
	}

	rec, err := b.engine.UpdateFields(store.Candidates, id, patch)
	if err != nil {
		return nil, err
	}
	if stageChanged {
		if err := b.writeTimeline(id, "stage_change", fromStage, *in.Stage, rec.UpdatedAt); err != nil {
			return nil, err
		}
	}
	return respond(200, wireRecord(rec))
}

// writeTimeline appends one entry to a candidate's history.
func (b *Backend) writeTimeline(candidateID store.RecordID, kind, fromStage, toStage string, at time.Time) error {
	entry := &store.Record{
		ID: store.RecordID(uuid.New().String()),
		Fields: map[string]any{
			"candidateId": string(candidateID),
			"kind":        kind,
			"fromStage":   fromStage,
			"toStage":     toStage,
			"at":          at.Format(time.RFC3339Nano),
		},
		CreatedAt: at,
		UpdatedAt: at,
	}
	return b.engine.Put(store.Timeline, entry)
}

func (b *Backend) candidateTimeline(ctx context.Context, req *transport.Request, params map[string]string) (*transport.Response, error) {
	page, size, err := pageParams(req)
	if err != nil {
		return nil, err
	}
	id := params["id"]
	if _, err := b.engine.Get(store.Candidates, store.RecordID(id)); err != nil {
		return nil, err
	}

	recs, err := b.engine.ListIndexed(store.Timeline, "candidateId", id)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(recs))
	for _, rec := range recs {
		items = append(items, wireRecord(rec))
	}
	sort.Slice(items, func(i, j int) bool {
		ai, _ := items[i]["at"].(string)
		aj, _ := items[j]["at"].(string)
		if ai != aj {
			return ai < aj
		}
		return wireID(items[i]) < wireID(items[j])
	})

	return respond(200, paginate(items, page, size))
}

func (b *Backend) listNotes(ctx context.Context, req *transport.Request, params map[string]string) (*transport.Response, error) {
	page, size, err := pageParams(req)
	if err != nil {
		return nil, err
	}
	id := params["id"]
	if _, err := b.engine.Get(store.Candidates, store.RecordID(id)); err != nil {
		return nil, err
	}

	recs, err := b.engine.ListIndexed(store.Notes, "candidateId", id)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(recs))
	for _, rec := range recs {
		items = append(items, wireRecord(rec))
	}
	sortByCreatedAt(items)

	return respond(200, paginate(items, page, size))
}

type notePayload struct {
	Author   string   `json:"author"`
	Body     string   `json:"body"`
	Mentions []string `json:"mentions"`
}

// createNote stores a note on a candidate. Mentions are stored as given;
// rendering them is a client concern.
func (b *Backend) createNote(ctx context.Context, req *transport.Request, params map[string]string) (*transport.Response, error) {
	var in notePayload
	if err := decodeBody(req, &in); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Author) == "" {
		return nil, validationf("author is required")
	}
	if strings.TrimSpace(in.Body) == "" {
		return nil, validationf("body is required")
	}

	id := store.RecordID(params["id"])
	if _, err := b.engine.Get(store.Candidates, id); err != nil {
		return nil, err
	}

	now := time.Now()
	rec := &store.Record{
		ID: store.RecordID(uuid.New().String()),
		Fields: map[string]any{
			"candidateId": string(id),
			"author":      in.Author,
			"body":        in.Body,
			"mentions":    in.Mentions,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := b.engine.Put(store.Notes, rec); err != nil {
		return nil, err
	}
	return respond(201, wireRecord(rec))
}

// ============================================================================
// Sorting helpers
// ============================================================================

func wireID(item map[string]any) string {
	s, _ := item["id"].(string)
	return s
}

// sortByCreatedAt orders wire objects oldest first, breaking ties by id so
// pagination windows are stable.
func sortByCreatedAt(items []map[string]any) {
	sort.Slice(items, func(i, j int) bool {
		ti, iok := items[i]["createdAt"].(time.Time)
		tj, jok := items[j]["createdAt"].(time.Time)
		if iok && jok && !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return wireID(items[i]) < wireID(items[j])
	})
}
