package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hireloop/hireloop/pkg/store"
	"github.com/hireloop/hireloop/pkg/transport"
)

func (b *Backend) registerAssessmentRoutes() {
	b.handle("GET", "/assessments/:jobId", b.getAssessment)
	b.handle("PUT", "/assessments/:jobId", b.putAssessment)
	b.handle("POST", "/assessments/:jobId/submit", b.submitResponse)
}

// Question kinds an assessment may carry.
var questionKinds = []string{"single", "multi", "short", "long", "numeric"}

func validQuestionKind(k string) bool {
	for _, kind := range questionKinds {
		if kind == k {
			return true
		}
	}
	return false
}

type assessmentPayload struct {
	Title    string           `json:"title"`
	Sections []sectionPayload `json:"sections"`
}

type sectionPayload struct {
	Title     string            `json:"title"`
	Questions []questionPayload `json:"questions"`
}

type questionPayload struct {
	ID       string   `json:"id"`
	Kind     string   `json:"kind"`
	Label    string   `json:"label"`
	Required bool     `json:"required"`
	Options  []string `json:"options,omitempty"`
	Min      *float64 `json:"min,omitempty"`
	Max      *float64 `json:"max,omitempty"`
}

// assessmentForJob resolves the single assessment attached to a job.
func (b *Backend) assessmentForJob(jobID string) (*store.Record, error) {
	recs, err := b.engine.ListIndexed(store.Assessments, "jobId", jobID)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, store.ErrNotFound
	}
	return recs[0], nil
}

func (b *Backend) getAssessment(ctx context.Context, req *transport.Request, params map[string]string) (*transport.Response, error) {
	rec, err := b.assessmentForJob(params["jobId"])
	if err != nil {
		return nil, err
	}
	return respond(200, wireRecord(rec))
}

// putAssessment creates or replaces the assessment for a job.
func (b *Backend) putAssessment(ctx context.Context, req *transport.Request, params map[string]string) (*transport.Response, error) {
	jobID := params["jobId"]
	if _, err := b.engine.Get(store.Jobs, store.RecordID(jobID)); err != nil {
		return nil, err
	}

	var in assessmentPayload
	if err := decodeBody(req, &in); err != nil {
		return nil, err
	}
	if err := validateAssessment(&in); err != nil {
		return nil, err
	}

	fields, err := store.EncodeFields(in)
	if err != nil {
		return nil, err
	}
	fields["jobId"] = jobID

	existing, err := b.assessmentForJob(jobID)
	switch {
	case err == nil:
		rec, err := b.engine.UpdateFields(store.Assessments, existing.ID, fields)
		if err != nil {
			return nil, err
		}
		return respond(200, wireRecord(rec))
	case errors.Is(err, store.ErrNotFound):
		now := time.Now()
		rec := &store.Record{
			ID:        store.RecordID(uuid.New().String()),
			Fields:    fields,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := b.engine.Put(store.Assessments, rec); err != nil {
			return nil, err
		}
		return respond(201, wireRecord(rec))
	default:
		return nil, err
	}
}

func validateAssessment(in *assessmentPayload) error {
	if strings.TrimSpace(in.Title) == "" {
		return validationf("title is required")
	}
	if len(in.Sections) == 0 {
		return validationf("at least one section is required")
	}
	seen := make(map[string]struct{})
	for si, sec := range in.Sections {
		if strings.TrimSpace(sec.Title) == "" {
			return validationf("section %d: title is required", si)
		}
		if len(sec.Questions) == 0 {
			return validationf("section %d: at least one question is required", si)
		}
		for qi, q := range sec.Questions {
			where := fmt.Sprintf("section %d question %d", si, qi)
			if q.ID == "" {
				return validationf("%s: id is required", where)
			}
			if _, dup := seen[q.ID]; dup {
				return validationf("%s: duplicate question id %q", where, q.ID)
			}
			seen[q.ID] = struct{}{}
			if strings.TrimSpace(q.Label) == "" {
				return validationf("%s: label is required", where)
			}
			if !validQuestionKind(q.Kind) {
				return validationf("%s: unknown kind %q", where, q.Kind)
			}
			switch q.Kind {
			case "single", "multi":
				if len(q.Options) == 0 {
					return validationf("%s: options are required for %s choice", where, q.Kind)
				}
			case "numeric":
				if q.Min != nil && q.Max != nil && *q.Min > *q.Max {
					return validationf("%s: min %v exceeds max %v", where, *q.Min, *q.Max)
				}
			}
		}
	}
	return nil
}

type submitPayload struct {
	CandidateID string         `json:"candidateId"`
	Answers     map[string]any `json:"answers"`
}

// submitResponse validates a candidate's answers against the job's
// assessment and stores them.
func (b *Backend) submitResponse(ctx context.Context, req *transport.Request, params map[string]string) (*transport.Response, error) {
	assessRec, err := b.assessmentForJob(params["jobId"])
	if err != nil {
		return nil, err
	}

	var in submitPayload
	if err := decodeBody(req, &in); err != nil {
		return nil, err
	}
	if in.CandidateID == "" {
		return nil, validationf("candidateId is required")
	}
	if _, err := b.engine.Get(store.Candidates, store.RecordID(in.CandidateID)); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, validationf("unknown candidateId %q", in.CandidateID)
		}
		return nil, err
	}

	var assess assessmentPayload
	if err := store.DecodeFields(assessRec.Fields, &assess); err != nil {
		return nil, err
	}
	if err := validateAnswers(&assess, in.Answers); err != nil {
		return nil, err
	}

	now := time.Now()
	rec := &store.Record{
		ID: store.RecordID(uuid.New().String()),
		Fields: map[string]any{
			"assessmentId": string(assessRec.ID),
			"candidateId":  in.CandidateID,
			"answers":      in.Answers,
			"submittedAt":  now.Format(time.RFC3339Nano),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := b.engine.Put(store.Responses, rec); err != nil {
		return nil, err
	}
	return respond(201, wireRecord(rec))
}

func validateAnswers(assess *assessmentPayload, answers map[string]any) error {
	byID := make(map[string]*questionPayload)
	for si := range assess.Sections {
		for qi := range assess.Sections[si].Questions {
			q := &assess.Sections[si].Questions[qi]
			byID[q.ID] = q
		}
	}

	for qid := range answers {
		if _, known := byID[qid]; !known {
			return validationf("answer for unknown question %q", qid)
		}
	}

	for qid, q := range byID {
		answer, present := answers[qid]
		if !present || answer == nil {
			if q.Required {
				return validationf("question %q requires an answer", qid)
			}
			continue
		}
		if err := checkAnswer(q, answer); err != nil {
			return err
		}
	}
	return nil
}

func checkAnswer(q *questionPayload, answer any) error {
	switch q.Kind {
	case "single":
		s, ok := answer.(string)
		if !ok || !optionOf(q, s) {
			return validationf("question %q: answer must be one of its options", q.ID)
		}
	case "multi":
		picks, ok := answer.([]any)
		if !ok {
			return validationf("question %q: answer must be a list of options", q.ID)
		}
		for _, p := range picks {
			s, ok := p.(string)
			if !ok || !optionOf(q, s) {
				return validationf("question %q: answer must be a list of its options", q.ID)
			}
		}
	case "short", "long":
		if _, ok := answer.(string); !ok {
			return validationf("question %q: answer must be text", q.ID)
		}
	case "numeric":
		n, ok := toNumber(answer)
		if !ok {
			return validationf("question %q: answer must be a number", q.ID)
		}
		if q.Min != nil && n < *q.Min {
			return validationf("question %q: answer %v below min %v", q.ID, n, *q.Min)
		}
		if q.Max != nil && n > *q.Max {
			return validationf("question %q: answer %v above max %v", q.ID, n, *q.Max)
		}
	}
	return nil
}

func optionOf(q *questionPayload, s string) bool {
	for _, o := range q.Options {
		if o == s {
			return true
		}
	}
	return false
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
