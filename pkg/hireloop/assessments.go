package hireloop

import (
	"context"
	"encoding/json"

	"github.com/hireloop/hireloop/pkg/mutate"
	"github.com/hireloop/hireloop/pkg/query"
)

// GetAssessment returns the assessment attached to a job, or ErrNotFound
// when the job has none yet.
func (db *DB) GetAssessment(ctx context.Context, jobID string) (*Assessment, error) {
	if jobID == "" {
		return nil, ErrNotFound
	}
	path := assessmentsResource + "/" + jobID
	return getCached[Assessment](ctx, db, assessmentKey(jobID), path, nil)
}

// AssessmentDraft is the client-editable part of an assessment.
type AssessmentDraft struct {
	Title    string    `json:"title"`
	Sections []Section `json:"sections"`
}

// SaveAssessment creates or replaces a job's assessment. A cached copy
// previews the draft until the write settles.
func (db *DB) SaveAssessment(ctx context.Context, jobID string, draft AssessmentDraft) (*Assessment, error) {
	if jobID == "" {
		return nil, ErrNotFound
	}
	now := db.clock.Now()

	var out Assessment
	err := db.runWrite(ctx, mutate.Mutation{
		Name: "assessment.save",
		Keys: db.withCachedKey(nil, assessmentKey(jobID)),
		Transform: func(_ query.Key, prev any) any {
			cur, ok := prev.(*Assessment)
			if !ok {
				return prev
			}
			next := *cur
			next.Title = draft.Title
			next.Sections = append([]Section(nil), draft.Sections...)
			next.UpdatedAt = now
			return &next
		},
		Write: func(ctx context.Context) (json.RawMessage, error) {
			return db.do(ctx, "PUT", assessmentsResource+"/"+jobID, nil, draft)
		},
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

type submitBody struct {
	CandidateID string         `json:"candidateId"`
	Answers     map[string]any `json:"answers"`
}

// SubmitResponse validates a candidate's answers against the job's
// assessment and stores them. Responses are not cached, so the mutation
// carries no optimistic preview.
func (db *DB) SubmitResponse(ctx context.Context, jobID, candidateID string, answers map[string]any) (*AssessmentResponse, error) {
	if jobID == "" {
		return nil, ErrNotFound
	}

	var out AssessmentResponse
	err := db.runWrite(ctx, mutate.Mutation{
		Name: "assessment.submit",
		Write: func(ctx context.Context) (json.RawMessage, error) {
			return db.do(ctx, "POST", assessmentsResource+"/"+jobID+"/submit", nil,
				submitBody{CandidateID: candidateID, Answers: answers})
		},
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}
