package store

import (
	"fmt"
	"time"
)

// jobRecord builds a minimal job record for tests.
func jobRecord(id string, order int, status string) *Record {
	now := time.Now()
	return &Record{
		ID: RecordID(id),
		Fields: map[string]any{
			"title":  "Job " + id,
			"slug":   "job-" + id,
			"status": status,
			"order":  order,
			"tags":   []string{"remote", "senior"},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// candidateRecord builds a minimal candidate record for tests.
func candidateRecord(id, jobID, stage string) *Record {
	now := time.Now()
	return &Record{
		ID: RecordID(id),
		Fields: map[string]any{
			"name":  "Candidate " + id,
			"email": fmt.Sprintf("%s@example.com", id),
			"jobId": jobID,
			"stage": stage,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}
