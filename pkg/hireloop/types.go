package hireloop

import (
	"strconv"
	"strings"
	"time"
)

// Job is one position on the hiring board. Order is its position among
// all jobs regardless of status; the set of orders is kept dense.
type Job struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Slug      string    `json:"slug"`
	Status    string    `json:"status"`
	Tags      []string  `json:"tags"`
	Order     int       `json:"order"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Candidate is one applicant in a job's pipeline.
type Candidate struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	JobID     string    `json:"jobId"`
	Stage     string    `json:"stage"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TimelineEntry is one event in a candidate's history. Kind is "created"
// or "stage_change"; stage changes carry both stages.
type TimelineEntry struct {
	ID          string    `json:"id"`
	CandidateID string    `json:"candidateId"`
	Kind        string    `json:"kind"`
	FromStage   string    `json:"fromStage"`
	ToStage     string    `json:"toStage"`
	At          time.Time `json:"at"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Note is a free-form remark on a candidate. Mentions are stored as
// given; rendering them is a client concern.
type Note struct {
	ID          string    `json:"id"`
	CandidateID string    `json:"candidateId"`
	Author      string    `json:"author"`
	Body        string    `json:"body"`
	Mentions    []string  `json:"mentions"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Question is one prompt in an assessment. Options apply to choice
// kinds, Min and Max bound numeric answers.
type Question struct {
	ID       string   `json:"id"`
	Kind     string   `json:"kind"`
	Label    string   `json:"label"`
	Required bool     `json:"required"`
	Options  []string `json:"options,omitempty"`
	Min      *float64 `json:"min,omitempty"`
	Max      *float64 `json:"max,omitempty"`
}

// Section groups questions under a heading.
type Section struct {
	Title     string     `json:"title"`
	Questions []Question `json:"questions"`
}

// Assessment is the questionnaire attached to a job. A job has at most
// one.
type Assessment struct {
	ID        string    `json:"id"`
	JobID     string    `json:"jobId"`
	Title     string    `json:"title"`
	Sections  []Section `json:"sections"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// AssessmentResponse is one candidate's validated answer set.
type AssessmentResponse struct {
	ID           string         `json:"id"`
	AssessmentID string         `json:"assessmentId"`
	CandidateID  string         `json:"candidateId"`
	Answers      map[string]any `json:"answers"`
	SubmittedAt  time.Time      `json:"submittedAt"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

// JobPage is one window of the board, sorted by order.
type JobPage struct {
	Jobs     []*Job `json:"data"`
	Total    int    `json:"total"`
	Page     int    `json:"page"`
	PageSize int    `json:"pageSize"`
}

// CandidatePage is one window of a candidate listing, oldest first.
type CandidatePage struct {
	Candidates []*Candidate `json:"data"`
	Total      int          `json:"total"`
	Page       int          `json:"page"`
	PageSize   int          `json:"pageSize"`
}

// TimelinePage is one window of a candidate's history, oldest first.
type TimelinePage struct {
	Entries  []*TimelineEntry `json:"data"`
	Total    int              `json:"total"`
	Page     int              `json:"page"`
	PageSize int              `json:"pageSize"`
}

// NotePage is one window of a candidate's notes, oldest first.
type NotePage struct {
	Notes    []*Note `json:"data"`
	Total    int     `json:"total"`
	Page     int     `json:"page"`
	PageSize int     `json:"pageSize"`
}

// JobFilter narrows and pages a job listing. A job matches Tags when it
// carries every listed tag. Zero fields are left to server defaults.
type JobFilter struct {
	Status   string
	Tags     []string
	Page     int
	PageSize int
}

func (f JobFilter) params() map[string]string {
	p := make(map[string]string, 4)
	if f.Status != "" {
		p["status"] = f.Status
	}
	if len(f.Tags) > 0 {
		p["tags"] = strings.Join(f.Tags, ",")
	}
	addPageParams(p, f.Page, f.PageSize)
	return p
}

// CandidateFilter narrows and pages a candidate listing. Search matches
// name or email, case-insensitively.
type CandidateFilter struct {
	Stage    string
	JobID    string
	Search   string
	Page     int
	PageSize int
}

func (f CandidateFilter) params() map[string]string {
	p := make(map[string]string, 5)
	if f.Stage != "" {
		p["stage"] = f.Stage
	}
	if f.JobID != "" {
		p["jobId"] = f.JobID
	}
	if f.Search != "" {
		p["search"] = f.Search
	}
	addPageParams(p, f.Page, f.PageSize)
	return p
}

// PageFilter selects one window of a paginated sub-resource.
type PageFilter struct {
	Page     int
	PageSize int
}

func (f PageFilter) params() map[string]string {
	p := make(map[string]string, 2)
	addPageParams(p, f.Page, f.PageSize)
	return p
}

func addPageParams(p map[string]string, page, size int) {
	if page > 0 {
		p["page"] = strconv.Itoa(page)
	}
	if size > 0 {
		p["pageSize"] = strconv.Itoa(size)
	}
}
