package hireloop

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hireloop/hireloop/pkg/backend"
	"github.com/hireloop/hireloop/pkg/store"
)

// SeedOptions sizes the deterministic dataset. Zero fields fall back to
// the configured seed section.
type SeedOptions struct {
	Jobs       int
	Candidates int
	Seed       int64
}

var seedTitles = []string{
	"Backend Engineer", "Frontend Engineer", "Platform Engineer",
	"Data Engineer", "Engineering Manager", "Product Designer",
	"QA Engineer", "Site Reliability Engineer", "Security Engineer",
	"Technical Writer", "Product Manager", "Mobile Engineer",
}

var seedLevels = []string{"", "Senior ", "Staff ", "Junior ", "Principal "}

var seedTags = []string{"remote", "senior", "contract", "onsite", "urgent", "junior"}

var seedFirstNames = []string{
	"Ada", "Bjarne", "Carol", "Dennis", "Edsger", "Frances", "Grace",
	"Hedy", "Ivan", "Jean", "Ken", "Linus", "Margaret", "Niklaus",
	"Olga", "Poul", "Radia", "Sophie", "Tim", "Ursula",
}

var seedLastNames = []string{
	"Andersen", "Berg", "Carlsen", "Dahl", "Eriksen", "Fossum",
	"Gundersen", "Halvorsen", "Iversen", "Johansen", "Kristiansen",
	"Larsen", "Moen", "Nilsen", "Olsen", "Pedersen",
}

var seedAuthors = []string{"margot", "felix", "priya", "dmitri"}

var seedNoteBodies = []string{
	"Strong take-home submission, worth fast-tracking.",
	"Asked thoughtful questions about the on-call rotation.",
	"Salary expectations are above the posted band.",
	"Referred by a current employee.",
	"Follow up after the holidays.",
	"Portfolio shows solid systems work.",
}

// pipeline is the forward stage progression; rejected can branch off any
// of the first four.
var pipeline = []string{"applied", "screen", "tech", "offer", "hired"}

// Seed loads a deterministic dataset directly into the store, bypassing
// the simulated channel: jobs with dense orders 0..N-1, candidates with
// staged histories, notes on a subset of candidates, and assessments on
// the first three jobs. The same options always produce the same
// dataset. Seeding an already-populated store fails with
// store.ErrAlreadyExists. The query cache is reset afterwards so reads
// observe the new data.
func (db *DB) Seed(ctx context.Context, opts SeedOptions) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if opts.Jobs <= 0 {
		opts.Jobs = db.cfg.Seed.Jobs
	}
	if opts.Candidates <= 0 {
		opts.Candidates = db.cfg.Seed.Candidates
	}
	if opts.Seed == 0 {
		opts.Seed = db.cfg.Seed.Seed
	}

	if opts.Jobs <= 0 && opts.Candidates > 0 {
		return fmt.Errorf("seed: %d candidates need at least one job", opts.Candidates)
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	base := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)

	jobs := seedJobs(rng, base, opts.Jobs)
	candidates, timeline, notes := seedCandidates(rng, base, opts.Candidates, jobs)
	assessments, err := seedAssessments(jobs)
	if err != nil {
		return fmt.Errorf("seed: %w", err)
	}

	var g errgroup.Group
	g.Go(func() error { return db.engine.BulkPut(store.Jobs, jobs) })
	g.Go(func() error { return db.engine.BulkPut(store.Candidates, candidates) })
	g.Go(func() error { return db.engine.BulkPut(store.Timeline, timeline) })
	g.Go(func() error { return db.engine.BulkPut(store.Notes, notes) })
	g.Go(func() error { return db.engine.BulkPut(store.Assessments, assessments) })
	if err := g.Wait(); err != nil {
		return fmt.Errorf("seed: %w", err)
	}

	db.cache.Reset()
	db.log.Info("seeded dataset",
		"jobs", len(jobs),
		"candidates", len(candidates),
		"timeline", len(timeline),
		"notes", len(notes),
		"assessments", len(assessments))
	return nil
}

func seedJobs(rng *rand.Rand, base time.Time, n int) []*store.Record {
	recs := make([]*store.Record, n)
	for i := 0; i < n; i++ {
		title := seedJobTitle(i)
		status := "active"
		if rng.Float64() < 0.2 {
			status = "archived"
		}
		var tags []string
		if count := rng.Intn(4); count > 0 {
			for _, pick := range rng.Perm(len(seedTags))[:count] {
				tags = append(tags, seedTags[pick])
			}
		}
		at := base.Add(time.Duration(i) * 26 * time.Hour)
		recs[i] = &store.Record{
			ID: store.RecordID(fmt.Sprintf("job-%03d", i+1)),
			Fields: map[string]any{
				"title":  title,
				"slug":   backend.Slugify(title),
				"status": status,
				"tags":   tags,
				"order":  i,
			},
			CreatedAt: at,
			UpdatedAt: at,
		}
	}
	return recs
}

// seedJobTitle combines levels and base titles so slugs stay unique
// without numeric suffixes for typical dataset sizes.
func seedJobTitle(i int) string {
	base := seedTitles[i%len(seedTitles)]
	level := i / len(seedTitles)
	if level == 0 {
		return base
	}
	if level < len(seedLevels) {
		return seedLevels[level] + base
	}
	return fmt.Sprintf("%s %d", base, level)
}

func seedCandidates(rng *rand.Rand, base time.Time, n int, jobs []*store.Record) (candidates, timeline, notes []*store.Record) {
	candidates = make([]*store.Record, 0, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("cand-%04d", i+1)
		first := seedFirstNames[rng.Intn(len(seedFirstNames))]
		last := seedLastNames[rng.Intn(len(seedLastNames))]
		jobID := string(jobs[rng.Intn(len(jobs))].ID)
		createdAt := base.Add(time.Duration(rng.Intn(90*24)) * time.Hour)

		stages, times := seedHistory(rng, createdAt)
		final := stages[len(stages)-1]

		events := seedTimelineEvents(id, stages, times)
		timeline = append(timeline, events...)

		candidates = append(candidates, &store.Record{
			ID: store.RecordID(id),
			Fields: map[string]any{
				"name":  first + " " + last,
				"email": fmt.Sprintf("%s.%s.%d@example.com", strings.ToLower(first), strings.ToLower(last), i+1),
				"jobId": jobID,
				"stage": final,
			},
			CreatedAt: createdAt,
			UpdatedAt: times[len(times)-1],
		})

		if rng.Float64() < 0.15 {
			notes = append(notes, seedNotes(rng, id, createdAt, 1+rng.Intn(2))...)
		}
	}
	return candidates, timeline, notes
}

// seedHistory draws a stage path: some forward progress through the
// pipeline, or an early exit to rejected. The returned slices are the
// visited stages and the instant each was entered.
func seedHistory(rng *rand.Rand, start time.Time) ([]string, []time.Time) {
	stages := []string{"applied"}
	times := []time.Time{start}
	at := start
	advance := func(stage string) {
		at = at.Add(time.Duration(2+rng.Intn(5)) * 24 * time.Hour)
		stages = append(stages, stage)
		times = append(times, at)
	}

	if rng.Float64() < 0.10 {
		// Rejected after reaching a random depth.
		depth := rng.Intn(4)
		for _, stage := range pipeline[1 : depth+1] {
			advance(stage)
		}
		advance("rejected")
		return stages, times
	}

	target := seedTargetStage(rng)
	for _, stage := range pipeline[1 : target+1] {
		advance(stage)
	}
	return stages, times
}

// seedTargetStage picks how far a non-rejected candidate has progressed,
// weighted toward the top of the funnel.
func seedTargetStage(rng *rand.Rand) int {
	r := rng.Float64()
	switch {
	case r < 0.40:
		return 0 // applied
	case r < 0.68:
		return 1 // screen
	case r < 0.88:
		return 2 // tech
	case r < 0.95:
		return 3 // offer
	default:
		return 4 // hired
	}
}

func seedTimelineEvents(candidateID string, stages []string, times []time.Time) []*store.Record {
	events := make([]*store.Record, 0, len(stages))
	for i, stage := range stages {
		kind, from := "stage_change", ""
		if i == 0 {
			kind = "created"
		} else {
			from = stages[i-1]
		}
		at := times[i]
		events = append(events, &store.Record{
			ID: store.RecordID(fmt.Sprintf("tl-%s-%d", candidateID, i)),
			Fields: map[string]any{
				"candidateId": candidateID,
				"kind":        kind,
				"fromStage":   from,
				"toStage":     stage,
				"at":          at.Format(time.RFC3339Nano),
			},
			CreatedAt: at,
			UpdatedAt: at,
		})
	}
	return events
}

func seedNotes(rng *rand.Rand, candidateID string, after time.Time, count int) []*store.Record {
	recs := make([]*store.Record, 0, count)
	for i := 0; i < count; i++ {
		at := after.Add(time.Duration(1+rng.Intn(10)) * 24 * time.Hour)
		var mentions []string
		if rng.Float64() < 0.3 {
			mentions = []string{seedAuthors[rng.Intn(len(seedAuthors))]}
		}
		recs = append(recs, &store.Record{
			ID: store.RecordID(fmt.Sprintf("note-%s-%d", candidateID, i)),
			Fields: map[string]any{
				"candidateId": candidateID,
				"author":      seedAuthors[rng.Intn(len(seedAuthors))],
				"body":        seedNoteBodies[rng.Intn(len(seedNoteBodies))],
				"mentions":    mentions,
			},
			CreatedAt: at,
			UpdatedAt: at,
		})
	}
	return recs
}

// seedAssessments attaches a fixed questionnaire to the first three jobs
// on the board.
func seedAssessments(jobs []*store.Record) ([]*store.Record, error) {
	n := 3
	if len(jobs) < n {
		n = len(jobs)
	}
	recs := make([]*store.Record, 0, n)
	for i := 0; i < n; i++ {
		draft := AssessmentDraft{
			Title: "Screening questions",
			Sections: []Section{
				{
					Title: "Background",
					Questions: []Question{
						{ID: "years", Kind: "numeric", Label: "Years of relevant experience", Required: true, Min: f64(0), Max: f64(40)},
						{ID: "summary", Kind: "long", Label: "Tell us about a system you are proud of", Required: true},
					},
				},
				{
					Title: "Logistics",
					Questions: []Question{
						{ID: "format", Kind: "single", Label: "Preferred working setup", Required: true, Options: []string{"remote", "hybrid", "onsite"}},
						{ID: "stack", Kind: "multi", Label: "Technologies you have shipped with", Options: []string{"go", "typescript", "rust", "python"}},
					},
				},
			},
		}
		fields, err := store.EncodeFields(draft)
		if err != nil {
			return nil, err
		}
		fields["jobId"] = string(jobs[i].ID)
		at := jobs[i].CreatedAt.Add(2 * time.Hour)
		recs = append(recs, &store.Record{
			ID:        store.RecordID("assess-" + string(jobs[i].ID)),
			Fields:    fields,
			CreatedAt: at,
			UpdatedAt: at,
		})
	}
	return recs, nil
}

func f64(v float64) *float64 { return &v }
