package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hireloop/hireloop/pkg/config"
	"github.com/hireloop/hireloop/pkg/hireloop"
)

// demoConfig keeps the wire snappy enough to watch but slow enough that
// optimistic previews are visibly ahead of the server.
func demoConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Transport.LatencyMin = 150 * time.Millisecond
	cfg.Transport.LatencyMax = 450 * time.Millisecond
	cfg.Transport.FailureProbability = 0 // failures are staged in their own act
	cfg.Logging.Level = "WARN"
	return cfg
}

func runDemo(cmd *cobra.Command, args []string) error {
	jobs, _ := cmd.Flags().GetInt("jobs")
	candidates, _ := cmd.Flags().GetInt("candidates")
	seed, _ := cmd.Flags().GetInt64("seed")

	cfg := demoConfig()
	fmt.Println("🎬 HireLoop demo: optimistic writes over a simulated wire")
	fmt.Printf("   in-memory store, latency %v..%v, %d jobs / %d candidates (seed %d)\n",
		cfg.Transport.LatencyMin, cfg.Transport.LatencyMax, jobs, candidates, seed)

	db, err := hireloop.Open("", cfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.Seed(ctx, hireloop.SeedOptions{Jobs: jobs, Candidates: candidates, Seed: seed}); err != nil {
		return fmt.Errorf("seeding: %w", err)
	}

	// Act 1: the first read pays the wire, the second comes from cache.
	fmt.Println("\n📖 Act 1 - reads are cached")
	start := time.Now()
	page, err := db.ListJobs(ctx, hireloop.JobFilter{PageSize: 50})
	if err != nil {
		return err
	}
	fmt.Printf("   first list paid the wire: %d jobs in %v\n", page.Total, sinceMS(start))
	start = time.Now()
	page, err = db.ListJobs(ctx, hireloop.JobFilter{PageSize: 50})
	if err != nil {
		return err
	}
	fmt.Printf("   second list came from cache in %v\n", time.Since(start).Round(time.Microsecond))
	printBoard(page, 3)

	// Act 2: an optimistic create is visible before the server answers.
	fmt.Println("\n✍️  Act 2 - optimistic create")
	createDone := make(chan struct{})
	var created *hireloop.Job
	var createErr error
	go func() {
		defer close(createDone)
		created, createErr = db.CreateJob(ctx, hireloop.NewJob{Title: "ML Engineer", Tags: []string{"remote"}})
	}()
	mid, visible, err := waitForJobTotal(ctx, db, page.Total+1)
	if err != nil {
		return err
	}
	if prov := findPending(mid); prov != nil {
		fmt.Printf("   provisional row visible after %v: %q (id %s, no slug yet)\n", visible, prov.Title, prov.ID)
	}
	<-createDone
	if createErr != nil {
		return fmt.Errorf("creating job: %w", createErr)
	}
	fmt.Printf("   server committed: id=%s slug=%s order=%d\n", created.ID, created.Slug, created.Order)
	db.Drain()
	fmt.Println("   revalidated: the provisional row was replaced by the server's")

	// Act 3: reordering previews the whole shifted board at once.
	fmt.Println("\n🔀 Act 3 - optimistic reorder")
	page, err = db.ListJobs(ctx, hireloop.JobFilter{PageSize: 50})
	if err != nil {
		return err
	}
	last := page.Jobs[len(page.Jobs)-1]
	fmt.Printf("   moving %q from position %d to 0\n", last.Title, last.Order)
	if _, err := db.ReorderJob(ctx, last.ID, last.Order, 0); err != nil {
		return fmt.Errorf("reordering: %w", err)
	}
	page, err = db.ListJobs(ctx, hireloop.JobFilter{PageSize: 50})
	if err != nil {
		return err
	}
	printBoard(page, 3)
	db.Drain()
	if err := db.CheckJobOrders(); err != nil {
		return fmt.Errorf("order invariant broken: %w", err)
	}
	fmt.Println("   server confirms: orders are a dense 0..N-1 permutation")

	// Act 4: a stage move writes the candidate's history optimistically.
	fmt.Println("\n🧭 Act 4 - pipeline move with timeline")
	applied, err := db.ListCandidates(ctx, hireloop.CandidateFilter{Stage: "applied", PageSize: 1})
	if err != nil {
		return err
	}
	if len(applied.Candidates) == 0 {
		fmt.Println("   (no applied candidates in this seed, skipping)")
	} else {
		cand := applied.Candidates[0]
		timeline, err := db.CandidateTimeline(ctx, cand.ID, hireloop.PageFilter{PageSize: 50})
		if err != nil {
			return err
		}
		fmt.Printf("   %s: applied → screen (%d timeline entries so far)\n", cand.Name, timeline.Total)
		if _, err := db.MoveCandidate(ctx, cand.ID, "screen"); err != nil {
			return fmt.Errorf("moving candidate: %w", err)
		}
		db.Drain()
		timeline, err = db.CandidateTimeline(ctx, cand.ID, hireloop.PageFilter{PageSize: 50})
		if err != nil {
			return err
		}
		entry := timeline.Entries[len(timeline.Entries)-1]
		fmt.Printf("   history now has %d entries, last: %s %s→%s\n",
			timeline.Total, entry.Kind, entry.FromStage, entry.ToStage)
	}

	// Act 5: with every write failing, the preview appears and then the
	// board snaps back to its pre-write state.
	fmt.Println("\n💥 Act 5 - failed write rolls back")
	flakyCfg := demoConfig()
	flakyCfg.Transport.FailureProbability = 1
	flaky, err := hireloop.Open("", flakyCfg)
	if err != nil {
		return fmt.Errorf("opening flaky database: %w", err)
	}
	defer flaky.Close()
	if err := flaky.Seed(ctx, hireloop.SeedOptions{Jobs: 5, Candidates: 0, Seed: seed}); err != nil {
		return fmt.Errorf("seeding flaky store: %w", err)
	}
	before, err := flaky.ListJobs(ctx, hireloop.JobFilter{PageSize: 50})
	if err != nil {
		return err
	}
	rollbackDone := make(chan error, 1)
	go func() {
		_, err := flaky.CreateJob(ctx, hireloop.NewJob{Title: "Never Lands"})
		rollbackDone <- err
	}()
	if _, visible, err := waitForJobTotal(ctx, flaky, before.Total+1); err == nil {
		fmt.Printf("   provisional row visible after %v\n", visible)
	}
	writeErr := <-rollbackDone
	fmt.Printf("   write failed as expected: %v\n", writeErr)
	after, err := flaky.ListJobs(ctx, hireloop.JobFilter{PageSize: 50})
	if err != nil {
		return err
	}
	fmt.Printf("   board restored: %d jobs, pre-write page object back verbatim: %t\n",
		after.Total, after == before)

	s, fs := db.TransportStats(), flaky.TransportStats()
	fmt.Printf("\n📊 Wire stats: %d calls, %d writes, %d injected failures\n",
		s.Calls+fs.Calls, s.Writes+fs.Writes, s.InjectedFailures+fs.InjectedFailures)

	return nil
}

// waitForJobTotal polls the cached jobs page until its total reaches
// want. Polling is cheap: the page is answered from cache while the
// write is in flight.
func waitForJobTotal(ctx context.Context, db *hireloop.DB, want int) (*hireloop.JobPage, time.Duration, error) {
	start := time.Now()
	deadline := start.Add(3 * time.Second)
	for {
		page, err := db.ListJobs(ctx, hireloop.JobFilter{PageSize: 50})
		if err != nil {
			return nil, 0, err
		}
		if page.Total >= want {
			return page, time.Since(start).Round(time.Millisecond), nil
		}
		if time.Now().After(deadline) {
			return page, 0, fmt.Errorf("timed out waiting for job total %d", want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func findPending(page *hireloop.JobPage) *hireloop.Job {
	for _, j := range page.Jobs {
		if strings.HasPrefix(j.ID, "pending-") {
			return j
		}
	}
	return nil
}

func printBoard(page *hireloop.JobPage, n int) {
	for i, j := range page.Jobs {
		if i >= n {
			fmt.Printf("   … %d more\n", len(page.Jobs)-n)
			return
		}
		fmt.Printf("   %d. %s  [%s]\n", j.Order, j.Title, j.ID)
	}
}

func sinceMS(start time.Time) time.Duration {
	return time.Since(start).Round(time.Millisecond)
}
