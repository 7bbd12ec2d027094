// Package main provides the HireLoop CLI entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hireloop/hireloop/pkg/backend"
	"github.com/hireloop/hireloop/pkg/config"
	"github.com/hireloop/hireloop/pkg/hireloop"
	"github.com/hireloop/hireloop/pkg/reorder"
	"github.com/hireloop/hireloop/pkg/store"
)

var (
	version   = "0.1.0"
	commit    = "dev"
	buildTime = "unknown" // Set via ldflags: -X main.buildTime=$(date +%Y%m%d-%H%M%S)
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "hireloop",
		Short: "HireLoop - Hiring pipeline with an optimistic client cache",
		Long: `HireLoop is a hiring-pipeline backend with an optimistic mutation
layer, modeling the manager's browser session: reads are cached and
revalidated in the background, writes preview instantly and reconcile
against a simulated unreliable server.

Features:
  • Jobs board with dense drag-and-drop ordering
  • Candidate pipeline with stage history and notes
  • Per-job assessment forms with validated submissions
  • Stale-while-revalidate query cache with coalesced fetches
  • Simulated transport: uniform latency and injected write failures
  • BadgerDB persistence (or pure in-memory)`,
	}

	// Version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("HireLoop v%s (%s) built %s\n", version, commit, buildTime)
		},
	})

	// Serve command
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HireLoop HTTP API",
		Long: "Serve the hiring-pipeline HTTP API straight off the store. The\n" +
			"simulated latency and failure injection live in the client library,\n" +
			"not here; this surface answers at disk speed.",
		RunE: runServe,
	}
	serveCmd.Flags().String("address", getEnvStr("HIRELOOP_ADDRESS", "127.0.0.1"), "Bind address (127.0.0.1 for localhost only, 0.0.0.0 for all interfaces)")
	serveCmd.Flags().Int("port", getEnvInt("HIRELOOP_PORT", 8080), "HTTP API port")
	serveCmd.Flags().String("data-dir", getEnvStr("HIRELOOP_DATA_DIR", "./data"), "Data directory (empty = in-memory)")
	rootCmd.AddCommand(serveCmd)

	// Seed command
	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Seed a deterministic dataset",
		Long:  "Seed the store with a reproducible dataset of jobs, candidates,\nhistories, notes and assessments. The same seed produces the same data.",
		RunE:  runSeed,
	}
	seedCmd.Flags().String("data-dir", getEnvStr("HIRELOOP_DATA_DIR", "./data"), "Data directory (empty = in-memory)")
	seedCmd.Flags().Int("jobs", getEnvInt("HIRELOOP_SEED_JOBS", 25), "Number of jobs to seed")
	seedCmd.Flags().Int("candidates", getEnvInt("HIRELOOP_SEED_CANDIDATES", 1000), "Number of candidates to seed")
	seedCmd.Flags().Int64("seed", getEnvInt64("HIRELOOP_SEED", 42), "Random seed")
	rootCmd.AddCommand(seedCmd)

	// Check command
	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Check the job board's order invariant",
		Long:  "Verify that job orders form a dense permutation of 0..N-1, and\noptionally renumber them when they do not.",
		RunE:  runCheck,
	}
	checkCmd.Flags().String("data-dir", getEnvStr("HIRELOOP_DATA_DIR", "./data"), "Data directory (empty = in-memory)")
	checkCmd.Flags().Bool("repair", false, "Rewrite orders densely when broken")
	rootCmd.AddCommand(checkCmd)

	// Demo command
	demoCmd := &cobra.Command{
		Use:   "demo",
		Short: "Narrated tour of the optimistic write cycle",
		Long:  "Run an in-memory store behind the simulated wire and narrate the\noptimistic lifecycle: cached reads, instant previews, reconciliation\nand a forced rollback.",
		RunE:  runDemo,
	}
	demoCmd.Flags().Int("jobs", 8, "Number of jobs to seed")
	demoCmd.Flags().Int("candidates", 40, "Number of candidates to seed")
	demoCmd.Flags().Int64("seed", 42, "Random seed")
	rootCmd.AddCommand(demoCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig follows the usual precedence: defaults, then the first
// config file found, then HIRELOOP_* environment variables.
func loadConfig() *config.Config {
	configPath := config.FindConfigFile()
	if configPath == "" {
		return config.LoadFromEnv()
	}
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		fmt.Printf("⚠️  Warning: failed to load config from %s: %v\n", configPath, err)
		return config.LoadFromEnv()
	}
	fmt.Printf("📄 Loaded config from: %s\n", configPath)
	return cfg
}

func runServe(cmd *cobra.Command, args []string) error {
	address, _ := cmd.Flags().GetString("address")
	port, _ := cmd.Flags().GetInt("port")
	dataDir, _ := cmd.Flags().GetString("data-dir")

	cfg := loadConfig()
	if cmd.Flags().Changed("data-dir") || cfg.Store.DataDir == "" {
		cfg.Store.DataDir = dataDir
	}

	log := buildLogger(cfg.Logging)

	fmt.Printf("🚀 Starting HireLoop API v%s\n", version)
	fmt.Printf("   Data directory:  %s\n", displayDir(cfg.Store.DataDir))
	fmt.Printf("   Listening:       http://%s:%d\n", displayAddr(address), port)
	fmt.Println()

	if cfg.Store.DataDir != "" {
		if err := os.MkdirAll(cfg.Store.DataDir, 0755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
	}

	engine, err := openEngine(cfg.Store.DataDir)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer engine.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","version":%q}`, version)
	})
	mux.Handle("/", backend.New(engine))

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", address, port),
		Handler:           loggingMiddleware(log, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	fmt.Println("Endpoints:")
	fmt.Printf("  • Jobs:         http://%s:%d/jobs\n", displayAddr(address), port)
	fmt.Printf("  • Candidates:   http://%s:%d/candidates\n", displayAddr(address), port)
	fmt.Printf("  • Assessments:  http://%s:%d/assessments/{jobId}\n", displayAddr(address), port)
	fmt.Printf("  • Health:       http://%s:%d/health\n", displayAddr(address), port)
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-sigChan:
	}

	fmt.Println("\n🛑 Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("stopping server: %w", err)
	}

	fmt.Println("✅ Server stopped gracefully")
	return nil
}

func runSeed(cmd *cobra.Command, args []string) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	jobs, _ := cmd.Flags().GetInt("jobs")
	candidates, _ := cmd.Flags().GetInt("candidates")
	seedVal, _ := cmd.Flags().GetInt64("seed")

	cfg := loadConfig()
	if cmd.Flags().Changed("data-dir") || cfg.Store.DataDir == "" {
		cfg.Store.DataDir = dataDir
	}
	if cmd.Flags().Changed("jobs") {
		cfg.Seed.Jobs = jobs
	}
	if cmd.Flags().Changed("candidates") {
		cfg.Seed.Candidates = candidates
	}
	if cmd.Flags().Changed("seed") {
		cfg.Seed.Seed = seedVal
	}

	fmt.Printf("🌱 Seeding %d jobs and %d candidates into %s (seed %d)\n",
		cfg.Seed.Jobs, cfg.Seed.Candidates, displayDir(cfg.Store.DataDir), cfg.Seed.Seed)

	db, err := hireloop.Open(cfg.Store.DataDir, cfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	start := time.Now()
	if err := db.Seed(context.Background(), hireloop.SeedOptions{}); err != nil {
		return fmt.Errorf("seeding: %w", err)
	}
	fmt.Printf("✅ Seeded in %v\n", time.Since(start).Round(time.Millisecond))
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Serve the API:    hireloop serve --data-dir", cfg.Store.DataDir)
	fmt.Println("  2. Check the board:  hireloop check --data-dir", cfg.Store.DataDir)

	return nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	repair, _ := cmd.Flags().GetBool("repair")

	fmt.Printf("📂 Opening store at %s...\n", displayDir(dataDir))
	engine, err := openEngine(dataDir)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer engine.Close()

	recs, err := engine.List(store.Jobs, nil)
	if err != nil {
		return fmt.Errorf("listing jobs: %w", err)
	}
	if len(recs) == 0 {
		fmt.Println("✅ board is empty, nothing to check")
		return nil
	}

	checkErr := reorder.CheckDense(reorder.Orders(recs))
	if checkErr == nil {
		fmt.Printf("✅ order set dense: %d jobs in positions 0..%d\n", len(recs), len(recs)-1)
		return nil
	}

	var repairErr *reorder.RepairError
	if errors.As(checkErr, &repairErr) {
		fmt.Println("❌ Job order set is broken:")
		if len(repairErr.Duplicates) > 0 {
			fmt.Printf("   duplicates:   %v\n", repairErr.Duplicates)
		}
		if len(repairErr.Missing) > 0 {
			fmt.Printf("   missing:      %v\n", repairErr.Missing)
		}
		if len(repairErr.OutOfRange) > 0 {
			fmt.Printf("   out of range: %v\n", repairErr.OutOfRange)
		}
	}
	if !repair {
		return checkErr
	}

	// Keep the board's current visual sequence: sort by the broken
	// orders, break ties by id, then renumber.
	fmt.Println("🔧 Renumbering jobs densely...")
	sort.Slice(recs, func(i, j int) bool {
		oi, _ := recs[i].Int(reorder.OrderField)
		oj, _ := recs[j].Int(reorder.OrderField)
		if oi != oj {
			return oi < oj
		}
		return recs[i].ID < recs[j].ID
	})
	for i, rec := range recs {
		if cur, ok := rec.Int(reorder.OrderField); ok && cur == i {
			continue
		}
		if _, err := engine.UpdateFields(store.Jobs, rec.ID, map[string]any{reorder.OrderField: i}); err != nil {
			return fmt.Errorf("renumbering job %s: %w", rec.ID, err)
		}
	}
	fmt.Printf("✅ Repaired: %d jobs renumbered to 0..%d\n", len(recs), len(recs)-1)

	return nil
}

// openEngine selects the store the same way the library does: an empty
// data directory means in-memory.
func openEngine(dataDir string) (store.Engine, error) {
	if dataDir == "" {
		return store.NewMemoryEngine(), nil
	}
	return store.NewBadgerEngine(dataDir)
}

func buildLogger(cfg config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// loggingMiddleware logs one line per request.
func loggingMiddleware(log *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start).Round(time.Microsecond),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func displayDir(dataDir string) string {
	if dataDir == "" {
		return "(in-memory)"
	}
	return dataDir
}

// displayAddr maps the all-interfaces bind address to something
// clickable.
func displayAddr(address string) string {
	if address == "0.0.0.0" {
		return "localhost"
	}
	return address
}

// getEnvStr returns environment variable value or default
func getEnvStr(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// getEnvInt returns environment variable as int or default
func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// getEnvInt64 returns environment variable as int64 or default
func getEnvInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}
