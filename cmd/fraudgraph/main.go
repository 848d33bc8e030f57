// Package main provides the fraudgraph CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/orneryd/fraudgraph/pkg/audit"
	"github.com/orneryd/fraudgraph/pkg/config"
	"github.com/orneryd/fraudgraph/pkg/feature"
	"github.com/orneryd/fraudgraph/pkg/graph"
	"github.com/orneryd/fraudgraph/pkg/processor"
	"github.com/orneryd/fraudgraph/pkg/scorer"
	"github.com/orneryd/fraudgraph/pkg/store"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "fraudgraph",
		Short: "fraudgraph - attribute-graph fraud detection core engine",
		Long: `fraudgraph links transactions through shared attributes into a
matching graph, extracts features from each transaction's neighborhood,
and scores it against one or more rule channels.`,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("fraudgraph v%s (%s)\n", version, commit)
		},
	})

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a new fraudgraph data directory",
		RunE:  runInit,
	}
	initCmd.Flags().String("data-dir", "./data", "Data directory")
	rootCmd.AddCommand(initCmd)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the fraudgraph processing engine",
		Long:  "Start the processing and recalculation worker pools against the configured store",
		RunE:  runServe,
	}
	serveCmd.Flags().String("data-dir", "", "Data directory (overrides FRAUDGRAPH_STORE_DATA_DIR)")
	serveCmd.Flags().Bool("memory-only", false, "Use the in-memory reference store instead of BadgerDB")
	serveCmd.Flags().Int("workers", 0, "Workers per queue (overrides FRAUDGRAPH_WORKER_MAX_WORKERS)")
	serveCmd.Flags().StringSlice("channel", nil, "Scoring channel to activate (repeatable)")
	rootCmd.AddCommand(serveCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runInit(cmd *cobra.Command, args []string) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")

	fmt.Printf("📂 Initializing fraudgraph data directory in %s\n", dataDir)

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", dataDir, err)
	}

	matchersPath := filepath.Join(dataDir, "matchers.yaml")
	matchersContent := `# fraudgraph matcher registry
matchers:
  customer.email:
    confidence: 100
    importance: 10
  customer.phone:
    confidence: 80
    importance: 8
  card.pan_hash:
    confidence: 100
    importance: 10
  device.fingerprint:
    confidence: 60
    importance: 5

filters:
  customer.email:
    timestamp_alpha_days: 30
  device.fingerprint:
    location_alpha_metres: 500
`
	if err := os.WriteFile(matchersPath, []byte(matchersContent), 0644); err != nil {
		return fmt.Errorf("writing matcher registry: %w", err)
	}

	fmt.Println("✅ Data directory initialized")
	fmt.Printf("   Matcher registry: %s\n", matchersPath)
	fmt.Println()
	fmt.Println("Next step:")
	fmt.Println("  fraudgraph serve --data-dir", dataDir)
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.LoadFromEnv()

	if dataDir, _ := cmd.Flags().GetString("data-dir"); dataDir != "" {
		cfg.Store.DataDir = dataDir
	}
	if memOnly, _ := cmd.Flags().GetBool("memory-only"); memOnly {
		cfg.Store.MemoryOnly = true
	}
	if workers, _ := cmd.Flags().GetInt("workers"); workers > 0 {
		cfg.Worker.MaxWorkers = workers
	}
	if channels, _ := cmd.Flags().GetStringSlice("channel"); len(channels) > 0 {
		cfg.Worker.Channels = channels
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	fmt.Printf("🚀 Starting fraudgraph v%s\n", version)
	fmt.Printf("   Data directory: %s\n", cfg.Store.DataDir)
	fmt.Printf("   Workers/queue:  %d\n", cfg.Worker.MaxWorkers)
	fmt.Printf("   Channels:       %v\n", cfg.Worker.Channels)
	fmt.Println()

	var eng store.Engine
	if cfg.Store.MemoryOnly {
		fmt.Println("📂 Using in-memory store (no persistence)")
		eng = store.NewMemoryEngine()
	} else {
		fmt.Println("📂 Opening BadgerDB store...")
		badgerEng, err := store.NewBadgerEngine(store.BadgerOptions{DataDir: cfg.Store.DataDir})
		if err != nil {
			return fmt.Errorf("opening store: %w", err)
		}
		eng = badgerEng
	}
	defer eng.Close()

	matchersPath := filepath.Join(cfg.Store.DataDir, "matchers.yaml")
	matchers := graph.MatcherRegistry{}
	var filterCfg graph.FilterConfig
	mf, err := config.LoadMatcherFile(matchersPath)
	switch {
	case err == nil:
		matchers = mf.MatcherRegistry()
		filterCfg = mf.FilterConfig()
	case errors.Is(err, os.ErrNotExist):
		fmt.Printf("⚠️  No matcher registry at %s, starting with an empty registry\n", matchersPath)
	default:
		// A present-but-invalid file (bad YAML, confidence out of [0,100])
		// fails startup rather than silently running with an empty registry.
		return fmt.Errorf("loading matcher registry: %w", err)
	}

	auditLogger, err := audit.NewLogger(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		LogPath:    cfg.Audit.LogPath,
		SyncWrites: cfg.Audit.SyncWrites,
	})
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}
	defer auditLogger.Close()

	extractors := feature.NewRegistry()
	if err := extractors.Register("default", newExampleExtractor()); err != nil {
		return fmt.Errorf("registering example extractor: %w", err)
	}

	scorers := scorer.NewRegistry()
	for _, channel := range cfg.Worker.Channels {
		if err := scorers.Register(channel, newExampleScorer()); err != nil {
			return fmt.Errorf("registering example scorer for %q: %w", channel, err)
		}
	}

	discriminate := func(payload json.RawMessage) (string, error) {
		return "default", nil
	}

	procCfg := processor.Config{
		PollInterval:         cfg.Worker.PollInterval,
		JobDeadline:          cfg.Worker.JobDeadline,
		MaxWorkers:           cfg.Worker.MaxWorkers,
		DefaultMaxDepth:      cfg.Graph.DefaultMaxDepth,
		DefaultLimit:         cfg.Graph.DefaultLimit,
		DefaultMinConfidence: cfg.Graph.DefaultMinConfidence,
		FilterConfig:         filterCfg,
		Channels:             cfg.Worker.Channels,
	}

	proc := processor.New(eng, matchers, extractors, scorers, auditLogger, discriminate, procCfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := proc.Start(ctx)

	fmt.Println()
	fmt.Println("✅ fraudgraph is running")
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\n🛑 Shutting down...")
	shutdownStart := time.Now()
	cancel()
	pool.Stop()
	fmt.Printf("✅ Stopped gracefully in %v\n", time.Since(shutdownStart))
	return nil
}
