// Package processor implements the two-queue processing pipeline (C5):
// poll-claim-process-finish worker loops over the processing and
// recalculation queues, implementing the job algorithms of spec.md §4.5.
package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/orneryd/fraudgraph/pkg/audit"
	"github.com/orneryd/fraudgraph/pkg/feature"
	"github.com/orneryd/fraudgraph/pkg/graph"
	"github.com/orneryd/fraudgraph/pkg/scorer"
	"github.com/orneryd/fraudgraph/pkg/store"
)

// Discriminator picks the registered feature.Extractor discriminant for a
// payload, e.g. reading a "type" field out of the raw JSON.
type Discriminator func(payload json.RawMessage) (string, error)

// Config tunes worker behavior (spec.md §6 "Embedder API" tunables).
type Config struct {
	PollInterval         time.Duration
	JobDeadline          time.Duration
	MaxWorkers           int
	DefaultMaxDepth      int
	DefaultLimit         int
	DefaultMinConfidence int
	FilterConfig         graph.FilterConfig

	// Channels lists the active channels scored for every processed
	// transaction (spec.md §4.5 step 7: "each active channel of the
	// applicable model"). There is no per-payload channel selection: every
	// channel listed here that has a Scorer registered runs for every
	// transaction, and listed channels with no registered Scorer are
	// skipped.
	Channels []string
}

// DefaultConfig returns the tunable defaults named in spec.md §6.
func DefaultConfig() Config {
	return Config{
		PollInterval:         500 * time.Millisecond,
		JobDeadline:          30 * time.Second,
		MaxWorkers:           4,
		DefaultMaxDepth:      10,
		DefaultLimit:         1000,
		DefaultMinConfidence: 0,
		FilterConfig:         graph.FilterConfig{},
	}
}

// Processor wires together the Store, matching graph, and the
// registered extractors/scorers that the two worker loops (worker.go)
// drive through the job algorithms (job.go).
type Processor struct {
	Store        store.Engine
	Graph        *graph.Engine
	Matchers     graph.MatcherRegistry
	Extractors   *feature.Registry
	Scorers      *scorer.Registry
	Audit        *audit.Logger
	Discriminate Discriminator
	Config       Config
}

// New constructs a Processor. discriminate selects which registered
// extractor handles a given payload; it is typically a thin wrapper
// reading a type/channel discriminant out of the raw payload JSON.
func New(st store.Engine, matchers graph.MatcherRegistry, extractors *feature.Registry, scorers *scorer.Registry, auditLog *audit.Logger, discriminate Discriminator, cfg Config) *Processor {
	return &Processor{
		Store:        st,
		Graph:        graph.New(st),
		Matchers:     matchers,
		Extractors:   extractors,
		Scorers:      scorers,
		Audit:        auditLog,
		Discriminate: discriminate,
		Config:       cfg,
	}
}

// Start builds and launches the worker pool: Config.MaxWorkers pollers on
// the processing queue and Config.MaxWorkers on the recalculation queue,
// all driven by ctx. Call Stop on the returned pool for cooperative
// shutdown (spec.md §6 "Shutdown is cooperative").
func (p *Processor) Start(ctx context.Context) *WorkerPool {
	pool := &WorkerPool{}
	for i := 0; i < p.Config.MaxWorkers; i++ {
		pool.workers = append(pool.workers,
			newWorker(store.QueueProcessing, p.Store, p.processJob, p.Config.PollInterval, p.Config.JobDeadline))
	}
	for i := 0; i < p.Config.MaxWorkers; i++ {
		pool.workers = append(pool.workers,
			newWorker(store.QueueRecalculation, p.Store, p.recalcJob, p.Config.PollInterval, p.Config.JobDeadline))
	}
	pool.Start(ctx)
	return pool
}

func (p *Processor) traversalOptions() graph.Options {
	return graph.Options{
		MaxDepth:      p.Config.DefaultMaxDepth,
		Limit:         p.Config.DefaultLimit,
		MinConfidence: p.Config.DefaultMinConfidence,
		Filter:        p.Config.FilterConfig,
	}
}

func (p *Processor) extractorFor(payload json.RawMessage) (feature.Extractor, error) {
	discriminant, err := p.Discriminate(payload)
	if err != nil {
		return nil, fmt.Errorf("processor: discriminate payload: %w", err)
	}
	ext, ok := p.Extractors.Get(discriminant)
	if !ok {
		return nil, fmt.Errorf("processor: no extractor registered for discriminant %q", discriminant)
	}
	return ext, nil
}
