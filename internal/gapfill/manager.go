// Package gapfill walks each node's expected fixed-interval timeline, finds
// contiguous missing ranges against the persisted series and drives the
// synthesizer across them in strict chronological order. Nodes are
// independent and filled concurrently; within a node the walk is sequential
// because every step's continuity blend depends on the previous value.
package gapfill

import (
	"context"
	"fmt"
	"hash/fnv"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hydronet/telemetry/internal/models"
	"github.com/hydronet/telemetry/internal/pattern"
	"github.com/hydronet/telemetry/internal/synth"
	"github.com/hydronet/telemetry/internal/weather"
)

// ReadingStore is the storage contract the manager writes through. Inserts
// must be idempotent: a write for an already-occupied (node_id, ts) key is a
// silent no-op, reported through the inserted count, never an error and
// never an overwrite.
type ReadingStore interface {
	ExistingTimestamps(ctx context.Context, nodeID string, from, to time.Time) ([]time.Time, error)
	LastReadingBefore(ctx context.Context, nodeID string, ts time.Time) (*models.Reading, error)
	InsertReadings(ctx context.Context, readings []models.Reading) (inserted int, err error)
}

const (
	defaultWorkers   = 4
	defaultBatchSize = 500
)

// Options tunes the manager's concurrency and batching.
type Options struct {
	Workers   int
	BatchSize int
	// Seed feeds the per-node random sources. Each node derives its own
	// seed from Seed and its id, so results do not depend on worker
	// scheduling.
	Seed int64
}

// Manager orchestrates gap detection and backfill across nodes.
type Manager struct {
	store    ReadingStore
	patterns *pattern.Store
	synthCfg synth.Config
	opts     Options
}

// New builds a Manager. Zero worker or batch options take defaults.
func New(store ReadingStore, patterns *pattern.Store, synthCfg synth.Config, opts Options) *Manager {
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	return &Manager{store: store, patterns: patterns, synthCfg: synthCfg, opts: opts}
}

// DetectGaps compares the persisted timestamps against the expected tick
// grid over [from, to] and returns the contiguous missing ranges. Bounds are
// aligned to the interval grid; both gap bounds are inclusive ticks.
func DetectGaps(nodeID string, existing []time.Time, from, to time.Time, interval time.Duration) []models.Gap {
	if interval <= 0 || to.Before(from) {
		return nil
	}
	from = from.Truncate(interval)
	to = to.Truncate(interval)

	have := make(map[int64]struct{}, len(existing))
	for _, ts := range existing {
		have[ts.Truncate(interval).Unix()] = struct{}{}
	}

	var gaps []models.Gap
	var open *models.Gap
	for t := from; !t.After(to); t = t.Add(interval) {
		if _, ok := have[t.Unix()]; ok {
			if open != nil {
				gaps = append(gaps, *open)
				open = nil
			}
			continue
		}
		if open == nil {
			open = &models.Gap{NodeID: nodeID, Start: t, End: t}
		} else {
			open.End = t
		}
	}
	if open != nil {
		gaps = append(gaps, *open)
	}
	return gaps
}

// FillNode detects and fills one node's gaps over [from, to]. The walk is
// strictly forward in time; continuity state is re-seeded from the last
// persisted reading before each gap and threaded through every synthesized
// step. A persistence failure aborts this node only and reports the
// unfilled remainder as still-gapped. Cancellation is honored at
// committed-batch boundaries so a stopped run leaves no partial batch.
func (m *Manager) FillNode(ctx context.Context, node models.Node, from, to time.Time, obs *weather.Observation) models.NodeOutcome {
	out := models.NodeOutcome{NodeID: node.ID}

	existing, err := m.store.ExistingTimestamps(ctx, node.ID, from, to)
	if err != nil {
		out.Err = fmt.Errorf("list existing timestamps for node %s: %w", node.ID, err)
		return out
	}

	interval := m.synthCfg.SamplingInterval
	gaps := DetectGaps(node.ID, existing, from, to, interval)
	if len(gaps) == 0 {
		return out
	}

	rng := rand.New(rand.NewSource(m.nodeSeed(node.ID)))
	sy := synth.New(m.synthCfg, m.patterns, rng)

	batch := make([]models.Reading, 0, m.opts.BatchSize)
	for gi, g := range gaps {
		state := models.NewContinuityState()
		if last, lerr := m.store.LastReadingBefore(ctx, node.ID, g.Start); lerr == nil && last != nil {
			state.Observe(*last)
		}

		cursor := g.Start
		for !cursor.After(g.End) {
			batch = batch[:0]
			next := cursor
			for len(batch) < m.opts.BatchSize && !next.After(g.End) {
				r := sy.Generate(next, node, obs, state)
				state.Observe(r)
				batch = append(batch, r)
				next = next.Add(interval)
			}

			inserted, ierr := m.store.InsertReadings(ctx, batch)
			if ierr != nil {
				out.Err = fmt.Errorf("insert batch for node %s: %w", node.ID, ierr)
				out.RemainingGaps = append(out.RemainingGaps, models.Gap{NodeID: node.ID, Start: cursor, End: g.End})
				out.RemainingGaps = append(out.RemainingGaps, gaps[gi+1:]...)
				return out
			}
			out.Inserted += inserted
			out.Skipped += len(batch) - inserted
			cursor = next

			if cerr := ctx.Err(); cerr != nil {
				out.Err = cerr
				if !cursor.After(g.End) {
					out.RemainingGaps = append(out.RemainingGaps, models.Gap{NodeID: node.ID, Start: cursor, End: g.End})
				}
				out.RemainingGaps = append(out.RemainingGaps, gaps[gi+1:]...)
				return out
			}
		}
	}
	return out
}

// Run fills all nodes over [from, to] using a bounded worker pool. Each
// worker owns its node's continuity state and synthesizer for the duration
// of the pass; the weather observation is fetched once by the caller and
// shared read-only. A single node's failure never terminates the run.
func (m *Manager) Run(ctx context.Context, nodes []models.Node, from, to time.Time, obs *weather.Observation) models.RunSummary {
	summary := models.RunSummary{
		ID:        uuid.New().String(),
		StartedAt: time.Now().UTC(),
	}

	jobs := make(chan models.Node)
	results := make(chan models.NodeOutcome)

	var wg sync.WaitGroup
	for w := 0; w < m.opts.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for node := range jobs {
				results <- m.FillNode(ctx, node, from, to, obs)
			}
		}()
	}

	go func() {
		for _, node := range nodes {
			jobs <- node
		}
		close(jobs)
		wg.Wait()
		close(results)
	}()

	for out := range results {
		if out.Err != nil {
			summary.NodesFailed++
			log.Printf("gapfill: node %s failed: %v", out.NodeID, out.Err)
		} else {
			summary.NodesSucceeded++
		}
		summary.ReadingsInserted += out.Inserted
		summary.ReadingsSkipped += out.Skipped
		summary.GapsRemaining += len(out.RemainingGaps)
	}

	summary.FinishedAt = time.Now().UTC()
	return summary
}

func (m *Manager) nodeSeed(nodeID string) int64 {
	h := fnv.New64a()
	h.Write([]byte(nodeID))
	return m.opts.Seed ^ int64(h.Sum64())
}
