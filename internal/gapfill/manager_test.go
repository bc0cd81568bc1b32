package gapfill

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/hydronet/telemetry/internal/models"
	"github.com/hydronet/telemetry/internal/pattern"
	"github.com/hydronet/telemetry/internal/synth"
)

// fakeStore is an in-memory ReadingStore with the same idempotent-insert
// contract as the Postgres store: conflicting (node_id, ts) keys are
// silently skipped.
type fakeStore struct {
	mu       sync.Mutex
	rows     map[string]map[int64]models.Reading
	failNode string
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[string]map[int64]models.Reading)}
}

func (f *fakeStore) seed(r models.Reading) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rows[r.NodeID] == nil {
		f.rows[r.NodeID] = make(map[int64]models.Reading)
	}
	f.rows[r.NodeID][r.TS.Unix()] = r
}

func (f *fakeStore) ExistingTimestamps(_ context.Context, nodeID string, from, to time.Time) ([]time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []time.Time
	for unix := range f.rows[nodeID] {
		ts := time.Unix(unix, 0).UTC()
		if !ts.Before(from) && !ts.After(to) {
			out = append(out, ts)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func (f *fakeStore) LastReadingBefore(_ context.Context, nodeID string, ts time.Time) (*models.Reading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var best *models.Reading
	for unix, r := range f.rows[nodeID] {
		t := time.Unix(unix, 0).UTC()
		if t.Before(ts) && (best == nil || t.After(best.TS)) {
			r := r
			best = &r
		}
	}
	return best, nil
}

func (f *fakeStore) InsertReadings(_ context.Context, readings []models.Reading) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNode != "" && len(readings) > 0 && readings[0].NodeID == f.failNode {
		return 0, errors.New("connection reset by peer")
	}
	inserted := 0
	for _, r := range readings {
		if f.rows[r.NodeID] == nil {
			f.rows[r.NodeID] = make(map[int64]models.Reading)
		}
		key := r.TS.Unix()
		if _, exists := f.rows[r.NodeID][key]; exists {
			continue
		}
		f.rows[r.NodeID][key] = r
		inserted++
	}
	return inserted, nil
}

func (f *fakeStore) snapshot(nodeID string) map[int64]models.Reading {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[int64]models.Reading, len(f.rows[nodeID]))
	for k, v := range f.rows[nodeID] {
		out[k] = v
	}
	return out
}

func testManager(fs ReadingStore, interval time.Duration, opts Options) *Manager {
	cfg := synth.DefaultConfig(interval)
	return New(fs, pattern.NewStore(), cfg, opts)
}

func day(n int) time.Time {
	return time.Date(2024, 2, n, 0, 0, 0, 0, time.UTC)
}

func TestDetectGapsReportsExactMissingRange(t *testing.T) {
	// Days 1-10 persisted except days 4 and 5.
	var existing []time.Time
	for d := 1; d <= 10; d++ {
		if d == 4 || d == 5 {
			continue
		}
		existing = append(existing, day(d))
	}

	gaps := DetectGaps("n1", existing, day(1), day(10), 24*time.Hour)
	if len(gaps) != 1 {
		t.Fatalf("expected exactly one gap, got %d: %+v", len(gaps), gaps)
	}
	if !gaps[0].Start.Equal(day(4)) || !gaps[0].End.Equal(day(5)) {
		t.Fatalf("gap = [%v, %v], want [day 4, day 5]", gaps[0].Start, gaps[0].End)
	}
	if gaps[0].Ticks(24*time.Hour) != 2 {
		t.Fatalf("gap ticks = %d, want 2", gaps[0].Ticks(24*time.Hour))
	}
}

func TestDetectGapsFullRangeAndNone(t *testing.T) {
	if gaps := DetectGaps("n1", nil, day(1), day(3), 24*time.Hour); len(gaps) != 1 {
		t.Fatalf("empty series must yield one full-range gap, got %+v", gaps)
	}

	full := []time.Time{day(1), day(2), day(3)}
	if gaps := DetectGaps("n1", full, day(1), day(3), 24*time.Hour); len(gaps) != 0 {
		t.Fatalf("complete series must yield no gaps, got %+v", gaps)
	}
}

func TestDetectGapsAtRangeEdges(t *testing.T) {
	existing := []time.Time{day(2), day(3)}
	gaps := DetectGaps("n1", existing, day(1), day(4), 24*time.Hour)
	if len(gaps) != 2 {
		t.Fatalf("expected gaps at both edges, got %+v", gaps)
	}
	if !gaps[0].Start.Equal(day(1)) || !gaps[0].End.Equal(day(1)) {
		t.Fatalf("leading gap = %+v", gaps[0])
	}
	if !gaps[1].Start.Equal(day(4)) || !gaps[1].End.Equal(day(4)) {
		t.Fatalf("trailing gap = %+v", gaps[1])
	}
}

func TestFillNodeIdempotentBackfill(t *testing.T) {
	fs := newFakeStore()
	interval := time.Hour
	mgr := testManager(fs, interval, Options{Seed: 7})

	node := models.Node{ID: "n1", Type: models.NodeDistribution}
	from := day(1)
	to := day(1).Add(23 * time.Hour)

	out := mgr.FillNode(context.Background(), node, from, to, nil)
	if out.Err != nil {
		t.Fatalf("unexpected error: %v", out.Err)
	}
	if out.Inserted != 24 || out.Skipped != 0 {
		t.Fatalf("first pass inserted=%d skipped=%d, want 24/0", out.Inserted, out.Skipped)
	}

	before := fs.snapshot("n1")

	out = mgr.FillNode(context.Background(), node, from, to, nil)
	if out.Err != nil {
		t.Fatalf("unexpected error on second pass: %v", out.Err)
	}
	if out.Inserted != 0 || out.Skipped != 24 {
		t.Fatalf("second pass inserted=%d skipped=%d, want 0/24", out.Inserted, out.Skipped)
	}

	after := fs.snapshot("n1")
	if len(before) != len(after) {
		t.Fatalf("row count changed: %d -> %d", len(before), len(after))
	}
	for key, r := range before {
		if after[key] != r {
			t.Fatalf("previously persisted reading at %d was modified", key)
		}
	}
}

func TestFillNodePreservesRealReadings(t *testing.T) {
	fs := newFakeStore()
	real := models.Reading{
		NodeID: "n1", TS: day(1).Add(5 * time.Hour),
		FlowRate: 123.4, Pressure: 4.5, Temperature: 19.1, QualityScore: 1.0,
	}
	fs.seed(real)

	mgr := testManager(fs, time.Hour, Options{Seed: 7})
	out := mgr.FillNode(context.Background(), models.Node{ID: "n1", Type: models.NodeMonitoring}, day(1), day(1).Add(23*time.Hour), nil)
	if out.Err != nil {
		t.Fatalf("unexpected error: %v", out.Err)
	}
	if out.Inserted != 23 {
		t.Fatalf("inserted = %d, want 23 around the real reading", out.Inserted)
	}

	stored := fs.snapshot("n1")[real.TS.Unix()]
	if stored != real {
		t.Fatalf("real reading was modified: %+v", stored)
	}
	if stored.Synthetic {
		t.Fatal("real reading must stay non-synthetic")
	}
}

func TestFillNodeTimestampsStrictlyIncrease(t *testing.T) {
	fs := newFakeStore()
	mgr := testManager(fs, time.Hour, Options{Seed: 7, BatchSize: 5})

	out := mgr.FillNode(context.Background(), models.Node{ID: "n1", Type: models.NodeStorage}, day(1), day(2), nil)
	if out.Err != nil {
		t.Fatalf("unexpected error: %v", out.Err)
	}

	rows := fs.snapshot("n1")
	keys := make([]int64, 0, len(rows))
	for k := range rows {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for i := 1; i < len(keys); i++ {
		if keys[i]-keys[i-1] != 3600 {
			t.Fatalf("non-contiguous timestamps at index %d", i)
		}
	}
}

func TestRunIsolatesNodeFailures(t *testing.T) {
	fs := newFakeStore()
	fs.failNode = "bad"

	mgr := testManager(fs, time.Hour, Options{Seed: 7, Workers: 2})
	nodes := []models.Node{
		{ID: "good", Type: models.NodeDistribution},
		{ID: "bad", Type: models.NodeDistribution},
	}

	summary := mgr.Run(context.Background(), nodes, day(1), day(1).Add(5*time.Hour), nil)

	if summary.NodesSucceeded != 1 || summary.NodesFailed != 1 {
		t.Fatalf("succeeded=%d failed=%d, want 1/1", summary.NodesSucceeded, summary.NodesFailed)
	}
	if summary.ReadingsInserted != 6 {
		t.Fatalf("inserted = %d, want 6 for the healthy node", summary.ReadingsInserted)
	}
	if summary.GapsRemaining == 0 {
		t.Fatal("failed node's range must remain flagged as gapped")
	}
	if len(fs.snapshot("bad")) != 0 {
		t.Fatal("failed node must not have partial rows from a failed batch")
	}
	if summary.ID == "" {
		t.Fatal("run summary must carry an id")
	}
}

func TestFillNodeFailureReportsRemainingRange(t *testing.T) {
	fs := newFakeStore()
	fs.failNode = "n1"

	mgr := testManager(fs, time.Hour, Options{Seed: 7})
	out := mgr.FillNode(context.Background(), models.Node{ID: "n1", Type: models.NodeMonitoring}, day(1), day(1).Add(5*time.Hour), nil)

	if out.Err == nil {
		t.Fatal("expected persistence error")
	}
	if len(out.RemainingGaps) != 1 {
		t.Fatalf("remaining gaps = %+v, want the whole range", out.RemainingGaps)
	}
	g := out.RemainingGaps[0]
	if !g.Start.Equal(day(1)) || !g.End.Equal(day(1).Add(5*time.Hour)) {
		t.Fatalf("remaining gap = [%v, %v]", g.Start, g.End)
	}
}

func TestFillNodeCancellationAtBatchBoundary(t *testing.T) {
	fs := newFakeStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	mgr := testManager(fs, time.Hour, Options{Seed: 7, BatchSize: 10})
	out := mgr.FillNode(ctx, models.Node{ID: "n1", Type: models.NodeMonitoring}, day(1), day(1).Add(23*time.Hour), nil)

	if !errors.Is(out.Err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", out.Err)
	}
	// The first batch commits in full; the rest is reported as still gapped.
	if out.Inserted != 10 {
		t.Fatalf("inserted = %d, want one committed batch of 10", out.Inserted)
	}
	if len(out.RemainingGaps) != 1 || !out.RemainingGaps[0].Start.Equal(day(1).Add(10*time.Hour)) {
		t.Fatalf("remaining gaps = %+v", out.RemainingGaps)
	}
}

func TestFillNodeDeterministicAcrossRuns(t *testing.T) {
	interval := time.Hour
	node := models.Node{ID: "n1", Type: models.NodeZoneMeter}

	runOnce := func() map[int64]models.Reading {
		fs := newFakeStore()
		mgr := testManager(fs, interval, Options{Seed: 99})
		if out := mgr.FillNode(context.Background(), node, day(1), day(2), nil); out.Err != nil {
			t.Fatalf("unexpected error: %v", out.Err)
		}
		return fs.snapshot("n1")
	}

	first := runOnce()
	second := runOnce()
	if len(first) != len(second) {
		t.Fatalf("row counts differ: %d vs %d", len(first), len(second))
	}
	for k, r := range first {
		if second[k] != r {
			t.Fatalf("reading at %d differs between identically seeded runs", k)
		}
	}
}
