// Package store wraps all Postgres access for the telemetry service:
// nodes, readings, extracted patterns and generation-run summaries.
package store

import (
	"context"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hydronet/telemetry/internal/models"
	"github.com/hydronet/telemetry/internal/pattern"
)

// Store wraps database access helpers.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store backed by a pgx pool.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool resources.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

const listNodesSQL = `
	SELECT id, name, node_type, lat, lon
	FROM hydronet.nodes
	WHERE active
	ORDER BY id
`

// ListNodes returns the active node registry.
func (s *Store) ListNodes(ctx context.Context) ([]models.Node, error) {
	rows, err := s.pool.Query(ctx, listNodesSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	nodes := make([]models.Node, 0)
	for rows.Next() {
		var n models.Node
		var rawType string
		if err := rows.Scan(&n.ID, &n.Name, &rawType, &n.Lat, &n.Lon); err != nil {
			return nil, err
		}
		n.Type = models.ParseNodeType(rawType)
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

const readingColumns = `node_id, ts, temperature, flow_rate, pressure, total_flow, quality_score, is_synthetic`

func scanReading(rows pgx.Rows) (models.Reading, error) {
	var r models.Reading
	err := rows.Scan(&r.NodeID, &r.TS, &r.Temperature, &r.FlowRate, &r.Pressure, &r.TotalFlow, &r.QualityScore, &r.Synthetic)
	return r, err
}

// FetchReadingsSince returns all readings newer than the cutoff, ordered by
// node and timestamp. Used to (re)extract patterns from trailing history.
func (s *Store) FetchReadingsSince(ctx context.Context, since time.Time) ([]models.Reading, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+readingColumns+`
FROM hydronet.readings
WHERE ts >= $1
ORDER BY node_id, ts`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	readings := make([]models.Reading, 0)
	for rows.Next() {
		r, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		readings = append(readings, r)
	}
	return readings, rows.Err()
}

// ReadingQuery holds filters for retrieving one node's readings.
type ReadingQuery struct {
	NodeID    string
	Limit     int
	Since     *time.Time
	Until     *time.Time
	Synthetic *bool
}

// FetchReadings returns readings for a node based on the query.
func (s *Store) FetchReadings(ctx context.Context, q ReadingQuery) ([]models.Reading, error) {
	sql := `SELECT ` + readingColumns + ` FROM hydronet.readings WHERE node_id = $1`
	args := []any{q.NodeID}
	argPos := 2
	if q.Since != nil {
		sql += " AND ts >= $" + strconv.Itoa(argPos)
		args = append(args, *q.Since)
		argPos++
	}
	if q.Until != nil {
		sql += " AND ts <= $" + strconv.Itoa(argPos)
		args = append(args, *q.Until)
		argPos++
	}
	if q.Synthetic != nil {
		sql += " AND is_synthetic = $" + strconv.Itoa(argPos)
		args = append(args, *q.Synthetic)
		argPos++
	}
	sql += " ORDER BY ts"
	if q.Limit > 0 {
		sql += " LIMIT $" + strconv.Itoa(argPos)
		args = append(args, q.Limit)
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	readings := make([]models.Reading, 0)
	for rows.Next() {
		r, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		readings = append(readings, r)
	}
	return readings, rows.Err()
}

// ExistingTimestamps lists the persisted reading timestamps for a node in
// [from, to], ascending.
func (s *Store) ExistingTimestamps(ctx context.Context, nodeID string, from, to time.Time) ([]time.Time, error) {
	rows, err := s.pool.Query(ctx, `
SELECT ts
FROM hydronet.readings
WHERE node_id = $1 AND ts >= $2 AND ts <= $3
ORDER BY ts`, nodeID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	timestamps := make([]time.Time, 0)
	for rows.Next() {
		var ts time.Time
		if err := rows.Scan(&ts); err != nil {
			return nil, err
		}
		timestamps = append(timestamps, ts)
	}
	return timestamps, rows.Err()
}

// LastReadingBefore returns the most recent reading strictly before the
// timestamp, or nil when the node has no earlier history.
func (s *Store) LastReadingBefore(ctx context.Context, nodeID string, ts time.Time) (*models.Reading, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+readingColumns+`
FROM hydronet.readings
WHERE node_id = $1 AND ts < $2
ORDER BY ts DESC
LIMIT 1`, nodeID, ts)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	r, err := scanReading(rows)
	if err != nil {
		return nil, err
	}
	return &r, rows.Err()
}

const insertReadingSQL = `
INSERT INTO hydronet.readings (node_id, ts, temperature, flow_rate, pressure, total_flow, quality_score, is_synthetic, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW())
ON CONFLICT (node_id, ts) DO NOTHING`

// InsertReadings writes a batch of readings. Conflicting (node_id, ts) keys
// are silently skipped so the write is idempotent; the returned count is the
// number of rows actually inserted.
func (s *Store) InsertReadings(ctx context.Context, readings []models.Reading) (int, error) {
	if len(readings) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, r := range readings {
		batch.Queue(insertReadingSQL, r.NodeID, r.TS, r.Temperature, r.FlowRate, r.Pressure, r.TotalFlow, r.QualityScore, r.Synthetic)
	}

	res := s.pool.SendBatch(ctx, batch)
	defer res.Close()

	inserted := 0
	for range readings {
		tag, err := res.Exec()
		if err != nil {
			return inserted, err
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

const upsertPatternSQL = `
INSERT INTO hydronet.patterns (node_id, metric, hourly, daily, monthly, base_value, variation, observed_min, observed_max, sample_count, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NOW(),NOW())
ON CONFLICT (node_id, metric) DO UPDATE
SET hourly = EXCLUDED.hourly,
    daily = EXCLUDED.daily,
    monthly = EXCLUDED.monthly,
    base_value = EXCLUDED.base_value,
    variation = EXCLUDED.variation,
    observed_min = EXCLUDED.observed_min,
    observed_max = EXCLUDED.observed_max,
    sample_count = EXCLUDED.sample_count,
    updated_at = NOW()`

// SavePatterns upserts extracted patterns keyed by (node_id, metric).
func (s *Store) SavePatterns(ctx context.Context, patterns map[pattern.Key]pattern.Pattern) error {
	if len(patterns) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for key, p := range patterns {
		batch.Queue(upsertPatternSQL,
			key.NodeID, string(key.Metric),
			p.Hourly[:], p.Daily[:], p.Monthly[:],
			p.BaseValue, p.Variation, p.ObservedMin, p.ObservedMax, p.SampleCount)
	}

	res := s.pool.SendBatch(ctx, batch)
	defer res.Close()

	for range patterns {
		if _, err := res.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// LoadPatterns reads the persisted pattern set and the time it was last
// refreshed. An empty store with a zero time means no patterns exist yet.
func (s *Store) LoadPatterns(ctx context.Context) (*pattern.Store, time.Time, error) {
	rows, err := s.pool.Query(ctx, `
SELECT node_id, metric, hourly, daily, monthly, base_value, variation, observed_min, observed_max, sample_count, updated_at
FROM hydronet.patterns`)
	if err != nil {
		return nil, time.Time{}, err
	}
	defer rows.Close()

	ps := pattern.NewStore()
	var oldest time.Time
	first := true
	for rows.Next() {
		var (
			nodeID, metric         string
			hourly, daily, monthly []float64
			p                      pattern.Pattern
			updatedAt              time.Time
		)
		if err := rows.Scan(&nodeID, &metric, &hourly, &daily, &monthly,
			&p.BaseValue, &p.Variation, &p.ObservedMin, &p.ObservedMax, &p.SampleCount, &updatedAt); err != nil {
			return nil, time.Time{}, err
		}
		copy(p.Hourly[:], hourly)
		copy(p.Daily[:], daily)
		copy(p.Monthly[:], monthly)
		ps.Put(nodeID, models.Metric(metric), p)

		if first || updatedAt.Before(oldest) {
			oldest = updatedAt
			first = false
		}
	}
	return ps, oldest, rows.Err()
}

const insertRunSQL = `
INSERT INTO hydronet.generation_runs (id, started_at, finished_at, nodes_succeeded, nodes_failed, readings_inserted, readings_skipped, gaps_remaining)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

// SaveRun records one generation-run summary.
func (s *Store) SaveRun(ctx context.Context, run models.RunSummary) error {
	_, err := s.pool.Exec(ctx, insertRunSQL,
		run.ID, run.StartedAt, run.FinishedAt,
		run.NodesSucceeded, run.NodesFailed,
		run.ReadingsInserted, run.ReadingsSkipped, run.GapsRemaining)
	return err
}

// ListRuns returns the most recent generation-run summaries.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]models.RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
SELECT id, started_at, finished_at, nodes_succeeded, nodes_failed, readings_inserted, readings_skipped, gaps_remaining
FROM hydronet.generation_runs
ORDER BY started_at DESC
LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := make([]models.RunSummary, 0)
	for rows.Next() {
		var r models.RunSummary
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt,
			&r.NodesSucceeded, &r.NodesFailed,
			&r.ReadingsInserted, &r.ReadingsSkipped, &r.GapsRemaining); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
