package pattern

import (
	"time"

	"github.com/hydronet/telemetry/internal/models"
)

// Pattern holds the normalized time-of-day/day/month multipliers and bounds
// extracted from one node's historical series for one metric. Multiplier
// buckets with no samples hold 1.0. A Pattern is immutable for the duration
// of one generation run.
type Pattern struct {
	Hourly      [24]float64 `json:"hourly_multipliers"`
	Daily       [7]float64  `json:"daily_multipliers"`
	Monthly     [12]float64 `json:"monthly_multipliers"`
	BaseValue   float64     `json:"base_value"`
	Variation   float64     `json:"variation"`
	ObservedMin float64     `json:"observed_min"`
	ObservedMax float64     `json:"observed_max"`
	SampleCount int         `json:"sample_count"`
}

// Neutral returns a pattern with all multipliers at 1.0 around the given
// base. Used when a metric has no extractable history; bounds are set wide
// enough (0.5x to 1.5x base) that the synthesizer's clamp stays permissive.
func Neutral(base, variation float64) Pattern {
	p := Pattern{
		BaseValue:   base,
		Variation:   variation,
		ObservedMin: base * 0.5,
		ObservedMax: base * 1.5,
	}
	for i := range p.Hourly {
		p.Hourly[i] = 1.0
	}
	for i := range p.Daily {
		p.Daily[i] = 1.0
	}
	for i := range p.Monthly {
		p.Monthly[i] = 1.0
	}
	return p
}

// HourFactor returns the multiplier for an hour of day, 1.0 out of range.
func (p Pattern) HourFactor(hour int) float64 {
	if hour < 0 || hour > 23 || p.Hourly[hour] == 0 {
		return 1.0
	}
	return p.Hourly[hour]
}

// DayFactor returns the multiplier for a weekday (Sunday = 0).
func (p Pattern) DayFactor(day time.Weekday) float64 {
	if day < 0 || day > 6 || p.Daily[day] == 0 {
		return 1.0
	}
	return p.Daily[day]
}

// MonthFactor returns the multiplier for a calendar month.
func (p Pattern) MonthFactor(month time.Month) float64 {
	if month < time.January || month > time.December {
		return 1.0
	}
	if p.Monthly[month-1] == 0 {
		return 1.0
	}
	return p.Monthly[month-1]
}

// Factor resolves the combined hour/day/month multiplier for a timestamp.
func (p Pattern) Factor(ts time.Time) float64 {
	return p.HourFactor(ts.Hour()) * p.DayFactor(ts.Weekday()) * p.MonthFactor(ts.Month())
}

// Key identifies one extracted pattern in the store.
type Key struct {
	NodeID string
	Metric models.Metric
}

// Store is the read-only set of extracted patterns for one generation run.
// It is built (or loaded) by the run driver and passed into the synthesizer;
// there is no package-level pattern state.
type Store struct {
	patterns map[Key]Pattern
}

// NewStore returns an empty pattern store.
func NewStore() *Store {
	return &Store{patterns: make(map[Key]Pattern)}
}

// Put registers an extracted pattern.
func (s *Store) Put(nodeID string, metric models.Metric, p Pattern) {
	s.patterns[Key{NodeID: nodeID, Metric: metric}] = p
}

// Get returns the pattern for a node/metric, if one was extracted.
func (s *Store) Get(nodeID string, metric models.Metric) (Pattern, bool) {
	p, ok := s.patterns[Key{NodeID: nodeID, Metric: metric}]
	return p, ok
}

// Len reports how many patterns the store holds.
func (s *Store) Len() int {
	return len(s.patterns)
}

// All returns a copy of the underlying map, for persistence.
func (s *Store) All() map[Key]Pattern {
	out := make(map[Key]Pattern, len(s.patterns))
	for k, v := range s.patterns {
		out[k] = v
	}
	return out
}
