package models

import "time"

// NodeType classifies the operational role of a monitoring point.
type NodeType string

const (
	NodeStorage         NodeType = "storage"
	NodeDistribution    NodeType = "distribution"
	NodeMonitoring      NodeType = "monitoring"
	NodeInterconnection NodeType = "interconnection"
	NodeZoneMeter       NodeType = "zone_meter"
	NodeUnknown         NodeType = "unknown"
)

// ParseNodeType maps a raw registry string onto a known node type.
// Unrecognized values resolve to NodeUnknown rather than failing.
func ParseNodeType(s string) NodeType {
	switch NodeType(s) {
	case NodeStorage, NodeDistribution, NodeMonitoring, NodeInterconnection, NodeZoneMeter:
		return NodeType(s)
	default:
		return NodeUnknown
	}
}

// Metric identifies one of the measured quantities on a node.
type Metric string

const (
	MetricFlowRate    Metric = "flow_rate"   // m3/h
	MetricPressure    Metric = "pressure"    // bar
	MetricTemperature Metric = "temperature" // celsius
	MetricTotalFlow   Metric = "total_flow"  // accumulated m3
)

// Cumulative reports whether the metric is a monotonically increasing
// accumulator rather than an instantaneous quantity.
func (m Metric) Cumulative() bool {
	return m == MetricTotalFlow
}

// SynthMetrics are the metrics the synthesizer models directly.
// Accumulated volume is always derived from flow rate, never modeled.
var SynthMetrics = []Metric{MetricFlowRate, MetricPressure, MetricTemperature}

// Node is one monitoring point from the node registry.
type Node struct {
	ID   string   `json:"id"`
	Name string   `json:"name"`
	Type NodeType `json:"node_type"`
	Lat  float64  `json:"lat"`
	Lon  float64  `json:"lon"`
}

// Reading is one time-stamped sensor sample for a node. At most one
// reading exists per (node_id, ts) in the persisted series.
type Reading struct {
	NodeID       string    `json:"node_id"`
	TS           time.Time `json:"ts"`
	Temperature  float64   `json:"temperature"`
	FlowRate     float64   `json:"flow_rate"`
	Pressure     float64   `json:"pressure"`
	TotalFlow    float64   `json:"total_flow"`
	QualityScore float64   `json:"quality_score"`
	Synthetic    bool      `json:"is_synthetic"`
}

// Value returns the reading's value for a metric.
func (r Reading) Value(m Metric) float64 {
	switch m {
	case MetricFlowRate:
		return r.FlowRate
	case MetricPressure:
		return r.Pressure
	case MetricTemperature:
		return r.Temperature
	case MetricTotalFlow:
		return r.TotalFlow
	}
	return 0
}

// Gap is a contiguous [Start, End] range of sampling ticks for one node
// with no persisted reading. Both bounds are inclusive tick timestamps.
type Gap struct {
	NodeID string    `json:"node_id"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
}

// Ticks returns how many sampling ticks the gap spans at the given interval.
func (g Gap) Ticks(interval time.Duration) int {
	if interval <= 0 || g.End.Before(g.Start) {
		return 0
	}
	return int(g.End.Sub(g.Start)/interval) + 1
}

// ContinuityState carries the most recently known metric values for one
// node, real or synthetic. It only smooths the next synthesis step; it is
// never persisted on its own.
type ContinuityState struct {
	values map[Metric]float64
}

// NewContinuityState returns an empty state (no previous values known).
func NewContinuityState() *ContinuityState {
	return &ContinuityState{values: make(map[Metric]float64)}
}

// Last returns the last known value for a metric, if any.
func (s *ContinuityState) Last(m Metric) (float64, bool) {
	v, ok := s.values[m]
	return v, ok
}

// Observe records the metric values of a reading as the new last-known state.
func (s *ContinuityState) Observe(r Reading) {
	for _, m := range SynthMetrics {
		s.values[m] = r.Value(m)
	}
}

// NodeOutcome summarizes one node's gap-fill pass.
type NodeOutcome struct {
	NodeID        string `json:"node_id"`
	Inserted      int    `json:"inserted"`
	Skipped       int    `json:"skipped"`
	RemainingGaps []Gap  `json:"remaining_gaps,omitempty"`
	Err           error  `json:"-"`
}

// RunSummary aggregates per-node outcomes of one generation run.
type RunSummary struct {
	ID               string    `json:"id"`
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at"`
	NodesSucceeded   int       `json:"nodes_succeeded"`
	NodesFailed      int       `json:"nodes_failed"`
	ReadingsInserted int       `json:"readings_inserted"`
	ReadingsSkipped  int       `json:"readings_skipped"`
	GapsRemaining    int       `json:"gaps_remaining"`
}
