// Package profile maps a node's operational role onto the typical magnitude
// and variability of its readings. Storage nodes carry large, smooth flows;
// zone meters small, jumpy ones.
package profile

import "github.com/hydronet/telemetry/internal/models"

// Multipliers scales each modeled metric for a node role. NoiseScale scales
// the synthesizer's noise sigma; it is not applied to magnitudes.
type Multipliers struct {
	FlowRate    float64
	Pressure    float64
	Temperature float64
	NoiseScale  float64
}

var profiles = map[models.NodeType]Multipliers{
	models.NodeStorage:         {FlowRate: 2.0, Pressure: 1.2, Temperature: 1.0, NoiseScale: 0.5},
	models.NodeDistribution:    {FlowRate: 1.5, Pressure: 1.0, Temperature: 1.0, NoiseScale: 1.0},
	models.NodeMonitoring:      {FlowRate: 1.0, Pressure: 1.0, Temperature: 1.0, NoiseScale: 1.0},
	models.NodeInterconnection: {FlowRate: 1.8, Pressure: 1.1, Temperature: 1.0, NoiseScale: 0.8},
	models.NodeZoneMeter:       {FlowRate: 0.6, Pressure: 0.9, Temperature: 1.0, NoiseScale: 1.5},
}

// Neutral is the identity profile used for unknown node types.
var Neutral = Multipliers{FlowRate: 1.0, Pressure: 1.0, Temperature: 1.0, NoiseScale: 1.0}

// Resolve returns the multiplier table for a node type. Unrecognized types
// resolve to the neutral profile rather than failing.
func Resolve(t models.NodeType) Multipliers {
	if m, ok := profiles[t]; ok {
		return m
	}
	return Neutral
}

// For returns the magnitude multiplier for one metric.
func (m Multipliers) For(metric models.Metric) float64 {
	switch metric {
	case models.MetricFlowRate, models.MetricTotalFlow:
		return m.FlowRate
	case models.MetricPressure:
		return m.Pressure
	case models.MetricTemperature:
		return m.Temperature
	}
	return 1.0
}
