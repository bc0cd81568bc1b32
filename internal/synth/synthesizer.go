// Package synth implements the pattern-based reading synthesizer: it
// combines extracted time-of-day/day/month patterns, weather impact factors,
// node-role profiles and per-node continuity state into one physically
// plausible sensor reading at a time.
package synth

import (
	"math/rand"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/hydronet/telemetry/internal/models"
	"github.com/hydronet/telemetry/internal/pattern"
	"github.com/hydronet/telemetry/internal/profile"
	"github.com/hydronet/telemetry/internal/weather"
)

var validate = validator.New()

// Config carries the synthesizer's tunables. The blend weights, clamp
// expansion and noise sigma are empirically chosen for this network and are
// deliberately configuration, not constants; they do not generalize to a
// different sensor network without recalibration.
type Config struct {
	// SamplingInterval is the network's fixed reading cadence. Accumulated
	// volume per reading is FlowRate scaled by this interval in hours.
	SamplingInterval time.Duration `validate:"gt=0"`

	// Continuity blend weights: final = alpha*modeled + (1-alpha)*previous.
	BlendFlow        float64 `validate:"gte=0,lte=1"`
	BlendPressure    float64 `validate:"gte=0,lte=1"`
	BlendTemperature float64 `validate:"gte=0,lte=1"`

	// NoiseSigma is the relative gaussian noise spread, bounded at two
	// sigma. Zero disables noise entirely.
	NoiseSigma float64 `validate:"gte=0,lte=0.5"`

	// CouplingFactor scales how strongly pressure reacts inversely to the
	// flow's fractional deviation from its base value.
	CouplingFactor float64 `validate:"gte=0,lte=1"`

	// Clamp bounds relative to the pattern's observed range.
	ClampLow  float64 `validate:"gt=0,lte=1"`
	ClampHigh float64 `validate:"gte=1"`

	// Quality score baseline, jitter and clip bounds.
	QualityBase   float64 `validate:"gt=0,lte=1"`
	QualityJitter float64 `validate:"gte=0"`
	QualityMin    float64 `validate:"gt=0,lte=1"`
	QualityMax    float64 `validate:"gt=0,lte=1,gtefield=QualityMin"`

	// Global defaults used when a node has no extractable pattern at all.
	DefaultFlowBase        float64 `validate:"gt=0"`
	DefaultPressureBase    float64 `validate:"gt=0"`
	DefaultTemperatureBase float64 `validate:"gt=0"`
}

// DefaultConfig returns the tuning used in production for this network.
func DefaultConfig(interval time.Duration) Config {
	return Config{
		SamplingInterval:       interval,
		BlendFlow:              0.7,
		BlendPressure:          0.8,
		BlendTemperature:       0.2,
		NoiseSigma:             0.05,
		CouplingFactor:         0.1,
		ClampLow:               0.9,
		ClampHigh:              1.1,
		QualityBase:            0.92,
		QualityJitter:          0.02,
		QualityMin:             0.70,
		QualityMax:             0.99,
		DefaultFlowBase:        50.0, // m3/h
		DefaultPressureBase:    4.0,  // bar
		DefaultTemperatureBase: 18.0, // celsius
	}
}

// Validate checks the tuning block for out-of-range values.
func (c Config) Validate() error {
	return validate.Struct(c)
}

// Synthesizer produces synthetic readings. It is deterministic: identical
// inputs including the state of the injected random source yield
// bit-identical readings. The random source is consumed in a fixed order
// (flow, pressure, temperature noise, then quality jitter), so a Synthesizer
// must not be shared across concurrent node walks.
type Synthesizer struct {
	cfg      Config
	patterns *pattern.Store
	rng      *rand.Rand
}

// New builds a Synthesizer over a read-only pattern store.
func New(cfg Config, patterns *pattern.Store, rng *rand.Rand) *Synthesizer {
	return &Synthesizer{cfg: cfg, patterns: patterns, rng: rng}
}

// Generate synthesizes one unpersisted reading for a node at the target
// timestamp, blending against the node's continuity state when present.
func (s *Synthesizer) Generate(ts time.Time, node models.Node, obs *weather.Observation, state *models.ContinuityState) models.Reading {
	imp := weather.ImpactOf(obs)
	prof := profile.Resolve(node.Type)

	flowPat := s.patternFor(node.ID, models.MetricFlowRate)
	presPat := s.patternFor(node.ID, models.MetricPressure)
	tempPat := s.patternFor(node.ID, models.MetricTemperature)

	rawFlow := flowPat.BaseValue * flowPat.Factor(ts) * prof.FlowRate * imp.FlowMultiplier * (1 + s.noise(prof.NoiseScale))
	rawPres := presPat.BaseValue * presPat.Factor(ts) * prof.Pressure * imp.PressureMultiplier * (1 + s.noise(prof.NoiseScale))
	rawTemp := tempPat.BaseValue*tempPat.Factor(ts)*prof.Temperature*(1+s.noise(prof.NoiseScale)) + imp.TemperatureOffset

	// Shared hydraulic dependency: pressure drops as flow rises above its
	// base, before the continuity blend.
	if flowPat.BaseValue > 0 && s.cfg.CouplingFactor > 0 {
		dev := (rawFlow - flowPat.BaseValue) / flowPat.BaseValue
		rawPres *= 1 - s.cfg.CouplingFactor*dev
	}

	flow := s.blend(rawFlow, state, models.MetricFlowRate, s.cfg.BlendFlow)
	pres := s.blend(rawPres, state, models.MetricPressure, s.cfg.BlendPressure)
	temp := s.blend(rawTemp, state, models.MetricTemperature, s.cfg.BlendTemperature)

	flow = s.clamp(flow, flowPat)
	pres = s.clamp(pres, presPat)
	temp = s.clamp(temp, tempPat)

	// Accumulated volume is a pure function of the final flow value.
	total := flow * s.cfg.SamplingInterval.Hours()

	quality := s.cfg.QualityBase + s.rng.NormFloat64()*s.cfg.QualityJitter - imp.QualityPenalty
	if quality < s.cfg.QualityMin {
		quality = s.cfg.QualityMin
	}
	if quality > s.cfg.QualityMax {
		quality = s.cfg.QualityMax
	}

	return models.Reading{
		NodeID:       node.ID,
		TS:           ts,
		Temperature:  temp,
		FlowRate:     flow,
		Pressure:     pres,
		TotalFlow:    total,
		QualityScore: quality,
		Synthetic:    true,
	}
}

// patternFor resolves the pattern for a node/metric. A missing flow-rate
// pattern falls back to the rate pattern derived from the node's accumulated
// volume; anything still missing degrades to a neutral pattern around the
// configured global default. Absent patterns are a fallback, never an error.
func (s *Synthesizer) patternFor(nodeID string, metric models.Metric) pattern.Pattern {
	if p, ok := s.patterns.Get(nodeID, metric); ok {
		return p
	}
	if metric == models.MetricFlowRate {
		if p, ok := s.patterns.Get(nodeID, models.MetricTotalFlow); ok {
			return p
		}
	}

	var base float64
	switch metric {
	case models.MetricFlowRate:
		base = s.cfg.DefaultFlowBase
	case models.MetricPressure:
		base = s.cfg.DefaultPressureBase
	case models.MetricTemperature:
		base = s.cfg.DefaultTemperatureBase
	}
	return pattern.Neutral(base, base*0.1)
}

// noise draws a relative gaussian perturbation bounded at two sigma.
func (s *Synthesizer) noise(scale float64) float64 {
	sigma := s.cfg.NoiseSigma * scale
	if sigma <= 0 {
		return 0
	}
	n := s.rng.NormFloat64() * sigma
	limit := 2 * sigma
	if n > limit {
		n = limit
	}
	if n < -limit {
		n = -limit
	}
	return n
}

// blend applies the continuity weight against the last known value; a node
// with no previous value takes the modeled value unchanged (alpha = 1).
func (s *Synthesizer) blend(raw float64, state *models.ContinuityState, metric models.Metric, alpha float64) float64 {
	if state == nil {
		return raw
	}
	prev, ok := state.Last(metric)
	if !ok {
		return raw
	}
	return alpha*raw + (1-alpha)*prev
}

// clamp keeps a value inside the pattern's expanded observed range. A
// physically implausible reading must never leave the synthesizer.
func (s *Synthesizer) clamp(v float64, p pattern.Pattern) float64 {
	lo := p.ObservedMin * s.cfg.ClampLow
	hi := p.ObservedMax * s.cfg.ClampHigh
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
