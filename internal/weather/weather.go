package weather

import "time"

// Observation is a normalized snapshot of current conditions near the
// network. Owned by the external weather service; the generator only reads
// cached snapshots.
type Observation struct {
	TS          time.Time `json:"ts"`
	Temperature float64   `json:"temperature"` // celsius
	Humidity    float64   `json:"humidity"`    // percent
	Pressure    float64   `json:"pressure"`    // hPa
	WindSpeed   float64   `json:"wind_speed"`  // m/s
	RainVolume  float64   `json:"rain_volume"` // mm over the last hour
	CloudCover  float64   `json:"cloud_cover"` // percent
	Condition   string    `json:"condition"`
}

// Impact holds the per-metric factors a weather observation applies to
// synthesized readings. Stateless; recomputed per observation.
type Impact struct {
	FlowMultiplier     float64
	PressureMultiplier float64
	TemperatureOffset  float64
	QualityPenalty     float64
}

// NeutralImpact is the identity impact used when no observation is
// available (network failure, missing key).
func NeutralImpact() Impact {
	return Impact{FlowMultiplier: 1.0, PressureMultiplier: 1.0}
}

// ImpactOf maps an observation onto multiplicative/additive per-metric
// factors using fixed threshold rules. Each rule is evaluated independently;
// multipliers compose multiplicatively, penalties and offsets additively.
// The 25 degree boundary belongs to the warm bucket. A nil observation
// yields the neutral impact.
func ImpactOf(obs *Observation) Impact {
	imp := NeutralImpact()
	if obs == nil {
		return imp
	}

	switch {
	case obs.Temperature > 30:
		imp.FlowMultiplier *= 1.30
	case obs.Temperature >= 25:
		imp.FlowMultiplier *= 1.15
	case obs.Temperature < 10:
		imp.FlowMultiplier *= 0.90
	}

	if obs.RainVolume > 0 {
		imp.FlowMultiplier *= 0.80
		imp.PressureMultiplier *= 1.05
		penalty := obs.RainVolume * 0.02
		if penalty > 0.10 {
			penalty = 0.10
		}
		imp.QualityPenalty += penalty
	}

	if obs.Humidity < 40 {
		imp.FlowMultiplier *= 1.10
	}

	if obs.WindSpeed > 10 {
		imp.PressureMultiplier *= 0.98
	}

	imp.TemperatureOffset = (obs.Temperature - 20) * 0.3

	return imp
}
