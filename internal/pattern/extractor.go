package pattern

import (
	"math"
	"sort"
	"time"

	"github.com/hydronet/telemetry/internal/models"
)

// MinSamples is the minimum number of usable points required before a
// pattern is extracted. Below this the metric is omitted from the store
// and the synthesizer falls back to its neutral defaults.
const MinSamples = 10

// Point is one historical observation for a single node/metric.
type Point struct {
	TS    time.Time
	Value float64
}

// Extract derives a normalized pattern from an ordered historical series.
// For cumulative metrics (accumulated volume) the raw series is first
// converted to a per-hour rate via consecutive differences; patterns are
// never extracted on a raw cumulative series. Returns false when the series
// has fewer than MinSamples usable points or a zero overall mean.
func Extract(points []Point, cumulative bool) (Pattern, bool) {
	if cumulative {
		points = rateSeries(points)
	}
	if len(points) < MinSamples {
		return Pattern{}, false
	}

	var (
		sum, sumSq float64
		hourSum    [24]float64
		hourCount  [24]int
		daySum     [7]float64
		dayCount   [7]int
		monthSum   [12]float64
		monthCount [12]int

		minV = math.Inf(1)
		maxV = math.Inf(-1)
	)

	for _, pt := range points {
		v := pt.Value
		sum += v
		sumSq += v * v
		if v < minV {
			minV = v
		}
		if v > maxV {
			maxV = v
		}

		h := pt.TS.Hour()
		hourSum[h] += v
		hourCount[h]++

		d := pt.TS.Weekday()
		daySum[d] += v
		dayCount[d]++

		m := pt.TS.Month() - 1
		monthSum[m] += v
		monthCount[m]++
	}

	n := float64(len(points))
	mean := sum / n
	if mean == 0 {
		return Pattern{}, false
	}

	p := Pattern{
		BaseValue:   mean,
		ObservedMin: minV,
		ObservedMax: maxV,
		SampleCount: len(points),
	}

	variance := sumSq/n - mean*mean
	if variance > 0 {
		p.Variation = math.Sqrt(variance)
	}

	for h := 0; h < 24; h++ {
		if hourCount[h] == 0 {
			p.Hourly[h] = 1.0
			continue
		}
		p.Hourly[h] = (hourSum[h] / float64(hourCount[h])) / mean
	}
	// Renormalize so the 24 hourly multipliers average to exactly 1.0;
	// unevenly populated buckets would otherwise drift the mean.
	var hourTotal float64
	for h := 0; h < 24; h++ {
		hourTotal += p.Hourly[h]
	}
	if hourTotal > 0 {
		scale := 24.0 / hourTotal
		for h := 0; h < 24; h++ {
			p.Hourly[h] *= scale
		}
	}

	for d := 0; d < 7; d++ {
		if dayCount[d] == 0 {
			p.Daily[d] = 1.0
			continue
		}
		p.Daily[d] = (daySum[d] / float64(dayCount[d])) / mean
	}
	for m := 0; m < 12; m++ {
		if monthCount[m] == 0 {
			p.Monthly[m] = 1.0
			continue
		}
		p.Monthly[m] = (monthSum[m] / float64(monthCount[m])) / mean
	}

	return p, true
}

// rateSeries converts a cumulative series into per-hour rates using
// consecutive differences. Non-increasing steps (counter resets) and
// non-positive elapsed times are dropped.
func rateSeries(points []Point) []Point {
	if len(points) < 2 {
		return nil
	}
	sorted := make([]Point, len(points))
	copy(sorted, points)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].TS.Before(sorted[j].TS) })

	out := make([]Point, 0, len(sorted)-1)
	for i := 1; i < len(sorted); i++ {
		elapsed := sorted[i].TS.Sub(sorted[i-1].TS).Hours()
		if elapsed <= 0 {
			continue
		}
		delta := sorted[i].Value - sorted[i-1].Value
		if delta < 0 {
			continue
		}
		out = append(out, Point{TS: sorted[i].TS, Value: delta / elapsed})
	}
	return out
}

// BuildStore extracts patterns for every node and modeled metric present in
// the historical readings. The accumulated-volume series is additionally
// extracted as a rate pattern; the synthesizer uses it as a fallback when a
// node's flow-rate history is too thin on its own.
func BuildStore(readings []models.Reading) *Store {
	byNode := make(map[string][]models.Reading)
	for _, r := range readings {
		byNode[r.NodeID] = append(byNode[r.NodeID], r)
	}

	store := NewStore()
	for nodeID, rs := range byNode {
		sort.Slice(rs, func(i, j int) bool { return rs[i].TS.Before(rs[j].TS) })

		for _, metric := range models.SynthMetrics {
			points := make([]Point, 0, len(rs))
			for _, r := range rs {
				points = append(points, Point{TS: r.TS, Value: r.Value(metric)})
			}
			if p, ok := Extract(points, false); ok {
				store.Put(nodeID, metric, p)
			}
		}

		volumes := make([]Point, 0, len(rs))
		for _, r := range rs {
			volumes = append(volumes, Point{TS: r.TS, Value: r.TotalFlow})
		}
		if p, ok := Extract(volumes, true); ok {
			store.Put(nodeID, models.MetricTotalFlow, p)
		}
	}
	return store
}
