package pattern

import (
	"math"
	"testing"
	"time"

	"github.com/hydronet/telemetry/internal/models"
)

func hourlySeries(days int, value func(day, hour int) float64) []Point {
	points := make([]Point, 0, days*24)
	for d := 0; d < days; d++ {
		for h := 0; h < 24; h++ {
			ts := time.Date(2024, 3, 1+d, h, 0, 0, 0, time.UTC)
			points = append(points, Point{TS: ts, Value: value(d, h)})
		}
	}
	return points
}

func TestExtractHourlyMultipliersAverageOne(t *testing.T) {
	points := hourlySeries(14, func(_, h int) float64 {
		return 100 + 30*math.Sin(2*math.Pi*float64(h)/24)
	})

	p, ok := Extract(points, false)
	if !ok {
		t.Fatal("expected pattern from 14 days of hourly samples")
	}

	var sum float64
	for _, m := range p.Hourly {
		sum += m
	}
	if mean := sum / 24; math.Abs(mean-1.0) > 1e-9 {
		t.Fatalf("hourly multiplier mean = %v, want 1.0", mean)
	}

	if math.Abs(p.BaseValue-100) > 1.0 {
		t.Fatalf("base value = %v, want ~100", p.BaseValue)
	}
	if p.ObservedMin >= p.ObservedMax {
		t.Fatalf("observed bounds inverted: min=%v max=%v", p.ObservedMin, p.ObservedMax)
	}
	if p.SampleCount != len(points) {
		t.Fatalf("sample count = %d, want %d", p.SampleCount, len(points))
	}
}

func TestExtractBucketsReflectDailyShape(t *testing.T) {
	// Mornings run double the overnight load; the hour-10 multiplier must
	// exceed the hour-3 multiplier.
	points := hourlySeries(14, func(_, h int) float64 {
		if h >= 6 && h < 12 {
			return 200
		}
		return 100
	})

	p, ok := Extract(points, false)
	if !ok {
		t.Fatal("expected pattern")
	}
	if p.Hourly[10] <= p.Hourly[3] {
		t.Fatalf("hour 10 multiplier %v not above hour 3 multiplier %v", p.Hourly[10], p.Hourly[3])
	}
}

func TestExtractInsufficientSamples(t *testing.T) {
	points := hourlySeries(1, func(_, h int) float64 { return 50 })[:MinSamples-1]
	if _, ok := Extract(points, false); ok {
		t.Fatal("expected no pattern below the minimum sample count")
	}
}

func TestExtractZeroMeanSeries(t *testing.T) {
	points := hourlySeries(2, func(_, _ int) float64 { return 0 })
	if _, ok := Extract(points, false); ok {
		t.Fatal("expected no pattern for an all-zero series")
	}
}

func TestExtractCumulativeUsesRateSeries(t *testing.T) {
	// Accumulated volume growing 10 m3/h, with one counter reset that must
	// be dropped from the derived rate series.
	points := make([]Point, 0, 100)
	total := 1000.0
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 100; i++ {
		if i == 50 {
			total = 0 // counter reset
		}
		points = append(points, Point{TS: base.Add(time.Duration(i) * time.Hour), Value: total})
		total += 10
	}

	p, ok := Extract(points, true)
	if !ok {
		t.Fatal("expected rate pattern from cumulative series")
	}
	if math.Abs(p.BaseValue-10) > 0.01 {
		t.Fatalf("derived rate base = %v, want ~10", p.BaseValue)
	}
	// 99 diffs minus the dropped reset step.
	if p.SampleCount != 98 {
		t.Fatalf("rate sample count = %d, want 98", p.SampleCount)
	}
}

func TestBuildStoreOmitsThinMetrics(t *testing.T) {
	base := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)

	readings := make([]models.Reading, 0, 48)
	for i := 0; i < 48; i++ {
		readings = append(readings, models.Reading{
			NodeID:      "node-a",
			TS:          base.Add(time.Duration(i) * time.Hour),
			FlowRate:    120 + float64(i%24),
			Pressure:    4.2,
			Temperature: 17.5,
			TotalFlow:   float64(i) * 120,
		})
	}
	// node-b has too little history for any pattern.
	for i := 0; i < 3; i++ {
		readings = append(readings, models.Reading{
			NodeID: "node-b", TS: base.Add(time.Duration(i) * time.Hour), FlowRate: 10,
		})
	}

	store := BuildStore(readings)

	for _, metric := range models.SynthMetrics {
		if _, ok := store.Get("node-a", metric); !ok {
			t.Fatalf("expected pattern for node-a %s", metric)
		}
	}
	if _, ok := store.Get("node-a", models.MetricTotalFlow); !ok {
		t.Fatal("expected rate pattern derived from node-a accumulated volume")
	}
	if _, ok := store.Get("node-b", models.MetricFlowRate); ok {
		t.Fatal("node-b has too few samples for a pattern")
	}
}
