package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/hydronet/telemetry/internal/config"
	"github.com/hydronet/telemetry/internal/gapfill"
	"github.com/hydronet/telemetry/internal/models"
	"github.com/hydronet/telemetry/internal/pattern"
	"github.com/hydronet/telemetry/internal/store"
	"github.com/hydronet/telemetry/internal/weather"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("generator failed: %v", err)
	}
}

func run() error {
	cfg, err := config.LoadGenerator()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer st.Close()

	wc := weather.NewClient(&http.Client{Timeout: 15 * time.Second}, cfg.WeatherAPIKey, cfg.WeatherCacheTTL)

	if cfg.RunOnce {
		return runCycle(ctx, cfg, st, wc)
	}

	minutes := int(cfg.RunInterval.Minutes())
	if minutes <= 0 {
		minutes = 60
	}

	sched := gocron.NewScheduler(time.UTC)
	_, err = sched.Every(minutes).Minutes().Do(func() {
		cycleCtx, cycleCancel := context.WithTimeout(ctx, cfg.RunInterval)
		defer cycleCancel()

		if cerr := runCycle(cycleCtx, cfg, st, wc); cerr != nil {
			log.Printf("generation cycle failed: %v", cerr)
		}
	})
	if err != nil {
		return err
	}
	sched.StartAsync()
	defer sched.Stop()

	log.Printf("generator scheduled every %dm (workers=%d interval=%s)", minutes, cfg.Workers, cfg.SamplingInterval)
	<-ctx.Done()
	return nil
}

func runCycle(ctx context.Context, cfg config.Generator, st *store.Store, wc *weather.Client) error {
	patterns, refreshedAt, err := st.LoadPatterns(ctx)
	if err != nil {
		return fmt.Errorf("load patterns: %w", err)
	}
	if patterns.Len() == 0 || time.Since(refreshedAt) > cfg.PatternRefreshAge {
		history, herr := st.FetchReadingsSince(ctx, time.Now().UTC().Add(-cfg.HistoryWindow))
		if herr != nil {
			return fmt.Errorf("fetch history: %w", herr)
		}
		patterns = pattern.BuildStore(history)
		log.Printf("extracted %d patterns from %d historical readings", patterns.Len(), len(history))

		if serr := st.SavePatterns(ctx, patterns.All()); serr != nil {
			log.Printf("persist patterns: %v", serr)
		}
	}

	nodes, err := st.ListNodes(ctx)
	if err != nil {
		return fmt.Errorf("list nodes: %w", err)
	}
	if len(nodes) == 0 {
		log.Printf("no active nodes; nothing to fill")
		return nil
	}

	// Single weather fetch per cycle, shared read-only by all node workers.
	obs, err := wc.Current(ctx, cfg.WeatherLat, cfg.WeatherLon)
	if err != nil {
		log.Printf("weather fetch failed, degrading to neutral impact: %v", err)
		obs = nil
	}

	var rs gapfill.ReadingStore = st
	if cfg.DryRun {
		rs = dryRunStore{Store: st}
	}

	mgr := gapfill.New(rs, patterns, cfg.Synth, gapfill.Options{
		Workers:   cfg.Workers,
		BatchSize: cfg.BatchSize,
		Seed:      cfg.Seed,
	})

	to := time.Now().UTC().Truncate(cfg.SamplingInterval)
	from := to.Add(-cfg.BackfillWindow)

	summary := mgr.Run(ctx, nodes, from, to, obs)
	log.Printf("run %s: %d nodes ok, %d failed, %d readings inserted, %d skipped, %d gaps remaining",
		summary.ID, summary.NodesSucceeded, summary.NodesFailed,
		summary.ReadingsInserted, summary.ReadingsSkipped, summary.GapsRemaining)

	if cfg.DryRun {
		return nil
	}
	if err := st.SaveRun(ctx, summary); err != nil {
		log.Printf("persist run summary: %v", err)
	}
	return nil
}

// dryRunStore reads through to Postgres but logs inserts instead of
// performing them.
type dryRunStore struct {
	*store.Store
}

func (d dryRunStore) InsertReadings(ctx context.Context, readings []models.Reading) (int, error) {
	log.Printf("dry-run: would insert %d readings", len(readings))
	return len(readings), nil
}
