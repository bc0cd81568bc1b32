package weather

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

const observationPayload = `{
	"dt": 1700000000,
	"main": {"temp": 22.5, "humidity": 61, "pressure": 1013},
	"wind": {"speed": 3.2},
	"rain": {"1h": 1.5},
	"clouds": {"all": 75},
	"weather": [{"main": "Rain"}]
}`

func TestClientCurrentDecodesObservation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("appid") == "" {
			t.Error("missing appid query parameter")
		}
		w.Write([]byte(observationPayload))
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), "test-key", time.Hour)
	c.SetBaseURL(srv.URL)

	obs, err := c.Current(context.Background(), 6.25, -75.56)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if math.Abs(obs.Temperature-22.5) > 1e-9 {
		t.Fatalf("temperature = %v, want 22.5", obs.Temperature)
	}
	if math.Abs(obs.RainVolume-1.5) > 1e-9 {
		t.Fatalf("rain volume = %v, want 1.5", obs.RainVolume)
	}
	if obs.Condition != "Rain" {
		t.Fatalf("condition = %q, want Rain", obs.Condition)
	}
	if obs.TS != time.Unix(1700000000, 0).UTC() {
		t.Fatalf("unexpected timestamp %v", obs.TS)
	}
}

func TestClientCachesWithinTTL(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		w.Write([]byte(observationPayload))
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), "test-key", time.Hour)
	c.SetBaseURL(srv.URL)

	for i := 0; i < 5; i++ {
		if _, err := c.Current(context.Background(), 6.25, -75.56); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if n := atomic.LoadInt64(&calls); n != 1 {
		t.Fatalf("expected one upstream call, got %d", n)
	}
}

func TestClientMissingKey(t *testing.T) {
	c := NewClient(&http.Client{}, "", time.Hour)
	if _, err := c.Current(context.Background(), 0, 0); err == nil {
		t.Fatal("expected error without an api key")
	}
}
