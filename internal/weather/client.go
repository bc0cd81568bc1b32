package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

const defaultBaseURL = "https://api.openweathermap.org/data/2.5/weather"

var (
	errRateLimited = errors.New("rate limited")
	errServerError = errors.New("server error")
	errCircuitOpen = errors.New("circuit breaker open")
)

// Client fetches current conditions from an OpenWeather-compatible API.
// Responses are cached for a TTL so one generation cycle performs at most
// one outbound call regardless of how many node workers run; all failures
// degrade to a nil observation at the call site.
type Client struct {
	apiKey  string
	baseURL string
	httpc   *http.Client
	circuit *gobreaker.CircuitBreaker

	maxRetries      int
	initialInterval time.Duration
	maxInterval     time.Duration

	mu        sync.Mutex
	cached    *Observation
	fetchedAt time.Time
	ttl       time.Duration
}

// NewClient builds a Client with a circuit breaker and bounded retries.
func NewClient(httpc *http.Client, apiKey string, ttl time.Duration) *Client {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "openweather",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
	})

	return &Client{
		apiKey:          apiKey,
		baseURL:         defaultBaseURL,
		httpc:           httpc,
		circuit:         cb,
		maxRetries:      3,
		initialInterval: 500 * time.Millisecond,
		maxInterval:     5 * time.Second,
		ttl:             ttl,
	}
}

// SetBaseURL overrides the API endpoint (for tests).
func (c *Client) SetBaseURL(u string) {
	c.baseURL = u
}

// Current returns the observation for the given coordinates, serving the
// cached snapshot while it is younger than the TTL.
func (c *Client) Current(ctx context.Context, lat, lon float64) (*Observation, error) {
	c.mu.Lock()
	if c.cached != nil && time.Since(c.fetchedAt) < c.ttl {
		obs := c.cached
		c.mu.Unlock()
		return obs, nil
	}
	c.mu.Unlock()

	if c.apiKey == "" {
		return nil, errors.New("weather api key is not configured")
	}

	obs, err := c.fetch(ctx, lat, lon)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cached = obs
	c.fetchedAt = time.Now()
	c.mu.Unlock()

	return obs, nil
}

func (c *Client) fetch(ctx context.Context, lat, lon float64) (*Observation, error) {
	values := url.Values{}
	values.Set("appid", c.apiKey)
	values.Set("units", "metric")
	values.Set("lat", fmt.Sprintf("%f", lat))
	values.Set("lon", fmt.Sprintf("%f", lon))
	endpoint := fmt.Sprintf("%s?%s", c.baseURL, values.Encode())

	var attempt int
	var lastErr error
	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}

		result, err := c.circuit.Execute(func() (interface{}, error) {
			resp, execErr := c.httpc.Do(req)
			if execErr != nil {
				return nil, execErr
			}
			if resp.StatusCode == http.StatusTooManyRequests {
				resp.Body.Close()
				return nil, errRateLimited
			}
			if resp.StatusCode >= 500 {
				resp.Body.Close()
				return nil, errServerError
			}
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				resp.Body.Close()
				return nil, fmt.Errorf("unexpected status %s", resp.Status)
			}
			return resp, nil
		})
		if err == nil {
			resp := result.(*http.Response)
			defer resp.Body.Close()
			return decodeObservation(resp)
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", errCircuitOpen, err)
		}

		lastErr = err
		if attempt >= c.maxRetries {
			return nil, lastErr
		}

		delay := c.initialInterval << attempt
		if delay > c.maxInterval {
			delay = c.maxInterval
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		attempt++
	}
}

func decodeObservation(resp *http.Response) (*Observation, error) {
	var payload struct {
		Dt   int64 `json:"dt"`
		Main struct {
			Temp     float64 `json:"temp"`
			Humidity float64 `json:"humidity"`
			Pressure float64 `json:"pressure"`
		} `json:"main"`
		Wind struct {
			Speed float64 `json:"speed"`
		} `json:"wind"`
		Rain struct {
			OneH   float64 `json:"1h"`
			ThreeH float64 `json:"3h"`
		} `json:"rain"`
		Clouds struct {
			All float64 `json:"all"`
		} `json:"clouds"`
		Weather []struct {
			Main string `json:"main"`
		} `json:"weather"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}

	ts := time.Unix(payload.Dt, 0).UTC()
	if payload.Dt == 0 {
		ts = time.Now().UTC()
	}

	rain := payload.Rain.OneH
	if rain == 0 {
		rain = payload.Rain.ThreeH
	}

	condition := "unknown"
	if len(payload.Weather) > 0 {
		condition = payload.Weather[0].Main
	}

	return &Observation{
		TS:          ts,
		Temperature: payload.Main.Temp,
		Humidity:    payload.Main.Humidity,
		Pressure:    payload.Main.Pressure,
		WindSpeed:   payload.Wind.Speed,
		RainVolume:  rain,
		CloudCover:  payload.Clouds.All,
		Condition:   condition,
	}, nil
}
