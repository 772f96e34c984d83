// Package upstream fetches jackpot fixtures, market odds and raw model
// probabilities from the model-serving API.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/rewired-gh/jackpotengine/internal/logger"
	"github.com/rewired-gh/jackpotengine/internal/models"
)

// Client provides access to the model-serving API
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
	limiter    *rate.Limiter
}

const (
	defaultRateLimit = 5.0 // requests per second
	defaultBurst     = 5
)

// JackpotResponse is the model-serving representation of a jackpot
type JackpotResponse struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	ModelVersion string            `json:"model_version"`
	Fixtures     []FixtureResponse `json:"fixtures"`
}

// FixtureResponse is one fixture with its odds and raw model probabilities
type FixtureResponse struct {
	ID       string   `json:"id"`
	League   string   `json:"league"`
	HomeTeam string   `json:"home_team"`
	AwayTeam string   `json:"away_team"`
	Kickoff  string   `json:"kickoff"` // RFC 3339, optional
	Odds     Triple   `json:"odds"`
	Probs    Triple   `json:"probs"`
	XGHome   *float64 `json:"xg_home"`
	XGAway   *float64 `json:"xg_away"`
}

// Triple is a home/draw/away value set on the wire
type Triple struct {
	Home float64 `json:"home"`
	Draw float64 `json:"draw"`
	Away float64 `json:"away"`
}

// Snapshot is a validated jackpot plus the model version that produced it
type Snapshot struct {
	Jackpot      models.Jackpot
	ModelVersion string
}

// NewClient creates a new model-serving client
func NewClient(baseURL, apiKey string, timeout time.Duration, maxRetries int) *Client {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		maxRetries: maxRetries,
		backoff:    time.Second,
		limiter:    rate.NewLimiter(rate.Limit(defaultRateLimit), defaultBurst),
	}
}

// SetRateLimit caps outgoing requests; a non-positive rps removes the cap.
func (c *Client) SetRateLimit(rps float64, burst int) {
	if rps <= 0 {
		c.limiter = rate.NewLimiter(rate.Inf, 0)
		return
	}
	if burst < 1 {
		burst = 1
	}
	c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
}

// FetchJackpot retrieves a jackpot and validates every fixture before
// returning it.
func (c *Client) FetchJackpot(ctx context.Context, id string) (*Snapshot, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("%w: upstream base_url is not configured", models.ErrValidation)
	}
	if id == "" {
		return nil, fmt.Errorf("%w: jackpot id is required", models.ErrValidation)
	}

	resp, err := c.doRequest(ctx, c.baseURL+"/jackpots/"+url.PathEscape(id))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch jackpot: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: upstream jackpot %s", models.ErrNotFound, id)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("upstream returned status %d for jackpot %s", resp.StatusCode, id)
	}

	var jr JackpotResponse
	if err := json.NewDecoder(resp.Body).Decode(&jr); err != nil {
		return nil, fmt.Errorf("failed to decode jackpot: %w", err)
	}
	return convert(jr, id)
}

func convert(jr JackpotResponse, requestedID string) (*Snapshot, error) {
	if jr.ID == "" {
		jr.ID = requestedID
	}
	j := models.Jackpot{
		ID:        jr.ID,
		Name:      jr.Name,
		CreatedAt: time.Now(),
		Fixtures:  make([]models.Fixture, 0, len(jr.Fixtures)),
	}
	for _, fr := range jr.Fixtures {
		f := models.Fixture{
			ID:       fr.ID,
			League:   strings.ToLower(strings.TrimSpace(fr.League)),
			HomeTeam: fr.HomeTeam,
			AwayTeam: fr.AwayTeam,
			Odds:     models.Odds{Home: fr.Odds.Home, Draw: fr.Odds.Draw, Away: fr.Odds.Away},
			Probs:    models.Triple{Home: fr.Probs.Home, Draw: fr.Probs.Draw, Away: fr.Probs.Away},
		}
		if fr.XGHome != nil && fr.XGAway != nil {
			diff := *fr.XGHome - *fr.XGAway
			f.XGDiff = &diff
		}
		if fr.Kickoff != "" {
			t, err := time.Parse(time.RFC3339, fr.Kickoff)
			if err != nil {
				return nil, fmt.Errorf("%w: fixture %s kickoff %q", models.ErrValidation, fr.ID, fr.Kickoff)
			}
			f.Kickoff = t
		}
		j.Fixtures = append(j.Fixtures, f)
	}
	if err := j.Validate(); err != nil {
		return nil, fmt.Errorf("upstream jackpot %s: %w", j.ID, err)
	}
	return &Snapshot{Jackpot: j, ModelVersion: jr.ModelVersion}, nil
}

// doRequest performs HTTP request with retry logic
func (c *Client) doRequest(ctx context.Context, urlStr string) (*http.Response, error) {
	var lastErr error

	for i := 0; i < c.maxRetries; i++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
		if err != nil {
			return nil, err
		}

		req.Header.Set("Accept", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
		} else if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
		} else {
			return resp, nil
		}

		if i < c.maxRetries-1 {
			logger.Debug("Upstream request failed (attempt %d/%d): %v", i+1, c.maxRetries, lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(i+1) * c.backoff):
			}
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}
