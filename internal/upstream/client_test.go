package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/jackpotengine/internal/models"
)

const jackpotBody = `{
  "id": "jp-42",
  "name": "Mega Jackpot",
  "model_version": "xgb-2026.09",
  "fixtures": [
    {"id": "f1", "league": "EPL", "home_team": "Arsenal", "away_team": "Fulham",
     "kickoff": "2026-10-24T14:00:00Z",
     "odds": {"home": 1.80, "draw": 3.60, "away": 5.00},
     "probs": {"home": 0.60, "draw": 0.25, "away": 0.15},
     "xg_home": 1.9, "xg_away": 0.8},
    {"id": "f2", "league": "kpl", "home_team": "Gor Mahia", "away_team": "AFC Leopards",
     "odds": {"home": 2.40, "draw": 3.00, "away": 3.10},
     "probs": {"home": 0.38, "draw": 0.32, "away": 0.30}}
  ]
}`

func newTestClient(url string, retries int) *Client {
	c := NewClient(url, "secret", 5*time.Second, retries)
	c.backoff = time.Millisecond
	return c
}

func TestFetchJackpot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/jackpots/jp-42", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(jackpotBody))
	}))
	defer srv.Close()

	snap, err := newTestClient(srv.URL+"/", 3).FetchJackpot(context.Background(), "jp-42")
	require.NoError(t, err)
	assert.Equal(t, "xgb-2026.09", snap.ModelVersion)
	require.Len(t, snap.Jackpot.Fixtures, 2)

	f1 := snap.Jackpot.Fixtures[0]
	assert.Equal(t, "epl", f1.League)
	require.NotNil(t, f1.XGDiff)
	assert.InDelta(t, 1.1, *f1.XGDiff, 1e-9)
	assert.Equal(t, 2026, f1.Kickoff.Year())
	assert.Nil(t, snap.Jackpot.Fixtures[1].XGDiff)
}

func TestFetchJackpot_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(jackpotBody))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 3).FetchJackpot(context.Background(), "jp-42")
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchJackpot_GivesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 2).FetchJackpot(context.Background(), "jp-42")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries exceeded")
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetchJackpot_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := newTestClient(srv.URL, 3).FetchJackpot(context.Background(), "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestFetchJackpot_RejectsInvalidFixtures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"jp","fixtures":[{"id":"f1","home_team":"A","away_team":"B",
			"odds":{"home":1.8,"draw":3.6,"away":5.0},"probs":{"home":0.9,"draw":0.5,"away":0.1}}]}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 1).FetchJackpot(context.Background(), "jp")
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestFetchJackpot_NotConfigured(t *testing.T) {
	_, err := NewClient("", "", time.Second, 1).FetchJackpot(context.Background(), "jp")
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestFetchJackpot_RateLimited(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 1)
	c.SetRateLimit(0.01, 1)

	_, err := c.FetchJackpot(context.Background(), "first")
	assert.ErrorIs(t, err, models.ErrNotFound)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.FetchJackpot(ctx, "second")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limiter")
	assert.Equal(t, int32(1), calls.Load())
}
