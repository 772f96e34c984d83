package threshold

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/jackpotengine/internal/models"
)

// bucketTickets returns n tickets at uds with round(n*rate) hits.
func bucketTickets(uds float64, n int, rate float64, contradictions int) []models.ScoredTicket {
	hits := int(math.Round(float64(n) * rate))
	out := make([]models.ScoredTicket, n)
	for i := range out {
		out[i] = models.ScoredTicket{UDS: uds, Hit: i < hits, Contradictions: contradictions}
	}
	return out
}

func TestLearn_SampleFloorSelectsOnlyReliableBucket(t *testing.T) {
	var tickets []models.ScoredTicket
	tickets = append(tickets, bucketTickets(0.10, 150, 0.62, 0)...)
	tickets = append(tickets, bucketTickets(0.15, 80, 0.58, 0)...)

	res, err := Learn(tickets, DefaultOptions())
	require.NoError(t, err)
	assert.InDelta(t, 0.10, res.Theta, 1e-9)
	assert.InDelta(t, 93.0/150, res.Accuracy, 1e-9)
	assert.Equal(t, 150, res.SamplesUsed)

	var unreliable int
	for _, b := range res.Buckets {
		if !b.Reliable {
			unreliable++
			assert.InDelta(t, 0.15, b.Boundary, 1e-9)
		}
	}
	assert.Equal(t, 1, unreliable)
}

func TestLearn_PicksAccuracyMaximizingBoundary(t *testing.T) {
	var tickets []models.ScoredTicket
	tickets = append(tickets, bucketTickets(-0.05, 200, 0.30, 0)...)
	tickets = append(tickets, bucketTickets(0.02, 200, 0.50, 0)...)
	tickets = append(tickets, bucketTickets(0.08, 200, 0.70, 0)...)

	res, err := Learn(tickets, DefaultOptions())
	require.NoError(t, err)
	assert.InDelta(t, 0.08, res.Theta, 1e-9)
	assert.InDelta(t, 1.0/3, res.Retained, 1e-9)
}

func TestLearn_DiscardLimit(t *testing.T) {
	var tickets []models.ScoredTicket
	tickets = append(tickets, bucketTickets(-0.05, 400, 0.30, 0)...)
	tickets = append(tickets, bucketTickets(0.02, 400, 0.50, 0)...)
	tickets = append(tickets, bucketTickets(0.08, 200, 0.70, 0)...)

	opts := DefaultOptions()
	opts.MaxDiscardFraction = 0.5 // 0.08 keeps only 20% of volume
	res, err := Learn(tickets, opts)
	require.NoError(t, err)
	assert.InDelta(t, 0.02, res.Theta, 1e-9)
}

func TestLearn_TieBreaksToLowestBoundary(t *testing.T) {
	var tickets []models.ScoredTicket
	tickets = append(tickets, bucketTickets(0.01, 100, 0.5, 0)...)
	tickets = append(tickets, bucketTickets(0.03, 100, 0.5, 0)...)

	res, err := Learn(tickets, DefaultOptions())
	require.NoError(t, err)
	assert.InDelta(t, 0.01, res.Theta, 1e-9)
}

func TestLearn_Idempotent(t *testing.T) {
	var tickets []models.ScoredTicket
	tickets = append(tickets, bucketTickets(0.04, 120, 0.4, 0)...)
	tickets = append(tickets, bucketTickets(0.07, 130, 0.6, 0)...)
	tickets = append(tickets, bucketTickets(math.Inf(-1), 50, 0, 1)...)

	a, err := Learn(tickets, DefaultOptions())
	require.NoError(t, err)
	b, err := Learn(tickets, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestLearn_InsufficientData(t *testing.T) {
	_, err := Learn(bucketTickets(0.1, 99, 0.5, 0), DefaultOptions())
	assert.True(t, errors.Is(err, models.ErrInsufficientData))

	_, err = Learn(nil, DefaultOptions())
	assert.ErrorIs(t, err, models.ErrInsufficientData)
}

func TestLearn_ChoosesK(t *testing.T) {
	base := bucketTickets(0.05, 200, 0.40, 0)

	withGoodOnes := append(append([]models.ScoredTicket(nil), base...), bucketTickets(math.Inf(-1), 150, 0.60, 1)...)
	res, err := Learn(withGoodOnes, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 1, res.K)

	withBadOnes := append(append([]models.ScoredTicket(nil), base...), bucketTickets(math.Inf(-1), 150, 0.10, 1)...)
	res, err = Learn(withBadOnes, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 0, res.K)

	res, err = Learn(base, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 0, res.K)
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(o *Options)
	}{
		{"zero bin width", func(o *Options) { o.BinWidth = 0 }},
		{"zero floor", func(o *Options) { o.MinBucketSamples = 0 }},
		{"discard everything", func(o *Options) { o.MaxDiscardFraction = 1 }},
		{"K out of range", func(o *Options) { o.DefaultK = 2 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := DefaultOptions()
			tt.mutate(&o)
			assert.ErrorIs(t, o.Validate(), models.ErrValidation)
		})
	}
}

func TestLearnLeagueWeights(t *testing.T) {
	var snaps []models.PredictionSnapshot
	add := func(league string, n, hits int) {
		for i := 0; i < n; i++ {
			result := models.OutcomeAway
			if i < hits {
				result = models.OutcomeHome
			}
			snaps = append(snaps, models.PredictionSnapshot{
				League: league,
				Probs:  models.Triple{Home: 0.5, Draw: 0.3, Away: 0.2},
				Result: result,
			})
		}
	}
	add("epl", 100, 60)
	add("kpl", 100, 40)
	add("tiny", 10, 10)

	base := models.LeagueWeights{Weights: map[string]float64{"tiny": 0.7}}
	weights, report := LearnLeagueWeights(snaps, base, 50)

	overall := 110.0 / 210
	assert.InDelta(t, 0.6/overall, weights["epl"], 1e-9)
	assert.InDelta(t, 0.4/overall, weights["kpl"], 1e-9)
	assert.Equal(t, 0.7, weights["tiny"], "leagues below the floor keep their base weight")
	require.Len(t, report, 3)
	assert.Equal(t, "epl", report[0].League)
	assert.False(t, report[2].Learned)
}

// memStore records appended thresholds.
type memStore struct {
	tickets    []models.ScoredTicket
	thresholds []models.Threshold
	weights    []models.LeagueWeights
	snapshots  []models.PredictionSnapshot
	failAppend bool
}

func (s *memStore) ScoredTickets(context.Context, time.Time, time.Time) ([]models.ScoredTicket, error) {
	return s.tickets, nil
}

func (s *memStore) AppendThreshold(_ context.Context, t models.Threshold) error {
	if s.failAppend {
		return errors.New("disk full")
	}
	for i := range s.thresholds {
		if s.thresholds[i].Profile == t.Profile {
			s.thresholds[i].Current = false
		}
	}
	s.thresholds = append(s.thresholds, t)
	return nil
}

func (s *memStore) SettledSnapshots(context.Context, string, string) ([]models.PredictionSnapshot, error) {
	return s.snapshots, nil
}

func (s *memStore) SaveLeagueWeights(_ context.Context, w models.LeagueWeights) error {
	s.weights = append(s.weights, w)
	return nil
}

func TestRunner_AppendsNewCurrentThreshold(t *testing.T) {
	store := &memStore{tickets: bucketTickets(0.10, 150, 0.62, 0)}
	r, err := NewRunner(store, DefaultOptions())
	require.NoError(t, err)

	to := time.Date(2026, 9, 30, 0, 0, 0, 0, time.UTC)
	req := LearnRequest{From: to.AddDate(0, -3, 0), To: to}
	first, _, err := r.Learn(context.Background(), req)
	require.NoError(t, err)
	second, _, err := r.Learn(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, DefaultProfile, first.Profile)
	assert.Equal(t, first.Theta, second.Theta)
	assert.Equal(t, first.K, second.K)
	assert.NotEqual(t, first.ID, second.ID)
	require.Len(t, store.thresholds, 2, "prior thresholds are never overwritten")
	assert.False(t, store.thresholds[0].Current)
	assert.True(t, store.thresholds[1].Current)
}

func TestRunner_NoWriteOnFailure(t *testing.T) {
	store := &memStore{tickets: bucketTickets(0.10, 20, 0.62, 0)}
	r, err := NewRunner(store, DefaultOptions())
	require.NoError(t, err)
	_, _, err = r.Learn(context.Background(), LearnRequest{To: time.Now()})
	assert.ErrorIs(t, err, models.ErrInsufficientData)
	assert.Empty(t, store.thresholds)

	store = &memStore{tickets: bucketTickets(0.10, 150, 0.62, 0), failAppend: true}
	r, _ = NewRunner(store, DefaultOptions())
	_, _, err = r.Learn(context.Background(), LearnRequest{To: time.Now()})
	assert.Error(t, err)
	assert.Empty(t, store.thresholds)
}

func TestRunner_RequestValidation(t *testing.T) {
	r, err := NewRunner(&memStore{}, DefaultOptions())
	require.NoError(t, err)
	now := time.Now()
	_, _, err = r.Learn(context.Background(), LearnRequest{From: now, To: now.Add(-time.Hour)})
	assert.ErrorIs(t, err, models.ErrValidation)
	_, _, err = r.Learn(context.Background(), LearnRequest{})
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestRunner_LearnWeights(t *testing.T) {
	store := &memStore{}
	for i := 0; i < 120; i++ {
		store.snapshots = append(store.snapshots, models.PredictionSnapshot{
			League: "epl", Probs: models.Triple{Home: 0.5, Draw: 0.3, Away: 0.2}, Result: models.OutcomeHome,
		})
	}
	r, err := NewRunner(store, DefaultOptions())
	require.NoError(t, err)
	lw, report, err := r.LearnWeights(context.Background(), "", "v1", models.LeagueWeights{})
	require.NoError(t, err)
	assert.Equal(t, DefaultProfile, lw.Profile)
	assert.Equal(t, 1.0, lw.Weights["epl"])
	assert.Len(t, report, 1)
	assert.Len(t, store.weights, 1)
}
