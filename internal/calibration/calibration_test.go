package calibration

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/jackpotengine/internal/models"
)

// memStore is an in-memory Store used to test the manager in isolation.
type memStore struct {
	mu        sync.Mutex
	snapshots []models.PredictionSnapshot
	curves    map[string]models.CalibrationCurve
	order     []string
	active    map[string]string
	inserts   int
}

func newMemStore() *memStore {
	return &memStore{curves: map[string]models.CalibrationCurve{}, active: map[string]string{}}
}

func (s *memStore) SettledSnapshots(_ context.Context, mv, league string) ([]models.PredictionSnapshot, error) {
	var out []models.PredictionSnapshot
	for _, snap := range s.snapshots {
		if snap.ModelVersion == mv && (league == "" || snap.League == league) && snap.Settled() {
			out = append(out, snap)
		}
	}
	return out, nil
}

func (s *memStore) InsertCurves(_ context.Context, curves []models.CalibrationCurve) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserts++
	for _, c := range curves {
		s.curves[c.ID] = c
		s.order = append(s.order, c.ID)
	}
	return nil
}

func (s *memStore) GetCurve(_ context.Context, id string) (*models.CalibrationCurve, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.curves[id]
	if !ok {
		return nil, fmt.Errorf("%w: calibration %s", models.ErrNotFound, id)
	}
	return &c, nil
}

func (s *memStore) ActiveCurveID(_ context.Context, scope models.CalibrationScope) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active[scope.Key()], nil
}

func (s *memStore) SwapActive(_ context.Context, scope models.CalibrationScope, expected, next string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active[scope.Key()] != expected {
		return models.ErrConcurrencyConflict
	}
	if old, ok := s.curves[expected]; ok {
		old.Active = false
		s.curves[expected] = old
	}
	c := s.curves[next]
	c.Active = true
	s.curves[next] = c
	s.active[scope.Key()] = next
	return nil
}

func (s *memStore) ActiveCurves(_ context.Context, mv, league string) ([]models.CalibrationCurve, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.CalibrationCurve
	for _, c := range s.curves {
		if c.Active && c.Scope.ModelVersion == mv && c.Scope.League == league {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *memStore) ListCurves(_ context.Context, mv, league string) ([]models.CalibrationCurve, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.CalibrationCurve
	for i := len(s.order) - 1; i >= 0; i-- {
		c := s.curves[s.order[i]]
		if c.Scope.ModelVersion == mv && c.Scope.League == league {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *memStore) activeCount(scope models.CalibrationScope) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.curves {
		if c.Active && c.Scope == scope {
			n++
		}
	}
	return n
}

// seedSnapshots writes n settled snapshots whose home probability sweeps 0.2-0.8
// and whose home result frequency rises with it.
func seedSnapshots(s *memStore, n int, league string) {
	for i := 0; i < n; i++ {
		home := 0.2 + 0.6*float64(i%60)/60
		draw := (1 - home) / 2
		result := models.OutcomeAway
		switch {
		case i%10 < int(home*10):
			result = models.OutcomeHome
		case i%3 == 0:
			result = models.OutcomeDraw
		}
		s.snapshots = append(s.snapshots, models.PredictionSnapshot{
			FixtureID:    fmt.Sprintf("fx-%d", i),
			League:       league,
			ModelVersion: "v1",
			Probs:        models.Triple{Home: home, Draw: draw, Away: 1 - home - draw},
			Result:       result,
		})
	}
}

func TestIsotonic_Monotonic(t *testing.T) {
	samples := []Sample{
		{0.1, false}, {0.2, true}, {0.3, false}, {0.4, false},
		{0.5, true}, {0.6, false}, {0.7, true}, {0.8, true},
	}
	points := Isotonic(samples)
	require.NotEmpty(t, points)
	for i := 1; i < len(points); i++ {
		assert.GreaterOrEqual(t, points[i].Raw, points[i-1].Raw)
		assert.GreaterOrEqual(t, points[i].Calibrated, points[i-1].Calibrated)
	}
	assert.Equal(t, 1.0, points[len(points)-1].Calibrated)
}

func TestIsotonic_PoolsViolators(t *testing.T) {
	// 0.2 -> hit, 0.4 -> miss violates monotonicity and must pool to 0.5
	points := Isotonic([]Sample{{0.2, true}, {0.4, false}})
	require.Len(t, points, 1)
	assert.InDelta(t, 0.3, points[0].Raw, 1e-12)
	assert.InDelta(t, 0.5, points[0].Calibrated, 1e-12)
}

func TestIsotonic_OrderIndependent(t *testing.T) {
	a := []Sample{{0.3, true}, {0.1, false}, {0.3, false}, {0.7, true}, {0.5, false}}
	b := []Sample{{0.7, true}, {0.5, false}, {0.3, false}, {0.3, true}, {0.1, false}}
	assert.Equal(t, Isotonic(a), Isotonic(b))
}

func TestInterpolate(t *testing.T) {
	points := []models.CurvePoint{{Raw: 0.2, Calibrated: 0.1}, {Raw: 0.6, Calibrated: 0.5}}
	assert.InDelta(t, 0.1, Interpolate(points, 0.05), 1e-12)
	assert.InDelta(t, 0.3, Interpolate(points, 0.4), 1e-12)
	assert.InDelta(t, 0.5, Interpolate(points, 0.95), 1e-12)
	assert.InDelta(t, 0.42, Interpolate(nil, 0.42), 1e-12)
	assert.Equal(t, 1.0, Interpolate(nil, 1.7))
}

func TestCalibrator_RenormalizesAfterIndependentCurves(t *testing.T) {
	c := NewCalibrator(map[models.Outcome]*models.CalibrationCurve{
		models.OutcomeHome: {ID: "h", Points: []models.CurvePoint{{Raw: 0, Calibrated: 0}, {Raw: 1, Calibrated: 0.8}}},
		models.OutcomeDraw: {ID: "d", Points: []models.CurvePoint{{Raw: 0, Calibrated: 0.1}, {Raw: 1, Calibrated: 1}}},
	})
	out := c.Apply(models.Triple{Home: 0.5, Draw: 0.3, Away: 0.2})
	assert.InDelta(t, 1.0, out.Sum(), 1e-12)
	assert.Equal(t, map[models.Outcome]string{models.OutcomeHome: "h", models.OutcomeDraw: "d"}, c.CurveIDs())

	raw := models.Triple{Home: 0.5, Draw: 0.3, Away: 0.2}
	assert.Equal(t, raw, NewCalibrator(nil).Apply(raw), "no curve falls back to raw")
}

func TestManager_FitDoesNotActivate(t *testing.T) {
	store := newMemStore()
	seedSnapshots(store, 300, "epl")
	m := NewManager(store)

	res, err := m.Fit(context.Background(), FitOptions{ModelVersion: "v1", League: "epl", MinSamples: 100}, nil)
	require.NoError(t, err)
	assert.Len(t, res.CalibrationIDs, 3)
	assert.Equal(t, 1, store.inserts, "curves must be written in one batch")

	active, err := m.GetActive(context.Background(), "v1", "epl")
	require.NoError(t, err)
	assert.Empty(t, active)
	for _, c := range res.Curves {
		assert.Equal(t, 300, c.SamplesUsed)
		require.NoError(t, c.Validate())
	}
}

func TestManager_FitIdempotentShape(t *testing.T) {
	store := newMemStore()
	seedSnapshots(store, 240, "")
	m := NewManager(store)
	opts := FitOptions{ModelVersion: "v1", MinSamples: 50}

	a, err := m.Fit(context.Background(), opts, nil)
	require.NoError(t, err)
	b, err := m.Fit(context.Background(), opts, nil)
	require.NoError(t, err)

	require.Len(t, b.Curves, len(a.Curves))
	for i := range a.Curves {
		assert.NotEqual(t, a.Curves[i].ID, b.Curves[i].ID)
		assert.Equal(t, a.Curves[i].SamplesUsed, b.Curves[i].SamplesUsed)
		assert.Equal(t, a.Curves[i].Points, b.Curves[i].Points)
	}
}

func TestManager_FitBelowMinimumReportsWarning(t *testing.T) {
	store := newMemStore()
	seedSnapshots(store, 20, "epl")
	m := NewManager(store)

	var phases []string
	res, err := m.Fit(context.Background(), FitOptions{ModelVersion: "v1", League: "epl", MinSamples: 100},
		func(_ float64, phase string) { phases = append(phases, phase) })
	require.NoError(t, err)
	assert.Empty(t, res.CalibrationIDs)
	assert.NotNil(t, res.CalibrationIDs)
	assert.Len(t, res.Skipped, 3)
	assert.NotEmpty(t, res.Warnings)
	assert.Zero(t, store.inserts)
	assert.Equal(t, "completed", phases[len(phases)-1])
}

func TestManager_FitValidation(t *testing.T) {
	m := NewManager(newMemStore())
	_, err := m.Fit(context.Background(), FitOptions{MinSamples: 10}, nil)
	assert.ErrorIs(t, err, models.ErrValidation)
	_, err = m.Fit(context.Background(), FitOptions{ModelVersion: "v1"}, nil)
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestManager_ActivateAndRollback(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	seedSnapshots(store, 200, "epl")
	m := NewManager(store)
	opts := FitOptions{ModelVersion: "v1", League: "epl", MinSamples: 100}

	first, err := m.Fit(ctx, opts, nil)
	require.NoError(t, err)
	second, err := m.Fit(ctx, opts, nil)
	require.NoError(t, err)

	curveA, curveB := first.Curves[0], second.Curves[0]
	require.Equal(t, curveA.Scope, curveB.Scope)

	_, replaced, err := m.Activate(ctx, curveA.ID)
	require.NoError(t, err)
	assert.Empty(t, replaced)
	_, replaced, err = m.Activate(ctx, curveB.ID)
	require.NoError(t, err)
	assert.Equal(t, curveA.ID, replaced)
	_, replaced, err = m.Activate(ctx, curveB.ID)
	require.NoError(t, err)
	assert.Equal(t, curveB.ID, replaced, "re-activating reports the curve itself")
	assert.Equal(t, 1, store.activeCount(curveA.Scope))

	active, err := m.GetActive(ctx, "v1", "epl")
	require.NoError(t, err)
	assert.Equal(t, curveB.ID, active[curveA.Scope.Outcome].ID)

	// rollback
	_, replaced, err = m.Activate(ctx, curveA.ID)
	require.NoError(t, err)
	assert.Equal(t, curveB.ID, replaced)
	assert.Equal(t, 1, store.activeCount(curveA.Scope))
	active, err = m.GetActive(ctx, "v1", "epl")
	require.NoError(t, err)
	assert.Equal(t, curveA.ID, active[curveA.Scope.Outcome].ID)

	history, err := m.History(ctx, "v1", "epl")
	require.NoError(t, err)
	assert.Len(t, history, 6, "superseded curves are retained")
}

func TestManager_ActivateUnknown(t *testing.T) {
	m := NewManager(newMemStore())
	_, _, err := m.Activate(context.Background(), "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestManager_ConcurrentActivationsLeaveOneActive(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	seedSnapshots(store, 150, "")
	m := NewManager(store)

	var ids []string
	var scope models.CalibrationScope
	for i := 0; i < 8; i++ {
		res, err := m.Fit(ctx, FitOptions{ModelVersion: "v1", MinSamples: 100}, nil)
		require.NoError(t, err)
		ids = append(ids, res.Curves[0].ID)
		scope = res.Curves[0].Scope
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		replaced []string
	)
	for _, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, prev, err := m.Activate(ctx, id)
			assert.NoError(t, err)
			mu.Lock()
			replaced = append(replaced, prev)
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, store.activeCount(scope))

	// Activations serialize into a chain: one starts from an empty scope and
	// every other curve is replaced exactly once, except the one left active.
	active, err := m.GetActive(ctx, "v1", "")
	require.NoError(t, err)
	final := active[scope.Outcome].ID
	seen := map[string]int{}
	for _, prev := range replaced {
		seen[prev]++
	}
	assert.Equal(t, 1, seen[""])
	assert.Zero(t, seen[final])
	for _, id := range ids {
		if id != final {
			assert.Equal(t, 1, seen[id], "curve %s", id)
		}
	}
}

func TestManager_CalibratorFallsBackToGlobal(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	seedSnapshots(store, 150, "epl")
	m := NewManager(store)

	res, err := m.Fit(ctx, FitOptions{ModelVersion: "v1", MinSamples: 100}, nil)
	require.NoError(t, err)
	for _, id := range res.CalibrationIDs {
		_, _, err := m.Activate(ctx, id)
		require.NoError(t, err)
	}

	cal, err := m.Calibrator(ctx, "v1", "laliga")
	require.NoError(t, err)
	ids := cal.CurveIDs()
	got := make([]string, 0, len(ids))
	for _, id := range ids {
		got = append(got, id)
	}
	want := append([]string(nil), res.CalibrationIDs...)
	sort.Strings(got)
	sort.Strings(want)
	assert.Equal(t, want, got)
}
