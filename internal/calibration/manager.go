package calibration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rewired-gh/jackpotengine/internal/logger"
	"github.com/rewired-gh/jackpotengine/internal/models"
)

// Store is the persistence the manager needs. Implementations must make
// InsertCurves all-or-nothing and SwapActive a compare-and-swap on the scope's
// active pointer that returns models.ErrConcurrencyConflict when expected no
// longer matches.
type Store interface {
	SettledSnapshots(ctx context.Context, modelVersion, league string) ([]models.PredictionSnapshot, error)
	InsertCurves(ctx context.Context, curves []models.CalibrationCurve) error
	GetCurve(ctx context.Context, id string) (*models.CalibrationCurve, error)
	ActiveCurveID(ctx context.Context, scope models.CalibrationScope) (string, error)
	SwapActive(ctx context.Context, scope models.CalibrationScope, expected, next string) error
	ActiveCurves(ctx context.Context, modelVersion, league string) ([]models.CalibrationCurve, error)
	ListCurves(ctx context.Context, modelVersion, league string) ([]models.CalibrationCurve, error)
}

// ProgressFunc receives a completion percentage and a phase label.
type ProgressFunc func(percent float64, phase string)

// FitOptions selects the scope of a fit run.
type FitOptions struct {
	ModelVersion string `json:"model_version"`
	League       string `json:"league,omitempty"` // empty = global
	MinSamples   int    `json:"min_samples"`
}

// Validate checks the options.
func (o FitOptions) Validate() error {
	if o.ModelVersion == "" {
		return fmt.Errorf("%w: model_version is required", models.ErrValidation)
	}
	if o.MinSamples < 1 {
		return fmt.Errorf("%w: min_samples must be at least 1", models.ErrValidation)
	}
	return nil
}

// SkippedScope explains why an outcome produced no curve.
type SkippedScope struct {
	Outcome models.Outcome `json:"outcome"`
	Samples int            `json:"samples"`
	Reason  string         `json:"reason"`
}

// FitResult lists the curves created by a fit run. Curves are never activated.
type FitResult struct {
	CalibrationIDs []string                  `json:"calibration_ids"`
	Curves         []models.CalibrationCurve `json:"-"`
	Skipped        []SkippedScope            `json:"skipped,omitempty"`
	Warnings       []string                  `json:"warnings,omitempty"`
}

// Manager owns fitting, activation and lookup of calibration curves.
type Manager struct {
	store Store
	now   func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager creates a manager over store.
func NewManager(store Store) *Manager {
	return &Manager{
		store: store,
		now:   time.Now,
		locks: make(map[string]*sync.Mutex),
	}
}

func (m *Manager) scopeLock(key string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[key]
	if !ok {
		l = &sync.Mutex{}
		m.locks[key] = l
	}
	return l
}

// Fit builds one isotonic curve per outcome for the requested scope. Outcomes
// with fewer than MinSamples settled predictions are skipped and reported.
// Curves are fitted concurrently and written together once every fit is done.
func (m *Manager) Fit(ctx context.Context, opts FitOptions, progress ProgressFunc) (*FitResult, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	report := func(pct float64, phase string) {
		if progress != nil {
			progress(pct, phase)
		}
	}

	report(5, "loading samples")
	snapshots, err := m.store.SettledSnapshots(ctx, opts.ModelVersion, opts.League)
	if err != nil {
		return nil, fmt.Errorf("failed to load prediction snapshots: %w", err)
	}
	logger.Debug("Calibration fit %s/%s: %d settled snapshots", opts.ModelVersion, scopeLabel(opts.League), len(snapshots))

	report(20, "fitting curves")
	fitted := make([]*models.CalibrationCurve, len(models.Outcomes))
	skipped := make([]*SkippedScope, len(models.Outcomes))
	now := m.now()

	g, gctx := errgroup.WithContext(ctx)
	for i, outcome := range models.Outcomes {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			samples := make([]Sample, 0, len(snapshots))
			for _, s := range snapshots {
				samples = append(samples, Sample{Predicted: s.Probs.Get(outcome), Hit: s.Result == outcome})
			}
			if len(samples) < opts.MinSamples {
				skipped[i] = &SkippedScope{
					Outcome: outcome,
					Samples: len(samples),
					Reason:  fmt.Sprintf("%d samples below minimum %d", len(samples), opts.MinSamples),
				}
				return nil
			}
			fitted[i] = &models.CalibrationCurve{
				ID: uuid.NewString(),
				Scope: models.CalibrationScope{
					Outcome:      outcome,
					League:       opts.League,
					ModelVersion: opts.ModelVersion,
				},
				Points:      Isotonic(samples),
				SamplesUsed: len(samples),
				CreatedAt:   now,
				ValidFrom:   now,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("calibration fit aborted: %w", err)
	}

	result := &FitResult{CalibrationIDs: []string{}}
	for i := range models.Outcomes {
		if skipped[i] != nil {
			result.Skipped = append(result.Skipped, *skipped[i])
		}
		if fitted[i] != nil {
			result.Curves = append(result.Curves, *fitted[i])
			result.CalibrationIDs = append(result.CalibrationIDs, fitted[i].ID)
		}
	}

	if len(result.Curves) == 0 {
		warning := fmt.Sprintf("no outcome in scope %s/%s reached %d settled samples; nothing was fitted",
			opts.ModelVersion, scopeLabel(opts.League), opts.MinSamples)
		result.Warnings = append(result.Warnings, warning)
		logger.Warn("Calibration fit: %s", warning)
		report(100, "completed")
		return result, nil
	}

	report(80, "saving curves")
	if err := m.store.InsertCurves(ctx, result.Curves); err != nil {
		return nil, fmt.Errorf("failed to save calibration curves: %w", err)
	}
	logger.Info("Calibration fit %s/%s: created %d curves, skipped %d outcomes",
		opts.ModelVersion, scopeLabel(opts.League), len(result.Curves), len(result.Skipped))
	report(100, "completed")
	return result, nil
}

// Activate makes id the single active curve of its scope, deactivating the
// previous one. Activating an older curve is a rollback. Concurrent activations
// on one scope serialize on a scope lock; a lost store-level race surfaces as
// models.ErrConcurrencyConflict. replaced is the curve that was active when
// the swap happened, read under the scope lock; it equals id when the curve
// was already active and is empty when the scope had none.
func (m *Manager) Activate(ctx context.Context, id string) (curve *models.CalibrationCurve, replaced string, err error) {
	if id == "" {
		return nil, "", fmt.Errorf("%w: calibration_id is required", models.ErrValidation)
	}
	curve, err = m.store.GetCurve(ctx, id)
	if err != nil {
		return nil, "", err
	}

	l := m.scopeLock(curve.Scope.Key())
	l.Lock()
	defer l.Unlock()

	current, err := m.store.ActiveCurveID(ctx, curve.Scope)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read active calibration: %w", err)
	}
	if current == id {
		curve.Active = true
		return curve, current, nil
	}
	if err := m.store.SwapActive(ctx, curve.Scope, current, id); err != nil {
		return nil, "", err
	}
	curve.Active = true
	if current == "" {
		logger.Info("Activated calibration %s for %s", id, curve.Scope.Key())
	} else {
		logger.Info("Activated calibration %s for %s (replacing %s)", id, curve.Scope.Key(), current)
	}
	return curve, current, nil
}

// GetActive returns the active curve per outcome for the scope. A missing
// outcome means raw probabilities are used for it.
func (m *Manager) GetActive(ctx context.Context, modelVersion, league string) (map[models.Outcome]*models.CalibrationCurve, error) {
	if modelVersion == "" {
		return nil, fmt.Errorf("%w: model_version is required", models.ErrValidation)
	}
	curves, err := m.store.ActiveCurves(ctx, modelVersion, league)
	if err != nil {
		return nil, fmt.Errorf("failed to load active calibrations: %w", err)
	}
	out := make(map[models.Outcome]*models.CalibrationCurve, len(curves))
	for i := range curves {
		out[curves[i].Scope.Outcome] = &curves[i]
	}
	return out, nil
}

// Calibrator returns a calibrator for the scope. When the league has no active
// curve for an outcome, the global curve of the same model version is used.
func (m *Manager) Calibrator(ctx context.Context, modelVersion, league string) (Calibrator, error) {
	if modelVersion == "" {
		return NewCalibrator(nil), nil
	}
	active, err := m.GetActive(ctx, modelVersion, league)
	if err != nil {
		return Calibrator{}, err
	}
	if league != "" && len(active) < len(models.Outcomes) {
		global, err := m.GetActive(ctx, modelVersion, "")
		if err != nil {
			return Calibrator{}, err
		}
		for o, c := range global {
			if _, ok := active[o]; !ok {
				active[o] = c
			}
		}
	}
	return NewCalibrator(active), nil
}

// History lists every curve ever fitted for the scope, newest first.
func (m *Manager) History(ctx context.Context, modelVersion, league string) ([]models.CalibrationCurve, error) {
	if modelVersion == "" {
		return nil, fmt.Errorf("%w: model_version is required", models.ErrValidation)
	}
	return m.store.ListCurves(ctx, modelVersion, league)
}

func scopeLabel(league string) string {
	if league == "" {
		return "global"
	}
	return league
}
