package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/rewired-gh/jackpotengine/internal/calibration"
	"github.com/rewired-gh/jackpotengine/internal/models"
	"github.com/rewired-gh/jackpotengine/internal/tasks"
)

// TaskKindCalibrationFit labels background calibration fits.
const TaskKindCalibrationFit = "calibration_fit"

func (e *Engine) fitOptions(opts calibration.FitOptions) calibration.FitOptions {
	opts.ModelVersion = e.modelVersion(opts.ModelVersion)
	if opts.MinSamples == 0 {
		opts.MinSamples = e.config.MinSamples
	}
	return opts
}

// Fit builds new, inactive calibration curves for the scope. A scope below
// the sample minimum yields an empty result with a warning, not an error.
func (e *Engine) Fit(ctx context.Context, opts calibration.FitOptions, progress calibration.ProgressFunc) (*calibration.FitResult, error) {
	opts = e.fitOptions(opts)
	res, err := e.calibration.Fit(ctx, opts, progress)
	if err != nil {
		e.metrics.RecordFit("error", nil)
		return nil, err
	}
	if len(res.Curves) == 0 {
		e.metrics.RecordFit("empty", nil)
		return res, nil
	}
	outcomes := make([]string, 0, len(res.Curves))
	for _, c := range res.Curves {
		outcomes = append(outcomes, string(c.Scope.Outcome))
	}
	e.metrics.RecordFit("success", outcomes)
	return res, nil
}

// FitAsync validates opts and runs Fit as a background task.
func (e *Engine) FitAsync(ctx context.Context, opts calibration.FitOptions) (*models.Task, error) {
	opts = e.fitOptions(opts)
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return e.runner.Submit(ctx, TaskKindCalibrationFit, func(ctx context.Context, progress tasks.ProgressFunc) (any, error) {
		return e.Fit(ctx, opts, calibration.ProgressFunc(progress))
	})
}

// Activate makes the curve the active one of its scope. Re-activating an
// older curve is a rollback.
func (e *Engine) Activate(ctx context.Context, id string) (*models.CalibrationCurve, error) {
	curve, previous, err := e.calibration.Activate(ctx, id)
	switch {
	case errors.Is(err, models.ErrConcurrencyConflict):
		e.metrics.RecordActivation("conflict")
		return nil, err
	case err != nil:
		e.metrics.RecordActivation("error")
		return nil, err
	}
	e.metrics.RecordActivation("success")

	if previous != id && e.notifier != nil {
		if err := e.notifier.NotifyCalibrationActivated(curve.Scope, curve.ID, previous); err != nil {
			log.Warn("Failed to send activation notification: %v", err)
		}
	}
	return curve, nil
}

// GetActive returns the active curve per outcome for the scope.
func (e *Engine) GetActive(ctx context.Context, modelVersion, league string) (map[models.Outcome]*models.CalibrationCurve, error) {
	return e.calibration.GetActive(ctx, e.modelVersion(modelVersion), league)
}

// History lists every curve fitted for the scope, newest first.
func (e *Engine) History(ctx context.Context, modelVersion, league string) ([]models.CalibrationCurve, error) {
	return e.calibration.History(ctx, e.modelVersion(modelVersion), league)
}

// calibrators caches one calibrator per league for a single request.
type calibrators struct {
	e            *Engine
	modelVersion string
	byLeague     map[string]calibration.Calibrator
}

func (e *Engine) newCalibrators(modelVersion string) *calibrators {
	return &calibrators{e: e, modelVersion: e.modelVersion(modelVersion), byLeague: map[string]calibration.Calibrator{}}
}

func (c *calibrators) apply(ctx context.Context, f models.Fixture) (models.Triple, error) {
	cal, ok := c.byLeague[f.League]
	if !ok {
		var err error
		cal, err = c.e.calibration.Calibrator(ctx, c.modelVersion, f.League)
		if err != nil {
			return models.Triple{}, fmt.Errorf("failed to load calibration for %s: %w", f.League, err)
		}
		c.byLeague[f.League] = cal
	}
	return cal.Apply(f.Probs), nil
}
