package models

import (
	"fmt"
	"time"
)

// CurvePoint maps a raw predicted probability to its corrected probability.
type CurvePoint struct {
	Raw        float64 `json:"raw"`
	Calibrated float64 `json:"calibrated"`
}

// CalibrationScope identifies the (outcome, league, model version) a curve applies to.
// An empty League means the global curve.
type CalibrationScope struct {
	Outcome      Outcome `json:"outcome"`
	League       string  `json:"league,omitempty"`
	ModelVersion string  `json:"model_version"`
}

// Key is the stable string form used as the active-pointer key.
func (s CalibrationScope) Key() string {
	league := s.League
	if league == "" {
		league = "*"
	}
	return fmt.Sprintf("%s|%s|%s", s.ModelVersion, league, s.Outcome)
}

// CalibrationCurve is an append-only, versioned isotonic correction curve.
type CalibrationCurve struct {
	ID          string           `json:"calibration_id"`
	Scope       CalibrationScope `json:"scope"`
	Points      []CurvePoint     `json:"points"`
	SamplesUsed int              `json:"samples_used"`
	CreatedAt   time.Time        `json:"created_at"`
	ValidFrom   time.Time        `json:"valid_from"`
	Active      bool             `json:"active"`
}

// Validate checks that the curve is non-empty, sorted by raw probability and
// non-decreasing in calibrated probability.
func (c *CalibrationCurve) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("%w: calibration ID must not be empty", ErrValidation)
	}
	if !c.Scope.Outcome.Valid() {
		return fmt.Errorf("%w: calibration %s has invalid outcome %q", ErrValidation, c.ID, c.Scope.Outcome)
	}
	if c.Scope.ModelVersion == "" {
		return fmt.Errorf("%w: calibration %s has no model version", ErrValidation, c.ID)
	}
	if len(c.Points) == 0 {
		return fmt.Errorf("%w: calibration %s has no points", ErrValidation, c.ID)
	}
	for i, p := range c.Points {
		if p.Calibrated < 0 || p.Calibrated > 1 {
			return fmt.Errorf("%w: calibration %s point %d outside [0,1]", ErrValidation, c.ID, i)
		}
		if i == 0 {
			continue
		}
		prev := c.Points[i-1]
		if p.Raw < prev.Raw || p.Calibrated < prev.Calibrated {
			return fmt.Errorf("%w: calibration %s is not monotonic at point %d", ErrValidation, c.ID, i)
		}
	}
	return nil
}
