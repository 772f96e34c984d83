package calibration

import "github.com/rewired-gh/jackpotengine/internal/models"

// Calibrator applies the active curve of each outcome to a raw triple.
// Outcomes without a curve pass through unchanged.
type Calibrator struct {
	curves map[models.Outcome]*models.CalibrationCurve
}

// NewCalibrator builds a calibrator from active curves keyed by outcome.
// A nil or empty map yields the identity calibrator.
func NewCalibrator(curves map[models.Outcome]*models.CalibrationCurve) Calibrator {
	return Calibrator{curves: curves}
}

// Identity reports whether no outcome has a curve.
func (c Calibrator) Identity() bool {
	return len(c.curves) == 0
}

// CurveIDs returns the id of the curve used for each calibrated outcome.
func (c Calibrator) CurveIDs() map[models.Outcome]string {
	ids := make(map[models.Outcome]string, len(c.curves))
	for o, curve := range c.curves {
		if curve != nil {
			ids[o] = curve.ID
		}
	}
	return ids
}

// Apply calibrates each outcome independently and renormalizes the triple to
// sum to 1. If the calibrated triple cannot be normalized the raw triple is
// returned.
func (c Calibrator) Apply(raw models.Triple) models.Triple {
	if c.Identity() {
		return raw
	}
	out := raw
	for _, o := range models.Outcomes {
		curve, ok := c.curves[o]
		if !ok || curve == nil {
			continue
		}
		out = out.With(o, Interpolate(curve.Points, raw.Get(o)))
	}
	norm, err := out.Normalize()
	if err != nil {
		return raw
	}
	return norm
}
