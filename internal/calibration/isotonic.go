// Package calibration fits, versions and applies isotonic probability
// calibration curves per (outcome, league, model version).
package calibration

import (
	"math"
	"sort"

	"github.com/rewired-gh/jackpotengine/internal/models"
)

// Sample is one (predicted probability, realized 0/1) observation.
type Sample struct {
	Predicted float64
	Hit       bool
}

type block struct {
	sumX, sumY, weight float64
}

func (b block) mean() float64 { return b.sumY / b.weight }

// Isotonic fits a non-decreasing step function of realized frequency against
// predicted probability using pool-adjacent-violators. Samples sharing the same
// prediction are pooled first so the result does not depend on input order.
// Each returned point is (mean prediction of the block, block frequency).
func Isotonic(samples []Sample) []models.CurvePoint {
	if len(samples) == 0 {
		return nil
	}
	sorted := make([]Sample, len(samples))
	copy(sorted, samples)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Predicted < sorted[j].Predicted })

	blocks := make([]block, 0, len(sorted))
	for i := 0; i < len(sorted); {
		b := block{}
		x := sorted[i].Predicted
		for ; i < len(sorted) && sorted[i].Predicted == x; i++ {
			b.sumX += x
			if sorted[i].Hit {
				b.sumY++
			}
			b.weight++
		}
		blocks = append(blocks, b)
		for len(blocks) > 1 && blocks[len(blocks)-2].mean() > blocks[len(blocks)-1].mean() {
			last := blocks[len(blocks)-1]
			prev := &blocks[len(blocks)-2]
			prev.sumX += last.sumX
			prev.sumY += last.sumY
			prev.weight += last.weight
			blocks = blocks[:len(blocks)-1]
		}
	}

	points := make([]models.CurvePoint, len(blocks))
	for i, b := range blocks {
		points[i] = models.CurvePoint{
			Raw:        b.sumX / b.weight,
			Calibrated: clamp01(b.mean()),
		}
	}
	return points
}

// Interpolate maps raw through the curve: linear between points, flat beyond
// the ends, clamped to [0,1]. An empty curve returns raw unchanged.
func Interpolate(points []models.CurvePoint, raw float64) float64 {
	if len(points) == 0 {
		return clamp01(raw)
	}
	if raw <= points[0].Raw {
		return clamp01(points[0].Calibrated)
	}
	last := points[len(points)-1]
	if raw >= last.Raw {
		return clamp01(last.Calibrated)
	}
	i := sort.Search(len(points), func(i int) bool { return points[i].Raw >= raw })
	lo, hi := points[i-1], points[i]
	if hi.Raw == lo.Raw {
		return clamp01(hi.Calibrated)
	}
	w := (raw - lo.Raw) / (hi.Raw - lo.Raw)
	return clamp01(lo.Calibrated + w*(hi.Calibrated-lo.Calibrated))
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
