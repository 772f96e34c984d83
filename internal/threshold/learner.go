// Package threshold learns the ticket acceptance threshold (theta) and the
// tolerated contradiction count (K) from historical ticket outcomes.
package threshold

import (
	"fmt"
	"math"
	"sort"

	"github.com/rewired-gh/jackpotengine/internal/models"
)

// Options controls bucketing and selection.
type Options struct {
	BinWidth           float64 `json:"bin_width"`
	MinBucketSamples   int     `json:"min_bucket_samples"`
	MaxDiscardFraction float64 `json:"max_discard_fraction"` // share of reliable volume theta may cut away
	DefaultK           int     `json:"default_k"`
}

// DefaultOptions returns the production learning parameters.
func DefaultOptions() Options {
	return Options{
		BinWidth:           0.01,
		MinBucketSamples:   100,
		MaxDiscardFraction: 0.8,
		DefaultK:           0,
	}
}

// Validate checks the options.
func (o Options) Validate() error {
	if o.BinWidth <= 0 {
		return fmt.Errorf("%w: bin_width must be positive", models.ErrValidation)
	}
	if o.MinBucketSamples < 1 {
		return fmt.Errorf("%w: min_bucket_samples must be at least 1", models.ErrValidation)
	}
	if o.MaxDiscardFraction < 0 || o.MaxDiscardFraction >= 1 {
		return fmt.Errorf("%w: max_discard_fraction must be in [0,1)", models.ErrValidation)
	}
	if o.DefaultK < 0 || o.DefaultK > 1 {
		return fmt.Errorf("%w: default_k must be 0 or 1", models.ErrValidation)
	}
	return nil
}

// Bucket is the hit statistics of tickets whose UDS falls in [Boundary, Boundary+BinWidth).
type Bucket struct {
	Boundary float64 `json:"boundary"`
	Count    int     `json:"count"`
	Hits     int     `json:"hits"`
	Reliable bool    `json:"reliable"`
}

// HitRate is hits/count.
func (b Bucket) HitRate() float64 {
	if b.Count == 0 {
		return 0
	}
	return float64(b.Hits) / float64(b.Count)
}

// Result is the outcome of one learning pass.
type Result struct {
	Theta       float64  `json:"theta"`
	K           int      `json:"k"`
	Accuracy    float64  `json:"accuracy"`     // hit rate of reliable tickets with UDS >= theta
	Retained    float64  `json:"retained"`     // share of reliable volume with UDS >= theta
	SamplesUsed int      `json:"samples_used"` // tickets in reliable buckets
	Buckets     []Bucket `json:"buckets"`
}

// Learn selects theta and K. It is a pure function of its input: theta is the
// lowest reliable bucket boundary whose cumulative hit rate (UDS >= boundary)
// is maximal while retaining at least 1-MaxDiscardFraction of reliable volume.
// Returns models.ErrInsufficientData when no bucket reaches MinBucketSamples.
func Learn(tickets []models.ScoredTicket, opts Options) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	buckets := bucketize(tickets, opts)
	var reliable []Bucket
	total := 0
	for _, b := range buckets {
		if b.Reliable {
			reliable = append(reliable, b)
			total += b.Count
		}
	}
	if len(reliable) == 0 {
		return nil, fmt.Errorf("%w: no UDS bucket reached %d samples (%d tickets)",
			models.ErrInsufficientData, opts.MinBucketSamples, len(tickets))
	}

	// suffix sums over reliable buckets, ascending boundary
	hitsAbove := make([]int, len(reliable)+1)
	countAbove := make([]int, len(reliable)+1)
	for i := len(reliable) - 1; i >= 0; i-- {
		hitsAbove[i] = hitsAbove[i+1] + reliable[i].Hits
		countAbove[i] = countAbove[i+1] + reliable[i].Count
	}

	minRetained := 1 - opts.MaxDiscardFraction
	best := -1
	bestRate := -1.0
	for i := range reliable {
		retained := float64(countAbove[i]) / float64(total)
		if retained+1e-12 < minRetained {
			break
		}
		rate := float64(hitsAbove[i]) / float64(countAbove[i])
		if rate > bestRate+1e-12 {
			best, bestRate = i, rate
		}
	}

	res := &Result{
		Theta:       reliable[best].Boundary,
		Accuracy:    bestRate,
		Retained:    float64(countAbove[best]) / float64(total),
		SamplesUsed: total,
		Buckets:     buckets,
	}
	res.K = chooseK(tickets, opts)
	return res, nil
}

func bucketize(tickets []models.ScoredTicket, opts Options) []Bucket {
	byIndex := make(map[int64]*Bucket)
	for _, t := range tickets {
		if math.IsInf(t.UDS, 0) || math.IsNaN(t.UDS) {
			continue
		}
		idx := int64(math.Floor(t.UDS/opts.BinWidth + 1e-9))
		b, ok := byIndex[idx]
		if !ok {
			b = &Bucket{Boundary: roundTo(float64(idx)*opts.BinWidth, opts.BinWidth)}
			byIndex[idx] = b
		}
		b.Count++
		if t.Hit {
			b.Hits++
		}
	}
	out := make([]Bucket, 0, len(byIndex))
	for _, b := range byIndex {
		b.Reliable = b.Count >= opts.MinBucketSamples
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Boundary < out[j].Boundary })
	return out
}

// chooseK keeps DefaultK unless the tickets with exactly one contradiction form
// a reliable group and tolerating them raises the hit rate over zero-only.
func chooseK(tickets []models.ScoredTicket, opts Options) int {
	var zeroN, zeroHits, oneN, oneHits int
	for _, t := range tickets {
		switch t.Contradictions {
		case 0:
			zeroN++
			if t.Hit {
				zeroHits++
			}
		case 1:
			oneN++
			if t.Hit {
				oneHits++
			}
		}
	}
	if zeroN < opts.MinBucketSamples {
		return opts.DefaultK
	}
	if oneN < opts.MinBucketSamples {
		return 0
	}
	rate0 := float64(zeroHits) / float64(zeroN)
	rate1 := float64(zeroHits+oneHits) / float64(zeroN+oneN)
	if rate1 > rate0 {
		return 1
	}
	return 0
}

// roundTo removes float noise from a bucket boundary.
func roundTo(v, step float64) float64 {
	decimals := math.Max(0, math.Ceil(-math.Log10(step)))
	p := math.Pow(10, decimals+2)
	return math.Round(v*p) / p
}
