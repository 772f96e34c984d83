// Package probset turns one calibrated model triple per fixture into the named
// probability-set variants (A-J) that tickets are built from.
package probset

import (
	"fmt"
	"math"
	"strings"

	"github.com/rewired-gh/jackpotengine/internal/models"
)

// Key identifies a probability set. The set of keys is closed.
type Key string

const (
	PureModel           Key = "A"
	Balanced            Key = "B"
	Conservative        Key = "C"
	DrawBoosted         Key = "D"
	HighConviction      Key = "E"
	KellyWeighted       Key = "F"
	Ensemble            Key = "G"
	MarketConsensusDraw Key = "H"
	FormulaDraw         Key = "I"
	SystemSelectedDraw  Key = "J"
)

var keyNames = map[Key]string{
	PureModel:           "pure-model",
	Balanced:            "balanced",
	Conservative:        "conservative",
	DrawBoosted:         "draw-boosted",
	HighConviction:      "high-conviction",
	KellyWeighted:       "kelly-weighted",
	Ensemble:            "ensemble",
	MarketConsensusDraw: "market-consensus-draw",
	FormulaDraw:         "formula-based-draw",
	SystemSelectedDraw:  "system-selected-draw",
}

// AllKeys returns every key in A-J order.
func AllKeys() []Key {
	return []Key{
		PureModel, Balanced, Conservative, DrawBoosted, HighConviction,
		KellyWeighted, Ensemble, MarketConsensusDraw, FormulaDraw, SystemSelectedDraw,
	}
}

// ParseKey accepts a key letter (case-insensitive) or its long name.
func ParseKey(s string) (Key, error) {
	s = strings.TrimSpace(s)
	k := Key(strings.ToUpper(s))
	if _, ok := keyNames[k]; ok {
		return k, nil
	}
	for key, name := range keyNames {
		if strings.EqualFold(name, s) {
			return key, nil
		}
	}
	return "", fmt.Errorf("%w: unknown probability set %q", models.ErrValidation, s)
}

// ParseKeys parses a list of keys, rejecting duplicates.
func ParseKeys(in []string) ([]Key, error) {
	if len(in) == 0 {
		return nil, fmt.Errorf("%w: at least one probability set is required", models.ErrValidation)
	}
	keys := make([]Key, 0, len(in))
	seen := make(map[Key]bool, len(in))
	for _, s := range in {
		k, err := ParseKey(s)
		if err != nil {
			return nil, err
		}
		if seen[k] {
			return nil, fmt.Errorf("%w: probability set %s requested twice", models.ErrValidation, k)
		}
		seen[k] = true
		keys = append(keys, k)
	}
	return keys, nil
}

// Name returns the long name of the set.
func (k Key) Name() string {
	return keyNames[k]
}

// Input is everything a transform may read for one fixture. Model is the
// already-calibrated model triple.
type Input struct {
	Model        models.Triple
	Odds         models.Odds
	XGDiff       *float64
	LeagueWeight float64
}

const (
	drawBoost        = 1.15
	convictionPower  = 1.5
	systemDrawMargin = 0.05
	systemDrawMarket = 0.27
	systemDrawLift   = 0.01
	formulaDrawBase  = 0.32
	formulaDrawSlope = 0.12
	formulaDrawFloor = 0.15
	formulaDrawCeil  = 0.35
)

// Apply runs the transform for k. The result always sums to 1.
func (k Key) Apply(in Input) (models.Triple, error) {
	if err := in.Odds.Validate(); err != nil {
		return models.Triple{}, err
	}
	m, err := in.Model.Normalize()
	if err != nil {
		return models.Triple{}, err
	}
	w := in.LeagueWeight
	if w <= 0 {
		w = 1
	}
	q := in.Odds.Devig()

	var out models.Triple
	switch k {
	case PureModel:
		out = m
	case Balanced:
		out = blend(m, q, clamp(0.5*w, 0.2, 0.8))
	case Conservative:
		out = blend(m, q, clamp(0.3*w, 0.1, 0.6))
	case DrawBoosted:
		out = m.With(models.OutcomeDraw, m.Draw*drawBoost)
	case HighConviction:
		out = models.Triple{
			Home: math.Pow(m.Home, convictionPower),
			Draw: math.Pow(m.Draw, convictionPower),
			Away: math.Pow(m.Away, convictionPower),
		}
	case KellyWeighted:
		for _, o := range models.Outcomes {
			p := m.Get(o)
			out = out.With(o, p*(1+math.Max(0, kelly(p, in.Odds.Get(o)))))
		}
	case Ensemble:
		sum := models.Triple{}
		members := []Key{PureModel, Balanced, Conservative, DrawBoosted, HighConviction, KellyWeighted}
		for _, member := range members {
			t, err := member.Apply(in)
			if err != nil {
				return models.Triple{}, err
			}
			sum = sum.Add(t)
		}
		out = sum.Scale(1 / float64(len(members)))
	case MarketConsensusDraw:
		out = m.With(models.OutcomeDraw, math.Max(m.Draw, q.Draw))
	case FormulaDraw:
		out = formulaDraw(m, in.XGDiff)
	case SystemSelectedDraw:
		out = m
		top := math.Max(m.Home, m.Away)
		if m.Draw >= top-systemDrawMargin && q.Draw >= systemDrawMarket {
			out = m.With(models.OutcomeDraw, top+systemDrawLift)
		}
	default:
		return models.Triple{}, fmt.Errorf("%w: unknown probability set %q", models.ErrValidation, k)
	}
	return out.Normalize()
}

func blend(m, q models.Triple, alpha float64) models.Triple {
	return m.Scale(alpha).Add(q.Scale(1 - alpha))
}

// kelly is the full-Kelly stake fraction for win probability p at decimal odds o.
func kelly(p, o float64) float64 {
	return (p*o - 1) / (o - 1)
}

// formulaDraw blends the model draw with an xg-driven structural draw rate and
// rescales home/away to keep their ratio.
func formulaDraw(m models.Triple, xgDiff *float64) models.Triple {
	gap := 0.0
	if xgDiff != nil {
		gap = math.Abs(*xgDiff)
	}
	structural := clamp(formulaDrawBase-formulaDrawSlope*gap, formulaDrawFloor, formulaDrawCeil)
	draw := 0.5*m.Draw + 0.5*structural
	rest := m.Home + m.Away
	if rest <= 0 {
		return models.Triple{Home: (1 - draw) / 2, Draw: draw, Away: (1 - draw) / 2}
	}
	scale := (1 - draw) / rest
	return models.Triple{Home: m.Home * scale, Draw: draw, Away: m.Away * scale}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
