// Package scoring computes pick-level decision values (PDV) and the ticket-level
// unified decision score (UDS), including structural penalties and hard
// contradictions.
package scoring

import (
	"fmt"
	"math"

	"github.com/rewired-gh/jackpotengine/internal/models"
)

// ImpliedMode selects how market-implied probabilities are derived for the
// structural checks.
type ImpliedMode string

const (
	// ImpliedRaw uses 1/odds directly, overround included.
	ImpliedRaw ImpliedMode = "raw"
	// ImpliedDevig normalizes 1/odds across the three outcomes.
	ImpliedDevig ImpliedMode = "devig"
)

// Rules holds every constant of the decision formula.
//
// ImpliedMode defaults to raw 1/odds rather than de-vigged prices. A fixture
// priced 1.80/3.60/5.00 de-vigs to a home probability of 0.5376, under the
// 0.55 draw cap; its raw 0.5556 is over it, and that fixture's draw pick must
// be a hard contradiction. Select ImpliedDevig to check against normalized
// prices instead.
type Rules struct {
	Lambda float64 // contradiction penalty
	Mu     float64 // entropy penalty

	DrawOddsCap        float64 // soft: draw odds above this
	DrawOddsPenalty    float64
	XGDiffCap          float64 // soft + hard: draw pick with |xg diff| above this
	DrawXGPenalty      float64
	AwayOddsCap        float64 // soft + hard: away odds above this
	AwayOddsPenalty    float64
	DrawHomeImpliedCap float64 // hard: draw pick with implied home above this
	AwayHomeImpliedCap float64 // hard: long away pick with implied home above this

	ImpliedMode ImpliedMode
}

// DefaultRules returns the production constants.
func DefaultRules() Rules {
	return Rules{
		Lambda:             10.0,
		Mu:                 0.05,
		DrawOddsCap:        3.4,
		DrawOddsPenalty:    0.15,
		XGDiffCap:          0.45,
		DrawXGPenalty:      0.20,
		AwayOddsCap:        3.2,
		AwayOddsPenalty:    0.10,
		DrawHomeImpliedCap: 0.55,
		AwayHomeImpliedCap: 0.50,
		ImpliedMode:        ImpliedRaw,
	}
}

// Validate checks that the rules are usable.
func (r Rules) Validate() error {
	if r.Lambda < 0 || r.Mu < 0 {
		return fmt.Errorf("%w: lambda and mu must not be negative", models.ErrValidation)
	}
	if r.ImpliedMode != ImpliedRaw && r.ImpliedMode != ImpliedDevig {
		return fmt.Errorf("%w: implied mode must be %q or %q", models.ErrValidation, ImpliedRaw, ImpliedDevig)
	}
	return nil
}

// EV is the expected value of a unit stake at decimal odds o with win probability p.
func EV(p, o float64) float64 {
	return p*(o-1) - (1 - p)
}

// DEV is the odds-discounted expected value.
func DEV(ev, o float64) float64 {
	return ev / (1 + o)
}

// Confidence is 1/(1+|xg diff|); an unknown xg differential is neutral (1).
func Confidence(xgDiff *float64) float64 {
	if xgDiff == nil || math.IsNaN(*xgDiff) {
		return 1
	}
	return 1 / (1 + math.Abs(*xgDiff))
}

// Implied returns the market-implied triple under the rule's mode.
func (r Rules) Implied(o models.Odds) models.Triple {
	if r.ImpliedMode == ImpliedDevig {
		return o.Devig()
	}
	return o.Implied()
}

// Structural evaluates the soft penalty and hard contradictions of picking
// outcome pick on fixture f.
func (r Rules) Structural(f models.Fixture, pick models.Outcome) (penalty float64, hard bool, reasons []string) {
	implied := r.Implied(f.Odds)
	xgGap := 0.0
	if f.XGDiff != nil {
		xgGap = math.Abs(*f.XGDiff)
	}

	if pick == models.OutcomeDraw && f.Odds.Draw > r.DrawOddsCap {
		penalty += r.DrawOddsPenalty
		reasons = append(reasons, fmt.Sprintf("draw odds %.2f above %.2f", f.Odds.Draw, r.DrawOddsCap))
	}
	if pick == models.OutcomeDraw && xgGap > r.XGDiffCap {
		penalty += r.DrawXGPenalty
		reasons = append(reasons, fmt.Sprintf("draw pick with xg gap %.2f above %.2f", xgGap, r.XGDiffCap))
	}
	if pick == models.OutcomeAway && f.Odds.Away > r.AwayOddsCap {
		penalty += r.AwayOddsPenalty
		reasons = append(reasons, fmt.Sprintf("away odds %.2f above %.2f", f.Odds.Away, r.AwayOddsCap))
	}

	switch pick {
	case models.OutcomeDraw:
		if implied.Home > r.DrawHomeImpliedCap {
			hard = true
			reasons = append(reasons, fmt.Sprintf("hard: draw against implied home %.3f", implied.Home))
		}
		if xgGap > r.XGDiffCap {
			hard = true
			reasons = append(reasons, fmt.Sprintf("hard: draw against xg gap %.2f", xgGap))
		}
	case models.OutcomeAway:
		if f.Odds.Away > r.AwayOddsCap && implied.Home > r.AwayHomeImpliedCap {
			hard = true
			reasons = append(reasons, fmt.Sprintf("hard: away at %.2f against implied home %.3f", f.Odds.Away, implied.Home))
		}
	}
	return penalty, hard, reasons
}
