package scoring

import (
	"fmt"
	"math"

	"github.com/rewired-gh/jackpotengine/internal/models"
)

// PickInput is one selection to score. Probs is the corrected triple the pick
// was made from; a zero triple falls back to the fixture's raw probabilities.
type PickInput struct {
	Fixture      models.Fixture
	Pick         models.Outcome
	Probs        models.Triple
	LeagueWeight float64
}

// PickScore is the full per-pick breakdown.
type PickScore struct {
	FixtureID         string         `json:"fixture_id"`
	Pick              models.Outcome `json:"pick"`
	Probability       float64        `json:"probability"`
	Odds              float64        `json:"odds"`
	EV                float64        `json:"ev"`
	DEV               float64        `json:"dev"`
	Confidence        float64        `json:"confidence"`
	CEV               float64        `json:"cev"`
	Penalty           float64        `json:"penalty"`
	SDV               float64        `json:"sdv"`
	PDV               float64        `json:"-"` // -Inf on hard contradiction
	LeagueWeight      float64        `json:"league_weight"`
	HardContradiction bool           `json:"hard_contradiction"`
	Reasons           []string       `json:"reasons,omitempty"`
}

// TicketScore is the ticket-level decision.
type TicketScore struct {
	UDS               float64     `json:"-"` // -Inf when any pick is a hard contradiction
	Picks             []PickScore `json:"pdv_breakdown"`
	Contradictions    int         `json:"contradictions"`
	Entropy           float64     `json:"entropy"`
	HardContradiction bool        `json:"hard_contradiction"`
	Theta             float64     `json:"theta"`
	K                 int         `json:"k"`
	Accepted          bool        `json:"accepted"`
}

// Scorer applies a fixed rule set.
type Scorer struct {
	rules Rules
}

// NewScorer creates a scorer; invalid rules are rejected.
func NewScorer(rules Rules) (*Scorer, error) {
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	return &Scorer{rules: rules}, nil
}

// Rules returns the scorer's rule set.
func (s *Scorer) Rules() Rules {
	return s.rules
}

// ScorePick computes EV through PDV for one selection.
func (s *Scorer) ScorePick(in PickInput) (PickScore, error) {
	if err := in.Fixture.Odds.Validate(); err != nil {
		return PickScore{}, fmt.Errorf("fixture %s: %w", in.Fixture.ID, err)
	}
	if !in.Pick.Valid() {
		return PickScore{}, fmt.Errorf("%w: fixture %s: invalid pick %q", models.ErrValidation, in.Fixture.ID, in.Pick)
	}
	probs := in.Probs
	if probs == (models.Triple{}) {
		probs = in.Fixture.Probs
	}
	if err := probs.Validate(); err != nil {
		return PickScore{}, fmt.Errorf("fixture %s: %w", in.Fixture.ID, err)
	}
	weight := in.LeagueWeight
	if weight == 0 {
		weight = 1
	}
	if weight < 0 || math.IsNaN(weight) {
		return PickScore{}, fmt.Errorf("%w: fixture %s: league weight %v", models.ErrValidation, in.Fixture.ID, weight)
	}

	p := probs.Get(in.Pick)
	o := in.Fixture.Odds.Get(in.Pick)
	ev := EV(p, o)
	dev := DEV(ev, o)
	c := Confidence(in.Fixture.XGDiff)
	cev := dev * c
	penalty, hard, reasons := s.rules.Structural(in.Fixture, in.Pick)
	sdv := cev - penalty
	pdv := sdv
	if hard {
		pdv = math.Inf(-1)
	}

	return PickScore{
		FixtureID:         in.Fixture.ID,
		Pick:              in.Pick,
		Probability:       p,
		Odds:              o,
		EV:                ev,
		DEV:               dev,
		Confidence:        c,
		CEV:               cev,
		Penalty:           penalty,
		SDV:               sdv,
		PDV:               pdv,
		LeagueWeight:      weight,
		HardContradiction: hard,
		Reasons:           reasons,
	}, nil
}

// ScoreTicket aggregates picks into UDS and applies the acceptance rule
// UDS >= theta AND contradictions <= k. K gates the contradiction count only;
// a contradicting pick still carries PDV = -Inf into the sum.
func (s *Scorer) ScoreTicket(picks []PickInput, theta float64, k int) (TicketScore, error) {
	if len(picks) == 0 {
		return TicketScore{}, fmt.Errorf("%w: ticket has no picks", models.ErrValidation)
	}
	if k < 0 {
		return TicketScore{}, fmt.Errorf("%w: K must not be negative", models.ErrValidation)
	}
	if math.IsNaN(theta) || math.IsInf(theta, 0) {
		return TicketScore{}, fmt.Errorf("%w: theta must be finite", models.ErrValidation)
	}

	ts := TicketScore{Picks: make([]PickScore, 0, len(picks)), Theta: theta, K: k}
	seen := make(map[string]bool, len(picks))
	var weighted float64
	for _, in := range picks {
		if seen[in.Fixture.ID] {
			return TicketScore{}, fmt.Errorf("%w: fixture %s picked more than once", models.ErrValidation, in.Fixture.ID)
		}
		seen[in.Fixture.ID] = true

		ps, err := s.ScorePick(in)
		if err != nil {
			return TicketScore{}, err
		}
		ts.Picks = append(ts.Picks, ps)

		probs := in.Probs
		if probs == (models.Triple{}) {
			probs = in.Fixture.Probs
		}
		ts.Entropy += probs.Entropy()

		if ps.HardContradiction {
			ts.Contradictions++
			ts.HardContradiction = true
			continue
		}
		weighted += ps.LeagueWeight * ps.PDV
	}

	if ts.HardContradiction {
		ts.UDS = math.Inf(-1)
	} else {
		ts.UDS = weighted - s.rules.Lambda*float64(ts.Contradictions) - s.rules.Mu*ts.Entropy
	}
	ts.Accepted = ts.UDS >= theta && ts.Contradictions <= k
	return ts, nil
}
