// Package models defines the core domain entities: fixtures, odds, probability
// triples, tickets, calibration curves, thresholds and task records.
package models

import (
	"fmt"
	"math"
	"strings"
)

// Outcome is one of the three 1X2 results of a football fixture.
type Outcome string

const (
	OutcomeHome Outcome = "home"
	OutcomeDraw Outcome = "draw"
	OutcomeAway Outcome = "away"
)

// Outcomes lists the outcomes in their canonical storage order.
var Outcomes = []Outcome{OutcomeHome, OutcomeDraw, OutcomeAway}

// ProbSumTolerance bounds how far a raw probability triple may drift from 1.0.
const ProbSumTolerance = 0.02

// ParseOutcome accepts "home"/"draw"/"away" as well as the pick symbols 1, X and 2.
func ParseOutcome(s string) (Outcome, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "home", "1", "h":
		return OutcomeHome, nil
	case "draw", "x", "d":
		return OutcomeDraw, nil
	case "away", "2", "a":
		return OutcomeAway, nil
	}
	return "", fmt.Errorf("%w: unknown outcome %q", ErrValidation, s)
}

// Symbol returns the conventional pick symbol (1, X or 2).
func (o Outcome) Symbol() string {
	switch o {
	case OutcomeHome:
		return "1"
	case OutcomeDraw:
		return "X"
	case OutcomeAway:
		return "2"
	}
	return "?"
}

func (o Outcome) Valid() bool {
	return o == OutcomeHome || o == OutcomeDraw || o == OutcomeAway
}

// Triple is a home/draw/away probability distribution.
type Triple struct {
	Home float64 `json:"home"`
	Draw float64 `json:"draw"`
	Away float64 `json:"away"`
}

// Get returns the component for o.
func (t Triple) Get(o Outcome) float64 {
	switch o {
	case OutcomeHome:
		return t.Home
	case OutcomeDraw:
		return t.Draw
	case OutcomeAway:
		return t.Away
	}
	return 0
}

// With returns a copy of t with the component for o replaced by v.
func (t Triple) With(o Outcome, v float64) Triple {
	switch o {
	case OutcomeHome:
		t.Home = v
	case OutcomeDraw:
		t.Draw = v
	case OutcomeAway:
		t.Away = v
	}
	return t
}

func (t Triple) Sum() float64 {
	return t.Home + t.Draw + t.Away
}

// Scale multiplies every component by f.
func (t Triple) Scale(f float64) Triple {
	return Triple{Home: t.Home * f, Draw: t.Draw * f, Away: t.Away * f}
}

// Add returns the component-wise sum.
func (t Triple) Add(u Triple) Triple {
	return Triple{Home: t.Home + u.Home, Draw: t.Draw + u.Draw, Away: t.Away + u.Away}
}

// Normalize rescales t to sum to 1. Negative or non-finite components are rejected.
func (t Triple) Normalize() (Triple, error) {
	for _, o := range Outcomes {
		v := t.Get(o)
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return Triple{}, fmt.Errorf("%w: %s probability %v is not a finite non-negative number", ErrValidation, o, v)
		}
	}
	sum := t.Sum()
	if sum <= 0 {
		return Triple{}, fmt.Errorf("%w: probability triple sums to zero", ErrValidation)
	}
	return t.Scale(1 / sum), nil
}

// Validate checks that each component is in [0,1] and the triple sums to ~1.
func (t Triple) Validate() error {
	for _, o := range Outcomes {
		v := t.Get(o)
		if math.IsNaN(v) || v < 0 || v > 1 {
			return fmt.Errorf("%w: %s probability must be between 0.0 and 1.0, got %v", ErrValidation, o, v)
		}
	}
	if sum := t.Sum(); math.Abs(sum-1) > ProbSumTolerance {
		return fmt.Errorf("%w: probabilities should sum to 1.0, got %.4f", ErrValidation, sum)
	}
	return nil
}

// Best returns the most likely outcome. Ties resolve Home, then Away, then Draw.
func (t Triple) Best() Outcome {
	best := OutcomeHome
	for _, o := range PickPriority[1:] {
		if t.Get(o) > t.Get(best) {
			best = o
		}
	}
	return best
}

// Ranked returns the outcomes ordered by descending probability using the same
// tie priority as Best.
func (t Triple) Ranked() []Outcome {
	ranked := append([]Outcome(nil), PickPriority...)
	for i := 1; i < len(ranked); i++ {
		for j := i; j > 0 && t.Get(ranked[j]) > t.Get(ranked[j-1]); j-- {
			ranked[j], ranked[j-1] = ranked[j-1], ranked[j]
		}
	}
	return ranked
}

// Entropy is the Shannon entropy of the triple in nats.
func (t Triple) Entropy() float64 {
	var h float64
	for _, o := range Outcomes {
		if p := t.Get(o); p > 0 {
			h -= p * math.Log(p)
		}
	}
	return h
}

// PickPriority is the fixed tie-break order used when two outcomes are equally likely.
var PickPriority = []Outcome{OutcomeHome, OutcomeAway, OutcomeDraw}

// Odds holds decimal market prices for the three outcomes.
type Odds struct {
	Home float64 `json:"home"`
	Draw float64 `json:"draw"`
	Away float64 `json:"away"`
}

func (o Odds) Get(out Outcome) float64 {
	switch out {
	case OutcomeHome:
		return o.Home
	case OutcomeDraw:
		return o.Draw
	case OutcomeAway:
		return o.Away
	}
	return 0
}

// Validate requires every decimal price to be strictly greater than 1.0.
func (o Odds) Validate() error {
	for _, out := range Outcomes {
		v := o.Get(out)
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 1.0 {
			return fmt.Errorf("%w: %s odds must be greater than 1.0, got %v", ErrValidation, out, v)
		}
	}
	return nil
}

// Implied returns the raw 1/odds probabilities, overround included.
func (o Odds) Implied() Triple {
	return Triple{Home: 1 / o.Home, Draw: 1 / o.Draw, Away: 1 / o.Away}
}

// Devig returns the implied probabilities normalized to sum to 1.
func (o Odds) Devig() Triple {
	raw := o.Implied()
	return raw.Scale(1 / raw.Sum())
}

// Overround is the bookmaker margin, sum(1/odds) - 1.
func (o Odds) Overround() float64 {
	return o.Implied().Sum() - 1
}
