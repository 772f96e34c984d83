package models

import (
	"fmt"
	"time"
)

// Fixture is one match of a jackpot snapshot with its market odds and the raw
// model probabilities. Immutable once sourced.
type Fixture struct {
	ID       string    `json:"id"`
	League   string    `json:"league"`
	HomeTeam string    `json:"home_team"`
	AwayTeam string    `json:"away_team"`
	Odds     Odds      `json:"odds"`
	Probs    Triple    `json:"probs"`
	XGDiff   *float64  `json:"xg_diff,omitempty"` // xg_home - xg_away, nil when unknown
	Kickoff  time.Time `json:"kickoff,omitempty"`
}

// Validate checks fixture field constraints.
func (f *Fixture) Validate() error {
	if f.ID == "" {
		return fmt.Errorf("%w: fixture ID must not be empty", ErrValidation)
	}
	if f.HomeTeam == "" || f.AwayTeam == "" {
		return fmt.Errorf("%w: fixture %s: home and away team must not be empty", ErrValidation, f.ID)
	}
	if err := f.Odds.Validate(); err != nil {
		return fmt.Errorf("fixture %s: %w", f.ID, err)
	}
	if err := f.Probs.Validate(); err != nil {
		return fmt.Errorf("fixture %s: %w", f.ID, err)
	}
	return nil
}

// Jackpot is a fixed list of fixtures that tickets are built against.
type Jackpot struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Fixtures  []Fixture `json:"fixtures"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks the jackpot and every fixture in it.
func (j *Jackpot) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("%w: jackpot ID must not be empty", ErrValidation)
	}
	if len(j.Fixtures) == 0 {
		return fmt.Errorf("%w: jackpot %s has no fixtures", ErrValidation, j.ID)
	}
	seen := make(map[string]bool, len(j.Fixtures))
	for i := range j.Fixtures {
		f := &j.Fixtures[i]
		if err := f.Validate(); err != nil {
			return err
		}
		if seen[f.ID] {
			return fmt.Errorf("%w: duplicate fixture %s in jackpot %s", ErrValidation, f.ID, j.ID)
		}
		seen[f.ID] = true
	}
	return nil
}

// PredictionSnapshot is a stored model prediction for a fixture, optionally
// joined to the realized result once the match is played.
type PredictionSnapshot struct {
	FixtureID    string    `json:"fixture_id"`
	JackpotID    string    `json:"jackpot_id,omitempty"`
	League       string    `json:"league"`
	ModelVersion string    `json:"model_version"`
	Probs        Triple    `json:"probs"`
	Result       Outcome   `json:"result,omitempty"` // empty until settled
	CreatedAt    time.Time `json:"created_at"`
}

// Settled reports whether the realized result is known.
func (s PredictionSnapshot) Settled() bool {
	return s.Result.Valid()
}
