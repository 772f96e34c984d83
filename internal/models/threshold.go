package models

import (
	"fmt"
	"time"
)

// Threshold is a learned acceptance rule: accept a ticket when UDS >= Theta and
// its contradiction count is at most K. Rows are append-only; exactly one row per
// profile is current.
type Threshold struct {
	ID            string    `json:"id"`
	Profile       string    `json:"profile"`
	Theta         float64   `json:"theta"`
	K             int       `json:"k"`
	WindowStart   time.Time `json:"window_start"`
	WindowEnd     time.Time `json:"window_end"`
	SamplesUsed   int       `json:"samples_used"`
	Accuracy      float64   `json:"accuracy"`
	EffectiveFrom time.Time `json:"effective_from"`
	Current       bool      `json:"current"`
}

// LeagueWeights is a versioned per-league reliability multiplier table.
type LeagueWeights struct {
	Version   string             `json:"version"`
	Profile   string             `json:"profile"`
	Weights   map[string]float64 `json:"weights"`
	CreatedAt time.Time          `json:"created_at"`
}

// For returns the weight for league, 1.0 when the league is unknown.
func (w LeagueWeights) For(league string) float64 {
	if v, ok := w.Weights[league]; ok {
		return v
	}
	return 1.0
}

// Validate rejects non-positive weights.
func (w LeagueWeights) Validate() error {
	for league, v := range w.Weights {
		if v <= 0 {
			return fmt.Errorf("%w: league weight for %q must be positive, got %v", ErrValidation, league, v)
		}
	}
	return nil
}

// ScoredTicket is a historical ticket reduced to what the threshold learner needs.
type ScoredTicket struct {
	TicketID       string    `json:"ticket_id"`
	UDS            float64   `json:"uds"`
	Contradictions int       `json:"contradictions"`
	Hit            bool      `json:"hit"`
	ScoredAt       time.Time `json:"scored_at"`
}
