package models

import (
	"fmt"
	"strings"
	"time"
)

// Ticket is one generated jackpot entry: exactly one outcome per fixture, all
// produced by a single probability set.
type Ticket struct {
	ID                  string    `json:"id"`
	JackpotID           string    `json:"jackpot_id"`
	SetKey              string    `json:"set_key"`
	Name                string    `json:"name,omitempty"`
	FixtureIDs          []string  `json:"fixture_ids"`
	Picks               []Outcome `json:"picks"`
	CombinedOdds        float64   `json:"combined_odds"`
	CombinedProbability float64   `json:"combined_probability"`
	UDS                 float64   `json:"-"`
	Contradictions      int       `json:"contradictions"`
	Accepted            bool      `json:"accepted"`
	Hit                 *bool     `json:"hit,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
}

// Validate checks the one-pick-per-fixture invariant.
func (t *Ticket) Validate() error {
	if t.SetKey == "" {
		return fmt.Errorf("%w: ticket has no probability set", ErrValidation)
	}
	if len(t.Picks) == 0 {
		return fmt.Errorf("%w: ticket has no picks", ErrValidation)
	}
	if len(t.Picks) != len(t.FixtureIDs) {
		return fmt.Errorf("%w: ticket has %d picks for %d fixtures", ErrValidation, len(t.Picks), len(t.FixtureIDs))
	}
	seen := make(map[string]bool, len(t.FixtureIDs))
	for i, p := range t.Picks {
		if !p.Valid() {
			return fmt.Errorf("%w: ticket pick %d is %q", ErrValidation, i, p)
		}
		if seen[t.FixtureIDs[i]] {
			return fmt.Errorf("%w: fixture %s picked twice", ErrValidation, t.FixtureIDs[i])
		}
		seen[t.FixtureIDs[i]] = true
	}
	return nil
}

// Signature is the pick sequence as 1/X/2 symbols, used to detect duplicates.
func (t *Ticket) Signature() string {
	var b strings.Builder
	b.Grow(len(t.Picks))
	for _, p := range t.Picks {
		b.WriteString(p.Symbol())
	}
	return b.String()
}

// Matches reports whether every pick equals the realized result. Fixtures with
// no result make the ticket unsettled (ok=false).
func (t *Ticket) Matches(results map[string]Outcome) (hit bool, ok bool) {
	hit = true
	for i, id := range t.FixtureIDs {
		r, found := results[id]
		if !found {
			return false, false
		}
		if r != t.Picks[i] {
			hit = false
		}
	}
	return hit, true
}
