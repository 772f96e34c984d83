package tickets

import (
	"fmt"
	"math"

	"github.com/rewired-gh/jackpotengine/internal/models"
)

// Diagnostic limits, in percentage points of all picks.
const (
	noDrawPct        = 1.0
	lowDrawPct       = 15.0
	maxHomeAwayGapPP = 40.0
)

// NoDrawWarning is emitted when a batch has effectively no draw picks.
const NoDrawWarning = "No draw selections detected"

func coverage(tickets []GeneratedTicket) Coverage {
	var cov Coverage
	for _, t := range tickets {
		for _, p := range t.Picks {
			switch p {
			case models.OutcomeHome:
				cov.Home++
			case models.OutcomeDraw:
				cov.Draw++
			case models.OutcomeAway:
				cov.Away++
			}
		}
	}
	total := cov.Home + cov.Draw + cov.Away
	if total == 0 {
		return cov
	}
	pct := func(n int) float64 { return math.Round(float64(n)/float64(total)*10000) / 100 }
	cov.HomePct = pct(cov.Home)
	cov.DrawPct = pct(cov.Draw)
	cov.AwayPct = pct(cov.Away)
	return cov
}

// diagnose returns advisory warnings for the batch and whether any two tickets
// share a pick sequence.
func diagnose(tickets []GeneratedTicket, cov Coverage) ([]string, bool) {
	warnings := []string{}
	switch {
	case cov.DrawPct < noDrawPct:
		warnings = append(warnings, NoDrawWarning)
	case cov.DrawPct < lowDrawPct:
		warnings = append(warnings, fmt.Sprintf(
			"Low draw coverage: %.1f%% of picks are draws; jackpot draw rates typically run 20-30%%", cov.DrawPct))
	}

	overlap := false
	firstSet := make(map[string]string, len(tickets))
	reported := make(map[string]bool)
	for _, t := range tickets {
		sig := t.Signature()
		set, ok := firstSet[sig]
		if !ok {
			firstSet[sig] = t.SetKey
			continue
		}
		overlap = true
		pair := set + "/" + t.SetKey
		if reported[pair] {
			continue
		}
		reported[pair] = true
		if set == t.SetKey {
			warnings = append(warnings, fmt.Sprintf("Duplicate tickets within set %s", set))
		} else {
			warnings = append(warnings, fmt.Sprintf("Duplicate tickets across sets %s and %s", set, t.SetKey))
		}
	}

	if gap := math.Abs(cov.HomePct - cov.AwayPct); gap > maxHomeAwayGapPP {
		warnings = append(warnings, fmt.Sprintf(
			"Home/away imbalance: home %.1f%% vs away %.1f%% (%.1f pp)", cov.HomePct, cov.AwayPct, gap))
	}
	return warnings, overlap
}
