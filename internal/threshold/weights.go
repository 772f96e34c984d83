package threshold

import (
	"math"
	"sort"

	"github.com/rewired-gh/jackpotengine/internal/models"
)

const (
	minLeagueWeight = 0.5
	maxLeagueWeight = 1.5
)

// LeagueAccuracy is the argmax-pick accuracy of one league's settled predictions.
type LeagueAccuracy struct {
	League  string  `json:"league"`
	Samples int     `json:"samples"`
	Hits    int     `json:"hits"`
	Weight  float64 `json:"weight"`
	Learned bool    `json:"learned"`
}

// LearnLeagueWeights derives per-league reliability multipliers: a league's
// argmax accuracy divided by the overall accuracy, clamped to [0.5, 1.5].
// Leagues with fewer than minSamples settled predictions keep their base weight.
func LearnLeagueWeights(snapshots []models.PredictionSnapshot, base models.LeagueWeights, minSamples int) (map[string]float64, []LeagueAccuracy) {
	type tally struct{ n, hits int }
	perLeague := make(map[string]*tally)
	var all tally
	for _, s := range snapshots {
		if !s.Settled() {
			continue
		}
		t, ok := perLeague[s.League]
		if !ok {
			t = &tally{}
			perLeague[s.League] = t
		}
		t.n++
		all.n++
		if s.Probs.Best() == s.Result {
			t.hits++
			all.hits++
		}
	}

	weights := make(map[string]float64, len(base.Weights)+len(perLeague))
	for k, v := range base.Weights {
		weights[k] = v
	}
	if all.n == 0 || all.hits == 0 {
		return weights, nil
	}
	overall := float64(all.hits) / float64(all.n)

	report := make([]LeagueAccuracy, 0, len(perLeague))
	for league, t := range perLeague {
		acc := LeagueAccuracy{League: league, Samples: t.n, Hits: t.hits, Weight: base.For(league)}
		if league != "" && t.n >= minSamples {
			rate := float64(t.hits) / float64(t.n)
			acc.Weight = math.Max(minLeagueWeight, math.Min(maxLeagueWeight, rate/overall))
			acc.Learned = true
			weights[league] = acc.Weight
		}
		report = append(report, acc)
	}
	sort.Slice(report, func(i, j int) bool { return report[i].League < report[j].League })
	return weights, report
}
