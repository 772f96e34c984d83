package scoring

import "github.com/rewired-gh/jackpotengine/internal/models"

// DefaultWeightsVersion labels the built-in league weight table.
const DefaultWeightsVersion = "default"

var defaultLeagueWeights = map[string]float64{
	"epl":          1.00,
	"laliga":       0.95,
	"bundesliga":   0.95,
	"serie_a":      0.95,
	"ligue_1":      0.90,
	"championship": 0.85,
	"eredivisie":   0.85,
	"primeira":     0.85,
	"league_one":   0.80,
	"mls":          0.80,
	"allsvenskan":  0.75,
	"kpl":          0.70,
}

// DefaultLeagueWeights returns a fresh copy of the built-in reliability table.
// Unknown leagues weigh 1.0 via LeagueWeights.For.
func DefaultLeagueWeights() models.LeagueWeights {
	w := make(map[string]float64, len(defaultLeagueWeights))
	for k, v := range defaultLeagueWeights {
		w[k] = v
	}
	return models.LeagueWeights{Version: DefaultWeightsVersion, Weights: w}
}

// MergeWeights overlays overrides on top of base and returns a new table.
func MergeWeights(base models.LeagueWeights, overrides map[string]float64) models.LeagueWeights {
	out := models.LeagueWeights{
		Version:   base.Version,
		Profile:   base.Profile,
		CreatedAt: base.CreatedAt,
		Weights:   make(map[string]float64, len(base.Weights)+len(overrides)),
	}
	for k, v := range base.Weights {
		out.Weights[k] = v
	}
	for k, v := range overrides {
		out.Weights[k] = v
	}
	return out
}
