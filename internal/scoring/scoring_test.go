package scoring

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/jackpotengine/internal/models"
)

func ptr(v float64) *float64 { return &v }

// scenarioFixture is the 0.60/0.25/0.15 fixture priced 1.80/3.60/5.00.
func scenarioFixture() models.Fixture {
	return models.Fixture{
		ID:       "fx-scenario",
		League:   "epl",
		HomeTeam: "Home",
		AwayTeam: "Away",
		Odds:     models.Odds{Home: 1.80, Draw: 3.60, Away: 5.00},
		Probs:    models.Triple{Home: 0.60, Draw: 0.25, Away: 0.15},
	}
}

func evenFixture(id string) models.Fixture {
	return models.Fixture{
		ID:       id,
		League:   "epl",
		HomeTeam: "H-" + id,
		AwayTeam: "A-" + id,
		Odds:     models.Odds{Home: 2.60, Draw: 3.10, Away: 2.90},
		Probs:    models.Triple{Home: 0.40, Draw: 0.31, Away: 0.29},
	}
}

func newScorer(t *testing.T) *Scorer {
	t.Helper()
	s, err := NewScorer(DefaultRules())
	require.NoError(t, err)
	return s
}

func TestEVAndDEV(t *testing.T) {
	for _, p := range []float64{0, 0.1, 0.33, 0.5, 0.75, 1} {
		for _, o := range []float64{1.01, 1.5, 2.0, 3.4, 7.25, 21} {
			ev := EV(p, o)
			assert.InDelta(t, p*(o-1)-(1-p), ev, 1e-9)
			assert.InDelta(t, ev/(1+o), DEV(ev, o), 1e-9)
		}
	}
}

func TestConfidence(t *testing.T) {
	assert.Equal(t, 1.0, Confidence(nil))
	assert.InDelta(t, 1/1.5, Confidence(ptr(0.5)), 1e-12)
	assert.InDelta(t, 1/1.5, Confidence(ptr(-0.5)), 1e-12)
	assert.Equal(t, 1.0, Confidence(ptr(0)))
}

func TestScorePick_ScenarioDrawIsHardContradiction(t *testing.T) {
	s := newScorer(t)
	ps, err := s.ScorePick(PickInput{Fixture: scenarioFixture(), Pick: models.OutcomeDraw, LeagueWeight: 1})
	require.NoError(t, err)

	assert.InDelta(t, 0.15, ps.Penalty, 1e-12, "draw odds above 3.4 adds the soft penalty")
	assert.True(t, ps.HardContradiction)
	assert.True(t, math.IsInf(ps.PDV, -1))
	// SDV is still reported for the breakdown
	wantEV := 0.25*(3.60-1) - 0.75
	assert.InDelta(t, wantEV, ps.EV, 1e-9)
	assert.InDelta(t, wantEV/4.60-0.15, ps.SDV, 1e-9)
}

func TestScorePick_ScenarioHomeIsClean(t *testing.T) {
	s := newScorer(t)
	ps, err := s.ScorePick(PickInput{Fixture: scenarioFixture(), Pick: models.OutcomeHome, LeagueWeight: 1})
	require.NoError(t, err)

	assert.False(t, ps.HardContradiction)
	assert.Zero(t, ps.Penalty)
	assert.InDelta(t, 0.08, ps.EV, 1e-9)
	assert.InDelta(t, 0.08/2.8, ps.PDV, 1e-9)
}

func TestScorePick_LongAwayAgainstFavourite(t *testing.T) {
	s := newScorer(t)
	ps, err := s.ScorePick(PickInput{Fixture: scenarioFixture(), Pick: models.OutcomeAway, LeagueWeight: 1})
	require.NoError(t, err)
	assert.InDelta(t, 0.10, ps.Penalty, 1e-12)
	assert.True(t, ps.HardContradiction)
}

func TestScorePick_DevigMode(t *testing.T) {
	rules := DefaultRules()
	rules.ImpliedMode = ImpliedDevig
	s, err := NewScorer(rules)
	require.NoError(t, err)

	// de-vigged home is ~0.538, below the 0.55 draw cap but above the 0.50 away cap
	draw, err := s.ScorePick(PickInput{Fixture: scenarioFixture(), Pick: models.OutcomeDraw})
	require.NoError(t, err)
	assert.False(t, draw.HardContradiction)
	assert.InDelta(t, 0.15, draw.Penalty, 1e-12)

	away, err := s.ScorePick(PickInput{Fixture: scenarioFixture(), Pick: models.OutcomeAway})
	require.NoError(t, err)
	assert.True(t, away.HardContradiction)
}

func TestScorePick_DrawAgainstXGGap(t *testing.T) {
	s := newScorer(t)
	f := evenFixture("xg")
	f.XGDiff = ptr(0.6)
	ps, err := s.ScorePick(PickInput{Fixture: f, Pick: models.OutcomeDraw})
	require.NoError(t, err)
	assert.InDelta(t, 0.20, ps.Penalty, 1e-12)
	assert.True(t, ps.HardContradiction)
	assert.InDelta(t, 1/1.6, ps.Confidence, 1e-12)

	f.XGDiff = ptr(0.3)
	ps, err = s.ScorePick(PickInput{Fixture: f, Pick: models.OutcomeDraw})
	require.NoError(t, err)
	assert.Zero(t, ps.Penalty)
	assert.False(t, ps.HardContradiction)
}

func TestScorePick_Validation(t *testing.T) {
	s := newScorer(t)

	bad := scenarioFixture()
	bad.Odds.Home = 1.0
	_, err := s.ScorePick(PickInput{Fixture: bad, Pick: models.OutcomeHome})
	assert.ErrorIs(t, err, models.ErrValidation)

	bad = scenarioFixture()
	bad.Probs = models.Triple{Home: 0.7, Draw: 0.4, Away: 0.2}
	_, err = s.ScorePick(PickInput{Fixture: bad, Pick: models.OutcomeHome})
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = s.ScorePick(PickInput{Fixture: scenarioFixture(), Pick: "under"})
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestScoreTicket_CleanTicket(t *testing.T) {
	s := newScorer(t)
	f1, f2 := scenarioFixture(), evenFixture("b")
	picks := []PickInput{
		{Fixture: f1, Pick: models.OutcomeHome, LeagueWeight: 1.0},
		{Fixture: f2, Pick: models.OutcomeHome, LeagueWeight: 0.9},
	}
	ts, err := s.ScoreTicket(picks, -1, 0)
	require.NoError(t, err)

	var want float64
	for _, p := range ts.Picks {
		want += p.LeagueWeight * p.PDV
	}
	wantEntropy := f1.Probs.Entropy() + f2.Probs.Entropy()
	want -= 0.05 * wantEntropy

	assert.Zero(t, ts.Contradictions)
	assert.False(t, ts.HardContradiction)
	assert.InDelta(t, wantEntropy, ts.Entropy, 1e-12)
	assert.InDelta(t, want, ts.UDS, 1e-9)
	assert.True(t, ts.Accepted)

	again, err := s.ScoreTicket(picks, -1, 0)
	require.NoError(t, err)
	assert.Equal(t, ts.UDS, again.UDS, "rescoring must be idempotent")
}

func TestScoreTicket_ThetaGate(t *testing.T) {
	s := newScorer(t)
	picks := []PickInput{{Fixture: scenarioFixture(), Pick: models.OutcomeHome}}
	ts, err := s.ScoreTicket(picks, 0.5, 1)
	require.NoError(t, err)
	assert.False(t, ts.Accepted)
	assert.Less(t, ts.UDS, 0.5)
}

func TestScoreTicket_HardContradictionRejectsEvenWithTolerance(t *testing.T) {
	s := newScorer(t)
	picks := []PickInput{
		{Fixture: scenarioFixture(), Pick: models.OutcomeDraw},
		{Fixture: evenFixture("b"), Pick: models.OutcomeHome},
	}
	for _, k := range []int{0, 1, 5} {
		ts, err := s.ScoreTicket(picks, -100, k)
		require.NoError(t, err)
		assert.Equal(t, 1, ts.Contradictions)
		assert.True(t, ts.HardContradiction)
		assert.True(t, math.IsInf(ts.UDS, -1))
		assert.False(t, ts.Accepted, "K=%d must not suppress the -Inf PDV", k)
	}
}

func TestScoreTicket_SoftPenaltiesAreNotContradictions(t *testing.T) {
	s := newScorer(t)
	longDraw := evenFixture("long-draw")
	longDraw.Odds = models.Odds{Home: 2.90, Draw: 3.60, Away: 2.60}
	picks := []PickInput{
		{Fixture: longDraw, Pick: models.OutcomeDraw},
		{Fixture: evenFixture("b"), Pick: models.OutcomeHome},
	}

	ts, err := s.ScoreTicket(picks, -100, 0)
	require.NoError(t, err)
	assert.InDelta(t, 0.15, ts.Picks[0].Penalty, 1e-12)
	assert.False(t, ts.Picks[0].HardContradiction)
	assert.Zero(t, ts.Contradictions)
	assert.False(t, math.IsInf(ts.UDS, 0))
	assert.True(t, ts.Accepted)
}

func TestDefaultRules_RawImpliedHome(t *testing.T) {
	rules := DefaultRules()
	assert.Equal(t, ImpliedRaw, rules.ImpliedMode)

	odds := scenarioFixture().Odds
	assert.Greater(t, odds.Implied().Home, rules.DrawHomeImpliedCap)
	assert.Less(t, odds.Devig().Home, rules.DrawHomeImpliedCap)
}

func TestScoreTicket_Validation(t *testing.T) {
	s := newScorer(t)
	_, err := s.ScoreTicket(nil, 0, 0)
	assert.ErrorIs(t, err, models.ErrValidation)

	f := scenarioFixture()
	_, err = s.ScoreTicket([]PickInput{{Fixture: f, Pick: models.OutcomeHome}, {Fixture: f, Pick: models.OutcomeDraw}}, 0, 0)
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = s.ScoreTicket([]PickInput{{Fixture: f, Pick: models.OutcomeHome}}, 0, -1)
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = s.ScoreTicket([]PickInput{{Fixture: f, Pick: models.OutcomeHome}}, math.Inf(-1), 0)
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestRulesValidate(t *testing.T) {
	r := DefaultRules()
	r.ImpliedMode = "median"
	_, err := NewScorer(r)
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestLeagueWeights(t *testing.T) {
	w := DefaultLeagueWeights()
	assert.Equal(t, 1.0, w.For("epl"))
	assert.Equal(t, 1.0, w.For("unknown-league"))

	merged := MergeWeights(w, map[string]float64{"epl": 1.2, "kpl": 0.5})
	assert.Equal(t, 1.2, merged.For("epl"))
	assert.Equal(t, 0.5, merged.For("kpl"))
	assert.Equal(t, 1.0, w.For("epl"), "base table must not be mutated")
}
