package probset

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/jackpotengine/internal/models"
)

func sampleInput() Input {
	return Input{
		Model:        models.Triple{Home: 0.45, Draw: 0.28, Away: 0.27},
		Odds:         models.Odds{Home: 2.20, Draw: 3.30, Away: 3.40},
		LeagueWeight: 1.0,
	}
}

func TestApply_AllKeysNormalized(t *testing.T) {
	for _, k := range AllKeys() {
		t.Run(string(k)+"-"+k.Name(), func(t *testing.T) {
			out, err := k.Apply(sampleInput())
			require.NoError(t, err)
			assert.InDelta(t, 1.0, out.Sum(), 1e-9)
			require.NoError(t, out.Validate())
		})
	}
}

func TestApply_Deterministic(t *testing.T) {
	for _, k := range AllKeys() {
		a, err := k.Apply(sampleInput())
		require.NoError(t, err)
		b, err := k.Apply(sampleInput())
		require.NoError(t, err)
		assert.Equal(t, a, b, "set %s must be a pure function", k)
	}
}

func TestApply_PureModelIsIdentity(t *testing.T) {
	in := sampleInput()
	out, err := PureModel.Apply(in)
	require.NoError(t, err)
	assert.InDelta(t, in.Model.Home, out.Home, 1e-12)
	assert.InDelta(t, in.Model.Draw, out.Draw, 1e-12)
}

func TestApply_DrawBoostRaisesDraw(t *testing.T) {
	in := sampleInput()
	out, err := DrawBoosted.Apply(in)
	require.NoError(t, err)
	assert.Greater(t, out.Draw, in.Model.Draw)
	assert.Less(t, out.Home, in.Model.Home)
}

func TestApply_HighConvictionSharpens(t *testing.T) {
	in := sampleInput()
	out, err := HighConviction.Apply(in)
	require.NoError(t, err)
	assert.Greater(t, out.Home, in.Model.Home)
	assert.Less(t, out.Away, in.Model.Away)
}

func TestApply_BalancedSitsBetweenModelAndMarket(t *testing.T) {
	in := sampleInput()
	q := in.Odds.Devig()
	out, err := Balanced.Apply(in)
	require.NoError(t, err)
	lo, hi := math.Min(in.Model.Home, q.Home), math.Max(in.Model.Home, q.Home)
	assert.GreaterOrEqual(t, out.Home, lo)
	assert.LessOrEqual(t, out.Home, hi)
}

func TestApply_KellyFavoursPositiveEdge(t *testing.T) {
	in := Input{
		Model: models.Triple{Home: 0.40, Draw: 0.30, Away: 0.30},
		Odds:  models.Odds{Home: 3.00, Draw: 3.00, Away: 3.00},
	}
	out, err := KellyWeighted.Apply(in)
	require.NoError(t, err)
	// home has edge (0.4*3 > 1), draw/away do not
	assert.Greater(t, out.Home, in.Model.Home)
}

func TestApply_MarketConsensusDraw(t *testing.T) {
	in := Input{
		Model: models.Triple{Home: 0.55, Draw: 0.20, Away: 0.25},
		Odds:  models.Odds{Home: 2.00, Draw: 3.20, Away: 4.00},
	}
	out, err := MarketConsensusDraw.Apply(in)
	require.NoError(t, err)
	assert.Greater(t, out.Draw, in.Model.Draw)
}

func TestApply_FormulaDrawUsesXG(t *testing.T) {
	in := sampleInput()
	near, err := FormulaDraw.Apply(in)
	require.NoError(t, err)

	gap := 1.5
	in.XGDiff = &gap
	far, err := FormulaDraw.Apply(in)
	require.NoError(t, err)
	assert.Greater(t, near.Draw, far.Draw, "larger xg gap lowers the structural draw rate")
	assert.InDelta(t, near.Home/near.Away, in.Model.Home/in.Model.Away, 1e-9, "home/away ratio preserved")
}

func TestApply_SystemSelectedDraw(t *testing.T) {
	in := Input{
		Model: models.Triple{Home: 0.36, Draw: 0.33, Away: 0.31},
		Odds:  models.Odds{Home: 2.70, Draw: 3.20, Away: 2.90},
	}
	out, err := SystemSelectedDraw.Apply(in)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeDraw, out.Best())

	in.Model = models.Triple{Home: 0.60, Draw: 0.22, Away: 0.18}
	out, err = SystemSelectedDraw.Apply(in)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeHome, out.Best())
}

func TestApply_RejectsBadInput(t *testing.T) {
	in := sampleInput()
	in.Odds.Away = 1.0
	_, err := Ensemble.Apply(in)
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = Key("Z").Apply(sampleInput())
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestParseKeys(t *testing.T) {
	keys, err := ParseKeys([]string{"a", "kelly-weighted", "J"})
	require.NoError(t, err)
	assert.Equal(t, []Key{PureModel, KellyWeighted, SystemSelectedDraw}, keys)

	_, err = ParseKeys([]string{"A", "a"})
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = ParseKeys(nil)
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = ParseKey("K")
	assert.Error(t, err)
}
