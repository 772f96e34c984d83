package engine

import (
	"context"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/rewired-gh/jackpotengine/internal/models"
	"github.com/rewired-gh/jackpotengine/internal/probset"
	"github.com/rewired-gh/jackpotengine/internal/scoring"
	"github.com/rewired-gh/jackpotengine/internal/tickets"
)

// GenerateRequest asks for tickets against a stored jackpot. Empty SetKeys
// uses the configured default sets.
type GenerateRequest struct {
	JackpotID     string          `json:"jackpot_id"`
	Name          string          `json:"name,omitempty"`
	SetKeys       []string        `json:"probability_set_keys"`
	TicketsPerSet int             `json:"tickets_per_set"`
	Budget        decimal.Decimal `json:"budget"`
	ModelVersion  string          `json:"model_version,omitempty"`
	Profile       string          `json:"profile,omitempty"`
}

// GenerateResult is a generated batch plus the rule it was scored under.
type GenerateResult struct {
	*tickets.Result
	Threshold      models.Threshold `json:"threshold"`
	WeightsVersion string           `json:"weights_version"`
}

// GenerateTickets calibrates every fixture of the jackpot, builds tickets for
// each requested set, scores them under the current threshold and saves them.
func (e *Engine) GenerateTickets(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	if req.JackpotID == "" {
		return nil, fmt.Errorf("%w: jackpot_id is required", models.ErrValidation)
	}
	keys := e.config.DefaultSets
	if len(req.SetKeys) > 0 {
		var err error
		if keys, err = probset.ParseKeys(req.SetKeys); err != nil {
			return nil, err
		}
	}
	if !req.Budget.IsPositive() {
		return nil, fmt.Errorf("%w: budget must be positive", models.ErrValidation)
	}

	j, err := e.store.GetJackpot(ctx, req.JackpotID)
	if err != nil {
		return nil, err
	}
	th, err := e.CurrentThreshold(ctx, req.Profile)
	if err != nil {
		return nil, err
	}
	weights, err := e.LeagueWeights(ctx, req.Profile)
	if err != nil {
		return nil, err
	}

	cals := e.newCalibrators(req.ModelVersion)
	inputs := make([]tickets.FixtureInput, 0, len(j.Fixtures))
	for _, f := range j.Fixtures {
		corrected, err := cals.apply(ctx, f)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, tickets.FixtureInput{
			Fixture:      f,
			Corrected:    corrected,
			LeagueWeight: weights.For(f.League),
		})
	}

	res, err := e.constructor.Generate(ctx, tickets.Request{
		JackpotID:     j.ID,
		Name:          req.Name,
		Fixtures:      inputs,
		Keys:          keys,
		TicketsPerSet: req.TicketsPerSet,
		Budget:        req.Budget,
		Theta:         th.Theta,
		K:             th.K,
	})
	if err != nil {
		return nil, err
	}

	batch := make([]models.Ticket, 0, len(res.Tickets))
	accepted := 0
	for _, t := range res.Tickets {
		batch = append(batch, t.Ticket)
		e.metrics.RecordTicket(t.SetKey, t.UDS, t.Accepted)
		if t.Accepted {
			accepted++
		}
	}
	e.metrics.RecordWarnings(len(res.Warnings))
	if err := e.store.SaveTickets(ctx, batch); err != nil {
		return nil, fmt.Errorf("failed to save tickets: %w", err)
	}

	log.Info("Generated %d tickets (%d accepted) for jackpot %s across %d sets at theta=%.2f K=%d",
		len(batch), accepted, j.ID, len(keys), th.Theta, th.K)
	for _, w := range res.Warnings {
		log.Warn("Jackpot %s: %s", j.ID, w)
	}
	return &GenerateResult{Result: res, Threshold: *th, WeightsVersion: weights.Version}, nil
}

// ScoreRequest scores an externally built ticket. Nil Theta or K fall back to
// the profile's current threshold.
type ScoreRequest struct {
	Fixtures     []models.Fixture `json:"fixtures"`
	Picks        []models.Outcome `json:"picks"`
	Theta        *float64         `json:"theta,omitempty"`
	K            *int             `json:"k,omitempty"`
	ModelVersion string           `json:"model_version,omitempty"`
	Profile      string           `json:"profile,omitempty"`
}

// ScoreTicket validates the request, calibrates each fixture and returns the
// full decision breakdown. A hard contradiction is a normal rejected result.
func (e *Engine) ScoreTicket(ctx context.Context, req ScoreRequest) (*scoring.TicketScore, error) {
	if len(req.Picks) == 0 {
		return nil, fmt.Errorf("%w: picks are required", models.ErrValidation)
	}
	if len(req.Picks) != len(req.Fixtures) {
		return nil, fmt.Errorf("%w: %d picks for %d fixtures", models.ErrValidation, len(req.Picks), len(req.Fixtures))
	}
	for i := range req.Fixtures {
		if err := req.Fixtures[i].Validate(); err != nil {
			return nil, err
		}
	}

	theta, k := 0.0, 0
	if req.Theta == nil || req.K == nil {
		th, err := e.CurrentThreshold(ctx, req.Profile)
		if err != nil {
			return nil, err
		}
		theta, k = th.Theta, th.K
	}
	if req.Theta != nil {
		theta = *req.Theta
	}
	if req.K != nil {
		k = *req.K
	}

	weights, err := e.LeagueWeights(ctx, req.Profile)
	if err != nil {
		return nil, err
	}
	cals := e.newCalibrators(req.ModelVersion)
	inputs := make([]scoring.PickInput, len(req.Picks))
	for i, f := range req.Fixtures {
		corrected, err := cals.apply(ctx, f)
		if err != nil {
			return nil, err
		}
		inputs[i] = scoring.PickInput{
			Fixture:      f,
			Pick:         req.Picks[i],
			Probs:        corrected,
			LeagueWeight: weights.For(f.League),
		}
	}

	score, err := e.scorer.ScoreTicket(inputs, theta, k)
	if err != nil {
		return nil, err
	}
	if math.IsInf(score.UDS, -1) {
		log.Debug("Scored ticket rejected by %d hard contradiction(s)", score.Contradictions)
	}
	return &score, nil
}

// SavedTickets returns a named batch.
func (e *Engine) SavedTickets(ctx context.Context, name string) ([]models.Ticket, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", models.ErrValidation)
	}
	return e.store.SavedTickets(ctx, name)
}
