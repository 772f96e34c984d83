package threshold

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rewired-gh/jackpotengine/internal/logger"
	"github.com/rewired-gh/jackpotengine/internal/models"
)

// DefaultProfile is the league-weight profile used when none is given.
const DefaultProfile = "default"

// Store is the persistence the runner needs. AppendThreshold must insert the
// row and make it the profile's current threshold in a single transaction.
type Store interface {
	ScoredTickets(ctx context.Context, from, to time.Time) ([]models.ScoredTicket, error)
	AppendThreshold(ctx context.Context, t models.Threshold) error
	SettledSnapshots(ctx context.Context, modelVersion, league string) ([]models.PredictionSnapshot, error)
	SaveLeagueWeights(ctx context.Context, w models.LeagueWeights) error
}

// LearnRequest selects the profile and historical window.
type LearnRequest struct {
	Profile string    `json:"profile"`
	From    time.Time `json:"from"`
	To      time.Time `json:"to"`
}

// Validate checks the request.
func (r LearnRequest) Validate() error {
	if r.To.IsZero() {
		return fmt.Errorf("%w: window end is required", models.ErrValidation)
	}
	if !r.From.IsZero() && !r.From.Before(r.To) {
		return fmt.Errorf("%w: window start must be before window end", models.ErrValidation)
	}
	return nil
}

// Runner executes the periodic batch learning jobs.
type Runner struct {
	store Store
	opts  Options
	now   func() time.Time
}

// NewRunner creates a runner; invalid options are rejected.
func NewRunner(store Store, opts Options) (*Runner, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Runner{store: store, opts: opts, now: time.Now}, nil
}

// Options returns the runner's learning options.
func (r *Runner) Options() Options {
	return r.opts
}

// Learn reads the window, learns theta/K and appends a new current threshold.
// Nothing is written when learning fails.
func (r *Runner) Learn(ctx context.Context, req LearnRequest) (*models.Threshold, *Result, error) {
	if req.Profile == "" {
		req.Profile = DefaultProfile
	}
	if err := req.Validate(); err != nil {
		return nil, nil, err
	}

	tickets, err := r.store.ScoredTickets(ctx, req.From, req.To)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load scored tickets: %w", err)
	}
	logger.Debug("Threshold learning for %s: %d tickets in window %s - %s",
		req.Profile, len(tickets), req.From.Format(time.RFC3339), req.To.Format(time.RFC3339))

	res, err := Learn(tickets, r.opts)
	if err != nil {
		return nil, nil, err
	}

	th := models.Threshold{
		ID:            uuid.NewString(),
		Profile:       req.Profile,
		Theta:         res.Theta,
		K:             res.K,
		WindowStart:   req.From,
		WindowEnd:     req.To,
		SamplesUsed:   res.SamplesUsed,
		Accuracy:      res.Accuracy,
		EffectiveFrom: r.now(),
		Current:       true,
	}
	if err := r.store.AppendThreshold(ctx, th); err != nil {
		return nil, nil, fmt.Errorf("failed to save threshold: %w", err)
	}
	logger.Info("Learned threshold %s for %s: theta=%.2f K=%d accuracy=%.3f retained=%.2f (%d samples)",
		th.ID, th.Profile, th.Theta, th.K, res.Accuracy, res.Retained, res.SamplesUsed)
	return &th, res, nil
}

// LearnWeights re-derives league weights for profile from the settled
// predictions of modelVersion and saves them as a new version.
func (r *Runner) LearnWeights(ctx context.Context, profile, modelVersion string, base models.LeagueWeights) (*models.LeagueWeights, []LeagueAccuracy, error) {
	if profile == "" {
		profile = DefaultProfile
	}
	if modelVersion == "" {
		return nil, nil, fmt.Errorf("%w: model_version is required", models.ErrValidation)
	}
	snapshots, err := r.store.SettledSnapshots(ctx, modelVersion, "")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load prediction snapshots: %w", err)
	}
	weights, report := LearnLeagueWeights(snapshots, base, r.opts.MinBucketSamples)
	if len(report) == 0 {
		return nil, nil, fmt.Errorf("%w: no settled predictions for model %s", models.ErrInsufficientData, modelVersion)
	}
	lw := models.LeagueWeights{
		Version:   uuid.NewString(),
		Profile:   profile,
		Weights:   weights,
		CreatedAt: r.now(),
	}
	if err := r.store.SaveLeagueWeights(ctx, lw); err != nil {
		return nil, nil, fmt.Errorf("failed to save league weights: %w", err)
	}
	logger.Info("Learned league weights %s for %s from %d leagues", lw.Version, profile, len(report))
	return &lw, report, nil
}
