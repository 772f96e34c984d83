package engine

import (
	"context"
	"errors"
	"time"

	"github.com/rewired-gh/jackpotengine/internal/models"
	"github.com/rewired-gh/jackpotengine/internal/tasks"
	"github.com/rewired-gh/jackpotengine/internal/threshold"
)

// TaskKindThresholdLearn labels background threshold runs.
const TaskKindThresholdLearn = "threshold_learn"

// LearnResult is a learned threshold with the learner's report.
type LearnResult struct {
	Threshold models.Threshold  `json:"threshold"`
	Report    *threshold.Result `json:"report"`
}

func (e *Engine) learnRequest(req threshold.LearnRequest) threshold.LearnRequest {
	req.Profile = e.profile(req.Profile)
	if req.To.IsZero() {
		req.To = e.now()
	}
	if req.From.IsZero() && e.config.Window > 0 {
		req.From = req.To.Add(-e.config.Window)
	}
	return req
}

// LearnThresholds learns theta and K from settled tickets in the window and
// appends the result as the profile's current threshold. An empty window
// defaults to the configured trailing window ending now.
func (e *Engine) LearnThresholds(ctx context.Context, req threshold.LearnRequest) (*LearnResult, error) {
	req = e.learnRequest(req)
	th, res, err := e.learner.Learn(ctx, req)
	switch {
	case errors.Is(err, models.ErrInsufficientData):
		e.metrics.RecordThreshold(req.Profile, "insufficient_data", 0, 0)
		return nil, err
	case err != nil:
		e.metrics.RecordThreshold(req.Profile, "error", 0, 0)
		return nil, err
	}
	e.metrics.RecordThreshold(th.Profile, "success", th.Theta, th.K)
	if e.notifier != nil {
		if err := e.notifier.NotifyThresholdLearned(*th); err != nil {
			log.Warn("Failed to send threshold notification: %v", err)
		}
	}
	return &LearnResult{Threshold: *th, Report: res}, nil
}

// LearnThresholdsAsync validates req and runs LearnThresholds as a background task.
func (e *Engine) LearnThresholdsAsync(ctx context.Context, req threshold.LearnRequest) (*models.Task, error) {
	req = e.learnRequest(req)
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return e.runner.Submit(ctx, TaskKindThresholdLearn, func(ctx context.Context, progress tasks.ProgressFunc) (any, error) {
		progress(10, "learning")
		return e.LearnThresholds(ctx, req)
	})
}

// LearnWeights re-derives league weights for the profile from settled
// predictions and stores them as a new version.
func (e *Engine) LearnWeights(ctx context.Context, profile, modelVersion string) (*models.LeagueWeights, []threshold.LeagueAccuracy, error) {
	profile = e.profile(profile)
	base, err := e.LeagueWeights(ctx, profile)
	if err != nil {
		return nil, nil, err
	}
	return e.learner.LearnWeights(ctx, profile, e.modelVersion(modelVersion), base)
}

// Relearn runs one scheduled re-learn of the default profile's threshold
// over the trailing window.
func (e *Engine) Relearn(ctx context.Context) (*LearnResult, error) {
	start := time.Now()
	res, err := e.LearnThresholds(ctx, threshold.LearnRequest{})
	if err != nil {
		return nil, err
	}
	log.Info("Scheduled re-learn finished in %v", time.Since(start).Round(time.Millisecond))
	return res, nil
}
