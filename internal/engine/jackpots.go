package engine

import (
	"context"
	"fmt"

	"github.com/rewired-gh/jackpotengine/internal/models"
)

// SaveJackpot stores the jackpot and a prediction snapshot per fixture under
// modelVersion, so later results feed calibration and weight learning.
func (e *Engine) SaveJackpot(ctx context.Context, j *models.Jackpot, modelVersion string) error {
	if j.CreatedAt.IsZero() {
		j.CreatedAt = e.now()
	}
	if err := e.store.SaveJackpot(ctx, j); err != nil {
		return err
	}
	modelVersion = e.modelVersion(modelVersion)
	if modelVersion == "" {
		log.Warn("Jackpot %s saved without a model version; predictions are not recorded", j.ID)
		return nil
	}
	snapshots := make([]models.PredictionSnapshot, 0, len(j.Fixtures))
	for _, f := range j.Fixtures {
		snapshots = append(snapshots, models.PredictionSnapshot{
			FixtureID:    f.ID,
			JackpotID:    j.ID,
			League:       f.League,
			ModelVersion: modelVersion,
			Probs:        f.Probs,
			CreatedAt:    j.CreatedAt,
		})
	}
	if err := e.store.SaveSnapshots(ctx, snapshots); err != nil {
		return fmt.Errorf("failed to save prediction snapshots: %w", err)
	}
	log.Info("Saved jackpot %s with %d fixtures (model %s)", j.ID, len(j.Fixtures), modelVersion)
	return nil
}

// SyncJackpot fetches the jackpot from the model-serving API and saves it.
func (e *Engine) SyncJackpot(ctx context.Context, id string) (*models.Jackpot, error) {
	if e.source == nil {
		return nil, fmt.Errorf("%w: no upstream source is configured", models.ErrValidation)
	}
	snap, err := e.source.FetchJackpot(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := e.SaveJackpot(ctx, &snap.Jackpot, snap.ModelVersion); err != nil {
		return nil, err
	}
	return &snap.Jackpot, nil
}

// GetJackpot returns a stored jackpot.
func (e *Engine) GetJackpot(ctx context.Context, id string) (*models.Jackpot, error) {
	return e.store.GetJackpot(ctx, id)
}

// ResultsSummary reports what RecordResults changed.
type ResultsSummary struct {
	SnapshotsUpdated int `json:"snapshots_updated"`
	TicketsSettled   int `json:"tickets_settled"`
}

// RecordResults stores realized outcomes for the jackpot's fixtures and
// settles every saved ticket whose fixtures are now all known, counting
// results recorded by earlier calls.
func (e *Engine) RecordResults(ctx context.Context, jackpotID string, results map[string]models.Outcome) (*ResultsSummary, error) {
	if len(results) == 0 {
		return nil, fmt.Errorf("%w: no results given", models.ErrValidation)
	}
	j, err := e.store.GetJackpot(ctx, jackpotID)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(j.Fixtures))
	for _, f := range j.Fixtures {
		known[f.ID] = true
	}
	for id, o := range results {
		if !known[id] {
			return nil, fmt.Errorf("%w: fixture %s is not part of jackpot %s", models.ErrNotFound, id, jackpotID)
		}
		if !o.Valid() {
			return nil, fmt.Errorf("%w: fixture %s result %q", models.ErrValidation, id, o)
		}
	}

	updated, err := e.store.RecordResults(ctx, jackpotID, results)
	if err != nil {
		return nil, err
	}
	all, err := e.store.JackpotResults(ctx, jackpotID)
	if err != nil {
		return nil, err
	}
	settled, err := e.store.LabelTickets(ctx, jackpotID, all)
	if err != nil {
		return nil, fmt.Errorf("failed to settle tickets: %w", err)
	}
	log.Info("Recorded %d results for jackpot %s: %d snapshots updated, %d tickets settled",
		len(results), jackpotID, updated, settled)
	return &ResultsSummary{SnapshotsUpdated: updated, TicketsSettled: settled}, nil
}
