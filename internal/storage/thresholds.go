package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/rewired-gh/jackpotengine/internal/models"
)

const thresholdCols = `id, profile, theta, k, window_start, window_end, samples_used, accuracy, effective_from, is_current`

// AppendThreshold inserts a new threshold and makes it the profile's only
// current row. Earlier rows are kept.
func (s *Storage) AppendThreshold(ctx context.Context, t models.Threshold) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := s.exec(ctx, tx, `UPDATE thresholds SET is_current = 0 WHERE profile = ? AND is_current = 1`, t.Profile); err != nil {
		return fmt.Errorf("failed to retire current threshold: %w", err)
	}
	if _, err := s.exec(ctx, tx, `
		INSERT INTO thresholds (`+thresholdCols+`)
		VALUES (?,?,?,?,?,?,?,?,?,1)`,
		t.ID, t.Profile, t.Theta, t.K, nanos(t.WindowStart), nanos(t.WindowEnd),
		t.SamplesUsed, t.Accuracy, nanos(t.EffectiveFrom),
	); err != nil {
		return fmt.Errorf("failed to insert threshold: %w", err)
	}
	return tx.Commit()
}

// CurrentThreshold returns the profile's current threshold.
func (s *Storage) CurrentThreshold(ctx context.Context, profile string) (*models.Threshold, error) {
	row := s.queryRow(ctx, s.db, `SELECT `+thresholdCols+` FROM thresholds
		WHERE profile = ? AND is_current = 1`, profile)
	t, err := scanThreshold(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: no threshold for profile %s", models.ErrNotFound, profile)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get threshold: %w", err)
	}
	return t, nil
}

// ThresholdHistory lists every threshold of the profile, newest first.
func (s *Storage) ThresholdHistory(ctx context.Context, profile string) ([]models.Threshold, error) {
	rows, err := s.query(ctx, s.db, `SELECT `+thresholdCols+` FROM thresholds
		WHERE profile = ? ORDER BY effective_from DESC, id`, profile)
	if err != nil {
		return nil, fmt.Errorf("failed to query thresholds: %w", err)
	}
	defer rows.Close()
	out := []models.Threshold{}
	for rows.Next() {
		t, err := scanThreshold(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan threshold: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func scanThreshold(scan func(...any) error) (*models.Threshold, error) {
	var t models.Threshold
	var start, end, effective int64
	var current int
	err := scan(&t.ID, &t.Profile, &t.Theta, &t.K, &start, &end,
		&t.SamplesUsed, &t.Accuracy, &effective, &current)
	if err != nil {
		return nil, err
	}
	t.WindowStart = fromNanos(start)
	t.WindowEnd = fromNanos(end)
	t.EffectiveFrom = fromNanos(effective)
	t.Current = current != 0
	return &t, nil
}

// SaveLeagueWeights stores a new league-weight version.
func (s *Storage) SaveLeagueWeights(ctx context.Context, w models.LeagueWeights) error {
	if err := w.Validate(); err != nil {
		return fmt.Errorf("invalid league weights: %w", err)
	}
	data, err := json.Marshal(w.Weights)
	if err != nil {
		return fmt.Errorf("failed to marshal league weights: %w", err)
	}
	if _, err := s.exec(ctx, s.db, `
		INSERT INTO league_weights (version, profile, weights, created_at) VALUES (?,?,?,?)`,
		w.Version, w.Profile, string(data), nanos(w.CreatedAt),
	); err != nil {
		return fmt.Errorf("failed to insert league weights: %w", err)
	}
	return nil
}

// LatestLeagueWeights returns the newest weight version of the profile.
func (s *Storage) LatestLeagueWeights(ctx context.Context, profile string) (*models.LeagueWeights, error) {
	var w models.LeagueWeights
	var data string
	var createdAt int64
	err := s.queryRow(ctx, s.db, `
		SELECT version, profile, weights, created_at FROM league_weights
		WHERE profile = ? ORDER BY created_at DESC LIMIT 1`, profile).
		Scan(&w.Version, &w.Profile, &data, &createdAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: no league weights for profile %s", models.ErrNotFound, profile)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get league weights: %w", err)
	}
	if err := json.Unmarshal([]byte(data), &w.Weights); err != nil {
		return nil, fmt.Errorf("failed to unmarshal league weights: %w", err)
	}
	w.CreatedAt = fromNanos(createdAt)
	return &w, nil
}
