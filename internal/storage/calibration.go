package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/rewired-gh/jackpotengine/internal/models"
)

const curveCols = `id, outcome, league, model_version, points, samples_used, active, created_at, valid_from`

// InsertCurves writes a batch of new, inactive curves in one transaction.
func (s *Storage) InsertCurves(ctx context.Context, curves []models.CalibrationCurve) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for i := range curves {
		c := &curves[i]
		if err := c.Validate(); err != nil {
			return fmt.Errorf("invalid calibration curve: %w", err)
		}
		points, err := json.Marshal(c.Points)
		if err != nil {
			return fmt.Errorf("failed to marshal curve points: %w", err)
		}
		if _, err := s.exec(ctx, tx, `
			INSERT INTO calibration_curves
				(id, scope_key, outcome, league, model_version, points, samples_used, active, created_at, valid_from)
			VALUES (?,?,?,?,?,?,?,0,?,?)`,
			c.ID, c.Scope.Key(), string(c.Scope.Outcome), c.Scope.League, c.Scope.ModelVersion,
			string(points), c.SamplesUsed, nanos(c.CreatedAt), nanos(c.ValidFrom),
		); err != nil {
			return fmt.Errorf("failed to insert curve %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// GetCurve loads one curve by id.
func (s *Storage) GetCurve(ctx context.Context, id string) (*models.CalibrationCurve, error) {
	row := s.queryRow(ctx, s.db, `SELECT `+curveCols+` FROM calibration_curves WHERE id = ?`, id)
	c, err := scanCurve(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: calibration %s", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get curve: %w", err)
	}
	return c, nil
}

// ActiveCurveID returns the scope's active curve id, "" when none is active.
func (s *Storage) ActiveCurveID(ctx context.Context, scope models.CalibrationScope) (string, error) {
	var id string
	err := s.queryRow(ctx, s.db, `SELECT curve_id FROM calibration_active WHERE scope_key = ?`, scope.Key()).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read active pointer: %w", err)
	}
	return id, nil
}

// SwapActive moves the scope's active pointer from expected to next and flips
// the curves' active flags, all in one transaction. It fails with
// models.ErrConcurrencyConflict when the pointer no longer equals expected.
func (s *Storage) SwapActive(ctx context.Context, scope models.CalibrationScope, expected, next string) error {
	key := scope.Key()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var nextKey string
	err = s.queryRow(ctx, tx, `SELECT scope_key FROM calibration_curves WHERE id = ?`, next).Scan(&nextKey)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: calibration %s", models.ErrNotFound, next)
	}
	if err != nil {
		return fmt.Errorf("failed to look up curve: %w", err)
	}
	if nextKey != key {
		return fmt.Errorf("%w: calibration %s belongs to scope %s, not %s", models.ErrValidation, next, nextKey, key)
	}

	now := nanos(s.now())
	var res sql.Result
	if expected == "" {
		res, err = s.exec(ctx, tx, `
			INSERT INTO calibration_active (scope_key, curve_id, updated_at) VALUES (?,?,?)
			ON CONFLICT (scope_key) DO NOTHING`, key, next, now)
	} else {
		res, err = s.exec(ctx, tx, `
			UPDATE calibration_active SET curve_id = ?, updated_at = ?
			WHERE scope_key = ? AND curve_id = ?`, next, now, key, expected)
	}
	if err != nil {
		return fmt.Errorf("failed to move active pointer: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return fmt.Errorf("%w: active calibration for %s changed concurrently", models.ErrConcurrencyConflict, key)
	}

	if _, err := s.exec(ctx, tx, `UPDATE calibration_curves SET active = 0 WHERE scope_key = ? AND active = 1`, key); err != nil {
		return fmt.Errorf("failed to deactivate curves: %w", err)
	}
	if _, err := s.exec(ctx, tx, `UPDATE calibration_curves SET active = 1 WHERE id = ?`, next); err != nil {
		return fmt.Errorf("failed to activate curve: %w", err)
	}
	return tx.Commit()
}

// ActiveCurves returns the active curves of a (model version, league) scope.
// An empty league selects the global curves.
func (s *Storage) ActiveCurves(ctx context.Context, modelVersion, league string) ([]models.CalibrationCurve, error) {
	return s.listCurves(ctx, `SELECT `+curveCols+` FROM calibration_curves
		WHERE model_version = ? AND league = ? AND active = 1 ORDER BY outcome`, modelVersion, league)
}

// ListCurves returns every curve of the scope, newest first.
func (s *Storage) ListCurves(ctx context.Context, modelVersion, league string) ([]models.CalibrationCurve, error) {
	return s.listCurves(ctx, `SELECT `+curveCols+` FROM calibration_curves
		WHERE model_version = ? AND league = ? ORDER BY created_at DESC, outcome`, modelVersion, league)
}

func (s *Storage) listCurves(ctx context.Context, query string, args ...any) ([]models.CalibrationCurve, error) {
	rows, err := s.query(ctx, s.db, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query curves: %w", err)
	}
	defer rows.Close()
	out := []models.CalibrationCurve{}
	for rows.Next() {
		c, err := scanCurve(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan curve: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func scanCurve(scan func(...any) error) (*models.CalibrationCurve, error) {
	var c models.CalibrationCurve
	var outcome, points string
	var active int
	var createdAt, validFrom int64
	err := scan(&c.ID, &outcome, &c.Scope.League, &c.Scope.ModelVersion, &points,
		&c.SamplesUsed, &active, &createdAt, &validFrom)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(points), &c.Points); err != nil {
		return nil, fmt.Errorf("failed to unmarshal curve points: %w", err)
	}
	c.Scope.Outcome = models.Outcome(outcome)
	c.Active = active != 0
	c.CreatedAt = fromNanos(createdAt)
	c.ValidFrom = fromNanos(validFrom)
	return &c, nil
}
