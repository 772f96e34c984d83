package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rewired-gh/jackpotengine/internal/models"
)

// SaveJackpot inserts or replaces a jackpot and its fixtures.
func (s *Storage) SaveJackpot(ctx context.Context, j *models.Jackpot) error {
	if err := j.Validate(); err != nil {
		return fmt.Errorf("invalid jackpot: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := s.exec(ctx, tx, `
		INSERT INTO jackpots (id, name, created_at) VALUES (?,?,?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name`,
		j.ID, j.Name, nanos(j.CreatedAt),
	); err != nil {
		return fmt.Errorf("failed to insert jackpot: %w", err)
	}
	if _, err := s.exec(ctx, tx, `DELETE FROM fixtures WHERE jackpot_id = ?`, j.ID); err != nil {
		return fmt.Errorf("failed to clear fixtures: %w", err)
	}
	for i, f := range j.Fixtures {
		var xg sql.NullFloat64
		if f.XGDiff != nil {
			xg = sql.NullFloat64{Float64: *f.XGDiff, Valid: true}
		}
		if _, err := s.exec(ctx, tx, `
			INSERT INTO fixtures
				(jackpot_id, id, position, league, home_team, away_team,
				 odds_home, odds_draw, odds_away, prob_home, prob_draw, prob_away,
				 xg_diff, kickoff)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			j.ID, f.ID, i, f.League, f.HomeTeam, f.AwayTeam,
			f.Odds.Home, f.Odds.Draw, f.Odds.Away, f.Probs.Home, f.Probs.Draw, f.Probs.Away,
			xg, nanos(f.Kickoff),
		); err != nil {
			return fmt.Errorf("failed to insert fixture %s: %w", f.ID, err)
		}
	}
	return tx.Commit()
}

// GetJackpot loads a jackpot with its fixtures in their original order.
func (s *Storage) GetJackpot(ctx context.Context, id string) (*models.Jackpot, error) {
	var j models.Jackpot
	var createdAt int64
	err := s.queryRow(ctx, s.db, `SELECT id, name, created_at FROM jackpots WHERE id = ?`, id).
		Scan(&j.ID, &j.Name, &createdAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: jackpot %s", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get jackpot: %w", err)
	}
	j.CreatedAt = fromNanos(createdAt)

	rows, err := s.query(ctx, s.db, `
		SELECT id, league, home_team, away_team, odds_home, odds_draw, odds_away,
		       prob_home, prob_draw, prob_away, xg_diff, kickoff
		FROM fixtures WHERE jackpot_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query fixtures: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var f models.Fixture
		var xg sql.NullFloat64
		var kickoff int64
		if err := rows.Scan(&f.ID, &f.League, &f.HomeTeam, &f.AwayTeam,
			&f.Odds.Home, &f.Odds.Draw, &f.Odds.Away,
			&f.Probs.Home, &f.Probs.Draw, &f.Probs.Away,
			&xg, &kickoff,
		); err != nil {
			return nil, fmt.Errorf("failed to scan fixture: %w", err)
		}
		if xg.Valid {
			v := xg.Float64
			f.XGDiff = &v
		}
		f.Kickoff = fromNanos(kickoff)
		j.Fixtures = append(j.Fixtures, f)
	}
	return &j, rows.Err()
}

// SaveSnapshots upserts prediction snapshots keyed by (jackpot, fixture,
// model version). Fixture ids are only unique within a jackpot. Existing
// results are preserved.
func (s *Storage) SaveSnapshots(ctx context.Context, snapshots []models.PredictionSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, p := range snapshots {
		if _, err := s.exec(ctx, tx, `
			INSERT INTO prediction_snapshots
				(fixture_id, model_version, jackpot_id, league, prob_home, prob_draw, prob_away, result, created_at)
			VALUES (?,?,?,?,?,?,?,?,?)
			ON CONFLICT (jackpot_id, fixture_id, model_version) DO UPDATE SET
				league = excluded.league,
				prob_home = excluded.prob_home,
				prob_draw = excluded.prob_draw,
				prob_away = excluded.prob_away`,
			p.FixtureID, p.ModelVersion, p.JackpotID, p.League,
			p.Probs.Home, p.Probs.Draw, p.Probs.Away, string(p.Result), nanos(p.CreatedAt),
		); err != nil {
			return fmt.Errorf("failed to save snapshot %s: %w", p.FixtureID, err)
		}
	}
	return tx.Commit()
}

// RecordResults stores realized results for the jackpot's fixtures, writes
// them into every matching snapshot and returns the number of snapshot rows
// updated.
func (s *Storage) RecordResults(ctx context.Context, jackpotID string, results map[string]models.Outcome) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	total := 0
	for fixtureID, outcome := range results {
		if !outcome.Valid() {
			return 0, fmt.Errorf("%w: result for fixture %s is %q", models.ErrValidation, fixtureID, outcome)
		}
		if _, err := s.exec(ctx, tx, `
			INSERT INTO fixture_results (jackpot_id, fixture_id, result, recorded_at) VALUES (?,?,?,?)
			ON CONFLICT (jackpot_id, fixture_id) DO UPDATE SET result = excluded.result, recorded_at = excluded.recorded_at`,
			jackpotID, fixtureID, string(outcome), nanos(s.now()),
		); err != nil {
			return 0, fmt.Errorf("failed to store result for %s: %w", fixtureID, err)
		}
		res, err := s.exec(ctx, tx, `
			UPDATE prediction_snapshots SET result = ? WHERE fixture_id = ? AND jackpot_id = ?`,
			string(outcome), fixtureID, jackpotID)
		if err != nil {
			return 0, fmt.Errorf("failed to record result for %s: %w", fixtureID, err)
		}
		n, _ := res.RowsAffected()
		total += int(n)
	}
	return total, tx.Commit()
}

// JackpotResults returns every realized result recorded for the jackpot.
func (s *Storage) JackpotResults(ctx context.Context, jackpotID string) (map[string]models.Outcome, error) {
	rows, err := s.query(ctx, s.db, `SELECT fixture_id, result FROM fixture_results WHERE jackpot_id = ?`, jackpotID)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()
	out := make(map[string]models.Outcome)
	for rows.Next() {
		var id, result string
		if err := rows.Scan(&id, &result); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		out[id] = models.Outcome(result)
	}
	return out, rows.Err()
}

// SettledSnapshots returns snapshots with a known result for the model
// version. An empty league returns every league.
func (s *Storage) SettledSnapshots(ctx context.Context, modelVersion, league string) ([]models.PredictionSnapshot, error) {
	query := `
		SELECT fixture_id, model_version, jackpot_id, league, prob_home, prob_draw, prob_away, result, created_at
		FROM prediction_snapshots WHERE model_version = ? AND result <> ''`
	args := []any{modelVersion}
	if league != "" {
		query += ` AND league = ?`
		args = append(args, league)
	}
	query += ` ORDER BY created_at, jackpot_id, fixture_id`

	rows, err := s.query(ctx, s.db, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()
	out := []models.PredictionSnapshot{}
	for rows.Next() {
		var p models.PredictionSnapshot
		var result string
		var createdAt int64
		if err := rows.Scan(&p.FixtureID, &p.ModelVersion, &p.JackpotID, &p.League,
			&p.Probs.Home, &p.Probs.Draw, &p.Probs.Away, &result, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		p.Result = models.Outcome(result)
		p.CreatedAt = fromNanos(createdAt)
		out = append(out, p)
	}
	return out, rows.Err()
}
