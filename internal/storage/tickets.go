package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/rewired-gh/jackpotengine/internal/models"
)

const ticketCols = `id, jackpot_id, set_key, name, fixture_ids, picks, combined_odds, combined_probability,
	uds, contradictions, accepted, hit, created_at`

// SaveTickets inserts a batch of generated tickets. Non-finite UDS values are
// stored as NULL and read back as -Inf.
func (s *Storage) SaveTickets(ctx context.Context, tickets []models.Ticket) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for i := range tickets {
		t := &tickets[i]
		if err := t.Validate(); err != nil {
			return fmt.Errorf("invalid ticket %s: %w", t.ID, err)
		}
		fixtureIDs, err := json.Marshal(t.FixtureIDs)
		if err != nil {
			return fmt.Errorf("failed to marshal fixture ids: %w", err)
		}
		picks, err := json.Marshal(t.Picks)
		if err != nil {
			return fmt.Errorf("failed to marshal picks: %w", err)
		}
		var uds sql.NullFloat64
		if !math.IsInf(t.UDS, 0) && !math.IsNaN(t.UDS) {
			uds = sql.NullFloat64{Float64: t.UDS, Valid: true}
		}
		var hit sql.NullInt64
		if t.Hit != nil {
			hit = sql.NullInt64{Int64: int64(boolToInt(*t.Hit)), Valid: true}
		}
		if _, err := s.exec(ctx, tx, `
			INSERT INTO tickets (`+ticketCols+`)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			t.ID, t.JackpotID, t.SetKey, t.Name, string(fixtureIDs), string(picks),
			t.CombinedOdds, t.CombinedProbability, uds, t.Contradictions,
			boolToInt(t.Accepted), hit, nanos(t.CreatedAt),
		); err != nil {
			return fmt.Errorf("failed to insert ticket %s: %w", t.ID, err)
		}
	}
	return tx.Commit()
}

// SavedTickets returns the tickets saved under name in creation order.
func (s *Storage) SavedTickets(ctx context.Context, name string) ([]models.Ticket, error) {
	tickets, err := s.listTickets(ctx, `SELECT `+ticketCols+` FROM tickets
		WHERE name = ? ORDER BY created_at, set_key, id`, name)
	if err != nil {
		return nil, err
	}
	if len(tickets) == 0 {
		return nil, fmt.Errorf("%w: ticket set %q", models.ErrNotFound, name)
	}
	return tickets, nil
}

// LabelTickets marks every unsettled ticket of the jackpot as hit or miss
// against results. Tickets with a fixture missing from results stay unsettled.
func (s *Storage) LabelTickets(ctx context.Context, jackpotID string, results map[string]models.Outcome) (int, error) {
	tickets, err := s.listTickets(ctx, `SELECT `+ticketCols+` FROM tickets
		WHERE jackpot_id = ? AND hit IS NULL`, jackpotID)
	if err != nil {
		return 0, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := nanos(s.now())
	settled := 0
	for i := range tickets {
		hit, ok := tickets[i].Matches(results)
		if !ok {
			continue
		}
		if _, err := s.exec(ctx, tx, `UPDATE tickets SET hit = ?, settled_at = ? WHERE id = ?`,
			boolToInt(hit), now, tickets[i].ID); err != nil {
			return 0, fmt.Errorf("failed to label ticket %s: %w", tickets[i].ID, err)
		}
		settled++
	}
	return settled, tx.Commit()
}

// ScoredTickets returns settled tickets created within [from, to].
func (s *Storage) ScoredTickets(ctx context.Context, from, to time.Time) ([]models.ScoredTicket, error) {
	rows, err := s.query(ctx, s.db, `
		SELECT id, uds, contradictions, hit, created_at FROM tickets
		WHERE hit IS NOT NULL AND created_at >= ? AND created_at <= ?
		ORDER BY created_at, id`, nanos(from), nanos(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query scored tickets: %w", err)
	}
	defer rows.Close()
	out := []models.ScoredTicket{}
	for rows.Next() {
		var t models.ScoredTicket
		var uds sql.NullFloat64
		var hit int
		var createdAt int64
		if err := rows.Scan(&t.TicketID, &uds, &t.Contradictions, &hit, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan scored ticket: %w", err)
		}
		t.UDS = math.Inf(-1)
		if uds.Valid {
			t.UDS = uds.Float64
		}
		t.Hit = hit != 0
		t.ScoredAt = fromNanos(createdAt)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Storage) listTickets(ctx context.Context, query string, args ...any) ([]models.Ticket, error) {
	rows, err := s.query(ctx, s.db, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tickets: %w", err)
	}
	defer rows.Close()
	var out []models.Ticket
	for rows.Next() {
		t, err := scanTicket(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ticket: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func scanTicket(scan func(...any) error) (*models.Ticket, error) {
	var t models.Ticket
	var fixtureIDs, picks string
	var uds sql.NullFloat64
	var accepted int
	var hit sql.NullInt64
	var createdAt int64
	err := scan(&t.ID, &t.JackpotID, &t.SetKey, &t.Name, &fixtureIDs, &picks,
		&t.CombinedOdds, &t.CombinedProbability, &uds, &t.Contradictions,
		&accepted, &hit, &createdAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(fixtureIDs), &t.FixtureIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal fixture ids: %w", err)
	}
	if err := json.Unmarshal([]byte(picks), &t.Picks); err != nil {
		return nil, fmt.Errorf("failed to unmarshal picks: %w", err)
	}
	t.UDS = math.Inf(-1)
	if uds.Valid {
		t.UDS = uds.Float64
	}
	t.Accepted = accepted != 0
	if hit.Valid {
		h := hit.Int64 != 0
		t.Hit = &h
	}
	t.CreatedAt = fromNanos(createdAt)
	return &t, nil
}
