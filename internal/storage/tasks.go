package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rewired-gh/jackpotengine/internal/models"
)

// SaveTask inserts or updates a task record.
func (s *Storage) SaveTask(ctx context.Context, t *models.Task) error {
	_, err := s.exec(ctx, s.db, `
		INSERT INTO tasks (id, kind, state, progress, phase, error, result, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?)
		ON CONFLICT (id) DO UPDATE SET
			state = excluded.state,
			progress = excluded.progress,
			phase = excluded.phase,
			error = excluded.error,
			result = excluded.result,
			updated_at = excluded.updated_at`,
		t.ID, t.Kind, string(t.State), t.Progress, t.Phase, t.Error, string(t.Result),
		nanos(t.CreatedAt), nanos(t.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save task: %w", err)
	}
	return nil
}

// GetTask loads a task by id.
func (s *Storage) GetTask(ctx context.Context, id string) (*models.Task, error) {
	var t models.Task
	var state, result string
	var createdAt, updatedAt int64
	err := s.queryRow(ctx, s.db, `
		SELECT id, kind, state, progress, phase, error, result, created_at, updated_at
		FROM tasks WHERE id = ?`, id).
		Scan(&t.ID, &t.Kind, &state, &t.Progress, &t.Phase, &t.Error, &result, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: task %s", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	t.State = models.TaskState(state)
	if result != "" {
		t.Result = []byte(result)
	}
	t.CreatedAt = fromNanos(createdAt)
	t.UpdatedAt = fromNanos(updatedAt)
	return &t, nil
}
