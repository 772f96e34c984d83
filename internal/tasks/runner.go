// Package tasks runs long jobs in the background and persists their progress
// so callers can poll them by id.
package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rewired-gh/jackpotengine/internal/logger"
	"github.com/rewired-gh/jackpotengine/internal/models"
)

// Store persists task records.
type Store interface {
	SaveTask(ctx context.Context, t *models.Task) error
	GetTask(ctx context.Context, id string) (*models.Task, error)
}

// ProgressFunc reports a completion percentage and phase label.
type ProgressFunc func(percent float64, phase string)

// Job is the work of a task. Its result is stored as JSON on completion.
type Job func(ctx context.Context, progress ProgressFunc) (any, error)

// Runner starts jobs and tracks them until they finish.
type Runner struct {
	store    Store
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	now      func() time.Time
	onFinish func(models.Task)
}

// NewRunner creates a runner. Jobs outlive the request that submitted them
// and are cancelled by Close.
func NewRunner(store Store) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{store: store, ctx: ctx, cancel: cancel, now: time.Now}
}

// OnFinish registers a callback invoked with the final task state.
func (r *Runner) OnFinish(fn func(models.Task)) {
	r.onFinish = fn
}

// Submit persists a queued task and starts job in the background.
func (r *Runner) Submit(ctx context.Context, kind string, job Job) (*models.Task, error) {
	now := r.now()
	task := &models.Task{
		ID:        uuid.NewString(),
		Kind:      kind,
		State:     models.TaskQueued,
		Phase:     "queued",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.store.SaveTask(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}
	snapshot := *task

	r.wg.Add(1)
	go r.run(task, job)
	return &snapshot, nil
}

// Get returns the stored state of a task.
func (r *Runner) Get(ctx context.Context, id string) (*models.Task, error) {
	return r.store.GetTask(ctx, id)
}

// Wait blocks until every submitted job has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Close cancels running jobs and waits for them.
func (r *Runner) Close() {
	r.cancel()
	r.wg.Wait()
}

func (r *Runner) run(task *models.Task, job Job) {
	defer r.wg.Done()
	var mu sync.Mutex

	save := func() {
		// records must land even after Close cancels the job
		if err := r.store.SaveTask(context.WithoutCancel(r.ctx), task); err != nil {
			logger.Error("Failed to save task %s: %v", task.ID, err)
		}
	}

	mu.Lock()
	if err := task.Transition(models.TaskRunning, r.now()); err != nil {
		mu.Unlock()
		logger.Error("Task %s: %v", task.ID, err)
		return
	}
	task.Phase = "started"
	save()
	mu.Unlock()

	progress := func(percent float64, phase string) {
		mu.Lock()
		defer mu.Unlock()
		if task.State != models.TaskRunning {
			return
		}
		// progress never moves backwards
		task.Progress = math.Max(task.Progress, math.Min(100, math.Max(0, percent)))
		task.Phase = phase
		task.UpdatedAt = r.now()
		save()
	}

	result, err := safeRun(r.ctx, job, progress)

	mu.Lock()
	defer mu.Unlock()
	if err == nil && result != nil {
		data, merr := json.Marshal(result)
		if merr != nil {
			err = fmt.Errorf("failed to encode task result: %w", merr)
		} else {
			task.Result = data
		}
	}
	if err != nil {
		_ = task.Transition(models.TaskFailed, r.now())
		task.Error = err.Error()
		task.Phase = "failed"
		logger.Warn("Task %s (%s) failed: %v", task.ID, task.Kind, err)
	} else {
		_ = task.Transition(models.TaskCompleted, r.now())
		task.Progress = 100
		task.Phase = "completed"
		logger.Info("Task %s (%s) completed", task.ID, task.Kind)
	}
	save()
	if r.onFinish != nil {
		r.onFinish(*task)
	}
}

func safeRun(ctx context.Context, job Job, progress ProgressFunc) (result any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("task panicked: %v", p)
		}
	}()
	return job(ctx, progress)
}
