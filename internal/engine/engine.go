// Package engine wires calibration, scoring, threshold learning and ticket
// construction over a single store.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rewired-gh/jackpotengine/internal/calibration"
	"github.com/rewired-gh/jackpotengine/internal/logger"
	"github.com/rewired-gh/jackpotengine/internal/metrics"
	"github.com/rewired-gh/jackpotengine/internal/models"
	"github.com/rewired-gh/jackpotengine/internal/probset"
	"github.com/rewired-gh/jackpotengine/internal/scoring"
	"github.com/rewired-gh/jackpotengine/internal/tasks"
	"github.com/rewired-gh/jackpotengine/internal/threshold"
	"github.com/rewired-gh/jackpotengine/internal/tickets"
	"github.com/rewired-gh/jackpotengine/internal/upstream"
)

var log = logger.With("engine")

// Store is everything the engine persists.
type Store interface {
	calibration.Store
	threshold.Store
	tasks.Store

	SaveJackpot(ctx context.Context, j *models.Jackpot) error
	GetJackpot(ctx context.Context, id string) (*models.Jackpot, error)
	SaveSnapshots(ctx context.Context, snapshots []models.PredictionSnapshot) error
	RecordResults(ctx context.Context, jackpotID string, results map[string]models.Outcome) (int, error)
	JackpotResults(ctx context.Context, jackpotID string) (map[string]models.Outcome, error)

	SaveTickets(ctx context.Context, tickets []models.Ticket) error
	SavedTickets(ctx context.Context, name string) ([]models.Ticket, error)
	LabelTickets(ctx context.Context, jackpotID string, results map[string]models.Outcome) (int, error)

	CurrentThreshold(ctx context.Context, profile string) (*models.Threshold, error)
	ThresholdHistory(ctx context.Context, profile string) ([]models.Threshold, error)
	LatestLeagueWeights(ctx context.Context, profile string) (*models.LeagueWeights, error)
}

// Notifier receives operator-facing events. Delivery failures are logged only.
type Notifier interface {
	NotifyCalibrationActivated(scope models.CalibrationScope, curveID, previous string) error
	NotifyThresholdLearned(th models.Threshold) error
	NotifyTaskFailed(task models.Task) error
}

// Source fetches jackpots from the model-serving API.
type Source interface {
	FetchJackpot(ctx context.Context, id string) (*upstream.Snapshot, error)
}

// Config holds the engine defaults.
type Config struct {
	ModelVersion  string
	MinSamples    int
	Profile       string
	DefaultTheta  float64
	DefaultK      int
	Window        time.Duration
	DefaultSets   []probset.Key
	LeagueWeights map[string]float64 // operator overrides on top of the built-in table
	Scoring       scoring.Rules
	Thresholds    threshold.Options
	Tickets       tickets.Options
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MinSamples:   200,
		Profile:      threshold.DefaultProfile,
		DefaultTheta: 0,
		DefaultK:     0,
		Window:       90 * 24 * time.Hour,
		DefaultSets:  probset.AllKeys(),
		Scoring:      scoring.DefaultRules(),
		Thresholds:   threshold.DefaultOptions(),
		Tickets:      tickets.DefaultOptions(),
	}
}

// Engine is the decision service.
type Engine struct {
	store       Store
	config      Config
	calibration *calibration.Manager
	scorer      *scoring.Scorer
	learner     *threshold.Runner
	constructor *tickets.Constructor
	runner      *tasks.Runner
	metrics     *metrics.EngineMetrics
	notifier    Notifier
	source      Source
	now         func() time.Time
}

// Option customizes an Engine.
type Option func(*Engine)

// WithNotifier sends operator notifications through n.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithSource enables SyncJackpot.
func WithSource(s Source) Option {
	return func(e *Engine) { e.source = s }
}

// New builds an engine over store. Invalid scoring or learning options are rejected.
func New(store Store, cfg Config, m *metrics.EngineMetrics, opts ...Option) (*Engine, error) {
	if m == nil {
		m = metrics.New()
	}
	if cfg.Profile == "" {
		cfg.Profile = threshold.DefaultProfile
	}
	if len(cfg.DefaultSets) == 0 {
		cfg.DefaultSets = probset.AllKeys()
	}
	if cfg.MinSamples < 1 {
		cfg.MinSamples = DefaultConfig().MinSamples
	}
	scorer, err := scoring.NewScorer(cfg.Scoring)
	if err != nil {
		return nil, fmt.Errorf("invalid scoring rules: %w", err)
	}
	learner, err := threshold.NewRunner(store, cfg.Thresholds)
	if err != nil {
		return nil, fmt.Errorf("invalid threshold options: %w", err)
	}

	e := &Engine{
		store:       store,
		config:      cfg,
		calibration: calibration.NewManager(store),
		scorer:      scorer,
		learner:     learner,
		constructor: tickets.New(scorer, cfg.Tickets),
		runner:      tasks.NewRunner(store),
		metrics:     m,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.runner.OnFinish(e.taskFinished)
	return e, nil
}

// Metrics returns the engine's metric set.
func (e *Engine) Metrics() *metrics.EngineMetrics {
	return e.metrics
}

// Config returns the engine defaults.
func (e *Engine) Config() Config {
	return e.config
}

// Close cancels running tasks and waits for them to finish.
func (e *Engine) Close() {
	e.runner.Close()
}

// Task returns a background job record.
func (e *Engine) Task(ctx context.Context, id string) (*models.Task, error) {
	return e.runner.Get(ctx, id)
}

func (e *Engine) taskFinished(task models.Task) {
	e.metrics.RecordTask(task.Kind, string(task.State))
	if task.State != models.TaskFailed || e.notifier == nil {
		return
	}
	if err := e.notifier.NotifyTaskFailed(task); err != nil {
		log.Warn("Failed to send task failure notification: %v", err)
	}
}

// Status renders a one-line summary of the current threshold for operators.
func (e *Engine) Status(ctx context.Context) string {
	th, err := e.CurrentThreshold(ctx, "")
	if err != nil {
		return fmt.Sprintf("status unavailable: %v", err)
	}
	return fmt.Sprintf("profile=%s theta=%.2f K=%d samples=%d model=%s",
		th.Profile, th.Theta, th.K, th.SamplesUsed, e.config.ModelVersion)
}

func (e *Engine) modelVersion(mv string) string {
	if mv == "" {
		return e.config.ModelVersion
	}
	return mv
}

func (e *Engine) profile(p string) string {
	if p == "" {
		return e.config.Profile
	}
	return p
}

// CurrentThreshold returns the profile's current learned threshold. When none
// has been learned yet the configured defaults are returned with an empty ID.
func (e *Engine) CurrentThreshold(ctx context.Context, profile string) (*models.Threshold, error) {
	profile = e.profile(profile)
	th, err := e.store.CurrentThreshold(ctx, profile)
	if errors.Is(err, models.ErrNotFound) {
		return &models.Threshold{
			Profile: profile,
			Theta:   e.config.DefaultTheta,
			K:       e.config.DefaultK,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load threshold: %w", err)
	}
	return th, nil
}

// ThresholdHistory lists every threshold learned for the profile, newest first.
func (e *Engine) ThresholdHistory(ctx context.Context, profile string) ([]models.Threshold, error) {
	return e.store.ThresholdHistory(ctx, e.profile(profile))
}

// LeagueWeights returns the weights in force for the profile: the built-in
// table, overlaid with configured overrides, overlaid with the latest learned
// version.
func (e *Engine) LeagueWeights(ctx context.Context, profile string) (models.LeagueWeights, error) {
	profile = e.profile(profile)
	base := scoring.MergeWeights(scoring.DefaultLeagueWeights(), e.config.LeagueWeights)
	base.Profile = profile
	learned, err := e.store.LatestLeagueWeights(ctx, profile)
	if errors.Is(err, models.ErrNotFound) {
		return base, nil
	}
	if err != nil {
		return models.LeagueWeights{}, fmt.Errorf("failed to load league weights: %w", err)
	}
	merged := scoring.MergeWeights(base, learned.Weights)
	merged.Version = learned.Version
	merged.CreatedAt = learned.CreatedAt
	return merged, nil
}
