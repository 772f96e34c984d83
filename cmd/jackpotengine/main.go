package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rewired-gh/jackpotengine/internal/api"
	"github.com/rewired-gh/jackpotengine/internal/config"
	"github.com/rewired-gh/jackpotengine/internal/engine"
	"github.com/rewired-gh/jackpotengine/internal/logger"
	"github.com/rewired-gh/jackpotengine/internal/models"
	"github.com/rewired-gh/jackpotengine/internal/probset"
	"github.com/rewired-gh/jackpotengine/internal/storage"
	"github.com/rewired-gh/jackpotengine/internal/telegram"
	"github.com/rewired-gh/jackpotengine/internal/upstream"
)

var configPath = flag.String("config", "", "Path to configuration file (defaults and JACKPOT_* env when empty)")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	if *configPath != "" {
		logger.Info("Configuration loaded from %s", *configPath)
	}

	store, err := storage.New(cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		logger.Fatal("Failed to initialize storage: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	sets, err := probset.ParseKeys(cfg.Tickets.DefaultSets)
	if err != nil {
		logger.Fatal("Invalid default probability sets: %v", err)
	}
	engineConfig := engine.Config{
		ModelVersion:  cfg.Calibration.ModelVersion,
		MinSamples:    cfg.Calibration.MinSamples,
		Profile:       cfg.Thresholds.Profile,
		DefaultTheta:  cfg.Thresholds.DefaultTheta,
		DefaultK:      cfg.Thresholds.DefaultK,
		Window:        cfg.Thresholds.Window,
		DefaultSets:   sets,
		LeagueWeights: cfg.LeagueWeights,
		Scoring:       cfg.ScoringRules(),
		Thresholds:    cfg.ThresholdOptions(),
		Tickets:       cfg.TicketOptions(),
	}

	var opts []engine.Option
	if cfg.Upstream.BaseURL != "" {
		source := upstream.NewClient(
			cfg.Upstream.BaseURL,
			cfg.Upstream.APIKey,
			cfg.Upstream.Timeout,
			cfg.Upstream.MaxRetries,
		)
		source.SetRateLimit(cfg.Upstream.RateLimit, cfg.Upstream.Burst)
		opts = append(opts, engine.WithSource(source))
		logger.Info("Upstream model API configured at %s", cfg.Upstream.BaseURL)
	} else {
		logger.Debug("Upstream model API not configured, jackpot sync disabled")
	}

	var telegramClient *telegram.Client
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		opts = append(opts, engine.WithNotifier(telegramClient))
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	eng, err := engine.New(store, engineConfig, nil, opts...)
	if err != nil {
		logger.Fatal("Failed to initialize engine: %v", err)
	}
	defer eng.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server := api.NewServer(eng, store, api.Options{
		Addr:           cfg.Server.Addr,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		RequestTimeout: cfg.Server.RequestTimeout,
		CORSOrigins:    cfg.Server.CORSOrigins,
	})
	go func() {
		if err := server.Start(); err != nil {
			logger.Error("HTTP server failed: %v", err)
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		select {
		case <-sigChan:
			logger.Info("Shutdown signal received, cleaning up...")
		case <-ctx.Done():
		}
		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		server.Stop(shutdownCtx)
		cancel()
	}()

	if telegramClient != nil {
		telegramClient.SetStatusFunc(eng.Status)
		telegramClient.ListenForCommands(ctx)
	}

	if !cfg.Thresholds.RelearnEnabled {
		logger.Info("Threshold re-learning disabled, serving API only")
		<-stopped
		logger.Info("Service stopped")
		return
	}

	logger.Info("Starting threshold re-learning (interval: %v, window: %v, profile: %s)",
		cfg.Thresholds.RelearnInterval,
		cfg.Thresholds.Window,
		cfg.Thresholds.Profile,
	)

	ticker := time.NewTicker(cfg.Thresholds.RelearnInterval)
	defer ticker.Stop()

	consecutiveFailures := 0

	handleRelearnResult := func(err error) {
		if err != nil {
			consecutiveFailures++
			logger.Error("Threshold re-learning failed: %v", err)
			if consecutiveFailures == 1 && telegramClient != nil {
				if sendErr := telegramClient.SendError(err); sendErr != nil {
					logger.Warn("Failed to send error notification to Telegram: %v", sendErr)
				}
			}
		} else {
			if consecutiveFailures > 0 && telegramClient != nil {
				if sendErr := telegramClient.SendRecovery(consecutiveFailures); sendErr != nil {
					logger.Warn("Failed to send recovery notification to Telegram: %v", sendErr)
				}
			}
			consecutiveFailures = 0
		}
	}

	for {
		select {
		case <-ctx.Done():
			<-stopped
			logger.Info("Service stopped")
			return

		case <-ticker.C:
			logger.Debug("Starting scheduled threshold re-learning")
			handleRelearnResult(relearn(ctx, eng))
		}
	}
}

// relearn treats a window without enough settled tickets as a quiet cycle,
// not a failure.
func relearn(ctx context.Context, eng *engine.Engine) error {
	_, err := eng.Relearn(ctx)
	if err != nil && errors.Is(err, models.ErrInsufficientData) {
		logger.Info("Skipping threshold update: %v", err)
		return nil
	}
	return err
}
