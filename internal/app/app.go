package app

import (
	"context"
	"fmt"

	"github.com/semmidev/snapvault/internal/adapter/compressor"
	"github.com/semmidev/snapvault/internal/adapter/database"
	"github.com/semmidev/snapvault/internal/adapter/notifier"
	"github.com/semmidev/snapvault/internal/adapter/storage"
	"github.com/semmidev/snapvault/internal/config"
	"github.com/semmidev/snapvault/internal/domain"
	"github.com/semmidev/snapvault/internal/infrastructure/logger"
	"github.com/semmidev/snapvault/internal/infrastructure/scheduler"
	"github.com/semmidev/snapvault/internal/usecase"
)

// Runner performs a single backup run.
type Runner interface {
	RunOnce(ctx context.Context) (domain.Outcome, error)
	Execute(ctx context.Context) error
}

type App struct {
	config    *config.Config
	logger    *logger.Logger
	scheduler *scheduler.Scheduler
	backup    Runner
}

func New(ctx context.Context, cfg *config.Config) (*App, error) {
	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	log.Infof("Starting %s", cfg.App.Name)

	workspace, err := storage.NewLocal(cfg.Backup.TempDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize temp storage: %w", err)
	}

	dumper, err := database.New(&cfg.Database, compressor.NewGzip())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize dumper: %w", err)
	}
	log.Infof("✓ Dump tool configured for %s", dumper.GetType())

	s3Storage, err := storage.NewS3(ctx, &cfg.Storage, log.Named("storage"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize S3: %w", err)
	}
	log.Infof("✓ AWS S3 upload enabled (bucket: %s, checksum: %t)", cfg.Storage.Bucket, cfg.Storage.Checksum)

	opts := []usecase.Option{}
	if cfg.Notify.Telegram.Enabled() {
		tg, err := notifier.NewTelegram(&cfg.Notify.Telegram)
		if err != nil {
			log.Errorf("Failed to initialize Telegram: %v", err)
		} else {
			opts = append(opts, usecase.WithNotifier(tg))
			log.Infof("✓ Telegram notifications enabled")
		}
	}

	backupUC := usecase.NewBackup(dumper, s3Storage, workspace, cfg.Backup, log.Named("backup"), opts...)

	return newApp(cfg, log, backupUC), nil
}

func newApp(cfg *config.Config, log *logger.Logger, runner Runner) *App {
	return &App{
		config: cfg,
		logger: log,
		scheduler: scheduler.New(
			log.Named("scheduler"),
			scheduler.WithSkipIfRunning(cfg.Schedule.SkipIfRunning),
		),
		backup: runner,
	}
}

// Run executes the configured modes. A failed startup or single-shot run is
// returned as an error; failures of scheduled runs are only logged.
func (a *App) Run(ctx context.Context) error {
	sched := a.config.Schedule

	if sched.RunOnStartup || sched.SingleShot {
		a.logger.Infof("Running on start backup...")

		if _, err := a.backup.RunOnce(ctx); err != nil {
			return fmt.Errorf("startup backup: %w", err)
		}

		if sched.SingleShot {
			a.logger.Infof("Database backup complete, exiting...")
			return nil
		}
	}

	spec := sched.Cron
	if spec == "" {
		spec = config.DefaultSchedule
	}

	if err := a.scheduler.AddJob(spec, "backup", a.backup.Execute); err != nil {
		return fmt.Errorf("failed to schedule backup: %w", err)
	}

	a.scheduler.Start()
	a.logger.Infof("Backup cron scheduled: %s", spec)

	<-ctx.Done()
	return nil
}

func (a *App) Shutdown() {
	a.logger.Infof("Shutting down application...")
	a.scheduler.Stop()
	a.logger.Close()
}
