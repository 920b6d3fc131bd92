package usecase

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/semmidev/snapvault/internal/config"
	"github.com/semmidev/snapvault/internal/domain"
)

type Logger interface {
	Infof(template string, args ...interface{})
	Errorf(template string, args ...interface{})
	Warnf(template string, args ...interface{})
}

type State string

const (
	StateIdle       State = "idle"
	StateDumping    State = "dumping"
	StateUploading  State = "uploading"
	StateCleaningUp State = "cleaning-up"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// Backup runs the dump, upload and cleanup sequence. Each call to RunOnce is
// independent; nothing is carried from one run to the next.
type Backup struct {
	dumper    domain.Dumper
	storage   domain.Storage
	workspace domain.Workspace
	notifier  domain.Notifier
	logger    Logger
	identity  config.BackupConfig
	now       func() time.Time
}

type Option func(*Backup)

func WithNotifier(n domain.Notifier) Option {
	return func(b *Backup) { b.notifier = n }
}

func WithClock(now func() time.Time) Option {
	return func(b *Backup) { b.now = now }
}

func NewBackup(
	dumper domain.Dumper,
	storage domain.Storage,
	workspace domain.Workspace,
	identity config.BackupConfig,
	logger Logger,
	opts ...Option,
) *Backup {
	uc := &Backup{
		dumper:    dumper,
		storage:   storage,
		workspace: workspace,
		logger:    logger,
		identity:  identity,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

// Execute adapts RunOnce to the scheduler's job signature.
func (uc *Backup) Execute(ctx context.Context) error {
	_, err := uc.RunOnce(ctx)
	return err
}

// RunOnce performs exactly one dump, one upload and one cleanup. A failed
// stage is returned as *domain.RunError; a cleanup failure is only recorded
// on the outcome.
func (uc *Backup) RunOnce(ctx context.Context) (domain.Outcome, error) {
	start := uc.now()
	uc.logger.Infof("Initiating DB backup...")

	outcome := uc.run(ctx)
	outcome.Duration = uc.now().Sub(start)

	if outcome.Failed() {
		uc.logger.Errorf("Error while running backup: %v", outcome.Err)
	} else {
		uc.logger.Infof("DB backup complete in %s: %s", outcome.Duration.Round(time.Second), outcome.Upload.Key)
	}

	if uc.notifier != nil {
		if err := uc.notifier.Notify(ctx, outcome); err != nil {
			uc.logger.Warnf("Failed to send backup notification: %v", err)
		}
	}

	return outcome, outcome.Err
}

func (uc *Backup) run(ctx context.Context) (outcome domain.Outcome) {
	state := StateIdle
	enter := func(next State) {
		uc.logger.Infof("Backup state: %s -> %s", state, next)
		state = next
	}
	fail := func(stage domain.Stage, err error) domain.Outcome {
		enter(StateFailed)
		outcome.Err = &domain.RunError{Stage: stage, Err: err}
		return outcome
	}

	id, err := domain.NewIdentity(uc.identity.Project, uc.identity.Environment, uc.identity.Frequency, uc.now())
	if err != nil {
		return fail(domain.StageResolve, err)
	}
	outcome.Identity = id

	uc.logger.Infof("Environment: %s", id.Environment)
	uc.logger.Infof("Project: %s", id.Project)
	uc.logger.Infof("Frequency: %s", id.Frequency)

	filename := id.Filename()
	path := uc.workspace.GetPath(filename)

	// The artifact is removed whatever the result; the remote copy is the
	// only one that may outlive the run.
	defer func() {
		if state != StateFailed {
			enter(StateCleaningUp)
		}
		uc.logger.Infof("Deleting file %s...", path)
		if err := uc.workspace.Remove(filename); err != nil {
			outcome.CleanupErr = err
			uc.logger.Warnf("Failed to delete local backup file: %v", err)
		}
		if state != StateFailed {
			enter(StateDone)
		}
	}()

	enter(StateDumping)
	uc.logger.Infof("Dumping %s DB to file %s...", uc.dumper.GetType(), path)
	artifact, warnings, err := uc.dumper.Dump(ctx, path)
	if err != nil {
		return fail(domain.StageDump, err)
	}
	outcome.Artifact = artifact
	outcome.Warnings = warnings

	if warnings != "" {
		uc.logger.Warnf("Dump tool output: %s", warnings)
	}
	uc.logger.Infof("Backup archive file is valid, size: %s", humanize.Bytes(uint64(artifact.Size)))
	if warnings != "" {
		uc.logger.Warnf("Potential warnings detected; please ensure the backup file %q contains all needed data", filename)
	}

	enter(StateUploading)
	desc, err := uc.storage.Upload(ctx, artifact, id)
	if err != nil {
		return fail(domain.StageUpload, err)
	}
	outcome.Upload = desc

	return outcome
}
