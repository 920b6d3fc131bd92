package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/semmidev/snapvault/internal/config"
)

type Logger interface {
	Infof(template string, args ...interface{})
	Errorf(template string, args ...interface{})
	Warnf(template string, args ...interface{})
}

type Job func(ctx context.Context) error

type Scheduler struct {
	cron   *cron.Cron
	logger Logger
	ctx    context.Context
	cancel context.CancelFunc
}

type Option func(*options)

type options struct {
	skipIfRunning bool
}

// WithSkipIfRunning drops a trigger while the previous run of the same job
// is still in progress.
func WithSkipIfRunning(skip bool) Option {
	return func(o *options) { o.skipIfRunning = skip }
}

func New(logger Logger, opts ...Option) *Scheduler {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	cronLogger := cronLogAdapter{logger}
	wrappers := []cron.JobWrapper{cron.Recover(cronLogger)}
	if o.skipIfRunning {
		wrappers = append(wrappers, cron.SkipIfStillRunning(cronLogger))
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(cronParser{}),
			cron.WithChain(wrappers...),
			cron.WithLogger(cronLogger),
		),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// AddJob registers job under spec. A failing run is logged and the next
// trigger still fires.
func (s *Scheduler) AddJob(spec, name string, job Job) error {
	_, err := s.cron.AddFunc(spec, func() {
		s.trigger(name, job)
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return nil
}

func (s *Scheduler) trigger(name string, job Job) {
	s.logger.Infof("Triggered scheduled %s", name)
	if err := job(s.ctx); err != nil {
		s.logger.Errorf("Scheduled %s failed, waiting for next trigger: %v", name, err)
		return
	}
	s.logger.Infof("Scheduled %s finished", name)
}

// Entries reports the registered jobs.
func (s *Scheduler) Entries() []cron.Entry {
	return s.cron.Entries()
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels the context handed to running jobs and waits for them to
// return.
func (s *Scheduler) Stop() {
	s.cancel()
	ctx := s.cron.Stop()
	<-ctx.Done()
}

type cronParser struct{}

func (cronParser) Parse(spec string) (cron.Schedule, error) {
	return config.ParseSchedule(spec)
}

type cronLogAdapter struct {
	logger Logger
}

// Info only forwards skipped triggers; cron's own wake/run chatter is dropped.
func (a cronLogAdapter) Info(msg string, keysAndValues ...interface{}) {
	if msg == "skip" {
		a.logger.Warnf("Previous run still in progress, skipping trigger")
	}
}

func (a cronLogAdapter) Error(err error, msg string, keysAndValues ...interface{}) {
	a.logger.Errorf("cron: %s: %v %v", msg, err, keysAndValues)
}
