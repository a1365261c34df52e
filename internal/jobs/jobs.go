// Package jobs runs the periodic snapshot, plugin census and retention tasks in process.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/woozymasta/lmstats/internal/config"
)

// Job names, also used as metric labels.
const (
	JobSnapshot = "snapshot"
	JobPlugins  = "plugins"
	JobCleanup  = "cleanup"
	JobGeoIP    = "geoip"
)

// Tasks are the maintenance operations a scheduler can run.
type Tasks interface {
	WriteSnapshot(ctx context.Context) (string, error)
	RefreshPluginCounts(ctx context.Context) (int, error)
	Cleanup(ctx context.Context) (int64, error)
}

// Recorder counts job runs.
type Recorder interface {
	JobRun(job string, err error)
}

// Job is one scheduled task.
type Job struct {
	Run      func(ctx context.Context) error
	Name     string
	Schedule string
}

// Standard returns the snapshot, plugin refresh and cleanup jobs on the schedules of cfg.
func Standard(cfg config.Jobs, tasks Tasks) []Job {
	return []Job{
		{
			Name:     JobSnapshot,
			Schedule: cfg.Snapshot,
			Run: func(ctx context.Context) error {
				_, err := tasks.WriteSnapshot(ctx)
				return err
			},
		},
		{
			Name:     JobPlugins,
			Schedule: cfg.Plugins,
			Run: func(ctx context.Context) error {
				_, err := tasks.RefreshPluginCounts(ctx)
				return err
			},
		},
		{
			Name:     JobCleanup,
			Schedule: cfg.Cleanup,
			Run: func(ctx context.Context) error {
				_, err := tasks.Cleanup(ctx)
				return err
			},
		},
	}
}

// Scheduler runs jobs on cron schedules in UTC. A job never overlaps itself.
type Scheduler struct {
	cron     *cron.Cron
	recorder Recorder
	ctx      context.Context
	cancel   context.CancelFunc
}

// New creates a stopped scheduler. recorder may be nil.
func New(recorder Recorder) *Scheduler {
	logger := cronLogger{log.Logger.With().Str("component", "jobs").Logger()}
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		recorder: recorder,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Add registers job. An empty schedule disables it.
func (s *Scheduler) Add(job Job) error {
	if job.Schedule == "" {
		log.Info().Str("job", job.Name).Msg("Job disabled")
		return nil
	}

	if _, err := s.cron.AddFunc(job.Schedule, func() { s.run(job) }); err != nil {
		return fmt.Errorf("schedule job %s (%q): %w", job.Name, job.Schedule, err)
	}

	log.Info().
		Str("job", job.Name).
		Str("schedule", job.Schedule).
		Msg("Job scheduled")

	return nil
}

// Start runs the scheduler in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop prevents new runs, cancels running ones and waits for them or for ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	s.cancel()

	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) run(job Job) {
	start := time.Now()
	err := job.Run(s.ctx)

	if s.recorder != nil {
		s.recorder.JobRun(job.Name, err)
	}

	if err != nil {
		log.Error().
			Err(err).
			Str("job", job.Name).
			Dur("took", time.Since(start)).
			Msg("Job failed")
		return
	}

	log.Debug().
		Str("job", job.Name).
		Dur("took", time.Since(start)).
		Msg("Job finished")
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	l zerolog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Trace().Fields(keysAndValues).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
