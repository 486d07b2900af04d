// Package scheduler runs backups on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"db-backup-utility/internal/logging"

	"github.com/robfig/cron/v3"
)

// Job is one scheduled backup run
type Job func(ctx context.Context) error

// Scheduler handles cron scheduling for backups. A run that is still in
// progress when the next tick fires causes that tick to be skipped.
type Scheduler struct {
	cron    *cron.Cron
	logger  *logging.Logger
	entryID cron.EntryID
	spec    string

	mu     sync.Mutex
	ctx    context.Context
	runs   int
	failed int
}

// New parses spec (standard five-field cron or a descriptor such as
// "@every 1h") and schedules job.
func New(spec string, job Job, logger *logging.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("invalid cron expression '%s': %w", spec, err)
	}

	cl := cronLogger{logger: logger}
	s := &Scheduler{
		cron:   cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		logger: logger,
		spec:   spec,
		ctx:    context.Background(),
	}

	id, err := s.cron.AddFunc(spec, func() { s.run(job) })
	if err != nil {
		return nil, fmt.Errorf("failed to schedule backup with cron expression '%s': %w", spec, err)
	}
	s.entryID = id
	return s, nil
}

func (s *Scheduler) run(job Job) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	start := time.Now()
	s.logger.WithField("schedule", s.spec).Info("Starting scheduled backup")
	err := job(ctx)

	s.mu.Lock()
	s.runs++
	if err != nil {
		s.failed++
	}
	s.mu.Unlock()

	fields := map[string]interface{}{
		"schedule": s.spec,
		"duration": time.Since(start).String(),
	}
	if err != nil {
		fields["error"] = err.Error()
		s.logger.WithFields(fields).Error("Scheduled backup failed")
		return
	}
	s.logger.WithFields(fields).Info("Scheduled backup completed")
}

// Next returns the time of the next scheduled run
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entryID).Schedule.Next(time.Now())
}

// Stats returns how many runs completed and how many of them failed
func (s *Scheduler) Stats() (runs, failed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs, s.failed
}

// Run starts the schedule and blocks until ctx is done, then waits for a
// run in progress to finish.
func (s *Scheduler) Run(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.cron.Start()
	s.logger.WithFields(map[string]interface{}{
		"schedule": s.spec,
		"next_run": s.Next().Format(time.RFC3339),
	}).Info("Backup scheduler started")

	<-ctx.Done()

	stopped := s.cron.Stop()
	<-stopped.Done()
	s.logger.Info("Backup scheduler stopped")
}

// cronLogger routes cron's own messages to the application logger
type cronLogger struct {
	logger *logging.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(pairs(keysAndValues)).Debug("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	fields := pairs(keysAndValues)
	fields["error"] = err.Error()
	l.logger.WithFields(fields).Error("cron: " + msg)
}

func pairs(keysAndValues []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(keysAndValues)/2+1)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}
