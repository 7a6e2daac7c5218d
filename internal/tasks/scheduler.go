// Package tasks runs stackctl jobs on cron schedules.
package tasks

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/osa911/stackctl/internal/logging"
)

// Job is a unit of scheduled work.
type Job func(ctx context.Context) error

// Scheduler runs named jobs on standard five-field cron specs (descriptors
// such as @daily are accepted too). A job still running when its next tick
// arrives is skipped.
type Scheduler struct {
	cron    *cron.Cron
	logger  *logging.Logger
	mu      sync.Mutex
	entries map[string]cron.EntryID
	running bool
}

// cronLogger adapts the stackctl logger to cron.Logger.
type cronLogger struct {
	logger *logging.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: %s %v", msg, keysAndValues)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: %s: %v %v", msg, err, keysAndValues)
}

// NewScheduler creates a stopped scheduler.
func NewScheduler() *Scheduler {
	logger := logging.GetGlobalLogger()
	cl := cronLogger{logger: logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger:  logger,
		entries: map[string]cron.EntryID{},
	}
}

// Add registers job under name. An empty spec leaves the job unscheduled.
func (s *Scheduler) Add(ctx context.Context, name, spec string, job Job) error {
	if spec == "" {
		s.logger.Info("No schedule configured for %s, skipping", name)
		return nil
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid cron schedule %q for %s: %w", spec, name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[name]; exists {
		return fmt.Errorf("job %s is already scheduled", name)
	}

	id, err := s.cron.AddFunc(spec, func() { s.run(ctx, name, job) })
	if err != nil {
		return fmt.Errorf("failed to schedule %s: %w", name, err)
	}
	s.entries[name] = id
	s.logger.Info("Scheduled %s (%s)", name, spec)
	return nil
}

func (s *Scheduler) run(ctx context.Context, name string, job Job) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	s.logger.Info("Running scheduled %s", name)
	if err := job(ctx); err != nil {
		s.logger.Error("Scheduled %s failed after %s: %v", name, time.Since(start).Round(time.Millisecond), err)
		return
	}
	s.logger.Info("Scheduled %s finished in %s", name, time.Since(start).Round(time.Millisecond))
}

// Len returns the number of scheduled jobs.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// NextRuns returns the next activation of every job, keyed by name.
func (s *Scheduler) NextRuns() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]time.Time, len(s.entries))
	for name, id := range s.entries {
		entry := s.cron.Entry(id)
		if !entry.Next.IsZero() {
			out[name] = entry.Next
		} else if entry.Schedule != nil {
			out[name] = entry.Schedule.Next(time.Now())
		}
	}
	return out
}

// Names returns the scheduled job names, sorted.
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run starts the scheduler and blocks until ctx is done, then waits for
// running jobs to finish.
func (s *Scheduler) Run(ctx context.Context) {
	s.mu.Lock()
	s.cron.Start()
	s.running = true
	s.mu.Unlock()

	<-ctx.Done()
	s.Stop()
}

// Stop stops the scheduler and waits for any running jobs to complete.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.logger.Info("Stopping scheduler, waiting for running jobs")
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info("Scheduler stopped")
}
