// Package scheduler decides when cycles run. It supports a cron
// expression for windowed operation and a plain repeat interval for
// continuous operation. Jobs never overlap: a tick that arrives while
// the previous run is still going is skipped.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/marcus/groundskeeper/internal/config"
	"github.com/marcus/groundskeeper/internal/logging"
)

var (
	// ErrNotRunning is returned by Stop when the scheduler was never
	// started.
	ErrNotRunning = errors.New("scheduler not running")

	// ErrAlreadyRunning is returned by Start on a running scheduler.
	ErrAlreadyRunning = errors.New("scheduler already running")

	// ErrNoJob is returned by Start when no job was added.
	ErrNoJob = errors.New("no job added")
)

// Job is the unit of scheduled work.
type Job func(ctx context.Context) error

// Scheduler triggers the registered job on a cron or interval schedule.
type Scheduler struct {
	cronExpr string
	interval time.Duration

	mu      sync.Mutex
	job     Job
	running bool
	busy    bool
	cron    *cron.Cron
	entryID cron.EntryID
	stop    chan struct{}
	nextRun time.Time

	log *logging.Logger
}

// NewFromConfig builds a scheduler from the daemon config: the cron
// expression wins when set, otherwise the loop interval is used.
func NewFromConfig(cfg *config.DaemonConfig) (*Scheduler, error) {
	s := &Scheduler{
		cronExpr: cfg.Cron,
		interval: time.Duration(cfg.LoopIntervalMs) * time.Millisecond,
		log:      logging.Component("scheduler"),
	}

	if s.cronExpr != "" {
		if _, err := cron.ParseStandard(s.cronExpr); err != nil {
			return nil, fmt.Errorf("invalid cron expression %q: %w", s.cronExpr, err)
		}
	} else if s.interval <= 0 {
		return nil, config.ErrInvalidLoopInterval
	}

	return s, nil
}

// AddJob registers the job to run on each tick. Later calls replace
// the job.
func (s *Scheduler) AddJob(job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.job = job
}

// Start begins triggering the job. Returns once scheduling is armed;
// job runs happen on background goroutines until Stop or ctx
// cancellation.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyRunning
	}
	if s.job == nil {
		return ErrNoJob
	}

	s.stop = make(chan struct{})
	s.running = true

	if s.cronExpr != "" {
		s.cron = cron.New()
		id, err := s.cron.AddFunc(s.cronExpr, func() { s.runJob(ctx) })
		if err != nil {
			s.running = false
			return fmt.Errorf("invalid cron expression %q: %w", s.cronExpr, err)
		}
		s.entryID = id
		s.cron.Start()
		s.log.Infof("cron schedule armed: %s", s.cronExpr)
		return nil
	}

	go s.intervalLoop(ctx)
	s.log.Infof("interval schedule armed: every %v", s.interval)
	return nil
}

func (s *Scheduler) intervalLoop(ctx context.Context) {
	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	s.setNextRun(time.Now().Add(s.interval))

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-timer.C:
			s.runJob(ctx)
			s.setNextRun(time.Now().Add(s.interval))
			timer.Reset(s.interval)
		}
	}
}

// runJob executes the job unless one is still in flight.
func (s *Scheduler) runJob(ctx context.Context) {
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		s.log.Warn("previous run still in progress, skipping tick")
		return
	}
	s.busy = true
	job := s.job
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.busy = false
		s.mu.Unlock()
	}()

	if err := job(ctx); err != nil {
		s.log.Errorf("scheduled run failed: %v", err)
	}
}

// Stop halts future triggers. In-flight runs are allowed to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return ErrNotRunning
	}
	s.running = false

	if s.cron != nil {
		s.cron.Stop()
		s.cron = nil
	}
	close(s.stop)
	return nil
}

// NextRun reports when the next trigger is due. Zero when stopped.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return time.Time{}
	}
	if s.cron != nil {
		return s.cron.Entry(s.entryID).Next
	}
	return s.nextRun
}

// Running reports whether the scheduler has been started and not yet
// stopped.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) setNextRun(t time.Time) {
	s.mu.Lock()
	s.nextRun = t
	s.mu.Unlock()
}
