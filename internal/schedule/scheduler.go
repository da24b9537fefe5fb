package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "calnotify/internal/log"
)

// ErrRunInProgress is returned by RunNow when a run is already active.
// Fires and manual runs share one guard: they are dropped, never queued.
var ErrRunInProgress = errors.New("a daily summary run is already in progress")

// RunFunc executes one daily pipeline run for the given target date
// (zero means today) and reports success.
type RunFunc func(ctx context.Context, targetDate time.Time) bool

// Config carries the trigger settings the scheduler needs.
type Config struct {
	// Enabled, when false, lets the scheduler start without registering
	// a trigger.
	Enabled bool
	// Hour and Minute are the local fire time.
	Hour   int
	Minute int
	// Location is the zone the fire time is evaluated in.
	Location *time.Location
}

// Scheduler fires the daily pipeline at a fixed local time, guaranteeing
// at most one concurrent execution across scheduled and manual triggers.
// It is an owned instance, not a process-wide singleton; whoever needs to
// query or control it gets handed the value.
type Scheduler struct {
	cfg Config
	run RunFunc

	cron    *cron.Cron
	entryID cron.EntryID
	hasJob  bool

	mu      sync.Mutex
	started bool

	// inFlight is held for the duration of one run. TryLock failures are
	// dropped fires, which also coalesces any missed ticks into at most
	// one catch-up execution.
	inFlight sync.Mutex
}

// New builds a scheduler around run. The trigger is registered but not
// started; call Start.
func New(cfg Config, run RunFunc) (*Scheduler, error) {
	if run == nil {
		return nil, errors.New("run function is nil")
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}

	s := &Scheduler{
		cfg:  cfg,
		run:  run,
		cron: cron.New(cron.WithLocation(loc)),
	}

	if cfg.Enabled {
		spec := fmt.Sprintf("%d %d * * *", cfg.Minute, cfg.Hour)
		id, err := s.cron.AddFunc(spec, s.fire)
		if err != nil {
			return nil, fmt.Errorf("registering daily trigger: %w", err)
		}
		s.entryID = id
		s.hasJob = true
		appLog.Info("daily summary job scheduled",
			"time", fmt.Sprintf("%02d:%02d", cfg.Hour, cfg.Minute), "timezone", loc.String())
	} else {
		appLog.Info("daily summary is disabled, no trigger registered")
	}

	return s, nil
}

// Start begins firing the trigger. Starting an already-started scheduler
// is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		appLog.Warn("scheduler is already running")
		return
	}
	s.cron.Start()
	s.started = true
	appLog.Info("scheduler started")
}

// Stop halts the trigger without waiting for an in-flight run. Stopping
// an already-stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.cron.Stop()
	s.started = false
	appLog.Info("scheduler stopped")
}

// Running reports whether the trigger is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// NextRun returns the next scheduled fire time. ok is false when no
// trigger is registered or the scheduler is stopped.
func (s *Scheduler) NextRun() (next time.Time, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasJob || !s.started {
		return time.Time{}, false
	}
	entry := s.cron.Entry(s.entryID)
	if entry.ID == 0 || entry.Next.IsZero() {
		return time.Time{}, false
	}
	return entry.Next, true
}

// RunNow executes the pipeline immediately for targetDate (zero means
// today), bypassing the trigger but honoring the single-flight guard.
func (s *Scheduler) RunNow(ctx context.Context, targetDate time.Time) (bool, error) {
	if !s.inFlight.TryLock() {
		return false, ErrRunInProgress
	}
	defer s.inFlight.Unlock()

	appLog.Info("running manual daily summary")
	return s.run(ctx, targetDate), nil
}

// fire is the cron callback. A fire that arrives while a previous run is
// still in progress is dropped.
func (s *Scheduler) fire() {
	if !s.inFlight.TryLock() {
		appLog.Warn("previous daily summary run still in progress; dropping fire")
		return
	}
	defer s.inFlight.Unlock()

	appLog.Info("daily summary trigger fired")
	if ok := s.run(context.Background(), time.Time{}); ok {
		appLog.Info("daily summary completed successfully")
	} else {
		appLog.Error("daily summary failed", errors.New("run returned failure"))
	}
}

// Status is a point-in-time snapshot of the scheduler, shaped for the
// status CLI command and the admin API.
type Status struct {
	Running       bool   `json:"running"`
	Enabled       bool   `json:"enabled"`
	ScheduledTime string `json:"scheduled_time"`
	Timezone      string `json:"timezone"`
	NextRunTime   string `json:"next_run_time,omitempty"`
	JobsCount     int    `json:"jobs_count"`
}

// Status reports the scheduler's current state.
func (s *Scheduler) Status() Status {
	st := Status{
		Running:       s.Running(),
		Enabled:       s.cfg.Enabled,
		ScheduledTime: fmt.Sprintf("%02d:%02d", s.cfg.Hour, s.cfg.Minute),
		Timezone:      s.cron.Location().String(),
		JobsCount:     len(s.cron.Entries()),
	}
	if next, ok := s.NextRun(); ok {
		st.NextRunTime = next.Format(time.RFC3339)
	}
	return st
}
