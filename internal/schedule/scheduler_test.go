package schedule

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func noopRun(context.Context, time.Time) bool { return true }

func TestDisabledRegistersNoTrigger(t *testing.T) {
	s, err := New(Config{Enabled: false, Hour: 7, Minute: 30, Location: time.UTC}, noopRun)
	if err != nil {
		t.Fatal(err)
	}
	s.Start()
	defer s.Stop()

	if !s.Running() {
		t.Error("disabled scheduler should still start")
	}
	if _, ok := s.NextRun(); ok {
		t.Error("disabled scheduler reported a next run")
	}
	if st := s.Status(); st.JobsCount != 0 || st.Enabled {
		t.Errorf("status = %+v, want no jobs and enabled=false", st)
	}
}

func TestNextRunMatchesConfiguredTime(t *testing.T) {
	s, err := New(Config{Enabled: true, Hour: 7, Minute: 30, Location: time.UTC}, noopRun)
	if err != nil {
		t.Fatal(err)
	}
	s.Start()
	defer s.Stop()

	next, ok := s.NextRun()
	if !ok {
		t.Fatal("no next run reported")
	}
	if next.Hour() != 7 || next.Minute() != 30 {
		t.Errorf("next run at %v, want 07:30", next)
	}
	if !next.After(time.Now().Add(-time.Minute)) {
		t.Errorf("next run %v is in the past", next)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	s, err := New(Config{Enabled: true, Hour: 7, Minute: 30, Location: time.UTC}, noopRun)
	if err != nil {
		t.Fatal(err)
	}
	s.Start()
	s.Stop()
	s.Stop() // must be a no-op

	if s.Running() {
		t.Error("scheduler still running after Stop")
	}
	if _, ok := s.NextRun(); ok {
		t.Error("stopped scheduler reported a next run")
	}
}

func TestStartIsIdempotent(t *testing.T) {
	s, err := New(Config{Enabled: true, Hour: 7, Minute: 30, Location: time.UTC}, noopRun)
	if err != nil {
		t.Fatal(err)
	}
	s.Start()
	s.Start()
	defer s.Stop()

	if !s.Running() {
		t.Error("scheduler not running after Start")
	}
}

func TestRunNowRejectedWhileRunInProgress(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})

	var startedOnce sync.Once
	run := func(context.Context, time.Time) bool {
		startedOnce.Do(func() { close(started) })
		<-release
		return true
	}

	s, err := New(Config{Enabled: true, Hour: 7, Minute: 30, Location: time.UTC}, run)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ok, err := s.RunNow(context.Background(), time.Time{})
		if err != nil || !ok {
			t.Errorf("first RunNow: ok=%t err=%v", ok, err)
		}
	}()

	<-started
	if _, err := s.RunNow(context.Background(), time.Time{}); !errors.Is(err, ErrRunInProgress) {
		t.Errorf("second RunNow error = %v, want ErrRunInProgress", err)
	}

	close(release)
	wg.Wait()

	// Guard released: a new run is accepted again.
	if ok, err := s.RunNow(context.Background(), time.Time{}); err != nil || !ok {
		t.Errorf("RunNow after release: ok=%t err=%v", ok, err)
	}
}

func TestFireDroppedWhileRunInProgress(t *testing.T) {
	var active, maxActive int64
	release := make(chan struct{})
	started := make(chan struct{})

	run := func(context.Context, time.Time) bool {
		cur := atomic.AddInt64(&active, 1)
		for {
			prev := atomic.LoadInt64(&maxActive)
			if cur <= prev || atomic.CompareAndSwapInt64(&maxActive, prev, cur) {
				break
			}
		}
		close(started)
		<-release
		atomic.AddInt64(&active, -1)
		return true
	}

	s, err := New(Config{Enabled: true, Hour: 7, Minute: 30, Location: time.UTC}, run)
	if err != nil {
		t.Fatal(err)
	}

	go s.fire()
	<-started

	// A second fire while the first is active must be dropped, not queued.
	done := make(chan struct{})
	go func() {
		s.fire()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("overlapping fire blocked instead of being dropped")
	}

	close(release)

	if atomic.LoadInt64(&maxActive) != 1 {
		t.Errorf("max concurrent runs = %d, want 1", maxActive)
	}
}

func TestStatusSnapshot(t *testing.T) {
	s, err := New(Config{Enabled: true, Hour: 23, Minute: 59, Location: time.UTC}, noopRun)
	if err != nil {
		t.Fatal(err)
	}
	s.Start()
	defer s.Stop()

	st := s.Status()
	if !st.Running || !st.Enabled {
		t.Errorf("status = %+v, want running and enabled", st)
	}
	if st.ScheduledTime != "23:59" {
		t.Errorf("ScheduledTime = %q", st.ScheduledTime)
	}
	if st.Timezone != "UTC" {
		t.Errorf("Timezone = %q", st.Timezone)
	}
	if st.JobsCount != 1 {
		t.Errorf("JobsCount = %d, want 1", st.JobsCount)
	}
	if st.NextRunTime == "" {
		t.Error("NextRunTime empty while running")
	}
}
