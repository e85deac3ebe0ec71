package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marcus/groundskeeper/internal/config"
)

func TestNewFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.DaemonConfig
		wantErr bool
	}{
		{"interval only", config.DaemonConfig{LoopIntervalMs: 1000}, false},
		{"valid cron", config.DaemonConfig{Cron: "*/5 * * * *"}, false},
		{"invalid cron", config.DaemonConfig{Cron: "not a cron"}, true},
		{"zero interval no cron", config.DaemonConfig{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFromConfig(&tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestStartWithoutJob(t *testing.T) {
	s, err := NewFromConfig(&config.DaemonConfig{LoopIntervalMs: 1000})
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrNoJob) {
		t.Errorf("Start without job = %v, want ErrNoJob", err)
	}
}

func TestStopWithoutStart(t *testing.T) {
	s, _ := NewFromConfig(&config.DaemonConfig{LoopIntervalMs: 1000})
	if err := s.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Stop = %v, want ErrNotRunning", err)
	}
}

func TestIntervalSchedulerRunsJob(t *testing.T) {
	s, err := NewFromConfig(&config.DaemonConfig{LoopIntervalMs: 10})
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}

	var runs atomic.Int32
	s.AddJob(func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	deadline := time.After(2 * time.Second)
	for runs.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("only %d runs before deadline", runs.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestDoubleStart(t *testing.T) {
	s, _ := NewFromConfig(&config.DaemonConfig{LoopIntervalMs: 60000})
	s.AddJob(func(ctx context.Context) error { return nil })

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	defer s.Stop()

	if err := s.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start = %v, want ErrAlreadyRunning", err)
	}
}

func TestNextRun(t *testing.T) {
	s, _ := NewFromConfig(&config.DaemonConfig{LoopIntervalMs: 60000})
	s.AddJob(func(ctx context.Context) error { return nil })

	if !s.NextRun().IsZero() {
		t.Error("NextRun should be zero before Start")
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	// The interval loop arms nextRun asynchronously.
	deadline := time.After(time.Second)
	for s.NextRun().IsZero() {
		select {
		case <-deadline:
			t.Fatal("NextRun never armed")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if until := time.Until(s.NextRun()); until > time.Minute {
		t.Errorf("NextRun too far out: %v", until)
	}
}

func TestStopHaltsTriggers(t *testing.T) {
	s, _ := NewFromConfig(&config.DaemonConfig{LoopIntervalMs: 10})

	var runs atomic.Int32
	s.AddJob(func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Let at least one tick land, then stop.
	time.Sleep(50 * time.Millisecond)
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	settled := runs.Load()
	time.Sleep(50 * time.Millisecond)
	if runs.Load() != settled {
		t.Errorf("job ran after Stop: %d -> %d", settled, runs.Load())
	}
	if s.Running() {
		t.Error("Running() should be false after Stop")
	}
}
