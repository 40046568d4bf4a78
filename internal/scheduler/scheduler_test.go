package scheduler

import (
	"log/slog"
	"testing"
	"time"

	"github.com/cortexhub/cortex-toolrunner/internal/task"
)

func TestNew(t *testing.T) {
	m := task.NewManager(time.Hour, nil, slog.Default())
	s, err := New(m, "@every 10m", slog.Default())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if s == nil {
		t.Fatal("Expected non-nil scheduler")
	}
}

func TestNewInvalidSchedule(t *testing.T) {
	m := task.NewManager(time.Hour, nil, slog.Default())
	if _, err := New(m, "not a schedule", slog.Default()); err == nil {
		t.Error("Expected error for invalid cron spec")
	}
}

func TestStartStop(t *testing.T) {
	m := task.NewManager(time.Hour, nil, slog.Default())
	s, err := New(m, "@every 1h", slog.Default())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	s.Start()
	s.Stop()
}
