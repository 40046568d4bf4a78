package scheduler

import (
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/cortexhub/cortex-toolrunner/internal/task"
)

// Scheduler runs periodic maintenance, currently the task TTL sweep.
type Scheduler struct {
	cron    *cron.Cron
	manager *task.Manager
	logger  *slog.Logger
}

// New creates a scheduler sweeping expired tasks on the given cron spec
// (e.g. "@every 10m").
func New(manager *task.Manager, schedule string, logger *slog.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron:    cron.New(),
		manager: manager,
		logger:  logger,
	}
	if _, err := s.cron.AddFunc(schedule, s.sweep); err != nil {
		return nil, err
	}
	return s, nil
}

// Start starts the scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Scheduler) sweep() {
	removed := s.manager.Sweep()
	s.logger.Debug("sweep complete", "removed", removed)
}
