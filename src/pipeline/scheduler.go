package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	logger "github.com/sirupsen/logrus"
)

// Job is one periodic task. It gets a context bounded by the job timeout.
type Job func(ctx context.Context) error

// Scheduler runs the periodic jobs of a session: catalog refresh, price
// polling and order reconciliation. A run is skipped while the previous one of
// the same job is still going.
type Scheduler struct {
	Log *logger.Entry

	cron    *cron.Cron
	ctx     context.Context
	timeout time.Duration
}

func NewScheduler(ctx context.Context, timeout time.Duration) *Scheduler {
	log := logger.WithField("component", "scheduler")
	cl := cron.PrintfLogger(log)
	return &Scheduler{
		Log:     log,
		cron:    cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		ctx:     ctx,
		timeout: timeout,
	}
}

// Add registers job under a cron schedule such as "@every 10m".
func (s *Scheduler) Add(name, schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() { s.run(name, job) })
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, schedule, err)
	}
	s.Log.WithFields(map[string]interface{}{"job": name, "schedule": schedule}).Info("job scheduled")
	return nil
}

func (s *Scheduler) run(name string, job Job) {
	ctx := s.ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	start := time.Now()
	if err := job(ctx); err != nil {
		s.Log.WithError(err).WithField("job", name).Warn("job failed")
		return
	}
	s.Log.WithFields(map[string]interface{}{"job": name, "took": time.Since(start).String()}).Debug("job done")
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
