package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"facetag/internal/queue"
)

type TaskQueue interface {
	Enqueue(ctx context.Context, task queue.Task) (string, error)
}

// Scheduler periodically asks the worker to reconcile pending detection
// records. The reconcile itself runs as a stream task.
type Scheduler struct {
	cron  *cron.Cron
	queue TaskQueue
	spec  string
	log   zerolog.Logger
}

func NewScheduler(tasks TaskQueue, spec string, log zerolog.Logger) *Scheduler {
	c := cron.New(cron.WithSeconds())
	return &Scheduler{
		cron:  c,
		queue: tasks,
		spec:  spec,
		log:   log,
	}
}

func (s *Scheduler) Start() error {
	if s.queue == nil || s.spec == "" {
		return nil
	}

	if _, err := s.cron.AddFunc(s.spec, s.enqueueReconcile); err != nil {
		return err
	}

	s.cron.Start()
	s.log.Info().Str("spec", s.spec).Msg("reconcile schedule started")
	return nil
}

// Stop halts the schedule and returns a context that is done once a running
// job has returned.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) enqueueReconcile() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := s.queue.Enqueue(ctx, queue.Task{Type: queue.TaskReconcile}); err != nil {
		s.log.Error().Err(err).Msg("enqueue reconcile failed")
	}
}
