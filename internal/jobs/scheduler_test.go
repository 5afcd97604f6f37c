package jobs

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"facetag/internal/queue"
)

type fakeQueue struct {
	tasks []queue.Task
}

func (f *fakeQueue) Enqueue(_ context.Context, task queue.Task) (string, error) {
	f.tasks = append(f.tasks, task)
	return "1-0", nil
}

func TestEnqueueReconcile(t *testing.T) {
	q := &fakeQueue{}
	s := NewScheduler(q, "0 */10 * * * *", zerolog.Nop())

	s.enqueueReconcile()

	if len(q.tasks) != 1 || q.tasks[0].Type != queue.TaskReconcile {
		t.Fatalf("tasks = %+v", q.tasks)
	}
}

func TestStartRejectsBadSpec(t *testing.T) {
	s := NewScheduler(&fakeQueue{}, "every now and then", zerolog.Nop())
	if err := s.Start(); err == nil {
		t.Fatal("expected error for invalid cron spec")
	}
}

func TestStartAndStop(t *testing.T) {
	s := NewScheduler(&fakeQueue{}, "0 */10 * * * *", zerolog.Nop())
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-s.Stop().Done()
}
