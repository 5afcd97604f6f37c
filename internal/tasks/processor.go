package tasks

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"facetag/internal/queue"
)

type Fanouter interface {
	Apply(ctx context.Context, recordID string) error
	Reconcile(ctx context.Context) (int, error)
}

// Processor dispatches stream messages to the fanout service. A returned
// error leaves the message pending for redelivery.
type Processor struct {
	fanout Fanouter
	logger zerolog.Logger
}

func NewProcessor(fanout Fanouter, logger zerolog.Logger) *Processor {
	return &Processor{
		fanout: fanout,
		logger: logger,
	}
}

func (p *Processor) Handle(ctx context.Context, msg redis.XMessage) error {
	task, err := queue.DecodeTask(msg)
	if err != nil {
		p.logger.Warn().Err(err).Str("message_id", msg.ID).Msg("malformed task dropped")
		return nil
	}

	switch task.Type {
	case queue.TaskFanout:
		return p.handleFanout(ctx, msg.ID, task)
	case queue.TaskReconcile:
		return p.handleReconcile(ctx)
	default:
		p.logger.Warn().Str("type", task.Type).Msg("unknown task type")
		return nil
	}
}

func (p *Processor) handleFanout(ctx context.Context, messageID string, task queue.Task) error {
	if task.RecordID == "" {
		p.logger.Warn().Str("message_id", messageID).Msg("fanout task without record id dropped")
		return nil
	}
	if err := p.fanout.Apply(ctx, task.RecordID); err != nil {
		return fmt.Errorf("fanout %s: %w", task.RecordID, err)
	}
	return nil
}

func (p *Processor) handleReconcile(ctx context.Context) error {
	if _, err := p.fanout.Reconcile(ctx); err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	return nil
}
