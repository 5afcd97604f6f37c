package queue

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	TaskFanout    = "fanout"
	TaskReconcile = "reconcile"
)

// Task is one stream entry. RecordID is empty for reconcile tasks.
type Task struct {
	Type     string
	RecordID string
}

func (t Task) values() map[string]any {
	values := map[string]any{"type": t.Type}
	if t.RecordID != "" {
		values["recordId"] = t.RecordID
	}
	return values
}

// DecodeTask reads a Task back out of a stream message.
func DecodeTask(msg redis.XMessage) (Task, error) {
	taskType, ok := msg.Values["type"].(string)
	if !ok || taskType == "" {
		return Task{}, fmt.Errorf("message %s: missing type", msg.ID)
	}
	recordID, _ := msg.Values["recordId"].(string)
	return Task{Type: taskType, RecordID: recordID}, nil
}

type Producer struct {
	client *redis.Client
	stream string
}

func NewProducer(client *redis.Client, stream string) *Producer {
	return &Producer{client: client, stream: stream}
}

func (p *Producer) Enqueue(ctx context.Context, task Task) (string, error) {
	id, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: task.values(),
	}).Result()
	if err != nil {
		return "", fmt.Errorf("enqueue %s task: %w", task.Type, err)
	}
	return id, nil
}
