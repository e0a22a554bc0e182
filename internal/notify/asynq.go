package notify

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
)

// TaskTypeDeliver is the asynq task carrying an Event to the worker.
const TaskTypeDeliver = "notify:deliver"

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// AsynqNotifier hands events to the background worker.
type AsynqNotifier struct {
	client Enqueuer
	queue  string
}

// NewAsynqNotifier builds the notifier.
func NewAsynqNotifier(client Enqueuer, queue string) *AsynqNotifier {
	return &AsynqNotifier{client: client, queue: queue}
}

// NewDeliverTask wraps event in an asynq task.
func NewDeliverTask(event Event) (*asynq.Task, error) {
	data, err := event.Marshal()
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeDeliver, data, asynq.MaxRetry(5)), nil
}

func (n *AsynqNotifier) Notify(ctx context.Context, event Event) error {
	task, err := NewDeliverTask(event)
	if err != nil {
		return fmt.Errorf("notify: encode event: %w", err)
	}
	opts := []asynq.Option{asynq.TaskID(event.ID)}
	if n.queue != "" {
		opts = append(opts, asynq.Queue(n.queue))
	}
	if _, err := n.client.EnqueueContext(ctx, task, opts...); err != nil {
		return fmt.Errorf("notify: enqueue %s: %w", event.Type, err)
	}
	return nil
}

// DeliverHandler returns the worker handler that forwards queued events to sink.
func DeliverHandler(sink Notifier) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		event, err := Unmarshal(t.Payload())
		if err != nil {
			return fmt.Errorf("notify: decode task: %v: %w", err, asynq.SkipRetry)
		}
		return sink.Notify(ctx, event)
	}
}
