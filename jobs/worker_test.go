package jobs

import (
	"context"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopHandler(context.Context, *asynq.Task) error { return nil }

var testRedis = asynq.RedisClientOpt{Addr: "127.0.0.1:0"}

func TestNewWorkerRegistersRoutesInOrder(t *testing.T) {
	w, err := NewWorker(WorkerOptions{
		Redis: testRedis,
		Routes: []Route{
			{Type: TaskReconcile, Handler: noopHandler},
			{Type: TaskIdempotencyCleanup, Handler: noopHandler},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{TaskReconcile, TaskIdempotencyCleanup}, w.TaskTypes())
}

func TestNewWorkerRejectsBadRoutes(t *testing.T) {
	_, err := NewWorker(WorkerOptions{Redis: testRedis, Routes: []Route{
		{Type: TaskReconcile, Handler: noopHandler},
		{Type: TaskReconcile, Handler: noopHandler},
	}})
	require.ErrorContains(t, err, "duplicate route")

	_, err = NewWorker(WorkerOptions{Redis: testRedis, Routes: []Route{{Type: TaskReconcile}}})
	require.ErrorContains(t, err, "incomplete route")
}

func TestNewWorkerRejectsInvalidCron(t *testing.T) {
	task, err := NewReconcileTask()
	require.NoError(t, err)

	_, err = NewWorker(WorkerOptions{
		Redis:     testRedis,
		Schedules: []Schedule{{Spec: "every tuesday", Task: task}},
	})
	require.ErrorContains(t, err, TaskReconcile)
}

func TestRunOnNilWorker(t *testing.T) {
	var w *Worker
	require.Error(t, w.Run(context.Background()))
}
