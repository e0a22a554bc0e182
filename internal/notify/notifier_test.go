package notify

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestDispatchLogsFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	mock := NewMockNotifier(ctrl)
	mock.EXPECT().Notify(gomock.Any(), gomock.Any()).Return(errors.New("broker down"))

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	Dispatch(context.Background(), logger, mock, NewEvent(EventInvoiceCreated, "invoice", 9, 1, nil))

	require.Contains(t, buf.String(), "notification failed")
	require.Contains(t, buf.String(), "broker down")
}

func TestDispatchNilNotifier(t *testing.T) {
	Dispatch(context.Background(), nil, nil, NewEvent(EventInvoiceCreated, "invoice", 1, 0, nil))
}

type recordingEnqueuer struct {
	tasks []*asynq.Task
}

func (r *recordingEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	r.tasks = append(r.tasks, task)
	return &asynq.TaskInfo{ID: "1"}, nil
}

func TestAsynqNotifierRoundTrip(t *testing.T) {
	enq := &recordingEnqueuer{}
	n := NewAsynqNotifier(enq, "default")
	event := NewEvent(EventLedgerEntryProcessed, "ledger_entry", 42, 7, map[string]any{"amountLocal": "150.00"})

	require.NoError(t, n.Notify(context.Background(), event))
	require.Len(t, enq.tasks, 1)
	require.Equal(t, TaskTypeDeliver, enq.tasks[0].Type())

	ctrl := gomock.NewController(t)
	sink := NewMockNotifier(ctrl)
	sink.EXPECT().Notify(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, got Event) error {
		require.Equal(t, event.ID, got.ID)
		require.Equal(t, int64(42), got.EntityID)
		require.Equal(t, "150.00", got.Payload["amountLocal"])
		return nil
	})
	require.NoError(t, DeliverHandler(sink)(context.Background(), enq.tasks[0]))
}

func TestDeliverHandlerSkipsRetryOnGarbage(t *testing.T) {
	ctrl := gomock.NewController(t)
	sink := NewMockNotifier(ctrl)
	err := DeliverHandler(sink)(context.Background(), asynq.NewTask(TaskTypeDeliver, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}
