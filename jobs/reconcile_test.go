package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	jobmetrics "github.com/odyssey-erp/budgetguard/internal/jobs"
	"github.com/odyssey-erp/budgetguard/internal/notify"
)

type fakeReconcileStore struct {
	execution   []ExecutionBreach
	consumption []ConsumptionBreach
	err         error
	execCalls   atomic.Int32
	consCalls   atomic.Int32
}

func (s *fakeReconcileStore) ExecutionBreaches(ctx context.Context) ([]ExecutionBreach, error) {
	s.execCalls.Add(1)
	return s.execution, s.err
}

func (s *fakeReconcileStore) ConsumptionBreaches(ctx context.Context) ([]ConsumptionBreach, error) {
	s.consCalls.Add(1)
	return s.consumption, nil
}

func breachCount(t *testing.T, reg *prometheus.Registry) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	total := 0.0
	for _, f := range families {
		if f.GetName() != "budgetguard_reconcile_open_breaches" {
			continue
		}
		for _, m := range f.GetMetric() {
			total += m.GetGauge().GetValue()
		}
	}
	return total
}

func TestReconcileReportsBreaches(t *testing.T) {
	store := &fakeReconcileStore{
		execution: []ExecutionBreach{{SupportID: 1, PeriodID: 3, Allocated: decimal.NewFromInt(100), Executed: decimal.NewFromInt(120)}},
		consumption: []ConsumptionBreach{
			{OrderID: 7, Authorized: decimal.NewFromInt(50), Consumed: decimal.NewFromInt(60)},
			{OrderID: 8, Authorized: decimal.NewFromInt(10), Consumed: decimal.NewFromInt(11)},
		},
	}
	ctrl := gomock.NewController(t)
	notifier := notify.NewMockNotifier(ctrl)
	var kinds []string
	notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).Times(3).DoAndReturn(func(ctx context.Context, e notify.Event) error {
		require.Equal(t, notify.EventReconcileBreach, e.Type)
		kinds = append(kinds, e.Payload["kind"].(string))
		return nil
	})
	reg := prometheus.NewRegistry()
	job := NewReconcileJob(store, notifier, slog.Default(), jobmetrics.NewMetrics(reg))

	report, err := job.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, report.Breaches())
	require.ElementsMatch(t, []string{KindExecution, KindConsumption, KindConsumption}, kinds)
	require.Equal(t, 3.0, breachCount(t, reg))
}

func TestReconcileSelectsKinds(t *testing.T) {
	store := &fakeReconcileStore{}
	job := NewReconcileJob(store, nil, slog.Default(), jobmetrics.NewMetrics(prometheus.NewRegistry()))

	task, err := NewReconcileTask(KindConsumption)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, int32(0), store.execCalls.Load())
	require.Equal(t, int32(1), store.consCalls.Load())

	err = job.Handle(context.Background(), asynq.NewTask(TaskReconcile, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestReconcileStoreFailure(t *testing.T) {
	store := &fakeReconcileStore{err: errors.New("db down")}
	ctrl := gomock.NewController(t)
	job := NewReconcileJob(store, notify.NewMockNotifier(ctrl), slog.Default(), jobmetrics.NewMetrics(prometheus.NewRegistry()))

	_, err := job.Run(context.Background(), KindExecution)
	require.ErrorContains(t, err, "reconcile: execution")
}

type fakeCleaner struct {
	retention time.Duration
}

func (c *fakeCleaner) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	c.retention = retention
	return 3, nil
}

func TestIdempotencyCleanup(t *testing.T) {
	cleaner := &fakeCleaner{}
	job := NewIdempotencyCleanupJob(cleaner, slog.Default(), jobmetrics.NewMetrics(prometheus.NewRegistry()))

	task, err := NewIdempotencyCleanupTask(2 * time.Hour)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 2*time.Hour, cleaner.retention)

	require.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskIdempotencyCleanup, nil)))
	require.Equal(t, DefaultIdempotencyRetention, cleaner.retention)
}
