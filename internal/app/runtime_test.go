package app

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/budgetguard/internal/notify"
	"github.com/odyssey-erp/budgetguard/internal/observability"
	"github.com/odyssey-erp/budgetguard/jobs"
	"github.com/odyssey-erp/budgetguard/internal/testing/guard"
)

func TestGuardEnablesTestMode(t *testing.T) {
	t.Setenv(guard.EnvKey, "1")
	RefreshTestMode()
	assert.True(t, InTestMode())

	t.Setenv(guard.EnvKey, "0")
	RefreshTestMode()
	assert.False(t, InTestMode())
}

func TestBuildNotifierSwitchesOnBackend(t *testing.T) {
	rt := &Runtime{Config: &Config{NotifyBackend: NotifyNone, RedisAddr: "127.0.0.1:0"}, Logger: slog.Default()}
	n, err := rt.buildNotifier()
	require.NoError(t, err)
	assert.IsType(t, notify.Nop{}, n)

	rt.Config.NotifyBackend = NotifyAsynq
	_, err = rt.buildNotifier()
	require.Error(t, err, "asynq backend needs the shared jobs client")

	client := jobs.NewClient(asynq.RedisClientOpt{Addr: rt.Config.RedisAddr})
	t.Cleanup(func() { _ = client.Close() })
	rt.Jobs = client
	n, err = rt.buildNotifier()
	require.NoError(t, err)
	assert.IsType(t, &notify.AsynqNotifier{}, n)

	rt.Config.NotifyBackend = "pigeon"
	_, err = rt.buildNotifier()
	require.Error(t, err)
}

func TestCloseRunsInReverseOrder(t *testing.T) {
	var order []int
	rt := &Runtime{}
	for i := 1; i <= 3; i++ {
		i := i
		rt.closers = append(rt.closers, func() error {
			order = append(order, i)
			return nil
		})
	}
	require.NoError(t, rt.Close())
	assert.Equal(t, []int{3, 2, 1}, order)
	require.NoError(t, rt.Close())
}

func TestRouterSkipsJobsWithoutQueueDeps(t *testing.T) {
	rt := &Runtime{Config: &Config{}, Logger: slog.Default(), Metrics: observability.NewMetrics()}
	router := rt.Router(nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/health", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
