package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubInspector struct {
	infos map[string]*asynq.QueueInfo
	err   error
}

func (s stubInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	if s.err != nil {
		return nil, s.err
	}
	if info, ok := s.infos[queue]; ok {
		return info, nil
	}
	return &asynq.QueueInfo{Queue: queue}, nil
}

type stubEnqueuer struct {
	kinds []string
	err   error
}

func (s *stubEnqueuer) EnqueueReconcile(_ context.Context, kinds ...string) (*asynq.TaskInfo, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.kinds = kinds
	return &asynq.TaskInfo{ID: "task-1", Queue: QueueDefault}, nil
}

func jobsRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	h.MountRoutes(r)
	return r
}

func TestHealthReportsBothQueues(t *testing.T) {
	inspector := stubInspector{infos: map[string]*asynq.QueueInfo{
		QueueNotify: {Queue: QueueNotify, Pending: 4, Retry: 1},
	}}
	router := jobsRouter(NewHandler(inspector, nil, slog.Default()))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var out []queueHealth
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 2)
	assert.Equal(t, queueHealth{Queue: QueueNotify, Pending: 4, Retry: 1}, out[0])
	assert.Equal(t, QueueDefault, out[1].Queue)
}

func TestHealthUnavailableWhenRedisDown(t *testing.T) {
	router := jobsRouter(NewHandler(stubInspector{err: errors.New("dial tcp: refused")}, nil, nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/problem+json")
}

func TestReconcileEnqueuesRequestedKinds(t *testing.T) {
	enq := &stubEnqueuer{}
	router := jobsRouter(NewHandler(nil, enq, nil))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/reconcile", strings.NewReader(`{"kinds":["consumption"]}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{KindConsumption}, enq.kinds)
	assert.Contains(t, rec.Body.String(), `"taskId":"task-1"`)
}

func TestReconcileWithoutBodyRunsAllKinds(t *testing.T) {
	enq := &stubEnqueuer{}
	router := jobsRouter(NewHandler(nil, enq, nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/reconcile", nil))

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Empty(t, enq.kinds)
}

func TestReconcileRejectsUnknownKind(t *testing.T) {
	enq := &stubEnqueuer{}
	router := jobsRouter(NewHandler(nil, enq, nil))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/reconcile", strings.NewReader(`{"kinds":["inventory"]}`))
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Nil(t, enq.kinds)
}

func TestReconcileWithoutQueue(t *testing.T) {
	router := jobsRouter(NewHandler(stubInspector{}, nil, nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/reconcile", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
