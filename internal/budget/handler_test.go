package budget

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/budgetguard/internal/platform/httpx"
)

func newTestRouter(repo *memoryBudgetRepo) http.Handler {
	r := chi.NewRouter()
	r.Route("/budget", NewHandler(nil, NewService(repo, nil, nil)).MountRoutes)
	return r
}

func TestHandlerUpsertAllocations(t *testing.T) {
	repo := newMemoryBudgetRepo()
	router := newTestRouter(repo)

	body := `{"periodId":1,"items":[{"supportId":1,"amountLocal":"5000"},{"supportId":2,"amountLocal":1200}]}`
	req := httptest.NewRequest(http.MethodPut, "/budget/allocations", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, repo.allocations, 2)
}

func TestHandlerUpsertAllocationsFieldPath(t *testing.T) {
	router := newTestRouter(newMemoryBudgetRepo())

	body := `{"periodId":1,"items":[{"supportId":1,"amountLocal":"1"},{"supportId":1,"amountLocal":"1"},{"supportId":0,"amountLocal":"1"}]}`
	req := httptest.NewRequest(http.MethodPut, "/budget/allocations", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var problem httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	require.Equal(t, "items[2].supportId", problem.Field)
}

func TestHandlerClosedPeriodConflict(t *testing.T) {
	router := newTestRouter(newMemoryBudgetRepo())
	body := `{"periodId":2,"items":[{"supportId":1,"amountLocal":"1"}]}`
	req := httptest.NewRequest(http.MethodPut, "/budget/allocations", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusConflict, rec.Code)
}
