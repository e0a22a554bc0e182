package ledger

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/budgetguard/internal/platform/httpx"
)

func newTestRouter(t *testing.T) (http.Handler, fixture) {
	f := newFixture(t, nil)
	r := chi.NewRouter()
	r.Route("/ledger", NewHandler(slog.Default(), f.svc).MountRoutes)
	return r, f
}

func serve(router http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandlerCreateEntryOverspend(t *testing.T) {
	router, f := newTestRouter(t)
	f.repo.seed(Entry{SupportID: 1, AccountingPeriodID: 1, Type: TypeExpense, State: StateProcessed, AmountLocal: decimal.NewFromInt(4800)})

	body := `{"supportId":1,"type":"PROVISION","periodId":1,"accountingPeriodId":1,"currency":"PEN","amountLocal":"300"}`
	rec := serve(router, http.MethodPost, "/ledger/entries", body, nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	var problem httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	require.Equal(t, "Budget Exceeded", problem.Title)
	require.Equal(t, "200.00", problem.Extensions["available"])
	require.Equal(t, "300.00", problem.Extensions["attempted"])
}

func TestHandlerCreateEntryIdempotent(t *testing.T) {
	router, _ := newTestRouter(t)
	body := `{"supportId":1,"type":"PROVISION","periodId":1,"accountingPeriodId":1,"currency":"PEN","amountLocal":"10"}`
	headers := map[string]string{"Idempotency-Key": "abc"}

	rec := serve(router, http.MethodPost, "/ledger/entries", body, headers)
	require.Equal(t, http.StatusCreated, rec.Code)
	var entry Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
	require.Equal(t, StateProvisioned, entry.State)

	rec = serve(router, http.MethodPost, "/ledger/entries", body, headers)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandlerRejectsUnknownCurrency(t *testing.T) {
	router, _ := newTestRouter(t)
	body := `{"supportId":1,"type":"PROVISION","periodId":1,"accountingPeriodId":1,"currency":"EUR","amountLocal":"10"}`
	rec := serve(router, http.MethodPost, "/ledger/entries", body, nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var problem httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	require.Equal(t, "currency", problem.Field)
}

func TestHandlerBulkZeroProvision(t *testing.T) {
	router, _ := newTestRouter(t)
	body := `{"items":[
  {"supportId":1,"type":"PROVISION","periodId":1,"accountingPeriodId":1,"currency":"PEN","amountLocal":"10"},
  {"supportId":1,"type":"PROVISION","periodId":1,"accountingPeriodId":1,"currency":"PEN","amountLocal":"0"}]}`
	rec := serve(router, http.MethodPost, "/ledger/provisions/bulk", body, nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var problem httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	require.Equal(t, "items[1].amountLocal", problem.Field)
}

func TestHandlerOverspendCheckAndExecution(t *testing.T) {
	router, f := newTestRouter(t)
	f.repo.seed(Entry{SupportID: 1, AccountingPeriodID: 1, Type: TypeExpense, State: StateProcessed, AmountLocal: decimal.NewFromInt(4800)})

	rec := serve(router, http.MethodPost, "/ledger/overspend-check", `{"supportId":1,"accountingPeriodId":1,"delta":"150"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"allowed":true}`, rec.Body.String())

	rec = serve(router, http.MethodPost, "/ledger/overspend-check", `{"supportId":1,"accountingPeriodId":1,"delta":300}`, nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = serve(router, http.MethodGet, "/ledger/execution?supportId=1&accountingPeriodId=1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var summary ExecutionSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	require.Equal(t, "200", summary.Available.String())
}

func TestHandlerGetEntryNotFound(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := serve(router, http.MethodGet, "/ledger/entries/999", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
