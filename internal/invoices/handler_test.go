package invoices

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/budgetguard/internal/platform/httpx"
)

func newTestRouter(t *testing.T) (http.Handler, fixture) {
	f := newFixture(t, nil)
	r := chi.NewRouter()
	r.Route("/invoices", NewHandler(slog.Default(), f.svc).MountRoutes)
	return r, f
}

func serve(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) httpx.ProblemDetail {
	t.Helper()
	var problem httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	return problem
}

func TestHandlerCreateAndBook(t *testing.T) {
	router, _ := newTestRouter(t)

	body := `{"number":"F001-1","orderId":8,"docType":"CHARGE","currency":"USD","amount":"200","periodIds":[2],
  "costCenterSplits":[{"costCenterId":10,"amount":"120"},{"costCenterId":11,"amount":"80"}]}`
	rec := serve(router, http.MethodPost, "/invoices", body)
	require.Equal(t, http.StatusCreated, rec.Code)
	var inv Invoice
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &inv))
	require.Equal(t, StatusReceived, inv.Status)
	require.Equal(t, "750", inv.AmountPENStandard.String())

	path := "/invoices/" + strconv.FormatInt(inv.ID, 10)
	rec = serve(router, http.MethodPut, path+"/accounting", `{"accountingMonth":"2026-04","realRate":"3.8"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &inv))
	require.Equal(t, "2026-04", *inv.AccountingMonth)
	require.Equal(t, "10", inv.FXVariance.String())

	rec = serve(router, http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandlerRejectsUnbalancedSplits(t *testing.T) {
	router, _ := newTestRouter(t)
	body := `{"number":"F001-2","orderId":7,"docType":"CHARGE","currency":"PEN","amount":"1000","periodIds":[1],
  "costCenterSplits":[{"costCenterId":10,"amount":"600"},{"costCenterId":11,"amount":"399.99"}]}`
	rec := serve(router, http.MethodPost, "/invoices", body)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "costCenterSplits", decodeProblem(t, rec).Field)
}

func TestHandlerRejectsBadMonth(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := serve(router, http.MethodPut, "/invoices/1/accounting", `{"accountingMonth":"2026-13"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "accountingMonth", decodeProblem(t, rec).Field)
}

func TestHandlerTransitions(t *testing.T) {
	router, _ := newTestRouter(t)
	body := `{"number":"F001-3","supportId":1,"docType":"CHARGE","currency":"PEN","amount":"50","periodIds":[1]}`
	rec := serve(router, http.MethodPost, "/invoices", body)
	require.Equal(t, http.StatusCreated, rec.Code)
	var inv Invoice
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &inv))
	path := "/invoices/" + strconv.FormatInt(inv.ID, 10) + "/status"

	rec = serve(router, http.MethodPost, path, `{"status":"PAID"}`)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = serve(router, http.MethodPost, path, `{"status":"ARCHIVED"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "status", decodeProblem(t, rec).Field)

	rec = serve(router, http.MethodPost, path, `{"status":"IN_APPROVAL","note":"sent"}`)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandlerGetInvoiceNotFound(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := serve(router, http.MethodGet, "/invoices/999", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}
