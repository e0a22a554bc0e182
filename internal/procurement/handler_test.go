package procurement

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/budgetguard/internal/platform/httpx"
)

func newTestRouter(repo *memoryProcRepo) http.Handler {
	r := chi.NewRouter()
	r.Route("/orders", NewHandler(nil, newService(repo)).MountRoutes)
	return r
}

func TestHandlerCreateAndConsumption(t *testing.T) {
	repo := newMemoryProcRepo()
	router := newTestRouter(repo)

	body := `{"number":"PO-1","supportId":1,"periodFromId":1,"periodToId":3,"currency":"USD","authorizedAmount":"1000","costCenterIds":[10]}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body)))
	require.Equal(t, http.StatusCreated, rec.Code)

	var order PurchaseOrder
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &order))
	repo.docs = append(repo.docs, memoryDoc{id: 1, orderID: order.ID, docType: DocCharge, amount: decimal.NewFromInt(400)})

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/"+strconv.FormatInt(order.ID, 10)+"/consumption", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var c Consumption
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &c))
	require.Equal(t, "600", c.Remaining.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body)))
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandlerInvalidTransition(t *testing.T) {
	repo := newMemoryProcRepo()
	router := newTestRouter(repo)
	order, err := newService(repo).CreateOrder(context.Background(), orderInput("10"))
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orders/"+strconv.FormatInt(order.ID, 10)+"/status", strings.NewReader(`{"status":"CLOSED"}`)))
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orders/"+strconv.FormatInt(order.ID, 10)+"/status", strings.NewReader(`{"status":"PAID"}`)))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var problem httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	require.Equal(t, "status", problem.Field)
}
