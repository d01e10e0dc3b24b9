package inventory

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-wms/internal/rbac"
	"github.com/odyssey-erp/odyssey-wms/internal/shared"
)

func newTestRouter(svc *Service, role string) http.Handler {
	h := NewHandler(svc, slog.New(slog.NewTextHandler(io.Discard, nil)), rbac.Middleware{})
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := shared.ContextWithPrincipal(req.Context(), &shared.Principal{ID: 3, Username: "t", Role: role})
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	h.MountRoutes(r)
	return r
}

func do(router http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestHandlerInboundOutbound(t *testing.T) {
	store := newMemoryStore()
	pid := store.addProduct("SKU-1", 0, 10)
	svc, _ := newTestService(store)
	router := newTestRouter(svc, "operator")

	rr := do(router, http.MethodPost, "/inbound", `{"product_id":`+itoa(pid)+`,"quantity":5,"batch_id":"L1","expiry_date":"2024-06-01"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var inbound InboundResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &inbound))
	require.Equal(t, 5, inbound.Product.Quantity)
	require.Equal(t, "L1", inbound.Batch.BatchID)

	rr = do(router, http.MethodPost, "/outbound", `{"product_id":`+itoa(pid)+`,"quantity":6}`)
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
	require.Contains(t, rr.Body.String(), "requested 6, available 5")

	rr = do(router, http.MethodPost, "/outbound", `{"product_id":`+itoa(pid)+`,"quantity":2,"so_reference":"SO-1"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var outbound OutboundResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &outbound))
	require.Equal(t, 3, outbound.Product.Quantity)
	require.Len(t, outbound.Consumption, 1)

	rr = do(router, http.MethodGet, "/outbound?product_id="+itoa(pid), "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"so_reference":"SO-1"`)

	rr = do(router, http.MethodGet, "/batches?product_id="+itoa(pid), "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"utilization_percentage":40`)
}

func TestHandlerValidation(t *testing.T) {
	store := newMemoryStore()
	pid := store.addProduct("SKU-1", 0, 10)
	svc, _ := newTestService(store)
	router := newTestRouter(svc, "manager")

	cases := map[string]struct {
		path string
		body string
	}{
		"zero quantity":      {"/inbound", `{"product_id":` + itoa(pid) + `,"quantity":0}`},
		"bad date":           {"/inbound", `{"product_id":` + itoa(pid) + `,"quantity":1,"batch_id":"L1","expiry_date":"06/01/2024"}`},
		"unknown field":      {"/outbound", `{"product_id":1,"quantity":1,"warehouse":"x"}`},
		"missing count":      {"/reconciliations", `{"product_id":` + itoa(pid) + `}`},
		"negative count":     {"/reconciliations", `{"product_id":` + itoa(pid) + `,"counted_quantity":-2}`},
		"empty bulk":         {"/bulk-movements", `{"rows":[]}`},
		"bulk row bad type":  {"/bulk-movements", `{"rows":[{"type":"transfer","sku":"SKU-1","quantity":1}]}`},
		"product not found":  {"/inbound", `{"product_id":999,"quantity":1}`},
		"malformed document": {"/outbound", `{`},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rr := do(router, http.MethodPost, tc.path, tc.body)
			require.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
		})
	}
}

func TestHandlerCapabilities(t *testing.T) {
	store := newMemoryStore()
	pid := store.addProduct("SKU-1", 20, 10)
	svc, _ := newTestService(store)

	operatorRouter := newTestRouter(svc, "operator")
	rr := do(operatorRouter, http.MethodPost, "/reconciliations", `{"product_id":`+itoa(pid)+`,"counted_quantity":17}`)
	require.Equal(t, http.StatusForbidden, rr.Code)
	rr = do(operatorRouter, http.MethodPost, "/bulk-movements", `{"rows":[{"type":"inbound","sku":"SKU-1","quantity":1}]}`)
	require.Equal(t, http.StatusForbidden, rr.Code)

	managerRouter := newTestRouter(svc, "manager")
	rr = do(managerRouter, http.MethodPost, "/reconciliations", `{"product_id":`+itoa(pid)+`,"counted_quantity":17,"reason":"count"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	require.Contains(t, rr.Body.String(), `"discrepancy":-3`)
	require.Contains(t, rr.Body.String(), `"status":"shortage"`)

	rr = do(managerRouter, http.MethodPost, "/bulk-movements", `{"file_name":"b.json","rows":[{"type":"inbound","sku":"SKU-1","quantity":3}]}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Contains(t, rr.Body.String(), `"applied":1`)
	require.Equal(t, 20, store.product(pid).Quantity)
}

func TestHandlerIdempotencyReplay(t *testing.T) {
	store := newMemoryStore()
	pid := store.addProduct("SKU-1", 0, 10)
	svc, _ := newTestService(store, WithIdempotency(&memoryIdempotency{}))
	router := newTestRouter(svc, "operator")

	body := `{"product_id":` + itoa(pid) + `,"quantity":2}`
	rr := do(router, http.MethodPost, "/inbound", body, IdempotencyHeader, "k-1")
	require.Equal(t, http.StatusCreated, rr.Code)
	rr = do(router, http.MethodPost, "/inbound", body, IdempotencyHeader, "k-1")
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Equal(t, 2, store.product(pid).Quantity)
}
