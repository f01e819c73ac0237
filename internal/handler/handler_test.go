package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"satspos/internal/relay"
	"satspos/internal/service"
	"satspos/pkg/lnaddr"
	"satspos/pkg/proxy"
	"satspos/pkg/rates"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAddressClient struct {
	params   *lnaddr.PayParams
	identity *lnaddr.Identity
	err      error
}

func (s stubAddressClient) ResolveLNURL(ctx context.Context, address string) (*lnaddr.PayParams, error) {
	return s.params, s.err
}

func (s stubAddressClient) ResolveNIP05(ctx context.Context, address string) (*lnaddr.Identity, error) {
	return s.identity, s.err
}

func resolveRouter(client service.AddressClient) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewResolveHandler(service.NewResolverService(client, time.Minute))
	r := gin.New()
	r.GET("/resolve/lnurl", h.LNURL)
	r.GET("/resolve/nip05", h.NIP05)
	return r
}

func TestResolveMissingParam(t *testing.T) {
	r := resolveRouter(stubAddressClient{})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/resolve/lnurl", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"MISSING_PARAM"`)
}

func TestResolveLNURLSuccess(t *testing.T) {
	r := resolveRouter(stubAddressClient{params: &lnaddr.PayParams{
		Callback:    "https://pay.example.com/cb",
		MinSendable: 1000,
		MaxSendable: 2000,
		Tag:         "payRequest",
	}})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/resolve/lnurl?address=alice@example.com", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var params lnaddr.PayParams
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &params))
	assert.Equal(t, "https://pay.example.com/cb", params.Callback)
}

// Upstream error codes pass through to the wire with their status.
func TestResolveErrorMapping(t *testing.T) {
	r := resolveRouter(stubAddressClient{err: &lnaddr.Error{
		Code: lnaddr.CodeNotFound, Status: http.StatusNotFound, Message: "name not found",
	}})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/resolve/nip05?address=bob@example.com", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"NOT_FOUND"`)
}

func TestInvoiceRejectsMalformedBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewInvoiceHandler(lnaddr.NewClient(time.Second, time.Second))
	r := gin.New()
	r.POST("/invoice", h.Create)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/invoice", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"INVALID_BODY"`)
}

func TestInvoiceValidationErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewInvoiceHandler(lnaddr.NewClient(time.Second, time.Second))
	r := gin.New()
	r.POST("/invoice", h.Create)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/invoice", strings.NewReader(`{"callback":"https://x/cb","amount":0}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"INVALID_AMOUNT"`)
}

func TestRatesEndpoint(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"BTC":{"USD":100000},"timestamp":1700000000}`))
	}))
	defer upstream.Close()

	gin.SetMode(gin.TestMode)
	h := NewRatesHandler(service.NewRatesService(rates.NewClient(upstream.URL), time.Minute))
	r := gin.New()
	r.GET("/rates", h.Get)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/rates?currencies=usd", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Rates map[string]float64 `json:"rates"`
		Stale bool               `json:"stale"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.InDelta(t, 0.001, body.Rates["USD"], 1e-9)
	assert.False(t, body.Stale)
}

func orderRouter(t *testing.T) *gin.Engine {
	t.Helper()
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"BTC":{"USD":100000}}`))
	}))
	t.Cleanup(upstream.Close)

	pool := relay.NewPool(nil)
	t.Cleanup(pool.Close)
	deps := service.SessionDeps{
		Resolver: stubAddressClient{params: &lnaddr.PayParams{
			Callback: "https://x/cb", MinSendable: 1, MaxSendable: 1e11, Tag: "payRequest",
		}},
		Invoices: lnaddr.NewClient(time.Second, time.Second),
		Watcher: func(onChange func(service.PayStatus, *service.ZapReceipt)) *service.PaymentWatcher {
			return service.NewPaymentWatcher(pool, nil, onChange)
		},
		Proxy: proxy.UnavailableProvider{},
	}
	sessions := service.NewSessionManager(
		service.NewRatesService(rates.NewClient(upstream.URL), time.Minute),
		nil, "merchant@example.com", deps)

	gin.SetMode(gin.TestMode)
	h := NewOrderHandler(sessions)
	r := gin.New()
	r.POST("/orders", h.Create)
	r.GET("/orders/:id", h.Get)
	r.POST("/orders/:id/retry", h.Retry)
	r.POST("/orders/:id/cancel", h.Cancel)
	return r
}

func TestCreateOrder(t *testing.T) {
	r := orderRouter(t)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{"amount":2100,"currency":"SAT"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	var snap service.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.NotEmpty(t, snap.OrderID)
	assert.Equal(t, int64(2100), snap.AmountSats)
	assert.Equal(t, int64(2100000), snap.AmountMsat)

	// and it is immediately retrievable
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/orders/"+snap.OrderID, nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCreateOrderRejectsBadBody(t *testing.T) {
	r := orderRouter(t)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{"currency":"SAT"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOrderNotFound(t *testing.T) {
	r := orderRouter(t)
	for _, path := range []string{"/orders/nope", "/orders/nope/retry", "/orders/nope/cancel"} {
		method := http.MethodPost
		if path == "/orders/nope" {
			method = http.MethodGet
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(method, path, nil))
		assert.Equal(t, http.StatusNotFound, w.Code, path)
		assert.Contains(t, w.Body.String(), `"code":"NOT_FOUND"`, path)
	}
}
