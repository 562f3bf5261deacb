package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/alanyoungcy/marketledger/internal/asset"
	"github.com/alanyoungcy/marketledger/internal/crypto"
	"github.com/alanyoungcy/marketledger/internal/ledger"
	"github.com/alanyoungcy/marketledger/internal/metrics"
	"github.com/alanyoungcy/marketledger/internal/server/handler"
	"github.com/alanyoungcy/marketledger/internal/server/middleware"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	testKey  = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	fee      = 25
	startBal = 1000
)

var (
	custody = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	alice   = common.HexToAddress("0x0000000000000000000000000000000000000001")
	bob     = common.HexToAddress("0x0000000000000000000000000000000000000002")
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type env struct {
	h       http.Handler
	m       *ledger.Marketplace
	bank    *asset.Bank
	metrics *metrics.Metrics
}

func newEnv(t *testing.T, cfg Config, extra ...func(*Handlers)) *env {
	t.Helper()
	logger := discard()
	ids := ledger.NewAllocator()
	reg := asset.NewRegistry(ids.Assets)
	bank := asset.NewBank()
	m := ledger.New(ledger.Config{
		Address:      custody,
		FeeCollector: common.HexToAddress("0xfeed"),
		ListingFee:   *uint256.NewInt(fee),
		MintingFee:   *uint256.NewInt(10),
	}, ids, reg, bank, ledger.WithLogger(logger))

	signer, err := crypto.NewSigner(testKey, cfg.Domain)
	require.NoError(t, err)
	for _, a := range []common.Address{alice, bob, signer.Address()} {
		require.NoError(t, bank.Credit(a, *uint256.NewInt(startBal)))
	}

	mx := metrics.New()
	h := Handlers{
		Health:      handler.NewHealthHandler(nil, logger),
		Items:       handler.NewItemHandler(m, logger),
		Collections: handler.NewCollectionHandler(m, logger),
		Market:      handler.NewMarketHandler(m, bank, reg, logger),
		Metrics:     mx,
	}
	for _, f := range extra {
		f(&h)
	}
	return &env{h: NewServer(cfg, h, logger).Handler(), m: m, bank: bank, metrics: mx}
}

type req struct {
	method string
	path   string
	caller common.Address
	value  uint64
	body   any
	header map[string]string
}

func (e *env) do(t *testing.T, r req) (int, map[string]any) {
	t.Helper()
	var body io.Reader
	if r.body != nil {
		b, err := json.Marshal(r.body)
		require.NoError(t, err)
		body = bytes.NewReader(b)
	}
	hr := httptest.NewRequest(r.method, r.path, body)
	if r.caller != (common.Address{}) {
		hr.Header.Set(middleware.HeaderCaller, r.caller.Hex())
	}
	if r.value > 0 {
		hr.Header.Set(middleware.HeaderValue, strconv.FormatUint(r.value, 10))
	}
	for k, v := range r.header {
		hr.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.h.ServeHTTP(rec, hr)

	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec.Code, out
}

func num(t *testing.T, v any) uint64 {
	t.Helper()
	f, ok := v.(float64)
	require.True(t, ok, "not a number: %v", v)
	return uint64(f)
}

// mintItem mints one token for seller and creates an item priced at price.
func (e *env) mintItem(t *testing.T, seller common.Address, price string) uint64 {
	t.Helper()
	code, out := e.do(t, req{method: "POST", path: "/api/assets", caller: seller, body: map[string]any{"quantity": 1}})
	require.Equal(t, http.StatusCreated, code, out)
	code, out = e.do(t, req{method: "POST", path: "/api/items", caller: seller,
		body: map[string]any{"token_id": out["token_id"], "price": price}})
	require.Equal(t, http.StatusCreated, code, out)
	return num(t, out["item_id"])
}

func TestItemLifecycle(t *testing.T) {
	e := newEnv(t, Config{EnableMint: true})
	id := e.mintItem(t, alice, "100")
	assert.Equal(t, uint64(2), id)
	path := "/api/items/" + strconv.FormatUint(id, 10)

	code, out := e.do(t, req{method: "POST", path: path + "/listing", caller: alice, value: fee, body: map[string]any{"price": "100"}})
	require.Equal(t, http.StatusOK, code, out)
	assert.Equal(t, true, out["for_sale"])
	assert.Equal(t, "listed", out["state"])

	code, out = e.do(t, req{method: "GET", path: "/api/items"})
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, out["items"], 1)

	code, out = e.do(t, req{method: "POST", path: path + "/sale", caller: bob, value: 100})
	require.Equal(t, http.StatusOK, code, out)
	assert.Equal(t, true, out["sold"])
	assert.Equal(t, bob.Hex(), out["owner"])

	code, out = e.do(t, req{method: "GET", path: "/api/items"})
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, out["items"])

	code, out = e.do(t, req{method: "GET", path: "/api/items/mine", caller: bob})
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, out["items"], 1)

	code, out = e.do(t, req{method: "GET", path: "/api/balances/" + alice.Hex()})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, strconv.Itoa(startBal-fee+100), out["native"])

	code, out = e.do(t, req{method: "GET", path: "/api/fees"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "25", out["listing_fee"])
	assert.Equal(t, "10", out["minting_fee"])
}

func TestErrorStatuses(t *testing.T) {
	e := newEnv(t, Config{EnableMint: true})
	id := e.mintItem(t, alice, "100")
	path := "/api/items/" + strconv.FormatUint(id, 10)

	tests := []struct {
		name string
		req  req
		want int
	}{
		{"unknown item", req{method: "GET", path: "/api/items/999"}, http.StatusNotFound},
		{"bad id", req{method: "GET", path: "/api/items/abc"}, http.StatusBadRequest},
		{"not seller", req{method: "POST", path: path + "/listing", caller: bob, value: fee, body: map[string]any{"price": "5"}}, http.StatusForbidden},
		{"wrong fee", req{method: "POST", path: path + "/listing", caller: alice, value: 1, body: map[string]any{"price": "5"}}, http.StatusPaymentRequired},
		{"zero price", req{method: "POST", path: path + "/listing", caller: alice, value: fee, body: map[string]any{"price": "0"}}, http.StatusBadRequest},
		{"not listed", req{method: "DELETE", path: path + "/listing", caller: alice, value: fee}, http.StatusConflict},
		{"no caller", req{method: "POST", path: path + "/sale", value: 100}, http.StatusUnauthorized},
		{"bad value", req{method: "POST", path: path + "/sale", caller: bob, header: map[string]string{middleware.HeaderValue: "ten"}}, http.StatusBadRequest},
		{"unknown field", req{method: "POST", path: "/api/items", caller: alice, body: map[string]any{"tokenid": 1}}, http.StatusBadRequest},
		{"missing token", req{method: "POST", path: "/api/items", caller: alice, body: map[string]any{"token_id": 77, "price": "1"}}, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, out := e.do(t, tt.req)
			assert.Equal(t, tt.want, code, out)
		})
	}
}

func TestCollectionRoutes(t *testing.T) {
	e := newEnv(t, Config{EnableMint: true})
	_, badge := e.do(t, req{method: "POST", path: "/api/assets", caller: alice, body: map[string]any{"quantity": 1}})
	code, out := e.do(t, req{method: "POST", path: "/api/collections", caller: alice, body: map[string]any{"badge_token_id": badge["token_id"]}})
	require.Equal(t, http.StatusCreated, code, out)
	cid := strconv.FormatUint(num(t, out["collection_id"]), 10)
	base := "/api/collections/" + cid

	item := e.mintItem(t, alice, "100")
	iid := strconv.FormatUint(item, 10)

	code, out = e.do(t, req{method: "POST", path: base + "/items", caller: bob, body: map[string]any{"item_id": item}})
	assert.Equal(t, http.StatusForbidden, code, out)

	code, out = e.do(t, req{method: "POST", path: base + "/items", caller: alice, body: map[string]any{"item_id": item}})
	require.Equal(t, http.StatusOK, code, out)
	assert.Equal(t, float64(1), out["items_in_collection"])

	code, out = e.do(t, req{method: "GET", path: base + "/items/" + iid})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, out["member"])

	code, out = e.do(t, req{method: "GET", path: "/api/collections/mine", caller: alice})
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, out["collections"], 1)

	code, out = e.do(t, req{method: "DELETE", path: base + "/items/" + iid, caller: alice})
	require.Equal(t, http.StatusOK, code, out)

	code, out = e.do(t, req{method: "GET", path: base + "/count"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(0), out["items_in_collection"])

	code, out = e.do(t, req{method: "GET", path: base + "/items/" + iid})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, out["member"])

	code, _ = e.do(t, req{method: "GET", path: "/api/collections/404"})
	assert.Equal(t, http.StatusNotFound, code)
}

func TestMintDisabled(t *testing.T) {
	e := newEnv(t, Config{})
	code, _ := e.do(t, req{method: "POST", path: "/api/assets", caller: alice, body: map[string]any{"quantity": 1}})
	assert.Equal(t, http.StatusNotFound, code)
}

func TestSignedRequests(t *testing.T) {
	dom := crypto.Domain{ChainID: 137, VerifyingContract: custody}
	e := newEnv(t, Config{EnableMint: true, RequireSignatures: true, Domain: dom})
	signer, err := crypto.NewSigner(testKey, dom)
	require.NoError(t, err)

	code, out := e.do(t, req{method: "POST", path: "/api/assets", caller: signer.Address(), body: map[string]any{"quantity": 1}})
	require.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "request signature required", out["error"])

	body := []byte(`{"quantity":1}`)
	ts := time.Now().Unix()
	sig, err := signer.SignRequest(crypto.Request{
		Caller:    signer.Address(),
		Method:    "POST",
		Path:      "/api/assets",
		Body:      body,
		Timestamp: ts,
	})
	require.NoError(t, err)

	send := func(caller common.Address, payload []byte) int {
		hr := httptest.NewRequest("POST", "/api/assets", bytes.NewReader(payload))
		hr.Header.Set(middleware.HeaderCaller, caller.Hex())
		hr.Header.Set(middleware.HeaderSignature, sig)
		hr.Header.Set(middleware.HeaderTimestamp, strconv.FormatInt(ts, 10))
		rec := httptest.NewRecorder()
		e.h.ServeHTTP(rec, hr)
		return rec.Code
	}
	assert.Equal(t, http.StatusCreated, send(signer.Address(), body))
	assert.Equal(t, http.StatusUnauthorized, send(signer.Address(), []byte(`{"quantity":2}`)))
	assert.Equal(t, http.StatusUnauthorized, send(alice, body))

	// Reads stay open.
	code, _ = e.do(t, req{method: "GET", path: "/api/fees"})
	assert.Equal(t, http.StatusOK, code)
}

func TestAPIKey(t *testing.T) {
	e := newEnv(t, Config{APIKey: "k3y"})
	code, _ := e.do(t, req{method: "GET", path: "/api/fees"})
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = e.do(t, req{method: "GET", path: "/api/fees", header: map[string]string{"X-API-Key": "k3y"}})
	assert.Equal(t, http.StatusOK, code)

	code, _ = e.do(t, req{method: "GET", path: "/api/fees", header: map[string]string{"Authorization": "Bearer k3y"}})
	assert.Equal(t, http.StatusOK, code)

	code, _ = e.do(t, req{method: "GET", path: "/api/health"})
	assert.Equal(t, http.StatusOK, code)
}

type denyAll struct{}

func (denyAll) Allow(context.Context, string, int, time.Duration) (bool, error) { return false, nil }

func TestRateLimited(t *testing.T) {
	e := newEnv(t, Config{RateLimit: 1, RateWindow: time.Minute}, func(h *Handlers) { h.Limiter = denyAll{} })
	code, out := e.do(t, req{method: "GET", path: "/api/fees"})
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Equal(t, "rate limit exceeded", out["error"])

	code, _ = e.do(t, req{method: "GET", path: "/api/health"})
	assert.Equal(t, http.StatusOK, code)
}

func TestHealthReportsFailingDependency(t *testing.T) {
	e := newEnv(t, Config{}, func(h *Handlers) {
		h.Health = handler.NewHealthHandler(map[string]handler.Check{
			"postgres": func(context.Context) error { return nil },
			"redis":    func(context.Context) error { return io.ErrUnexpectedEOF },
		}, discard())
	})
	code, out := e.do(t, req{method: "GET", path: "/api/health"})
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "degraded", out["status"])
	assert.Equal(t, map[string]any{"postgres": "ok", "redis": "unexpected EOF"}, out["dependencies"])
}

func TestMetricsEndpointLabelsRoutes(t *testing.T) {
	e := newEnv(t, Config{})
	e.do(t, req{method: "GET", path: "/api/items/77"})

	rec := httptest.NewRecorder()
	e.h.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `route="GET /api/items/{id}"`)
}

func TestCORSPreflight(t *testing.T) {
	e := newEnv(t, Config{CORSOrigins: []string{"http://app.local"}})
	hr := httptest.NewRequest(http.MethodOptions, "/api/items", nil)
	hr.Header.Set("Origin", "http://app.local")
	rec := httptest.NewRecorder()
	e.h.ServeHTTP(rec, hr)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://app.local", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), middleware.HeaderSignature)

	rec = httptest.NewRecorder()
	hr = httptest.NewRequest(http.MethodGet, "/api/fees", nil)
	hr.Header.Set(middleware.HeaderRequestID, "req-1")
	e.h.ServeHTTP(rec, hr)
	assert.Equal(t, "req-1", rec.Header().Get(middleware.HeaderRequestID))
}
