package membershipsvc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gear-foundation/one-of-us/internal/clock"
	"github.com/gear-foundation/one-of-us/internal/membership"
	"github.com/gear-foundation/one-of-us/internal/passkey"
)

var epoch = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

type staticCount uint32

func (c staticCount) Count(context.Context) uint32 { return uint32(c) }

type brokenStore struct{ *MemoryStore }

func (brokenStore) Count(context.Context) (int, error) {
	return 0, errors.New("database is down")
}

func newTestService(t *testing.T, mutate ...func(*Config)) (*Service, *MemoryStore, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(epoch)
	store := NewMemoryStore(clk)
	cfg := Config{
		Store:      store,
		ChainCount: staticCount(44),
		Clock:      clk,
		Logger:     zerolog.Nop(),
	}
	for _, m := range mutate {
		m(&cfg)
	}
	svc, err := New(cfg)
	require.NoError(t, err)
	return svc, store, clk
}

func serve(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	svc, _, _ := newTestService(t)

	rec := serve(t, svc.Router(), http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[map[string]string](t, rec)
	assert.Equal(t, "ok", body["status"])
	ts, err := time.Parse(time.RFC3339Nano, body["timestamp"])
	require.NoError(t, err)
	assert.True(t, ts.Equal(epoch))
}

func TestRegister(t *testing.T) {
	svc, store, _ := newTestService(t)
	h := svc.Router()

	rec := serve(t, h, http.MethodPost, "/api/members", `{"address":"0xABC0000000000000000000000000000000000001"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, membership.RegisterResult{Success: true, Message: "Member registered", Count: 1}, decode[membership.RegisterResult](t, rec))

	ok, err := store.IsMember(context.Background(), testAddr)
	require.NoError(t, err)
	assert.True(t, ok, "addresses are stored lower-case")

	rec = serve(t, h, http.MethodPost, "/api/members", `{"address":"`+testAddr+`","txHash":"0xdead"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, membership.RegisterResult{Success: false, Message: "Member already exists", Count: 1}, decode[membership.RegisterResult](t, rec))

	m, err := store.GetMember(context.Background(), testAddr)
	require.NoError(t, err)
	assert.Nil(t, m.TxHash, "a duplicate insert changes nothing")
}

func TestRegister_BadRequests(t *testing.T) {
	svc, _, _ := newTestService(t)
	h := svc.Router()

	tests := []struct {
		name string
		body string
		msg  string
	}{
		{"missing address", `{}`, "Address is required"},
		{"blank address", `{"address":"  "}`, "Address is required"},
		{"not hex", `{"address":"alice"}`, "Invalid address"},
		{"malformed json", `{"address":`, "Invalid JSON body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, h, http.MethodPost, "/api/members", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.msg, decode[map[string]string](t, rec)["error"])
		})
	}
}

func TestGetMember(t *testing.T) {
	svc, store, _ := newTestService(t)
	h := svc.Router()

	rec := serve(t, h, http.MethodGet, "/api/members/"+testAddr, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"isMember":false}`, rec.Body.String())

	_, err := store.AddMember(context.Background(), testAddr, "")
	require.NoError(t, err)

	rec = serve(t, h, http.MethodGet, "/api/members/"+strings.ToUpper(testAddr[2:]), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"isMember":false}`, rec.Body.String(), "without 0x it is a different key")

	rec = serve(t, h, http.MethodGet, "/api/members/0xABC0000000000000000000000000000000000001", "")
	info := decode[membership.Info](t, rec)
	assert.True(t, info.IsMember)
	require.NotNil(t, info.Member)
	assert.Equal(t, testAddr, info.Member.Address)
	assert.Empty(t, info.TxHash())
}

func TestUpdateTxHash(t *testing.T) {
	svc, store, _ := newTestService(t)
	h := svc.Router()
	_, err := store.AddMember(context.Background(), testAddr, "")
	require.NoError(t, err)

	rec := serve(t, h, http.MethodPut, "/api/members/"+testAddr+"/txHash", `{"txHash":"0xdead"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())

	m, err := store.GetMember(context.Background(), testAddr)
	require.NoError(t, err)
	assert.True(t, m.Finalized())

	rec = serve(t, h, http.MethodPut, "/api/members/0x0000000000000000000000000000000000000009/txHash", `{"txHash":"0xdead"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Member not found", decode[map[string]string](t, rec)["error"])

	rec = serve(t, h, http.MethodPut, "/api/members/"+testAddr+"/txHash", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "txHash is required", decode[map[string]string](t, rec)["error"])
}

func TestCount(t *testing.T) {
	svc, store, _ := newTestService(t)
	h := svc.Router()
	for _, a := range []string{"0x01", "0x02", "0x03"} {
		_, err := store.AddMember(context.Background(), a, "")
		require.NoError(t, err)
	}

	rec := serve(t, h, http.MethodGet, "/api/members/count", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"count":3}`, rec.Body.String())
}

func TestCount_StoreDown(t *testing.T) {
	svc, _, _ := newTestService(t, func(c *Config) {
		c.Store = brokenStore{NewMemoryStore(nil)}
	})

	rec := serve(t, svc.Router(), http.MethodGet, "/api/members/count", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "database is down", decode[map[string]string](t, rec)["error"])
}

func TestListMembers(t *testing.T) {
	svc, store, clk := newTestService(t)
	h := svc.Router()
	for _, a := range []string{"0x01", "0x02", "0x03"} {
		_, err := store.AddMember(context.Background(), a, "")
		require.NoError(t, err)
		clk.Advance(time.Second)
	}

	rec := serve(t, h, http.MethodGet, "/api/members?page=0&pageSize=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[membership.Page](t, rec)
	assert.Equal(t, 0, page.Page)
	assert.Equal(t, 2, page.PageSize)
	assert.Equal(t, 3, page.Total)
	assert.True(t, page.HasMore)
	require.Len(t, page.Members, 2)
	assert.Equal(t, "0x03", page.Members[0].Address, "newest first")

	rec = serve(t, h, http.MethodGet, "/api/members?page=1&pageSize=2", "")
	page = decode[membership.Page](t, rec)
	assert.False(t, page.HasMore)
	require.Len(t, page.Members, 1)
	assert.Equal(t, "0x01", page.Members[0].Address)
}

func TestListMembers_PageSizeBounds(t *testing.T) {
	svc, _, _ := newTestService(t)
	h := svc.Router()

	tests := []struct {
		query    string
		page     int
		pageSize int
	}{
		{"", 0, membership.DefaultPageSize},
		{"?pageSize=abc&page=-3", 0, membership.DefaultPageSize},
		{"?pageSize=0", 0, membership.DefaultPageSize},
		{"?pageSize=10000", 0, membership.MaxPageSize},
		{"?page=4&pageSize=25", 4, 25},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := serve(t, h, http.MethodGet, "/api/members"+tt.query, "")
			require.Equal(t, http.StatusOK, rec.Code)
			page := decode[membership.Page](t, rec)
			assert.Equal(t, tt.page, page.Page)
			assert.Equal(t, tt.pageSize, page.PageSize)
			assert.NotNil(t, page.Members)
		})
	}
}

func TestChainCount(t *testing.T) {
	svc, _, _ := newTestService(t)
	rec := serve(t, svc.Router(), http.MethodGet, "/api/chain/count", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"count":44}`, rec.Body.String())

	svc, _, _ = newTestService(t, func(c *Config) { c.ChainCount = nil })
	rec = serve(t, svc.Router(), http.MethodGet, "/api/chain/count", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRateLimit(t *testing.T) {
	svc, _, _ := newTestService(t, func(c *Config) {
		c.RateLimit = 1
		c.RateBurst = 1
	})
	h := svc.Router()

	assert.Equal(t, http.StatusOK, serve(t, h, http.MethodGet, "/api/members/count", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(t, h, http.MethodGet, "/api/members/count", "").Code)
	assert.Equal(t, http.StatusOK, serve(t, h, http.MethodGet, "/health", "").Code, "health is not limited")
}

func TestCORSPreflight(t *testing.T) {
	svc, _, _ := newTestService(t, func(c *Config) { c.CORSOrigins = []string{"https://one-of-us.example"} })

	req := httptest.NewRequest(http.MethodOptions, "/api/members", nil)
	req.Header.Set("Origin", "https://one-of-us.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://one-of-us.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestAuthCallbackRoute(t *testing.T) {
	bus := passkey.NewMemoryBus()
	svc, _, _ := newTestService(t, func(c *Config) { c.Bus = bus })

	sub, err := bus.Subscribe(context.Background(), passkey.ChannelSign)
	require.NoError(t, err)
	defer sub.Close()

	rec := serve(t, svc.Router(), http.MethodGet, "/auth/callback?id=0xhash&signature=0x01&authenticator_data=0x02&credential_id=0x03", "")
	require.Equal(t, http.StatusOK, rec.Code)

	select {
	case msg := <-sub.Messages():
		assert.Equal(t, passkey.TypeResult, msg.Type)
		assert.Equal(t, "0xhash", msg.ID)
	case <-time.After(time.Second):
		t.Fatal("callback was not broadcast")
	}
}

func TestMetricsRoute(t *testing.T) {
	svc, _, _ := newTestService(t)
	h := svc.Router()
	serve(t, h, http.MethodGet, "/api/members/count", "")

	rec := serve(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "oneofus_http_requests_total")
}

func TestNewRequiresStore(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	_, err = New(Config{Store: NewMemoryStore(nil), GaugeSchedule: "whenever"})
	assert.Error(t, err)
}
