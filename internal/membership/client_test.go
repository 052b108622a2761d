package membership

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const alice = "0xabc0000000000000000000000000000000000001"

func TestNormalizeAddress(t *testing.T) {
	addr, err := NormalizeAddress("  0xABC0000000000000000000000000000000000001 ")
	require.NoError(t, err)
	assert.Equal(t, alice, addr)

	_, err = NormalizeAddress("0x" + "ab")
	assert.Error(t, err)
	_, err = NormalizeAddress("")
	assert.Error(t, err)
	_, err = NormalizeAddress("hello")
	assert.Error(t, err)

	actor := "0x" + "11223344556677889900aabbccddeeff11223344556677889900aabbccddeeff"
	addr, err = NormalizeAddress(actor)
	require.NoError(t, err)
	assert.Equal(t, actor, addr)
}

func TestClient_Check(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/members/"+alice, r.URL.Path)
		_, _ = w.Write([]byte(`{"isMember":true,"member":{"id":1,"address":"` + alice + `","tx_hash":"0xdead","joined_at":"2025-01-01T00:00:00Z"}}`))
	}))
	defer server.Close()

	info, err := NewClient(ClientConfig{BaseURL: server.URL}).Check(context.Background(), alice)
	require.NoError(t, err)
	assert.True(t, info.IsMember)
	assert.Equal(t, "0xdead", info.TxHash())
	assert.True(t, info.Member.Finalized())
}

func TestClient_Register(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, alice, body["address"])
		_, hasHash := body["txHash"]
		assert.False(t, hasHash)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"success":true,"message":"Member registered","count":3}`))
	}))
	defer server.Close()

	res, err := NewClient(ClientConfig{BaseURL: server.URL}).Register(context.Background(), alice, "")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 3, res.Count)
}

func TestClient_UpdateTxHash_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/members/"+alice+"/txHash", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"Member not found"}`))
	}))
	defer server.Close()

	err := NewClient(ClientConfig{BaseURL: server.URL}).UpdateTxHash(context.Background(), alice, "0xdead")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClient_StatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"Internal server error"}`))
	}))
	defer server.Close()

	_, err := NewClient(ClientConfig{BaseURL: server.URL}).Count(context.Background())
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusInternalServerError, se.StatusCode)
}

func TestClient_RetriesGatewayErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"count":7}`))
	}))
	defer server.Close()

	n, err := NewClient(ClientConfig{BaseURL: server.URL}).Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_List(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "10", r.URL.Query().Get("pageSize"))
		_, _ = w.Write([]byte(`{"members":[],"page":2,"pageSize":10,"total":11,"hasMore":false}`))
	}))
	defer server.Close()

	p, err := NewClient(ClientConfig{BaseURL: server.URL}).List(context.Background(), 2, 10)
	require.NoError(t, err)
	assert.Equal(t, 11, p.Total)
	assert.False(t, p.HasMore)
}

func TestClient_Available(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	assert.True(t, NewClient(ClientConfig{BaseURL: server.URL}).Available(context.Background()))
	server.Close()

	assert.False(t, NewClient(ClientConfig{BaseURL: server.URL, Timeout: time.Second}).Available(context.Background()))
}
