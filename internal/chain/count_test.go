package chain

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gear-foundation/one-of-us/internal/clock"
)

var testProgram = common.HexToAddress("0x5c3f0b4a2f9d1e6e8d0a3b7c9e1f2a4b6c8d0e1f")

type rpcFake struct {
	server *httptest.Server
	calls  atomic.Int32
	reply  atomic.Value // func(req RPCRequest) (int, string)
}

func newRPCFake(t *testing.T) *rpcFake {
	t.Helper()
	f := &rpcFake{}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)
		var req RPCRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		status, body := f.reply.Load().(func(RPCRequest) (int, string))(req)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *rpcFake) respond(status int, body string) {
	f.reply.Store(func(RPCRequest) (int, string) { return status, body })
}

func newTestReader(t *testing.T, f *rpcFake, clk clock.Clock) *CountReader {
	t.Helper()
	client, err := NewClient(Config{RPCURL: f.server.URL, Logger: zerolog.Nop()})
	require.NoError(t, err)
	return NewCountReader(CountReaderConfig{
		Client:   client,
		Registry: NewRegistry(testProgram),
		Clock:    clk,
		Logger:   zerolog.Nop(),
	})
}

const countReply44 = `{"jsonrpc":"2.0","id":1,"result":{"payload":"0x1c4f6e654f66557314436f756e742c000000","value":0,"code":{"Success":"Manual"}}}`

func TestCountReader_DecodesFixedU32(t *testing.T) {
	f := newRPCFake(t)
	reqs := make(chan RPCRequest, 1)
	f.reply.Store(func(req RPCRequest) (int, string) {
		reqs <- req
		return http.StatusOK, countReply44
	})

	r := newTestReader(t, f, clock.NewFake(time.Unix(0, 0)))
	assert.Equal(t, uint32(44), r.Count(context.Background()))

	got := <-reqs
	assert.Equal(t, MethodCalculateReply, got.Method)
	params, ok := got.Params.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "0x0000000000000000000000000000000000000000", params["source"])
	assert.Equal(t, "0x1c4f6e654f66557314436f756e74", params["payload"])
	assert.EqualValues(t, 0, params["value"])
}

func TestCountReader_TTL(t *testing.T) {
	f := newRPCFake(t)
	f.respond(http.StatusOK, countReply44)
	clk := clock.NewFake(time.Unix(0, 0))
	r := newTestReader(t, f, clk)
	ctx := context.Background()

	r.Count(ctx)
	r.Count(ctx)
	clk.Advance(DefaultCountTTL - time.Millisecond)
	r.Count(ctx)
	assert.Equal(t, int32(1), f.calls.Load())

	clk.Advance(time.Millisecond)
	r.Count(ctx)
	assert.Equal(t, int32(2), f.calls.Load())
}

func TestCountReader_ErrorsDegrade(t *testing.T) {
	failures := []struct {
		name   string
		status int
		body   string
	}{
		{"http status", http.StatusBadGateway, `bad gateway`},
		{"rpc error", http.StatusOK, `{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"program not found"}}`},
		{"missing payload", http.StatusOK, `{"jsonrpc":"2.0","id":1,"result":{}}`},
		{"malformed hex", http.StatusOK, `{"jsonrpc":"2.0","id":1,"result":{"payload":"0xnothex"}}`},
		{"short payload", http.StatusOK, `{"jsonrpc":"2.0","id":1,"result":{"payload":"0x1c4f6e654f66557314436f756e74"}}`},
	}

	for _, tt := range failures {
		t.Run(tt.name+" without cache", func(t *testing.T) {
			f := newRPCFake(t)
			f.respond(tt.status, tt.body)
			r := newTestReader(t, f, clock.NewFake(time.Unix(0, 0)))
			assert.Equal(t, uint32(0), r.Count(context.Background()))
		})

		t.Run(tt.name+" with cache", func(t *testing.T) {
			f := newRPCFake(t)
			f.respond(http.StatusOK, countReply44)
			clk := clock.NewFake(time.Unix(0, 0))
			r := newTestReader(t, f, clk)
			require.Equal(t, uint32(44), r.Count(context.Background()))

			f.respond(tt.status, tt.body)
			clk.Advance(DefaultCountTTL)
			assert.Equal(t, uint32(44), r.Count(context.Background()))
		})
	}
}

func TestCountReader_Unreachable(t *testing.T) {
	client, err := NewClient(Config{RPCURL: "http://127.0.0.1:1", Timeout: time.Second})
	require.NoError(t, err)
	r := NewCountReader(CountReaderConfig{Client: client, Registry: NewRegistry(testProgram)})
	assert.Equal(t, uint32(0), r.Count(context.Background()))
}

func TestReadCount(t *testing.T) {
	f := newRPCFake(t)
	f.respond(http.StatusOK, countReply44)
	client, err := NewClient(Config{RPCURL: f.server.URL})
	require.NoError(t, err)

	n, err := ReadCount(context.Background(), client, testProgram, CountEncodingFixed)
	require.NoError(t, err)
	assert.Equal(t, uint32(44), n)

	f.respond(http.StatusOK, `{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"boom"}}`)
	_, err = ReadCount(context.Background(), client, testProgram, CountEncodingFixed)
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, "boom", rpcErr.Message)
}
