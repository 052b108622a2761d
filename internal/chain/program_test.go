package chain

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isOneOfUsReply(payload []byte) string {
	return `{"jsonrpc":"2.0","id":1,"result":{"payload":"` + hexutil.Encode(payload) + `","value":0}}`
}

func TestParseProgramAddress(t *testing.T) {
	addr, err := ParseProgramAddress("0x5C3F0B4A2F9D1E6E8D0A3B7C9E1F2A4B6C8D0E1F")
	require.NoError(t, err)
	assert.Equal(t, testProgram, addr)

	_, err = ParseProgramAddress("0x12")
	assert.Error(t, err)
}

func TestRegistry_IsOneOfUs(t *testing.T) {
	f := newRPCFake(t)
	client, err := NewClient(Config{RPCURL: f.server.URL, Logger: zerolog.Nop()})
	require.NoError(t, err)
	registry := NewRegistry(testProgram)
	member := common.HexToAddress("0xabc0000000000000000000000000000000000001")

	reqs := make(chan RPCRequest, 1)
	f.reply.Store(func(req RPCRequest) (int, string) {
		reqs <- req
		return http.StatusOK, isOneOfUsReply(append(append([]byte{}, IsOneOfUsRoute...), 0x01))
	})

	ok, err := registry.IsOneOfUs(context.Background(), client, member.Bytes())
	require.NoError(t, err)
	assert.True(t, ok)

	params, isMap := (<-reqs).Params.(map[string]any)
	require.True(t, isMap)
	assert.Equal(t,
		"0x1c4f6e654f665573"+"24"+"49734f6e654f665573"+strings.Repeat("00", 12)+"abc0000000000000000000000000000000000001",
		params["payload"])

	f.respond(http.StatusOK, isOneOfUsReply(append(append([]byte{}, IsOneOfUsRoute...), 0x00)))
	ok, err = registry.IsOneOfUs(context.Background(), client, member.Bytes())
	require.NoError(t, err)
	assert.False(t, ok)

	f.respond(http.StatusOK, isOneOfUsReply(IsOneOfUsRoute))
	_, err = registry.IsOneOfUs(context.Background(), client, member.Bytes())
	assert.ErrorIs(t, err, ErrShortPayload)
}
