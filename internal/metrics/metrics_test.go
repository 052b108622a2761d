package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCanonicalPath(t *testing.T) {
	tests := map[string]string{
		"":                          "/",
		"/":                         "/",
		"/health":                   "/health",
		"/api/members":              "/api/members",
		"/api/members/count":        "/api/members/count",
		"/api/members/0xabc":        "/api/members/:address",
		"/api/members/0xabc/txHash": "/api/members/:address/txHash",
		"/api/chain/count":          "/api/chain/count",
	}
	for in, want := range tests {
		assert.Equal(t, want, canonicalPath(in), in)
	}
}

func TestInstrumentHandler(t *testing.T) {
	h := InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	before := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/api/members/:address", "404"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/members/0x01", nil))
	after := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/api/members/:address", "404"))
	assert.Equal(t, before+1, after)
}

func TestRecorders(t *testing.T) {
	SetChainMembers(44)
	assert.Equal(t, float64(44), testutil.ToFloat64(chainMembers))

	SetStoreMembers(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(storeMembers))

	before := testutil.ToFloat64(joins.WithLabelValues("unknown"))
	RecordJoin("")
	assert.Equal(t, before+1, testutil.ToFloat64(joins.WithLabelValues("unknown")))

	RecordFinalization("event", 3*time.Second)
	RecordRegistration(true)
	RecordPopup("passkey_sign", "result")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.True(t, strings.Contains(rec.Body.String(), "oneofus_chain_members 44"))
}
