package chain

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/gear-foundation/one-of-us/internal/clock"
)

// DefaultCountTTL bounds how often the count is fetched under polling.
const DefaultCountTTL = 2 * time.Second

// CountReader reads the registry member count. It never fails: on any
// RPC or decoding problem it returns the last good value, or 0.
type CountReader struct {
	client   *Client
	registry *Registry
	encoding CountEncoding
	ttl      time.Duration
	clock    clock.Clock
	logger   zerolog.Logger

	mu        sync.Mutex
	value     uint32
	fetchedAt time.Time
	cached    bool
}

// CountReaderConfig configures a CountReader.
type CountReaderConfig struct {
	Client   *Client
	Registry *Registry
	Encoding CountEncoding
	TTL      time.Duration
	Clock    clock.Clock
	Logger   zerolog.Logger
}

// NewCountReader creates a CountReader.
func NewCountReader(cfg CountReaderConfig) *CountReader {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultCountTTL
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	return &CountReader{
		client:   cfg.Client,
		registry: cfg.Registry,
		encoding: cfg.Encoding,
		ttl:      cfg.TTL,
		clock:    cfg.Clock,
		logger:   cfg.Logger.With().Str("component", "count_reader").Logger(),
	}
}

// Count returns the member count, served from cache within the TTL.
func (r *CountReader) Count(ctx context.Context) uint32 {
	now := r.clock.Now()

	r.mu.Lock()
	if r.cached && now.Sub(r.fetchedAt) < r.ttl {
		v := r.value
		r.mu.Unlock()
		return v
	}
	r.mu.Unlock()

	count, err := r.fetch(ctx)
	if err != nil {
		r.logger.Warn().Err(err).Msg("failed to fetch chain member count")
		return r.fallback()
	}

	r.mu.Lock()
	r.value = count
	r.fetchedAt = now
	r.cached = true
	r.mu.Unlock()

	r.logger.Debug().Uint32("count", count).Dur("ttl", r.ttl).Msg("chain member count")
	return count
}

func (r *CountReader) fallback() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cached {
		return r.value
	}
	return 0
}

func (r *CountReader) fetch(ctx context.Context) (uint32, error) {
	if r.client == nil || r.registry == nil {
		return 0, errors.New("chain client not configured")
	}

	route := r.registry.CountPayload()
	body, err := r.client.Do(ctx, MethodCalculateReply, QueryParams(r.registry.Address(), route))
	if err != nil {
		return 0, err
	}

	if rpcErr := gjson.GetBytes(body, "error"); rpcErr.Exists() && rpcErr.Type != gjson.Null {
		return 0, &RPCError{
			Code:    int(rpcErr.Get("code").Int()),
			Message: rpcErr.Get("message").String(),
		}
	}

	payload := gjson.GetBytes(body, "result.payload")
	if !payload.Exists() || payload.String() == "" {
		return 0, ErrNoPayload
	}

	reply, err := DecodeHex(payload.String())
	if err != nil {
		return 0, err
	}
	return DecodeCount(reply, route, r.encoding)
}

// ReadCount is a convenience for one uncached query against program.
func ReadCount(ctx context.Context, client *Client, program common.Address, enc CountEncoding) (uint32, error) {
	r := NewCountReader(CountReaderConfig{Client: client, Registry: NewRegistry(program), Encoding: enc})
	return r.fetch(ctx)
}
