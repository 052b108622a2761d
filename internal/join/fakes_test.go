package join

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/gear-foundation/one-of-us/internal/chain"
	"github.com/gear-foundation/one-of-us/internal/clock"
	"github.com/gear-foundation/one-of-us/internal/counter"
	"github.com/gear-foundation/one-of-us/internal/localstore"
	"github.com/gear-foundation/one-of-us/internal/membership"
	"github.com/gear-foundation/one-of-us/internal/pending"
)

const (
	alice = "0xabc0000000000000000000000000000000000001"
	bob   = "0xb0b0000000000000000000000000000000000002"
)

var (
	epoch    = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	program  = common.HexToAddress("0x5c3f0b4a2f9d1e6e8d0a3b7c9e1f2a4b6c8d0e1f")
	deadHash = common.HexToHash("0xdead000000000000000000000000000000000000000000000000000000000000")
)

// =============================================================================
// Store
// =============================================================================

type fakeStore struct {
	mu        sync.Mutex
	members   map[string]*membership.Member
	checkErr  error
	gate      chan struct{}
	checks    int
	registers int
}

func newFakeStore() *fakeStore {
	return &fakeStore{members: make(map[string]*membership.Member)}
}

func (s *fakeStore) Check(ctx context.Context, address string) (membership.Info, error) {
	s.mu.Lock()
	s.checks++
	gate := s.gate
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return membership.Info{}, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.checkErr != nil {
		return membership.Info{}, s.checkErr
	}
	m, ok := s.members[address]
	if !ok {
		return membership.Info{IsMember: false}, nil
	}
	cp := *m
	return membership.Info{IsMember: true, Member: &cp}, nil
}

func (s *fakeStore) Register(_ context.Context, address, txHash string) (membership.RegisterResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registers++
	if _, ok := s.members[address]; ok {
		return membership.RegisterResult{Success: false, Message: "Member already exists", Count: len(s.members)}, nil
	}
	m := &membership.Member{ID: int64(len(s.members) + 1), Address: address, JoinedAt: epoch}
	if txHash != "" {
		m.TxHash = &txHash
	}
	s.members[address] = m
	return membership.RegisterResult{Success: true, Message: "Member registered", Count: len(s.members)}, nil
}

func (s *fakeStore) UpdateTxHash(_ context.Context, address, txHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[address]
	if !ok {
		return membership.ErrNotFound
	}
	m.TxHash = &txHash
	return nil
}

func (s *fakeStore) txHash(address string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.members[address]; ok && m.TxHash != nil {
		return *m.TxHash
	}
	return ""
}

func (s *fakeStore) has(address string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.members[address]
	return ok
}

func (s *fakeStore) put(address, txHash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := &membership.Member{Address: address, JoinedAt: epoch}
	if txHash != "" {
		m.TxHash = &txHash
	}
	s.members[address] = m
}

func (s *fakeStore) registerCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registers
}

// =============================================================================
// Chain
// =============================================================================

type fakeSub struct {
	logs         chan chain.Log
	unsubscribed atomic.Bool
}

func (s *fakeSub) Logs() <-chan chain.Log { return s.logs }
func (s *fakeSub) Unsubscribe()           { s.unsubscribed.Store(true) }

type fakeEvents struct {
	subscribed chan *fakeSub
	calls      atomic.Int32
}

func newFakeEvents() *fakeEvents {
	return &fakeEvents{subscribed: make(chan *fakeSub, 8)}
}

func (e *fakeEvents) SubscribeStateChanged(_ context.Context, p common.Address) (chain.Subscription, error) {
	e.calls.Add(1)
	s := &fakeSub{logs: make(chan chain.Log, 1)}
	e.subscribed <- s
	return s, nil
}

func (e *fakeEvents) next(t *testing.T) *fakeSub {
	t.Helper()
	select {
	case s := <-e.subscribed:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("no subscription opened")
		return nil
	}
}

type fakeSubmitter struct {
	err     error
	ready   error
	block   bool
	calls   atomic.Int32
	started chan struct{}
}

func (s *fakeSubmitter) Ready() error { return s.ready }

func (s *fakeSubmitter) Submit(ctx context.Context, destination common.Address, payload []byte) (common.Hash, error) {
	s.calls.Add(1)
	if s.started != nil {
		s.started <- struct{}{}
	}
	if s.block {
		<-ctx.Done()
		return common.Hash{}, ctx.Err()
	}
	if s.err != nil {
		return common.Hash{}, s.err
	}
	return common.HexToHash("0x01"), nil
}

type fixedSource struct{ n uint32 }

func (s fixedSource) Count(context.Context) uint32 { return s.n }

// =============================================================================
// Harness
// =============================================================================

type recorder struct {
	mu     sync.Mutex
	states []State
}

func (r *recorder) record(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

// statuses returns the distinct consecutive statuses seen.
func (r *recorder) statuses() []TxStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []TxStatus
	for _, s := range r.states {
		if len(out) == 0 || out[len(out)-1] != s.TxStatus {
			out = append(out, s.TxStatus)
		}
	}
	return out
}

type harness struct {
	clock     *clock.Fake
	store     *fakeStore
	pending   *pending.Store
	counter   *counter.Cache
	events    *fakeEvents
	submitter *fakeSubmitter
	rec       *recorder
	machine   *Machine
}

type option func(*Config)

func withBlockingRegistration(c *Config) { c.RegistrationIsBlocking = true }

func withoutEvents(c *Config) { c.Events = nil }

func withEvents(e Events) option { return func(c *Config) { c.Events = e } }

func newHarness(t *testing.T, opts ...option) *harness {
	t.Helper()
	h := &harness{
		clock:     clock.NewFake(epoch),
		store:     newFakeStore(),
		pending:   pending.NewStore(localstore.NewMemory()),
		events:    newFakeEvents(),
		submitter: &fakeSubmitter{},
		rec:       &recorder{},
	}
	h.counter = counter.New(counter.Config{Source: fixedSource{44}, Clock: h.clock, Logger: zerolog.Nop()})
	require.True(t, h.counter.Refresh(context.Background()))

	cfg := Config{
		Store:     h.store,
		Pending:   h.pending,
		Counter:   h.counter,
		Submitter: h.submitter,
		Registry:  chain.NewRegistry(program),
		Events:    h.events,
		Clock:     h.clock,
		Logger:    zerolog.Nop(),
		OnChange:  h.rec.record,
	}
	for _, o := range opts {
		o(&cfg)
	}
	h.machine = New(cfg)
	t.Cleanup(h.machine.Close)
	return h
}

func (h *harness) pendingJoin(t *testing.T) *pending.Join {
	t.Helper()
	j, err := h.pending.Load()
	require.NoError(t, err)
	return j
}
