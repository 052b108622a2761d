package join

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/gear-foundation/one-of-us/internal/chain"
	"github.com/gear-foundation/one-of-us/internal/clock"
	"github.com/gear-foundation/one-of-us/internal/membership"
	"github.com/gear-foundation/one-of-us/internal/metrics"
	"github.com/gear-foundation/one-of-us/internal/pending"
)

// DefaultWatchTimeout is the finalization ceiling. A join whose event has
// not been seen by then is treated as finalized.
const DefaultWatchTimeout = 5 * time.Minute

// storeTimeout bounds store writes made on behalf of a finished step.
const storeTimeout = 10 * time.Second

// errCheckInFlight stands in for the store answer while it is pending.
var errCheckInFlight = errors.New("membership check in flight")

// Store is the membership store as seen by the join machine.
// *membership.Client implements it.
type Store interface {
	Check(ctx context.Context, address string) (membership.Info, error)
	Register(ctx context.Context, address, txHash string) (membership.RegisterResult, error)
	UpdateTxHash(ctx context.Context, address, txHash string) error
}

// Counter is the displayed member count. *counter.Cache implements it.
type Counter interface {
	Count() uint32
	Bump(n uint32)
	Seed(j *pending.Join) bool
}

// Events opens finalization subscriptions. *chain.EventSubscriber
// implements it.
type Events interface {
	SubscribeStateChanged(ctx context.Context, program common.Address) (chain.Subscription, error)
}

// Config configures a Machine.
type Config struct {
	Store     Store
	Pending   *pending.Store
	Counter   Counter
	Submitter Submitter
	Registry  *chain.Registry
	// Events may be nil, in which case an accepted join is final at once.
	Events Events
	Clock  clock.Clock
	Logger zerolog.Logger
	// RegistrationIsBlocking makes HandleJoin wait for the store
	// registration instead of running it in the background.
	RegistrationIsBlocking bool
	WatchTimeout           time.Duration
	// OnChange receives every state change, outside the machine's lock.
	OnChange func(State)
}

// Machine is the join state machine of one client session.
type Machine struct {
	store        Store
	pending      *pending.Store
	counter      Counter
	submitter    Submitter
	registry     *chain.Registry
	events       Events
	clock        clock.Clock
	logger       zerolog.Logger
	blocking     bool
	watchTimeout time.Duration
	onChange     func(State)

	root       context.Context
	cancelRoot context.CancelFunc
	wg         sync.WaitGroup

	mu         sync.Mutex
	state      State
	address    string
	gen        uint64
	addrCtx    context.Context
	cancelAddr context.CancelFunc
	joining    bool
	watch      *watch
	closed     bool
}

// New creates a Machine with no active address.
func New(cfg Config) *Machine {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.WatchTimeout <= 0 {
		cfg.WatchTimeout = DefaultWatchTimeout
	}
	root, cancel := context.WithCancel(context.Background())
	addrCtx, cancelAddr := context.WithCancel(root)
	return &Machine{
		store:        cfg.Store,
		pending:      cfg.Pending,
		counter:      cfg.Counter,
		submitter:    cfg.Submitter,
		registry:     cfg.Registry,
		events:       cfg.Events,
		clock:        cfg.Clock,
		logger:       cfg.Logger.With().Str("component", "join").Logger(),
		blocking:     cfg.RegistrationIsBlocking,
		watchTimeout: cfg.WatchTimeout,
		onChange:     cfg.OnChange,
		root:         root,
		cancelRoot:   cancel,
		addrCtx:      addrCtx,
		cancelAddr:   cancelAddr,
		state:        idleState(""),
	}
}

// State returns a snapshot of the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Address returns the active address.
func (m *Machine) Address() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.address
}

// =============================================================================
// Address scope
// =============================================================================

// SetAddress switches the active address. Work started for the previous
// address is cancelled: popup waits are rejected, the finalization watch is
// torn down and late results are discarded. A non-empty address is then
// checked against the store.
func (m *Machine) SetAddress(ctx context.Context, address string) State {
	address = strings.ToLower(strings.TrimSpace(address))

	m.mu.Lock()
	if m.closed {
		defer m.mu.Unlock()
		return m.state
	}
	if address == m.address {
		m.mu.Unlock()
		return m.CheckMembership(ctx)
	}
	m.resetLocked(address)
	state := m.state
	m.mu.Unlock()

	m.logger.Debug().Str("address", address).Msg("active address changed")
	m.notify(state)

	if address == "" {
		return state
	}
	return m.CheckMembership(ctx)
}

// resetLocked starts a new address scope.
func (m *Machine) resetLocked(address string) {
	m.gen++
	m.cancelAddr()
	m.addrCtx, m.cancelAddr = context.WithCancel(m.root)
	m.stopWatchLocked()
	m.address = address
	m.joining = false
	m.state = idleState(address)
}

// currentLocked reports whether (address, gen) is still the live scope.
func (m *Machine) currentLocked(address string, gen uint64) bool {
	return !m.closed && m.gen == gen && m.address == address
}

// update applies fn to the state if the scope is still live and publishes
// the result.
func (m *Machine) update(address string, gen uint64, fn func(s *State)) bool {
	m.mu.Lock()
	if !m.currentLocked(address, gen) {
		m.mu.Unlock()
		return false
	}
	fn(&m.state)
	state := m.state
	m.mu.Unlock()

	m.notify(state)
	return true
}

func (m *Machine) notify(s State) {
	if m.onChange != nil {
		m.onChange(s)
	}
}

// Close cancels all outstanding work and waits for background goroutines.
func (m *Machine) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.gen++
	m.stopWatchLocked()
	m.cancelAddr()
	m.cancelRoot()
	m.mu.Unlock()

	m.wg.Wait()
}

// =============================================================================
// Membership check
// =============================================================================

// CheckMembership reconciles the state of the active address with the
// pending join and the store. A valid pending join is shown before the store
// answers. It is a no-op while a join is being submitted.
func (m *Machine) CheckMembership(ctx context.Context) State {
	m.mu.Lock()
	address, gen := m.address, m.gen
	if address == "" || m.closed || m.joining {
		defer m.mu.Unlock()
		return m.state
	}
	m.mu.Unlock()

	local := m.loadPending()

	// Local first, so a restart mid-confirmation shows at once.
	if local != nil {
		m.apply(address, gen, Reconcile(local, membership.Info{}, errCheckInFlight, address, m.clock.Now()), local)
	}

	m.update(address, gen, func(s *State) { s.CheckingMembership = true })

	var (
		info membership.Info
		err  = errors.New("membership store not configured")
	)
	if m.store != nil {
		info, err = m.store.Check(ctx, address)
	}
	if err != nil {
		m.logger.Warn().Err(err).Str("address", address).Msg("membership check failed, using local state")
	}

	// The pending join may have been cleared by a finalization meanwhile.
	local = m.loadPending()
	d := Reconcile(local, info, err, address, m.clock.Now())
	m.apply(address, gen, d, local)

	return m.State()
}

func (m *Machine) loadPending() *pending.Join {
	if m.pending == nil {
		return nil
	}
	j, err := m.pending.Load()
	if err != nil {
		m.logger.Warn().Err(err).Msg("failed to read pending join")
		return nil
	}
	return j
}

func (m *Machine) clearPending() {
	if m.pending == nil {
		return
	}
	if err := m.pending.Clear(); err != nil {
		m.logger.Warn().Err(err).Msg("failed to clear pending join")
	}
}

// apply performs a reconcile decision within the (address, gen) scope.
func (m *Machine) apply(address string, gen uint64, d Decision, local *pending.Join) {
	m.mu.Lock()
	if !m.currentLocked(address, gen) || m.joining {
		m.mu.Unlock()
		return
	}
	// Never regress a finalization observed by this session.
	if m.state.Finalized && !d.State.Finalized {
		d.State = m.state
		d.Watch = false
	}
	d.State.CheckingMembership = false
	m.state = d.State
	if d.State.Finalized {
		m.stopWatchLocked()
	}
	state := m.state
	m.mu.Unlock()

	if d.ClearPending {
		m.clearPending()
	}
	if d.RestoreCount && local != nil && m.counter != nil {
		m.counter.Seed(local)
	}
	m.notify(state)

	if d.Reregister {
		m.registerAsync(address)
	}
	if d.Watch {
		m.startWatch(address, gen)
	}
}

// =============================================================================
// Join
// =============================================================================

// HandleJoin submits a join for the active address. It returns true once the
// join has been accepted; finalization continues in the background. A
// missing precondition sets a descriptive error and leaves the status as is.
func (m *Machine) HandleJoin(ctx context.Context) (bool, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false, ErrClosed
	}
	if m.joining {
		m.mu.Unlock()
		return false, ErrJoinInProgress
	}
	if err := m.preconditionLocked(); err != nil {
		m.state.Error = err.Error()
		state := m.state
		m.mu.Unlock()
		m.notify(state)
		return false, err
	}

	address, gen := m.address, m.gen
	m.joining = true
	m.state.Error = ""
	m.state.TxHash = ""
	m.state.Finalized = false
	m.state.Loading = true
	m.state.TxStatus = StatusSigning
	state := m.state

	joinCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(m.addrCtx, cancel)
	m.mu.Unlock()

	defer func() {
		stop()
		cancel()
		m.mu.Lock()
		if m.gen == gen {
			m.joining = false
		}
		m.mu.Unlock()
	}()

	m.notify(state)
	logger := m.logger.With().Str("address", address).Logger()

	payload, err := m.registry.JoinPayload()
	if err != nil {
		m.fail(address, gen, err)
		return false, err
	}

	txHash, err := m.submitter.Submit(joinCtx, m.registry.Address(), payload)
	if err != nil {
		if joinCtx.Err() != nil && ctx.Err() == nil {
			// Cancelled by an address change; the new scope owns the state.
			logger.Debug().Err(err).Msg("join abandoned")
			return false, err
		}
		logger.Warn().Err(err).Msg("join failed")
		m.fail(address, gen, err)
		return false, err
	}
	logger.Info().Str("tx", txHash.Hex()).Msg("join accepted")

	var joinedCount uint32
	if m.counter != nil {
		joinedCount = m.counter.Count() + 1
	}
	if !m.update(address, gen, func(s *State) {
		s.IsJoined = true
		s.Finalized = false
		s.TxStatus = StatusConfirming
	}) {
		return true, nil
	}

	m.savePending(address, joinedCount)
	if m.counter != nil {
		m.counter.Bump(joinedCount)
	}

	if m.blocking {
		m.register(address)
	} else {
		m.registerAsync(address)
	}

	m.startWatch(address, gen)
	metrics.RecordJoin("accepted")
	return true, nil
}

func (m *Machine) preconditionLocked() error {
	switch {
	case m.address == "":
		return ErrNoAddress
	case m.submitter == nil:
		return ErrAPINotReady
	case m.registry == nil:
		return ErrProgramLoading
	}
	return m.submitter.Ready()
}

// fail maps err to the error state of the scope.
func (m *Machine) fail(address string, gen uint64, err error) {
	msg, already := Classify(err)
	m.update(address, gen, func(s *State) {
		s.TxStatus = StatusError
		s.Loading = false
		s.Error = msg
		if already {
			s.IsJoined = true
		}
	})

	outcome := "error"
	switch msg {
	case MsgCancelled:
		outcome = "cancelled"
	case MsgAlreadyMember:
		outcome = "already_member"
	case MsgValidatorRejected:
		outcome = "rejected"
	}
	metrics.RecordJoin(outcome)
}

// savePending records the join unless a valid one for the same address
// already exists, so an earlier timestamp is never overwritten.
func (m *Machine) savePending(address string, count uint32) {
	if m.pending == nil {
		return
	}
	now := m.clock.Now()
	existing, err := m.pending.LoadFor(address, now)
	if err == nil && existing != nil {
		return
	}
	if err := m.pending.Save(pending.Join{Address: address, Timestamp: now, MemberCountAtJoin: count}); err != nil {
		m.logger.Warn().Err(err).Msg("failed to save pending join")
	}
}

// ClearError dismisses the error of a failed attempt.
func (m *Machine) ClearError() {
	m.mu.Lock()
	m.state.Error = ""
	if m.state.TxStatus == StatusError {
		m.state.TxStatus = StatusIdle
	}
	state := m.state
	m.mu.Unlock()
	m.notify(state)
}

// =============================================================================
// Store registration
// =============================================================================

// register writes the address to the store. Failures are logged only; the
// next membership check re-registers while a pending join exists.
func (m *Machine) register(address string) {
	if m.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(m.root, storeTimeout)
	defer cancel()

	res, err := m.store.Register(ctx, address, "")
	if err != nil {
		m.logger.Warn().Err(err).Str("address", address).Msg("failed to register member")
		return
	}
	m.logger.Debug().Str("address", address).Bool("added", res.Success).Int("count", res.Count).Msg("member registered")
}

func (m *Machine) registerAsync(address string) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		m.register(address)
	}()
}
