package join

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gear-foundation/one-of-us/internal/chain"
	"github.com/gear-foundation/one-of-us/internal/clock"
	"github.com/gear-foundation/one-of-us/internal/membership"
	"github.com/gear-foundation/one-of-us/internal/metrics"
)

// watch waits for the first StateChanged log of the registry program on
// behalf of one (address, gen) scope.
type watch struct {
	address string
	gen     uint64
	started time.Time
	ctx     context.Context
	cancel  context.CancelFunc
	timer   clock.Timer

	mu      sync.Mutex
	sub     chain.Subscription
	stopped bool
}

// stop releases the ceiling timer and the subscription. Safe to call more
// than once and from any goroutine.
func (w *watch) stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	sub := w.sub
	w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.cancel()
	if sub != nil {
		sub.Unsubscribe()
	}
}

// attach hands the subscription to the watch. It reports false, after
// unsubscribing, when the watch was stopped meanwhile.
func (w *watch) attach(sub chain.Subscription) bool {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		sub.Unsubscribe()
		return false
	}
	w.sub = sub
	w.mu.Unlock()
	return true
}

// stopWatchLocked tears down the outstanding watch, if any.
func (m *Machine) stopWatchLocked() {
	if m.watch == nil {
		return
	}
	m.watch.stop()
	m.watch = nil
}

// Watching reports whether a finalization watch is outstanding.
func (m *Machine) Watching() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.watch != nil
}

// startWatch begins the finalization watch for the scope. At most one watch
// exists per scope. The ceiling timer is armed before this returns.
func (m *Machine) startWatch(address string, gen uint64) {
	m.mu.Lock()
	if !m.currentLocked(address, gen) {
		m.mu.Unlock()
		return
	}
	if m.watch != nil && m.watch.gen == gen {
		m.mu.Unlock()
		return
	}

	if m.events == nil || m.registry == nil {
		m.mu.Unlock()
		m.finalize(nil, address, gen, "", "immediate")
		return
	}

	ctx, cancel := context.WithCancel(m.addrCtx)
	w := &watch{
		address: address,
		gen:     gen,
		started: m.clock.Now(),
		ctx:     ctx,
		cancel:  cancel,
	}
	w.timer = m.clock.AfterFunc(m.watchTimeout, func() {
		m.finalize(w, address, gen, "", "timeout")
	})
	m.watch = w
	m.wg.Add(1)
	m.mu.Unlock()

	go m.runWatch(w)
}

func (m *Machine) runWatch(w *watch) {
	defer m.wg.Done()

	logger := m.logger.With().Str("address", w.address).Logger()

	sub, err := m.events.SubscribeStateChanged(w.ctx, m.registry.Address())
	if err != nil {
		if w.ctx.Err() == nil {
			logger.Warn().Err(err).Msg("finalization subscription failed, waiting for ceiling")
		}
		return
	}
	if !w.attach(sub) {
		return
	}

	for {
		select {
		case <-w.ctx.Done():
			return
		case l, ok := <-sub.Logs():
			if !ok {
				if w.ctx.Err() == nil {
					logger.Warn().Msg("finalization subscription ended, waiting for ceiling")
				}
				return
			}
			m.finalize(w, w.address, w.gen, l.TxHash.Hex(), "event")
			return
		}
	}
}

// finalize marks the scope's join final. w is nil for an immediate
// finalization without a watch; otherwise only the scope's live watch may
// finalize, and it does so once.
func (m *Machine) finalize(w *watch, address string, gen uint64, txHash, via string) {
	m.mu.Lock()
	if !m.currentLocked(address, gen) {
		m.mu.Unlock()
		return
	}
	if w != nil {
		if m.watch != w {
			m.mu.Unlock()
			return
		}
		m.watch = nil
	}
	m.state.IsJoined = true
	m.state.Finalized = true
	m.state.Loading = false
	m.state.TxStatus = StatusSuccess
	if txHash != "" {
		m.state.TxHash = txHash
	}
	state := m.state
	m.mu.Unlock()

	var elapsed time.Duration
	if w != nil {
		w.stop()
		elapsed = m.clock.Now().Sub(w.started)
	}

	m.clearPending()
	m.logger.Info().Str("address", address).Str("tx", txHash).Str("via", via).Msg("join finalized")
	metrics.RecordFinalization(via, elapsed)
	m.notify(state)

	if txHash != "" {
		m.persistTxHash(address, txHash)
	}
}

// persistTxHash attaches the finalization hash in the store, registering
// the address first if the store never saw it.
func (m *Machine) persistTxHash(address, txHash string) {
	if m.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(m.root, storeTimeout)
	defer cancel()

	logger := m.logger.With().Str("address", address).Str("tx", txHash).Logger()

	err := m.store.UpdateTxHash(ctx, address, txHash)
	if errors.Is(err, membership.ErrNotFound) {
		_, err = m.store.Register(ctx, address, txHash)
	}
	if err != nil {
		logger.Warn().Err(err).Msg("failed to persist finalization hash")
		return
	}
	logger.Debug().Msg("finalization hash persisted")
}
