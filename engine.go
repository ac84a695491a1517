package swapmm

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/lightswap/swapmm/swap"
	"github.com/lightswap/swapmm/swapdb"
)

// Swap is the record interface every flow contract implements. The data side
// comes from embedding swapdb.SwapContract; the four flow predicates replace
// the subclassing a naive port would use.
type Swap interface {
	swapdb.RecordData

	// EscrowHash returns the escrow claim hash once escrow data exists.
	EscrowHash() (common.Hash, bool)

	// IsInitiated returns true once funds are locked on either side.
	IsInitiated() bool

	// IsSuccess returns true in the terminal success state.
	IsSuccess() bool

	// IsFailed returns true in a terminal failure state.
	IsFailed() bool

	// OutputAmount is the payout in token base units.
	OutputAmount() *big.Int
}

// Flow is the directional swap logic plugged into the engine: handlers for
// the three escrow event kinds plus the periodic reconciliation pass. The
// event handlers run with the swap's side effect lock held by the engine. A
// flow without on-chain escrows simply never receives event callbacks and
// does all of its work in the reconcile pass.
type Flow[T Swap] interface {
	// OnInitialize is invoked when an escrow initialization event is
	// dispatched to one of the flow's swaps.
	OnInitialize(ctx context.Context, s T, event *ChainEvent) error

	// OnClaim is invoked for a claim event, carrying the revealed
	// secret.
	OnClaim(ctx context.Context, s T, event *ChainEvent) error

	// OnRefund is invoked for a refund event.
	OnRefund(ctx context.Context, s T, event *ChainEvent) error

	// ReconcilePastSwaps re-derives the state of every open swap from
	// live sources. It is the crash recovery mechanism: event driven
	// transitions are an optimization, this pass is the source of truth.
	ReconcilePastSwaps(ctx context.Context) error
}

// EngineConfig contains the engine's dependencies.
type EngineConfig[T Swap] struct {
	// Store is the persistent swap store.
	Store swapdb.SwapStore[T]

	// Ticker drives the watchdog loop.
	Ticker ticker.Ticker

	// Clock is the time source, swappable in tests.
	Clock clock.Clock

	// OnStateChange, when set, is invoked after every state transition.
	// It must not block.
	OnStateChange func(T)
}

// swapEntry tracks one open swap in memory, together with its side effect
// lock.
type swapEntry[T Swap] struct {
	swap T

	// lock is a one slot semaphore guarding irreversible external side
	// effects on this swap. A held lock means some other pass is mid
	// flight; the contender skips and the next watchdog tick retries.
	lock chan struct{}
}

func newSwapEntry[T Swap](s T) *swapEntry[T] {
	return &swapEntry[T]{
		swap: s,
		lock: make(chan struct{}, 1),
	}
}

func (e *swapEntry[T]) tryAcquire() bool {
	select {
	case e.lock <- struct{}{}:
		return true
	default:
		return false
	}
}

func (e *swapEntry[T]) release() {
	<-e.lock
}

type swapKey struct {
	hash     lntypes.Hash
	sequence uint64
}

// Engine is the generic reconciliation machinery shared by every directional
// flow: durable storage, an escrow hash index for event dispatch, per record
// locking and the watchdog loop.
type Engine[T Swap] struct {
	cfg *EngineConfig[T]

	flow Flow[T]

	// mtx guards the two maps below. The per record lock protects
	// external side effects, not map access.
	mtx sync.RWMutex

	// swaps tracks every open swap by storage key.
	swaps map[swapKey]*swapEntry[T]

	// escrowIndex maps escrow claim hashes to open swaps for O(1) event
	// dispatch. Invariant: an entry is present iff a non-terminal swap
	// with non-nil escrow data is tracked for that hash.
	escrowIndex map[common.Hash]*swapEntry[T]
}

// NewEngine returns an engine executing the given flow.
func NewEngine[T Swap](cfg *EngineConfig[T], flow Flow[T]) *Engine[T] {
	return &Engine[T]{
		cfg:         cfg,
		flow:        flow,
		swaps:       make(map[swapKey]*swapEntry[T]),
		escrowIndex: make(map[common.Hash]*swapEntry[T]),
	}
}

func keyOf(info *swapdb.SwapContract) swapKey {
	return swapKey{hash: info.Hash, sequence: info.Sequence}
}

// track inserts the swap into the in-memory maps, reusing an existing entry
// so that the side effect lock survives updates.
func (e *Engine[T]) track(s T) {
	info := s.SwapInfo()
	key := keyOf(info)

	e.mtx.Lock()
	defer e.mtx.Unlock()

	entry, ok := e.swaps[key]
	if !ok {
		entry = newSwapEntry(s)
		e.swaps[key] = entry
	} else {
		entry.swap = s
	}

	if hash, ok := s.EscrowHash(); ok && info.State.IsPending() {
		e.escrowIndex[hash] = entry
	}
}

// SaveSwap upserts the swap into the persistent store and the in-memory
// index. It has no side effects beyond storage.
func (e *Engine[T]) SaveSwap(ctx context.Context, s T) error {
	if err := e.cfg.Store.Save(ctx, s); err != nil {
		return err
	}

	e.track(s)

	return nil
}

// TransitionState advances the swap to the given state, stamps the change
// and persists it. Once this returns nil the transition is durable,
// regardless of any later cancellation.
func (e *Engine[T]) TransitionState(ctx context.Context, s T,
	state swapdb.SwapState) error {

	info := s.SwapInfo()

	log.Infof("Swap %v: state %v -> %v", swap.ShortHash(&info.Hash),
		info.State, state)

	now := e.cfg.Clock.Now()
	info.State = state
	info.LastUpdateTime = now
	info.Stamp(state.String(), now)

	if err := e.SaveSwap(ctx, s); err != nil {
		return err
	}

	e.notify(s)

	return nil
}

// RemoveSwap deletes the swap from both the store and the index, optionally
// transitioning it to a terminal state first. Removal is idempotent:
// removing an already absent swap is not an error, does not transition the
// swap again and does not re-fire the state change notification.
func (e *Engine[T]) RemoveSwap(ctx context.Context, s T,
	terminal *swapdb.SwapState) error {

	info := s.SwapInfo()

	e.mtx.RLock()
	_, tracked := e.swaps[keyOf(info)]
	e.mtx.RUnlock()

	if tracked && terminal != nil && info.State != *terminal {
		now := e.cfg.Clock.Now()

		log.Infof("Swap %v: state %v -> %v (terminal)",
			swap.ShortHash(&info.Hash), info.State, *terminal)

		info.State = *terminal
		info.LastUpdateTime = now
		info.Stamp(terminal.String(), now)

		e.notify(s)
	}

	if err := e.cfg.Store.Remove(ctx, info.Hash, info.Sequence); err != nil {
		return err
	}

	e.mtx.Lock()
	delete(e.swaps, keyOf(info))
	if hash, ok := s.EscrowHash(); ok {
		delete(e.escrowIndex, hash)
	}
	e.mtx.Unlock()

	return nil
}

// DispatchChainEvents routes escrow events to their owning swaps through the
// escrow hash index. Events for unknown hashes belong to another swap or
// another actor and are skipped. Each event is processed under the swap's
// side effect lock; if the lock is held the event is dropped and the
// watchdog recovers the transition from live status. Handler errors are
// logged per event so one failing swap cannot block the rest of the batch.
func (e *Engine[T]) DispatchChainEvents(ctx context.Context,
	events []*ChainEvent) {

	for _, event := range events {
		e.mtx.RLock()
		entry, ok := e.escrowIndex[event.ClaimHash]
		var s T
		if ok {
			s = entry.swap
		}
		e.mtx.RUnlock()

		if !ok {
			log.Debugf("Ignoring %v event for unknown escrow %v",
				event.Type, event.ClaimHash)
			continue
		}

		info := s.SwapInfo()

		release, ok := e.LockSwap(s)
		if !ok {
			log.Debugf("Swap %v: busy, deferring %v event to the "+
				"watchdog", swap.ShortHash(&info.Hash),
				event.Type)
			continue
		}

		e.processEvent(ctx, s, event)
		release()
	}
}

// processEvent records the event's transaction on the swap and invokes the
// flow handler. Caller holds the swap lock.
func (e *Engine[T]) processEvent(ctx context.Context, s T,
	event *ChainEvent) {

	info := s.SwapInfo()

	info.SetTxID(txPhase(event.Type), event.TxID, e.cfg.Clock.Now())
	if err := e.SaveSwap(ctx, s); err != nil {
		log.Errorf("Swap %v: persisting %v event tx: %v",
			swap.ShortHash(&info.Hash), event.Type, err)
		return
	}

	var err error
	switch event.Type {
	case EventInitialize:
		err = e.flow.OnInitialize(ctx, s, event)

	case EventClaim:
		err = e.flow.OnClaim(ctx, s, event)

	case EventRefund:
		err = e.flow.OnRefund(ctx, s, event)
	}
	if err != nil {
		log.Errorf("Swap %v: handling %v event: %v",
			swap.ShortHash(&info.Hash), event.Type, err)
	}
}

// txPhase maps an event type to the lifecycle phase name its transaction is
// recorded under.
func txPhase(event ChainEventType) string {
	switch event {
	case EventInitialize:
		return swapdb.TxInit
	case EventClaim:
		return swapdb.TxClaim
	default:
		return swapdb.TxRefund
	}
}

// Run resumes all pending swaps from the store and then drives the watchdog
// loop until the context is canceled. Reconcile errors are logged and the
// loop continues; because events can be missed across restarts and outages,
// every open swap is re-examined on every tick.
func (e *Engine[T]) Run(ctx context.Context) error {
	pending, err := e.cfg.Store.FetchPending(ctx)
	if err != nil {
		return err
	}
	for _, s := range pending {
		e.track(s)
	}

	log.Infof("Swap engine started, resumed %d pending swaps",
		len(pending))

	e.cfg.Ticker.Resume()
	defer e.cfg.Ticker.Stop()

	for {
		select {
		case <-e.cfg.Ticker.Ticks():
			err := e.flow.ReconcilePastSwaps(ctx)
			if err != nil {
				log.Errorf("Reconcile pass: %v", err)
			}

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ForEachSwap invokes the callback for a snapshot of all tracked swaps.
func (e *Engine[T]) ForEachSwap(f func(T)) {
	e.mtx.RLock()
	swaps := make([]T, 0, len(e.swaps))
	for _, entry := range e.swaps {
		swaps = append(swaps, entry.swap)
	}
	e.mtx.RUnlock()

	for _, s := range swaps {
		f(s)
	}
}

// GetSwap returns the tracked swap with the given key, if any.
func (e *Engine[T]) GetSwap(hash lntypes.Hash, sequence uint64) (T, bool) {
	e.mtx.RLock()
	defer e.mtx.RUnlock()

	entry, ok := e.swaps[swapKey{hash: hash, sequence: sequence}]
	if !ok {
		var zero T
		return zero, false
	}

	return entry.swap, true
}

// LockSwap acquires the swap's side effect lock without blocking. If the
// lock is held elsewhere, ok is false and the caller skips its work for this
// tick instead of queueing. The returned release must be called on every
// exit path.
func (e *Engine[T]) LockSwap(s T) (func(), bool) {
	info := s.SwapInfo()

	e.mtx.RLock()
	entry, ok := e.swaps[keyOf(info)]
	e.mtx.RUnlock()

	// A swap that is no longer tracked has been removed; there is
	// nothing left to guard.
	if !ok {
		return nil, false
	}

	if !entry.tryAcquire() {
		return nil, false
	}

	// Re-check under the lock: the swap may have been removed between the
	// lookup and the acquire, in which case acting on it would resurrect
	// it.
	e.mtx.RLock()
	_, ok = e.swaps[keyOf(info)]
	e.mtx.RUnlock()
	if !ok {
		entry.release()
		return nil, false
	}

	return entry.release, true
}

// WithSwap runs f on the tracked swap under its side effect lock, waiting
// for the lock instead of skipping. It serves short read paths that need a
// consistent view of the record, such as status queries; mutating passes use
// LockSwap and retry on the next tick instead.
func (e *Engine[T]) WithSwap(hash lntypes.Hash, sequence uint64,
	f func(T)) bool {

	e.mtx.RLock()
	entry, ok := e.swaps[swapKey{hash: hash, sequence: sequence}]
	e.mtx.RUnlock()
	if !ok {
		return false
	}

	entry.lock <- struct{}{}
	defer entry.release()

	f(entry.swap)

	return true
}

// NumActiveSwaps returns the number of tracked swaps.
func (e *Engine[T]) NumActiveSwaps() int {
	e.mtx.RLock()
	defer e.mtx.RUnlock()

	return len(e.swaps)
}

func (e *Engine[T]) notify(s T) {
	if e.cfg.OnStateChange != nil {
		e.cfg.OnStateChange(s)
	}
}
