package swapmm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fortytw2/leaktest"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/lightswap/swapmm/swapdb"
	"github.com/stretchr/testify/require"
)

var testTime = time.Unix(1722000000, 0)

// stubFlow implements Flow with per-test callbacks.
type stubFlow struct {
	onInitialize func(context.Context, *swapdb.LightningReceiveContract,
		*ChainEvent) error
	onClaim func(context.Context, *swapdb.LightningReceiveContract,
		*ChainEvent) error
	onRefund func(context.Context, *swapdb.LightningReceiveContract,
		*ChainEvent) error
	reconcile func(context.Context) error
}

func (f *stubFlow) OnInitialize(ctx context.Context,
	s *swapdb.LightningReceiveContract, event *ChainEvent) error {

	if f.onInitialize == nil {
		return nil
	}
	return f.onInitialize(ctx, s, event)
}

func (f *stubFlow) OnClaim(ctx context.Context,
	s *swapdb.LightningReceiveContract, event *ChainEvent) error {

	if f.onClaim == nil {
		return nil
	}
	return f.onClaim(ctx, s, event)
}

func (f *stubFlow) OnRefund(ctx context.Context,
	s *swapdb.LightningReceiveContract, event *ChainEvent) error {

	if f.onRefund == nil {
		return nil
	}
	return f.onRefund(ctx, s, event)
}

func (f *stubFlow) ReconcilePastSwaps(ctx context.Context) error {
	if f.reconcile == nil {
		return nil
	}
	return f.reconcile(ctx)
}

// engineContract builds a tracked swap in the given state, with escrow data
// keyed by the seed.
func engineContract(seed byte,
	state swapdb.SwapState) *swapdb.LightningReceiveContract {

	var hash lntypes.Hash
	hash[0] = seed

	var claimHash common.Hash
	copy(claimHash[:], hash[:])

	return &swapdb.LightningReceiveContract{
		SwapContract: swapdb.SwapContract{
			ChainID:        testChainID,
			Hash:           hash,
			Sequence:       1,
			State:          state,
			InitiationTime: testTime,
			LastUpdateTime: testTime,
		},
		Escrow: &swapdb.EscrowData{
			ClaimHash: claimHash,
			Sequence:  1,
		},
	}
}

type engineHarness struct {
	engine *Engine[*swapdb.LightningReceiveContract]
	store  *swapdb.StoreMock[*swapdb.LightningReceiveContract]
	flow   *stubFlow
	tick   *ticker.Force

	mu     sync.Mutex
	states []swapdb.SwapState
}

func newEngineHarness() *engineHarness {
	h := &engineHarness{
		store: swapdb.NewStoreMock[*swapdb.LightningReceiveContract](),
		flow:  &stubFlow{},
		tick:  ticker.NewForce(time.Hour),
	}

	h.engine = NewEngine(&EngineConfig[*swapdb.LightningReceiveContract]{
		Store:  h.store,
		Ticker: h.tick,
		Clock:  clock.NewTestClock(testTime),
		OnStateChange: func(s *swapdb.LightningReceiveContract) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.states = append(h.states, s.State)
		},
	}, h.flow)

	return h
}

func (h *engineHarness) observedStates() []swapdb.SwapState {
	h.mu.Lock()
	defer h.mu.Unlock()

	return append([]swapdb.SwapState(nil), h.states...)
}

// TestEngineRemoveIdempotent asserts that removing a swap twice, with a
// terminal transition, fires the transition exactly once and leaves the
// store clean.
func TestEngineRemoveIdempotent(t *testing.T) {
	ctx := context.Background()
	h := newEngineHarness()

	s := engineContract(1, swapdb.StateReceived)
	require.NoError(t, h.engine.SaveSwap(ctx, s))
	require.Equal(t, 1, h.engine.NumActiveSwaps())

	terminal := swapdb.StateCanceled
	require.NoError(t, h.engine.RemoveSwap(ctx, s, &terminal))
	require.NoError(t, h.engine.RemoveSwap(ctx, s, &terminal))

	// A late removal with a different terminal state must not transition
	// the already removed swap again.
	other := swapdb.StateRefunded
	require.NoError(t, h.engine.RemoveSwap(ctx, s, &other))
	require.Equal(t, swapdb.StateCanceled, s.State)

	require.Equal(t,
		[]swapdb.SwapState{swapdb.StateCanceled}, h.observedStates(),
	)
	require.Equal(t, 0, h.engine.NumActiveSwaps())

	_, err := h.store.Fetch(ctx, s.Hash, s.Sequence)
	require.ErrorIs(t, err, swapdb.ErrSwapNotFound)

	// The lock of a removed swap is gone too.
	_, ok := h.engine.LockSwap(s)
	require.False(t, ok)
}

// TestEngineDispatchChainEvents asserts event routing through the escrow
// index: unknown hashes are skipped, handler errors are isolated per event
// and event transactions are persisted.
func TestEngineDispatchChainEvents(t *testing.T) {
	ctx := context.Background()
	h := newEngineHarness()

	s1 := engineContract(1, swapdb.StateReceived)
	s2 := engineContract(2, swapdb.StateReceived)
	require.NoError(t, h.engine.SaveSwap(ctx, s1))
	require.NoError(t, h.engine.SaveSwap(ctx, s2))

	var handled []common.Hash
	h.flow.onInitialize = func(_ context.Context,
		s *swapdb.LightningReceiveContract, _ *ChainEvent) error {

		handled = append(handled, s.Escrow.ClaimHash)
		if s.Hash == s1.Hash {
			return errors.New("handler failure")
		}
		return nil
	}

	unknown := common.HexToHash("0xdead")
	h.engine.DispatchChainEvents(ctx, []*ChainEvent{
		{Type: EventInitialize, ClaimHash: unknown, TxID: "tx0"},
		{Type: EventInitialize, ClaimHash: s1.Escrow.ClaimHash,
			TxID: "tx1"},
		{Type: EventInitialize, ClaimHash: s2.Escrow.ClaimHash,
			TxID: "tx2"},
	})

	// The failing first handler must not block the second swap's event.
	require.Equal(t,
		[]common.Hash{s1.Escrow.ClaimHash, s2.Escrow.ClaimHash},
		handled,
	)

	stored, err := h.store.Fetch(ctx, s2.Hash, s2.Sequence)
	require.NoError(t, err)
	require.Equal(t, "tx2", stored.TxIDs[swapdb.TxInit])
}

// TestEngineDispatchSkipsLockedSwap asserts that an event for a swap whose
// lock is held is dropped entirely: no transaction is recorded and no
// handler runs, leaving recovery to the watchdog.
func TestEngineDispatchSkipsLockedSwap(t *testing.T) {
	ctx := context.Background()
	h := newEngineHarness()

	s := engineContract(1, swapdb.StateReceived)
	require.NoError(t, h.engine.SaveSwap(ctx, s))

	var handled int
	h.flow.onInitialize = func(context.Context,
		*swapdb.LightningReceiveContract, *ChainEvent) error {

		handled++
		return nil
	}

	event := &ChainEvent{
		Type:      EventInitialize,
		ClaimHash: s.Escrow.ClaimHash,
		TxID:      "init-tx",
	}

	release, ok := h.engine.LockSwap(s)
	require.True(t, ok)

	h.engine.DispatchChainEvents(ctx, []*ChainEvent{event})
	require.Zero(t, handled)

	stored, err := h.store.Fetch(ctx, s.Hash, s.Sequence)
	require.NoError(t, err)
	require.Empty(t, stored.TxIDs)

	release()

	h.engine.DispatchChainEvents(ctx, []*ChainEvent{event})
	require.Equal(t, 1, handled)

	stored, err = h.store.Fetch(ctx, s.Hash, s.Sequence)
	require.NoError(t, err)
	require.Equal(t, "init-tx", stored.TxIDs[swapdb.TxInit])
}

// TestEngineLockSwap asserts the non-blocking semantics of the per swap
// side effect lock.
func TestEngineLockSwap(t *testing.T) {
	ctx := context.Background()
	h := newEngineHarness()

	s := engineContract(1, swapdb.StateReceived)
	require.NoError(t, h.engine.SaveSwap(ctx, s))

	release, ok := h.engine.LockSwap(s)
	require.True(t, ok)

	// A second acquisition fails instead of queueing.
	_, ok = h.engine.LockSwap(s)
	require.False(t, ok)

	release()

	release, ok = h.engine.LockSwap(s)
	require.True(t, ok)
	release()
}

// TestEngineRun asserts that the watchdog resumes pending swaps on startup
// and survives reconcile errors.
func TestEngineRun(t *testing.T) {
	defer leaktest.Check(t)()

	ctx, cancel := context.WithCancel(context.Background())
	h := newEngineHarness()

	// Pre-populate the store to simulate a restart with an open swap.
	require.NoError(t, h.store.Save(
		ctx, engineContract(7, swapdb.StateCommitted),
	))

	ticks := make(chan struct{})
	var calls int
	h.flow.reconcile = func(context.Context) error {
		calls++
		ticks <- struct{}{}
		if calls == 1 {
			return errors.New("transient reconcile failure")
		}
		return nil
	}

	done := make(chan error, 1)
	go func() {
		done <- h.engine.Run(ctx)
	}()

	h.tick.Force <- testTime
	<-ticks
	h.tick.Force <- testTime
	<-ticks

	require.Equal(t, 1, h.engine.NumActiveSwaps())

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	require.Equal(t, 2, calls)
}
