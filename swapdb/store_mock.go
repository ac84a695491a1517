package swapdb

import (
	"context"
	"sync"

	"github.com/lightningnetwork/lnd/lntypes"
)

// StoreMock implements an in-memory swap store for tests.
type StoreMock[T RecordData] struct {
	sync.RWMutex

	// Swaps holds the stored records by key.
	Swaps map[[40]byte]T

	// SaveErr, when set, is returned by Save to simulate storage
	// failures.
	SaveErr error
}

// NewStoreMock instantiates a new mock store.
func NewStoreMock[T RecordData]() *StoreMock[T] {
	return &StoreMock[T]{
		Swaps: make(map[[40]byte]T),
	}
}

func mockKey(hash lntypes.Hash, sequence uint64) [40]byte {
	var key [40]byte
	copy(key[:], swapKey(hash, sequence))

	return key
}

// Save upserts a swap record.
//
// NOTE: Part of the SwapStore interface.
func (s *StoreMock[T]) Save(_ context.Context, swap T) error {
	s.Lock()
	defer s.Unlock()

	if s.SaveErr != nil {
		return s.SaveErr
	}

	info := swap.SwapInfo()
	s.Swaps[mockKey(info.Hash, info.Sequence)] = swap

	return nil
}

// Fetch returns the swap stored under the given key.
//
// NOTE: Part of the SwapStore interface.
func (s *StoreMock[T]) Fetch(_ context.Context, hash lntypes.Hash,
	sequence uint64) (T, error) {

	s.RLock()
	defer s.RUnlock()

	swap, ok := s.Swaps[mockKey(hash, sequence)]
	if !ok {
		var zero T
		return zero, ErrSwapNotFound
	}

	return swap, nil
}

// FetchByState returns all swaps whose state is in the given set.
//
// NOTE: Part of the SwapStore interface.
func (s *StoreMock[T]) FetchByState(_ context.Context,
	states ...SwapState) ([]T, error) {

	s.RLock()
	defer s.RUnlock()

	allowed := make(map[SwapState]struct{}, len(states))
	for _, state := range states {
		allowed[state] = struct{}{}
	}

	var swaps []T
	for _, swap := range s.Swaps {
		if _, ok := allowed[swap.SwapInfo().State]; ok {
			swaps = append(swaps, swap)
		}
	}

	return swaps, nil
}

// FetchPending returns all swaps in a non-terminal state.
//
// NOTE: Part of the SwapStore interface.
func (s *StoreMock[T]) FetchPending(ctx context.Context) ([]T, error) {
	return s.FetchByState(ctx, PendingStates()...)
}

// Remove deletes the swap stored under the given key.
//
// NOTE: Part of the SwapStore interface.
func (s *StoreMock[T]) Remove(_ context.Context, hash lntypes.Hash,
	sequence uint64) error {

	s.Lock()
	defer s.Unlock()

	delete(s.Swaps, mockKey(hash, sequence))

	return nil
}

// Close is a no-op for the mock store.
//
// NOTE: Part of the SwapStore interface.
func (s *StoreMock[T]) Close() error {
	return nil
}
