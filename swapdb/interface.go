package swapdb

import (
	"context"
	"errors"

	"github.com/lightningnetwork/lnd/lntypes"
)

// ErrSwapNotFound is returned by point queries for swaps that are not in the
// store.
var ErrSwapNotFound = errors.New("swap not found")

// SwapStore is the persistence interface used by the swap engine. Records
// are keyed by (hash, sequence). Implementations must support safe
// concurrent use; the per-record lock held by the engine guards external
// side effects, not store access.
type SwapStore[T RecordData] interface {
	// Save upserts a swap record. It has no side effects beyond storage.
	Save(ctx context.Context, swap T) error

	// Fetch returns the swap stored under the given key, or
	// ErrSwapNotFound.
	Fetch(ctx context.Context, hash lntypes.Hash, sequence uint64) (
		T, error)

	// FetchByState returns all swaps whose state is in the given set.
	FetchByState(ctx context.Context, states ...SwapState) ([]T, error)

	// FetchPending returns all swaps in a non-terminal state.
	FetchPending(ctx context.Context) ([]T, error)

	// Remove deletes the swap stored under the given key. Removing an
	// absent record is not an error.
	Remove(ctx context.Context, hash lntypes.Hash, sequence uint64) error

	// Close closes the underlying database.
	Close() error
}
