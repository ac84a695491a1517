package swapdb

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lightningnetwork/lnd/lntypes"
	"go.etcd.io/bbolt"
)

var (
	// dbFileName is the default file name of the swap database.
	dbFileName = "swapmm.db"

	// receiveSwapsBucketKey is a bucket that contains all lightning
	// receive swaps that are currently pending or completed.
	//
	// maps: swapHash || sequence -> serialized contract
	receiveSwapsBucketKey = []byte("lightning-receive-swaps")
)

// fileExists returns true if the file exists, and false otherwise.
func fileExists(path string) bool {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false
		}
	}

	return true
}

// boltSwapStore stores swap data in boltdb.
type boltSwapStore struct {
	db *bbolt.DB
}

// A compile-time check to ensure that boltSwapStore implements the SwapStore
// interface for lightning receive contracts.
var _ SwapStore[*LightningReceiveContract] = (*boltSwapStore)(nil)

// NewBoltSwapStore creates a new swap store in the given directory.
func NewBoltSwapStore(dbPath string) (*boltSwapStore, error) {
	// If the target path for the swap store doesn't exist, then we'll
	// create it now before we proceed.
	if !fileExists(dbPath) {
		if err := os.MkdirAll(dbPath, 0700); err != nil {
			return nil, err
		}
	}

	path := filepath.Join(dbPath, dbFileName)
	db, err := bbolt.Open(path, 0600, &bbolt.Options{
		Timeout: time.Second,
	})
	if err != nil {
		return nil, err
	}

	// Create our top level bucket if it doesn't exist yet.
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(receiveSwapsBucketKey)
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Infof("Opened swap store at %v", path)

	return &boltSwapStore{
		db: db,
	}, nil
}

// Save upserts a lightning receive contract into the store.
//
// NOTE: Part of the SwapStore interface.
func (s *boltSwapStore) Save(_ context.Context,
	swap *LightningReceiveContract) error {

	value, err := serializeLightningReceive(swap)
	if err != nil {
		return fmt.Errorf("serialize swap %v: %w", swap.Hash, err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(receiveSwapsBucketKey)

		return bucket.Put(swapKey(swap.Hash, swap.Sequence), value)
	})
}

// Fetch returns the contract stored under the given key.
//
// NOTE: Part of the SwapStore interface.
func (s *boltSwapStore) Fetch(_ context.Context, hash lntypes.Hash,
	sequence uint64) (*LightningReceiveContract, error) {

	var swap *LightningReceiveContract
	err := s.db.View(func(tx *bbolt.Tx) error {
		value := tx.Bucket(receiveSwapsBucketKey).Get(
			swapKey(hash, sequence),
		)
		if value == nil {
			return ErrSwapNotFound
		}

		var err error
		swap, err = deserializeLightningReceive(value)
		return err
	})
	if err != nil {
		return nil, err
	}

	return swap, nil
}

// FetchByState returns all contracts whose state is in the given set.
//
// NOTE: Part of the SwapStore interface.
func (s *boltSwapStore) FetchByState(_ context.Context,
	states ...SwapState) ([]*LightningReceiveContract, error) {

	allowed := make(map[SwapState]struct{}, len(states))
	for _, state := range states {
		allowed[state] = struct{}{}
	}

	var swaps []*LightningReceiveContract
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(receiveSwapsBucketKey)

		return bucket.ForEach(func(_, value []byte) error {
			swap, err := deserializeLightningReceive(value)
			if err != nil {
				return err
			}

			if _, ok := allowed[swap.State]; ok {
				swaps = append(swaps, swap)
			}

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return swaps, nil
}

// FetchPending returns all contracts in a non-terminal state.
//
// NOTE: Part of the SwapStore interface.
func (s *boltSwapStore) FetchPending(ctx context.Context) (
	[]*LightningReceiveContract, error) {

	return s.FetchByState(ctx, PendingStates()...)
}

// Remove deletes the contract stored under the given key. Removing an absent
// record is a no-op.
//
// NOTE: Part of the SwapStore interface.
func (s *boltSwapStore) Remove(_ context.Context, hash lntypes.Hash,
	sequence uint64) error {

	log.Debugf("Removing swap %v sequence %d", hash, sequence)

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(receiveSwapsBucketKey)

		return bucket.Delete(swapKey(hash, sequence))
	})
}

// Close closes the underlying database.
//
// NOTE: Part of the SwapStore interface.
func (s *boltSwapStore) Close() error {
	return s.db.Close()
}
