package swapdb

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/stretchr/testify/require"
)

func testContract(t *testing.T, state SwapState) *LightningReceiveContract {
	t.Helper()

	var preimage lntypes.Preimage
	copy(preimage[:], []byte{1, 2, 3})
	hash := preimage.Hash()

	// Constructed via time.Unix so that stored and decoded values compare
	// equal with reflect-based assertions.
	initiationTime := time.Unix(1714564800, 0)

	return &LightningReceiveContract{
		SwapContract: SwapContract{
			ChainID:      "testchain",
			Hash:         hash,
			Sequence:     7,
			State:        state,
			SwapFee:      800,
			SwapFeeToken: big.NewInt(400),
			TxIDs: map[string]string{
				TxInit: "0xabcdef",
			},
			Timestamps: map[string]time.Time{
				TxInit: initiationTime.Add(time.Minute),
			},
			InitiationTime: initiationTime,
			LastUpdateTime: initiationTime.Add(time.Minute),
		},
		Invoice:         "lnbcrt1230n1invoice",
		Claimer:         common.HexToAddress("0x01"),
		OutputToken:     common.HexToAddress("0x02"),
		TotalToken:      big.NewInt(49600),
		DepositToken:    common.HexToAddress("0x03"),
		SecurityDeposit: big.NewInt(1000),
		ExpirySeconds:   7200,
		Escrow: &EscrowData{
			Payer:     common.HexToAddress("0x04"),
			Payee:     common.HexToAddress("0x01"),
			Token:     common.HexToAddress("0x02"),
			Amount:    big.NewInt(49600),
			ClaimHash: common.BytesToHash(hash[:]),
			Sequence:  7,
			Expiry:    initiationTime.Add(time.Hour).Unix(),
		},
		InitAuth: &InitAuthorization{
			Prefix:    "claim_initialize",
			Timeout:   initiationTime.Add(time.Hour).Unix(),
			Signature: []byte{0xde, 0xad, 0xbe, 0xef},
		},
		AuthExpiry:       initiationTime.Add(time.Hour),
		HtlcExpiryHeight: 900,
		Preimage:         &preimage,
	}
}

// TestBoltSwapStore tests that the bolt store round-trips contracts and
// honors both the state filter query and idempotent removal.
func TestBoltSwapStore(t *testing.T) {
	ctx := context.Background()

	store, err := NewBoltSwapStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	contract := testContract(t, StateCreated)

	// Fetching before storing must report a missing swap.
	_, err = store.Fetch(ctx, contract.Hash, contract.Sequence)
	require.ErrorIs(t, err, ErrSwapNotFound)

	require.NoError(t, store.Save(ctx, contract))

	stored, err := store.Fetch(ctx, contract.Hash, contract.Sequence)
	require.NoError(t, err)
	require.Equal(t, contract, stored)

	// Updating the state is an upsert under the same key.
	contract.State = StateReceived
	contract.LastUpdateTime = contract.LastUpdateTime.Add(time.Minute)
	require.NoError(t, store.Save(ctx, contract))

	stored, err = store.Fetch(ctx, contract.Hash, contract.Sequence)
	require.NoError(t, err)
	require.Equal(t, StateReceived, stored.State)

	pending, err := store.FetchPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	// A state filter that doesn't match the record returns nothing.
	none, err := store.FetchByState(ctx, StateClaimed, StateCommitted)
	require.NoError(t, err)
	require.Empty(t, none)

	// Removal is idempotent.
	require.NoError(
		t, store.Remove(ctx, contract.Hash, contract.Sequence),
	)
	require.NoError(
		t, store.Remove(ctx, contract.Hash, contract.Sequence),
	)

	_, err = store.Fetch(ctx, contract.Hash, contract.Sequence)
	require.ErrorIs(t, err, ErrSwapNotFound)
}

// TestCodecOptionalFields tests serialization of a contract that hasn't
// progressed past creation and so carries none of the optional fields.
func TestCodecOptionalFields(t *testing.T) {
	contract := testContract(t, StateCreated)
	contract.Escrow = nil
	contract.InitAuth = nil
	contract.Preimage = nil
	contract.AuthExpiry = time.Time{}

	value, err := serializeLightningReceive(contract)
	require.NoError(t, err)

	decoded, err := deserializeLightningReceive(value)
	require.NoError(t, err)
	require.Equal(t, contract, decoded)
}

// TestSwapStateType tests the mapping of states onto their broad categories.
func TestSwapStateType(t *testing.T) {
	require.Equal(t, StateTypeFail, StateRefunded.Type())
	require.Equal(t, StateTypeFail, StateCanceled.Type())
	require.Equal(t, StateTypeSuccess, StateSettled.Type())

	for _, state := range PendingStates() {
		require.Equal(t, StateTypePending, state.Type())
		require.True(t, state.IsPending())
		require.False(t, state.IsFinal())
	}

	require.True(t, StateSettled.IsFinal())
	require.True(t, StateCanceled.IsFinal())
}
