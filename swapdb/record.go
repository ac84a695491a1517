package swapdb

import (
	"math/big"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/ethereum/go-ethereum/common"
	"github.com/lightningnetwork/lnd/lntypes"
)

// Lifecycle phase names used as keys into a contract's TxIDs and Timestamps
// maps.
const (
	// TxInit records the escrow initialization transaction.
	TxInit = "init"

	// TxClaim records the escrow claim transaction.
	TxClaim = "claim"

	// TxRefund records the escrow refund transaction.
	TxRefund = "refund"
)

// SwapContract contains the base data that is persisted for every swap,
// regardless of its direction. Each flow embeds it in its own contract type
// and adds flow specific fields on top.
type SwapContract struct {
	// ChainID identifies the smart chain this swap settles on.
	ChainID string

	// Hash is the stable identifier of the swap for its whole life. For
	// the Lightning flows it is the payment hash. Together with Sequence
	// it forms the storage key.
	Hash lntypes.Hash

	// Sequence disambiguates re-quoted swaps sharing a hash. It is zero
	// when unused.
	Sequence uint64

	// State is the current state of the swap.
	State SwapState

	// SwapFee is the fee charged for the swap, denominated in satoshis.
	// It is fixed at quote time and never changes afterwards.
	SwapFee btcutil.Amount

	// SwapFeeToken is the same fee denominated in the output token's base
	// units. Fixed at quote time as well.
	SwapFeeToken *big.Int

	// TxIDs maps lifecycle phase names to observed on-chain transaction
	// ids, filled in as events are observed.
	TxIDs map[string]string

	// Timestamps is a diagnostic audit trail of when each phase was
	// observed. It is never used for control flow.
	Timestamps map[string]time.Time

	// InitiationTime is the time at which the swap was created.
	InitiationTime time.Time

	// LastUpdateTime is the time of the last state change.
	LastUpdateTime time.Time
}

// SwapInfo returns the base contract. It makes any embedding contract type
// satisfy the RecordData interface.
func (c *SwapContract) SwapInfo() *SwapContract {
	return c
}

// SetTxID records the transaction id for the given lifecycle phase and
// stamps the matching timestamp.
func (c *SwapContract) SetTxID(phase, txid string, now time.Time) {
	if c.TxIDs == nil {
		c.TxIDs = make(map[string]string)
	}

	c.TxIDs[phase] = txid
	c.Stamp(phase, now)
}

// Stamp records the time at which the named lifecycle event happened.
func (c *SwapContract) Stamp(event string, now time.Time) {
	if c.Timestamps == nil {
		c.Timestamps = make(map[string]time.Time)
	}

	c.Timestamps[event] = now
}

// RecordData is implemented by every flow contract by virtue of embedding
// SwapContract.
type RecordData interface {
	// SwapInfo returns the base swap contract.
	SwapInfo() *SwapContract
}

// EscrowData describes the smart chain escrow backing a swap. It mirrors the
// parameters the chain interface needs to initialize, claim or refund the
// escrow.
type EscrowData struct {
	// Payer is the address funding the escrow.
	Payer common.Address

	// Payee is the address that may claim the escrow with the secret.
	Payee common.Address

	// Token is the token contract the escrow pays out.
	Token common.Address

	// Amount is the escrowed amount in token base units.
	Amount *big.Int

	// ClaimHash is the hash the claimer must open with a secret. It is
	// the join key between the Lightning side and the smart chain side.
	ClaimHash common.Hash

	// Sequence is the escrow sequence number, disambiguating escrows
	// sharing a claim hash.
	Sequence uint64

	// Expiry is the unix time after which the escrow can be refunded.
	Expiry int64
}

// InitAuthorization is an off-chain signature authorizing the client to
// submit the escrow initialization on-chain. It expires; past the timeout
// the chain contract rejects it.
type InitAuthorization struct {
	// Prefix is the chain specific signing domain prefix.
	Prefix string

	// Timeout is the unix time at which the authorization expires.
	Timeout int64

	// Signature is the raw authorization signature.
	Signature []byte
}

// LightningReceiveContract is the persisted record of a swap that receives
// Bitcoin over Lightning via a hold invoice and pays out tokens through a
// smart chain escrow.
type LightningReceiveContract struct {
	SwapContract

	// Invoice is the hold invoice payment request handed to the payer.
	Invoice string

	// Claimer is the smart chain address that may claim the escrow.
	Claimer common.Address

	// OutputToken is the token paid out by the escrow.
	OutputToken common.Address

	// TotalToken is the total escrow payout in token base units.
	TotalToken *big.Int

	// DepositToken is the token the security deposit is denominated in,
	// usually the chain's native currency.
	DepositToken common.Address

	// SecurityDeposit is the collateral locked by the intermediary so
	// that a refund transaction is self-funding if the swap fails.
	SecurityDeposit *big.Int

	// ExpirySeconds is the requested escrow lifetime. The escrow's
	// refund deadline is set this far past the htlc lock-in.
	ExpirySeconds int64

	// Escrow is the escrow backing this swap. Nil until the hold
	// invoice's htlc has been locked in.
	Escrow *EscrowData

	// InitAuth is the signed escrow initialization authorization. Nil
	// until the htlc has been locked in.
	InitAuth *InitAuthorization

	// AuthExpiry is the wall clock deadline of InitAuth.
	AuthExpiry time.Time

	// HtlcExpiryHeight is the absolute block height at which the held
	// htlc times out.
	HtlcExpiryHeight int32

	// Preimage is the payment preimage revealed by the escrow claim. Nil
	// until the claim has been observed.
	Preimage *lntypes.Preimage
}

// IsInitiated returns true if the swap has progressed past quote creation,
// meaning funds are locked on at least one side.
func (c *LightningReceiveContract) IsInitiated() bool {
	return c.State != StateCreated
}

// IsSuccess returns true if the swap reached its terminal success state.
func (c *LightningReceiveContract) IsSuccess() bool {
	return c.State == StateSettled
}

// IsFailed returns true if the swap reached a terminal failure state.
func (c *LightningReceiveContract) IsFailed() bool {
	return c.State < 0
}

// OutputAmount returns the total amount paid out on the smart chain, in
// token base units.
func (c *LightningReceiveContract) OutputAmount() *big.Int {
	return c.TotalToken
}

// EscrowHash returns the escrow claim hash and true once escrow data exists
// for this swap.
func (c *LightningReceiveContract) EscrowHash() (common.Hash, bool) {
	if c.Escrow == nil {
		return common.Hash{}, false
	}

	return c.Escrow.ClaimHash, true
}
