package swapmm

import (
	"context"
	"math/big"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/ethereum/go-ethereum/common"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightswap/swapmm/swapdb"
)

// InvoiceState is the lifecycle state of a hold invoice as reported by the
// Lightning node.
type InvoiceState uint8

const (
	// InvoiceOpen means the invoice has not been paid yet.
	InvoiceOpen InvoiceState = iota

	// InvoiceAccepted means the htlc is locked in but not settled: the
	// hold state.
	InvoiceAccepted

	// InvoiceSettled means the invoice has been settled with the
	// preimage.
	InvoiceSettled

	// InvoiceCanceled means the invoice was canceled back.
	InvoiceCanceled
)

// Invoice is the hold invoice view the swap code needs.
type Invoice struct {
	// PaymentRequest is the encoded invoice.
	PaymentRequest string

	// Hash is the payment hash.
	Hash lntypes.Hash

	// AmtPaid is the amount locked in by held htlcs.
	AmtPaid btcutil.Amount

	// State is the invoice state.
	State InvoiceState

	// HtlcExpiryHeight is the lowest absolute timeout height across the
	// held htlcs. Only meaningful in the accepted state.
	HtlcExpiryHeight int32
}

// Channel describes one of our Lightning channels.
type Channel struct {
	// ChannelID is the short channel id.
	ChannelID uint64

	// LocalBalance is our balance in the channel.
	LocalBalance btcutil.Amount

	// RemoteBalance is the remote balance, our inbound capacity.
	RemoteBalance btcutil.Amount

	// Active indicates the channel is usable.
	Active bool
}

// LightningNode is the hold invoice facade of the Lightning node. All calls
// block on node I/O and honor context cancellation.
type LightningNode interface {
	// AddHoldInvoice creates a hold invoice for the given payment hash.
	AddHoldInvoice(ctx context.Context, hash lntypes.Hash,
		amt btcutil.Amount, memo string, cltvDelta int32,
		expiry time.Duration) (string, error)

	// LookupInvoice returns the current state of an invoice, or nil if
	// the node no longer knows it.
	LookupInvoice(ctx context.Context, hash lntypes.Hash) (*Invoice,
		error)

	// SubscribeInvoice streams invoice updates until the invoice reaches
	// a final state or the context is canceled. The invoice's current
	// state is replayed as the first update, so a transition that
	// happened before the subscription was in place is not lost.
	SubscribeInvoice(ctx context.Context, hash lntypes.Hash) (
		<-chan *Invoice, <-chan error, error)

	// CancelInvoice cancels back a hold invoice.
	CancelInvoice(ctx context.Context, hash lntypes.Hash) error

	// SettleInvoice settles the hold invoice whose hash matches the
	// given preimage.
	SettleInvoice(ctx context.Context, preimage lntypes.Preimage) error

	// ListChannels returns our channels.
	ListChannels(ctx context.Context, activeOnly bool) ([]Channel, error)

	// GetBlockHeight returns the node's current best block height.
	GetBlockHeight(ctx context.Context) (int32, error)
}

// CommitStatusType is the live on-chain status of an escrow.
type CommitStatusType uint8

const (
	// StatusNotCommitted means no escrow initialization has been
	// observed.
	StatusNotCommitted CommitStatusType = iota

	// StatusCommitted means the escrow is funded and claimable.
	StatusCommitted

	// StatusPaid means the escrow has been claimed and the secret is
	// available.
	StatusPaid

	// StatusExpired means the escrow window elapsed without a commit.
	StatusExpired

	// StatusRefundable means the escrow was committed and has expired
	// unclaimed, so the funder can reclaim it.
	StatusRefundable
)

// CommitStatus is the result of a live escrow status query.
type CommitStatus struct {
	// Type is the status discriminator.
	Type CommitStatusType

	// ClaimTxID is the claim transaction id, set when paid.
	ClaimTxID string

	// ClaimSecret is the secret revealed by the claim, set when paid.
	ClaimSecret *lntypes.Preimage
}

// ChainClient is the per-chain escrow contract interface.
type ChainClient interface {
	// ChainID identifies the chain this client talks to.
	ChainID() string

	// Address is the intermediary's address on this chain.
	Address() common.Address

	// NativeToken is the chain's native currency token address, used to
	// denominate security deposits.
	NativeToken() common.Address

	// NewEscrow assembles the escrow parameters for a swap.
	NewEscrow(payee, token common.Address, amount *big.Int,
		claimHash common.Hash, sequence uint64,
		expiry int64) (*swapdb.EscrowData, error)

	// SignInit signs an off-chain authorization for the client to submit
	// the escrow initialization, valid until authExpiry.
	SignInit(ctx context.Context, escrow *swapdb.EscrowData,
		authExpiry time.Time) (*swapdb.InitAuthorization, error)

	// CommitStatus queries the live on-chain status of an escrow.
	CommitStatus(ctx context.Context, escrow *swapdb.EscrowData) (
		*CommitStatus, error)

	// Refund reclaims an expired, committed escrow and returns the
	// refund transaction id.
	Refund(ctx context.Context, escrow *swapdb.EscrowData) (string, error)

	// Balance returns the spendable balance of the given token. Cached
	// reads may be slightly stale but avoid an RPC round trip.
	Balance(ctx context.Context, token common.Address, cached bool) (
		*big.Int, error)

	// RefundFeeEstimate estimates the fee of a refund transaction in
	// native token units. It is the base of the security deposit.
	RefundFeeEstimate(ctx context.Context) (*big.Int, error)
}

// ChainEventType tags escrow contract events.
type ChainEventType uint8

const (
	// EventInitialize is an escrow initialization.
	EventInitialize ChainEventType = iota

	// EventClaim is an escrow claim, revealing the secret.
	EventClaim

	// EventRefund is an escrow refund.
	EventRefund
)

// String returns a human readable event tag.
func (e ChainEventType) String() string {
	switch e {
	case EventInitialize:
		return "initialize"
	case EventClaim:
		return "claim"
	case EventRefund:
		return "refund"
	default:
		return "unknown"
	}
}

// ChainEvent is a single escrow contract event.
type ChainEvent struct {
	// Type is the event tag.
	Type ChainEventType

	// ClaimHash is the escrow hash the event belongs to.
	ClaimHash common.Hash

	// TxID is the transaction that produced the event.
	TxID string

	// Secret is the revealed claim secret, set on claim events only.
	Secret *lntypes.Preimage
}

// ChainEvents is a push based source of escrow events for one chain. Events
// are delivered in chain order; there is no cross-chain ordering guarantee.
type ChainEvents interface {
	// RegisterListener registers the callback receiving event batches.
	RegisterListener(func(events []*ChainEvent))
}

// SwapStatusCode is the coded status shared across flows, consumed by the
// status poll of the transport layer.
type SwapStatusCode string

const (
	// StatusUnpaid means no funds have been locked on either side.
	StatusUnpaid SwapStatusCode = "unpaid"

	// StatusProcessing means funds are locked and the swap is in flight.
	StatusProcessing SwapStatusCode = "processing"

	// StatusSent means the payout side has completed.
	StatusSent SwapStatusCode = "sent"

	// StatusConfirmed means the swap settled successfully.
	StatusConfirmed SwapStatusCode = "confirmed"

	// StatusRefundableSwap means the escrow expired unclaimed and is
	// being, or has been, reclaimed.
	StatusRefundableSwap SwapStatusCode = "refundable"

	// StatusExpiredSwap means the swap expired before any commitment.
	StatusExpiredSwap SwapStatusCode = "expired"
)

// ReceiveSwapRequest is a client request to swap Lightning Bitcoin for
// tokens on a smart chain.
type ReceiveSwapRequest struct {
	// ChainID is the settlement chain.
	ChainID string

	// Token is the requested output token.
	Token common.Address

	// Claimer is the client address that will claim the escrow.
	Claimer common.Address

	// PaymentHash is the hash of the client-held secret. It doubles as
	// the escrow claim hash.
	PaymentHash lntypes.Hash

	// Sequence disambiguates re-quotes sharing a payment hash.
	Sequence uint64

	// AmountSat is the exact-in amount. Zero for exact-out requests.
	AmountSat btcutil.Amount

	// AmountToken is the exact-out token amount. Nil for exact-in.
	AmountToken *big.Int

	// ExpirySeconds is the requested escrow lifetime.
	ExpirySeconds int64
}

// ReceiveSwapResponse is the accepted quote handed back to the client.
type ReceiveSwapResponse struct {
	// Invoice is the hold invoice to pay.
	Invoice string

	// FeeToken is the swap fee in output token units.
	FeeToken *big.Int

	// TotalToken is the escrow payout in output token units.
	TotalToken *big.Int

	// IntermediaryAddress is our address on the settlement chain.
	IntermediaryAddress common.Address

	// SecurityDeposit is the refund collateral in native token units.
	SecurityDeposit *big.Int
}

// ReceiveSwapStatus is the status poll result for a receive swap.
type ReceiveSwapStatus struct {
	// Status is the coded swap status.
	Status SwapStatusCode

	// TxID is the most relevant transaction id observed so far, if any.
	TxID string

	// InitAuth is the signed escrow initialization authorization, once
	// the htlc is locked in. The client submits it on-chain.
	InitAuth *swapdb.InitAuthorization
}
