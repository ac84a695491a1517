package swapmm

import (
	"time"

	"github.com/btcsuite/btcd/btcutil"
)

var (
	// DefaultSwapCheckInterval is the default watchdog tick interval at
	// which every open swap is re-examined against live sources.
	DefaultSwapCheckInterval = 15 * time.Second

	// DefaultMinCltvDelta is the default minimum number of blocks that
	// must remain until the held htlc expires for us to sign an escrow
	// authorization. It protects against settling into an htlc that is
	// about to time out.
	DefaultMinCltvDelta = int32(72)

	// DefaultAuthGraceDelta is the default number of blocks subtracted
	// from the remaining htlc margin when computing the authorization
	// expiry, leaving room to refund before the htlc times out.
	DefaultAuthGraceDelta = int32(12)

	// DefaultInvoiceExpiry is the default expiry of created hold
	// invoices. An unpaid quote disappears after this.
	DefaultInvoiceExpiry = time.Hour

	// DefaultMinSwapAmount is the default minimum swap amount.
	DefaultMinSwapAmount = btcutil.Amount(10_000)

	// DefaultMaxSwapAmount is the default maximum swap amount.
	DefaultMaxSwapAmount = btcutil.Amount(10_000_000)

	// DefaultDepositAPYPPM is the default per-year opportunity cost rate
	// of locked deposits, in parts per million.
	DefaultDepositAPYPPM = int64(50_000)

	// bitcoinBlockDuration is the expected Bitcoin block interval, used
	// to convert block deltas into wall clock deadlines.
	bitcoinBlockDuration = 10 * time.Minute
)
