package swap

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
)

// HookResult is the closed set of opinions a quote hook can return. Results
// are dispatched by type switch; a hook that has nothing to say returns
// NoOpinion.
type HookResult interface {
	hookResult()
}

// NoOpinion means the hook does not want to influence the quote.
type NoOpinion struct{}

func (NoOpinion) hookResult() {}

// FeeOverride substitutes the fee schedule used for the rest of the quote
// computation. Amount bounds are still enforced.
type FeeOverride struct {
	// Schedule is the fee schedule to use instead of the configured one.
	Schedule FeeSchedule
}

func (FeeOverride) hookResult() {}

// Reject vetoes the quote. The swap is never created.
type Reject struct {
	// Reason is surfaced to the caller.
	Reason string
}

func (Reject) hookResult() {}

// FullQuote substitutes a wholly hook-computed quote. The quoter returns it
// as-is: the hook has accepted the amount, so the configured bounds are not
// re-applied.
type FullQuote struct {
	// Quote is the substituted quote.
	Quote *Quote
}

func (FullQuote) hookResult() {}

// Hook can intercept quote computation before any chain data is consumed and
// again after pricing.
type Hook interface {
	// OnQuoteRequest runs before any chain calls are made.
	OnQuoteRequest(ctx context.Context, req *QuoteRequest) (HookResult,
		error)

	// OnQuotePriced runs after conversion and fee computation, with the
	// candidate quote.
	OnQuotePriced(ctx context.Context, req *QuoteRequest,
		quote *Quote) (HookResult, error)
}

// QuoteRejectedError is returned when a hook vetoes a quote.
type QuoteRejectedError struct {
	// Reason is the hook supplied rejection reason.
	Reason string
}

// Error implements the error interface.
func (e *QuoteRejectedError) Error() string {
	return fmt.Sprintf("quote rejected: %s", e.Reason)
}

// BoundsCode distinguishes the two ways an amount can violate the configured
// bounds.
type BoundsCode uint8

const (
	// CodeAmountTooLow indicates the amount is below the minimum.
	CodeAmountTooLow BoundsCode = iota

	// CodeAmountTooHigh indicates the amount is above the maximum.
	CodeAmountTooHigh
)

// AmountBoundsError is returned when a swap amount falls outside the
// configured limits. It carries the bounds so that callers can surface them.
type AmountBoundsError struct {
	// Code says which bound was violated.
	Code BoundsCode

	// Amount is the offending amount in satoshis.
	Amount btcutil.Amount

	// Min and Max are the configured bounds in satoshis.
	Min, Max btcutil.Amount
}

// Error implements the error interface.
func (e *AmountBoundsError) Error() string {
	if e.Code == CodeAmountTooLow {
		return fmt.Sprintf("amount %v below minimum %v",
			e.Amount, e.Min)
	}

	return fmt.Sprintf("amount %v above maximum %v", e.Amount, e.Max)
}

// Limits are the amount bounds a quote must fall into.
type Limits struct {
	// Min is the minimum swap amount in satoshis.
	Min btcutil.Amount

	// Max is the maximum swap amount in satoshis.
	Max btcutil.Amount
}

// Check validates the given amount against the limits, optionally widened by
// tolerancePct percent on both ends.
func (l Limits) Check(amount btcutil.Amount, tolerancePct int64) error {
	min := l.Min - l.Min*btcutil.Amount(tolerancePct)/100
	max := l.Max + l.Max*btcutil.Amount(tolerancePct)/100

	switch {
	case amount < min:
		return &AmountBoundsError{
			Code:   CodeAmountTooLow,
			Amount: amount,
			Min:    l.Min,
			Max:    l.Max,
		}

	case amount > max:
		return &AmountBoundsError{
			Code:   CodeAmountTooHigh,
			Amount: amount,
			Min:    l.Min,
			Max:    l.Max,
		}

	default:
		return nil
	}
}
