package swap

import (
	"context"
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/ethereum/go-ethereum/common"
)

// exactOutTolerancePct widens the amount bounds for token-denominated
// exact-out requests, because the exact pre-fee satoshi amount cannot be
// known before pricing.
const exactOutTolerancePct = 5

// FeeSchedule is the base plus proportional fee charged on a swap.
type FeeSchedule struct {
	// BaseFee is the flat fee component in satoshis.
	BaseFee btcutil.Amount

	// FeePPM is the proportional component in parts per million.
	FeePPM int64
}

// Price is a prefetched spot price handle, expressed as token base units per
// satoshi in num/denom form. It is produced by PreFetchPrice and passed back
// into the conversion calls so that one request prices all of its
// conversions consistently.
type Price struct {
	// Num is the numerator of the token-per-satoshi ratio.
	Num *big.Int

	// Denom is the denominator of the token-per-satoshi ratio.
	Denom *big.Int
}

// PriceOracle provides spot price conversions between satoshis and token
// base units.
type PriceOracle interface {
	// PreFetchPrice fetches and caches the spot price for the given
	// token so that subsequent conversions don't block on price I/O.
	PreFetchPrice(ctx context.Context, chainID string,
		token common.Address) (*Price, error)

	// ToBtcAmount converts a token amount to satoshis. A nil price means
	// the oracle fetches one itself.
	ToBtcAmount(ctx context.Context, chainID string, token common.Address,
		amount *big.Int, roundUp bool, price *Price) (btcutil.Amount,
		error)

	// FromBtcAmount converts a satoshi amount to token base units. A nil
	// price means the oracle fetches one itself.
	FromBtcAmount(ctx context.Context, chainID string,
		token common.Address, amount btcutil.Amount, roundUp bool,
		price *Price) (*big.Int, error)
}

// QuoteRequest describes one requested swap quote. Exactly one of AmountSat
// (exact-in) and AmountToken (exact-out) is set.
type QuoteRequest struct {
	// ChainID identifies the smart chain the swap settles on.
	ChainID string

	// Token is the output token.
	Token common.Address

	// DepositToken is the token the security deposit is denominated in.
	DepositToken common.Address

	// AmountSat is the exact-in amount in satoshis. Zero for exact-out
	// requests.
	AmountSat btcutil.Amount

	// AmountToken is the exact-out amount in token base units. Nil for
	// exact-in requests.
	AmountToken *big.Int

	// ExpirySeconds is how long the escrow locks funds, driving the
	// variable component of the security deposit.
	ExpirySeconds int64
}

// ExactOut returns true if the request specifies the token output amount
// rather than the satoshi input amount.
func (r *QuoteRequest) ExactOut() bool {
	return r.AmountToken != nil
}

// Quote is the result of a quote computation. All token amounts are in base
// units.
type Quote struct {
	// AmountSat is the satoshi amount the payer must deliver.
	AmountSat btcutil.Amount

	// SwapFee is the fee charged, in satoshis.
	SwapFee btcutil.Amount

	// SwapFeeToken is the fee charged, in output token units.
	SwapFeeToken *big.Int

	// TotalToken is the total escrow payout in output token units.
	TotalToken *big.Int

	// SecurityDeposit is the refund collateral in deposit token units.
	SecurityDeposit *big.Int
}

// QuoterConfig contains the quoter's dependencies and parameters.
type QuoterConfig struct {
	// Oracle converts between satoshis and token units.
	Oracle PriceOracle

	// Schedule is the configured fee schedule.
	Schedule FeeSchedule

	// Limits are the configured amount bounds.
	Limits Limits

	// DepositAPYPPM is the per-year opportunity cost rate of the locked
	// deposit, in parts per million.
	DepositAPYPPM int64

	// Hooks may override fee decisions or veto quotes.
	Hooks []Hook
}

// Quoter deterministically converts a requested amount into a full quote:
// the counter-denomination, the fee and the refund security deposit.
type Quoter struct {
	cfg *QuoterConfig
}

// NewQuoter returns a new quoter instance.
func NewQuoter(cfg *QuoterConfig) *Quoter {
	return &Quoter{cfg: cfg}
}

// PreCheck runs the pre-pricing hook pass and validates exact-in amounts
// against the configured bounds. It returns the fee schedule to use for the
// rest of the computation. No chain or oracle calls are made here, so
// callers run it before starting any pre-fetches.
func (q *Quoter) PreCheck(ctx context.Context, req *QuoteRequest) (
	*FeeSchedule, error) {

	schedule := q.cfg.Schedule

	for _, hook := range q.cfg.Hooks {
		result, err := hook.OnQuoteRequest(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("quote request hook: %w", err)
		}

		switch r := result.(type) {
		case NoOpinion:

		case FeeOverride:
			schedule = r.Schedule

		case Reject:
			return nil, &QuoteRejectedError{Reason: r.Reason}

		default:
			return nil, fmt.Errorf("unexpected pre-check hook "+
				"result %T", result)
		}
	}

	// Exact-in amounts are known up front and checked strictly. Exact-out
	// amounts can only be checked after pricing.
	if !req.ExactOut() {
		if err := q.cfg.Limits.Check(req.AmountSat, 0); err != nil {
			return nil, err
		}
	}

	return &schedule, nil
}

// Quote computes the full quote for the request. The price handles and the
// base deposit (the chain's estimated refund transaction fee) are supplied
// by the caller, which pre-fetches them concurrently: price converts the
// output token, depositPrice the deposit token. A nil handle makes the
// oracle fetch the price itself. The schedule comes from PreCheck.
func (q *Quoter) Quote(ctx context.Context, req *QuoteRequest,
	schedule *FeeSchedule, price, depositPrice *Price,
	baseDeposit *big.Int) (*Quote, error) {

	var (
		quote Quote
		err   error
	)

	if req.ExactOut() {
		// Convert the requested token output to its satoshi value,
		// then invert the fee formula to find the pre-fee amount.
		outputSat, err := q.cfg.Oracle.ToBtcAmount(
			ctx, req.ChainID, req.Token, req.AmountToken, true,
			price,
		)
		if err != nil {
			return nil, fmt.Errorf("price token amount: %w", err)
		}

		quote.AmountSat = InvertFee(
			outputSat, schedule.BaseFee, schedule.FeePPM,
		)
		err = q.cfg.Limits.Check(
			quote.AmountSat, exactOutTolerancePct,
		)
		if err != nil {
			return nil, err
		}

		quote.SwapFee = quote.AmountSat - outputSat
		quote.TotalToken = new(big.Int).Set(req.AmountToken)
	} else {
		quote.AmountSat = req.AmountSat
		quote.SwapFee = CalcFee(
			req.AmountSat, schedule.BaseFee, schedule.FeePPM,
		)

		// The payout is floored so that rounding always favors the
		// intermediary.
		quote.TotalToken, err = q.cfg.Oracle.FromBtcAmount(
			ctx, req.ChainID, req.Token,
			req.AmountSat-quote.SwapFee, false, price,
		)
		if err != nil {
			return nil, fmt.Errorf("price swap amount: %w", err)
		}
	}

	quote.SwapFeeToken, err = q.cfg.Oracle.FromBtcAmount(
		ctx, req.ChainID, req.Token, quote.SwapFee, true, price,
	)
	if err != nil {
		return nil, fmt.Errorf("price swap fee: %w", err)
	}

	depositValue, err := q.cfg.Oracle.FromBtcAmount(
		ctx, req.ChainID, req.DepositToken, quote.AmountSat, true,
		depositPrice,
	)
	if err != nil {
		return nil, fmt.Errorf("price deposit value: %w", err)
	}
	quote.SecurityDeposit = SecurityDeposit(
		baseDeposit, depositValue, q.cfg.DepositAPYPPM,
		req.ExpirySeconds,
	)

	for _, hook := range q.cfg.Hooks {
		result, err := hook.OnQuotePriced(ctx, req, &quote)
		if err != nil {
			return nil, fmt.Errorf("quote priced hook: %w", err)
		}

		switch r := result.(type) {
		case NoOpinion:

		case FullQuote:
			// The hook supplied its own accepted amount, so the
			// configured bounds are not re-applied.
			return r.Quote, nil

		case Reject:
			return nil, &QuoteRejectedError{Reason: r.Reason}

		default:
			return nil, fmt.Errorf("unexpected post-check hook "+
				"result %T", result)
		}
	}

	return &quote, nil
}
