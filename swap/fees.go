package swap

import (
	"errors"
	"math/big"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/zpay32"
)

const (
	// FeeRateTotalParts defines the granularity of the fee rate.
	// Throughout the codebase, we'll use fix based arithmetic to compute
	// fees.
	FeeRateTotalParts = 1e6

	// secondsPerYear is the denominator of the proportional component of
	// the security deposit.
	secondsPerYear = 365 * 24 * 3600
)

// CalcFee returns the swap fee for a given swap amount.
func CalcFee(amount, feeBase btcutil.Amount, feeRate int64) btcutil.Amount {
	return feeBase + amount*btcutil.Amount(feeRate)/
		btcutil.Amount(FeeRateTotalParts)
}

// InvertFee solves for the pre-fee amount whose post-fee value equals the
// given output amount: (out + feeBase) / (1 - feeRate/1e6), rounded up.
// Inverting CalcFee this way reproduces the original amount within one
// satoshi of integer rounding.
func InvertFee(output, feeBase btcutil.Amount, feeRate int64) btcutil.Amount {
	numerator := int64(output+feeBase) * FeeRateTotalParts
	denominator := FeeRateTotalParts - feeRate

	return btcutil.Amount(
		(numerator + denominator - 1) / denominator,
	)
}

// SecurityDeposit computes the collateral the intermediary locks so that the
// refund transaction is self-funding if the swap fails. The base component
// is the estimated refund transaction fee doubled as a safety margin; the
// variable component is the opportunity cost of the locked swap value at the
// given per-year rate for the escrow's lifetime. All arithmetic is done on
// big integers, amounts are in deposit token base units.
func SecurityDeposit(baseDeposit, swapValue *big.Int, apyPPM,
	expirySeconds int64) *big.Int {

	deposit := new(big.Int).Lsh(baseDeposit, 1)

	variable := new(big.Int).Mul(swapValue, big.NewInt(apyPPM))
	variable.Mul(variable, big.NewInt(expirySeconds))
	variable.Div(
		variable,
		big.NewInt(int64(FeeRateTotalParts)*secondsPerYear),
	)

	return deposit.Add(deposit, variable)
}

// GetInvoiceAmt gets the invoice amount. It requires an amount to be
// specified.
func GetInvoiceAmt(params *chaincfg.Params,
	payReq string) (btcutil.Amount, error) {

	swapPayReq, err := zpay32.Decode(payReq, params)
	if err != nil {
		return 0, err
	}

	if swapPayReq.MilliSat == nil {
		return 0, errors.New("no amount in invoice")
	}

	return swapPayReq.MilliSat.ToSatoshis(), nil
}
