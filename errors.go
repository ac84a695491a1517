package swapmm

import (
	"errors"
)

var (
	// ErrUnsupportedChain is returned for quote requests naming a chain
	// we have no client for.
	ErrUnsupportedChain = errors.New("unsupported chain")

	// ErrInsufficientLiquidity is returned when the smart chain balance
	// can't cover the requested payout. The swap record is never
	// created.
	ErrInsufficientLiquidity = errors.New(
		"insufficient chain liquidity",
	)

	// ErrInsufficientInbound is returned when our Lightning channels
	// don't have the inbound capacity to receive the payment.
	ErrInsufficientInbound = errors.New(
		"insufficient inbound channel capacity",
	)

	// ErrSwapExists is returned when a quote names a (hash, sequence)
	// pair that is already tracked.
	ErrSwapExists = errors.New("swap already exists")

	// ErrInvoiceAmountMismatch is returned when the node hands back an
	// invoice whose decoded amount differs from the quoted amount.
	ErrInvoiceAmountMismatch = errors.New("invoice amount mismatch")
)
