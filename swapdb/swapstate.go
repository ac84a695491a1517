package swapdb

// SwapState indicates the current state of a swap. States are signed: the
// zero value is the freshly quoted swap, positive values progress toward
// settlement and negative values are terminal failures. A state only ever
// moves forward along the flow's transition graph or sideways into a
// terminal failure state.
type SwapState int8

const (
	// StateRefunded is the terminal failure state that is reached when
	// the escrow expired after being committed and the locked collateral
	// was reclaimed by the intermediary.
	StateRefunded SwapState = -2

	// StateCanceled is the terminal failure state that is reached when
	// the swap was abandoned before any funds were committed on the smart
	// chain. The hold invoice has been canceled back.
	StateCanceled SwapState = -1

	// StateCreated is the initial state of a swap. A quote has been
	// handed out and a hold invoice created, but no funds have moved on
	// either side yet.
	StateCreated SwapState = 0

	// StateReceived is reached when the hold invoice's htlc is locked in
	// and the escrow initialization authorization has been signed. The
	// client can now commit the escrow on-chain.
	StateReceived SwapState = 1

	// StateCommitted is reached when the escrow initialization was
	// observed on the smart chain.
	StateCommitted SwapState = 2

	// StateClaimed is reached when the escrow claim was observed and the
	// payment preimage is known. The invoice settle may still be
	// outstanding, which is why this state is persisted before the settle
	// call is attempted.
	StateClaimed SwapState = 3

	// StateSettled is the terminal success state, reached once the hold
	// invoice has been settled with the revealed preimage.
	StateSettled SwapState = 4
)

// SwapStateType defines the broad categories every SwapState falls into.
type SwapStateType uint8

const (
	// StateTypePending indicates that the swap is still pending.
	StateTypePending SwapStateType = 0

	// StateTypeSuccess indicates that the swap has completed
	// successfully.
	StateTypeSuccess SwapStateType = 1

	// StateTypeFail indicates that the swap has failed.
	StateTypeFail SwapStateType = 2
)

// Type returns the type of the SwapState it is called on.
func (s SwapState) Type() SwapStateType {
	switch {
	case s < 0:
		return StateTypeFail

	case s == StateSettled:
		return StateTypeSuccess

	default:
		return StateTypePending
	}
}

// IsPending returns true if the swap is in a pending state.
func (s SwapState) IsPending() bool {
	return s.Type() == StateTypePending
}

// IsFinal returns true if the swap is in a final state.
func (s SwapState) IsFinal() bool {
	return !s.IsPending()
}

// String returns a string representation of the swap's state.
func (s SwapState) String() string {
	switch s {
	case StateRefunded:
		return "Refunded"

	case StateCanceled:
		return "Canceled"

	case StateCreated:
		return "Created"

	case StateReceived:
		return "Received"

	case StateCommitted:
		return "Committed"

	case StateClaimed:
		return "Claimed"

	case StateSettled:
		return "Settled"

	default:
		return "Unknown"
	}
}

// PendingStates returns the set of non-terminal states, useful as a store
// query filter when resuming swaps after a restart.
func PendingStates() []SwapState {
	return []SwapState{
		StateCreated, StateReceived, StateCommitted, StateClaimed,
	}
}
