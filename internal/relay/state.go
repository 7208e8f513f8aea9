package relay

// State is a step of one quote+confirm relay.
type State string

const (
	StateQuoted           State = "QUOTED"
	StateAwaitingDeposit  State = "AWAITING_DEPOSIT"
	StateDepositConfirmed State = "DEPOSIT_CONFIRMED"
	StateSwapSubmitted    State = "SWAP_SUBMITTED"
	StateSwapConfirmed    State = "SWAP_CONFIRMED"
	StateForwarding       State = "FORWARDING"
	StateCompleted        State = "COMPLETED"

	StateCancelled      State = "CANCELLED"
	StateDepositTimeout State = "DEPOSIT_TIMEOUT"
	StateSwapFailed     State = "SWAP_FAILED"
	StateForwardFailed  State = "FORWARD_FAILED"
)

var transitions = map[State][]State{
	StateQuoted:           {StateAwaitingDeposit, StateCancelled},
	StateAwaitingDeposit:  {StateDepositConfirmed, StateDepositTimeout},
	StateDepositConfirmed: {StateSwapSubmitted, StateSwapFailed},
	StateSwapSubmitted:    {StateSwapConfirmed, StateSwapFailed},
	StateSwapConfirmed:    {StateForwarding},
	StateForwarding:       {StateCompleted, StateForwardFailed},
}

// CanTransition reports whether to directly follows s.
func (s State) CanTransition(to State) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

func (s State) Terminal() bool {
	_, ok := transitions[s]
	return !ok
}

// DestroysWallet reports whether reaching s erases the relay's wallet.
// A failed forward keeps the funds-bearing key for manual recovery.
func (s State) DestroysWallet() bool {
	return s.Terminal() && s != StateForwardFailed
}
