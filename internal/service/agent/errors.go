package agent

import "errors"

// Sentinel errors for the agent service layer. The API layer switches on
// these to pick status codes.
var (
	ErrNotFound              = errors.New("agent not found")
	ErrClientNotFound        = errors.New("client not found")
	ErrMatchNotFound         = errors.New("match not found")
	ErrTerminalState         = errors.New("agent is in a terminal state")
	ErrIllegalTransition     = errors.New("illegal lifecycle transition")
	ErrBusy                  = errors.New("a check is already in progress for this agent")
	ErrInvalidDeliveryStatus = errors.New("unknown match delivery status")
)
