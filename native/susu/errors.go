package susu

import "errors"

var (
	ErrCircleNotFound              = errors.New("susu: circle not found")
	ErrUnauthorized                = errors.New("susu: unauthorized")
	ErrAlreadyJoined               = errors.New("susu: already joined")
	ErrMaxMembersReached           = errors.New("susu: max members reached")
	ErrCycleNotComplete            = errors.New("susu: cycle not complete")
	ErrInsufficientAllowance       = errors.New("susu: insufficient allowance")
	ErrInvalidFeeConfig            = errors.New("susu: invalid fee config")
	ErrDuplicatePayout             = errors.New("susu: payout already received this cycle")
	ErrDuplicateEarlyPayoutRequest = errors.New("susu: early payout already requested")
	ErrNoPendingEarlyPayoutRequest = errors.New("susu: no pending early payout request")
	ErrAlreadyRecipient            = errors.New("susu: member is already the current recipient")
	ErrAlreadyInitialized          = errors.New("susu: protocol already initialized")
	ErrNotInitialized              = errors.New("susu: protocol not initialized")
	ErrAlreadyContributed          = errors.New("susu: already contributed this cycle")
	ErrInvalidCircle               = errors.New("susu: invalid circle")
	ErrCircleIDExhausted           = errors.New("susu: circle identifiers exhausted")
	ErrCustodyNotConfigured        = errors.New("susu: custody address not configured")
)
