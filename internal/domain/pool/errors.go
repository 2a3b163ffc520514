package pool

import "errors"

var (
	ErrUnauthorized    = errors.New("unauthorized caller")
	ErrInvalidStatus   = errors.New("operation not allowed in current status")
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrDeadlinePassed  = errors.New("funding deadline passed")
	ErrNotCompliant    = errors.New("investor not compliant")
	ErrTransferFailed  = errors.New("asset transfer failed")
	ErrNothingToClaim  = errors.New("nothing to claim")
	ErrAlreadyRefunded = errors.New("already refunded")
	ErrNotAnInvestor   = errors.New("not an investor")
	ErrReentrant       = errors.New("reentrant call")

	ErrInvalidParameters   = errors.New("invalid loan parameters")
	ErrInvalidAddress      = errors.New("invalid address")
	ErrInvestorExists      = errors.New("investor already exists")
	ErrNotFound            = errors.New("pool not found")
	ErrNativeValueRejected = errors.New("native currency not accepted")

	// ErrPartialDisbursement marks an aborted operation after which some of
	// its outbound transfers had already gone out and were not reversed.
	ErrPartialDisbursement = errors.New("operation aborted after partial disbursement")
)
