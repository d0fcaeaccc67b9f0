package models

import "errors"

// Error taxonomy shared across the engine. Guard and validation failures
// come back to the caller synchronously; verification and reconciliation
// issues surface through alerts only.
var (
	ErrRejectedByGuard   = errors.New("rejected by guard")
	ErrUnverified        = errors.New("execution unverified")
	ErrStaleData         = errors.New("market data stale")
	ErrInvalidComparator = errors.New("invalid comparator")
	ErrMalformedIntent   = errors.New("malformed intent")
)
