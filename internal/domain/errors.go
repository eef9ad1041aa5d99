package domain

import "errors"

var (
	ErrNotFound             = errors.New("not found")
	ErrNoCredential         = errors.New("no registered credential")
	ErrUnauthenticated      = errors.New("not authenticated")
	ErrSessionExpired       = errors.New("session expired")
	ErrUserCancelled        = errors.New("user cancelled")
	ErrUnsupportedPlatform  = errors.New("platform authenticator unavailable")
	ErrRegistrationFailed   = errors.New("registration failed")
	ErrInvalidTrade         = errors.New("invalid trade parameters")
	ErrUnsupportedMarket    = errors.New("unsupported market")
	ErrSimulationFailed     = errors.New("transaction simulation failed")
	ErrSubmissionFailed     = errors.New("transaction submission failed")
	ErrTransactionTimeout   = errors.New("transaction confirmation timed out")
	ErrOperationInProgress  = errors.New("operation already in progress")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrInsufficientPosition = errors.New("insufficient vault position")
	ErrRateLimited          = errors.New("rate limited")
)
