package domain

import "errors"

// Error taxonomy for the settlement engine. Services wrap these with
// fmt.Errorf and %w; handlers map them to HTTP status codes with errors.Is.
var (
	ErrValidation              = errors.New("validation failed")
	ErrNotFound                = errors.New("not found")
	ErrForbidden               = errors.New("forbidden")
	ErrProviderUnavailable     = errors.New("payment provider unavailable")
	ErrProviderRejected        = errors.New("payment provider rejected")
	ErrStateConflict           = errors.New("state conflict")
	ErrInsufficientBalance     = errors.New("insufficient balance")
	ErrMissingPaymentReference = errors.New("missing payment reference")
)
