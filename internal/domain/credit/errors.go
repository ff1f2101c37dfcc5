package credit

import "errors"

var (
	// ErrInvalidAmount is returned when amount is <= 0
	ErrInvalidAmount = errors.New("invalid amount: must be greater than 0")

	// ErrInvalidType is returned for a transaction type the operation does not accept
	ErrInvalidType = errors.New("invalid transaction type")

	// ErrAlreadyRefunded is returned when a refund for the same reference was already recorded
	ErrAlreadyRefunded = errors.New("refund already recorded")

	ErrInternal = errors.New("internal error")
)
