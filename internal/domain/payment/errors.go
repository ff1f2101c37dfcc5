package payment

import "errors"

var (
	ErrInvalidPrice     = errors.New("invalid price id")
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrInvalidMetadata  = errors.New("checkout session metadata is missing user or credits")
	ErrPaymentNotFound  = errors.New("payment not found")
)
