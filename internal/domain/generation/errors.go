package generation

import (
	"errors"
	"fmt"
)

var (
	ErrTaskNotFound          = errors.New("generation task not found")
	ErrForbidden             = errors.New("task belongs to another user")
	ErrInsufficientCredits   = errors.New("insufficient credits")
	ErrProviderNotConfigured = errors.New("generation provider is not configured")
	ErrProviderSubmit        = errors.New("generation provider rejected the job")
	ErrProviderQuery         = errors.New("generation provider status query failed")
	ErrMaterialize           = errors.New("failed to materialize result image")
)

// InsufficientCreditsError carries the numbers shown to the user on a 402.
type InsufficientCreditsError struct {
	Required int `json:"required"`
	Current  int `json:"current"`
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: required %d, current %d", e.Required, e.Current)
}

func (e *InsufficientCreditsError) Unwrap() error {
	return ErrInsufficientCredits
}
