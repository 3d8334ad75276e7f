package core

import (
	"errors"
	"fmt"

	"github.com/kiraleos/patient-portal/internal/store"
)

var (
	ErrValidation    = errors.New("validation failed")
	ErrNotFound      = errors.New("not found")
	ErrAIUnavailable = errors.New("failed to get AI response")
	ErrStorage       = errors.New("storage failure")
)

func validationError(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}

// storageError classifies store errors for callers. Not-found passes through
// as ErrNotFound; everything else is a storage failure.
func storageError(op string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%s: %w: %v", op, ErrNotFound, err)
	}
	return fmt.Errorf("%s: %w: %v", op, ErrStorage, err)
}
