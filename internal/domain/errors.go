package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrInvalidJob          = errors.New("invalid job")
	ErrJobBusy             = errors.New("job busy")
	ErrDuplicateOperation  = errors.New("duplicate operation")
)
