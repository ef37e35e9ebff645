package apperr

import "errors"

var (
	ErrNotFound  = errors.New("not found")
	ErrNoPending = errors.New("no pending edit")
)
