package domain

import "errors"

// Sentinel errors for the application.
var (
	ErrNotFound       = errors.New("resource not found")
	ErrUnauthorized   = errors.New("unauthorized access")
	ErrForbidden      = errors.New("forbidden")
	ErrConflict       = errors.New("resource already exists")
	ErrInvalidInput   = errors.New("invalid input")
	ErrTransient      = errors.New("transient network failure")
	ErrNotConnected   = errors.New("push channel not connected")
	ErrMutationFailed = errors.New("mutation failed")
)
