// Package service implements account provisioning, key lifecycle and
// reconciliation on top of the upstream gateway.
package service

import "errors"

// Service errors. Handlers map them to HTTP status codes.
var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrNotAllowed      = errors.New("not allowed")
	ErrConflict        = errors.New("already exists")
	ErrNotFound        = errors.New("not found")
	ErrInternal        = errors.New("internal error")
	ErrInvalidInput    = errors.New("invalid input")
)
