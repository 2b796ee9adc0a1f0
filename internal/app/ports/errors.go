package ports

import (
	"errors"

	"econcore/internal/domain/ledger"
	"econcore/internal/domain/outcome"
	"econcore/internal/domain/workflow"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")

	ErrInvalidRequest    = errors.New("invalid request")
	ErrAccountNotFound   = errors.New("account not found")
	ErrSessionConflict   = errors.New("session conflict")
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionExpired    = errors.New("session expired")
	ErrInsufficientFunds = ledger.ErrInsufficientFunds
	ErrCooldownActive    = outcome.ErrCooldownActive
	ErrUnauthorized      = workflow.ErrUnauthorized
	ErrInvalidTransition = workflow.ErrInvalidTransition
)
