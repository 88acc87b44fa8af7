package services

import (
	"errors"
	"fmt"
)

var (
	ErrNotAuthenticated   = errors.New("not authenticated")
	ErrPeerNotFound       = errors.New("user not found")
	ErrWriteFailed        = errors.New("write failed")
	ErrListener           = errors.New("sync lost")
	ErrInvalidUserID      = errors.New("invalid user id")
	ErrSelfConversation   = errors.New("cannot start a conversation with yourself")
	ErrInvalidMessage     = errors.New("message must have either text or image")
	ErrInvalidExpiry      = errors.New("unsupported ephemeral duration")
	ErrMessageNotFound    = errors.New("message not found")
	ErrNotMessageOwner    = errors.New("only the sender can change this message")
	ErrUserExists         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrMissingFields      = errors.New("all fields are required")
)

func writeFailed(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrWriteFailed, op, err)
}
