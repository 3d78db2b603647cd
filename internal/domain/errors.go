package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidState      = errors.New("invalid state")
	ErrNotFound          = errors.New("not found")
	ErrNotMember         = errors.New("not a member of this match")
	ErrUnauthenticated   = errors.New("unauthenticated")
	ErrConflict          = errors.New("concurrent modification")
	ErrProfileIncomplete = errors.New("profile incomplete")
	ErrInvalidProfile    = errors.New("invalid profile")
	ErrEmptyMessage      = errors.New("message empty")
	ErrMessageTooLong    = errors.New("message too long")
	// ErrMatchEnded is an ErrInvalidState for chat on a terminal match.
	ErrMatchEnded = fmt.Errorf("match ended: %w", ErrInvalidState)
)

type RejectReason string

const (
	RejectInvalidIdentity RejectReason = "invalid_identity"
	RejectUnknownMatch    RejectReason = "unknown_match"
	RejectNotMember       RejectReason = "not_member"
	RejectMatchEnded      RejectReason = "match_ended"
)

// CloseCode is the websocket close code sent for the reason.
func (r RejectReason) CloseCode() int {
	switch r {
	case RejectInvalidIdentity:
		return 4001
	case RejectNotMember:
		return 4003
	case RejectUnknownMatch:
		return 4004
	case RejectMatchEnded:
		return 4010
	}
	return 4000
}

// Retryable reports whether a client may retry after re-authenticating.
func (r RejectReason) Retryable() bool { return r == RejectInvalidIdentity }

// RejectError is returned when a real-time session cannot be established.
type RejectError struct {
	Reason RejectReason
	Err    error
}

func (e *RejectError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("connection rejected: %s", e.Reason)
	}
	return fmt.Sprintf("connection rejected: %s: %v", e.Reason, e.Err)
}

func (e *RejectError) Unwrap() error { return e.Err }

// DeliveryError scopes a failed send to a single channel.
type DeliveryError struct {
	Participant ParticipantID
	Err         error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to %s: %v", e.Participant, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
