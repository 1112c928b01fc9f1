package domain

import (
	"errors"
	"fmt"
)

// Kind groups error codes into the categories callers branch on.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindAuthorization Kind = "authorization"
	KindNotFound      Kind = "not_found"
	KindState         Kind = "state"
	KindResource      Kind = "resource"
	KindTransfer      Kind = "transfer"
	KindInternal      Kind = "internal"
)

// Code is a stable, machine readable failure identifier.
type Code string

// Error is the failure type returned by every ledger operation.
type Error struct {
	Code    Code
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches on Code so that errors carrying extra detail still compare equal
// to the exported sentinels.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

func newError(kind Kind, code Code, msg string) *Error {
	return &Error{Code: code, Kind: kind, Message: msg}
}

// withDetail returns a copy of e with a more specific message.
func (e *Error) withDetail(format string, args ...any) *Error {
	return &Error{Code: e.Code, Kind: e.Kind, Message: fmt.Sprintf(format, args...), cause: e.cause}
}

// wrap returns a copy of e that carries cause.
func (e *Error) wrap(cause error) *Error {
	return &Error{Code: e.Code, Kind: e.Kind, Message: e.Message, cause: cause}
}

var (
	ErrInvalidAmount        = newError(KindValidation, "INVALID_AMOUNT", "amount must be greater than zero")
	ErrInvalidCapitalAmount = newError(KindValidation, "INVALID_CAPITAL_AMOUNT", "capital required must be positive and not exceed total capital")
	ErrDuplicateActivity    = newError(KindValidation, "DUPLICATE_ACTIVITY", "activity id already used")
	ErrInvalidIdentity      = newError(KindValidation, "INVALID_IDENTITY", "identity must not be empty")

	ErrNotAuthorized       = newError(KindAuthorization, "NOT_AUTHORIZED", "caller is not allowed to perform this operation")
	ErrInactiveParticipant = newError(KindAuthorization, "INACTIVE_PARTICIPANT", "participant is not active")

	ErrParticipantNotFound = newError(KindNotFound, "PARTICIPANT_NOT_FOUND", "participant not found")
	ErrActivityNotFound    = newError(KindNotFound, "ACTIVITY_NOT_FOUND", "activity not found")

	ErrInvalidActivityStatus = newError(KindState, "INVALID_ACTIVITY_STATUS", "activity is not in the required status")
	ErrAlreadyParticipant    = newError(KindState, "ALREADY_PARTICIPANT", "identity is already an active participant")
	ErrAlreadyInitialized    = newError(KindState, "ALREADY_INITIALIZED", "reserve configuration is locked")
	ErrNotInitialized        = newError(KindState, "NOT_INITIALIZED", "reserve has not been initialized")
	ErrSystemPaused          = newError(KindState, "SYSTEM_PAUSED", "operation is paused")
	ErrReentrantCall         = newError(KindState, "REENTRANT_CALL", "operation invoked while a settlement is in progress")

	ErrInsufficientContribution = newError(KindResource, "INSUFFICIENT_CONTRIBUTION", "contribution below the configured minimum")
	ErrMaxParticipantsReached   = newError(KindResource, "MAX_PARTICIPANTS_REACHED", "participant cap reached")
	ErrInsufficientBalance      = newError(KindResource, "INSUFFICIENT_BALANCE", "amount exceeds contributed capital")
	ErrInsufficientLiquidity    = newError(KindResource, "INSUFFICIENT_LIQUIDITY", "amount exceeds reserve liquidity")
	ErrInsufficientCapital      = newError(KindResource, "INSUFFICIENT_CAPITAL", "reserve capital below the activity requirement")

	ErrTransferFailed = newError(KindTransfer, "TRANSFER_FAILED", "payout could not be completed")

	ErrMathOverflow      = newError(KindInternal, "MATH_OVERFLOW", "arithmetic overflow")
	ErrPersistenceFailed = newError(KindInternal, "PERSISTENCE_FAILED", "ledger changes could not be stored")
)

// CodeOf returns the stable code carried by err, or "" for foreign errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// KindOf returns the category of err. Foreign errors report KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
