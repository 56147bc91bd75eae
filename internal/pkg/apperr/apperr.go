// Package apperr carries the error kinds the API distinguishes. Services
// return kinded errors; handlers map them to HTTP statuses and keep the
// message, so callers can tell a rejected request from a degraded ledger.
package apperr

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
)

type Kind string

const (
	KindValidation         Kind = "VALIDATION"
	KindNotFound           Kind = "NOT_FOUND"
	KindUnauthorized       Kind = "UNAUTHORIZED"
	KindLimitExceeded      Kind = "LIMIT_EXCEEDED"
	KindInsufficientShares Kind = "INSUFFICIENT_SHARES"
	KindNoActiveHolders    Kind = "NO_ACTIVE_HOLDERS"
	KindAmountTooSmall     Kind = "AMOUNT_TOO_SMALL"
	KindLedgerUnavailable  Kind = "LEDGER_UNAVAILABLE"
	KindInconsistentState  Kind = "INCONSISTENT_STATE"
	KindInternal           Kind = "INTERNAL"
)

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match two kinded errors by kind alone, so services can
// compare against a prototype without caring about the message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying cause. The cause stays
// reachable through errors.Unwrap for logging.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func Validation(message string) *Error    { return New(KindValidation, message) }
func NotFound(message string) *Error      { return New(KindNotFound, message) }
func Unauthorized(message string) *Error  { return New(KindUnauthorized, message) }
func LimitExceeded(message string) *Error { return New(KindLimitExceeded, message) }

func InsufficientShares(message string) *Error { return New(KindInsufficientShares, message) }
func NoActiveHolders(message string) *Error    { return New(KindNoActiveHolders, message) }
func AmountTooSmall(message string) *Error     { return New(KindAmountTooSmall, message) }

func LedgerUnavailable(message string, err error) *Error {
	return Wrap(KindLedgerUnavailable, message, err)
}

func InconsistentState(message string) *Error { return New(KindInconsistentState, message) }

// KindOf extracts the kind, or KindInternal for unkinded errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Message returns the kinded message, or a generic one for unkinded errors
// so internals never leak into responses.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "Internal Server Error"
}

// Status maps an error to its HTTP status code.
func Status(err error) int {
	switch KindOf(err) {
	case KindValidation, KindAmountTooSmall, KindInsufficientShares:
		return fiber.StatusBadRequest
	case KindNotFound:
		return fiber.StatusNotFound
	case KindUnauthorized:
		return fiber.StatusUnauthorized
	case KindLimitExceeded:
		return fiber.StatusUnprocessableEntity
	case KindNoActiveHolders, KindInconsistentState:
		return fiber.StatusConflict
	case KindLedgerUnavailable:
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}
