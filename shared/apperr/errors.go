// Package apperr classifies failures of the auction engine so that callers can decide
// whether a job should be retried, surfaced, or dropped.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is the failure category of an error
type Kind int

// Kind constants
const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindConcurrency
	KindInfrastructure
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConcurrency:
		return "concurrency"
	case KindInfrastructure:
		return "infrastructure"
	default:
		return "unknown"
	}
}

// Error is a classified error. Op names the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Sentinel errors
var (
	ErrBidTooLow        = &Error{Kind: KindValidation, Err: errors.New("bid amount must be higher than current price")}
	ErrAuctionNotActive = &Error{Kind: KindValidation, Err: errors.New("auction is not active")}
	ErrInvalidAmount    = &Error{Kind: KindValidation, Err: errors.New("a valid bid amount is required")}
	ErrDuplicateBid     = &Error{Kind: KindValidation, Err: errors.New("bid already applied")}
	ErrNotItemOwner     = &Error{Kind: KindValidation, Err: errors.New("only the item's creator can do this")}
	ErrAuctionLive      = &Error{Kind: KindValidation, Err: errors.New("cannot delete an item while its auction is running")}
	ErrItemStarted      = &Error{Kind: KindValidation, Err: errors.New("cannot change an item once its auction has started")}
	ErrAuctionExists    = &Error{Kind: KindValidation, Err: errors.New("item already has an auction")}
	ErrAuctionNotFound  = &Error{Kind: KindNotFound, Err: errors.New("auction not found")}
	ErrItemNotFound     = &Error{Kind: KindNotFound, Err: errors.New("auction item not found")}
	ErrLockTimeout      = &Error{Kind: KindConcurrency, Err: errors.New("timed out acquiring auction lock")}
	ErrLockLost         = &Error{Kind: KindConcurrency, Err: errors.New("auction lock lease expired")}
	ErrConflict         = &Error{Kind: KindConcurrency, Err: errors.New("transaction conflict")}
)

// New returns a classified error
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Validation returns a validation error with a formatted message
func Validation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Err: fmt.Errorf(format, args...)}
}

// Infrastructure wraps err as an infrastructure failure of op
func Infrastructure(op string, err error) error {
	return New(KindInfrastructure, op, err)
}

// KindOf returns the kind of the outermost classified error in err's chain
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Retryable reports whether err is transient. Unclassified errors are treated as
// infrastructure failures and retried.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	switch KindOf(err) {
	case KindValidation, KindNotFound:
		return false
	default:
		return true
	}
}

// IsValidation reports whether err is a validation failure
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// IsNotFound reports whether err is a not-found failure
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }
