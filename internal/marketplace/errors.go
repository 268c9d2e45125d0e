package marketplace

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind types an adapter failure so callers can pick a recovery path.
type ErrorKind string

const (
	KindAuth       ErrorKind = "authentication"
	KindRateLimit  ErrorKind = "rate_limit"
	KindValidation ErrorKind = "validation"
	KindNetwork    ErrorKind = "network"
	KindNotFound   ErrorKind = "not_found"
)

// Error is a typed marketplace failure.
type Error struct {
	Kind        ErrorKind
	Marketplace string
	Message     string
	ResetAt     *time.Time // set for rate-limit errors
	Err         error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Marketplace, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Marketplace, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func NewError(kind ErrorKind, marketplace, message string, err error) *Error {
	return &Error{Kind: kind, Marketplace: marketplace, Message: message, Err: err}
}

func kindOf(err error) (ErrorKind, bool) {
	var me *Error
	if errors.As(err, &me) {
		return me.Kind, true
	}
	return "", false
}

// IsNotFound reports whether err means the listing no longer exists on the
// marketplace. Delisting treats this as an idempotent success.
func IsNotFound(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindNotFound
}

// IsAuth reports whether err is an authentication failure. These are never
// retried with backoff since only a re-auth flow can fix them.
func IsAuth(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindAuth
}

// IsValidation reports whether err is a payload validation rejection.
func IsValidation(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindValidation
}

// Retryable reports whether err is worth retrying with backoff: network
// failures, marketplace 5xx, and marketplace-side rate limits. Untyped
// errors are assumed transient.
func Retryable(err error) bool {
	k, ok := kindOf(err)
	if !ok {
		return true
	}
	return k == KindNetwork || k == KindRateLimit
}
