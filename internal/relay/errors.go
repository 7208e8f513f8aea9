package relay

import (
	"errors"
	"fmt"
)

// Code classifies every failure a relay can surface to its caller.
type Code string

const (
	CodeValidation     Code = "ValidationError"
	CodeTokenExpired   Code = "TokenExpired"
	CodeTokenInvalid   Code = "TokenInvalid"
	CodeDepositTimeout Code = "DepositTimeout"
	CodeQuoteInvalid   Code = "QuoteInvalid"
	CodeSwapFailed     Code = "SwapFailed"
	CodeForwardFailed  Code = "ForwardFailed"
	CodeWalletNotFound Code = "WalletNotFound"
	CodeWalletUsed     Code = "WalletUsed"
	CodeInternal       Code = "InternalError"
)

// Forward failure reasons.
const (
	ReasonInsufficientReserve = "InsufficientReserve"
	ReasonNoTokensToTransfer  = "NoTokensToTransfer"
)

// Error is a classified relay failure. Details carries diagnostics such as
// expected and observed amounts; Timeout is set when the caller's own
// deadline ended the work.
type Error struct {
	Code    Code
	Message string
	Reason  string
	State   State
	Details map[string]any
	Timeout bool
	Err     error
}

func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Reason != "" {
		msg += "(" + e.Reason + ")"
	}
	msg += ": " + e.Message
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func newError(code Code, msg string, err error) *Error {
	return &Error{Code: code, Message: msg, Err: err, Details: map[string]any{}}
}

func validationError(format string, args ...any) *Error {
	return newError(CodeValidation, fmt.Sprintf(format, args...), nil)
}

func (e *Error) with(key string, val any) *Error {
	e.Details[key] = val
	return e
}

// CodeOf returns the taxonomy code of err, or CodeInternal for unclassified
// errors.
func CodeOf(err error) Code {
	var re *Error
	if errors.As(err, &re) {
		return re.Code
	}
	return CodeInternal
}

// IsTimeout reports whether err was caused by the caller's deadline.
func IsTimeout(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.Timeout
}
