package game

import (
	"errors"
	"fmt"
)

// Kind classifies a domain failure. Both entry surfaces map kinds to their own responses.
type Kind uint8

const (
	KindInternal Kind = iota
	KindNotFound
	KindUnauthorized
	KindInvalidState
	KindInvalidMove
	KindValidation
	KindInsufficientFunds
)

func (k Kind) String() string {
	switch k {
	case KindInternal:
		return "internal"
	case KindNotFound:
		return "not_found"
	case KindUnauthorized:
		return "unauthorized"
	case KindInvalidState:
		return "invalid_state"
	case KindInvalidMove:
		return "invalid_move"
	case KindValidation:
		return "validation_error"
	case KindInsufficientFunds:
		return "insufficient_funds"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Error is a classified domain error with a human readable message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return e.Message + ": " + e.Err.Error()
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches a bare kind sentinel, so errors.Is(err, game.ErrInvalidMove) works for any message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

var (
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrUnauthorized      = &Error{Kind: KindUnauthorized}
	ErrInvalidState      = &Error{Kind: KindInvalidState}
	ErrInvalidMove       = &Error{Kind: KindInvalidMove}
	ErrValidation        = &Error{Kind: KindValidation}
	ErrInsufficientFunds = &Error{Kind: KindInsufficientFunds}
)

func NotFound(msg string) error          { return &Error{Kind: KindNotFound, Message: msg} }
func Unauthorized(msg string) error      { return &Error{Kind: KindUnauthorized, Message: msg} }
func InvalidState(msg string) error      { return &Error{Kind: KindInvalidState, Message: msg} }
func Validation(msg string) error        { return &Error{Kind: KindValidation, Message: msg} }
func InsufficientFunds(msg string) error { return &Error{Kind: KindInsufficientFunds, Message: msg} }

func InvalidMove(msg string, cause error) error {
	return &Error{Kind: KindInvalidMove, Message: msg, Err: cause}
}

// KindOf extracts the kind of err; unclassified errors are KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// MessageOf returns the user-facing message for err. Internal errors get a generic text.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindInternal {
		if e.Message != "" {
			return e.Message
		}
		return e.Kind.String()
	}
	return "internal error"
}
