package apperr

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a failure for the UI shell.
type Kind string

const (
	KindValidation    Kind = "VALIDATION"
	KindAuthorization Kind = "AUTHORIZATION"
	KindBusiness      Kind = "BUSINESS"
	KindSystem        Kind = "SYSTEM"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("already exists")
	ErrUnauthorized = errors.New("unauthorized")
	ErrNoSession    = errors.New("no active session")
)

type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Message != "":
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
}

func (e *Error) Unwrap() error { return e.Err }

func Validation(op, msg string) error {
	return &Error{Kind: KindValidation, Op: op, Message: msg}
}

func Authorization(op string, err error) error {
	return &Error{Kind: KindAuthorization, Op: op, Message: "you are not permitted to perform this action", Err: err}
}

func Business(op, msg string, err error) error {
	return &Error{Kind: KindBusiness, Op: op, Message: msg, Err: err}
}

func System(op string, err error) error {
	return &Error{Kind: KindSystem, Op: op, Message: "operation failed, please retry", Err: err}
}

// KindOf reports the kind of err. Unclassified errors are SYSTEM.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	if errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrNoSession) {
		return KindAuthorization
	}
	return KindSystem
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Classify maps a raw collaborator error onto the taxonomy. Already
// classified errors pass through untouched.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	switch {
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrNoSession):
		return Authorization(op, err)
	case errors.Is(err, context.Canceled):
		return &Error{Kind: KindSystem, Op: op, Message: "operation cancelled", Err: err}
	default:
		return System(op, err)
	}
}

// UserMessage returns the text shown in a transient notification.
func UserMessage(err error) string {
	var ae *Error
	if errors.As(err, &ae) && ae.Message != "" {
		return ae.Message
	}
	return "operation failed, please retry"
}
