package nsboot

import (
	"errors"
	"fmt"
)

// ErrorKind is the failure taxonomy shared by the engine, the HTTP surface
// and the CLI. Infrastructure errors never leak raw past the engine; every
// failure is one kind plus a human readable detail.
type ErrorKind string

const (
	ErrValidation          ErrorKind = "validation_failed"
	ErrNotFound            ErrorKind = "not_found"
	ErrNameConflict        ErrorKind = "name_conflict"
	ErrResourceInUse       ErrorKind = "resource_in_use"
	ErrPreconditionFailed  ErrorKind = "precondition_failed"
	ErrCapacityExceeded    ErrorKind = "capacity_exceeded"
	ErrProvisioningFailed  ErrorKind = "provisioning_failed"
	ErrProvisioningTimeout ErrorKind = "provisioning_timeout"
	ErrUnsupported         ErrorKind = "unsupported"
)

type Error struct {
	Kind   ErrorKind `json:"kind"`
	Detail string    `json:"error"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// KindOf returns the taxonomy kind of err, or "" for untyped errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
