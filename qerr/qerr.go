// Package qerr defines the error kinds surfaced by the query engine.
// Plan construction and optimization fail eagerly with SchemaError or
// InvalidOperation; execution fails with ComputeError, ResourceExhausted
// or Cancelled. No partial result is ever paired with a non-nil error.
package qerr

import (
	stderrors "errors"
	"fmt"

	"github.com/pkg/errors"
)

type Kind uint8

const (
	KindSchema Kind = iota
	KindInvalidOperation
	KindCompute
	KindResourceExhausted
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindSchema:
		return "SchemaError"
	case KindInvalidOperation:
		return "InvalidOperation"
	case KindCompute:
		return "ComputeError"
	case KindResourceExhausted:
		return "ResourceExhausted"
	case KindCancelled:
		return "Cancelled"
	default:
		return "UnknownError"
	}
}

// Error carries a kind plus human context (operator, column) in the message.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	return e.Kind.String() + ": " + e.Msg
}

func newf(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func Schemaf(format string, args ...interface{}) error {
	return newf(KindSchema, format, args...)
}

func InvalidOpf(format string, args ...interface{}) error {
	return newf(KindInvalidOperation, format, args...)
}

func Computef(format string, args ...interface{}) error {
	return newf(KindCompute, format, args...)
}

func Exhaustedf(format string, args ...interface{}) error {
	return newf(KindResourceExhausted, format, args...)
}

func Cancelledf(format string, args ...interface{}) error {
	return newf(KindCancelled, format, args...)
}

// Wrapf adds operator context while preserving the kind.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(err, format, args...)
}

// KindOf unwraps err down to an engine Error and returns its kind.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

func IsSchema(err error) bool    { k, ok := KindOf(err); return ok && k == KindSchema }
func IsInvalidOp(err error) bool { k, ok := KindOf(err); return ok && k == KindInvalidOperation }
func IsCompute(err error) bool   { k, ok := KindOf(err); return ok && k == KindCompute }
func IsExhausted(err error) bool { k, ok := KindOf(err); return ok && k == KindResourceExhausted }
func IsCancelled(err error) bool { k, ok := KindOf(err); return ok && k == KindCancelled }
