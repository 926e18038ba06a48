// Package kernelerr defines the error taxonomy shared by the kernel core
// subsystems: a small set of kinds distinguishable with errors.Is, plus a
// panic helper for the handful of call sites the specification calls fatal.
package kernelerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error the way the original C implementation's single
// OS_RETURN_E enum did, without collapsing the distinctions that callers
// such as the disk manager's GPT/MBR fallthrough rely on.
type Kind int

const (
	InvalidArgument Kind = iota
	AlreadyExists
	NotFound
	NotSupported
	Resource
	ProtocolMismatch
	Fatal
)

func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "invalid argument"
	case AlreadyExists:
		return "already exists"
	case NotFound:
		return "not found"
	case NotSupported:
		return "not supported"
	case Resource:
		return "resource"
	case ProtocolMismatch:
		return "protocol mismatch"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// kindSentinel lets errors.Is match on Kind without allocating per call.
type kindSentinel Kind

func (k kindSentinel) Error() string { return Kind(k).String() }

// Is reports whether err, or any error it wraps, was produced by New or
// Wrap with the given kind.
func Is(err error, kind Kind) bool {
	return errors.Is(err, kindSentinel(kind))
}

type kernelError struct {
	kind Kind
	msg  string
	err  error
}

func (e *kernelError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.msg, e.err)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.msg)
}

func (e *kernelError) Unwrap() error {
	return e.err
}

func (e *kernelError) Is(target error) bool {
	if ks, ok := target.(kindSentinel); ok {
		return Kind(ks) == e.kind
	}
	return false
}

// New builds an error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) error {
	return &kernelError{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap builds an error of the given kind that also chains to a cause.
func Wrap(kind Kind, cause error, format string, args ...any) error {
	return &kernelError{kind: kind, msg: fmt.Sprintf(format, args...), err: cause}
}

// KindOf extracts the Kind from an error produced by this package, if any.
func KindOf(err error) (Kind, bool) {
	var ke *kernelError
	if errors.As(err, &ke) {
		return ke.kind, true
	}
	return 0, false
}

// Panic invokes the panic collaborator for the small set of failures the
// specification marks fatal: a malformed device tree magic, exhaustion of
// the interrupt controller's registration table during early boot, or a
// double registration of the single interrupt controller driver.
func Panic(format string, args ...any) {
	panic(New(Fatal, format, args...))
}
