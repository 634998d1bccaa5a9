package domain

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies failures so retry policy depends on the kind only
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindValidation
	KindTransient
	KindTimeout
	KindBuild
	KindLockContention
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindTransient:
		return "transient"
	case KindTimeout:
		return "timeout"
	case KindBuild:
		return "build"
	case KindLockContention:
		return "lock_contention"
	default:
		return "internal"
	}
}

// Retryable reports whether an error of this kind may be retried in place
func Retryable(k ErrorKind) bool {
	return k == KindTransient || k == KindTimeout
}

// Error is a classified error raised by a pipeline operation
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the first classified error in the chain.
// Deadline errors are timeouts; anything unclassified is internal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindInternal
	}
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindInternal
}

// Transient marks err as a retryable infrastructure failure
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return NewError(KindTransient, op, err)
}
