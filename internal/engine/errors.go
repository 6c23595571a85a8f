package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"syscall"
)

var (
	ErrProbeFailed         = errors.New("probe failed")
	ErrResourceNotFound    = errors.New("resource not found")
	ErrRangeUnsupported    = errors.New("range requests not honored")
	ErrRangeNotSatisfiable = errors.New("range not satisfiable")
	ErrValidatorMismatch   = errors.New("resource changed during transfer")
	ErrTransient           = errors.New("transient connection failure")
	ErrDiskIO              = errors.New("disk i/o failure")
	ErrProtocolViolation   = errors.New("protocol violation")
	ErrFatal               = errors.New("fatal failure")
)

// Class is the retry controller's verdict on a fetch failure.
type Class int

const (
	ClassTransient Class = iota
	ClassRangeUnsupported
	ClassValidatorMismatch
	ClassFatal
	ClassCancelled
)

func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassRangeUnsupported:
		return "range-unsupported"
	case ClassValidatorMismatch:
		return "validator-mismatch"
	case ClassFatal:
		return "fatal"
	case ClassCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Classify maps an error returned by a Source or by the write path onto a
// retry class. Errors nobody tagged are assumed to be network flakiness.
func Classify(err error) Class {
	switch {
	case err == nil:
		return ClassTransient
	case errors.Is(err, context.Canceled):
		return ClassCancelled
	case errors.Is(err, ErrValidatorMismatch), errors.Is(err, ErrRangeNotSatisfiable):
		return ClassValidatorMismatch
	case errors.Is(err, ErrRangeUnsupported):
		return ClassRangeUnsupported
	case errors.Is(err, ErrDiskIO), errors.Is(err, ErrProtocolViolation),
		errors.Is(err, ErrFatal), errors.Is(err, ErrResourceNotFound):
		return ClassFatal
	case errors.Is(err, ErrTransient), errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.EPIPE):
		return ClassTransient
	}
	return ClassTransient
}

// SegmentFailure is the last error recorded for a segment that ran out of
// attempts.
type SegmentFailure struct {
	SegmentID int
	Attempts  int
	Err       error
}

// ExhaustedError aggregates the segments whose transient failures outlasted
// the retry budget.
type ExhaustedError struct {
	Failures []SegmentFailure
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("segment %d after %d attempts: %v", f.SegmentID, f.Attempts, f.Err))
	}
	return fmt.Sprintf("retries exhausted for %d segment(s): %s", len(e.Failures), strings.Join(parts, "; "))
}

func (e *ExhaustedError) Unwrap() error {
	return ErrTransient
}
