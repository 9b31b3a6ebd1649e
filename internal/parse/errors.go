package parse

import (
	"errors"
	"fmt"
)

// ErrorKind identifies which parser rejected an input.
type ErrorKind string

const (
	// KindInvalidTime marks clock strings that do not match H[:MM]am|pm.
	KindInvalidTime ErrorKind = "InvalidTime"
	// KindInvalidInstructorField marks malformed instructor strings.
	KindInvalidInstructorField ErrorKind = "InvalidInstructorField"
	// KindInvalidMeetingPattern marks malformed day/time range strings.
	KindInvalidMeetingPattern ErrorKind = "InvalidMeetingPattern"
	// KindInvalidName marks name strings without a first or last name.
	KindInvalidName ErrorKind = "InvalidName"
)

var (
	// ErrInvalidTime matches any Error of kind KindInvalidTime.
	ErrInvalidTime = errors.New("parse: invalid time")
	// ErrInvalidInstructorField matches any Error of kind KindInvalidInstructorField.
	ErrInvalidInstructorField = errors.New("parse: invalid instructor field")
	// ErrInvalidMeetingPattern matches any Error of kind KindInvalidMeetingPattern.
	ErrInvalidMeetingPattern = errors.New("parse: invalid meeting pattern")
	// ErrInvalidName matches any Error of kind KindInvalidName.
	ErrInvalidName = errors.New("parse: invalid name")
)

// Error reports a rejected input together with the raw text that caused it.
type Error struct {
	Kind   ErrorKind
	Raw    string
	Reason string
	Err    error
}

func newError(kind ErrorKind, raw, reason string, cause error) *Error {
	return &Error{Kind: kind, Raw: raw, Reason: reason, Err: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("%s: %q", e.Kind, e.Raw)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches the kind sentinel so callers can write errors.Is(err, parse.ErrInvalidTime).
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	switch target {
	case ErrInvalidTime:
		return e.Kind == KindInvalidTime
	case ErrInvalidInstructorField:
		return e.Kind == KindInvalidInstructorField
	case ErrInvalidMeetingPattern:
		return e.Kind == KindInvalidMeetingPattern
	case ErrInvalidName:
		return e.Kind == KindInvalidName
	}
	return false
}
