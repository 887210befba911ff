// Package pennerr defines the error taxonomy user-facing calls return. Calls
// into the kernel never panic on bad input; they return a negative sentinel
// (handled by the caller) paired with one of these codes so a shell-level
// collaborator can report a useful diagnostic.
package pennerr

import "fmt"

// Code is the errno-like category of a failure.
type Code int

const (
	_ Code = iota

	// file-system errors
	CodeNotFound
	CodePermissionDenied
	CodeNoSpace
	CodeInvalidFD
	CodeOpenForWriteConflict
	CodeFileIsOpen
	CodeReadError
	CodeWriteError

	// process errors
	CodeSpawnFailure
	CodeNoSuchPID
	CodeAlreadyWaitedOn
	CodeWrongParent
	CodeInvalidSignal
	CodeStatusUnrecognized

	// shell-surface errors, reported here so the external shell collaborator
	// has a single taxonomy to switch on
	CodeUnknownCommand
	CodeBadArgument
	CodePromptIO
)

var names = map[Code]string{
	CodeNotFound:             "not-found",
	CodePermissionDenied:     "permission-denied",
	CodeNoSpace:              "no-space",
	CodeInvalidFD:            "invalid-fd",
	CodeOpenForWriteConflict: "open-for-write-conflict",
	CodeFileIsOpen:           "file-is-open",
	CodeReadError:            "read-error",
	CodeWriteError:           "write-error",
	CodeSpawnFailure:         "spawn-failure",
	CodeNoSuchPID:            "no-such-pid",
	CodeAlreadyWaitedOn:      "already-waited-on",
	CodeWrongParent:          "wrong-parent",
	CodeInvalidSignal:        "invalid-signal",
	CodeStatusUnrecognized:   "status-unrecognized",
	CodeUnknownCommand:       "unknown-command",
	CodeBadArgument:          "bad-argument",
	CodePromptIO:             "prompt-io",
}

func (c Code) String() string {
	if n, ok := names[c]; ok {
		return n
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// Error is the concrete error type every package in this module returns for
// expected, recoverable failures.
type Error struct {
	Code Code
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error for op/code with an optional formatted detail message.
func New(code Code, op, format string, args ...any) *Error {
	var err error
	if format != "" {
		err = fmt.Errorf(format, args...)
	}
	return &Error{Code: code, Op: op, Err: err}
}

// Wrap builds an Error for op/code around an existing error.
func Wrap(code Code, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

// Is reports whether err is a *Error carrying code.
func Is(err error, code Code) bool {
	var pe *Error
	if ok := asError(err, &pe); ok {
		return pe.Code == code
	}
	return false
}

func asError(err error, target **Error) bool {
	for err != nil {
		if pe, ok := err.(*Error); ok {
			*target = pe
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
