package provision

import (
	"errors"
	"fmt"
)

// Kind categorizes driver errors so that callers can decide whether to abort, log or retry.
type Kind string

const (
	KindTransport      Kind = "TRANSPORT"       // Request couldn't be made or completed
	KindStatus         Kind = "STATUS"          // Response status was not 200
	KindMissingArchive Kind = "MISSING_ARCHIVE" // Install attempted without a downloaded archive
	KindExtract        Kind = "EXTRACT"         // Archive couldn't be unpacked
	KindStep           Kind = "STEP"            // An install command failed
	KindIO             Kind = "IO"              // Local filesystem error
)

const urlHint = "Make sure that URL is correct."

// Error is returned by Driver operations.
type Error struct {
	Kind    Kind
	Driver  string
	Message string
	Err     error
}

func (e *Error) Error() string {
	prefix := ""
	if e.Driver != "" {
		prefix = fmt.Sprintf("[driver][%s] ", e.Driver)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s%s: %v", prefix, e.Message, e.Err)
	}
	return prefix + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches errors of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Hint returns a remediation hint for the error, if there is one.
func (e *Error) Hint() string {
	if e.Kind == KindStatus {
		return urlHint
	}
	return ""
}

var (
	ErrTransport      = &Error{Kind: KindTransport, Message: "request failed"}
	ErrStatus         = &Error{Kind: KindStatus, Message: "non 200 response"}
	ErrMissingArchive = &Error{Kind: KindMissingArchive, Message: "driver archive not found"}
	ErrExtract        = &Error{Kind: KindExtract, Message: "error unpacking driver"}
	ErrStep           = &Error{Kind: KindStep, Message: "install command failed"}
	ErrIO             = &Error{Kind: KindIO, Message: "filesystem error"}
)

func wrap(kind Kind, driver, msg string, err error) error {
	return &Error{Kind: kind, Driver: driver, Message: msg, Err: err}
}

// KindOf returns the kind of the first Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var driverErr *Error
	if errors.As(err, &driverErr) {
		return driverErr.Kind, true
	}
	return "", false
}
