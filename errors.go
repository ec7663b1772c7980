package main

import (
	"errors"
	"fmt"
)

// ErrKind is the closed set of failure causes a run can end with. Callers
// switch on kind, never on message text.
type ErrKind int

const (
	ErrKindNone ErrKind = iota
	ErrKindInvalidInput
	ErrKindLabelFormat
	ErrKindConnect
	ErrKindLoginTimeout
	ErrKindBrowserClosed
	ErrKindUploadUITimeout
	ErrKindUploadFailed
	ErrKindRunTimeout
)

func (k ErrKind) Token() string {
	switch k {
	case ErrKindInvalidInput:
		return "INVALID_INPUT"
	case ErrKindLabelFormat:
		return "LABEL_FORMAT"
	case ErrKindConnect:
		return "CONNECT_FAILED"
	case ErrKindLoginTimeout:
		return "LOGIN_TIMEOUT"
	case ErrKindBrowserClosed:
		return "BROWSER_CLOSED"
	case ErrKindUploadUITimeout:
		return "UPLOAD_UI_TIMEOUT"
	case ErrKindUploadFailed:
		return "UPLOAD_FAILED"
	case ErrKindRunTimeout:
		return "RUN_TIMEOUT"
	}
	return "UNKNOWN"
}

// runError tags an underlying error with its ErrKind. The token is stable
// output surface; the wrapped error is for logs only.
type runError struct {
	kind ErrKind
	err  error
}

func (e *runError) Error() string {
	if e.err == nil {
		return e.kind.Token()
	}
	return fmt.Sprintf("%s: %v", e.kind.Token(), e.err)
}

func (e *runError) Unwrap() error { return e.err }

func failKind(kind ErrKind, format string, args ...any) error {
	return &runError{kind: kind, err: fmt.Errorf(format, args...)}
}

func wrapKind(kind ErrKind, err error) error {
	return &runError{kind: kind, err: err}
}

// kindOf extracts the ErrKind from an error chain, or ErrKindNone.
func kindOf(err error) ErrKind {
	var re *runError
	if errors.As(err, &re) {
		return re.kind
	}
	return ErrKindNone
}

// Benign terminal outcomes. Cancelled and timed-out confirmations are
// operator decisions, not failures; both exit 0.
var (
	errConfirmCancelled = errors.New("confirmation cancelled by operator")
	errConfirmTimeout   = errors.New("confirmation timed out")
)
