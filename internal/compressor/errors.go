package compressor

import (
	"errors"
	"strings"
)

// Kind classifies compression failures so callers can react to each one
// differently (HTTP status, exit code, retry decision).
type Kind int

const (
	KindUnknown Kind = iota
	// KindInvalidInput covers a missing, unreadable or non-PDF input, or an
	// output path that cannot be used.
	KindInvalidInput
	// KindInvalidProfile is an unrecognized quality name.
	KindInvalidProfile
	// KindEngineNotFound means the engine executable cannot be located. It is
	// a deployment problem, not a problem with the request.
	KindEngineNotFound
	// KindEngineExecutionFailed is a non-zero engine exit.
	KindEngineExecutionFailed
	// KindEngineTimeout means the engine exceeded its time budget and was killed.
	KindEngineTimeout
	// KindOutputMissing means the engine exited cleanly without usable output.
	KindOutputMissing
	// KindCanceled means the caller abandoned the job.
	KindCanceled
)

// String returns the snake_case name of the kind.
func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindInvalidProfile:
		return "invalid_profile"
	case KindEngineNotFound:
		return "engine_not_found"
	case KindEngineExecutionFailed:
		return "engine_execution_failed"
	case KindEngineTimeout:
		return "engine_timeout"
	case KindOutputMissing:
		return "output_missing"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Message returns a human-readable explanation suitable for end users.
func (k Kind) Message() string {
	switch k {
	case KindInvalidInput:
		return "The file is missing or is not a valid PDF."
	case KindInvalidProfile:
		return "Unknown quality setting. Choose one of: " + strings.Join(profileOrder, ", ") + "."
	case KindEngineNotFound:
		return "The server is misconfigured: the PDF engine is not installed."
	case KindEngineExecutionFailed:
		return "The PDF engine could not process this file. It may be damaged or use unsupported features."
	case KindEngineTimeout:
		return "The file was too complex and compression timed out."
	case KindOutputMissing:
		return "The PDF engine finished without producing a compressed file."
	case KindCanceled:
		return "Compression was cancelled."
	default:
		return "Compression failed."
	}
}

// Retryable reports whether repeating the identical request can succeed.
// Compression is deterministic, so only a timeout qualifies, and only with a
// larger time budget.
func (k Kind) Retryable() bool {
	return k == KindEngineTimeout
}

// Sentinels for errors.Is matching on kind alone.
var (
	ErrInvalidInput          = &Error{Kind: KindInvalidInput}
	ErrInvalidProfile        = &Error{Kind: KindInvalidProfile}
	ErrEngineNotFound        = &Error{Kind: KindEngineNotFound}
	ErrEngineExecutionFailed = &Error{Kind: KindEngineExecutionFailed}
	ErrEngineTimeout         = &Error{Kind: KindEngineTimeout}
	ErrOutputMissing         = &Error{Kind: KindOutputMissing}
	ErrCanceled              = &Error{Kind: KindCanceled}
)

// Error is the typed failure returned by the orchestrator.
type Error struct {
	Kind   Kind
	Op     string
	Path   string
	Stderr string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}
	if e.Path != "" {
		b.WriteString(" ")
		b.WriteString(e.Path)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.Stderr != "" {
		b.WriteString(" (engine output: ")
		b.WriteString(e.Stderr)
		b.WriteString(")")
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinels by kind, so errors.Is(err, ErrEngineTimeout) works for
// any timeout regardless of path or cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Path == "" && t.Err == nil && t.Kind == e.Kind
}

// KindOf extracts the Kind from err, or KindUnknown.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnknown
}
