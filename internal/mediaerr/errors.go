// Package mediaerr holds the coded errors shared by the decode, stream and
// timeline layers.
package mediaerr

import (
	"errors"
	"fmt"
	"strings"
)

// Code categorizes errors
type Code string

const (
	CodeSourceNotFound    Code = "SOURCE_NOT_FOUND"
	CodeDecode            Code = "DECODE_ERROR"
	CodeInvalidDimensions Code = "INVALID_DIMENSIONS"
	CodeInvalidRange      Code = "INVALID_RANGE"
	CodeNotFound          Code = "NOT_FOUND"
	CodeUnavailable       Code = "UNAVAILABLE"
)

// sentinels for errors.Is
var (
	ErrSourceNotFound    = &Error{Code: CodeSourceNotFound}
	ErrDecode            = &Error{Code: CodeDecode}
	ErrInvalidDimensions = &Error{Code: CodeInvalidDimensions}
	ErrInvalidRange      = &Error{Code: CodeInvalidRange}
	ErrNotFound          = &Error{Code: CodeNotFound}
	ErrUnavailable       = &Error{Code: CodeUnavailable}
)

// Error is the base structured error
type Error struct {
	Code    Code
	Op      string
	Message string
	Cause   error
}

func New(code Code, op, message string) *Error {
	return &Error{Code: code, Op: op, Message: message}
}

func Wrap(code Code, op string, cause error) *Error {
	return &Error{Code: code, Op: op, Cause: cause}
}

func Newf(code Code, op, format string, args ...interface{}) *Error {
	return &Error{Code: code, Op: op, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString("[")
	sb.WriteString(string(e.Code))
	sb.WriteString("]")
	if e.Op != "" {
		sb.WriteString(" ")
		sb.WriteString(e.Op)
	}
	if e.Message != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Message)
	}
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error carrying the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// CodeOf returns the code of the first *Error in the chain, or "".
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// FFmpegError represents an ffmpeg/ffprobe execution failure
type FFmpegError struct {
	Args     []string
	ExitCode int
	Stderr   string
	Cause    error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("ffmpeg failed (exit=%d, stderr=%q): %v",
		e.ExitCode, truncate(e.Stderr, 200), e.Cause)
}

func (e *FFmpegError) Unwrap() error {
	return e.Cause
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
