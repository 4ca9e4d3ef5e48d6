package cerr

import (
	"errors"
	"log/slog"
	"net/http"

	"connectrpc.com/connect"
)

//go:generate go tool stringer -type=Code -output=code_string.go code.go
type Code int

const (
	OK                 = Code(0)
	Canceled           = Code(1)
	Unknown            = Code(2)
	InvalidArgument    = Code(3)
	DeadlineExceeded   = Code(4)
	NotFound           = Code(5)
	AlreadyExists      = Code(6)
	PermissionDenied   = Code(7)
	ResourceExhausted  = Code(8)
	FailedPrecondition = Code(9)
	Aborted            = Code(10)
	OutOfRange         = Code(11)
	Unimplemented      = Code(12)
	Internal           = Code(13)
	Unavailable        = Code(14)
	DataLoss           = Code(15)
	Unauthenticated    = Code(16)
)

// codeProps holds everything derived from a Code. retryable marks failures
// where repeating the same operation later can succeed, such as a storage
// backend that is briefly unreachable. Codes logged at error level also
// capture a stack trace.
type codeProps struct {
	connect   connect.Code
	http      int
	retryable bool
	level     slog.Level
}

var codeTable = map[Code]codeProps{
	OK:                 {0, http.StatusOK, false, slog.LevelInfo},
	Canceled:           {connect.CodeCanceled, 499, false, slog.LevelInfo},
	Unknown:            {connect.CodeUnknown, http.StatusInternalServerError, true, slog.LevelError},
	InvalidArgument:    {connect.CodeInvalidArgument, http.StatusBadRequest, false, slog.LevelInfo},
	DeadlineExceeded:   {connect.CodeDeadlineExceeded, http.StatusGatewayTimeout, true, slog.LevelInfo},
	NotFound:           {connect.CodeNotFound, http.StatusNotFound, false, slog.LevelInfo},
	AlreadyExists:      {connect.CodeAlreadyExists, http.StatusConflict, false, slog.LevelInfo},
	PermissionDenied:   {connect.CodePermissionDenied, http.StatusForbidden, false, slog.LevelInfo},
	ResourceExhausted:  {connect.CodeResourceExhausted, http.StatusTooManyRequests, true, slog.LevelError},
	FailedPrecondition: {connect.CodeFailedPrecondition, http.StatusPreconditionFailed, false, slog.LevelInfo},
	Aborted:            {connect.CodeAborted, http.StatusConflict, true, slog.LevelInfo},
	OutOfRange:         {connect.CodeOutOfRange, http.StatusBadRequest, false, slog.LevelInfo},
	Unimplemented:      {connect.CodeUnimplemented, http.StatusNotImplemented, false, slog.LevelError},
	Internal:           {connect.CodeInternal, http.StatusInternalServerError, false, slog.LevelError},
	Unavailable:        {connect.CodeUnavailable, http.StatusServiceUnavailable, true, slog.LevelError},
	DataLoss:           {connect.CodeDataLoss, http.StatusInternalServerError, false, slog.LevelError},
	Unauthenticated:    {connect.CodeUnauthenticated, http.StatusUnauthorized, false, slog.LevelInfo},
}

func (c Code) props() codeProps {
	if s, ok := codeTable[c]; ok {
		return s
	}
	return codeTable[Unknown]
}

// ConnectCode maps c onto connect's code space, whose names are used in
// JSON error bodies.
func (c Code) ConnectCode() connect.Code {
	return c.props().connect
}

func (c Code) HTTPCode() int {
	return c.props().http
}

// Level is the level a response carrying c is logged at.
func (c Code) Level() slog.Level {
	return c.props().level
}

func (c Code) Retryable() bool {
	return c.props().retryable
}

// IsRetryable reports whether err is worth trying again. Errors without a
// code are of unknown cause and count as retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var cErr *Error
	if errors.As(err, &cErr) {
		return cErr.Code.Retryable()
	}
	return true
}
