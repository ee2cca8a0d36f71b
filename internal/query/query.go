package query

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type Result struct {
	Columns  []string
	Rows     [][]any
	Duration time.Duration
	// Truncated is set when rows past the context row limit were left unread.
	Truncated bool
}

// Accessor runs read-only statements against a fixed set of named tables.
// Implementations return either a Result or a *Error, never both, and stop
// reading rows once the limit set by WithRowLimit is reached.
type Accessor interface {
	Query(ctx context.Context, sql string) (Result, error)
	DescribeTable(ctx context.Context, table string) (Result, error)
	Ping(ctx context.Context) error
	Close() error
}

type ErrorKind string

const (
	KindUnavailable ErrorKind = "unavailable"
	KindPolicy      ErrorKind = "policy"
	KindNotFound    ErrorKind = "not_found"
	KindEngine      ErrorKind = "engine"
	KindInternal    ErrorKind = "internal"
)

type Error struct {
	Kind    ErrorKind
	Message string
	Query   string
	Err     error
}

func (e *Error) Error() string {
	if e.Query == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s (query: %s)", e.Kind, e.Message, e.Query)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Errorf(kind ErrorKind, sqlText string, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Query: sqlText}
}

func Wrap(kind ErrorKind, sqlText string, err error) *Error {
	message := "unknown error"
	if err != nil {
		message = err.Error()
	}
	return &Error{Kind: kind, Message: message, Query: sqlText, Err: err}
}

// KindOf reports the classification of err. Errors that are not a *Error
// are treated as internal faults.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var queryErr *Error
	if errors.As(err, &queryErr) {
		return queryErr.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindUnavailable
	}
	return KindInternal
}
