package sandbox

import (
	"fmt"
	"time"
)

// ErrorKind classifies every way a sandbox operation can fail. No failure
// path produces anything else.
type ErrorKind string

const (
	KindProvisionError  ErrorKind = "provision_error"
	KindMutationAttempt ErrorKind = "mutation_attempt"
	KindOutOfScopeTable ErrorKind = "out_of_scope_table"
	KindEngineError     ErrorKind = "engine_error"
	KindTimeout         ErrorKind = "timeout"
	KindBusy            ErrorKind = "busy"
	KindInternal        ErrorKind = "internal"
)

// Outcome is the result of one submitted query: either a bounded result set
// or a classified failure. Elapsed is measured end to end in both cases.
type Outcome struct {
	Success bool
	Columns []string
	Rows    []map[string]any
	Elapsed time.Duration
	Kind    ErrorKind
	Message string
}

func success(columns []string, rows []map[string]any, elapsed time.Duration) Outcome {
	return Outcome{Success: true, Columns: columns, Rows: rows, Elapsed: elapsed}
}

func failure(kind ErrorKind, message string, elapsed time.Duration) Outcome {
	return Outcome{Kind: kind, Message: message, Elapsed: elapsed}
}

// Response is the JSON shape handed to callers. Rows and Columns are always
// arrays, never null.
type Response struct {
	Success   bool             `json:"success"`
	Rows      []map[string]any `json:"rows"`
	Columns   []string         `json:"columns"`
	ElapsedMs float64          `json:"elapsed_ms"`
	Error     *string          `json:"error"`
}

func (o Outcome) Response() Response {
	rows := o.Rows
	if rows == nil {
		rows = []map[string]any{}
	}
	columns := o.Columns
	if columns == nil {
		columns = []string{}
	}
	resp := Response{
		Success:   o.Success,
		Rows:      rows,
		Columns:   columns,
		ElapsedMs: float64(o.Elapsed.Microseconds()) / 1000.0,
	}
	if !o.Success {
		message := o.Message
		resp.Error = &message
	}
	return resp
}

// Error is a classified sandbox failure. Provision and Teardown return it
// directly; Run folds it into an Outcome.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func errf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}
