package core

import "fmt"

// ErrorKind classifies everything that can go wrong during a turn.
type ErrorKind string

const (
	// Recovered locally through retry with corrective feedback.
	ErrMalformedJSON    ErrorKind = "malformed-json"
	ErrSchemaViolation  ErrorKind = "schema-violation"
	ErrGeneratorTimeout ErrorKind = "generator-timeout"
	ErrGeneratorError   ErrorKind = "generator-error"

	// Recovered locally by returning a descriptive string to the
	// generator; never surfaced to the user.
	ErrToolExecution ErrorKind = "tool-execution-error"

	// Fatal for the turn.
	ErrIterationLimit     ErrorKind = "iteration-limit-exceeded"
	ErrUnresolvedEntity   ErrorKind = "unresolved-entity-reference"
	ErrMissingIssueFields ErrorKind = "missing-issue-fields"
)

// TurnError carries the kind plus a human-readable message suitable for
// surfacing to the caller. Field is set for per-field schema violations.
type TurnError struct {
	Kind    ErrorKind
	Field   string
	Message string
}

func (e *TurnError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func turnErr(kind ErrorKind, format string, args ...interface{}) *TurnError {
	return &TurnError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func fieldErr(field, format string, args ...interface{}) *TurnError {
	return &TurnError{Kind: ErrSchemaViolation, Field: field, Message: fmt.Sprintf(format, args...)}
}
