package models

import (
	"fmt"
	"strings"
)

// FieldError describes one problem with a request field
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError reports a malformed or inconsistent payload. It is never retried.
type ValidationError struct {
	Problems []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		parts[i] = p.Error()
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Add records a problem on field
func (e *ValidationError) Add(field, format string, args ...interface{}) {
	e.Problems = append(e.Problems, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// OrNil returns e if any problem was recorded
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Problems) == 0 {
		return nil
	}
	return e
}

// Reference names one unresolved identifier
type Reference struct {
	Kind   string `json:"kind"`
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// NotFoundError reports unknown orders or unresolvable menu references
type NotFoundError struct {
	Refs []Reference
}

func (e *NotFoundError) Error() string {
	parts := make([]string, len(e.Refs))
	for i, r := range e.Refs {
		parts[i] = fmt.Sprintf("%s %s (%s)", r.Kind, r.ID, r.Reason)
	}
	return "not found: " + strings.Join(parts, ", ")
}

// NewNotFound builds a NotFoundError for a single missing resource
func NewNotFound(kind, id string) *NotFoundError {
	return &NotFoundError{Refs: []Reference{{Kind: kind, ID: id, Reason: "unknown"}}}
}

// InvalidTransitionError is a state machine rejection
type InvalidTransitionError struct {
	Field     string   `json:"field"`
	Current   string   `json:"current"`
	Requested string   `json:"requested"`
	Allowed   []string `json:"allowed"`
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s transition %s -> %s (allowed: [%s])",
		e.Field, e.Current, e.Requested, strings.Join(e.Allowed, ", "))
}

// ConflictError reports a uniqueness collision
type ConflictError struct {
	Resource string
	Value    string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %q already exists", e.Resource, e.Value)
}

// ConnectivityError reports an unreachable collaborator such as the hub
type ConnectivityError struct {
	Endpoint string
	Err      error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("cannot reach %s: %v", e.Endpoint, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }
