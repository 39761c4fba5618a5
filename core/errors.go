package core

import (
	"fmt"
	"sort"
	"strings"
)

// ValidationError reports invalid input. It either carries a single
// message, or a mapping of field names to messages when individual
// fields failed validation. The HTTP layer renders it with status 400.
type ValidationError struct {
	Message string
	Fields  map[string]string
}

// Invalid returns a ValidationError with a single message.
func Invalid(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// InvalidFields returns a ValidationError carrying per-field messages.
func InvalidFields(fields map[string]string) *ValidationError {
	return &ValidationError{Fields: fields}
}

// InvalidField returns a ValidationError for a single field.
func InvalidField(name, message string) *ValidationError {
	return &ValidationError{Fields: map[string]string{name: message}}
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	keys := make([]string, 0, len(e.Fields))
	for key := range e.Fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, key := range keys {
		parts[i] = key + ": " + e.Fields[key]
	}
	return strings.Join(parts, ", ")
}

// Body returns the JSON-representable error body, either the field
// mapping or {"error": message}.
func (e *ValidationError) Body() interface{} {
	if len(e.Fields) > 0 {
		return e.Fields
	}
	return map[string]string{"error": e.Message}
}

// NotFoundError is raised by managers when a resource does not exist.
// The HTTP layer renders it with status 404.
type NotFoundError struct {
	ID interface{}
}

// NotFound returns a NotFoundError for the given id.
func NotFound(id interface{}) *NotFoundError {
	return &NotFoundError{ID: id}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("`%v` not found", e.ID)
}

// DuplicateError is raised by managers on an id collision during
// create. The HTTP layer renders it with status 409.
type DuplicateError struct {
	ID interface{}
}

// Duplicate returns a DuplicateError for the given id.
func Duplicate(id interface{}) *DuplicateError {
	return &DuplicateError{ID: id}
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("`%v` already exists", e.ID)
}

// MethodNotAllowedError is raised when an HTTP verb has no matching
// manager operation. The HTTP layer renders it with status 405 and an
// Allow header listing the advertised methods.
type MethodNotAllowedError struct {
	Allowed []string
}

func (e *MethodNotAllowedError) Error() string {
	return "method not allowed, allowed methods are " + strings.Join(e.Allowed, ", ")
}

// NotAcceptableError is raised for an unknown ?format= parameter. The
// HTTP layer renders it with status 406.
type NotAcceptableError struct {
	Formats []string
}

func (e *NotAcceptableError) Error() string {
	if len(e.Formats) == 0 {
		return "no formats available"
	}
	return "cannot serve this format, available formats are " + strings.Join(e.Formats, ", ")
}

// FieldConfigError reports an invalid field declaration. It is raised
// while building a manager descriptor and is fatal: a service with a
// bad schema refuses to mount.
type FieldConfigError struct {
	Field  string
	Reason string
}

func (e *FieldConfigError) Error() string {
	return e.Field + ": " + e.Reason
}
