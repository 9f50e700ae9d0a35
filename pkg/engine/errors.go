package engine

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrorKind classifies an error for recovery decisions in the import orchestrator.
type ErrorKind string

const (
	// KindNotFound indicates the remote reported no such entity.
	KindNotFound ErrorKind = "not_found"

	// KindNameConflict indicates an entity with the same display name already exists.
	KindNameConflict ErrorKind = "name_conflict"

	// KindIDConflict indicates an entity with the same id already exists.
	KindIDConflict ErrorKind = "id_conflict"

	// KindDependencyMissing indicates a referenced entity is absent on the target.
	KindDependencyMissing ErrorKind = "dependency_missing"

	// KindDependencyCycle indicates entities reference each other in a loop.
	KindDependencyCycle ErrorKind = "dependency_cycle"

	// KindNetwork indicates a transport-level failure.
	KindNetwork ErrorKind = "network"

	// KindValidation indicates malformed input (documents, options, skeletons).
	KindValidation ErrorKind = "validation"

	// KindAggregate is a context layer wrapping one or more causes.
	KindAggregate ErrorKind = "aggregate"
)

// Sentinels for errors.Is. Matching is by kind only.
var (
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrNameConflict      = &Error{Kind: KindNameConflict}
	ErrIDConflict        = &Error{Kind: KindIDConflict}
	ErrDependencyMissing = &Error{Kind: KindDependencyMissing}
	ErrDependencyCycle   = &Error{Kind: KindDependencyCycle}
	ErrValidation        = &Error{Kind: KindValidation}
)

// Error is a causal error: a message plus zero, one or many causes.
// Causes are other *Error values, *NetworkError values or generic errors.
// The rendered message keeps the whole cause tree legible, one layer per indent level.
type Error struct {
	// Kind is the error classification.
	Kind ErrorKind

	// Message is the context message of this layer.
	Message string

	// Causes are the underlying failures, rendered in order.
	Causes []error
}

// NewError creates an aggregate error layer over the given causes.
// Nil causes are dropped.
func NewError(message string, causes ...error) *Error {
	return newKindError(KindAggregate, message, causes...)
}

func newKindError(kind ErrorKind, message string, causes ...error) *Error {
	e := &Error{Kind: kind, Message: message}
	for _, c := range causes {
		if c != nil {
			e.Causes = append(e.Causes, c)
		}
	}
	return e
}

// NewNotFoundError creates a not-found error for an entity.
func NewNotFoundError(t EntityType, id string, cause error) *Error {
	return newKindError(KindNotFound, fmt.Sprintf("%s %s not found", t, id), cause)
}

// NewNameConflictError creates a display-name collision error.
func NewNameConflictError(t EntityType, name string, cause error) *Error {
	return newKindError(KindNameConflict, fmt.Sprintf("%s with name %q already exists", t, name), cause)
}

// NewIDConflictError creates an id collision error.
func NewIDConflictError(t EntityType, id string, cause error) *Error {
	return newKindError(KindIDConflict, fmt.Sprintf("%s %s already exists", t, id), cause)
}

// NewDependencyMissingError reports a dependency that does not exist where it is needed.
func NewDependencyMissingError(ref DependencyRef, cause error) *Error {
	return newKindError(KindDependencyMissing,
		fmt.Sprintf("dependency %s %s (field %s) is missing", ref.Type, ref.ID, ref.Field), cause)
}

// NewValidationError creates a validation error.
func NewValidationError(message string, cause error) *Error {
	return newKindError(KindValidation, message, cause)
}

// Error implements the error interface. It is identical to CombinedMessage.
func (e *Error) Error() string {
	return e.CombinedMessage()
}

// String returns the combined message so the error can be logged directly.
func (e *Error) String() string {
	return e.CombinedMessage()
}

// CombinedMessage renders the message followed by every cause, each cause
// indented two spaces deeper than its parent.
func (e *Error) CombinedMessage() string {
	var sb strings.Builder
	sb.WriteString(e.Message)
	for _, cause := range e.Causes {
		sb.WriteString("\n")
		sb.WriteString(indent(renderCause(cause), "  "))
	}
	return sb.String()
}

// Unwrap exposes the causes to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	return e.Causes
}

// Is matches sentinel errors by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Kind == "" {
		return false
	}
	return e.Kind == t.Kind
}

// WithCause appends a cause and returns the receiver.
func (e *Error) WithCause(cause error) *Error {
	if cause != nil {
		e.Causes = append(e.Causes, cause)
	}
	return e
}

func renderCause(err error) string {
	var ce *Error
	if errors.As(err, &ce) && ce == err {
		return ce.CombinedMessage()
	}
	var ne *NetworkError
	if errors.As(err, &ne) && ne == err {
		return ne.Render()
	}
	return err.Error()
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}

// NetworkError is a transport failure with the fields of the remote response body.
type NetworkError struct {
	// URL is the request URL.
	URL string

	// Method is the HTTP method of the request.
	Method string

	// Status is the HTTP status code; zero when no response was received.
	Status int

	// Code is a short error code (e.g. ERR_BAD_REQUEST, ERR_NETWORK).
	Code string

	// ErrorText is the "error" field of the response body.
	ErrorText string

	// Reason is the "reason" field of the response body.
	Reason string

	// Message is the "message" field of the response body.
	Message string

	// Detail is the "detail" field of the response body.
	Detail string

	// Description is the "error_description" field of the response body.
	Description string

	// Err is the underlying client error when no response was received.
	Err error
}

// Error implements the error interface.
func (e *NetworkError) Error() string {
	return e.Render()
}

// Render returns the fixed-field block used in combined messages.
func (e *NetworkError) Render() string {
	var sb strings.Builder
	sb.WriteString("Network error:")
	field := func(name, value string) {
		if value != "" {
			sb.WriteString("\n  ")
			sb.WriteString(name)
			sb.WriteString(": ")
			sb.WriteString(value)
		}
	}
	field("URL", e.URL)
	if e.Status != 0 {
		field("Status", strconv.Itoa(e.Status))
	}
	field("Code", e.Code)
	field("Error", e.ErrorText)
	field("Reason", e.Reason)
	field("Message", e.Message)
	field("Detail", e.Detail)
	field("Description", e.Description)
	return sb.String()
}

// Unwrap returns the underlying client error, if any.
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Is maps HTTP statuses onto error kinds.
func (e *NetworkError) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	switch t.Kind {
	case KindNotFound:
		return e.Status == 404
	case KindNameConflict:
		return e.Status == 409
	case KindIDConflict:
		return e.Status == 412
	default:
		return false
	}
}

// KindOf returns the first non-aggregate kind found walking err's cause tree
// depth first. An aggregate with no classified cause reports KindAggregate.
func KindOf(err error) ErrorKind {
	switch e := err.(type) {
	case nil:
		return ""
	case *NetworkError:
		return KindNetwork
	case *Error:
		if e.Kind != KindAggregate {
			return e.Kind
		}
		for _, c := range e.Causes {
			if k := KindOf(c); k != "" && k != KindAggregate {
				return k
			}
		}
		return KindAggregate
	}
	if inner := errors.Unwrap(err); inner != nil {
		return KindOf(inner)
	}
	return ""
}

// IsNotFound reports whether err is, or wraps, a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsNameConflict reports whether err is, or wraps, a display-name collision.
func IsNameConflict(err error) bool {
	return errors.Is(err, ErrNameConflict)
}

// IsIDConflict reports whether err is, or wraps, an id collision.
func IsIDConflict(err error) bool {
	return errors.Is(err, ErrIDConflict)
}
