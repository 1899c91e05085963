// Package outcome defines the domain error model shared by the resource
// service, validators, and storage layer. Components surface error kinds,
// never HTTP status codes; the request pipeline maps kinds to statuses and
// renders OperationOutcome bodies at the boundary.
package outcome

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a domain error.
type Kind string

const (
	KindInvalid         Kind = "invalid"
	KindStructure       Kind = "structure"
	KindRequired        Kind = "required"
	KindCodeInvalid     Kind = "code-invalid"
	KindNotFound        Kind = "not-found"
	KindGone            Kind = "deleted"
	KindConflict        Kind = "conflict"
	KindVersionConflict Kind = "version-conflict"
	KindNotSupported    Kind = "not-supported"
	KindUnauthorized    Kind = "security"
	KindForbidden       Kind = "forbidden"
	KindBadRequest      Kind = "processing"
	KindInternal        Kind = "exception"
)

// Error is a domain error carrying a kind and one or more issues.
type Error struct {
	Kind   Kind
	Issues []Issue
}

// Issue is a single problem, rendered as one OperationOutcome issue.
type Issue struct {
	Severity    string `json:"severity"`
	Code        string `json:"code"`
	Diagnostics string `json:"diagnostics,omitempty"`
	Expression  string `json:"expression,omitempty"`
}

func (e *Error) Error() string {
	if len(e.Issues) == 0 {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Issues[0].Diagnostics)
}

// New creates an Error of the given kind with a single error-severity issue.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{
		Kind: kind,
		Issues: []Issue{{
			Severity:    "error",
			Code:        string(kind),
			Diagnostics: fmt.Sprintf(format, args...),
		}},
	}
}

// WithIssues creates an Error of the given kind carrying pre-built issues.
func WithIssues(kind Kind, issues []Issue) *Error {
	return &Error{Kind: kind, Issues: issues}
}

// KindOf extracts the Kind from an error chain. Unclassified errors map to
// KindInternal.
func KindOf(err error) Kind {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Kind
	}
	return KindInternal
}

// HTTPStatus maps an error kind to its HTTP status code at the pipeline
// boundary.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindInvalid, KindStructure, KindRequired, KindCodeInvalid:
		return http.StatusUnprocessableEntity
	case KindNotFound:
		return http.StatusNotFound
	case KindGone:
		return http.StatusGone
	case KindConflict:
		return http.StatusConflict
	case KindVersionConflict:
		return http.StatusPreconditionFailed
	case KindNotSupported:
		return http.StatusMethodNotAllowed
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindBadRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// OperationOutcome renders an error as a FHIR OperationOutcome JSON body.
func OperationOutcome(err error) []byte {
	var issues []Issue
	var oe *Error
	if errors.As(err, &oe) && len(oe.Issues) > 0 {
		issues = oe.Issues
	} else {
		issues = []Issue{{
			Severity:    "error",
			Code:        string(KindInternal),
			Diagnostics: err.Error(),
		}}
	}

	body, marshalErr := json.Marshal(map[string]any{
		"resourceType": "OperationOutcome",
		"issue":        issues,
	})
	if marshalErr != nil {
		return []byte(`{"resourceType":"OperationOutcome","issue":[{"severity":"fatal","code":"exception"}]}`)
	}
	return body
}
