package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a rejected request.
type ErrorKind string

const (
	ErrUnknownEntityType        ErrorKind = "UnknownEntityType"
	ErrInvalidField             ErrorKind = "InvalidField"
	ErrInvalidFilterSyntax      ErrorKind = "InvalidFilterSyntax"
	ErrUnknownOperator          ErrorKind = "UnknownOperator"
	ErrInvalidFilterValueType   ErrorKind = "InvalidFilterValueType"
	ErrNotFilterable            ErrorKind = "NotFilterable"
	ErrNotSortable              ErrorKind = "NotSortable"
	ErrAnchorNotFound           ErrorKind = "AnchorNotFound"
	ErrInvalidPagination        ErrorKind = "InvalidPagination"
	ErrConflictingHierarchyMode ErrorKind = "ConflictingHierarchyMode"
)

// QueryError reports the first offending token of a request.
type QueryError struct {
	Kind    ErrorKind `json:"errorKind"`
	Token   string    `json:"token,omitempty"`
	Message string    `json:"message"`
}

func (e *QueryError) Error() string {
	return e.Message
}

// NewQueryError builds a QueryError with a formatted message.
func NewQueryError(kind ErrorKind, token, format string, args ...any) *QueryError {
	return &QueryError{Kind: kind, Token: token, Message: fmt.Sprintf(format, args...)}
}

// IsQueryError reports whether err is a QueryError of the given kind.
func IsQueryError(err error, kind ErrorKind) bool {
	var qe *QueryError
	if !errors.As(err, &qe) {
		return false
	}
	return qe.Kind == kind
}
