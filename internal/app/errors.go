package app

import (
	"fmt"
	"net/http"
)

// DomainError is an error with a ready HTTP status and code. Cause, when
// set, stays reachable through errors.Is and errors.As.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
	Cause   error
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error { return e.Cause }

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func validationError(field string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", field+" is required", map[string]any{"field": field})
}

// invalidDocument reports input that is not a JSON document tree at all.
func invalidDocument(cause error) *DomainError {
	err := domainError(http.StatusBadRequest, "INVALID_DOCUMENT", "doc is required", nil)
	if cause != nil {
		err.Message = cause.Error()
		err.Cause = cause
	}
	return err
}

func documentNotFound(documentID string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", "Document not found", map[string]any{"documentId": documentID})
}
