package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorType represents different types of errors in the system
type ErrorType string

const (
	// ErrorTypeNotFound indicates a resource was not found
	ErrorTypeNotFound ErrorType = "NOT_FOUND"

	// ErrorTypeValidation indicates a validation error
	ErrorTypeValidation ErrorType = "VALIDATION"

	// ErrorTypeConflict indicates a conflict with existing data or an attempt already made
	ErrorTypeConflict ErrorType = "CONFLICT"

	// ErrorTypeUnauthorized indicates unauthorized access
	ErrorTypeUnauthorized ErrorType = "UNAUTHORIZED"

	// ErrorTypeEncryptedDocument indicates a document that cannot be opened without a password
	ErrorTypeEncryptedDocument ErrorType = "ENCRYPTED_DOCUMENT"

	// ErrorTypeEmptyContent indicates a structurally valid document with no extractable text
	ErrorTypeEmptyContent ErrorType = "EMPTY_CONTENT"

	// ErrorTypeCorruptDocument indicates bytes that are not a readable document
	ErrorTypeCorruptDocument ErrorType = "CORRUPT_DOCUMENT"

	// ErrorTypeInvalidState indicates a processing attempt moved from an unexpected state
	ErrorTypeInvalidState ErrorType = "INVALID_STATE"

	// ErrorTypeInternal indicates an internal server error
	ErrorTypeInternal ErrorType = "INTERNAL"

	// ErrorTypeExternal indicates an error from external service
	ErrorTypeExternal ErrorType = "EXTERNAL"
)

// AppError represents an application error
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements the unwrap interface
func (e *AppError) Unwrap() error {
	return e.Err
}

// IsExecutorFailure reports whether the error type belongs to the stage executor taxonomy.
func (t ErrorType) IsExecutorFailure() bool {
	switch t {
	case ErrorTypeEncryptedDocument, ErrorTypeEmptyContent, ErrorTypeCorruptDocument:
		return true
	}
	return false
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeNotFound,
		Message: message,
	}
}

// NewValidationError creates a new validation error
func NewValidationError(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeValidation,
		Message: message,
	}
}

// NewConflictError creates a new conflict error
func NewConflictError(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeConflict,
		Message: message,
	}
}

// NewUnauthorizedError creates a new unauthorized error
func NewUnauthorizedError(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeUnauthorized,
		Message: message,
	}
}

// NewEncryptedDocumentError creates an error for password protected documents
func NewEncryptedDocumentError(message string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeEncryptedDocument,
		Message: message,
		Err:     err,
	}
}

// NewEmptyContentError creates an error for documents without extractable text
func NewEmptyContentError(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeEmptyContent,
		Message: message,
	}
}

// NewCorruptDocumentError creates an error for unreadable or truncated documents
func NewCorruptDocumentError(message string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeCorruptDocument,
		Message: message,
		Err:     err,
	}
}

// NewInvalidStateError creates an error for illegal processing state transitions
func NewInvalidStateError(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeInvalidState,
		Message: message,
	}
}

// NewInternalError creates a new internal error
func NewInternalError(message string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeInternal,
		Message: message,
		Err:     err,
	}
}

// NewExternalError creates a new external service error
func NewExternalError(message string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeExternal,
		Message: message,
		Err:     err,
	}
}

// As returns the first AppError in err's chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// TypeOf returns the error type of err, or ErrorTypeInternal for foreign errors.
func TypeOf(err error) ErrorType {
	if appErr, ok := As(err); ok {
		return appErr.Type
	}
	return ErrorTypeInternal
}

// IsType reports whether err carries an AppError of the given type.
func IsType(err error, errorType ErrorType) bool {
	appErr, ok := As(err)
	return ok && appErr.Type == errorType
}
