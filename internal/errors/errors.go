package errors

import (
	"errors"
	"fmt"
	"time"
)

// AppError carries the failure category alongside the wrapped cause
type AppError struct {
	Type      ErrorType
	Message   string
	Timestamp time.Time
	Cause     error
}

type ErrorType string

const (
	ErrTypeUpstream ErrorType = "upstream"
	ErrTypeDecode   ErrorType = "decode"
	ErrTypeConfig   ErrorType = "config"
	ErrTypeSearch   ErrorType = "search"
	ErrTypeRender   ErrorType = "render"
)

// DatasetAlert is shown to users whenever the country list could not be retrieved.
const DatasetAlert = "There was an error retrieving the information from the REST Countries API. Please try reloading the page or reach out to us."

const genericAlert = "Something went wrong while preparing the results. Please try again."

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v (at %s)", e.Type, e.Message, e.Cause, e.Timestamp.Format(time.RFC3339))
	}
	return fmt.Sprintf("[%s] %s (at %s)", e.Type, e.Message, e.Timestamp.Format(time.RFC3339))
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates a new AppError
func New(errType ErrorType, message string, cause error) *AppError {
	return &AppError{
		Type:      errType,
		Message:   message,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

// Newf creates a new AppError with formatted message
func Newf(errType ErrorType, format string, args ...interface{}) *AppError {
	return &AppError{
		Type:      errType,
		Message:   fmt.Sprintf(format, args...),
		Timestamp: time.Now(),
	}
}

// TypeOf returns the category of the outermost AppError in err's chain.
func TypeOf(err error) (ErrorType, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type, true
	}
	return "", false
}

// UserMessage maps an error to the text a user should see.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrDatasetUnavailable) {
		return DatasetAlert
	}
	if t, ok := TypeOf(err); ok && (t == ErrTypeUpstream || t == ErrTypeDecode) {
		return DatasetAlert
	}
	if errors.Is(err, ErrNoMatches) {
		return NoMatchesMessage
	}
	if errors.Is(err, ErrInvalidNameField) {
		return "Unknown name type, choose either common or official."
	}
	return genericAlert
}

// NoMatchesMessage is rendered in place of the results when a search finds nothing.
const NoMatchesMessage = "No countries were found matching the search"

var (
	ErrDatasetUnavailable   = errors.New("country dataset unavailable")
	ErrNoMatches            = errors.New("no countries matched the search")
	ErrInvalidNameField     = errors.New("invalid name field")
	ErrRateLimitExceeded    = errors.New("rate limit exceeded")
	ErrInvalidConfiguration = errors.New("invalid configuration")
)

// Is, As and Unwrap re-export the standard helpers so callers need one import.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
)
