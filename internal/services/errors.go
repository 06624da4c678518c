package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation    = errors.New("validation error")
	ErrAuthorization = errors.New("authorization error")
	ErrDuplicate     = errors.New("duplicate content")
	ErrNotFound      = errors.New("not found")
	ErrProvider      = errors.New("provider error")
	ErrPipelineStep  = errors.New("pipeline step error")
	ErrConfiguration = errors.New("configuration error")
	ErrTransient     = errors.New("transient failure")
)

// ErrorKind is the short classification attached to structured failure logs.
type ErrorKind string

const (
	KindValidation    ErrorKind = "validation"
	KindAuthorization ErrorKind = "authorization"
	KindDuplicate     ErrorKind = "duplicate"
	KindNotFound      ErrorKind = "not_found"
	KindProvider      ErrorKind = "provider"
	KindPipelineStep  ErrorKind = "pipeline_step"
	KindConfiguration ErrorKind = "configuration"
	KindTransient     ErrorKind = "transient"
	KindUnknown       ErrorKind = "unknown"
)

// ServiceError carries the marker, component, and operation of a failure
// alongside its cause.
type ServiceError struct {
	Marker    error
	Component string
	Operation string
	Message   string
	Cause     error
}

func (e *ServiceError) Error() string {
	detail := buildDetail(e.Component, e.Operation, e.Message)
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Marker, detail, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Marker, detail)
}

func (e *ServiceError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Marker}
	}
	return []error{e.Marker, e.Cause}
}

// Wrap builds an error that includes component context while tagging it with
// the provided marker for later classification. The marker should be one of
// the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	if marker == nil {
		marker = ErrTransient
	}
	return &ServiceError{
		Marker:    marker,
		Component: strings.TrimSpace(component),
		Operation: strings.TrimSpace(operation),
		Message:   strings.TrimSpace(message),
		Cause:     err,
	}
}

// ErrorDetails summarizes a failure for structured logging.
type ErrorDetails struct {
	Kind      ErrorKind
	Operation string
	Message   string
	Hint      string
	Cause     error
}

// Details extracts classification and context from err.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{Kind: KindUnknown}
	}
	details := ErrorDetails{Kind: Classify(err), Message: err.Error()}
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		details.Operation = svcErr.Operation
		if svcErr.Message != "" {
			details.Message = svcErr.Message
		}
		details.Cause = svcErr.Cause
	}
	details.Hint = hintFor(details.Kind)
	return details
}

// Classify maps err onto its ErrorKind using the sentinel markers.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrAuthorization):
		return KindAuthorization
	case errors.Is(err, ErrDuplicate):
		return KindDuplicate
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrProvider):
		return KindProvider
	case errors.Is(err, ErrPipelineStep):
		return KindPipelineStep
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrTransient):
		return KindTransient
	default:
		return KindUnknown
	}
}

// IsFatal reports whether a background task failing with err must not be
// redelivered.
func IsFatal(err error) bool {
	switch Classify(err) {
	case KindValidation, KindAuthorization, KindNotFound, KindConfiguration, KindDuplicate:
		return true
	default:
		return false
	}
}

func hintFor(kind ErrorKind) string {
	switch kind {
	case KindValidation:
		return "fix the input and retry"
	case KindAuthorization:
		return "run the command as the owning user"
	case KindDuplicate:
		return "edit the existing item instead of adding a near copy"
	case KindNotFound:
		return "check the identifier"
	case KindProvider:
		return "check provider credentials and endpoint availability"
	case KindConfiguration:
		return "check the configuration file"
	default:
		return "check logs for details"
	}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component != "" {
		parts = append(parts, component)
	}
	if operation != "" {
		parts = append(parts, operation)
	}
	if message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
