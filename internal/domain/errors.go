package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind tags a gateway failure.
type ErrorKind int

const (
	// KindValidation is a malformed or missing input.
	KindValidation ErrorKind = iota + 1
	// KindUnsupportedModel is a model outside the allow-list.
	KindUnsupportedModel
	// KindUpstreamAPI is a structured failure returned by the backend.
	KindUpstreamAPI
	// KindUnknown is any other failure whose message is safe to surface.
	KindUnknown
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindUnsupportedModel:
		return "unsupported_model"
	case KindUpstreamAPI:
		return "upstream_api"
	case KindUnknown:
		return "unknown"
	default:
		return "opaque"
	}
}

// Error is the tagged failure produced at each failure site of the pipeline.
// Errors that reach the HTTP boundary without this tag are treated as opaque.
type Error struct {
	Kind    ErrorKind
	Message string

	// Status and Code are only meaningful for KindUpstreamAPI.
	Status int
	Code   string

	// Stage records where the failure happened.
	Stage Stage

	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Stage, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Stage, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewValidationError reports a malformed request.
func NewValidationError(reason string) *Error {
	return &Error{Kind: KindValidation, Message: reason, Stage: StageValidate}
}

// NewUnsupportedModelError reports a model outside the allow-list.
func NewUnsupportedModelError(requested string, allowed []string) *Error {
	return &Error{
		Kind: KindUnsupportedModel,
		Message: fmt.Sprintf("Model '%s' is not supported. Allowed models: %s",
			requested, strings.Join(allowed, ", ")),
		Stage: StageResolve,
	}
}

// NewUpstreamError reports a structured backend failure.
func NewUpstreamError(stage Stage, status int, code, message string, err error) *Error {
	return &Error{
		Kind:    KindUpstreamAPI,
		Message: message,
		Status:  status,
		Code:    code,
		Stage:   stage,
		Err:     err,
	}
}

// NewUnknownError wraps a failure whose message may be shown to the caller.
func NewUnknownError(stage Stage, err error) *Error {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return &Error{Kind: KindUnknown, Message: msg, Stage: stage, Err: err}
}

// AsError extracts the tagged error from err's chain.
func AsError(err error) (*Error, bool) {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr, true
	}
	return nil, false
}
