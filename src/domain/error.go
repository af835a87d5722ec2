package domain

import (
	"errors"
	"net/http"
)

// ErrorCode identifies a class of failure and the HTTP status it maps to
type ErrorCode struct {
	Name       string
	StatusCode int
}

// Payment pipeline taxonomy
var (
	ErrorCodeInvalidSigner = ErrorCode{Name: "INVALID_SIGNER", StatusCode: http.StatusBadRequest}
	ErrorCodeConnectivity  = ErrorCode{Name: "CONNECTIVITY", StatusCode: http.StatusBadGateway}
	ErrorCodeValidation    = ErrorCode{Name: "VALIDATION", StatusCode: http.StatusUnprocessableEntity}
	ErrorCodePaymaster     = ErrorCode{Name: "PAYMASTER", StatusCode: http.StatusPaymentRequired}
	ErrorCodeRevert        = ErrorCode{Name: "REVERT", StatusCode: http.StatusConflict}
	ErrorCodeTimeout       = ErrorCode{Name: "TIMEOUT", StatusCode: http.StatusGatewayTimeout}
	ErrorCodeUnclassified  = ErrorCode{Name: "UNCLASSIFIED", StatusCode: http.StatusInternalServerError}
)

// API errors
var (
	ErrorCodeParameterInvalid     = ErrorCode{Name: "PARAMETER_INVALID", StatusCode: http.StatusBadRequest}
	ErrorCodeResourceNotFound     = ErrorCode{Name: "RESOURCE_NOT_FOUND", StatusCode: http.StatusNotFound}
	ErrorCodeAuthNotAuthenticated = ErrorCode{Name: "AUTH_NOT_AUTHENTICATED", StatusCode: http.StatusUnauthorized}
	ErrorCodeInternalProcess      = ErrorCode{Name: "INTERNAL_PROCESS", StatusCode: http.StatusInternalServerError}
)

// Stage names the pipeline component an error originated from
type Stage string

const (
	StageBuilder      Stage = "builder"
	StagePaymaster    Stage = "paymaster"
	StageClient       Stage = "client"
	StageCatalog      Stage = "catalog"
	StageSigner       Stage = "signer"
	StageOrchestrator Stage = "orchestrator"
)

// DomainError is an error tagged with a code, the stage that produced it and
// the message that is safe to show to a client. The zero value is a generic
// internal error.
type DomainError struct {
	code      ErrorCode
	err       error
	clientMsg string
	detail    map[string]interface{}
	stage     Stage
}

type ErrorOption func(*DomainError)

func WithMsg(msg string) ErrorOption {
	return func(e *DomainError) {
		e.clientMsg = msg
	}
}

func WithDetail(detail map[string]interface{}) ErrorOption {
	return func(e *DomainError) {
		e.detail = detail
	}
}

func WithStage(stage Stage) ErrorOption {
	return func(e *DomainError) {
		e.stage = stage
	}
}

func NewError(code ErrorCode, err error, opts ...ErrorOption) error {
	return newDomainError(code, err, opts...)
}

// NewDomainError is NewError returning the concrete type
func NewDomainError(code ErrorCode, err error, opts ...ErrorOption) DomainError {
	return newDomainError(code, err, opts...)
}

func newDomainError(code ErrorCode, err error, opts ...ErrorOption) DomainError {
	e := DomainError{code: code, err: err}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

func (e DomainError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	if e.clientMsg != "" {
		return e.clientMsg
	}
	return e.Name()
}

func (e DomainError) Unwrap() error {
	return e.err
}

// Name returns the error code name, or an empty string for untagged errors
func (e DomainError) Name() string {
	return e.code.Name
}

func (e DomainError) Code() ErrorCode {
	return e.code
}

func (e DomainError) ClientMsg() string {
	return e.clientMsg
}

func (e DomainError) Detail() map[string]interface{} {
	return e.detail
}

func (e DomainError) Stage() Stage {
	return e.stage
}

func (e DomainError) HTTPStatus() int {
	if e.code.StatusCode == 0 {
		return http.StatusInternalServerError
	}
	return e.code.StatusCode
}

// Tagged returns the outermost DomainError in err's chain that carries a code
func Tagged(err error) (DomainError, bool) {
	for err != nil {
		var domainErr DomainError
		if !errors.As(err, &domainErr) {
			return DomainError{}, false
		}
		if domainErr.code.Name != "" {
			return domainErr, true
		}
		err = domainErr.err
	}
	return DomainError{}, false
}

// StageOf returns the outermost stage recorded in err's chain
func StageOf(err error) Stage {
	for err != nil {
		var domainErr DomainError
		if !errors.As(err, &domainErr) {
			return ""
		}
		if domainErr.stage != "" {
			return domainErr.stage
		}
		err = domainErr.err
	}
	return ""
}

// KindOf returns the code carried by err, if any
func KindOf(err error) (ErrorCode, bool) {
	domainErr, ok := Tagged(err)
	return domainErr.code, ok
}

// HasCode reports whether err carries code anywhere in its chain
func HasCode(err error, code ErrorCode) bool {
	kind, ok := KindOf(err)
	return ok && kind == code
}
