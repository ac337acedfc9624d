package pipeline

import "fmt"

// ErrorKind is the closed taxonomy of pipeline failure causes. Values are
// the snake_case names used on the wire, not Go type names.
type ErrorKind string

const (
	ErrInvalidRequest     ErrorKind = "invalid_request"
	ErrRateLimited        ErrorKind = "rate_limited"
	ErrBreakerOpen        ErrorKind = "breaker_open"
	ErrUpstreamNetwork    ErrorKind = "upstream_network"
	ErrUpstreamHTTPStatus ErrorKind = "upstream_http_status"
	ErrUpstreamTimeout    ErrorKind = "upstream_timeout"
	ErrResponseMalformed  ErrorKind = "response_malformed"
	ErrAllProvidersFailed ErrorKind = "all_providers_failed"
	ErrInternal           ErrorKind = "internal_error"
)

// Error is the error type returned by SendChat/SendChatStream. Param names
// the provider or request field the error is attributed to, when known.
type Error struct {
	Kind    ErrorKind
	Message string
	Param   string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func newError(kind ErrorKind, param, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Param: param, Cause: cause}
}
