// Package apierr provides structured API error types and HTTP status mapping
// compatible with the OpenAI error format.
package apierr

import (
	"encoding/json"
	"errors"

	"github.com/valyala/fasthttp"

	"github.com/coreforge/llm-gateway/internal/pipeline"
	"github.com/coreforge/llm-gateway/internal/providers"
)

// ErrorType constants.
const (
	TypeProviderError     = "provider_error"
	TypeRateLimitError    = "rate_limit_error"
	TypeInvalidRequest    = "invalid_request_error"
	TypeAuthenticationErr = "authentication_error"
	TypeServerError       = "server_error"
)

// Code constants.
const (
	CodeRateLimitExceeded = "rate_limit_exceeded"
	CodeInvalidAPIKey     = "invalid_api_key"
	CodeInternalError     = "internal_error"
	CodeProviderError     = "provider_error"
	CodeRequestTimeout    = "request_timeout"
	CodeNotImplemented    = "not_implemented"
	CodeInvalidRequest    = "invalid_request"
)

// APIError is the structured error returned to clients.
type (
	APIError struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Param   string `json:"param,omitempty"`
		Code    string `json:"code,omitempty"`
	}
	envelope struct {
		Error APIError `json:"error"`
	}
)

// Write writes the error as JSON to the fasthttp response with the given HTTP status.
func Write(ctx *fasthttp.RequestCtx, status int, message, errType, code string) {
	WriteParam(ctx, status, message, errType, "", code)
}

// WriteParam is Write with an additional "param" field identifying the
// provider or request field the error concerns.
func WriteParam(ctx *fasthttp.RequestCtx, status int, message, errType, param, code string) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	body, _ := json.Marshal(envelope{Error: APIError{
		Message: message,
		Type:    errType,
		Param:   param,
		Code:    code,
	}})
	ctx.SetBody(body)
}

// WriteKind maps a *pipeline.Error onto the gateway's HTTP error taxonomy
// and writes the corresponding JSON body, per the kind→status table:
// InvalidRequest→400, RateLimited→429, UpstreamTimeout→504,
// UpstreamHttpStatus→ the upstream's own code when it's a 4xx, else 502,
// UpstreamNetwork/ResponseMalformed→502, everything else (BreakerOpen,
// InternalError)→500. AllProvidersFailed takes the status of its Cause when
// that is a *pipeline.Error (so a BreakerOpen cause gives 500), and 502
// otherwise.
func WriteKind(ctx *fasthttp.RequestCtx, perr *pipeline.Error) {
	status, errType, code := classify(perr)
	WriteParam(ctx, status, perr.Message, errType, perr.Param, code)
}

func classify(perr *pipeline.Error) (status int, errType, code string) {
	switch perr.Kind {
	case pipeline.ErrInvalidRequest:
		return fasthttp.StatusBadRequest, TypeInvalidRequest, CodeInvalidRequest
	case pipeline.ErrRateLimited:
		return fasthttp.StatusTooManyRequests, TypeRateLimitError, CodeRateLimitExceeded
	case pipeline.ErrUpstreamTimeout:
		return fasthttp.StatusGatewayTimeout, TypeProviderError, CodeRequestTimeout
	case pipeline.ErrUpstreamHTTPStatus:
		return upstreamStatus(perr), TypeProviderError, CodeProviderError
	case pipeline.ErrAllProvidersFailed:
		if perr.Cause != nil {
			var cause *pipeline.Error
			if errors.As(perr.Cause, &cause) {
				return classify(cause)
			}
		}
		return fasthttp.StatusBadGateway, TypeProviderError, CodeProviderError
	case pipeline.ErrUpstreamNetwork, pipeline.ErrResponseMalformed:
		return fasthttp.StatusBadGateway, TypeProviderError, CodeProviderError
	default: // BreakerOpen, InternalError, SinkPersistFailure (unreachable here)
		return fasthttp.StatusInternalServerError, TypeServerError, CodeInternalError
	}
}

// upstreamStatus passes a 4xx upstream status straight through (it isn't
// retryable and the client needs the real code) and maps everything else
// (5xx, 429) to 502, since those were already retried across candidates.
func upstreamStatus(perr *pipeline.Error) int {
	var sc providers.StatusCoder
	if errors.As(perr.Cause, &sc) {
		code := sc.HTTPStatus()
		if code >= 400 && code < 500 && code != fasthttp.StatusTooManyRequests {
			return code
		}
	}
	return fasthttp.StatusBadGateway
}

// WriteProviderError maps a provider HTTP status to the appropriate gateway status.
//
//	Provider 429  → 429 + Retry-After: 60
//	Provider 5xx  → 502
//	Default       → 502
func WriteProviderError(ctx *fasthttp.RequestCtx, providerStatus int, msg string) {
	switch {
	case providerStatus == fasthttp.StatusTooManyRequests:
		ctx.Response.Header.Set("Retry-After", "60")
		Write(ctx, fasthttp.StatusTooManyRequests, msg, TypeRateLimitError, CodeRateLimitExceeded)
	case providerStatus >= 500 && providerStatus < 600:
		Write(ctx, fasthttp.StatusBadGateway, msg, TypeProviderError, CodeProviderError)
	default:
		Write(ctx, fasthttp.StatusBadGateway, msg, TypeProviderError, CodeProviderError)
	}
}

// WriteTimeout writes a 504 timeout error.
func WriteTimeout(ctx *fasthttp.RequestCtx) {
	Write(ctx, fasthttp.StatusGatewayTimeout, "provider request timed out", TypeProviderError, CodeRequestTimeout)
}

// WriteRateLimit writes a 429 rate limit error.
func WriteRateLimit(ctx *fasthttp.RequestCtx) {
	ctx.Response.Header.Set("Retry-After", "60")
	Write(ctx, fasthttp.StatusTooManyRequests, "rate limit exceeded", TypeRateLimitError, CodeRateLimitExceeded)
}
