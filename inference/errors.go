package inference

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies gateway failures into the kinds enumerated in the
// error handling design: config, validation, provider, timeout, and
// exhaustion kinds. A single small enum is shared across the three typed
// error structs below so callers can switch on Kind regardless of which
// layer raised the error.
type ErrorKind string

const (
	ErrorKindConfig                ErrorKind = "config"
	ErrorKindInvalidInput          ErrorKind = "invalid_input"
	ErrorKindUnknownFunction       ErrorKind = "unknown_function"
	ErrorKindUnknownVariant        ErrorKind = "unknown_variant"
	ErrorKindInvalidRequest        ErrorKind = "invalid_request"
	ErrorKindAPIKeyMissing         ErrorKind = "api_key_missing"
	ErrorKindInferenceClient       ErrorKind = "inference_client"
	ErrorKindInferenceServer       ErrorKind = "inference_server"
	ErrorKindSerialization         ErrorKind = "serialization"
	ErrorKindModelProviderTimeout  ErrorKind = "model_provider_timeout"
	ErrorKindModelTimeout          ErrorKind = "model_timeout"
	ErrorKindVariantTimeout        ErrorKind = "variant_timeout"
	ErrorKindModelProvidersExhausted ErrorKind = "model_providers_exhausted"
	ErrorKindAllVariantsFailed     ErrorKind = "all_variants_failed"
	ErrorKindInternal              ErrorKind = "internal"
)

// ProviderCallError describes a failure returned by a single provider
// adapter call. It is modeled directly on the teacher's model.ProviderError:
// one exported struct per propagation boundary, carrying a Kind enum, an
// HTTP-ish status where applicable, a retryable/fallback-eligible flag, and
// Unwrap so errors.As/errors.Is compose across layers.
type ProviderCallError struct {
	provider    string
	operation   string
	http        int
	kind        ErrorKind
	retryable   bool
	rawRequest  string
	rawResponse string
	cause       error
}

// NewProviderCallError constructs a ProviderCallError. provider and kind
// are required.
func NewProviderCallError(provider, operation string, httpStatus int, kind ErrorKind, retryable bool, rawRequest, rawResponse string, cause error) *ProviderCallError {
	if provider == "" {
		panic("inference: provider is required")
	}
	if kind == "" {
		panic("inference: provider call error kind is required")
	}
	return &ProviderCallError{
		provider:    provider,
		operation:   operation,
		http:        httpStatus,
		kind:        kind,
		retryable:   retryable,
		rawRequest:  rawRequest,
		rawResponse: rawResponse,
		cause:       cause,
	}
}

func (e *ProviderCallError) Provider() string    { return e.provider }
func (e *ProviderCallError) Operation() string   { return e.operation }
func (e *ProviderCallError) HTTPStatus() int     { return e.http }
func (e *ProviderCallError) Kind() ErrorKind     { return e.kind }
func (e *ProviderCallError) Retryable() bool     { return e.retryable }
func (e *ProviderCallError) RawRequest() string  { return e.rawRequest }
func (e *ProviderCallError) RawResponse() string { return e.rawResponse }
func (e *ProviderCallError) Unwrap() error       { return e.cause }

func (e *ProviderCallError) Error() string {
	op := e.operation
	if op == "" {
		op = "request"
	}
	status := ""
	if e.http > 0 {
		status = fmt.Sprintf("%d ", e.http)
	}
	msg := ""
	if e.cause != nil {
		msg = e.cause.Error()
	}
	if msg == "" {
		msg = "provider call error"
	}
	return fmt.Sprintf("%s %s %s(%s): %s", e.provider, e.kind, status, op, msg)
}

// AsProviderCallError returns the first ProviderCallError in err's chain.
func AsProviderCallError(err error) (*ProviderCallError, bool) {
	var pe *ProviderCallError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// ModelError describes a model-level failure: every configured provider
// failed (ModelProvidersExhausted) or the model-level deadline fired
// (ModelTimeout).
type ModelError struct {
	modelName      string
	kind           ErrorKind
	timeout        time.Duration
	streaming      bool
	providerErrors map[string]error
	cause          error
}

// NewModelProvidersExhaustedError builds a ModelError reporting that every
// provider in the routing order failed, carrying the full per-provider
// error map for debuggability per §7 "carry the full child-error map".
func NewModelProvidersExhaustedError(modelName string, providerErrors map[string]error) *ModelError {
	return &ModelError{
		modelName:      modelName,
		kind:           ErrorKindModelProvidersExhausted,
		providerErrors: providerErrors,
	}
}

// NewModelTimeoutError builds a ModelError reporting that the model-level
// deadline fired while iterating providers.
func NewModelTimeoutError(modelName string, timeout time.Duration, streaming bool) *ModelError {
	return &ModelError{
		modelName: modelName,
		kind:      ErrorKindModelTimeout,
		timeout:   timeout,
		streaming: streaming,
	}
}

func (e *ModelError) ModelName() string           { return e.modelName }
func (e *ModelError) Kind() ErrorKind              { return e.kind }
func (e *ModelError) Timeout() time.Duration       { return e.timeout }
func (e *ModelError) Streaming() bool              { return e.streaming }
func (e *ModelError) ProviderErrors() map[string]error { return e.providerErrors }
func (e *ModelError) Unwrap() error                { return e.cause }

func (e *ModelError) Error() string {
	switch e.kind {
	case ErrorKindModelTimeout:
		return fmt.Sprintf("model %q timed out after %s (streaming=%v)", e.modelName, e.timeout, e.streaming)
	default:
		return fmt.Sprintf("model %q: all %d providers failed", e.modelName, len(e.providerErrors))
	}
}

// AsModelError returns the first ModelError in err's chain.
func AsModelError(err error) (*ModelError, bool) {
	var me *ModelError
	if errors.As(err, &me) {
		return me, true
	}
	return nil, false
}

// DispatchError describes a dispatcher-level failure: every candidate
// variant failed (AllVariantsFailed), or a pre-invocation validation error
// (UnknownFunction, UnknownVariant, InvalidInput, InvalidRequest).
type DispatchError struct {
	functionName  string
	kind          ErrorKind
	variantErrors map[string]error
	cause         error
}

// NewAllVariantsFailedError builds a DispatchError reporting that every
// sampled variant failed, carrying the full per-variant error map plus the
// last attempt's error as cause so HTTPStatus can still see through to a
// wrapped streaming ModelTimeout via Unwrap (§8: a streaming request whose
// only/last variant fails on ttft must still surface as 408, not 500).
func NewAllVariantsFailedError(functionName string, variantErrors map[string]error, cause error) *DispatchError {
	return &DispatchError{
		functionName:  functionName,
		kind:          ErrorKindAllVariantsFailed,
		variantErrors: variantErrors,
		cause:         cause,
	}
}

// NewDispatchError builds a DispatchError for a pre-invocation validation
// failure (unknown function/variant, invalid input, invalid request).
func NewDispatchError(functionName string, kind ErrorKind, cause error) *DispatchError {
	return &DispatchError{functionName: functionName, kind: kind, cause: cause}
}

func (e *DispatchError) FunctionName() string            { return e.functionName }
func (e *DispatchError) Kind() ErrorKind                  { return e.kind }
func (e *DispatchError) VariantErrors() map[string]error  { return e.variantErrors }
func (e *DispatchError) Unwrap() error                    { return e.cause }

func (e *DispatchError) Error() string {
	switch e.kind {
	case ErrorKindAllVariantsFailed:
		return fmt.Sprintf("function %q: all %d variants failed", e.functionName, len(e.variantErrors))
	default:
		msg := string(e.kind)
		if e.cause != nil {
			msg = e.cause.Error()
		}
		return fmt.Sprintf("function %q: %s: %s", e.functionName, e.kind, msg)
	}
}

// AsDispatchError returns the first DispatchError in err's chain.
func AsDispatchError(err error) (*DispatchError, bool) {
	var de *DispatchError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// HTTPStatus maps a gateway error to the status codes enumerated in §6:
// 400 invalid request, 401/403 auth, 404 unknown function/variant, 408
// streaming ttft timeout, 500 server/provider exhaustion. HTTPStatus never
// returns 503; the stats handlers write 503 directly when no stats backend
// is configured.
func HTTPStatus(err error) int {
	if de, ok := AsDispatchError(err); ok {
		switch de.Kind() {
		case ErrorKindUnknownFunction, ErrorKindUnknownVariant:
			return 404
		case ErrorKindAPIKeyMissing:
			return 401
		case ErrorKindInvalidInput, ErrorKindInvalidRequest:
			return 400
		case ErrorKindAllVariantsFailed:
			// A streaming ttft timeout on the only/last surviving variant
			// is still a timeout from the caller's perspective, not a
			// generic exhaustion: surface it as 408 via de's wrapped cause.
			if me, ok := AsModelError(err); ok && me.Kind() == ErrorKindModelTimeout && me.Streaming() {
				return 408
			}
			return 500
		}
	}
	if me, ok := AsModelError(err); ok {
		if me.Kind() == ErrorKindModelTimeout && me.Streaming() {
			return 408
		}
		return 500
	}
	if pe, ok := AsProviderCallError(err); ok {
		switch pe.Kind() {
		case ErrorKindAPIKeyMissing:
			return 401
		case ErrorKindInferenceClient:
			if pe.HTTPStatus() == 401 || pe.HTTPStatus() == 403 {
				return pe.HTTPStatus()
			}
			return 400
		case ErrorKindModelProviderTimeout:
			return 408
		}
		return 500
	}
	return 500
}
