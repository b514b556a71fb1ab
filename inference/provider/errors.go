package provider

import (
	"context"
	"errors"
	"time"

	"github.com/modelmesh/gateway/inference"
)

// ClassifyHTTPStatus maps an HTTP status code to the error classification
// in §4.4: 401/403/429 and other 4xx are ClientError (fallback-eligible);
// 5xx is ServerError (fallback-eligible).
func ClassifyHTTPStatus(providerName, operation string, status int, rawRequest, rawResponse string, cause error) *inference.ProviderCallError {
	switch {
	case status >= 500:
		return inference.NewProviderCallError(providerName, operation, status, inference.ErrorKindInferenceServer, true, rawRequest, rawResponse, cause)
	case status == 401 || status == 403:
		return inference.NewProviderCallError(providerName, operation, status, inference.ErrorKindInferenceClient, true, rawRequest, rawResponse, cause)
	case status >= 400:
		return inference.NewProviderCallError(providerName, operation, status, inference.ErrorKindInferenceClient, true, rawRequest, rawResponse, cause)
	default:
		return inference.NewProviderCallError(providerName, operation, status, inference.ErrorKindInferenceServer, true, rawRequest, rawResponse, cause)
	}
}

// ClassifyTimeout builds the ModelProviderTimeout error raised when ctx's
// deadline fires mid-call.
func ClassifyTimeout(providerName, operation string, streaming bool, timeout time.Duration) *inference.ProviderCallError {
	msg := "non-streaming"
	if streaming {
		msg = "streaming ttft"
	}
	_ = msg
	return inference.NewProviderCallError(providerName, operation, 0, inference.ErrorKindModelProviderTimeout, true, "", "", context.DeadlineExceeded)
}

// IsContextDeadline reports whether err is (or wraps) a context deadline
// error, used by adapters to distinguish a provider-level timeout from an
// ordinary network failure.
func IsContextDeadline(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

// InferenceServer builds a deserialization-failure error: the provider
// returned a 200 but the body did not parse as the expected shape, or
// returned a choice count other than 1.
func InferenceServer(providerName, operation, rawRequest, rawResponse string, cause error) *inference.ProviderCallError {
	return inference.NewProviderCallError(providerName, operation, 0, inference.ErrorKindInferenceServer, true, rawRequest, rawResponse, cause)
}
