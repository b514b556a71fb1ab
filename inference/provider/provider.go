// Package provider defines the per-family adapter contract (§4.4): convert
// a Request to the provider's wire format, submit it, and convert the
// response back. Concrete adapters live in subpackages, one per provider
// family; this package also holds URL-joining and error-classification
// helpers.
package provider

import (
	"context"
	"net/url"
	"strings"

	"github.com/modelmesh/gateway/inference"
)

// Adapter is the per-family provider contract. Implementations translate
// Request into the provider's wire format, submit it, and translate the
// response back into the gateway's internal types.
type Adapter interface {
	// Name identifies the provider family for telemetry and error
	// reporting (e.g. "openai", "anthropic").
	Name() string

	// Infer performs a non-streaming model invocation.
	Infer(ctx context.Context, req *inference.Request, creds Credentials) (*inference.Response, error)

	// InferStream performs a streaming model invocation. It returns as
	// soon as the first chunk is available so the caller can apply the
	// ttft timeout, along with the remainder stream and the raw request
	// body for persistence.
	InferStream(ctx context.Context, req *inference.Request, creds Credentials) (first inference.ResponseChunk, rest inference.ChunkStream, rawRequest string, err error)
}

// BatchAdapter is implemented by provider families that support batch
// inference. Families that do not implement it cannot run batch
// inference.
type BatchAdapter interface {
	StartBatchInference(ctx context.Context, reqs []*inference.Request, creds Credentials) (batchID string, err error)
	PollBatchInference(ctx context.Context, batchID string, creds Credentials) (done bool, responses []*inference.Response, err error)
}

// EmbeddingAdapter is implemented by provider families that can embed text
// for dicl's demonstration retrieval. Adapters that do not implement it
// cannot back a dicl variant's embedding_model.
type EmbeddingAdapter interface {
	Embed(ctx context.Context, modelName, text string, creds Credentials) ([]float32, error)
}

// ErrBatchUnsupported is the error for a batch inference against a
// provider family without a BatchAdapter. The model router has no batch
// path, so nothing in this module returns it.
var ErrBatchUnsupported = inference.NewProviderCallError("unknown", "batch_inference", 0, inference.ErrorKindInvalidRequest, false, "", "", nil)

// Credentials resolves a provider's API key for a single call, already
// resolved from either the static config value or the per-request dynamic
// credentials map (see config.Credential.Resolve).
type Credentials struct {
	APIKey string
}

// JoinURL joins base and a path suffix, tolerating a trailing slash on
// base and a leading slash on suffix.
func JoinURL(base, suffix string) string {
	base = strings.TrimRight(base, "/")
	suffix = strings.TrimLeft(suffix, "/")
	if base == "" {
		return "/" + suffix
	}
	return base + "/" + suffix
}

// BuildURL is JoinURL plus query-string assembly, for endpoints that
// require query parameters like api-version.
func BuildURL(base, suffix string, query url.Values) string {
	u := JoinURL(base, suffix)
	if len(query) == 0 {
		return u
	}
	return u + "?" + query.Encode()
}
