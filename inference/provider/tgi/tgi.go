// Package tgi adapts Hugging Face Text Generation Inference's
// OpenAI-compatible Messages API to the provider Adapter contract, reusing
// the shared openai package.
package tgi

import "github.com/modelmesh/gateway/inference/provider/openai"

// New constructs a TGI adapter pointed at baseURL.
func New(baseURL string) *openai.Adapter {
	return openai.New(openai.Options{BaseURL: baseURL, Name: "tgi"})
}
