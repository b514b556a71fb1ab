// Package sglang adapts a self-hosted SGLang OpenAI-compatible server to
// the provider Adapter contract, reusing the shared openai package.
package sglang

import "github.com/modelmesh/gateway/inference/provider/openai"

// New constructs an SGLang adapter pointed at baseURL.
func New(baseURL string) *openai.Adapter {
	return openai.New(openai.Options{BaseURL: baseURL, Name: "sglang"})
}
