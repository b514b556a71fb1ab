// Package vllm adapts a self-hosted vLLM OpenAI-compatible server to the
// provider Adapter contract. vLLM's /v1/chat/completions endpoint mirrors
// OpenAI's wire format closely enough that the shared openai package is
// reused with a different base URL. That package skips its API key check
// for vllm, sends guided_json for schema-constrained JSON modes, and
// rejects tool use for this family.
package vllm

import "github.com/modelmesh/gateway/inference/provider/openai"

// New constructs a vLLM adapter pointed at baseURL (typically
// http://host:8000/v1).
func New(baseURL string) *openai.Adapter {
	return openai.New(openai.Options{BaseURL: baseURL, Name: "vllm"})
}
