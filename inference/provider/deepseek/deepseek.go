// Package deepseek adapts the DeepSeek Platform API to the provider
// Adapter contract, reusing the shared openai package since DeepSeek's
// chat completions endpoint is OpenAI-compatible.
package deepseek

import "github.com/modelmesh/gateway/inference/provider/openai"

// BaseURL is DeepSeek's default API endpoint.
const BaseURL = "https://api.deepseek.com/v1"

// New constructs a DeepSeek adapter. An empty baseURL defaults to BaseURL.
func New(baseURL string) *openai.Adapter {
	if baseURL == "" {
		baseURL = BaseURL
	}
	return openai.New(openai.Options{BaseURL: baseURL, Name: "deepseek"})
}
