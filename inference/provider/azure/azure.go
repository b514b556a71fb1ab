// Package azure adapts Azure OpenAI Service to the provider Adapter
// contract. Azure speaks the same Chat Completions wire format as OpenAI
// but requires a per-deployment base URL and an api-version query
// parameter, so this package is a thin configuration wrapper around the
// shared openai package rather than a separate implementation.
package azure

import (
	"github.com/modelmesh/gateway/inference/provider/openai"
)

// DefaultAPIVersion is used when a provider config omits api_version.
const DefaultAPIVersion = "2024-10-21"

// New constructs an Azure OpenAI adapter. baseURL is the deployment
// endpoint (https://<resource>.openai.azure.com/openai/deployments/<deployment>).
func New(baseURL, apiVersion string) *openai.Adapter {
	if apiVersion == "" {
		apiVersion = DefaultAPIVersion
	}
	return openai.New(openai.Options{BaseURL: baseURL, Name: "azure", APIVersion: apiVersion})
}
