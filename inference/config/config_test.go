package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const validDoc = `
functions:
  greet:
    type: chat
    variants:
      v1:
        kind: chat_completion
        weight: 1
        model: m1
models:
  m1:
    providers: [p1]
providers:
  p1:
    type: openai
    credential:
      kind: none
`

func TestParse_Valid(t *testing.T) {
	g, err := Parse([]byte(validDoc))
	require.NoError(t, err)
	require.Len(t, g.Functions, 1)
	require.Equal(t, "greet", g.Functions["greet"].Name)
	require.Equal(t, "p1", g.Providers["p1"].Name)
}

func TestParse_RejectsUnknownProvider(t *testing.T) {
	doc := `
models:
  m1:
    providers: [missing]
providers: {}
`
	_, err := Parse([]byte(doc))
	require.Error(t, err)
}

func TestParse_RejectsZeroVariantFunction(t *testing.T) {
	doc := `
functions:
  greet:
    type: chat
    variants: {}
`
	_, err := Parse([]byte(doc))
	require.Error(t, err)
}

func TestParse_RejectsBestOfNSelfReference(t *testing.T) {
	doc := `
functions:
  greet:
    type: chat
    variants:
      v1:
        kind: best_of_n
        candidates: [v1]
`
	_, err := Parse([]byte(doc))
	require.Error(t, err)
}

func TestParse_RejectsUnknownEvaluatorModel(t *testing.T) {
	doc := `
functions:
  greet:
    type: chat
    variants:
      a:
        kind: chat_completion
        model: m1
      best:
        kind: best_of_n
        candidates: [a]
        evaluator_model: nope
models:
  m1:
    providers: [p1]
providers:
  p1:
    type: openai
    credential:
      kind: none
`
	_, err := Parse([]byte(doc))
	require.Error(t, err)
}

func TestCredential_ResolveStatic(t *testing.T) {
	c := Credential{Kind: CredentialStatic, StaticValue: "sk-abc"}
	v, err := c.Resolve(nil)
	require.NoError(t, err)
	require.Equal(t, "sk-abc", v)
}

func TestCredential_ResolveDynamicMissing(t *testing.T) {
	c := Credential{Kind: CredentialDynamic, DynamicName: "anthropic_api_key"}
	_, err := c.Resolve(map[string]string{"other_key": "x"})
	require.Error(t, err)
}

func TestCredential_ResolveDynamicPresent(t *testing.T) {
	c := Credential{Kind: CredentialDynamic, DynamicName: "anthropic_api_key"}
	v, err := c.Resolve(map[string]string{"anthropic_api_key": "sk-xyz"})
	require.NoError(t, err)
	require.Equal(t, "sk-xyz", v)
}

func TestCredential_ResolveNone(t *testing.T) {
	c := Credential{Kind: CredentialNone}
	v, err := c.Resolve(nil)
	require.NoError(t, err)
	require.Empty(t, v)
}
