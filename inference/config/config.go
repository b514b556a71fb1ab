// Package config loads the function/variant/model/provider configuration
// tree from a single YAML document and validates it eagerly at load time.
// The loading and reload-watching shape follows the pattern used
// throughout the example pack's config-driven services: unmarshal with
// gopkg.in/yaml.v3, then optionally watch the source file with fsnotify
// and atomically swap the immutable config pointer.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/modelmesh/gateway/inference"
)

// ProviderType names a supported provider family.
type ProviderType string

const (
	ProviderOpenAI    ProviderType = "openai"
	ProviderAnthropic ProviderType = "anthropic"
	ProviderAzure     ProviderType = "azure"
	ProviderVLLM      ProviderType = "vllm"
	ProviderSGLang    ProviderType = "sglang"
	ProviderTGI       ProviderType = "tgi"
	ProviderBedrock   ProviderType = "aws-bedrock"
	ProviderVertex    ProviderType = "gcp-vertex"
	ProviderDeepSeek  ProviderType = "deepseek"
	ProviderDummy     ProviderType = "dummy"
)

// CredentialKind distinguishes how a provider's API key is resolved.
type CredentialKind string

const (
	CredentialStatic  CredentialKind = "static"
	CredentialDynamic CredentialKind = "dynamic"
	CredentialNone    CredentialKind = "none"
)

// Credential is a small sum type so adapters never special-case where a
// key came from: a static key captured at load time, a dynamic key looked
// up by name from the per-request credentials map, or none.
type Credential struct {
	Kind        CredentialKind `yaml:"kind"`
	StaticValue string         `yaml:"-"`
	DynamicName string         `yaml:"dynamic_name,omitempty"`
}

// Resolve returns the credential's value for a given call. For dynamic
// credentials it looks up DynamicName in requestCredentials, which comes
// from the per-request `credentials` map (§6).
func (c Credential) Resolve(requestCredentials map[string]string) (string, error) {
	switch c.Kind {
	case CredentialStatic:
		if c.StaticValue == "" {
			return "", fmt.Errorf("static credential has no value")
		}
		return c.StaticValue, nil
	case CredentialDynamic:
		v, ok := requestCredentials[c.DynamicName]
		if !ok || v == "" {
			return "", fmt.Errorf("dynamic credential %q not supplied in request", c.DynamicName)
		}
		return v, nil
	case CredentialNone:
		return "", nil
	default:
		return "", fmt.Errorf("unknown credential kind %q", c.Kind)
	}
}

// Timeouts mirrors a model's or provider's nested timeouts struct.
type Timeouts struct {
	NonStreaming struct {
		TotalMs int `yaml:"total_ms"`
	} `yaml:"non_streaming"`
	Streaming struct {
		TTFTMs int `yaml:"ttft_ms"`
	} `yaml:"streaming"`
}

// Provider is a single upstream LLM API binding.
type Provider struct {
	Name       string       `yaml:"name"`
	Type       ProviderType `yaml:"type"`
	Credential Credential   `yaml:"credential"`
	BaseURL    string       `yaml:"base_url,omitempty"`
	ModelName  string       `yaml:"model_name"`
	Timeouts   Timeouts     `yaml:"timeouts"`

	// Params carries provider-type-specific settings that don't warrant a
	// dedicated field: azure's api_version, gcp-vertex's project/location.
	Params map[string]string `yaml:"params,omitempty"`
}

// Model is an ordered list of providers treated as a single logical
// endpoint with fallback.
type Model struct {
	Name      string   `yaml:"name"`
	Providers []string `yaml:"providers"`
	Timeouts  Timeouts `yaml:"timeouts"`
}

// VariantKind is the tagged-union discriminator for variant strategies.
// Per §9 "Polymorphism", variants are a fixed, exhaustively-dispatched set,
// not an open interface-implementation set.
type VariantKind string

const (
	VariantChatCompletion  VariantKind = "chat_completion"
	VariantBestOfN         VariantKind = "best_of_n"
	VariantMixtureOfN      VariantKind = "mixture_of_n"
	VariantChainOfThought  VariantKind = "chain_of_thought"
	VariantDICL            VariantKind = "dicl"
)

// Templates holds the three prompt-rendering slots of a chat-completion
// variant. Only the system slot is rendered (by variant.buildRequest); the
// user and assistant slots are loaded but not applied.
type Templates struct {
	System     string `yaml:"system,omitempty"`
	User       string `yaml:"user,omitempty"`
	Assistant  string `yaml:"assistant,omitempty"`
}

// Variant is the polymorphic strategy config. Only the fields relevant to
// Kind are populated; the loader validates this at Load time.
type Variant struct {
	Name   string      `yaml:"name"`
	Kind   VariantKind `yaml:"kind"`
	Weight float64     `yaml:"weight"`
	Model  string      `yaml:"model"`

	Templates Templates           `yaml:"templates,omitempty"`
	Params    inference.GenerationParams `yaml:"-"`

	// Candidates names the N chat-completion variants fanned out by
	// best_of_n/mixture_of_n. The loader rejects self-reference.
	Candidates []string `yaml:"candidates,omitempty"`
	// EvaluatorModel/FuserModel name the model used to judge (best_of_n)
	// or fuse (mixture_of_n) candidate outputs.
	EvaluatorModel string `yaml:"evaluator_model,omitempty"`
	FuserModel     string `yaml:"fuser_model,omitempty"`

	// ChainOfThought.InnerVariant names the chat-completion variant
	// wrapped when Kind is chain_of_thought.
	InnerVariant string `yaml:"inner_variant,omitempty"`

	// DICL.EmbeddingModel names the model used to embed the current input
	// for demonstration retrieval; K is the number of demonstrations to
	// retrieve.
	EmbeddingModel string `yaml:"embedding_model,omitempty"`
	K              int    `yaml:"k,omitempty"`
}

// Function is a named, schema-validated inference endpoint owning a
// weighted set of variants.
type Function struct {
	Name              string                     `yaml:"name"`
	Type              inference.FunctionType     `yaml:"type"`
	SystemSchema      json.RawMessage            `yaml:"system_schema,omitempty"`
	UserSchema        json.RawMessage            `yaml:"user_schema,omitempty"`
	AssistantSchema   json.RawMessage            `yaml:"assistant_schema,omitempty"`
	OutputSchema      json.RawMessage            `yaml:"output_schema,omitempty"`
	Tools             []inference.ToolDefinition `yaml:"-"`
	ToolChoice        inference.ToolChoice       `yaml:"-"`
	Variants          map[string]*Variant        `yaml:"variants"`
}

// Gateway is the root configuration document, shared-immutable for the
// process lifetime once loaded (§9 "Config is shared-immutable").
type Gateway struct {
	Functions map[string]*Function  `yaml:"functions"`
	Models    map[string]*Model     `yaml:"models"`
	Providers map[string]*Provider  `yaml:"providers"`
}

type yamlDoc struct {
	Functions map[string]*Function `yaml:"functions"`
	Models    map[string]*Model    `yaml:"models"`
	Providers map[string]*Provider `yaml:"providers"`
}

// Load reads and validates a gateway configuration document from path.
// Unknown function/model/provider references are a load-time error, per
// §9 "the configuration graph is strictly acyclic" and the function →
// variant → model → provider reference chain.
func Load(path string) (*Gateway, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse validates and returns a Gateway from raw YAML bytes.
func Parse(data []byte) (*Gateway, error) {
	var doc yamlDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	g := &Gateway{Functions: doc.Functions, Models: doc.Models, Providers: doc.Providers}
	if err := g.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return g, nil
}

func (g *Gateway) validate() error {
	for name, p := range g.Providers {
		if p.Name == "" {
			p.Name = name
		}
	}
	for name, m := range g.Models {
		if m.Name == "" {
			m.Name = name
		}
		if len(m.Providers) == 0 {
			return fmt.Errorf("model %q: at least one provider is required", name)
		}
		for _, ref := range m.Providers {
			if _, ok := g.Providers[ref]; !ok {
				return fmt.Errorf("model %q: unknown provider %q", name, ref)
			}
		}
	}
	for fname, f := range g.Functions {
		if f.Name == "" {
			f.Name = fname
		}
		if len(f.Variants) == 0 {
			return fmt.Errorf("function %q: InvalidFunctionVariants: zero variants configured", fname)
		}
		for vname, v := range f.Variants {
			if v.Name == "" {
				v.Name = vname
			}
			if err := g.validateVariant(fname, vname, v, f.Variants); err != nil {
				return err
			}
		}
	}
	return nil
}

func (g *Gateway) validateVariant(fname, vname string, v *Variant, siblings map[string]*Variant) error {
	switch v.Kind {
	case VariantBestOfN, VariantMixtureOfN:
		if len(v.Candidates) == 0 {
			return fmt.Errorf("function %q variant %q: at least one candidate is required", fname, vname)
		}
		for _, cname := range v.Candidates {
			if cname == vname {
				return fmt.Errorf("function %q variant %q: may not name itself as a candidate", fname, vname)
			}
			cand, ok := siblings[cname]
			if !ok {
				return fmt.Errorf("function %q variant %q: unknown candidate %q", fname, vname, cname)
			}
			if cand.Kind == VariantBestOfN || cand.Kind == VariantMixtureOfN {
				return fmt.Errorf("function %q variant %q: candidate %q must not itself be best_of_n/mixture_of_n", fname, vname, cname)
			}
		}
		evalModel := v.EvaluatorModel
		if v.Kind == VariantMixtureOfN {
			evalModel = v.FuserModel
		}
		if evalModel != "" {
			if _, ok := g.Models[evalModel]; !ok {
				return fmt.Errorf("function %q variant %q: unknown evaluator/fuser model %q", fname, vname, evalModel)
			}
		}
	case VariantChainOfThought:
		if v.InnerVariant == "" {
			return fmt.Errorf("function %q variant %q: inner_variant is required", fname, vname)
		}
		if _, ok := siblings[v.InnerVariant]; !ok {
			return fmt.Errorf("function %q variant %q: unknown inner_variant %q", fname, vname, v.InnerVariant)
		}
	case VariantDICL:
		if v.EmbeddingModel == "" {
			return fmt.Errorf("function %q variant %q: embedding_model is required", fname, vname)
		}
		if _, ok := g.Models[v.EmbeddingModel]; !ok {
			return fmt.Errorf("function %q variant %q: unknown embedding_model %q", fname, vname, v.EmbeddingModel)
		}
		if v.Model == "" {
			return fmt.Errorf("function %q variant %q: model is required", fname, vname)
		}
	case VariantChatCompletion:
	default:
		return fmt.Errorf("function %q variant %q: unknown kind %q", fname, vname, v.Kind)
	}
	if v.Kind == VariantChatCompletion || v.Kind == VariantDICL {
		if v.Model == "" {
			return fmt.Errorf("function %q variant %q: model is required", fname, vname)
		}
		if _, ok := g.Models[v.Model]; !ok {
			return fmt.Errorf("function %q variant %q: unknown model %q", fname, vname, v.Model)
		}
	}
	return nil
}

// Watcher watches a config file for changes via fsnotify and atomically
// swaps an in-memory Gateway pointer so concurrent readers never observe a
// half-updated config.
type Watcher struct {
	path    string
	current atomic.Pointer[Gateway]
	watcher *fsnotify.Watcher
	onError func(error)
}

// NewWatcher loads path once and starts watching it for writes. onError,
// if non-nil, receives reload failures; the previously loaded config is
// retained on a failed reload.
func NewWatcher(path string, onError func(error)) (*Watcher, error) {
	g, err := Load(path)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: create watcher: %w", err)
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w := &Watcher{path: path, watcher: fw, onError: onError}
	w.current.Store(g)
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			g, err := Load(w.path)
			if err != nil {
				if w.onError != nil {
					w.onError(err)
				}
				continue
			}
			w.current.Store(g)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if w.onError != nil {
				w.onError(err)
			}
		}
	}
}

// Current returns the most recently loaded configuration.
func (w *Watcher) Current() *Gateway { return w.current.Load() }

// Close stops watching the config file.
func (w *Watcher) Close() error { return w.watcher.Close() }
