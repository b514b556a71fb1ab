// Package runtime wires a loaded config.Gateway into live provider
// adapters and modelrouter.Router instances, and exposes the result as a
// variant.ModelResolver. This is the one place that knows how to turn a
// config.Provider's type/base_url/params into a concrete provider.Adapter,
// analogous to the teacher's registry.go factory pattern but scoped to
// this gateway's fixed provider-family set (§9's polymorphism constraint
// applies here too: a closed switch over config.ProviderType, not a
// plugin registry).
package runtime

import (
	"context"
	"fmt"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/redis/go-redis/v9"

	"github.com/modelmesh/gateway/inference/config"
	"github.com/modelmesh/gateway/inference/modelrouter"
	"github.com/modelmesh/gateway/inference/provider"
	"github.com/modelmesh/gateway/inference/ratelimit"
	"github.com/modelmesh/gateway/inference/provider/anthropic"
	"github.com/modelmesh/gateway/inference/provider/azure"
	"github.com/modelmesh/gateway/inference/provider/bedrock"
	"github.com/modelmesh/gateway/inference/provider/deepseek"
	"github.com/modelmesh/gateway/inference/provider/dummy"
	"github.com/modelmesh/gateway/inference/provider/openai"
	"github.com/modelmesh/gateway/inference/provider/sglang"
	"github.com/modelmesh/gateway/inference/provider/tgi"
	"github.com/modelmesh/gateway/inference/provider/vertex"
	"github.com/modelmesh/gateway/inference/provider/vllm"
	"github.com/modelmesh/gateway/inference/telemetry"
	"github.com/modelmesh/gateway/inference/variant"
)

// Resolver builds and caches modelrouter.Router instances for every model
// named in a config.Gateway, implementing variant.ModelResolver.
type Resolver struct {
	cfg     *config.Gateway
	logger  telemetry.Logger
	metrics telemetry.Metrics

	routers  map[string]*modelrouter.Router
	adapters map[string]provider.Adapter
	limiters map[string]*ratelimit.Limiter
}

// New builds a Resolver from cfg. Provider adapters requiring ambient
// credentials (AWS, GCP) are constructed eagerly using the default
// credential chain; a construction error for any provider makes New
// return that error. When rdb is non-nil,
// each provider's adaptive rate limiter coordinates its effective
// tokens-per-minute budget across gateway replicas via that Redis client
// instead of tracking it purely in process memory.
func New(ctx context.Context, cfg *config.Gateway, logger telemetry.Logger, metrics telemetry.Metrics, rdb *redis.Client) (*Resolver, error) {
	r := &Resolver{
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		routers:  make(map[string]*modelrouter.Router),
		adapters: make(map[string]provider.Adapter),
		limiters: make(map[string]*ratelimit.Limiter),
	}
	for name, p := range cfg.Providers {
		a, err := buildAdapter(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("runtime: provider %q: %w", name, err)
		}
		r.adapters[name] = a
		// One adaptive limiter per provider, shared across every model
		// that routes through it, so a 429 from one model's traffic backs
		// off the whole provider's throughput rather than just one model's
		// view of it. Clustered across replicas when rdb is set.
		if rdb != nil {
			r.limiters[name] = ratelimit.NewClustered(ctx, rdb, "provider:"+name, 0, 0)
		} else {
			r.limiters[name] = ratelimit.New(0, 0)
		}
	}
	for name, m := range cfg.Models {
		router, err := r.buildRouter(name, m, nil)
		if err != nil {
			return nil, err
		}
		r.routers[name] = router
	}
	return r, nil
}

// Resolve implements variant.ModelResolver using each provider's static
// credential only. Functions routed through a provider configured with a
// "dynamic" credential must be dispatched via ForRequest instead, which
// rebuilds the routing table with that call's supplied credentials.
func (r *Resolver) Resolve(modelName string) (*modelrouter.Router, bool) {
	router, ok := r.routers[modelName]
	return router, ok
}

// ForRequest returns a Resolver whose routers resolve dynamic-kind
// provider credentials from reqCreds (the `credentials` map of a single
// /inference call, per §6), rebuilding the affected routing tables fresh
// since credentials cannot be baked into the cached, shared Router
// instances Resolve serves. Static-credential models keep using the
// shared cache. Safe to call on every request; cheap when reqCreds is
// empty (falls back to the cached resolver unchanged).
func (r *Resolver) ForRequest(reqCreds map[string]string) (variant.ModelResolver, error) {
	if len(reqCreds) == 0 {
		return r, nil
	}
	scoped := &Resolver{cfg: r.cfg, logger: r.logger, metrics: r.metrics, adapters: r.adapters, limiters: r.limiters, routers: make(map[string]*modelrouter.Router, len(r.routers))}
	for name, m := range r.cfg.Models {
		router, err := scoped.buildRouter(name, m, reqCreds)
		if err != nil {
			return nil, err
		}
		scoped.routers[name] = router
	}
	return scoped, nil
}

func (r *Resolver) buildRouter(name string, m *config.Model, reqCreds map[string]string) (*modelrouter.Router, error) {
	bindings := make([]modelrouter.ProviderBinding, 0, len(m.Providers))
	for _, pname := range m.Providers {
		p, ok := r.cfg.Providers[pname]
		if !ok {
			return nil, fmt.Errorf("runtime: model %q: unknown provider %q", name, pname)
		}
		adapter, ok := r.adapters[pname]
		if !ok {
			return nil, fmt.Errorf("runtime: model %q: provider %q was not built", name, pname)
		}
		var apiKey string
		if reqCreds == nil && p.Credential.Kind == config.CredentialDynamic {
			// The base, startup-built resolver has no per-request credentials
			// yet; leave dynamic keys empty here. Resolve is only safe to
			// call on this binding through ForRequest once a call supplies
			// them, at which point the provider raises ApiKeyMissing if
			// still absent instead of failing gateway startup.
		} else {
			var err error
			apiKey, err = p.Credential.Resolve(reqCreds)
			if err != nil {
				return nil, fmt.Errorf("runtime: model %q: provider %q: %w", name, pname, err)
			}
		}
		bindings = append(bindings, modelrouter.ProviderBinding{
			Name:        pname,
			Adapter:     adapter,
			Creds:       provider.Credentials{APIKey: apiKey},
			RateLimiter: r.limiters[pname],
		})
	}
	return &modelrouter.Router{
		ModelName:            name,
		Providers:            bindings,
		NonStreamingTimeout:  time.Duration(m.Timeouts.NonStreaming.TotalMs) * time.Millisecond,
		StreamingTTFTTimeout: time.Duration(m.Timeouts.Streaming.TTFTMs) * time.Millisecond,
		Logger:               r.logger,
		Metrics:               r.metrics,
	}, nil
}

func buildAdapter(ctx context.Context, p *config.Provider) (provider.Adapter, error) {
	switch p.Type {
	case config.ProviderOpenAI:
		return openai.New(openai.Options{Name: "openai", BaseURL: p.BaseURL}), nil
	case config.ProviderAzure:
		return azure.New(p.BaseURL, p.Params["api_version"]), nil
	case config.ProviderVLLM:
		return vllm.New(p.BaseURL), nil
	case config.ProviderSGLang:
		return sglang.New(p.BaseURL), nil
	case config.ProviderTGI:
		return tgi.New(p.BaseURL), nil
	case config.ProviderDeepSeek:
		return deepseek.New(p.BaseURL), nil
	case config.ProviderAnthropic:
		return anthropic.New(), nil
	case config.ProviderBedrock:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		return bedrock.New(bedrockruntime.NewFromConfig(awsCfg)), nil
	case config.ProviderVertex:
		return vertex.New(vertex.Options{Project: p.Params["project"], Location: p.Params["location"]}), nil
	case config.ProviderDummy:
		return dummy.New(nil), nil
	default:
		return nil, fmt.Errorf("unknown provider type %q", p.Type)
	}
}
