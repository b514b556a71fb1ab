package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/modelmesh/gateway/inference/config"
	"github.com/modelmesh/gateway/inference/dispatch"
	"github.com/modelmesh/gateway/inference/telemetry"
	"github.com/modelmesh/gateway/inference/warehouse"
)

// Server holds every dependency the handlers need and builds the routed
// http.Handler. Nil Stats/Logger are tolerated; the stats endpoints answer
// 503 and logging becomes a no-op.
type Server struct {
	Dispatcher *dispatch.Dispatcher
	Config     *config.Gateway
	Stats      warehouse.StatsReader
	Logger     telemetry.Logger

	// MaxUUIDSlack bounds how far behind now a client-supplied episode_id
	// may be, per §4.1 step 5. Zero uses the dispatcher's own default.
	MaxUUIDSlack time.Duration
}

// Handler builds the routed http.Handler for the six §6 endpoints, using
// Go 1.22's method+pattern ServeMux matching so no router dependency is
// needed for path parameters like {name} and {metric}.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /inference", s.handleInference)
	mux.HandleFunc("POST /feedback", s.handleFeedback)
	mux.HandleFunc("POST /openai/v1/chat/completions", s.handleOpenAIChatCompletions)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /internal/functions/{name}/inference-stats", s.handleInferenceStats)
	mux.HandleFunc("GET /internal/functions/{name}/inference-stats/{metric}", s.handleInferenceStatsByMetric)
	return withLogging(s.Logger, mux)
}

func (s *Server) logError(ctx context.Context, msg string, err error) {
	if s.Logger == nil {
		return
	}
	s.Logger.Error(ctx, msg, "error", err)
}
