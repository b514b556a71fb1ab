package httpapi

import (
	"context"
	"net/http"
	"time"
)

// reachabilityChecker is implemented by warehouse backends that can report
// liveness (mongowarehouse.Store via its underlying *mongo.Client Ping).
// Backends that don't implement it are treated as always reachable.
type reachabilityChecker interface {
	Ping(ctx context.Context) error
}

type healthResponseBody struct {
	Status    string `json:"status"`
	Warehouse string `json:"warehouse"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	out := healthResponseBody{Status: "ok", Warehouse: "ok"}
	status := http.StatusOK

	if checker, ok := s.Stats.(reachabilityChecker); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := checker.Ping(ctx); err != nil {
			out.Warehouse = "unreachable"
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, out)
}
