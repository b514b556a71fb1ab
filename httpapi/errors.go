// Package httpapi is the thin net/http + encoding/json surface described
// in §6: it exposes the Dispatcher, warehouse.StatsReader, and feedback
// recording over six HTTP endpoints, translating wire JSON to and from
// the internal dispatch/variant/inference types. It is deliberately not a
// reimplementation of the teacher's generated Goa transport layer.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/modelmesh/gateway/inference"
)

// errorEnvelope is the wire shape of §6's error contract: a human string
// plus a map keyed by the variant/kind name that failed, carrying
// whatever structured fields that failure kind exposes.
type errorEnvelope struct {
	Error     string         `json:"error"`
	ErrorJSON map[string]any `json:"error_json,omitempty"`
}

// writeError maps err to an HTTP status via inference.HTTPStatus and
// writes the §6 error envelope. The error_json map is built from whichever
// typed error struct is present in err's chain, falling back to an empty
// map for untyped errors.
func writeError(w http.ResponseWriter, err error) {
	status := inference.HTTPStatus(err)
	env := errorEnvelope{Error: err.Error(), ErrorJSON: errorJSON(err)}
	writeJSON(w, status, env)
}

func errorJSON(err error) map[string]any {
	out := make(map[string]any)
	if de, ok := inference.AsDispatchError(err); ok {
		fields := map[string]any{"kind": string(de.Kind())}
		if len(de.VariantErrors()) > 0 {
			errs := make(map[string]string, len(de.VariantErrors()))
			for name, e := range de.VariantErrors() {
				errs[name] = e.Error()
			}
			fields["variant_errors"] = errs
		}
		out[de.FunctionName()] = fields
		return out
	}
	if me, ok := inference.AsModelError(err); ok {
		fields := map[string]any{"kind": string(me.Kind())}
		if len(me.ProviderErrors()) > 0 {
			errs := make(map[string]string, len(me.ProviderErrors()))
			for name, e := range me.ProviderErrors() {
				errs[name] = e.Error()
			}
			fields["provider_errors"] = errs
		}
		out[me.ModelName()] = fields
		return out
	}
	if pe, ok := inference.AsProviderCallError(err); ok {
		out[pe.Provider()] = map[string]any{"kind": string(pe.Kind()), "retryable": pe.Retryable()}
		return out
	}
	return out
}

// writeJSON encodes v as the response body with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
