package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/modelmesh/gateway/inference"
	"github.com/modelmesh/gateway/inference/config"
	"github.com/modelmesh/gateway/inference/modelrouter"
	"github.com/modelmesh/gateway/inference/provider"
	"github.com/modelmesh/gateway/inference/variant"
	"github.com/modelmesh/gateway/inference/warehouse"
)

type fakeAdapter struct{ name string }

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Infer(ctx context.Context, req *inference.Request, creds provider.Credentials) (*inference.Response, error) {
	return &inference.Response{Content: []inference.ContentBlock{inference.TextBlock{Text: "ok"}}}, nil
}

func (f *fakeAdapter) InferStream(ctx context.Context, req *inference.Request, creds provider.Credentials) (inference.ResponseChunk, inference.ChunkStream, string, error) {
	return inference.ResponseChunk{}, nil, "", nil
}

type fakeResolver struct {
	router *modelrouter.Router
}

func (r *fakeResolver) Resolve(modelName string) (*modelrouter.Router, bool) {
	if r.router == nil {
		return nil, false
	}
	return r.router, true
}

func newFakeRouter(modelName string) *modelrouter.Router {
	return &modelrouter.Router{
		ModelName: modelName,
		Providers: []modelrouter.ProviderBinding{{Name: "fake", Adapter: &fakeAdapter{name: "fake"}}},
	}
}

type spyWriter struct {
	mu              sync.Mutex
	writes          int
	modelInferences []warehouse.ModelInferenceRecord
}

func (w *spyWriter) WriteInference(ctx context.Context, rec warehouse.InferenceRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writes++
	return nil
}
func (w *spyWriter) WriteModelInference(ctx context.Context, rec warehouse.ModelInferenceRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.modelInferences = append(w.modelInferences, rec)
	return nil
}
func (w *spyWriter) WriteFeedback(ctx context.Context, rec warehouse.FeedbackRecord) error { return nil }

func (w *spyWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writes
}

func (w *spyWriter) modelInferenceCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.modelInferences)
}

func basicInput() variant.Input {
	return variant.Input{
		System:       "",
		Messages:     []inference.Message{{Role: inference.RoleUser, Content: []inference.ContentBlock{inference.TextBlock{Text: "hi"}}}},
		FunctionType: inference.FunctionTypeChat,
	}
}

func TestDispatch_UnknownFunctionIsDispatchError(t *testing.T) {
	d := &Dispatcher{Config: &config.Gateway{Functions: map[string]*config.Function{}}}
	_, err := d.Dispatch(context.Background(), Request{FunctionName: "missing", Input: basicInput()})
	require.Error(t, err)
	de, ok := inference.AsDispatchError(err)
	require.True(t, ok)
	require.Equal(t, inference.ErrorKindUnknownFunction, de.Kind())
}

func TestDispatch_ModelNameRoutesThroughSyntheticFunction(t *testing.T) {
	d := &Dispatcher{
		Config:   &config.Gateway{Functions: map[string]*config.Function{}},
		Resolver: &fakeResolver{router: newFakeRouter("gpt4o_mini")},
	}
	resp, err := d.Dispatch(context.Background(), Request{ModelName: "gpt4o_mini", Input: basicInput()})
	require.NoError(t, err)
	require.Equal(t, syntheticFunctionName, resp.FunctionName)
	require.Equal(t, "default", resp.VariantName)
}

func TestDispatch_PersistsOnSuccess(t *testing.T) {
	w := &spyWriter{}
	d := &Dispatcher{
		Config: &config.Gateway{Functions: map[string]*config.Function{
			"greet": {Name: "greet", Type: inference.FunctionTypeChat, Variants: map[string]*config.Variant{
				"v1": {Name: "v1", Kind: config.VariantChatCompletion, Model: "m1", Weight: 1},
			}},
		}},
		Resolver: &fakeResolver{router: newFakeRouter("m1")},
		Writer:   w,
	}
	_, err := d.Dispatch(context.Background(), Request{FunctionName: "greet", Input: basicInput()})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return w.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestDispatch_DryRunSuppressesPersistence(t *testing.T) {
	w := &spyWriter{}
	d := &Dispatcher{
		Config: &config.Gateway{Functions: map[string]*config.Function{
			"greet": {Name: "greet", Type: inference.FunctionTypeChat, Variants: map[string]*config.Variant{
				"v1": {Name: "v1", Kind: config.VariantChatCompletion, Model: "m1", Weight: 1},
			}},
		}},
		Resolver: &fakeResolver{router: newFakeRouter("m1")},
		Writer:   w,
	}
	_, err := d.Dispatch(context.Background(), Request{FunctionName: "greet", Input: basicInput(), DryRun: true})
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 0, w.count())
}

func TestDispatch_UnknownPinnedVariantErrors(t *testing.T) {
	d := &Dispatcher{
		Config: &config.Gateway{Functions: map[string]*config.Function{
			"greet": {Name: "greet", Type: inference.FunctionTypeChat, Variants: map[string]*config.Variant{
				"v1": {Name: "v1", Kind: config.VariantChatCompletion, Model: "m1", Weight: 1},
			}},
		}},
	}
	_, err := d.Dispatch(context.Background(), Request{FunctionName: "greet", VariantName: "nope", Input: basicInput()})
	require.Error(t, err)
	de, ok := inference.AsDispatchError(err)
	require.True(t, ok)
	require.Equal(t, inference.ErrorKindUnknownVariant, de.Kind())
}

func TestDispatch_PersistsOneModelInferenceRecordForSingleModelVariant(t *testing.T) {
	w := &spyWriter{}
	d := &Dispatcher{
		Config: &config.Gateway{Functions: map[string]*config.Function{
			"greet": {Name: "greet", Type: inference.FunctionTypeChat, Variants: map[string]*config.Variant{
				"v1": {Name: "v1", Kind: config.VariantChatCompletion, Model: "m1", Weight: 1},
			}},
		}},
		Resolver: &fakeResolver{router: newFakeRouter("m1")},
		Writer:   w,
	}
	_, err := d.Dispatch(context.Background(), Request{FunctionName: "greet", Input: basicInput()})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return w.modelInferenceCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestCandidateVariants_OrderIsSortedByNameRegardlessOfMapIteration(t *testing.T) {
	fn := &config.Function{Variants: map[string]*config.Variant{
		"zulu":    {Name: "zulu", Weight: 1},
		"alpha":   {Name: "alpha", Weight: 1},
		"mike":    {Name: "mike", Weight: 1},
	}}
	for i := 0; i < 20; i++ {
		out, err := candidateVariants(fn, "")
		require.NoError(t, err)
		require.Equal(t, []string{"alpha", "mike", "zulu"}, []string{out[0].Name, out[1].Name, out[2].Name})
	}
}

func TestDispatch_RejectsEmptyInput(t *testing.T) {
	d := &Dispatcher{
		Config: &config.Gateway{Functions: map[string]*config.Function{
			"greet": {Name: "greet", Type: inference.FunctionTypeChat, Variants: map[string]*config.Variant{
				"v1": {Name: "v1", Kind: config.VariantChatCompletion, Model: "m1", Weight: 1},
			}},
		}},
	}
	_, err := d.Dispatch(context.Background(), Request{FunctionName: "greet", Input: variant.Input{}})
	require.Error(t, err)
}
