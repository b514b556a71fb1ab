// Package vertex implements the provider Adapter contract on top of
// Google's google.golang.org/genai SDK against Vertex AI (Gemini models).
package vertex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"google.golang.org/genai"

	"github.com/modelmesh/gateway/inference"
	"github.com/modelmesh/gateway/inference/provider"
)

// Options configures the Vertex-backed client.
type Options struct {
	Project  string
	Location string
}

// Adapter implements provider.Adapter against Vertex AI's GenerateContent
// API.
type Adapter struct {
	opts Options
}

// New constructs an Adapter. Project/Location select the Vertex AI
// endpoint; credentials are resolved through Application Default
// Credentials by the genai client, not through provider.Credentials,
// matching how the examples configure GCP clients.
func New(opts Options) *Adapter {
	return &Adapter{opts: opts}
}

func (a *Adapter) Name() string { return "gcp-vertex" }

func (a *Adapter) client(ctx context.Context) (*genai.Client, error) {
	return genai.NewClient(ctx, &genai.ClientConfig{
		Project:  a.opts.Project,
		Location: a.opts.Location,
		Backend:  genai.BackendVertexAI,
	})
}

func (a *Adapter) Infer(ctx context.Context, req *inference.Request, _ provider.Credentials) (*inference.Response, error) {
	client, err := a.client(ctx)
	if err != nil {
		return nil, inference.NewProviderCallError("gcp-vertex", "generate_content", 0, inference.ErrorKindConfig, false, "", "", err)
	}
	contents, cfg, err := buildContents(req)
	if err != nil {
		return nil, inference.NewProviderCallError("gcp-vertex", "generate_content", 0, inference.ErrorKindInvalidRequest, false, "", "", err)
	}
	rawRequest := mustJSON(contents)
	start := time.Now()
	resp, err := client.Models.GenerateContent(ctx, req.ModelName, contents, cfg)
	if err != nil {
		return nil, translateCallError("generate_content", rawRequest, err)
	}
	out, err := translateResponse(resp, rawRequest, time.Since(start))
	if err != nil {
		return nil, provider.InferenceServer("gcp-vertex", "generate_content", rawRequest, mustJSON(resp), err)
	}
	return out, nil
}

func (a *Adapter) InferStream(ctx context.Context, req *inference.Request, _ provider.Credentials) (inference.ResponseChunk, inference.ChunkStream, string, error) {
	client, err := a.client(ctx)
	if err != nil {
		return inference.ResponseChunk{}, nil, "", inference.NewProviderCallError("gcp-vertex", "generate_content_stream", 0, inference.ErrorKindConfig, false, "", "", err)
	}
	contents, cfg, err := buildContents(req)
	if err != nil {
		return inference.ResponseChunk{}, nil, "", inference.NewProviderCallError("gcp-vertex", "generate_content_stream", 0, inference.ErrorKindInvalidRequest, false, "", "", err)
	}
	rawRequest := mustJSON(contents)
	seq := client.Models.GenerateContentStream(ctx, req.ModelName, contents, cfg)
	stream := &chunkStream{start: time.Now()}
	next, stop := iterAdapter(seq)
	stream.next = next
	stream.stop = stop
	first, more, err := stream.Next()
	if err != nil {
		stream.Close()
		return inference.ResponseChunk{}, nil, rawRequest, err
	}
	if !more {
		stream.Close()
		return inference.ResponseChunk{}, &doneStream{}, rawRequest, nil
	}
	return first, stream, rawRequest, nil
}

func buildContents(req *inference.Request) ([]*genai.Content, *genai.GenerateContentConfig, error) {
	if len(req.Messages) == 0 {
		return nil, nil, errors.New("vertex: messages are required")
	}
	var contents []*genai.Content
	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	for _, m := range req.Messages {
		if m.Role == inference.RoleSystem {
			continue
		}
		var parts []*genai.Part
		for _, part := range m.Content {
			switch v := part.(type) {
			case inference.TextBlock:
				if v.Text != "" {
					parts = append(parts, genai.NewPartFromText(v.Text))
				}
			case inference.ToolCallBlock:
				var args map[string]any
				if len(v.Arguments) > 0 {
					if err := json.Unmarshal(v.Arguments, &args); err != nil {
						return nil, nil, fmt.Errorf("vertex: decode tool call arguments: %w", err)
					}
				}
				parts = append(parts, genai.NewPartFromFunctionCall(v.Name, args))
			case inference.ToolResultBlock:
				parts = append(parts, genai.NewPartFromFunctionResponse(v.ToolCallID, map[string]any{"result": v.Result}))
			}
		}
		if len(parts) == 0 {
			continue
		}
		role := genai.RoleUser
		if m.Role == inference.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}
	if len(contents) == 0 {
		return nil, nil, errors.New("vertex: at least one user/model message is required")
	}
	if req.Params.Temperature != nil {
		v := *req.Params.Temperature
		cfg.Temperature = &v
	}
	if req.Params.MaxTokens != nil {
		v := int32(*req.Params.MaxTokens)
		cfg.MaxOutputTokens = v
	}
	if req.Params.TopP != nil {
		v := *req.Params.TopP
		cfg.TopP = &v
	}
	if len(req.Params.StopSequences) > 0 {
		cfg.StopSequences = req.Params.StopSequences
	}
	if req.Tools != nil && len(req.Tools.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools.Tools))
		for _, t := range req.Tools.Tools {
			var schema *genai.Schema
			if t.InputSchema != nil {
				raw, err := json.Marshal(t.InputSchema)
				if err == nil {
					_ = json.Unmarshal(raw, &schema)
				}
			}
			decls = append(decls, &genai.FunctionDeclaration{Name: t.Name, Description: t.Description, Parameters: schema})
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	return contents, cfg, nil
}

func translateResponse(resp *genai.GenerateContentResponse, rawRequest string, elapsed time.Duration) (*inference.Response, error) {
	if len(resp.Candidates) != 1 {
		return nil, fmt.Errorf("expected exactly 1 candidate, got %d", len(resp.Candidates))
	}
	cand := resp.Candidates[0]
	var content []inference.ContentBlock
	if cand.Content != nil {
		for _, p := range cand.Content.Parts {
			switch {
			case p.Text != "":
				content = append(content, inference.TextBlock{Text: p.Text})
			case p.FunctionCall != nil:
				raw, err := json.Marshal(p.FunctionCall.Args)
				if err != nil {
					return nil, fmt.Errorf("marshal function call args: %w", err)
				}
				content = append(content, inference.ToolCallBlock{ID: p.FunctionCall.Name, Name: p.FunctionCall.Name, Arguments: raw})
			}
		}
	}
	usage := inference.TokenUsage{}
	if resp.UsageMetadata != nil {
		usage.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		usage.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return &inference.Response{
		Content:      content,
		Usage:        usage,
		FinishReason: string(cand.FinishReason),
		Latency:      inference.Latency{TotalMs: elapsed.Milliseconds()},
		RawRequest:   rawRequest,
		RawResponse:  mustJSON(resp),
	}, nil
}

func translateCallError(op, rawRequest string, err error) error {
	if provider.IsContextDeadline(err) {
		return provider.ClassifyTimeout("gcp-vertex", op, false, 0)
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return provider.ClassifyHTTPStatus("gcp-vertex", op, apiErr.Code, rawRequest, apiErr.Message, err)
	}
	return inference.NewProviderCallError("gcp-vertex", op, 0, inference.ErrorKindInferenceServer, true, rawRequest, "", err)
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// chunkStream adapts genai's streaming iterator (iter.Seq2) to
// inference.ChunkStream, which is pull-based rather than range-based.
type chunkStream struct {
	next func() (*genai.GenerateContentResponse, error, bool)
	stop func()
	start time.Time
}

func (s *chunkStream) Next() (inference.ResponseChunk, bool, error) {
	resp, err, ok := s.next()
	if !ok {
		return inference.ResponseChunk{}, false, nil
	}
	if err != nil {
		return inference.ResponseChunk{}, false, translateCallError("generate_content_stream", "", err)
	}
	if len(resp.Candidates) == 0 {
		return s.Next()
	}
	cand := resp.Candidates[0]
	out := inference.ResponseChunk{ElapsedSinceStart: time.Since(s.start)}
	if cand.Content != nil {
		for _, p := range cand.Content.Parts {
			if p.Text != "" {
				out.Delta.TextDelta += p.Text
			}
			if p.FunctionCall != nil {
				raw, _ := json.Marshal(p.FunctionCall.Args)
				out.Delta.ToolCallName = p.FunctionCall.Name
				out.Delta.ToolArgumentsDelta = string(raw)
			}
		}
	}
	if cand.FinishReason != "" {
		out.FinishReason = string(cand.FinishReason)
	}
	if resp.UsageMetadata != nil {
		out.Usage = &inference.TokenUsage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return out, true, nil
}

func (s *chunkStream) Close() error {
	if s.stop != nil {
		s.stop()
	}
	return nil
}

// iterAdapter converts genai's iter.Seq2[*GenerateContentResponse, error]
// into a pull-based (next, stop) pair by running the range loop on a
// goroutine and synchronizing through a pair of channels, since
// inference.ChunkStream is pull-based but genai's SDK exposes only a
// push-style range-over-func iterator.
func iterAdapter(seq func(yield func(*genai.GenerateContentResponse, error) bool)) (func() (*genai.GenerateContentResponse, error, bool), func()) {
	type item struct {
		resp *genai.GenerateContentResponse
		err  error
	}
	items := make(chan item)
	done := make(chan struct{})
	go func() {
		defer close(items)
		seq(func(resp *genai.GenerateContentResponse, err error) bool {
			select {
			case items <- item{resp, err}:
				return err == nil
			case <-done:
				return false
			}
		})
	}()
	var closeOnce bool
	stop := func() {
		if !closeOnce {
			closeOnce = true
			close(done)
		}
	}
	next := func() (*genai.GenerateContentResponse, error, bool) {
		it, ok := <-items
		if !ok {
			return nil, nil, false
		}
		return it.resp, it.err, true
	}
	return next, stop
}

type doneStream struct{}

func (doneStream) Next() (inference.ResponseChunk, bool, error) {
	return inference.ResponseChunk{}, false, nil
}
func (doneStream) Close() error { return nil }
