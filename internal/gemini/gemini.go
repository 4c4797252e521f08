// Package gemini implements the oracle contract on the Gemini API.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/danielpatrickdp/sheetwise/internal/errs"
	"github.com/danielpatrickdp/sheetwise/internal/oracle"
)

const (
	defaultClassifyModel = "gemini-2.5-flash"
	defaultAnswerModel   = "gemini-2.5-flash"
)

// Config configures the Gemini provider.
type Config struct {
	APIKey        string
	ClassifyModel string
	AnswerModel   string
}

// Provider serves both oracle roles through a genai client.
type Provider struct {
	client        *genai.Client
	classifyModel string
	answerModel   string
}

var _ oracle.Oracle = (*Provider)(nil)

// New creates a Gemini-backed oracle.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, &errs.ConfigError{Keys: []string{"GEMINI_API_KEY"}}
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	p := &Provider{client: client, classifyModel: cfg.ClassifyModel, answerModel: cfg.AnswerModel}
	if p.classifyModel == "" {
		p.classifyModel = defaultClassifyModel
	}
	if p.answerModel == "" {
		p.answerModel = defaultAnswerModel
	}
	return p, nil
}

// Classify asks for JSON matching the classification schema.
func (p *Provider) Classify(ctx context.Context, system, question string) (oracle.Classification, error) {
	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType:   "application/json",
		ResponseJsonSchema: oracle.ClassificationSchema(),
	}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	resp, err := p.client.Models.GenerateContent(ctx, p.classifyModel,
		[]*genai.Content{genai.NewContentFromText(question, genai.RoleUser)}, cfg)
	if err != nil {
		return oracle.Classification{}, fmt.Errorf("gemini: classify: %w", err)
	}
	return parseClassification(resp.Text())
}

func parseClassification(text string) (oracle.Classification, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	var res oracle.Classification
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &res); err != nil {
		return oracle.Classification{}, fmt.Errorf("gemini: decode classification: %w", err)
	}
	return res, nil
}

// Generate opens a content stream. RequireTool maps to function-calling mode ANY.
func (p *Provider) Generate(ctx context.Context, req oracle.Request) (oracle.Stream, error) {
	contents, err := toContents(req.Conversation)
	if err != nil {
		return nil, err
	}
	cfg := generateConfig(req)
	ctx, cancel := context.WithCancel(ctx)
	next, stop := iter.Pull2(p.client.Models.GenerateContentStream(ctx, p.answerModel, contents, cfg))
	return &stream{next: next, stop: stop, cancel: cancel}, nil
}

func generateConfig(req oracle.Request) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if len(req.Tools) == 0 {
		return cfg
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
	for _, t := range req.Tools {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:                 t.Name,
			Description:          t.Description,
			ParametersJsonSchema: t.Parameters,
		})
	}
	cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	mode := genai.FunctionCallingConfigModeAuto
	if req.RequireTool {
		mode = genai.FunctionCallingConfigModeAny
	}
	cfg.ToolConfig = &genai.ToolConfig{FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: mode}}
	return cfg
}

// toContents maps turns onto genai contents. Assistant turns become model
// turns and tool turns become user turns of function responses.
func toContents(conv oracle.Conversation) ([]*genai.Content, error) {
	out := make([]*genai.Content, 0, len(conv))
	for _, turn := range conv {
		c := &genai.Content{Role: genai.RoleUser}
		if turn.Role == oracle.RoleAssistant {
			c.Role = genai.RoleModel
		}
		for _, s := range turn.Segments {
			switch s.Kind {
			case oracle.SegmentText:
				if s.Text != "" {
					c.Parts = append(c.Parts, &genai.Part{Text: s.Text})
				}
			case oracle.SegmentToolCall:
				if s.Call == nil {
					continue
				}
				args := map[string]any{}
				if len(s.Call.Arguments) > 0 {
					// Malformed arguments are forwarded as a raw string.
					if err := json.Unmarshal(s.Call.Arguments, &args); err != nil {
						args = map[string]any{"raw": string(s.Call.Arguments)}
					}
				}
				c.Parts = append(c.Parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					ID: s.Call.ID, Name: s.Call.Name, Args: args,
				}})
			case oracle.SegmentToolResult:
				if s.Result == nil {
					continue
				}
				var body map[string]any
				if err := json.Unmarshal([]byte(s.Result.Content), &body); err != nil {
					body = map[string]any{"output": s.Result.Content}
				}
				c.Parts = append(c.Parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
					ID: s.Result.CallID, Name: s.Result.Name, Response: body,
				}})
			}
		}
		if len(c.Parts) == 0 {
			continue
		}
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("gemini: conversation has no content")
	}
	return out, nil
}

// fromResponse extracts streamed text and function calls.
func fromResponse(resp *genai.GenerateContentResponse) (oracle.Chunk, error) {
	var chunk oracle.Chunk
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return chunk, nil
	}
	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil {
			continue
		}
		if part.Text != "" && !part.Thought {
			text.WriteString(part.Text)
		}
		if fc := part.FunctionCall; fc != nil {
			args, err := json.Marshal(fc.Args)
			if err != nil {
				return oracle.Chunk{}, fmt.Errorf("gemini: encode call args: %w", err)
			}
			id := fc.ID
			if id == "" {
				id = "call_" + uuid.NewString()
			}
			chunk.ToolCalls = append(chunk.ToolCalls, oracle.ToolCall{ID: id, Name: fc.Name, Arguments: args})
		}
	}
	chunk.Text = text.String()
	return chunk, nil
}

type stream struct {
	next   func() (*genai.GenerateContentResponse, error, bool)
	stop   func()
	cancel context.CancelFunc
}

func (s *stream) Recv() (oracle.Chunk, error) {
	for {
		resp, err, ok := s.next()
		if !ok {
			return oracle.Chunk{}, io.EOF
		}
		if err != nil {
			return oracle.Chunk{}, fmt.Errorf("gemini: generate: %w", err)
		}
		chunk, err := fromResponse(resp)
		if err != nil {
			return oracle.Chunk{}, err
		}
		if chunk.Text == "" && len(chunk.ToolCalls) == 0 {
			continue
		}
		return chunk, nil
	}
}

func (s *stream) Close() error {
	s.stop()
	s.cancel()
	return nil
}
