// Package llm implements the oracle contract against OpenAI-compatible
// chat completion endpoints.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/danielpatrickdp/sheetwise/internal/errs"
	"github.com/danielpatrickdp/sheetwise/internal/oracle"
)

// Config configures an OpenAI-compatible provider.
type Config struct {
	APIURL        string
	APIKey        string
	ClassifyModel string
	AnswerModel   string
	Timeout       time.Duration
}

const (
	defaultAPIURL        = "https://api.openai.com/v1"
	defaultClassifyModel = "gpt-4o-mini"
	defaultAnswerModel   = "gpt-4o-mini"
)

// OpenAIProvider serves both oracle roles over /chat/completions.
type OpenAIProvider struct {
	client        *http.Client
	apiKey        string
	apiURL        string
	classifyModel string
	answerModel   string
}

var _ oracle.Oracle = (*OpenAIProvider)(nil)

// NewOpenAIProvider validates cfg and fills defaults.
func NewOpenAIProvider(cfg Config) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, &errs.ConfigError{Keys: []string{"OPENAI_API_KEY"}}
	}
	apiURL := strings.TrimRight(cfg.APIURL, "/")
	if apiURL == "" {
		apiURL = defaultAPIURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	p := &OpenAIProvider{
		client:        &http.Client{Timeout: timeout},
		apiKey:        cfg.APIKey,
		apiURL:        apiURL,
		classifyModel: cfg.ClassifyModel,
		answerModel:   cfg.AnswerModel,
	}
	if p.classifyModel == "" {
		p.classifyModel = defaultClassifyModel
	}
	if p.answerModel == "" {
		p.answerModel = defaultAnswerModel
	}
	return p, nil
}

// #region wire-types

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openAIRequest struct {
	Model          string          `json:"model"`
	Messages       []openAIMessage `json:"messages"`
	Stream         bool            `json:"stream,omitempty"`
	Tools          []openAITool    `json:"tools,omitempty"`
	ToolChoice     string          `json:"tool_choice,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type       string      `json:"type"` // "json_schema"
	JSONSchema *jsonSchema `json:"json_schema,omitempty"`
}

type jsonSchema struct {
	Name   string         `json:"name"`
	Schema map[string]any `json:"schema"`
	Strict bool           `json:"strict,omitempty"`
}

type openAITool struct {
	Type     string         `json:"type"`
	Function openAIFunction `json:"function"`
}

type openAIFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

type openAIToolCall struct {
	Index    *int               `json:"index,omitempty"`
	ID       string             `json:"id,omitempty"`
	Type     string             `json:"type,omitempty"`
	Function openAIFunctionCall `json:"function"`
}

type openAIFunctionCall struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type openAIStreamResponse struct {
	Choices []struct {
		Delta struct {
			Content   string           `json:"content"`
			ToolCalls []openAIToolCall `json:"tool_calls"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

// #endregion

// #region classify

// Classify requests a structured tab selection using a JSON-schema response format.
func (p *OpenAIProvider) Classify(ctx context.Context, system, question string) (oracle.Classification, error) {
	body := openAIRequest{
		Model: p.classifyModel,
		Messages: []openAIMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: question},
		},
		ResponseFormat: &responseFormat{
			Type: "json_schema",
			JSONSchema: &jsonSchema{
				Name:   "tab_selection",
				Schema: oracle.ClassificationSchema(),
			},
		},
	}
	resp, err := p.post(ctx, body)
	if err != nil {
		return oracle.Classification{}, err
	}
	defer resp.Body.Close()

	var out openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return oracle.Classification{}, fmt.Errorf("openai: decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return oracle.Classification{}, errors.New("openai: no choices in response")
	}
	var res oracle.Classification
	content := strings.TrimSpace(out.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), &res); err != nil {
		return oracle.Classification{}, fmt.Errorf("openai: decode classification: %w", err)
	}
	return res, nil
}

// #endregion

// #region generate

// Generate opens a streamed completion with the conversation and tools.
func (p *OpenAIProvider) Generate(ctx context.Context, req oracle.Request) (oracle.Stream, error) {
	body := openAIRequest{
		Model:    p.answerModel,
		Messages: toMessages(req.System, req.Conversation),
		Stream:   true,
	}
	for _, t := range req.Tools {
		body.Tools = append(body.Tools, openAITool{
			Type: "function",
			Function: openAIFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	if len(body.Tools) > 0 {
		body.ToolChoice = "auto"
		if req.RequireTool {
			body.ToolChoice = "required"
		}
	}
	resp, err := p.post(ctx, body)
	if err != nil {
		return nil, err
	}
	return &openAIStream{body: resp.Body, sse: newSSEReader(resp.Body), pending: map[int]*oracle.ToolCall{}}, nil
}

// toMessages flattens the conversation into chat messages. Each tool turn
// becomes one message per result.
func toMessages(system string, conv oracle.Conversation) []openAIMessage {
	msgs := make([]openAIMessage, 0, len(conv)+1)
	if system != "" {
		msgs = append(msgs, openAIMessage{Role: "system", Content: system})
	}
	for _, turn := range conv {
		switch turn.Role {
		case oracle.RoleUser:
			msgs = append(msgs, openAIMessage{Role: "user", Content: turn.Text()})
		case oracle.RoleAssistant:
			m := openAIMessage{Role: "assistant", Content: turn.Text()}
			for _, s := range turn.Segments {
				if s.Kind == oracle.SegmentToolCall && s.Call != nil {
					m.ToolCalls = append(m.ToolCalls, openAIToolCall{
						ID:       s.Call.ID,
						Type:     "function",
						Function: openAIFunctionCall{Name: s.Call.Name, Arguments: string(s.Call.Arguments)},
					})
				}
			}
			msgs = append(msgs, m)
		case oracle.RoleTool:
			for _, s := range turn.Segments {
				if s.Kind == oracle.SegmentToolResult && s.Result != nil {
					msgs = append(msgs, openAIMessage{
						Role:       "tool",
						Content:    s.Result.Content,
						ToolCallID: s.Result.CallID,
					})
				}
			}
		}
	}
	return msgs
}

// openAIStream emits text deltas as they arrive. Tool-call deltas are
// accumulated by index and emitted as complete calls when the stream ends.
type openAIStream struct {
	body    io.ReadCloser
	sse     *sseReader
	pending map[int]*oracle.ToolCall
	args    map[int]*strings.Builder
	done    bool
}

func (s *openAIStream) Recv() (oracle.Chunk, error) {
	for {
		if s.done {
			return oracle.Chunk{}, io.EOF
		}
		data, err := s.sse.next()
		if errors.Is(err, io.EOF) {
			return s.finish()
		}
		if err != nil {
			return oracle.Chunk{}, fmt.Errorf("openai: read stream: %w", err)
		}
		payload := strings.TrimSpace(string(data))
		if payload == "" {
			continue
		}
		if payload == "[DONE]" {
			return s.finish()
		}
		var ev openAIStreamResponse
		if err := json.Unmarshal(data, &ev); err != nil {
			return oracle.Chunk{}, fmt.Errorf("openai: decode chunk: %w", err)
		}
		if len(ev.Choices) == 0 {
			continue
		}
		delta := ev.Choices[0].Delta
		for i, tc := range delta.ToolCalls {
			s.accumulate(i, tc)
		}
		if delta.Content != "" {
			return oracle.Chunk{Text: delta.Content}, nil
		}
	}
}

func (s *openAIStream) accumulate(pos int, tc openAIToolCall) {
	idx := pos
	if tc.Index != nil {
		idx = *tc.Index
	}
	if s.args == nil {
		s.args = map[int]*strings.Builder{}
	}
	call, ok := s.pending[idx]
	if !ok {
		call = &oracle.ToolCall{}
		s.pending[idx] = call
		s.args[idx] = &strings.Builder{}
	}
	if tc.ID != "" {
		call.ID = tc.ID
	}
	if tc.Function.Name != "" {
		call.Name = tc.Function.Name
	}
	s.args[idx].WriteString(tc.Function.Arguments)
}

func (s *openAIStream) finish() (oracle.Chunk, error) {
	s.done = true
	if len(s.pending) == 0 {
		return oracle.Chunk{}, io.EOF
	}
	idxs := make([]int, 0, len(s.pending))
	for i := range s.pending {
		idxs = append(idxs, i)
	}
	sort.Ints(idxs)
	calls := make([]oracle.ToolCall, 0, len(idxs))
	for _, i := range idxs {
		c := *s.pending[i]
		c.Arguments = json.RawMessage(s.args[i].String())
		calls = append(calls, c)
	}
	s.pending = map[int]*oracle.ToolCall{}
	return oracle.Chunk{ToolCalls: calls}, nil
}

func (s *openAIStream) Close() error {
	return s.body.Close()
}

// #endregion

// #region transport

func (p *OpenAIProvider) post(ctx context.Context, body openAIRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("openai: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai: request failed: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		defer resp.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("openai: unexpected status %s: %s", resp.Status, strings.TrimSpace(string(b)))
	}
	return resp, nil
}

// #endregion
