// Package oracle defines the two language-model contracts the pipeline
// depends on: structured classification and streamed, tool-calling generation.
// Concrete providers live in llm, gemini, and codec.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// #region conversation

// Role is the speaker of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// SegmentKind tags the content of a segment.
type SegmentKind string

const (
	SegmentText       SegmentKind = "text"
	SegmentToolCall   SegmentKind = "tool_call"
	SegmentToolResult SegmentKind = "tool_result"
)

// Segment is one piece of a turn.
type Segment struct {
	Kind   SegmentKind `json:"kind"`
	Text   string      `json:"text,omitempty"`
	Call   *ToolCall   `json:"call,omitempty"`
	Result *ToolResult `json:"result,omitempty"`
}

// Turn is an ordered list of segments from one speaker.
type Turn struct {
	Role     Role      `json:"role"`
	Segments []Segment `json:"segments"`
}

// Text concatenates the text segments of the turn.
func (t Turn) Text() string {
	var b strings.Builder
	for _, s := range t.Segments {
		if s.Kind == SegmentText {
			b.WriteString(s.Text)
		}
	}
	return b.String()
}

// Conversation is the full ordered history sent to the generator.
type Conversation []Turn

// Clone returns a copy safe to append to without aliasing the original.
func (c Conversation) Clone() Conversation {
	out := make(Conversation, len(c))
	copy(out, c)
	return out
}

// UserText builds a single-segment user turn.
func UserText(text string) Turn {
	return Turn{Role: RoleUser, Segments: []Segment{{Kind: SegmentText, Text: text}}}
}

// AssistantTurn builds an assistant turn from streamed text and tool calls.
func AssistantTurn(text string, calls []ToolCall) Turn {
	t := Turn{Role: RoleAssistant}
	if text != "" {
		t.Segments = append(t.Segments, Segment{Kind: SegmentText, Text: text})
	}
	for i := range calls {
		c := calls[i]
		t.Segments = append(t.Segments, Segment{Kind: SegmentToolCall, Call: &c})
	}
	return t
}

// ToolTurn builds a tool turn carrying one result per executed call.
func ToolTurn(results []ToolResult) Turn {
	t := Turn{Role: RoleTool}
	for i := range results {
		r := results[i]
		t.Segments = append(t.Segments, Segment{Kind: SegmentToolResult, Result: &r})
	}
	return t
}

// #endregion conversation

// #region tools

// ToolCall is a generator's request to invoke a tool.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResult is the tool's answer fed back to the generator.
type ToolResult struct {
	CallID  string `json:"callId"`
	Name    string `json:"name"`
	Content string `json:"content"`
	IsError bool   `json:"isError,omitempty"`
}

// ToolDefinition describes a tool with a JSON-schema parameter object.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// #endregion tools

// #region classification

// MaxCandidates caps the classification output.
const MaxCandidates = 8

// Candidate is one source proposed by classification.
type Candidate struct {
	Name   string `json:"name"`
	Reason string `json:"reason,omitempty"`
}

// Classification is the structured output of the classification oracle.
type Classification struct {
	Tabs      []Candidate `json:"tabs"`
	Reasoning string      `json:"reasoning,omitempty"`
}

// Validate enforces the structural limits of a classification result.
// Blank names are not an error here; the selector drops them.
func (c Classification) Validate() error {
	if len(c.Tabs) > MaxCandidates {
		return fmt.Errorf("classification returned %d tabs, max %d", len(c.Tabs), MaxCandidates)
	}
	return nil
}

// ClassificationSchema is the JSON schema handed to providers that support
// structured output. Slices are []any so the schema converts to protobuf
// Struct values unchanged.
func ClassificationSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"tabs": map[string]any{
				"type":     "array",
				"maxItems": MaxCandidates,
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"name":   map[string]any{"type": "string", "description": "Exact tab name from the catalog"},
						"reason": map[string]any{"type": "string", "description": "Why this tab is relevant"},
					},
					"required": []any{"name"},
				},
			},
			"reasoning": map[string]any{"type": "string"},
		},
		"required": []any{"tabs"},
	}
}

// #endregion classification

// #region generation

// Chunk is one streamed piece of generator output. Text is emitted as it
// arrives; ToolCalls are complete calls.
type Chunk struct {
	Text      string     `json:"text,omitempty"`
	ToolCalls []ToolCall `json:"toolCalls,omitempty"`
}

// Stream yields chunks until Recv returns io.EOF.
type Stream interface {
	Recv() (Chunk, error)
	Close() error
}

// Request is one generation round.
type Request struct {
	System       string
	Conversation Conversation
	Tools        []ToolDefinition
	// RequireTool asks the provider to force a tool call this round.
	RequireTool bool
}

// #endregion generation

// #region interfaces

// Classifier produces a structured source selection for a question.
type Classifier interface {
	Classify(ctx context.Context, system, question string) (Classification, error)
}

// Generator streams one round of answer generation.
type Generator interface {
	Generate(ctx context.Context, req Request) (Stream, error)
}

// Oracle is a provider that serves both roles.
type Oracle interface {
	Classifier
	Generator
}

// #endregion interfaces

// #region slice-stream

// SliceStream replays a fixed list of chunks, optionally ending in an error.
type SliceStream struct {
	chunks []Chunk
	err    error
	pos    int
	closed bool
}

// NewSliceStream returns a stream over chunks. A non-nil err is returned
// after the last chunk instead of io.EOF.
func NewSliceStream(chunks []Chunk, err error) *SliceStream {
	return &SliceStream{chunks: chunks, err: err}
}

func (s *SliceStream) Recv() (Chunk, error) {
	if s.closed {
		return Chunk{}, io.EOF
	}
	if s.pos < len(s.chunks) {
		c := s.chunks[s.pos]
		s.pos++
		return c, nil
	}
	if s.err != nil {
		return Chunk{}, s.err
	}
	return Chunk{}, io.EOF
}

func (s *SliceStream) Close() error {
	s.closed = true
	return nil
}

// Collect drains a stream into its concatenated text and tool calls.
func Collect(s Stream) (string, []ToolCall, error) {
	defer s.Close()
	var b strings.Builder
	var calls []ToolCall
	for {
		c, err := s.Recv()
		if err == io.EOF {
			return b.String(), calls, nil
		}
		if err != nil {
			return b.String(), calls, err
		}
		b.WriteString(c.Text)
		calls = append(calls, c.ToolCalls...)
	}
}

// #endregion slice-stream
