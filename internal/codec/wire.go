package codec

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/sheetwise/internal/oracle"
)

// #region service-names

const (
	serviceName    = "sheetwise.v1.OracleService"
	classifyMethod = "/" + serviceName + "/Classify"
	generateMethod = "/" + serviceName + "/Generate"
)

// #endregion service-names

// #region wire-types

// Messages travel as google.protobuf.Struct. Tool-call arguments are carried
// as strings so that malformed model output survives the trip unchanged.

type classifyRequest struct {
	System   string `json:"system"`
	Question string `json:"question"`
}

type wireCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireSegment struct {
	Kind   oracle.SegmentKind `json:"kind"`
	Text   string             `json:"text,omitempty"`
	Call   *wireCall          `json:"call,omitempty"`
	Result *oracle.ToolResult `json:"result,omitempty"`
}

type wireTurn struct {
	Role     oracle.Role   `json:"role"`
	Segments []wireSegment `json:"segments"`
}

type generateRequest struct {
	System       string                  `json:"system"`
	Conversation []wireTurn              `json:"conversation"`
	Tools        []oracle.ToolDefinition `json:"tools,omitempty"`
	RequireTool  bool                    `json:"requireTool,omitempty"`
}

type wireChunk struct {
	Text      string     `json:"text,omitempty"`
	ToolCalls []wireCall `json:"toolCalls,omitempty"`
}

// #endregion wire-types

// #region conversions

func toWireCall(c oracle.ToolCall) wireCall {
	return wireCall{ID: c.ID, Name: c.Name, Arguments: string(c.Arguments)}
}

func fromWireCall(c wireCall) oracle.ToolCall {
	return oracle.ToolCall{ID: c.ID, Name: c.Name, Arguments: json.RawMessage(c.Arguments)}
}

func toWireRequest(req oracle.Request) generateRequest {
	out := generateRequest{
		System:       req.System,
		Tools:        req.Tools,
		RequireTool:  req.RequireTool,
		Conversation: make([]wireTurn, len(req.Conversation)),
	}
	for i, t := range req.Conversation {
		wt := wireTurn{Role: t.Role, Segments: make([]wireSegment, len(t.Segments))}
		for j, s := range t.Segments {
			ws := wireSegment{Kind: s.Kind, Text: s.Text, Result: s.Result}
			if s.Call != nil {
				wc := toWireCall(*s.Call)
				ws.Call = &wc
			}
			wt.Segments[j] = ws
		}
		out.Conversation[i] = wt
	}
	return out
}

func fromWireRequest(in generateRequest) oracle.Request {
	req := oracle.Request{
		System:       in.System,
		Tools:        in.Tools,
		RequireTool:  in.RequireTool,
		Conversation: make(oracle.Conversation, len(in.Conversation)),
	}
	for i, wt := range in.Conversation {
		t := oracle.Turn{Role: wt.Role, Segments: make([]oracle.Segment, len(wt.Segments))}
		for j, ws := range wt.Segments {
			s := oracle.Segment{Kind: ws.Kind, Text: ws.Text, Result: ws.Result}
			if ws.Call != nil {
				c := fromWireCall(*ws.Call)
				s.Call = &c
			}
			t.Segments[j] = s
		}
		req.Conversation[i] = t
	}
	return req
}

func toWireChunk(c oracle.Chunk) wireChunk {
	out := wireChunk{Text: c.Text}
	for _, call := range c.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, toWireCall(call))
	}
	return out
}

func fromWireChunk(w wireChunk) oracle.Chunk {
	out := oracle.Chunk{Text: w.Text}
	for _, call := range w.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, fromWireCall(call))
	}
	return out
}

// #endregion conversions

// #region struct-codec

// toStruct converts v to a Struct through its JSON form.
func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return s, nil
}

// fromStruct decodes a Struct into v through its JSON form.
func fromStruct(s *structpb.Struct, v any) error {
	b, err := json.Marshal(s.AsMap())
	if err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	return nil
}

// #endregion struct-codec
