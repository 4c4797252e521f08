// Package scripted provides deterministic oracles that replay canned output.
// Tests and fixture replay use them in place of a live model.
package scripted

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/danielpatrickdp/sheetwise/internal/oracle"
)

// ErrExhausted is returned when a generator runs past its script.
var ErrExhausted = errors.New("scripted generator: no rounds left")

// #region classifier

// Classifier returns a fixed classification or error.
type Classifier struct {
	Result oracle.Classification
	Err    error

	mu        sync.Mutex
	calls     int
	questions []string
	systems   []string
}

func (c *Classifier) Classify(ctx context.Context, system, question string) (oracle.Classification, error) {
	c.mu.Lock()
	c.calls++
	c.questions = append(c.questions, question)
	c.systems = append(c.systems, system)
	c.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return oracle.Classification{}, err
	}
	if c.Err != nil {
		return oracle.Classification{}, c.Err
	}
	return c.Result, nil
}

// Calls returns how many times Classify ran.
func (c *Classifier) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// Questions returns every question Classify received, in order.
func (c *Classifier) Questions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.questions...)
}

// Systems returns every system prompt Classify received, in order.
func (c *Classifier) Systems() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.systems...)
}

// #endregion classifier

// #region generator

// Round is the scripted output of one Generate call.
type Round struct {
	Chunks []oracle.Chunk `json:"chunks"`
	// Err, when set, is returned from Generate itself.
	Err error `json:"-"`
	// StreamErr, when set, is returned by Recv after the chunks.
	StreamErr error `json:"-"`
}

// Generator replays rounds in order. With Repeat set, the last round is
// replayed forever instead of failing with ErrExhausted.
type Generator struct {
	Rounds []Round
	Repeat bool

	mu       sync.Mutex
	requests []oracle.Request
}

func (g *Generator) Generate(ctx context.Context, req oracle.Request) (oracle.Stream, error) {
	g.mu.Lock()
	n := len(g.requests)
	req.Conversation = req.Conversation.Clone()
	g.requests = append(g.requests, req)
	g.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var r Round
	switch {
	case n < len(g.Rounds):
		r = g.Rounds[n]
	case g.Repeat && len(g.Rounds) > 0:
		r = g.Rounds[len(g.Rounds)-1]
	default:
		return nil, ErrExhausted
	}
	if r.Err != nil {
		return nil, r.Err
	}
	return oracle.NewSliceStream(r.Chunks, r.StreamErr), nil
}

// Calls returns how many rounds were requested.
func (g *Generator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

// Requests returns every request received, in order.
func (g *Generator) Requests() []oracle.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]oracle.Request(nil), g.requests...)
}

// #endregion generator

// #region oracle

// Oracle pairs a scripted classifier with a scripted generator.
type Oracle struct {
	*Classifier
	*Generator
}

// #endregion oracle

// #region helpers

// Text is a round that streams text and makes no tool calls.
func Text(parts ...string) Round {
	r := Round{}
	for _, p := range parts {
		r.Chunks = append(r.Chunks, oracle.Chunk{Text: p})
	}
	return r
}

// Calls is a round that requests the given tool calls.
func Calls(calls ...oracle.ToolCall) Round {
	return Round{Chunks: []oracle.Chunk{{ToolCalls: calls}}}
}

// ReadCall builds a read call with {"name", "purpose"} arguments.
func ReadCall(id, tool, name, purpose string) oracle.ToolCall {
	args, _ := json.Marshal(map[string]string{"name": name, "purpose": purpose})
	return oracle.ToolCall{ID: id, Name: tool, Arguments: args}
}

// #endregion helpers
