package llm

import (
	"context"

	"intake-chatbot/pkg"
)

// ResponseKind discriminates the two shapes a generator turn can take.
type ResponseKind string

const (
	KindText    ResponseKind = "text"
	KindToolUse ResponseKind = "tool_use"
)

// ToolDef describes one side-operation the generator may request. Parameters
// is a JSON Schema object in the shape the chat-completion API expects.
type ToolDef struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// ToolCall is a single generator-requested tool invocation. Args is the raw
// JSON argument object as returned by the generator.
type ToolCall struct {
	ID   string
	Name string
	Args string
}

// Request is one fully assembled generator invocation: the output contract,
// the serialized issue/record context, and the bounded message history
// ending with the newest user utterance.
type Request struct {
	SystemContract string
	ContextSummary string
	History        []pkg.Utterance
	Tools          []ToolDef
}

// Response is the generator's answer: either a text body that must satisfy
// the output contract, or one or more tool calls to execute before the next
// invocation.
type Response struct {
	Kind  ResponseKind
	Body  string
	Calls []ToolCall
}

// Generator is the external text-generation service. Implementations must
// honor ctx cancellation and deadlines; a deadline hit is returned as a
// context error so callers can classify it as a timeout.
type Generator interface {
	Generate(ctx context.Context, req Request) (Response, error)
}
