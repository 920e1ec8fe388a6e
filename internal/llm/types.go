package llm

import "context"

// Request describes a language model prompt.
type Request struct {
	SessionID   string
	TraceID     string
	Prompt      string
	System      string
	MaxTokens   int
	Temperature float64
}

// Chunk represents one unit of streamed model output. Done marks the last
// chunk; token counts arrive with it.
type Chunk struct {
	Content          string
	Done             bool
	PromptTokens     int
	CompletionTokens int
}

// Generator defines a pluggable LLM backend. Generate calls consumer for
// each output chunk in order and returns once the reply is complete.
type Generator interface {
	Generate(ctx context.Context, req Request, consumer func(Chunk) error) error
}
