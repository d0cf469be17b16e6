package llm

import (
	"github.com/parley-cli/parley/session"
)

// StreamChunk is one increment of a streaming model turn. Text and Thinking
// carry deltas as they arrive. ToolCalls is populated only on the final
// chunk (Done=true), fully assembled and parsed; no earlier chunk carries
// partial tool-call data. FinishReason is the backend's terminal reason
// string when it reported one.
type StreamChunk struct {
	Text              string
	Thinking          string
	ThinkingSignature string
	ToolCalls         []session.ToolCall
	Done              bool
	FinishReason      string
}

// Stream is a single-consumer, pull-based sequence of chunks for one model
// turn. Next advances to the next chunk and reports whether one is
// available; after it returns false, Err distinguishes a transport failure
// from normal completion. Once a Done chunk has been delivered no further
// chunks follow. Close releases the underlying connection and must be safe
// to call at any point, including mid-stream abandonment.
type Stream interface {
	Next() bool
	Current() StreamChunk
	Err() error
	Close() error
}

// RetryConfig controls transport-level retries. It is copied into each
// adapter at construction and handed to the SDK transport; the agent loop
// itself never retries a model call.
type RetryConfig struct {
	Enabled    bool
	MaxRetries int
}

// transportRetries maps the config onto the SDK retry option: disabled
// means zero attempts beyond the first request.
func (r RetryConfig) transportRetries() int {
	if !r.Enabled || r.MaxRetries < 0 {
		return 0
	}
	return r.MaxRetries
}
