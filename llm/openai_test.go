package llm

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/packages/ssestream"
	"github.com/parley-cli/parley/session"
	"github.com/parley-cli/parley/tools"
)

// fakeTool is a minimal catalog entry for conversion tests.
type fakeTool struct {
	name        string
	description string
	parameters  map[string]any
}

func (t fakeTool) Name() string               { return t.name }
func (t fakeTool) Description() string        { return t.description }
func (t fakeTool) Parameters() map[string]any { return t.parameters }
func (t fakeTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	return "", nil
}

var readFileTool = fakeTool{
	name:        "read_file",
	description: "Reads a file from disk",
	parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string", "description": "File path"},
		},
		"required": []string{"path"},
	},
}

// fakeOpenAIDecoder replays canned SSE events through the SDK's stream type,
// so the adapter is tested against the SDK's real JSON decoding.
type fakeOpenAIDecoder struct {
	events []ssestream.Event
	pos    int
}

func (d *fakeOpenAIDecoder) Next() bool {
	if d.pos >= len(d.events) {
		return false
	}
	d.pos++
	return true
}

func (d *fakeOpenAIDecoder) Event() ssestream.Event { return d.events[d.pos-1] }
func (d *fakeOpenAIDecoder) Close() error           { return nil }
func (d *fakeOpenAIDecoder) Err() error             { return nil }

func newTestOpenAIStream(chunks ...string) *openaiStream {
	events := make([]ssestream.Event, 0, len(chunks))
	for _, c := range chunks {
		events = append(events, ssestream.Event{Data: []byte(c)})
	}
	raw := ssestream.NewStream[openai.ChatCompletionChunk](&fakeOpenAIDecoder{events: events}, nil)
	return &openaiStream{raw: raw, acc: newToolCallAccumulator(nil)}
}

func drainStream(s Stream) []StreamChunk {
	var chunks []StreamChunk
	for s.Next() {
		chunks = append(chunks, s.Current())
	}
	return chunks
}

func marshalToMap(t *testing.T, v any) map[string]any {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Failed to marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("Failed to unmarshal %s: %v", data, err)
	}
	return m
}

func TestOpenAIStreamTextDeltas(t *testing.T) {
	s := newTestOpenAIStream(
		`{"id":"chatcmpl-1","object":"chat.completion.chunk","created":1700000000,"model":"gpt-4o","choices":[{"index":0,"delta":{"role":"assistant","content":"Hello"},"finish_reason":null}]}`,
		`{"id":"chatcmpl-1","object":"chat.completion.chunk","created":1700000000,"model":"gpt-4o","choices":[{"index":0,"delta":{"content":", world"},"finish_reason":null}]}`,
		`{"id":"chatcmpl-1","object":"chat.completion.chunk","created":1700000000,"model":"gpt-4o","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
	)

	chunks := drainStream(s)
	if s.Err() != nil {
		t.Fatalf("Expected no stream error, got %v", s.Err())
	}
	if len(chunks) != 3 {
		t.Fatalf("Expected 2 text chunks plus a final chunk, got %d", len(chunks))
	}
	if chunks[0].Text != "Hello" || chunks[1].Text != ", world" {
		t.Errorf("Expected text deltas in order, got %q then %q", chunks[0].Text, chunks[1].Text)
	}
	if chunks[0].Done || chunks[1].Done {
		t.Error("Expected text chunks to not be marked done")
	}
	final := chunks[2]
	if !final.Done {
		t.Error("Expected the last chunk to be marked done")
	}
	if final.FinishReason != "stop" {
		t.Errorf("Expected finish reason 'stop', got %q", final.FinishReason)
	}
	if final.ToolCalls != nil {
		t.Errorf("Expected no tool calls, got %v", final.ToolCalls)
	}
	if s.Next() {
		t.Error("Expected Next to keep returning false after the final chunk")
	}
}

func TestOpenAIStreamToolCallAssembly(t *testing.T) {
	s := newTestOpenAIStream(
		`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"read_file","arguments":""}}]},"finish_reason":null}]}`,
		`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"pa"}}]},"finish_reason":null}]}`,
		`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":1,"id":"call_2","type":"function","function":{"name":"list_dir","arguments":"{}"}}]},"finish_reason":null}]}`,
		`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"th\":\"a.txt\"}"}}]},"finish_reason":null}]}`,
		`{"choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
	)

	chunks := drainStream(s)
	if s.Err() != nil {
		t.Fatalf("Expected no stream error, got %v", s.Err())
	}
	// Tool call fragments must never surface before the final chunk.
	if len(chunks) != 1 {
		t.Fatalf("Expected only the final chunk, got %d chunks", len(chunks))
	}
	final := chunks[0]
	if !final.Done {
		t.Fatal("Expected the final chunk to be marked done")
	}
	if final.FinishReason != "tool_calls" {
		t.Errorf("Expected finish reason 'tool_calls', got %q", final.FinishReason)
	}
	if len(final.ToolCalls) != 2 {
		t.Fatalf("Expected 2 assembled tool calls, got %d", len(final.ToolCalls))
	}
	first, second := final.ToolCalls[0], final.ToolCalls[1]
	if first.ToolCallID != "call_1" || second.ToolCallID != "call_2" {
		t.Errorf("Expected first-seen order [call_1, call_2], got [%s, %s]",
			first.ToolCallID, second.ToolCallID)
	}
	if first.Name != "read_file" {
		t.Errorf("Expected tool name 'read_file', got %q", first.Name)
	}
	if got := first.Args["path"]; got != "a.txt" {
		t.Errorf("Expected fragmented arguments to reassemble, got %v", first.Args)
	}
	if second.Args == nil || len(second.Args) != 0 {
		t.Errorf("Expected empty args for list_dir, got %v", second.Args)
	}
}

func TestOpenAIStreamTextBeforeToolCalls(t *testing.T) {
	s := newTestOpenAIStream(
		`{"choices":[{"index":0,"delta":{"content":"Let me check."},"finish_reason":null}]}`,
		`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"read_file","arguments":"{\"path\":\"x\"}"}}]},"finish_reason":null}]}`,
		`{"choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
	)

	chunks := drainStream(s)
	if len(chunks) != 2 {
		t.Fatalf("Expected a text chunk and a final chunk, got %d", len(chunks))
	}
	if chunks[0].Text != "Let me check." || chunks[0].ToolCalls != nil {
		t.Errorf("Expected plain text chunk first, got %+v", chunks[0])
	}
	if len(chunks[1].ToolCalls) != 1 {
		t.Errorf("Expected the tool call on the final chunk, got %+v", chunks[1])
	}
}

func TestOpenAIStreamReasoningDeltas(t *testing.T) {
	s := newTestOpenAIStream(
		`{"choices":[{"index":0,"delta":{"reasoning_content":"Considering the request."},"finish_reason":null}]}`,
		`{"choices":[{"index":0,"delta":{"reasoning":"Almost there."},"finish_reason":null}]}`,
		`{"choices":[{"index":0,"delta":{"content":"Done."},"finish_reason":null}]}`,
		`{"choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
	)

	chunks := drainStream(s)
	if s.Err() != nil {
		t.Fatalf("Expected no stream error, got %v", s.Err())
	}
	if len(chunks) != 4 {
		t.Fatalf("Expected 3 content chunks plus a final chunk, got %d", len(chunks))
	}
	if chunks[0].Thinking != "Considering the request." || chunks[0].Text != "" {
		t.Errorf("Expected reasoning_content to surface as thinking, got %+v", chunks[0])
	}
	if chunks[1].Thinking != "Almost there." {
		t.Errorf("Expected the reasoning field variant to surface as thinking, got %+v", chunks[1])
	}
	if chunks[2].Text != "Done." || chunks[2].Thinking != "" {
		t.Errorf("Expected a plain text chunk, got %+v", chunks[2])
	}
}

func TestOpenAIStreamMalformedToolArguments(t *testing.T) {
	s := newTestOpenAIStream(
		`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"read_file","arguments":"{\"path\": not json"}}]},"finish_reason":null}]}`,
		`{"choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
	)

	chunks := drainStream(s)
	if len(chunks) != 1 {
		t.Fatalf("Expected only the final chunk, got %d", len(chunks))
	}
	calls := chunks[0].ToolCalls
	if len(calls) != 1 {
		t.Fatalf("Expected the tool call to survive malformed arguments, got %d calls", len(calls))
	}
	if calls[0].Args == nil || len(calls[0].Args) != 0 {
		t.Errorf("Expected malformed arguments to degrade to an empty map, got %v", calls[0].Args)
	}
}

func TestOpenAIStreamSkipsChoicelessChunks(t *testing.T) {
	s := newTestOpenAIStream(
		`{"choices":[{"index":0,"delta":{"content":"Hi"},"finish_reason":null}]}`,
		`{"choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
		`{"id":"chatcmpl-1","object":"chat.completion.chunk","created":1700000000,"model":"gpt-4o","choices":[],"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}`,
	)

	chunks := drainStream(s)
	if s.Err() != nil {
		t.Fatalf("Expected no stream error, got %v", s.Err())
	}
	if len(chunks) != 2 {
		t.Fatalf("Expected the usage chunk to be skipped, got %d chunks", len(chunks))
	}
	if chunks[0].Text != "Hi" || !chunks[1].Done {
		t.Errorf("Expected text then final chunk, got %+v", chunks)
	}
}

func TestOpenAIStreamErrorSuppressesFinalChunk(t *testing.T) {
	s := newTestOpenAIStream(
		`{"choices":[{"index":0,"delta":{"content":"partial"},"finish_reason":null}]}`,
		`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"read_file","arguments":"{\"path\":\"x\"}"}}]},"finish_reason":null}]}`,
		`{not valid json`,
	)

	chunks := drainStream(s)
	if s.Err() == nil {
		t.Fatal("Expected a stream error, got nil")
	}
	if len(chunks) != 1 {
		t.Fatalf("Expected only the text chunk before the failure, got %d chunks", len(chunks))
	}
	for _, c := range chunks {
		if c.Done || c.ToolCalls != nil {
			t.Errorf("Expected no final chunk after a stream error, got %+v", c)
		}
	}
	if s.Next() {
		t.Error("Expected Next to keep returning false after an error")
	}
}

func TestConvertMessagesToOpenAIRoles(t *testing.T) {
	messages := []session.Message{
		{Role: session.RoleSystem, Content: "You are helpful."},
		{Role: session.RoleUser, Content: "Read a.txt"},
		{Role: session.RoleAssistant, Content: "", ToolCalls: []session.ToolCall{
			{ToolCallID: "call_1", Name: "read_file", Args: map[string]any{"path": "a.txt"}},
		}},
		{Role: session.RoleTool, Content: "file contents", ToolCallID: "call_1", ToolName: "read_file"},
		{Role: session.RoleAssistant, Content: "The file says hi."},
	}

	converted := convertMessagesToOpenAI(messages)
	if len(converted) != 5 {
		t.Fatalf("Expected 5 converted messages, got %d", len(converted))
	}

	data, err := json.Marshal(converted)
	if err != nil {
		t.Fatalf("Failed to marshal converted messages: %v", err)
	}
	wire := string(data)
	for _, want := range []string{
		`"role":"system"`,
		`"role":"user"`,
		`"role":"assistant"`,
		`"role":"tool"`,
		`"tool_call_id":"call_1"`,
		`"name":"read_file"`,
		`"arguments":"{\"path\":\"a.txt\"}"`,
	} {
		if !strings.Contains(wire, want) {
			t.Errorf("Expected wire payload to contain %s, got %s", want, wire)
		}
	}
}

func TestConvertMessagesToOpenAISkipsThinkingOnlyAssistant(t *testing.T) {
	messages := []session.Message{
		{Role: session.RoleUser, Content: "hi"},
		{Role: session.RoleAssistant, Thinking: "private reasoning", ThinkingSignature: "sig"},
		{Role: session.RoleAssistant, Content: "hello"},
	}

	converted := convertMessagesToOpenAI(messages)
	if len(converted) != 2 {
		t.Fatalf("Expected the thinking-only turn to be dropped, got %d messages", len(converted))
	}
}

func TestConvertMessagesToOpenAIRoundTripText(t *testing.T) {
	const text = "line one\nline \"two\" with ünïcode and \ttabs"
	converted := convertMessagesToOpenAI([]session.Message{
		{Role: session.RoleUser, Content: text},
	})
	if len(converted) != 1 {
		t.Fatalf("Expected 1 converted message, got %d", len(converted))
	}
	m := marshalToMap(t, converted[0])
	if got := m["content"]; got != text {
		t.Errorf("Expected content to round-trip exactly, got %q", got)
	}
}

func TestConvertUserMessagePartsToOpenAI(t *testing.T) {
	converted := convertUserMessageToOpenAI(session.Message{
		Role: session.RoleUser,
		Parts: []session.ContentPart{
			{Type: session.PartTypeText, Text: "first"},
			{Type: session.PartTypeText, Text: "second"},
		},
	})

	m := marshalToMap(t, converted)
	parts, ok := m["content"].([]any)
	if !ok {
		t.Fatalf("Expected content to be a part array, got %T", m["content"])
	}
	if len(parts) != 2 {
		t.Fatalf("Expected 2 content parts, got %d", len(parts))
	}
	first := parts[0].(map[string]any)
	if first["type"] != "text" || first["text"] != "first" {
		t.Errorf("Expected a text part, got %v", first)
	}
}

func TestConvertToolsToOpenAI(t *testing.T) {
	converted := convertToolsToOpenAI([]tools.Tool{readFileTool})
	if len(converted) != 1 {
		t.Fatalf("Expected 1 tool declaration, got %d", len(converted))
	}

	m := marshalToMap(t, converted[0])
	if m["type"] != "function" {
		t.Errorf("Expected type 'function', got %v", m["type"])
	}
	fn, ok := m["function"].(map[string]any)
	if !ok {
		t.Fatalf("Expected a function object, got %T", m["function"])
	}
	if fn["name"] != "read_file" {
		t.Errorf("Expected name 'read_file', got %v", fn["name"])
	}
	if fn["description"] != "Reads a file from disk" {
		t.Errorf("Expected the description to carry over, got %v", fn["description"])
	}
	params, ok := fn["parameters"].(map[string]any)
	if !ok {
		t.Fatalf("Expected a parameters object, got %T", fn["parameters"])
	}
	props := params["properties"].(map[string]any)
	if _, ok := props["path"]; !ok {
		t.Errorf("Expected the path property in the schema, got %v", props)
	}
}

func TestConvertToolsToOpenAIEmptyCatalog(t *testing.T) {
	if got := convertToolsToOpenAI(nil); got != nil {
		t.Errorf("Expected nil for an empty catalog, got %v", got)
	}
}

func TestOpenAIBuildParams(t *testing.T) {
	p := &openaiProvider{model: "gpt-4o"}
	params := p.buildParams([]session.Message{
		{Role: session.RoleSystem, Content: "sys"},
		{Role: session.RoleUser, Content: "hi"},
	}, []tools.Tool{readFileTool})

	if params.Model != "gpt-4o" {
		t.Errorf("Expected model 'gpt-4o', got %q", params.Model)
	}
	if len(params.Messages) != 2 {
		t.Errorf("Expected 2 messages, got %d", len(params.Messages))
	}
	if len(params.Tools) != 1 {
		t.Errorf("Expected 1 tool, got %d", len(params.Tools))
	}
}
