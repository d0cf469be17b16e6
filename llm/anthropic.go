package llm

import (
	"context"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/parley-cli/parley/session"
	"github.com/parley-cli/parley/tools"
)

// anthropicProvider is the adapter for Anthropic-style Messages backends.
// The wire format pulls the system prompt into a dedicated top-level field,
// structures assistant turns as typed content blocks, and streams through
// block-lifecycle events instead of per-field deltas.
type anthropicProvider struct {
	client    *anthropic.Client
	model     string
	maxTokens int64
	logger    *slog.Logger
}

func newAnthropicProvider(cfg Config) *anthropicProvider {
	options := []option.RequestOption{
		option.WithMaxRetries(cfg.Retry.transportRetries()),
	}
	if cfg.APIKey != "" {
		options = append(options, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		// The SDK resolves endpoint paths against the base URL; the single
		// trailing slash keeps the configured path prefix intact.
		options = append(options, option.WithBaseURL(cfg.BaseURL+"/"))
	}

	client := anthropic.NewClient(options...)
	return &anthropicProvider{
		client:    &client,
		model:     cfg.Model,
		maxTokens: int64(cfg.MaxTokens),
		logger:    cfg.Logger,
	}
}

// GenerateStream opens a streaming message over the converted history.
func (p *anthropicProvider) GenerateStream(ctx context.Context, messages []session.Message, catalog []tools.Tool) Stream {
	raw := p.client.Messages.NewStreaming(ctx, p.buildParams(messages, catalog))
	return &anthropicStream{raw: raw, acc: newToolCallAccumulator(p.logger)}
}

// buildParams translates history and tool catalog into the request payload.
// Pure translation; the inputs are never mutated.
func (p *anthropicProvider) buildParams(messages []session.Message, catalog []tools.Tool) anthropic.MessageNewParams {
	anthropicMessages, systemPrompt := convertMessagesToAnthropic(messages)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: p.maxTokens,
		Messages:  anthropicMessages,
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}
	params.Tools = convertToolsToAnthropic(catalog)
	return params
}

// anthropicStream adapts the SDK's event stream to the Stream contract. One
// content block is open at a time; tool-use blocks accumulate raw JSON
// fragments that are parsed when the block stops.
type anthropicStream struct {
	raw        *ssestream.Stream[anthropic.MessageStreamEventUnion]
	acc        *toolCallAccumulator
	cur        StreamChunk
	signature  strings.Builder
	stopReason string
	finished   bool
	err        error
}

func (s *anthropicStream) Next() bool {
	if s.finished || s.err != nil {
		return false
	}
	for s.raw.Next() {
		if out, ok := s.apply(s.raw.Current()); ok {
			s.cur = out
			return true
		}
	}
	if err := s.raw.Err(); err != nil {
		s.err = err
		return false
	}
	if s.finished {
		return false
	}
	// The backend closed without a message_stop event; deliver whatever
	// completed so the caller still gets a terminal chunk.
	s.cur = s.finalChunk()
	return true
}

func (s *anthropicStream) Current() StreamChunk { return s.cur }
func (s *anthropicStream) Err() error           { return s.err }
func (s *anthropicStream) Close() error         { return s.raw.Close() }

// apply folds one lifecycle event into the stream state. Text and thinking
// deltas surface immediately; everything else mutates accumulator state and
// stays invisible until the final chunk.
func (s *anthropicStream) apply(event anthropic.MessageStreamEventUnion) (StreamChunk, bool) {
	switch ev := event.AsAny().(type) {
	case anthropic.ContentBlockStartEvent:
		if ev.ContentBlock.Type == "tool_use" {
			s.acc.add(int(ev.Index), ev.ContentBlock.ID, ev.ContentBlock.Name, "")
		}
	case anthropic.ContentBlockDeltaEvent:
		switch delta := ev.Delta.AsAny().(type) {
		case anthropic.TextDelta:
			if delta.Text != "" {
				return StreamChunk{Text: delta.Text}, true
			}
		case anthropic.ThinkingDelta:
			if delta.Thinking != "" {
				return StreamChunk{Thinking: delta.Thinking}, true
			}
		case anthropic.InputJSONDelta:
			s.acc.add(int(ev.Index), "", "", delta.PartialJSON)
		case anthropic.SignatureDelta:
			s.signature.WriteString(delta.Signature)
		}
	case anthropic.ContentBlockStopEvent:
		s.acc.closeEntry(int(ev.Index))
	case anthropic.MessageDeltaEvent:
		if ev.Delta.StopReason != "" {
			s.stopReason = string(ev.Delta.StopReason)
		}
	case anthropic.MessageStopEvent:
		return s.finalChunk(), true
	}
	return StreamChunk{}, false
}

func (s *anthropicStream) finalChunk() StreamChunk {
	s.finished = true
	return StreamChunk{
		ToolCalls:         s.acc.finalize(),
		ThinkingSignature: s.signature.String(),
		Done:              true,
		FinishReason:      s.stopReason,
	}
}

// convertMessagesToAnthropic converts our internal message format to the
// wire format. System messages are extracted and merged into the returned
// prompt instead of travelling as turns. All user-side content, plain text
// and tool results alike, is appended into the previous turn whenever that
// turn is already user-role: the protocol rejects adjacent same-role turns.
func convertMessagesToAnthropic(messages []session.Message) ([]anthropic.MessageParam, string) {
	var anthropicMessages []anthropic.MessageParam
	var systemParts []string

	appendUserBlocks := func(blocks ...anthropic.ContentBlockParamUnion) {
		if n := len(anthropicMessages); n > 0 && anthropicMessages[n-1].Role == anthropic.MessageParamRoleUser {
			anthropicMessages[n-1].Content = append(anthropicMessages[n-1].Content, blocks...)
			return
		}
		anthropicMessages = append(anthropicMessages, anthropic.MessageParam{
			Role:    anthropic.MessageParamRoleUser,
			Content: blocks,
		})
	}

	for _, msg := range messages {
		switch msg.Role {
		case session.RoleSystem:
			if msg.Content != "" {
				systemParts = append(systemParts, msg.Content)
			}
		case session.RoleUser:
			appendUserBlocks(convertUserBlocksToAnthropic(msg)...)
		case session.RoleAssistant:
			if blocks := convertAssistantBlocksToAnthropic(msg); len(blocks) > 0 {
				anthropicMessages = append(anthropicMessages, anthropic.MessageParam{
					Role:    anthropic.MessageParamRoleAssistant,
					Content: blocks,
				})
			}
		case session.RoleTool:
			appendUserBlocks(anthropic.ContentBlockParamUnion{
				OfToolResult: &anthropic.ToolResultBlockParam{
					ToolUseID: msg.ToolCallID,
					Content: []anthropic.ToolResultBlockParamContentUnion{{
						OfText: &anthropic.TextBlockParam{Text: msg.Content},
					}},
				},
			})
		}
	}

	return anthropicMessages, strings.Join(systemParts, "\n\n")
}

func convertUserBlocksToAnthropic(msg session.Message) []anthropic.ContentBlockParamUnion {
	if len(msg.Parts) == 0 {
		return []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(msg.Content)}
	}
	var blocks []anthropic.ContentBlockParamUnion
	for _, part := range msg.Parts {
		if part.Type == session.PartTypeText {
			blocks = append(blocks, anthropic.NewTextBlock(part.Text))
		}
	}
	return blocks
}

// convertAssistantBlocksToAnthropic renders an assistant turn as an ordered
// block list: thinking first, then text, then tool use. A thinking block is
// replayable only with the signature captured during streaming; without one
// it is omitted. An empty result means the turn must be skipped entirely.
func convertAssistantBlocksToAnthropic(msg session.Message) []anthropic.ContentBlockParamUnion {
	var blocks []anthropic.ContentBlockParamUnion
	if msg.Thinking != "" && msg.ThinkingSignature != "" {
		blocks = append(blocks, anthropic.ContentBlockParamUnion{
			OfThinking: &anthropic.ThinkingBlockParam{
				Thinking:  msg.Thinking,
				Signature: msg.ThinkingSignature,
			},
		})
	}
	if msg.Content != "" {
		blocks = append(blocks, anthropic.ContentBlockParamUnion{
			OfText: &anthropic.TextBlockParam{Text: msg.Content},
		})
	}
	for _, tc := range msg.ToolCalls {
		input := tc.Args
		if input == nil {
			input = map[string]any{}
		}
		blocks = append(blocks, anthropic.ContentBlockParamUnion{
			OfToolUse: &anthropic.ToolUseBlockParam{
				Type:  "tool_use",
				ID:    tc.ToolCallID,
				Name:  tc.Name,
				Input: input,
			},
		})
	}
	return blocks
}

// convertToolsToAnthropic converts the tool catalog to tool declarations,
// splitting each JSON schema into the properties/required shape the
// protocol expects.
func convertToolsToAnthropic(ts []tools.Tool) []anthropic.ToolUnionParam {
	if len(ts) == 0 {
		return nil
	}
	var anthropicTools []anthropic.ToolUnionParam
	for _, t := range ts {
		schema := t.Parameters()
		anthropicTools = append(anthropicTools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name(),
				Description: anthropic.String(t.Description()),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: schemaProperties(schema),
					Required:   schemaRequired(schema),
				},
			},
		})
	}
	return anthropicTools
}

func schemaProperties(schema map[string]any) map[string]any {
	if props, ok := schema["properties"].(map[string]any); ok {
		return props
	}
	return map[string]any{}
}

func schemaRequired(schema map[string]any) []string {
	switch req := schema["required"].(type) {
	case []string:
		return req
	case []any:
		out := make([]string, 0, len(req))
		for _, r := range req {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
