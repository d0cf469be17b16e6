package llm

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/packages/ssestream"
	"github.com/parley-cli/parley/session"
	"github.com/parley-cli/parley/tools"
)

// openaiProvider is the adapter for OpenAI-style Chat Completions
// backends. The wire format keeps the system prompt inline as a normal
// message, attaches tool calls to the assistant turn, and streams them as
// per-index deltas.
type openaiProvider struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

func newOpenAIProvider(cfg Config) *openaiProvider {
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

	c := openai.NewClient(options...)
	return &openaiProvider{client: &c, model: cfg.Model, logger: cfg.Logger}
}

// GenerateStream opens a streaming completion over the converted history.
func (p *openaiProvider) GenerateStream(ctx context.Context, messages []session.Message, catalog []tools.Tool) Stream {
	raw := p.client.Chat.Completions.NewStreaming(ctx, p.buildParams(messages, catalog))
	return &openaiStream{raw: raw, acc: newToolCallAccumulator(p.logger)}
}

// buildParams translates history and tool catalog into the request payload.
// Pure translation; the inputs are never mutated.
func (p *openaiProvider) buildParams(messages []session.Message, catalog []tools.Tool) openai.ChatCompletionNewParams {
	return openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(p.model),
		Messages: convertMessagesToOpenAI(messages),
		Tools:    convertToolsToOpenAI(catalog),
	}
}

// openaiStream adapts the SDK's SSE stream to the Stream contract,
// accumulating tool-call fragments until the backend reports completion.
type openaiStream struct {
	raw          *ssestream.Stream[openai.ChatCompletionChunk]
	acc          *toolCallAccumulator
	cur          StreamChunk
	finishReason string
	finished     bool
	err          error
}

func (s *openaiStream) Next() bool {
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
	// Backend closed the stream; everything accumulated is complete now.
	s.finished = true
	s.cur = StreamChunk{
		ToolCalls:    s.acc.finalize(),
		Done:         true,
		FinishReason: s.finishReason,
	}
	return true
}

func (s *openaiStream) Current() StreamChunk { return s.cur }
func (s *openaiStream) Err() error           { return s.err }
func (s *openaiStream) Close() error         { return s.raw.Close() }

// apply folds one backend chunk into the stream state. It reports a chunk
// to the caller only when there is visible text or thinking; tool-call
// fragments and finish reasons are recorded silently until finalization.
func (s *openaiStream) apply(chunk openai.ChatCompletionChunk) (StreamChunk, bool) {
	if len(chunk.Choices) == 0 {
		return StreamChunk{}, false
	}
	choice := chunk.Choices[0]

	for _, tc := range choice.Delta.ToolCalls {
		s.acc.add(int(tc.Index), tc.ID, tc.Function.Name, tc.Function.Arguments)
	}
	if choice.FinishReason != "" {
		s.finishReason = choice.FinishReason
	}

	out := StreamChunk{
		Text:     choice.Delta.Content,
		Thinking: reasoningDelta(choice.Delta),
	}
	if out.Text == "" && out.Thinking == "" {
		return StreamChunk{}, false
	}
	return out, true
}

// reasoningDelta extracts reasoning text from the delta's extra fields.
// Reasoning-capable OpenAI-style backends send it as a distinct field next
// to the regular content delta.
func reasoningDelta(delta openai.ChatCompletionChunkChoiceDelta) string {
	for _, key := range []string{"reasoning_content", "reasoning"} {
		field, ok := delta.JSON.ExtraFields[key]
		if !ok || !field.Valid() {
			continue
		}
		var text string
		if err := json.Unmarshal([]byte(field.Raw()), &text); err == nil {
			return text
		}
	}
	return ""
}

// convertMessagesToOpenAI converts our internal message format to the wire
// format. The system prompt stays inline as the first message.
func convertMessagesToOpenAI(messages []session.Message) []openai.ChatCompletionMessageParamUnion {
	var chatMessages []openai.ChatCompletionMessageParamUnion
	for _, msg := range messages {
		switch msg.Role {
		case session.RoleSystem:
			chatMessages = append(chatMessages, openai.SystemMessage(msg.Content))
		case session.RoleAssistant:
			// Thinking has no replayable representation in this protocol;
			// a turn that carried nothing else is dropped rather than sent
			// as an empty assistant message.
			if msg.Content == "" && len(msg.ToolCalls) == 0 {
				continue
			}
			assistantMessage := openai.ChatCompletionMessage{
				Role:    "assistant",
				Content: msg.Content,
			}
			for _, tc := range msg.ToolCalls {
				argsBytes, err := json.Marshal(tc.Args)
				if err != nil {
					argsBytes = []byte("{}")
				}
				assistantMessage.ToolCalls = append(assistantMessage.ToolCalls, openai.ChatCompletionMessageToolCallUnion{
					ID:   tc.ToolCallID,
					Type: "function",
					Function: openai.ChatCompletionMessageFunctionToolCallFunction{
						Name:      tc.Name,
						Arguments: string(argsBytes),
					},
				})
			}
			chatMessages = append(chatMessages, assistantMessage.ToParam())
		case session.RoleTool:
			chatMessages = append(chatMessages, openai.ToolMessage(msg.Content, msg.ToolCallID))
		case session.RoleUser:
			fallthrough
		default:
			chatMessages = append(chatMessages, convertUserMessageToOpenAI(msg))
		}
	}
	return chatMessages
}

func convertUserMessageToOpenAI(msg session.Message) openai.ChatCompletionMessageParamUnion {
	if len(msg.Parts) == 0 {
		return openai.UserMessage(msg.Content)
	}
	var parts []openai.ChatCompletionContentPartUnionParam
	for _, part := range msg.Parts {
		if part.Type != session.PartTypeText {
			continue
		}
		parts = append(parts, openai.ChatCompletionContentPartUnionParam{
			OfText: &openai.ChatCompletionContentPartTextParam{Text: part.Text},
		})
	}
	return openai.ChatCompletionMessageParamUnion{
		OfUser: &openai.ChatCompletionUserMessageParam{
			Content: openai.ChatCompletionUserMessageParamContentUnion{
				OfArrayOfContentParts: parts,
			},
		},
	}
}

// convertToolsToOpenAI converts the tool catalog to function declarations.
func convertToolsToOpenAI(ts []tools.Tool) []openai.ChatCompletionToolUnionParam {
	if len(ts) == 0 {
		return nil
	}
	var openAITools []openai.ChatCompletionToolUnionParam
	for _, t := range ts {
		openAITools = append(openAITools, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        t.Name(),
			Description: openai.String(t.Description()),
			Parameters:  openai.FunctionParameters(t.Parameters()),
		}))
	}
	return openAITools
}
