package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/parley-cli/parley/config"
	"github.com/parley-cli/parley/errors"
	"github.com/parley-cli/parley/llm"
	"github.com/parley-cli/parley/logging"
	"github.com/parley-cli/parley/session"
	"github.com/parley-cli/parley/tools"
	"golang.org/x/sync/errgroup"
)

type Mode string

const (
	ModeAuto   Mode = "auto"
	ModePrompt Mode = "prompt"
)

type ToolVerbosity string

const (
	ToolVerbosityNone ToolVerbosity = "none"
	ToolVerbosityInfo ToolVerbosity = "info"
	ToolVerbosityAll  ToolVerbosity = "all"
)

// stepCeilingMessage is reported when a conversation turn exhausts the step
// budget. A soft failure: the history stays intact and the user can follow up.
const stepCeilingMessage = "I was not able to complete the task within the allowed number of steps. You can continue with a follow-up message."

// deniedResultText is recorded as the tool result when the user rejects a
// tool call, so the model knows the call never ran.
const deniedResultText = "Tool execution was denied by the user."

// ProcessCallbacks lets an interaction front-end observe and steer a turn.
// Every field is optional; a nil callback is skipped.
type ProcessCallbacks struct {
	// OnAssistantText receives assistant text deltas as they stream.
	OnAssistantText func(text string)
	// OnThinkingText receives model reasoning deltas as they stream.
	OnThinkingText func(text string)
	// OnAssistantMessage receives the complete text of each assistant turn.
	OnAssistantMessage func(message string)
	// OnToolCall fires for every tool call the model requests.
	OnToolCall func(toolCall session.ToolCall)
	// OnToolResult fires after a tool call finishes, with its result text.
	OnToolResult func(toolCall session.ToolCall, result string)
	// ShouldExecuteTool gates each tool call. Returning false records a
	// denial result instead of executing.
	ShouldExecuteTool func(toolCall session.ToolCall) bool
	// OnWarning receives non-fatal problems such as session save failures.
	OnWarning func(warning string)
}

// Agent owns the conversation history and drives the model/tool loop.
type Agent struct {
	Config         *config.Config
	Session        *session.Session
	Client         llm.Provider
	AvailableTools []tools.Tool
	Mode           Mode
	Verbosity      ToolVerbosity

	registry  *tools.ToolRegistry
	toolIndex map[string]tools.Tool
	maxSteps  int
	logger    *slog.Logger
}

// New assembles an agent for one session: resolves the toolset, connects the
// tool registry (including MCP servers) and wires the LLM client.
func New(cfg *config.Config, sess *session.Session, toolset string, mode Mode, client llm.Provider, verbosity ToolVerbosity, logger *slog.Logger) (*Agent, error) {
	if logger == nil {
		logger = logging.Discard()
	}

	ts, err := cfg.GetToolset(toolset)
	if err != nil {
		return nil, err
	}

	registry := tools.NewToolRegistry(cfg, logger)
	activeTools, err := registry.GetActiveTools(ts)
	if err != nil {
		registry.Close()
		return nil, err
	}

	toolIndex := make(map[string]tools.Tool, len(activeTools))
	for _, t := range activeTools {
		toolIndex[t.Name()] = t
	}

	maxSteps := cfg.MaxSteps
	if maxSteps < 1 {
		maxSteps = 1
	}

	return &Agent{
		Config:         cfg,
		Session:        sess,
		Client:         client,
		AvailableTools: activeTools,
		Mode:           mode,
		Verbosity:      verbosity,
		registry:       registry,
		toolIndex:      toolIndex,
		maxSteps:       maxSteps,
		logger:         logger,
	}, nil
}

// Close releases the tool registry, stopping any MCP server subprocesses.
func (a *Agent) Close() {
	a.registry.Close()
}

// AddUserMessage appends a user message to the history without starting a
// model turn.
func (a *Agent) AddUserMessage(input string) {
	a.Session.AddMessage(session.Message{Role: session.RoleUser, Content: input})
}

// ClearHistoryKeepSystem resets the conversation to just the system message
// and persists the result. Returns the number of removed messages.
func (a *Agent) ClearHistoryKeepSystem() int {
	removed := a.Session.ClearKeepSystem()
	if err := a.Session.Save(); err != nil {
		a.logger.Warn("failed to save session after clear", "error", err)
	}
	return removed
}

// ProcessUserInput runs one conversation turn: the user input is appended to
// the history, then the model is called repeatedly, executing requested
// tools between calls, until a turn produces no tool calls or the step
// budget runs out. Returns the final assistant text. A model-call failure
// propagates without appending an assistant message for that step.
func (a *Agent) ProcessUserInput(ctx context.Context, input string, callbacks ProcessCallbacks) (string, error) {
	a.AddUserMessage(input)

	for step := 0; step < a.maxSteps; step++ {
		a.logger.Debug("starting model call",
			"step", step+1, "maxSteps", a.maxSteps, "messages", len(a.Session.Messages))

		assistantMsg, err := a.streamTurn(ctx, callbacks)
		if err != nil {
			return "", errors.Wrap(err, "model call failed")
		}

		a.Session.AddMessage(assistantMsg)
		a.saveSession(callbacks)

		if assistantMsg.Content != "" && callbacks.OnAssistantMessage != nil {
			callbacks.OnAssistantMessage(assistantMsg.Content)
		}

		if len(assistantMsg.ToolCalls) == 0 {
			return assistantMsg.Content, nil
		}

		a.dispatchToolCalls(ctx, assistantMsg.ToolCalls, callbacks)
		a.saveSession(callbacks)
	}

	a.logger.Info("step ceiling reached", "maxSteps", a.maxSteps)
	a.Session.AddMessage(session.Message{Role: session.RoleAssistant, Content: stepCeilingMessage})
	a.saveSession(callbacks)
	if callbacks.OnAssistantMessage != nil {
		callbacks.OnAssistantMessage(stepCeilingMessage)
	}
	return stepCeilingMessage, nil
}

// streamTurn consumes one model stream into a single assistant message,
// surfacing text and thinking deltas through the callbacks as they arrive.
func (a *Agent) streamTurn(ctx context.Context, callbacks ProcessCallbacks) (session.Message, error) {
	stream := a.Client.GenerateStream(ctx, a.Session.Messages, a.AvailableTools)
	defer stream.Close()

	var text, thinking strings.Builder
	var toolCalls []session.ToolCall
	var signature, finishReason string

	for stream.Next() {
		chunk := stream.Current()
		if chunk.Text != "" {
			text.WriteString(chunk.Text)
			if callbacks.OnAssistantText != nil {
				callbacks.OnAssistantText(chunk.Text)
			}
		}
		if chunk.Thinking != "" {
			thinking.WriteString(chunk.Thinking)
			if callbacks.OnThinkingText != nil {
				callbacks.OnThinkingText(chunk.Thinking)
			}
		}
		if chunk.Done {
			toolCalls = chunk.ToolCalls
			signature = chunk.ThinkingSignature
			finishReason = chunk.FinishReason
		}
	}
	if err := stream.Err(); err != nil {
		return session.Message{}, err
	}

	a.logger.Debug("model turn complete",
		"finishReason", finishReason, "toolCalls", len(toolCalls), "textLen", text.Len())

	return session.Message{
		Role:              session.RoleAssistant,
		Content:           text.String(),
		Thinking:          thinking.String(),
		ThinkingSignature: signature,
		ToolCalls:         toolCalls,
	}, nil
}

// dispatchToolCalls executes one batch of tool calls and appends a tool
// message per call. Approval is gathered sequentially up front (the gate may
// prompt on stdin), execution runs concurrently, and results are appended in
// the order the model emitted the calls regardless of completion order.
func (a *Agent) dispatchToolCalls(ctx context.Context, calls []session.ToolCall, callbacks ProcessCallbacks) {
	approved := make([]bool, len(calls))
	for i, call := range calls {
		if callbacks.OnToolCall != nil {
			callbacks.OnToolCall(call)
		}
		approved[i] = callbacks.ShouldExecuteTool == nil || callbacks.ShouldExecuteTool(call)
	}

	results := make([]string, len(calls))
	g := new(errgroup.Group)
	for i, call := range calls {
		if !approved[i] {
			results[i] = deniedResultText
			a.logger.Info("tool call denied", "tool", call.Name)
			continue
		}
		g.Go(func() error {
			results[i] = a.executeToolCall(ctx, call)
			return nil
		})
	}
	g.Wait()

	for i, call := range calls {
		if callbacks.OnToolResult != nil {
			callbacks.OnToolResult(call, results[i])
		}
		a.Session.AddMessage(session.Message{
			Role:       session.RoleTool,
			Content:    results[i],
			ToolCallID: call.ToolCallID,
			ToolName:   call.Name,
		})
	}
}

// executeToolCall runs a single tool call. Failures are folded into the
// result text so the model can react to them; only tools from the active
// catalog are executable.
func (a *Agent) executeToolCall(ctx context.Context, call session.ToolCall) string {
	tool, ok := a.toolIndex[call.Name]
	if !ok {
		a.logger.Warn("model requested unknown tool", "tool", call.Name)
		return fmt.Sprintf("Error: unknown tool '%s'", call.Name)
	}

	a.logger.Debug("executing tool", "tool", call.Name, "args", call.Args)
	result, err := tool.Execute(ctx, call.Args)
	if err != nil {
		a.logger.Warn("tool execution failed", "tool", call.Name, "error", err)
		return fmt.Sprintf("Error: %v", err)
	}
	return result
}

func (a *Agent) saveSession(callbacks ProcessCallbacks) {
	if err := a.Session.Save(); err != nil {
		a.logger.Warn("failed to save session", "error", err)
		if callbacks.OnWarning != nil {
			callbacks.OnWarning(fmt.Sprintf("failed to save session: %v", err))
		}
	}
}
