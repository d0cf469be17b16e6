// Package agent implements the conversation loop at the core of Parley.
//
// The Agent owns the conversation history and drives the model/tool cycle:
// user input is appended to the history, the model is called with the full
// history and the active tool catalog, requested tools are executed, their
// results are appended, and the cycle repeats until the model answers
// without tool calls or the configured step budget runs out.
//
// # Core Functionality
//
// The Agent type provides:
//
//   - An append-only conversation history persisted through the session store
//   - Streaming model calls through the unified LLM client
//   - Concurrent tool execution with results appended in request order
//   - A step ceiling that turns runaway tool loops into a soft failure
//   - Callback-based event delivery for interaction front-ends
//
// # Usage
//
// To create and use an agent:
//
//	ag, err := agent.New(cfg, sess, toolset, mode, client, verbosity, logger)
//	if err != nil {
//	    // handle error
//	}
//	defer ag.Close()
//
//	callbacks := agent.ProcessCallbacks{
//	    OnAssistantText: func(text string) {
//	        // stream assistant text as it arrives
//	    },
//	    OnToolCall: func(toolCall session.ToolCall) {
//	        // observe tool execution requests
//	    },
//	    ShouldExecuteTool: func(toolCall session.ToolCall) bool {
//	        // gate tool execution (prompt mode)
//	        return true
//	    },
//	}
//
//	result, err := ag.ProcessUserInput(ctx, "user message", callbacks)
//
// # Modes
//
// The agent supports two operation modes:
//
//   - ModeAuto: tools are executed without confirmation
//   - ModePrompt: each tool call is gated through ShouldExecuteTool
//
// # Tool Verbosity
//
// Front-ends use the agent's verbosity setting to decide how much tool
// activity to display:
//
//   - ToolVerbosityNone: no tool execution details
//   - ToolVerbosityInfo: tool names as they are called
//   - ToolVerbosityAll: tool names, arguments and results
//
// # Callbacks
//
// ProcessCallbacks decouples the loop from any particular front-end. The
// terminal REPL in agent/terminal prints events to stdout; tests drive the
// loop with recording callbacks. Every callback is optional.
package agent
