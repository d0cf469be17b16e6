// Package terminal implements the interactive command-line front-end for
// the Parley agent.
//
// The terminal reads user prompts from stdin, streams assistant text and
// thinking to stdout as they arrive, handles tool execution confirmations
// (in prompt mode) and applies the configured verbosity level to tool
// execution output.
//
// # Usage
//
// Create an agent instance and pass it to the terminal:
//
//	ag, err := agent.New(cfg, sess, toolset, mode, client, verbosity, logger)
//	if err != nil {
//	    // handle error
//	}
//
//	term := terminal.New(ag)
//	err = term.Run(ctx, initialPrompt)
//
// # Features
//
//   - Streaming display of assistant text and model thinking
//   - Support for initial prompts from command-line arguments
//   - Tool execution confirmation in prompt mode (y/N)
//   - Configurable verbosity for tool execution output
//   - REPL commands: /clear (reset conversation, keep system prompt),
//     /sessions (list saved sessions), /help, and exit/quit for graceful
//     termination
//
// # Modes
//
// The terminal respects the agent's operation mode:
//
//   - Auto mode: tools are executed without confirmation
//   - Prompt mode: each tool call asks for confirmation before running
//
// # Verbosity Levels
//
//   - None: no tool execution information is displayed
//   - Info: tool names are displayed when called
//   - All: tool names, arguments, and results are displayed
package terminal
