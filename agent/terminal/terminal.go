package terminal

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/parley-cli/parley/agent"
	"github.com/parley-cli/parley/session"
)

// printState tracks which kind of streamed output currently has an open
// line, so prefixes are printed once and lines are closed before other
// output interleaves.
type printState int

const (
	printIdle printState = iota
	printThinking
	printText
)

// Terminal is the interactive REPL front-end for the agent.
type Terminal struct {
	agent   *agent.Agent
	scanner *bufio.Scanner
	state   printState
}

// New creates a Terminal for the given agent, reading from stdin.
func New(a *agent.Agent) *Terminal {
	return &Terminal{
		agent:   a,
		scanner: bufio.NewScanner(os.Stdin),
	}
}

// Run starts the interactive session. An initial prompt from the command
// line is processed before the read loop begins.
func (t *Terminal) Run(ctx context.Context, initialPrompt string) error {
	if initialPrompt != "" {
		if err := t.processTurn(ctx, initialPrompt); err != nil {
			return err
		}
	}

	for {
		fmt.Print("You: ")
		if !t.scanner.Scan() {
			// EOF or read error ends the session
			break
		}

		userInput := strings.TrimSpace(t.scanner.Text())
		if userInput == "" {
			continue
		}

		handled, quit := t.handleCommand(userInput)
		if quit {
			break
		}
		if handled {
			continue
		}

		if err := t.processTurn(ctx, userInput); err != nil {
			fmt.Printf("Error: %v\n", err)
		}
	}

	return t.scanner.Err()
}

// handleCommand intercepts REPL commands. Returns whether the input was a
// command and whether the session should end.
func (t *Terminal) handleCommand(input string) (handled, quit bool) {
	switch input {
	case "exit", "quit", "/exit", "/quit":
		return true, true
	case "/clear":
		removed := t.agent.ClearHistoryKeepSystem()
		fmt.Printf("Cleared %d messages from the conversation.\n", removed)
		return true, false
	case "/sessions":
		names, err := session.List()
		if err != nil {
			fmt.Printf("Error listing sessions: %v\n", err)
			return true, false
		}
		if len(names) == 0 {
			fmt.Println("No saved sessions.")
			return true, false
		}
		fmt.Println("Saved sessions, most recent first:")
		for _, name := range names {
			marker := "  "
			if name == t.agent.Session.Name {
				marker = "* "
			}
			fmt.Printf("%s%s\n", marker, name)
		}
		return true, false
	case "/help":
		fmt.Println("Commands:")
		fmt.Println("  /clear      clear the conversation, keeping the system prompt")
		fmt.Println("  /sessions   list saved sessions")
		fmt.Println("  /help       show this help")
		fmt.Println("  exit, quit  end the session")
		return true, false
	}
	return false, false
}

// processTurn runs one user turn with terminal-specific callbacks.
func (t *Terminal) processTurn(ctx context.Context, userInput string) error {
	callbacks := agent.ProcessCallbacks{
		OnAssistantText: func(text string) {
			if t.state != printText {
				t.closeLine()
				fmt.Print("Parley: ")
				t.state = printText
			}
			fmt.Print(text)
		},
		OnThinkingText: func(text string) {
			if t.state != printThinking {
				t.closeLine()
				fmt.Print("Parley (thinking): ")
				t.state = printThinking
			}
			fmt.Print(text)
		},
		OnAssistantMessage: func(message string) {
			// Streamed turns only need their line closed; anything that
			// never streamed (such as the step-ceiling notice) is printed
			// whole.
			if t.state == printIdle {
				fmt.Printf("Parley: %s\n", message)
				return
			}
			t.closeLine()
		},
		OnToolCall: func(toolCall session.ToolCall) {
			t.closeLine()
			if t.agent.Verbosity == agent.ToolVerbosityAll {
				fmt.Printf("Parley wants to call tool `%s` with args: %v\n", toolCall.Name, toolCall.Args)
			} else if t.agent.Verbosity == agent.ToolVerbosityInfo {
				fmt.Printf("Parley wants to call tool `%s`\n", toolCall.Name)
			}
		},
		OnToolResult: func(toolCall session.ToolCall, result string) {
			if t.agent.Verbosity == agent.ToolVerbosityAll {
				t.closeLine()
				fmt.Printf("Tool `%s` output: %s\n", toolCall.Name, result)
			}
		},
		ShouldExecuteTool: func(toolCall session.ToolCall) bool {
			if t.agent.Mode == agent.ModePrompt {
				t.closeLine()
				fmt.Printf("Allow tool `%s`? (y/N): ", toolCall.Name)
				if !t.scanner.Scan() {
					return false
				}
				return strings.TrimSpace(strings.ToLower(t.scanner.Text())) == "y"
			}
			return true
		},
		OnWarning: func(warning string) {
			t.closeLine()
			fmt.Printf("Warning: %s\n", warning)
		},
	}

	_, err := t.agent.ProcessUserInput(ctx, userInput, callbacks)
	t.closeLine()
	return err
}

// closeLine terminates any open streamed-output line.
func (t *Terminal) closeLine() {
	if t.state != printIdle {
		fmt.Println()
		t.state = printIdle
	}
}
