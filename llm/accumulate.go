package llm

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/parley-cli/parley/session"
)

// toolCallAccumulator rebuilds complete tool invocations from the partial
// fragments a streaming response spreads across many events. Entries are
// keyed by the backend's position index (per-delta index for OpenAI-style
// streams, content-block index for Anthropic-style ones). Name and argument
// fragments are concatenated in arrival order, never overwritten. The
// accumulator lives for exactly one streaming call.
type toolCallAccumulator struct {
	order   []int
	partial map[int]*partialToolCall
	logger  *slog.Logger
}

type partialToolCall struct {
	id       string
	name     strings.Builder
	argsText strings.Builder
	args     map[string]any
	parsed   bool
}

func newToolCallAccumulator(logger *slog.Logger) *toolCallAccumulator {
	return &toolCallAccumulator{
		partial: make(map[int]*partialToolCall),
		logger:  logger,
	}
}

// add records one fragment for the tool call at index. Empty fragments are
// fine; the first fragment for a new index registers the entry.
func (a *toolCallAccumulator) add(index int, id, nameFragment, argsFragment string) {
	entry, ok := a.partial[index]
	if !ok {
		entry = &partialToolCall{}
		a.partial[index] = entry
		a.order = append(a.order, index)
	}
	if id != "" {
		entry.id = id
	}
	entry.name.WriteString(nameFragment)
	entry.argsText.WriteString(argsFragment)
}

// closeEntry parses the accumulated argument text for one entry. Used by
// block-structured streams, which signal per-block completion before the
// turn ends.
func (a *toolCallAccumulator) closeEntry(index int) {
	if entry, ok := a.partial[index]; ok {
		a.parse(entry)
	}
}

// finalize parses any still-open entries and returns the completed tool
// calls in first-seen order. Returns nil when no tool calls accumulated.
func (a *toolCallAccumulator) finalize() []session.ToolCall {
	if len(a.order) == 0 {
		return nil
	}
	calls := make([]session.ToolCall, 0, len(a.order))
	for _, index := range a.order {
		entry := a.partial[index]
		a.parse(entry)
		calls = append(calls, session.ToolCall{
			ToolCallID: entry.id,
			Name:       entry.name.String(),
			Args:       entry.args,
		})
	}
	return calls
}

// parse interprets the concatenated argument text as a JSON object. Invalid
// JSON degrades to empty arguments: the tool call is still reported, the
// model simply loses its parameters, and the failure is visible in the log.
func (a *toolCallAccumulator) parse(entry *partialToolCall) {
	if entry.parsed {
		return
	}
	entry.parsed = true
	entry.args = map[string]any{}

	text := entry.argsText.String()
	if strings.TrimSpace(text) == "" {
		return
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(text), &args); err != nil {
		if a.logger != nil {
			a.logger.Warn("discarding malformed tool call arguments",
				"tool", entry.name.String(), "error", err, "raw", text)
		}
		return
	}
	if args != nil {
		entry.args = args
	}
}
