package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/parley-cli/parley/errors"
)

// Message roles. Every consumer switches on these; a message carries only
// the fields that belong to its role.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// PartTypeText is the only content part type currently produced. Other
// types (images etc.) round-trip through the model untouched.
const PartTypeText = "text"

// ContentPart is one typed segment of a user message.
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ToolCall is a model-emitted request to invoke a tool. The ID is assigned
// by the backend and must be echoed back verbatim on the matching result.
type ToolCall struct {
	ToolCallID string         `json:"tool_call_id"`
	Name       string         `json:"name"`
	Args       map[string]any `json:"args"`
}

// Message is one turn of conversation history.
//
// Role decides which fields are meaningful:
//   - system: Content
//   - user: Content, or Parts when the input is segmented
//   - assistant: Content, Thinking (+ ThinkingSignature), ToolCalls
//   - tool: Content, ToolCallID (required), ToolName
type Message struct {
	Role              string        `json:"role"`
	Content           string        `json:"content,omitempty"`
	Parts             []ContentPart `json:"parts,omitempty"`
	Thinking          string        `json:"thinking,omitempty"`
	ThinkingSignature string        `json:"thinking_signature,omitempty"`
	ToolCalls         []ToolCall    `json:"tool_calls,omitempty"`
	ToolCallID        string        `json:"tool_call_id,omitempty"`
	ToolName          string        `json:"tool_name,omitempty"`
}

type Session struct {
	Name          string    `json:"name"`
	Mode          string    `json:"mode,omitempty"`
	Toolset       string    `json:"toolset,omitempty"`
	ToolVerbosity string    `json:"tool_verbosity,omitempty"`
	Messages      []Message `json:"messages"`
	path          string
}

// New creates a new session.
func New(name string) (*Session, error) {
	path, err := sessionPath(name)
	if err != nil {
		return nil, err
	}
	return &Session{
		Name:     name,
		Messages: []Message{},
		path:     path,
	}, nil
}

// Load loads an existing session from disk.
func Load(name string) (*Session, error) {
	path, err := sessionPath(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read session file %s", path)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, errors.Wrapf(err, "could not parse session file %s", path)
	}
	s.path = path
	return &s, nil
}

// List returns the names of all saved sessions, most recently saved first.
// A project without a session directory has no sessions rather than an
// error.
func List() ([]string, error) {
	dir := filepath.Join(stateDir, "sessions")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "could not list sessions")
	}
	type saved struct {
		name string
		mod  int64
	}
	var found []saved
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		found = append(found, saved{
			name: strings.TrimSuffix(e.Name(), ".json"),
			mod:  info.ModTime().UnixNano(),
		})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].mod > found[j].mod })
	names := make([]string, 0, len(found))
	for _, s := range found {
		names = append(names, s.name)
	}
	return names, nil
}

// MostRecent returns the name of the most recently saved session, or an
// error when no sessions exist.
func MostRecent() (string, error) {
	names, err := List()
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", errors.New("no sessions found")
	}
	return names[0], nil
}

// Save writes the current session state to disk.
func (s *Session) Save() error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to serialize session")
	}
	return os.WriteFile(s.path, data, 0644)
}

// AddMessage appends a message to the session history. History only ever
// grows; nothing rewrites past turns.
func (s *Session) AddMessage(msg Message) {
	s.Messages = append(s.Messages, msg)
}

// ClearKeepSystem drops every message except the leading system message and
// returns how many were removed. A history without a system message is
// cleared entirely.
func (s *Session) ClearKeepSystem() int {
	if len(s.Messages) == 0 {
		return 0
	}
	if s.Messages[0].Role != RoleSystem {
		removed := len(s.Messages)
		s.Messages = []Message{}
		return removed
	}
	removed := len(s.Messages) - 1
	s.Messages = s.Messages[:1]
	return removed
}

const stateDir = ".parley"

func sessionPath(name string) (string, error) {
	dir := filepath.Join(stateDir, "sessions")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errors.Wrap(err, "could not create session directory")
	}
	return filepath.Join(dir, name+".json"), nil
}
