package tools

import (
	"context"
	"io"
	"log/slog"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/parley-cli/parley/config"
	"github.com/parley-cli/parley/errors"
	"github.com/parley-cli/parley/tools/mcp"
)

// Tool defines the interface for any action the agent can take. Parameters
// returns a JSON-Schema object describing the accepted arguments; it is
// passed to the model verbatim.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// ToolRegistry holds all available tools, built-in and MCP-provided.
type ToolRegistry struct {
	tools      map[string]Tool
	mcpClients map[string]*mcp.MCPClient
	logger     *slog.Logger
}

func NewToolRegistry(cfg *config.Config, logger *slog.Logger) *ToolRegistry {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	r := &ToolRegistry{
		tools:      make(map[string]Tool),
		mcpClients: make(map[string]*mcp.MCPClient),
		logger:     logger,
	}

	r.Register(&ReadFileTool{fsAccess: &cfg.FilesystemAccess})
	r.Register(&WriteFileTool{fsAccess: &cfg.FilesystemAccess})
	r.Register(&ListDirTool{fsAccess: &cfg.FilesystemAccess})
	r.Register(&ExecuteCommandTool{allowedCommands: cfg.AllowedCommands})

	for _, server := range cfg.AdditionalMCPServers {
		client, err := mcp.NewMCPClient(server.Name, server.Command, server.Args, logger)
		if err != nil {
			logger.Warn("mcp server unavailable", "server", server.Name, "error", err)
			continue
		}
		r.mcpClients[server.Name] = client
		for _, t := range client.Tools() {
			r.Register(t)
		}
	}

	return r
}

func (r *ToolRegistry) Register(t Tool) {
	r.tools[t.Name()] = t
}

func (r *ToolRegistry) GetTool(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// GetActiveTools returns the tool instances for a given toolset. Toolset
// entries are plain tool names, "<server>.<tool>" for a single MCP tool, or
// "<server>.*" for every tool a server exposes.
func (r *ToolRegistry) GetActiveTools(ts *config.Toolset) ([]Tool, error) {
	var active []Tool
	for _, name := range ts.Tools {
		if server, ok := strings.CutSuffix(name, ".*"); ok {
			client, found := r.mcpClients[server]
			if !found {
				return nil, errors.New("toolset '%s' references unknown MCP server '%s'", ts.Name, server)
			}
			for _, t := range client.Tools() {
				active = append(active, t)
			}
			continue
		}

		t, ok := r.GetTool(name)
		if !ok {
			return nil, errors.New("tool '%s' from toolset '%s' is not registered", name, ts.Name)
		}
		active = append(active, t)
	}
	return active, nil
}

// Close stops all MCP server subprocesses.
func (r *ToolRegistry) Close() {
	for _, client := range r.mcpClients {
		if err := client.Stop(); err != nil {
			r.logger.Warn("failed to stop mcp server", "server", client.Name, "error", err)
		}
	}
}

// isPathRestricted checks if a path matches any of the glob patterns.
func isPathRestricted(path string, patterns []string) (bool, error) {
	for _, pattern := range patterns {
		match, err := doublestar.PathMatch(pattern, path)
		if err != nil {
			return false, errors.Wrapf(err, "invalid glob pattern '%s'", pattern)
		}
		if match {
			return true, nil
		}
	}
	return false, nil
}

// isCommandAllowed checks if a command matches the allowlist. Patterns are
// regular expressions; an invalid pattern falls back to exact comparison.
func isCommandAllowed(command string, allowed []string) (bool, error) {
	if len(strings.Fields(command)) == 0 {
		return false, nil
	}

	for _, pattern := range allowed {
		re, err := regexp.Compile(pattern)
		if err != nil {
			if command == pattern {
				return true, nil
			}
			continue
		}
		if re.MatchString(command) {
			return true, nil
		}
	}
	return false, nil
}
