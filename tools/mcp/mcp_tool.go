package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/parley-cli/parley/errors"
)

// MCPClient manages the connection to a single MCP server subprocess.
type MCPClient struct {
	Name   string
	cmd    *exec.Cmd
	conn   *mcpsdk.ClientSession
	tools  map[string]*MCPTool
	logger *slog.Logger
}

// NewMCPClient starts the MCP server subprocess, connects over stdio and
// discovers the tools the server provides.
func NewMCPClient(name, command string, args []string, logger *slog.Logger) (*MCPClient, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	cmd := exec.Command(command, args...)
	cmd.Stderr = os.Stderr
	mcpClient := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "parley", Version: "v1.0.0"}, nil)
	ctx := context.Background()
	conn, err := mcpClient.Connect(ctx, mcpsdk.NewCommandTransport(cmd))
	if err != nil {
		cmd.Process.Kill()
		return nil, errors.Wrapf(err, "failed to connect to MCP server '%s'", name)
	}
	client := &MCPClient{
		Name:   name,
		cmd:    cmd,
		conn:   conn,
		tools:  make(map[string]*MCPTool),
		logger: logger,
	}

	// Tool listings are paginated; follow the cursor until exhausted.
	params := &mcpsdk.ListToolsParams{}
	for {
		list, err := conn.ListTools(ctx, params)
		if err != nil {
			cmd.Process.Kill()
			return nil, errors.Wrapf(err, "failed to list tools from MCP server '%s'", name)
		}

		for _, t := range list.Tools {
			client.tools[t.Name] = &MCPTool{
				serverName:  name,
				toolName:    t.Name,
				description: t.Description,
				parameters:  schemaToMap(t.InputSchema),
				client:      client,
			}
		}

		if list.NextCursor == "" {
			break
		}
		params.Cursor = list.NextCursor
	}

	logger.Info("mcp server initialized", "server", name, "tools", len(client.tools))
	return client, nil
}

// GetTool returns a tool provided by this server by its short name.
func (c *MCPClient) GetTool(toolName string) (*MCPTool, bool) {
	tool, ok := c.tools[toolName]
	return tool, ok
}

// Tools returns every tool the server exposes, in a stable order.
func (c *MCPClient) Tools() []*MCPTool {
	names := make([]string, 0, len(c.tools))
	for name := range c.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]*MCPTool, 0, len(names))
	for _, name := range names {
		out = append(out, c.tools[name])
	}
	return out
}

// Stop terminates the MCP server subprocess.
func (c *MCPClient) Stop() error {
	if c.conn != nil {
		c.conn.Close()
	}
	if c.cmd != nil && c.cmd.Process != nil {
		c.logger.Info("terminating mcp server", "server", c.Name)
		return c.cmd.Process.Kill()
	}
	return nil
}

// MCPTool is a tool served by an external MCP server. It satisfies the
// tools.Tool interface from the parent package.
type MCPTool struct {
	serverName  string
	toolName    string
	description string
	parameters  map[string]any
	client      *MCPClient
}

// Name returns the qualified name "<server>.<tool>" so tools from different
// servers cannot collide.
func (t *MCPTool) Name() string {
	return fmt.Sprintf("%s.%s", t.serverName, t.toolName)
}

// Description returns the tool's description, provided by the MCP server.
func (t *MCPTool) Description() string {
	return t.description
}

// Parameters returns the server-declared JSON schema for the tool's input.
func (t *MCPTool) Parameters() map[string]any {
	return t.parameters
}

// Execute sends the call to the MCP server and concatenates the text blocks
// of the result.
func (t *MCPTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	result, err := t.client.conn.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      t.toolName,
		Arguments: args,
	})
	if err != nil {
		return "", errors.Wrapf(err, "failed to call tool '%s'", t.Name())
	}
	out := ""
	for _, c := range result.Content {
		if text, ok := c.(*mcpsdk.TextContent); ok {
			out += text.Text
		}
	}
	return out, nil
}

// schemaToMap converts the SDK's schema value into the plain JSON-object
// form the model adapters expect.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object"}
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil || len(m) == 0 {
		return map[string]any{"type": "object"}
	}
	return m
}
