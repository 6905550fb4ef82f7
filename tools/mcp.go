package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// MCPServer describes an MCP server whose tools join the catalog.
type MCPServer struct {
	Name      string            `json:"name" yaml:"name" mapstructure:"name"`
	Transport string            `json:"transport,omitempty" yaml:"transport,omitempty" mapstructure:"transport"` // "stdio" (default) or "sse"
	Command   string            `json:"command,omitempty" yaml:"command,omitempty" mapstructure:"command"`
	Args      []string          `json:"args,omitempty" yaml:"args,omitempty" mapstructure:"args"`
	Env       map[string]string `json:"env,omitempty" yaml:"env,omitempty" mapstructure:"env"`
	URL       string            `json:"url,omitempty" yaml:"url,omitempty" mapstructure:"url"`
}

// MCPClient is the subset of an MCP client the catalog needs.
type MCPClient interface {
	Initialize(ctx context.Context, request mcp.InitializeRequest) (*mcp.InitializeResult, error)
	ListTools(ctx context.Context, request mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// MCPCatalog exposes tools served by MCP servers. Tool names are prefixed
// with the server name: "server__tool".
type MCPCatalog struct {
	registry *Registry
	clients  map[string]MCPClient
	logger   *slog.Logger
	mu       sync.Mutex
}

// NewMCPCatalog creates an empty MCP catalog.
func NewMCPCatalog(logger *slog.Logger) *MCPCatalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &MCPCatalog{
		registry: NewRegistry(),
		clients:  make(map[string]MCPClient),
		logger:   logger,
	}
}

// Connect starts each server and registers its tools. A server that fails
// to connect is logged and skipped; the joined errors are returned.
func (c *MCPCatalog) Connect(ctx context.Context, servers ...MCPServer) error {
	var errs []error
	for _, s := range servers {
		cl, err := dial(ctx, s)
		if err != nil {
			c.logger.Warn("mcp: failed to start server", "server", s.Name, "error", err)
			errs = append(errs, fmt.Errorf("mcp server %s: %w", s.Name, err))
			continue
		}
		if err := c.AddClient(ctx, s.Name, cl); err != nil {
			cl.Close()
			c.logger.Warn("mcp: failed to connect server", "server", s.Name, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func dial(ctx context.Context, s MCPServer) (MCPClient, error) {
	if s.Name == "" {
		return nil, errors.New("server name is required")
	}
	s, _ = s.Resolve()

	switch s.Transport {
	case "", "stdio":
		if s.Command == "" {
			return nil, errors.New("command is required for stdio transport")
		}
		env := make([]string, 0, len(s.Env))
		for k, v := range s.Env {
			env = append(env, k+"="+v)
		}
		sort.Strings(env)
		return client.NewStdioMCPClient(s.Command, env, s.Args...)
	case "sse":
		if s.URL == "" {
			return nil, errors.New("url is required for sse transport")
		}
		cl, err := client.NewSSEMCPClient(s.URL)
		if err != nil {
			return nil, err
		}
		if err := cl.Start(ctx); err != nil {
			return nil, err
		}
		return cl, nil
	default:
		return nil, fmt.Errorf("unsupported transport %q", s.Transport)
	}
}

// AddClient initializes an already started client and registers its tools
// under the given server name.
func (c *MCPCatalog) AddClient(ctx context.Context, server string, cl MCPClient) error {
	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "vegaflow", Version: "1.0.0"}
	if _, err := cl.Initialize(ctx, initReq); err != nil {
		return fmt.Errorf("initialize mcp server %s: %w", server, err)
	}

	listed, err := cl.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return fmt.Errorf("list tools of %s: %w", server, err)
	}

	c.mu.Lock()
	c.clients[server] = cl
	c.mu.Unlock()

	for _, mt := range listed.Tools {
		remote := mt.Name
		t := Tool{
			Name:        server + "__" + remote,
			Description: mt.Description,
			InputSchema: schemaMap(mt.InputSchema),
			Fn: func(ctx context.Context, input any) (any, error) {
				return callMCP(ctx, cl, remote, input)
			},
		}
		if err := c.registry.Register(t); err != nil {
			return err
		}
	}

	c.logger.Info("mcp: connected server", "server", server, "tools", len(listed.Tools))
	return nil
}

// Lookup implements Catalog.
func (c *MCPCatalog) Lookup(ctx context.Context, name string) (*Tool, error) {
	return c.registry.Lookup(ctx, name)
}

// List implements Lister.
func (c *MCPCatalog) List() []*Tool {
	return c.registry.List()
}

// Close shuts down every connected server.
func (c *MCPCatalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for name, cl := range c.clients {
		if err := cl.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	c.clients = make(map[string]MCPClient)
	return errors.Join(errs...)
}

func callMCP(ctx context.Context, cl MCPClient, name string, input any) (any, error) {
	var args map[string]any
	switch v := input.(type) {
	case nil:
		args = map[string]any{}
	case map[string]any:
		args = v
	default:
		args = map[string]any{"input": v}
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	res, err := cl.CallTool(ctx, req)
	if err != nil {
		return nil, err
	}

	text := contentText(res.Content)
	if res.IsError {
		return nil, errors.New(text)
	}

	var decoded any
	if json.Unmarshal([]byte(text), &decoded) == nil {
		return decoded, nil
	}
	return text, nil
}

func contentText(content []mcp.Content) string {
	var parts []string
	for _, c := range content {
		switch tc := c.(type) {
		case mcp.TextContent:
			parts = append(parts, tc.Text)
		case *mcp.TextContent:
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func schemaMap(s mcp.ToolInputSchema) map[string]any {
	data, err := json.Marshal(s)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}
