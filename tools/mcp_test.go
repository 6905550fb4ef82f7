package tools

import (
	"context"
	"testing"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMCPServer() *server.MCPServer {
	srv := server.NewMCPServer("test", "1.0.0", server.WithToolCapabilities(false))

	srv.AddTool(
		mcp.NewTool("shout", mcp.WithDescription("Upper-cases text"), mcp.WithString("text", mcp.Required())),
		func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			text := req.GetString("text", "")
			return mcp.NewToolResultText(`{"loud":"` + text + `!"}`), nil
		},
	)
	srv.AddTool(
		mcp.NewTool("fail", mcp.WithDescription("Always fails")),
		func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return mcp.NewToolResultError("backend down"), nil
		},
	)
	return srv
}

func TestMCPCatalog(t *testing.T) {
	ctx := context.Background()

	cl, err := client.NewInProcessClient(newTestMCPServer())
	require.NoError(t, err)
	require.NoError(t, cl.Start(ctx))

	cat := NewMCPCatalog(nil)
	require.NoError(t, cat.AddClient(ctx, "demo", cl))
	defer cat.Close()

	list := cat.List()
	require.Len(t, list, 2)
	assert.Equal(t, "demo__fail", list[0].Name)
	assert.Equal(t, "demo__shout", list[1].Name)
	assert.Equal(t, "object", list[1].InputSchema["type"])

	tool, err := cat.Lookup(ctx, "demo__shout")
	require.NoError(t, err)
	out, err := tool.Call(ctx, map[string]any{"text": "hi"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"loud": "hi!"}, out)

	failing, err := cat.Lookup(ctx, "demo__fail")
	require.NoError(t, err)
	_, err = failing.Call(ctx, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend down")

	_, err = cat.Lookup(ctx, "shout")
	assert.ErrorIs(t, err, ErrToolNotFound)
}

func TestMCPConnectRejectsBadConfig(t *testing.T) {
	cat := NewMCPCatalog(nil)
	err := cat.Connect(context.Background(),
		MCPServer{Name: "", Command: "x"},
		MCPServer{Name: "nocmd"},
		MCPServer{Name: "weird", Transport: "carrier-pigeon"},
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server name is required")
	assert.Contains(t, err.Error(), "command is required")
	assert.Contains(t, err.Error(), `unsupported transport "carrier-pigeon"`)
	assert.Empty(t, cat.List())
}

func TestResolveKnownServer(t *testing.T) {
	t.Setenv("GITHUB_PERSONAL_ACCESS_TOKEN", "ghp_env")

	s, ok := MCPServer{Name: "github", Args: []string{"--read-only"}}.Resolve()
	require.True(t, ok)
	assert.Equal(t, "stdio", s.Transport)
	assert.Equal(t, "npx", s.Command)
	assert.Equal(t, []string{"-y", "@modelcontextprotocol/server-github", "--read-only"}, s.Args)
	assert.Equal(t, "ghp_env", s.Env["GITHUB_PERSONAL_ACCESS_TOKEN"])

	s, ok = MCPServer{Name: "github", Env: map[string]string{"GITHUB_PERSONAL_ACCESS_TOKEN": "ghp_cfg"}}.Resolve()
	require.True(t, ok)
	assert.Equal(t, "ghp_cfg", s.Env["GITHUB_PERSONAL_ACCESS_TOKEN"])
}

func TestResolveExplicitAndUnknown(t *testing.T) {
	explicit := MCPServer{Name: "github", Command: "my-github"}
	s, ok := explicit.Resolve()
	require.True(t, ok)
	assert.Equal(t, explicit, s)

	_, ok = MCPServer{Name: "nope"}.Resolve()
	assert.False(t, ok)

	assert.Contains(t, KnownMCPServerNames(), "filesystem")
}
