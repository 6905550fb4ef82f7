package tools

import (
	"os"
	"sort"
)

// KnownMCPServer describes a well-known MCP server that can be configured by
// name alone.
type KnownMCPServer struct {
	Name        string
	Description string
	Command     string
	Args        []string

	// RequiredEnv and OptionalEnv are copied from the process environment
	// when set there.
	RequiredEnv []string
	OptionalEnv []string
}

// KnownMCPServers lists the servers a configuration may reference by name
// without giving a command.
var KnownMCPServers = map[string]KnownMCPServer{
	"filesystem": {
		Name:        "filesystem",
		Description: "File system access (read, write, search, list)",
		Command:     "npx",
		Args:        []string{"-y", "@modelcontextprotocol/server-filesystem"},
	},
	"memory": {
		Name:        "memory",
		Description: "Persistent knowledge graph memory",
		Command:     "npx",
		Args:        []string{"-y", "@modelcontextprotocol/server-memory"},
	},
	"github": {
		Name:        "github",
		Description: "GitHub API access (repos, issues, PRs, files)",
		Command:     "npx",
		Args:        []string{"-y", "@modelcontextprotocol/server-github"},
		RequiredEnv: []string{"GITHUB_PERSONAL_ACCESS_TOKEN"},
	},
	"brave-search": {
		Name:        "brave-search",
		Description: "Web search via Brave Search API",
		Command:     "npx",
		Args:        []string{"-y", "@modelcontextprotocol/server-brave-search"},
		RequiredEnv: []string{"BRAVE_API_KEY"},
	},
	"fetch": {
		Name:        "fetch",
		Description: "HTTP fetch for web content retrieval",
		Command:     "npx",
		Args:        []string{"-y", "@modelcontextprotocol/server-fetch"},
	},
	"sqlite": {
		Name:        "sqlite",
		Description: "SQLite database access",
		Command:     "npx",
		Args:        []string{"-y", "@modelcontextprotocol/server-sqlite"},
	},
	"slack": {
		Name:        "slack",
		Description: "Slack workspace integration",
		Command:     "npx",
		Args:        []string{"-y", "@modelcontextprotocol/server-slack"},
		RequiredEnv: []string{"SLACK_BOT_TOKEN"},
		OptionalEnv: []string{"SLACK_TEAM_ID"},
	},
}

// KnownMCPServerNames returns the names of KnownMCPServers, sorted.
func KnownMCPServerNames() []string {
	names := make([]string, 0, len(KnownMCPServers))
	for name := range KnownMCPServers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve fills in the command, arguments and environment of a server that
// names a known server and gives neither a command nor a url. Env entries set
// on s win over values taken from the process environment.
func (s MCPServer) Resolve() (MCPServer, bool) {
	if s.Command != "" || s.URL != "" {
		return s, true
	}
	known, ok := KnownMCPServers[s.Name]
	if !ok {
		return s, false
	}

	resolved := s
	resolved.Transport = "stdio"
	resolved.Command = known.Command
	resolved.Args = append(append([]string{}, known.Args...), s.Args...)
	resolved.Env = make(map[string]string)
	for _, key := range append(append([]string{}, known.RequiredEnv...), known.OptionalEnv...) {
		if val := os.Getenv(key); val != "" {
			resolved.Env[key] = val
		}
	}
	for k, v := range s.Env {
		resolved.Env[k] = v
	}
	return resolved, true
}
