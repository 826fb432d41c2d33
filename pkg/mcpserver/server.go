// Package mcpserver exposes the build, read and lint commands as MCP tools over
// stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/jingkaihe/skillc/pkg/build"
	"github.com/jingkaihe/skillc/pkg/config"
	"github.com/jingkaihe/skillc/pkg/gateway"
	"github.com/jingkaihe/skillc/pkg/lint"
	"github.com/jingkaihe/skillc/pkg/logger"
	"github.com/jingkaihe/skillc/pkg/resolver"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Server is the skillc MCP server.
type Server struct {
	cfg     *config.Config
	builder *build.Builder
	gateway *gateway.Gateway
	mcp     *server.MCPServer
	// mu serialises tool calls; builds and the access log are not meant to
	// run concurrently within one process.
	mu sync.Mutex
}

// New registers the skillc tools.
func New(cfg *config.Config, builder *build.Builder, gw *gateway.Gateway, version string) *Server {
	s := &Server{
		cfg:     cfg,
		builder: builder,
		gateway: gw,
		mcp: server.NewMCPServer("skillc", version,
			server.WithToolCapabilities(true),
			server.WithRecovery(),
		),
	}

	s.mcp.AddTool(mcp.NewTool("skc_build",
		mcp.WithDescription("Compile a skill, refresh its search index and deploy it to agent directories"),
		mcp.WithString("skill", mcp.Required(), mcp.Description("Skill name")),
		mcp.WithBoolean("force", mcp.Description("Recompile even when the source is unchanged")),
		mcp.WithString("targets", mcp.Description("Comma-separated deploy targets; empty uses the configured defaults")),
	), s.handleBuild)

	s.mcp.AddTool(mcp.NewTool("skc_search",
		mcp.WithDescription("Full-text search over a skill's documents, or over all built skills when skill is empty"),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search terms; all must match")),
		mcp.WithString("skill", mcp.Description("Skill name")),
		mcp.WithNumber("limit", mcp.Description("Maximum results (default 10)")),
	), s.handleSearch)

	s.mcp.AddTool(mcp.NewTool("skc_outline",
		mcp.WithDescription("List the headings of every document in a skill"),
		mcp.WithString("skill", mcp.Required(), mcp.Description("Skill name")),
	), s.handleOutline)

	s.mcp.AddTool(mcp.NewTool("skc_show",
		mcp.WithDescription("Return the content of one section of a skill by heading"),
		mcp.WithString("skill", mcp.Required(), mcp.Description("Skill name")),
		mcp.WithString("section", mcp.Required(), mcp.Description("Heading text, case-insensitive")),
	), s.handleShow)

	s.mcp.AddTool(mcp.NewTool("skc_list",
		mcp.WithDescription("List known skills with their build state"),
		mcp.WithString("pattern", mcp.Description("Glob over skill names")),
	), s.handleList)

	s.mcp.AddTool(mcp.NewTool("skc_open",
		mcp.WithDescription("Return the content of one file of a skill"),
		mcp.WithString("skill", mcp.Required(), mcp.Description("Skill name")),
		mcp.WithString("path", mcp.Required(), mcp.Description("File path relative to the skill root")),
	), s.handleOpen)

	s.mcp.AddTool(mcp.NewTool("skc_sources",
		mcp.WithDescription("List the files of a skill"),
		mcp.WithString("skill", mcp.Required(), mcp.Description("Skill name")),
	), s.handleSources)

	s.mcp.AddTool(mcp.NewTool("skc_lint",
		mcp.WithDescription("Check a skill source for authoring mistakes"),
		mcp.WithString("skill", mcp.Required(), mcp.Description("Skill name")),
	), s.handleLint)

	return s
}

// MCP returns the underlying server.
func (s *Server) MCP() *server.MCPServer { return s.mcp }

// ServeStdio serves until stdin closes.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

func arguments(req mcp.CallToolRequest) map[string]any {
	args, _ := any(req.Params.Arguments).(map[string]any)
	if args == nil {
		return map[string]any{}
	}
	return args
}

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return strings.TrimSpace(v)
}

func boolArg(args map[string]any, key string) bool {
	v, _ := args[key].(bool)
	return v
}

func intArg(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func errorResult(ctx context.Context, tool string, err error) (*mcp.CallToolResult, error) {
	logger.G(ctx).WithError(err).WithField("tool", tool).Debug("tool call failed")
	return mcp.NewToolResultError(err.Error()), nil
}

func (s *Server) handleBuild(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(req)
	skill := stringArg(args, "skill")
	if skill == "" {
		return mcp.NewToolResultError("skill is required"), nil
	}
	opts := build.Options{Force: boolArg(args, "force")}
	if targets := stringArg(args, "targets"); targets != "" {
		for _, t := range strings.Split(targets, ",") {
			if t = strings.TrimSpace(t); t != "" {
				opts.Targets = append(opts.Targets, t)
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	report, err := s.builder.Build(ctx, skill, opts)
	if err != nil {
		return errorResult(ctx, "skc_build", err)
	}

	type deployOut struct {
		Target   string `json:"target"`
		Path     string `json:"path,omitempty"`
		Strategy string `json:"strategy,omitempty"`
		Error    string `json:"error,omitempty"`
	}
	out := struct {
		Skill    string      `json:"skill"`
		CacheHit bool        `json:"cache_hit"`
		Hash     string      `json:"source_hash"`
		ExitCode int         `json:"exit_code"`
		Deploys  []deployOut `json:"deploys"`
	}{Skill: skill, CacheHit: report.CacheHit, Hash: report.Fingerprint.String(), ExitCode: build.ExitCode(report, nil)}
	for _, d := range report.Deploys {
		do := deployOut{Target: d.Target, Path: d.Path, Strategy: d.Strategy}
		if d.Err != nil {
			do.Error = d.Err.Error()
		}
		out.Deploys = append(out.Deploys, do)
	}
	return jsonResult(out)
}

func (s *Server) handleSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(req)
	s.mu.Lock()
	defer s.mu.Unlock()
	matches, err := s.gateway.Search(ctx, stringArg(args, "skill"), stringArg(args, "query"), intArg(args, "limit"))
	if err != nil && len(matches) == 0 {
		return errorResult(ctx, "skc_search", err)
	}
	return jsonResult(matches)
}

func (s *Server) handleOutline(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hs, err := s.gateway.Outline(ctx, stringArg(arguments(req), "skill"))
	if err != nil {
		return errorResult(ctx, "skc_outline", err)
	}
	return jsonResult(hs)
}

func (s *Server) handleShow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(req)
	s.mu.Lock()
	defer s.mu.Unlock()
	sec, err := s.gateway.Show(ctx, stringArg(args, "skill"), stringArg(args, "section"))
	s.gateway.Warnings()
	if err != nil {
		return errorResult(ctx, "skc_show", err)
	}
	return mcp.NewToolResultText(sec.Content), nil
}

func (s *Server) handleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items, err := s.gateway.List(ctx, stringArg(arguments(req), "pattern"))
	if err != nil {
		return errorResult(ctx, "skc_list", err)
	}

	type itemOut struct {
		Name  string `json:"name"`
		Scope string `json:"scope"`
		Built bool   `json:"built"`
		Stale bool   `json:"stale"`
	}
	out := make([]itemOut, 0, len(items))
	for _, it := range items {
		out = append(out, itemOut{Name: it.Name, Scope: string(it.Scope), Built: it.Built(), Stale: it.Stale})
	}
	return jsonResult(out)
}

func (s *Server) handleOpen(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(req)
	s.mu.Lock()
	defer s.mu.Unlock()
	content, err := s.gateway.Open(ctx, stringArg(args, "skill"), stringArg(args, "path"))
	if err != nil {
		return errorResult(ctx, "skc_open", err)
	}
	return mcp.NewToolResultText(content), nil
}

func (s *Server) handleSources(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	files, err := s.gateway.Sources(ctx, stringArg(arguments(req), "skill"))
	if err != nil {
		return errorResult(ctx, "skc_sources", err)
	}
	return jsonResult(files)
}

func (s *Server) handleLint(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	src, err := resolver.New(s.cfg.Layout).Resolve(ctx, stringArg(arguments(req), "skill"), resolver.Options{})
	if err != nil {
		return errorResult(ctx, "skc_lint", err)
	}
	diags, err := lint.New(lint.DefaultRegistry()).Lint(ctx, src)
	if err != nil {
		return errorResult(ctx, "skc_lint", err)
	}
	if diags == nil {
		diags = []lint.Diagnostic{}
	}
	return jsonResult(diags)
}
