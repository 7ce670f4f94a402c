package mcp

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jcdickinson/ferrisindex/internal/daemon"
	"github.com/jcdickinson/ferrisindex/internal/rpc"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

//go:embed instructions.md
var instructions string

const uriScheme = "rsindex://"

// Backend is the daemon API the MCP tools are served from.
type Backend interface {
	ListCrates(ctx context.Context) (*rpc.ListCratesResponse, error)
	Lookup(ctx context.Context, req rpc.LookupRequest) (*rpc.LookupResponse, error)
	GetCrate(ctx context.Context, req rpc.GetCrateRequest) (*rpc.GetCrateResponse, error)
	Load(ctx context.Context, req rpc.LoadRequest) (*rpc.LoadResponse, error)
}

type Server struct {
	mcpServer *server.MCPServer
	backend   Backend
}

// NewServer connects to the daemon on socketPath, spawning it with opts if
// needed.
func NewServer(socketPath string, opts daemon.SpawnOptions) (*Server, error) {
	client, err := daemon.ConnectOrSpawn(socketPath, opts)
	if err != nil {
		return nil, fmt.Errorf("connecting to daemon: %w", err)
	}
	return newServer(client), nil
}

func newServer(backend Backend) *Server {
	s := &Server{backend: backend}

	mcpServer := server.NewMCPServer(
		"ferrisindex",
		"0.1.0",
		server.WithInstructions(instructions),
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(true, false),
	)

	s.registerTools(mcpServer)
	s.registerResources(mcpServer)

	s.mcpServer = mcpServer
	return s
}

func (s *Server) registerTools(mcpServer *server.MCPServer) {
	mcpServer.AddTool(
		mcp.NewTool("list_crates",
			mcp.WithDescription("List the crates in the loaded search index with their doc summary and item counts by kind."),
		),
		s.handleListCrates,
	)

	mcpServer.AddTool(
		mcp.NewTool("lookup_items",
			mcp.WithDescription("Find items whose name or fully qualified path contains the query (case-insensitive). Returns path, kind, rendered signature and doc summary. Results are in index order."),
			mcp.WithString("query",
				mcp.Description("Substring of the item name or path, e.g. \"to_png\" or \"QRCode::\""),
			),
			mcp.WithArray("crates",
				mcp.Description("Optional list of crate names to search within"),
				mcp.Items(map[string]interface{}{"type": "string"}),
			),
			mcp.WithArray("kinds",
				mcp.Description("Optional item kinds, e.g. \"struct\", \"method\", \"fn\", \"macro\""),
				mcp.Items(map[string]interface{}{"type": "string"}),
			),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of results (default 20)"),
			),
		),
		s.handleLookupItems,
	)

	mcpServer.AddTool(
		mcp.NewTool("load_index",
			mcp.WithDescription("Load search-index.js files or URLs and merge them over the loaded crates. Later crates replace earlier crates of the same name."),
			mcp.WithArray("sources",
				mcp.Description("Paths or http(s) URLs of search-index.js files (optionally .zst); \"embedded\" names the bundled index"),
				mcp.Items(map[string]interface{}{"type": "string"}),
				mcp.Required(),
			),
			mcp.WithBoolean("refresh",
				mcp.Description("Re-fetch URLs instead of using cached copies"),
			),
		),
		s.handleLoadIndex,
	)
}

func (s *Server) registerResources(mcpServer *server.MCPServer) {
	mcpServer.AddResourceTemplate(
		mcp.NewResourceTemplate(
			uriScheme+"{crate}",
			"Rust crate index page",
			mcp.WithTemplateDescription("Every item of a crate grouped by kind, with signatures and doc summaries."),
			mcp.WithTemplateMIMEType("text/markdown"),
		),
		s.handleReadResource,
	)
}

// stringList decodes an optional array argument.
func stringList(args map[string]any, key string) ([]string, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return nil, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var out []string
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("invalid %s parameter: %w", key, err)
	}
	return out, nil
}

func jsonResult(v any) *mcp.CallToolResult {
	resultJSON, _ := json.MarshalIndent(v, "", "  ")
	return mcp.NewToolResultText(string(resultJSON))
}

func (s *Server) handleListCrates(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resp, err := s.backend.ListCrates(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("listing crates failed: %v", err)), nil
	}
	return jsonResult(resp.Crates), nil
}

func (s *Server) handleLookupItems(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	var lookupReq rpc.LookupRequest
	lookupReq.Query, _ = args["query"].(string)

	var err error
	if lookupReq.Crates, err = stringList(args, "crates"); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if lookupReq.Kinds, err = stringList(args, "kinds"); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if limit, ok := args["limit"].(float64); ok {
		lookupReq.Limit = int(limit)
	}

	resp, err := s.backend.Lookup(ctx, lookupReq)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("lookup failed: %v", err)), nil
	}
	return jsonResult(resp.Results), nil
}

func (s *Server) handleLoadIndex(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	sources, err := stringList(args, "sources")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(sources) == 0 {
		return mcp.NewToolResultError("missing required parameter: sources"), nil
	}
	refresh, _ := args["refresh"].(bool)

	resp, err := s.backend.Load(ctx, rpc.LoadRequest{Sources: sources, Refresh: refresh})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("load failed: %v", err)), nil
	}
	return jsonResult(resp), nil
}

func (s *Server) handleReadResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uri := req.Params.URI
	crate := strings.TrimSuffix(strings.TrimPrefix(uri, uriScheme), "/")
	if crate == "" || crate == uri || strings.Contains(crate, "/") {
		return nil, fmt.Errorf("invalid resource URI: %s", uri)
	}

	resp, err := s.backend.GetCrate(ctx, rpc.GetCrateRequest{Crate: crate})
	if err != nil {
		return nil, fmt.Errorf("getting crate: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "text/markdown",
			Text:     resp.Content,
		},
	}, nil
}

func (s *Server) Run() error {
	return server.ServeStdio(s.mcpServer)
}
