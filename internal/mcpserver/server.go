// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes sync tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/cqsync/internal/apperr"
	"github.com/starford/cqsync/internal/render"
	"github.com/starford/cqsync/internal/syncservice"
)

// TemplateURI is the resource URI of the built-in document template.
const TemplateURI = "cqsync://default-template"

// Server wraps the MCP server with sync tools.
type Server struct {
	mcp *server.MCPServer
	svc *syncservice.Service
}

// New creates a new MCP server with all sync tools registered.
func New(svc *syncservice.Service) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"cqsync",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("sync_now",
		mcp.WithDescription("Start an incremental sync of the bookmark library in the background. "+
			"Fails if a sync is already running."),
	), s.syncNow)

	s.mcp.AddTool(mcp.NewTool("sync_status",
		mcp.WithDescription("Report whether a sync is running, the current watermark and how the last run ended."),
	), s.syncStatus)

	s.mcp.AddTool(mcp.NewTool("list_documents",
		mcp.WithDescription("List synced Markdown documents, newest first."),
		mcp.WithNumber("limit", mcp.Description("Maximum number of documents (default 50)")),
		mcp.WithNumber("offset", mcp.Description("Number of documents to skip")),
	), s.listDocuments)

	s.mcp.AddTool(mcp.NewTool("read_document",
		mcp.WithDescription("Read the full content of a synced Markdown document."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Vault-relative path (e.g. cangquyun/2024-10-01/title.md)")),
	), s.readDocument)

	s.mcp.AddResource(
		mcp.NewResource(TemplateURI, "Default Document Template",
			mcp.WithResourceDescription("Template used when no custom template is configured."),
			mcp.WithMIMEType("text/plain"),
		),
		s.readTemplateResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) syncNow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.svc.StartSync(ctx); err != nil {
		if errors.Is(err, apperr.ErrSyncInProgress) {
			return mcp.NewToolResultError("a sync is already in progress, please try again later"), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("sync started"), nil
}

func (s *Server) syncStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st, err := s.svc.Status(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(st, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) listDocuments(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 0)
	offset := req.GetInt("offset", 0)

	docs, total, err := s.svc.ListDocuments(ctx, limit, offset)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(docs) == 0 {
		return mcp.NewToolResultText("no documents synced yet"), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d of %d documents\n", len(docs), total)
	for _, d := range docs {
		b.WriteString(d.Path)
		if d.Title != "" {
			b.WriteString("\t")
			b.WriteString(d.Title)
		}
		b.WriteString("\n")
	}
	return mcp.NewToolResultText(strings.TrimRight(b.String(), "\n")), nil
}

func (s *Server) readDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	doc, err := s.svc.ReadDocument(ctx, path)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("not found: %s", path)), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(doc.Content), nil
}

func (s *Server) readTemplateResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      TemplateURI,
			MIMEType: "text/plain",
			Text:     render.DefaultTemplate,
		},
	}, nil
}
