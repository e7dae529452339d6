// Package mcp implements the Model Context Protocol server for ichiba.
//
// The MCP server exposes the read and verification surface of the HTTP API
// as tools, resources and prompts, so MCP-compatible assistants can inspect
// the economy and audit its anchors. Nothing here mutates the ledger.
package mcp

import (
	"context"
	"log/slog"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/ichiba/internal/model"
	"github.com/ashita-ai/ichiba/internal/storage"
)

// Verifier is the engine surface the tools call.
type Verifier interface {
	VerifyEpoch(ctx context.Context, number int) (model.AnchorVerification, error)
	LedgerRoot(ctx context.Context) (model.LedgerRoot, error)
}

// Server wraps the MCP server with ichiba's read layer.
type Server struct {
	mcpServer *mcpserver.MCPServer
	store     storage.Store
	verifier  Verifier
	logger    *slog.Logger
}

// New creates and configures a new MCP server with all resources, tools and
// prompts.
func New(store storage.Store, verifier Verifier, logger *slog.Logger, version string) *Server {
	s := &Server{
		store:    store,
		verifier: verifier,
		logger:   logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"ichiba",
		version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithPromptCapabilities(true),
	)

	s.registerResources()
	s.registerTools()
	s.registerPrompts()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}
