package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all Pactum tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("pactum", "1.0.0")
	client := NewPactumClient(cfg)
	h := NewHandlers(client)

	s.AddTool(ToolCreatePayment, h.HandleCreatePayment)
	s.AddTool(ToolGetPaymentStatus, h.HandleGetPaymentStatus)
	s.AddTool(ToolApprovePayment, h.HandleApprovePayment)
	s.AddTool(ToolOpenDispute, h.HandleOpenDispute)
	s.AddTool(ToolGetYield, h.HandleGetYield)
	s.AddTool(ToolGetReleaseRequest, h.HandleGetReleaseRequest)
	s.AddTool(ToolSignRelease, h.HandleSignRelease)

	return s
}
