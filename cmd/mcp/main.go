// Pactum MCP Server - Exposes escrow payment operations as MCP tools for LLMs
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/davigut/pactum/internal/mcpserver"
)

func main() {
	cfg := mcpserver.Config{
		APIURL: envOrDefault("PACTUM_API_URL", "http://localhost:8080"),
		APIKey: os.Getenv("PACTUM_API_KEY"),
		Email:  os.Getenv("PACTUM_EMAIL"),
	}

	if cfg.APIKey == "" {
		fmt.Fprintln(os.Stderr, "PACTUM_API_KEY is required")
		os.Exit(1)
	}
	if cfg.Email == "" {
		fmt.Fprintln(os.Stderr, "PACTUM_EMAIL is required")
		os.Exit(1)
	}

	s := mcpserver.NewMCPServer(cfg)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
