// Pinger MCP server.
// Exposes pinger status and history tools over MCP stdio transport.
package main

import (
	"fmt"
	"os"

	mcptools "github.com/gateway-fm/pingthing/internal/mcp"
	"github.com/mark3labs/mcp-go/server"
)

func main() {
	pingerURL := os.Getenv("PINGER_URL")
	if pingerURL == "" {
		pingerURL = "http://localhost:9090"
	}

	s := server.NewMCPServer(
		"pingthing",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	client := mcptools.NewClient(pingerURL)
	mcptools.RegisterTools(s, client)

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}
