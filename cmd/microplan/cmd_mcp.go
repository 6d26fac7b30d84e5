package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ajitpratap0/microplan/internal/dashboard"
	microplanmcp "github.com/ajitpratap0/microplan/internal/mcp"
	"github.com/ajitpratap0/microplan/internal/registry"
)

func mcpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP (Model Context Protocol) server over stdio",
		Long: `Starts an MCP JSON-RPC 2.0 server that reads from stdin and writes to stdout.
All diagnostic logs go to stderr so that stdout remains exclusively MCP protocol traffic.

Tools exposed:
  dashboard         summarise a ward for supervisors
  classify_hotspot  apply the programme rules to a hotspot without storing it
  generate_uin      draw a UIN that is not yet registered
  assess_risk       derive and summarise an individual risk level

If the record store is unavailable at startup the server still starts;
dashboard and generate_uin calls will return MCP error responses.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := newLogger()
			ctx := cmd.Context()
			cls := newClassifier(logger)

			var (
				dash *dashboard.Builder
				reg  *registry.Registry
			)
			st, storeErr := newStore(ctx, logger)
			if storeErr != nil {
				// Tool calls will return per-call errors rather than crashing.
				logger.Error("mcp: failed to connect to store; tool calls requiring storage will fail",
					"error", storeErr)
			} else {
				defer func() { _ = st.Close() }()
				dash = dashboard.New(st, cls, cfg.Planning.StockLowRatio, logger)
				reg = registry.New(st, newUINGenerator(logger), logger)
			}

			rec, err := newRecommender(ctx, logger)
			if err != nil {
				logger.Error("mcp: text generation unavailable; assess_risk returns levels only", "error", err)
			}

			srv := microplanmcp.NewServer(dash, cls, reg, rec, logger)

			// Use a standard log.Logger pointing at stderr for the mcp-go error logger.
			errLogger := log.New(os.Stderr, "mcp: ", log.LstdFlags)

			logger.Info("mcp: microplan MCP server starting", "transport", "stdio")

			return mcpserver.ServeStdio(
				srv.MCPServer(),
				mcpserver.WithErrorLogger(errLogger),
			)
		},
	}

	return cmd
}
