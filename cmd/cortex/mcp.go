package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cortex-sre/cortex/internal/adapters/mcp"
)

// mcpCmd represents the mcp command
var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the Model Context Protocol (MCP) server",
	Long: `Starts Cortex as an MCP Server so AI agents can run queries and inspect
workflow trees as tools.

Supported Transports:
- stdio (default): Uses Standard Input/Output. Ideal for local process integration.
- sse: Uses Server-Sent Events over HTTP. Ideal for remote agents or debuggers.`,
	Run: func(cmd *cobra.Command, args []string) {
		transport, _ := cmd.Flags().GetString("transport")
		port, _ := cmd.Flags().GetInt("port")

		cfg, err := loadConfig(cmd)
		if err != nil {
			fmt.Printf("Error loading config: %v\n", err)
			os.Exit(1)
		}

		a, err := buildApp(cfg)
		if err != nil {
			fmt.Printf("Error initializing cortex: %v\n", err)
			os.Exit(1)
		}

		srv := mcp.NewServer(a.registry, Version, mcp.WithLogger(a.logger))

		switch transport {
		case "stdio":
			// Logs must not corrupt JSON-RPC on stdout.
			log.SetOutput(os.Stderr)
			a.logger.Info("starting MCP server (stdio)")
			if err := srv.ServeStdio(); err != nil {
				a.logger.Error("MCP server execution failed", "err", err)
				os.Exit(1)
			}
		case "sse":
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := srv.ServeSSE(ctx, port); err != nil {
				a.logger.Error("MCP server execution failed", "err", err)
				os.Exit(1)
			}
		default:
			fmt.Printf("Unknown transport %q (want stdio or sse)\n", transport)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().String("transport", "stdio", "Transport to use: stdio or sse")
	mcpCmd.Flags().Int("port", 8765, "Port for the SSE transport")
}
