// Command notifier-stub is a stdio MCP server exposing the Water Bar email
// tool. It validates and logs each email instead of sending it.
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"waterbar/internal/constants"
	"waterbar/internal/logger"
)

func main() {
	var (
		flow     string
		logLevel string
	)

	rootCmd := &cobra.Command{
		Use:   "notifier-stub",
		Short: "Local stand-in for the Water Bar email notifier",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := logger.New(logLevel, "console")
			if err != nil {
				return fmt.Errorf("failed to init logger: %w", err)
			}
			defer log.Sync()

			s := server.NewMCPServer(
				"waterbar-notifier-stub",
				constants.ServiceVersion,
				server.WithToolCapabilities(false),
				server.WithRecovery(),
			)

			tool := NewEmailTool(flow, log)
			s.AddTool(tool.Definition(), tool.Handle)

			log.Infow("Notifier stub serving on stdio", "tool", constants.DefaultToolName, "flow", flow)
			return server.ServeStdio(s)
		},
	}

	rootCmd.Flags().StringVar(&flow, "flow", constants.DefaultFlow, "Flow accepted by the email tool")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
