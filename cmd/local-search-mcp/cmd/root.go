// Package cmd provides the CLI commands for local-search-mcp.
package cmd

import (
	"github.com/spf13/cobra"

	"local-search-mcp/pkg/version"
)

// NewRootCmd creates the root command for the local-search-mcp CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "local-search-mcp",
		Short: "Local semantic document search, exposed over MCP",
		Long: `local-search-mcp indexes local files, fetched repositories, and
downloaded documents into a vector store, and exposes semantic search over
them as a Model Context Protocol server.

Running it with no subcommand is equivalent to 'local-search-mcp serve':
it starts the MCP server on stdio immediately, since that's the only
transport an MCP client drives it over.`,
		Version: version.Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return cmd.Help()
			}
			return runServe(cmd.Context(), "stdio")
		},
	}

	cmd.SetVersionTemplate("local-search-mcp version {{.Version}}\n")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
