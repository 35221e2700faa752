package main

import (
	fieldsyncmcp "github.com/hyperengineering/fieldsync/mcp"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP server for agent integration",
	Long: `Start a Model Context Protocol (MCP) server over stdio, exposing the
fieldsync_save, fieldsync_list, fieldsync_delete, fieldsync_sync and
fieldsync_status tools.

Example client configuration:

  {
    "mcpServers": {
      "fieldsync": {
        "command": "fieldsync",
        "args": ["mcp"],
        "env": {
          "FIELDSYNC_REMOTE_URL": "https://jobs.example.com"
        }
      }
    }
  }`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, args []string) error {
	client, _, err := openClient()
	if err != nil {
		return err
	}
	defer client.Close()

	return fieldsyncmcp.NewServer(client, version).Run()
}
