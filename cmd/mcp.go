package cmd

import (
	"github.com/spf13/cobra"

	"github.com/jsperry/triage/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for AI assistant integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets an AI assistant drive triage natively: scope issues,
execute them, and watch sessions. Configure with:

  {
    "mcpServers": {
      "triage": { "command": "triage", "args": ["mcp"] }
    }
  }

Available tools: triage_scope_issue, triage_execute_issue,
triage_session_status, triage_poll_session, triage_list_issues,
triage_list_sessions`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}
		manager, err := getManager()
		if err != nil {
			return err
		}
		return mcp.NewServer(s, manager).ServeStdio(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
