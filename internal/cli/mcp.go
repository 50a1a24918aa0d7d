package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/matheus3301/wppagent/internal/daemon"
)

func init() {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Run the daemon and speak MCP on stdin/stdout",
		Long:  "Runs the daemon as an MCP stdio server. Logs go only to the session log file; stdout carries protocol traffic.",
		Args:  cobra.NoArgs,
		RunE:  runMCP,
	}

	RootCmd.AddCommand(cmd)
}

func runMCP(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return run(daemon.Params{
		Config:  cfg,
		Mode:    daemon.ModeMCP,
		Version: Version,
		In:      os.Stdin,
		Out:     os.Stdout,
		QR:      stderrIfTTY(),
	})
}
