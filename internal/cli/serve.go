package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/matheus3301/wppagent/internal/daemon"
)

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon with the local HTTP status server",
		Long: "Connects the session, keeps the local store in sync and serves /healthz, /status, /qr.png and /metrics.\n" +
			"Pairing codes are printed to the terminal when the session is not linked yet.",
		Args: cobra.NoArgs,
		RunE: runServe,
	}

	RootCmd.AddCommand(cmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return run(daemon.Params{
		Config:  cfg,
		Mode:    daemon.ModeServe,
		Version: Version,
		QR:      os.Stdout,
	})
}
