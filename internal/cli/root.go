// Package cli implements the wppagent commands.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/matheus3301/wppagent/internal/config"
	"github.com/matheus3301/wppagent/internal/daemon"
)

// Version is set at build time with -ldflags "-X .../internal/cli.Version=...".
var Version = "dev"

var (
	envFile     string
	sessionFlag string
	storeFlag   string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:           "wppagent",
	Short:         "WhatsApp for AI agents",
	Long:          "Links a WhatsApp account, keeps an encrypted local copy of its conversations and exposes them to agents over MCP.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	RootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file to load (default: .env)")
	RootCmd.PersistentFlags().StringVarP(&sessionFlag, "session", "s", "", "session name (overrides WPP_SESSION)")
	RootCmd.PersistentFlags().StringVar(&storeFlag, "store-dir", "", "data directory (overrides WPP_STORE_DIR)")
}

// Execute runs the root command and reports errors on stderr.
func Execute() int {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, err
	}
	if sessionFlag != "" {
		cfg.Session = sessionFlag
	}
	if storeFlag != "" {
		cfg.StoreDir = storeFlag
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// run builds the daemon and blocks until a signal or an internal shutdown.
func run(p daemon.Params) error {
	app := fx.New(
		daemon.Module(p),
		fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: l.Named("fx")}
		}),
	)
	if err := app.Err(); err != nil {
		return err
	}
	app.Run()
	return nil
}

func stderrIfTTY() io.Writer {
	if term.IsTerminal(int(os.Stderr.Fd())) {
		return os.Stderr
	}
	return nil
}
