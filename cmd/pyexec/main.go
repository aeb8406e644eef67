package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/pyexec/internal/config"
	"github.com/michaelbrown/pyexec/internal/logger"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "1.0.0"

var configFlag string

var rootCmd = &cobra.Command{
	Use:   "pyexec",
	Short: "pyexec - sandboxed Python execution service",
	Long: `pyexec runs untrusted Python scripts inside nsjail and returns the value
their main() function produces.

Scripts must define a zero-argument main() whose return value is
JSON-serializable. Anything printed goes to stdout and is returned separately.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Config file (default: pyexec.yaml in ., $HOME/.pyexec, /etc/pyexec)")
	rootCmd.Version = version
}

// loadConfig reads configuration and initializes the global logger from it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := logger.Init(cfg.Log); err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	return cfg, nil
}

func main() {
	err := rootCmd.Execute()
	logger.Close()
	if err != nil {
		os.Exit(1)
	}
}
