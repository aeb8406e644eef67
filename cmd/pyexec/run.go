package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/pyexec/internal/executor"
)

var runFormat string

var runCmd = &cobra.Command{
	Use:   "run <file|->",
	Short: "Execute one script in the sandbox and print the outcome",
	Long: `Execute a Python script through the same pipeline the server uses and print
the response body. Use - to read the script from stdin.

The command exits non-zero when the script did not produce a value.

Examples:
  pyexec run job.py
  echo 'def main(): return 42' | pyexec run -
  pyexec run job.py --format yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runFormat, "format", "json", "Output format: json or yaml")
	rootCmd.AddCommand(runCmd)
}

func readScript(name string, stdin io.Reader) (string, error) {
	var data []byte
	var err error
	if name == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(name)
	}
	if err != nil {
		return "", fmt.Errorf("reading script: %w", err)
	}
	return string(data), nil
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	script, err := readScript(args[0], cmd.InOrStdin())
	if err != nil {
		return err
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	out, err := a.runner.Execute(context.Background(), script)
	if err != nil {
		var ve *executor.ValidationError
		if errors.As(err, &ve) {
			return fmt.Errorf("invalid script: %s", ve.Message)
		}
		return err
	}

	if err := writeOutcome(cmd.OutOrStdout(), runFormat, out); err != nil {
		return err
	}
	if !out.OK() {
		return fmt.Errorf("execution failed: %s", out.Kind)
	}
	return nil
}
