package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/michaelbrown/pyexec/internal/executor"
)

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Interactively compose and run scripts in the sandbox",
	Long: `Start an interactive shell. Lines you type are collected into a script
buffer; /run executes the buffer in the sandbox.

Example session:
  py> def main():
  py>     return sum(range(10))
  py> /run`,
	RunE: runShell,
}

func init() {
	rootCmd.AddCommand(shellCmd)
}

type scriptRunner interface {
	Execute(ctx context.Context, script string) (*executor.Outcome, error)
}

// shell holds the script buffer between commands.
type shell struct {
	runner scriptRunner
	out    io.Writer
	lines  []string
}

func (s *shell) script() string {
	return strings.Join(s.lines, "\n")
}

// handle processes one input line and reports whether the shell should exit.
func (s *shell) handle(ctx context.Context, input string) bool {
	trimmed := strings.TrimSpace(input)
	if !strings.HasPrefix(trimmed, "/") {
		s.lines = append(s.lines, strings.TrimRight(input, "\r\n"))
		return false
	}

	fields := strings.Fields(trimmed)
	switch strings.ToLower(fields[0]) {
	case "/quit", "/exit", "/q":
		fmt.Fprintln(s.out, "Goodbye!")
		return true
	case "/run", "/r":
		s.run(ctx)
	case "/reset":
		s.lines = nil
		fmt.Fprintln(s.out, "Buffer cleared.")
	case "/show":
		if len(s.lines) == 0 {
			fmt.Fprintln(s.out, "(empty)")
		}
		for i, l := range s.lines {
			fmt.Fprintf(s.out, "\033[90m%3d│\033[0m %s\n", i+1, l)
		}
	case "/load":
		if len(fields) < 2 {
			fmt.Fprintln(s.out, "usage: /load <file>")
			break
		}
		data, err := os.ReadFile(filepath.Clean(fields[1]))
		if err != nil {
			fmt.Fprintf(s.out, "\033[31merror: %s\033[0m\n", err)
			break
		}
		s.lines = strings.Split(strings.TrimRight(string(data), "\n"), "\n")
		fmt.Fprintf(s.out, "Loaded %d lines.\n", len(s.lines))
	case "/help":
		fmt.Fprintln(s.out, "Commands:")
		fmt.Fprintln(s.out, "  /run         - Execute the buffer in the sandbox")
		fmt.Fprintln(s.out, "  /show        - Print the buffer")
		fmt.Fprintln(s.out, "  /reset       - Clear the buffer")
		fmt.Fprintln(s.out, "  /load <file> - Replace the buffer with a file")
		fmt.Fprintln(s.out, "  /quit        - Exit")
	default:
		fmt.Fprintf(s.out, "Unknown command: %s (try /help)\n", fields[0])
	}
	return false
}

func (s *shell) run(ctx context.Context) {
	if len(s.lines) == 0 {
		fmt.Fprintln(s.out, "Buffer is empty.")
		return
	}

	out, err := s.runner.Execute(ctx, s.script())
	if err != nil {
		var ve *executor.ValidationError
		if errors.As(err, &ve) {
			fmt.Fprintf(s.out, "\033[31mrejected: %s\033[0m\n", ve.Message)
		} else {
			fmt.Fprintf(s.out, "\033[31merror: %s\033[0m\n", err)
		}
		return
	}

	if out.Stdout != "" {
		for _, l := range strings.Split(out.Stdout, "\n") {
			fmt.Fprintf(s.out, "\033[90m│ %s\033[0m\n", l)
		}
	}
	if out.OK() {
		fmt.Fprintf(s.out, "\033[32m=> %s\033[0m  (%s)\n", out.Value, out.Duration.Round(1e6))
		return
	}
	fmt.Fprintf(s.out, "\033[31m%s: %s\033[0m\n", out.Kind, out.Message)
}

func runShell(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "\033[36mpy>\033[0m ",
		HistoryFile:     filepath.Join(os.TempDir(), "pyexec_history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("readline: %w", err)
	}
	defer rl.Close()

	fmt.Fprintf(rl.Stdout(), "pyexec shell - scripts run in %s\n", cfg.Sandbox.JailPath)
	fmt.Fprintf(rl.Stdout(), "Type /help for commands, /quit to exit\n\n")

	sh := &shell{runner: a.runner, out: rl.Stdout()}
	for {
		input, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				fmt.Fprintln(rl.Stdout(), "\nGoodbye!")
				return nil
			}
			return err
		}
		if sh.handle(context.Background(), input) {
			return nil
		}
	}
}
