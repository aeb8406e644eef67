// Command code-runner exposes the sandboxed Python executor as an MCP tool
// server over stdio.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/michaelbrown/pyexec/internal/config"
	"github.com/michaelbrown/pyexec/internal/executor"
	"github.com/michaelbrown/pyexec/internal/logger"
	"github.com/michaelbrown/pyexec/internal/sandbox"
)

const version = "1.0.0"

type scriptRunner interface {
	Execute(ctx context.Context, script string) (*executor.Outcome, error)
}

var configPath string

var rootCmd = &cobra.Command{
	Use:          "code-runner",
	Short:        "Serve the python_execute MCP tool over stdio",
	Version:      version,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(configPath)
	},
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "Config file (default: pyexec.yaml in ., $HOME/.pyexec, /etc/pyexec)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	// stdout carries the MCP stream; logs go to stderr.
	if err := logger.Init(cfg.Log); err != nil {
		return err
	}
	defer logger.Close()

	policy, err := cfg.Policy()
	if err != nil {
		return err
	}
	jail, err := sandbox.NewNsJail(policy)
	if err != nil {
		return err
	}

	runner := executor.New(jail, executor.Options{
		TimeLimit:      policy.TimeLimit,
		MaxScriptBytes: cfg.Executor.MaxScriptBytes,
		MaxConcurrent:  cfg.Executor.MaxConcurrent,
		WorkRoot:       cfg.Executor.WorkRoot,
		Logger:         logger.Get(),
	})

	return server.ServeStdio(newMCPServer(runner, policy.TimeLimit.String()))
}

func newMCPServer(runner scriptRunner, limit string) *server.MCPServer {
	s := server.NewMCPServer("pyexec-code-runner", version)

	s.AddTool(mcp.Tool{
		Name: "python_execute",
		Description: fmt.Sprintf("Run a Python script in an nsjail sandbox. The script must define main(); "+
			"its JSON-serializable return value is the result. Runs are limited to %s.", limit),
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"script": map[string]any{
					"type":        "string",
					"description": "Python source defining a zero-argument main() function",
				},
			},
			Required: []string{"script"},
		},
	}, executeHandler(runner))

	return s
}

func executeHandler(runner scriptRunner) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := request.Params.Arguments.(map[string]any)
		if args == nil {
			return errResult("error: invalid arguments"), nil
		}
		script, ok := args["script"].(string)
		if !ok {
			return errResult("error: 'script' must be a string"), nil
		}

		out, err := runner.Execute(ctx, script)
		if err != nil {
			var ve *executor.ValidationError
			switch {
			case errors.As(err, &ve):
				return errResult("error: " + ve.Message), nil
			case errors.Is(err, executor.ErrAtCapacity):
				return errResult("error: too many concurrent executions, retry later"), nil
			default:
				return errResult("error: " + executor.MsgInternal), nil
			}
		}

		if !out.OK() {
			text := fmt.Sprintf("%s: %s", out.Kind, out.Message)
			if out.Stdout != "" {
				text += "\nstdout:\n" + out.Stdout
			}
			return errResult(text), nil
		}

		body, err := json.Marshal(map[string]any{
			"result": out.Value,
			"stdout": out.Stdout,
			"run_id": out.RunID,
		})
		if err != nil {
			return errResult("error: " + executor.MsgInternal), nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(body)}},
		}, nil
	}
}

func errResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
		IsError: true,
	}
}
