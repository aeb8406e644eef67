package main

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/michaelbrown/pyexec/internal/executor"
)

// outcomeView is the body /execute would return for out.
func outcomeView(out *executor.Outcome) (map[string]any, error) {
	view := map[string]any{
		"stdout": out.Stdout,
		"run_id": out.RunID,
	}
	if !out.OK() {
		view["error"] = out.Message
		view["type"] = string(out.Kind)
		return view, nil
	}

	var value any
	if err := json.Unmarshal(out.Value, &value); err != nil {
		return nil, fmt.Errorf("decoding result: %w", err)
	}
	view["result"] = value
	return view, nil
}

// writeOutcome renders out as json or yaml.
func writeOutcome(w io.Writer, format string, out *executor.Outcome) error {
	view, err := outcomeView(out)
	if err != nil {
		return err
	}
	return writeFormatted(w, format, view)
}

func writeFormatted(w io.Writer, format string, v any) error {
	switch format {
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case "json", "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	default:
		return fmt.Errorf("unknown format %q (json or yaml)", format)
	}
}
