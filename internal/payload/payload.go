// Package payload turns a user script into the artifact the sandbox executes:
// the script followed by a driver epilogue that calls main() and reports the
// result on the control channel.
package payload

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/michaelbrown/pyexec/internal/protocol"
)

// ScriptName is the file name of the artifact inside its directory.
const ScriptName = "main.py"

// Driver-local names carry a prefix so they cannot shadow user globals.
var epilogue = strings.Join([]string{
	"if __name__ == '__main__':",
	"    import json as _pyexec_json",
	"    import sys as _pyexec_sys",
	"    try:",
	"        _pyexec_result = main()",
	fmt.Sprintf("        print(%q, file=_pyexec_sys.stderr)", protocol.ResultStart),
	"        print(_pyexec_json.dumps(_pyexec_result), file=_pyexec_sys.stderr)",
	fmt.Sprintf("        print(%q, file=_pyexec_sys.stderr)", protocol.ResultEnd),
	"    except Exception as _pyexec_exc:",
	"        _pyexec_msg = str(_pyexec_exc).replace('\\r', ' ').replace('\\n', ' ')",
	fmt.Sprintf("        print(%q + type(_pyexec_exc).__name__ + ': ' + _pyexec_msg, file=_pyexec_sys.stderr)", protocol.ErrorPrefix),
	"        _pyexec_sys.stderr.flush()",
	"        _pyexec_sys.exit(1)",
	"",
}, "\n")

// Epilogue returns the driver block appended after user code.
func Epilogue() string {
	return epilogue
}

// Assemble returns the exact bytes of the execution artifact.
func Assemble(script string) []byte {
	var b strings.Builder
	b.Grow(len(script) + len(epilogue) + 2)
	b.WriteString(script)
	b.WriteString("\n\n")
	b.WriteString(epilogue)
	return []byte(b.String())
}

// Artifact is an assembled script materialized in its own directory. The
// directory is what gets mounted into the sandbox, so no other request's
// artifact is visible to the child.
type Artifact struct {
	Dir  string
	Path string

	released bool
}

// Materialize writes the assembled script into a fresh directory under root.
// An empty root means os.TempDir().
func Materialize(root, script string) (*Artifact, error) {
	dir, err := os.MkdirTemp(root, "pyexec-*")
	if err != nil {
		return nil, fmt.Errorf("creating artifact dir: %w", err)
	}

	// The jailed interpreter runs unprivileged and must be able to traverse and read.
	if err := os.Chmod(dir, 0o755); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("chmod artifact dir: %w", err)
	}

	path := filepath.Join(dir, ScriptName)
	if err := os.WriteFile(path, Assemble(script), 0o644); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("writing artifact: %w", err)
	}

	return &Artifact{Dir: dir, Path: path}, nil
}

// Release deletes the artifact directory. Calling it again is a no-op.
func (a *Artifact) Release() error {
	if a == nil || a.released {
		return nil
	}
	a.released = true
	if err := os.RemoveAll(a.Dir); err != nil {
		return fmt.Errorf("removing artifact dir %s: %w", a.Dir, err)
	}
	return nil
}
