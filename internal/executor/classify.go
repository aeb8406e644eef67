package executor

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/michaelbrown/pyexec/internal/protocol"
	"github.com/michaelbrown/pyexec/internal/sandbox"
)

// Client-facing messages.
const (
	MsgUnavailable = "Sandbox environment not available"
	MsgInternal    = "Internal execution error"
	MsgNoResult    = "Script did not return a value or main() was not called"
)

// maxErrorOutput caps how much raw control output is echoed in a message.
const maxErrorOutput = 4096

// Classify maps the raw result of a sandbox run onto exactly one outcome.
// res may be nil when runErr is set. The first matching rule wins.
func Classify(res *sandbox.RunResult, runErr error, timeLimit time.Duration) *Outcome {
	out := &Outcome{}
	if res != nil {
		out.ExitCode = res.ExitCode
		out.Duration = res.Duration
		out.Truncated = res.StdoutTruncated || res.ControlTruncated
	}

	switch {
	case errors.Is(runErr, sandbox.ErrTimeout):
		out.Kind = KindTimeout
		out.Message = timeoutMessage(timeLimit)
		return out
	case errors.Is(runErr, sandbox.ErrUnavailable):
		out.Kind = KindSandboxUnavailable
		out.Message = MsgUnavailable
		return out
	case runErr != nil || res == nil:
		out.Kind = KindInternalError
		out.Message = MsgInternal
		return out
	}

	out.Stdout = strings.TrimSpace(string(res.Stdout))
	parsed := protocol.Parse(res.Control)

	switch parsed.Kind {
	case protocol.KindError:
		out.Kind = KindApplicationError
		out.Message = "Script execution error: " + parsed.Error
	case protocol.KindResult:
		out.Kind = KindSuccess
		out.Value = parsed.Value
	case protocol.KindUndecodable:
		out.Kind = KindApplicationError
		out.Message = fmt.Sprintf("main() must return a JSON-serializable object. Parse error: %v", parsed.DecodeErr)
	default:
		if timeLimit > 0 && res.Duration >= timeLimit {
			// nsjail's own -t or the CPU rlimit stopped the child before it reported.
			out.Kind = KindTimeout
			out.Message = timeoutMessage(timeLimit)
			out.Stdout = ""
			return out
		}
		out.Kind = KindApplicationError
		out.Message = MsgNoResult
		if control := strings.TrimSpace(string(res.Control)); control != "" {
			out.Message += ". Error output: " + clip(control, maxErrorOutput)
		}
	}
	return out
}

func timeoutMessage(limit time.Duration) string {
	return fmt.Sprintf("Script execution timeout (maximum %d seconds)", ceilSeconds(limit))
}

// clip shortens s to at most n bytes plus "..." without splitting a rune.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

func ceilSeconds(d time.Duration) int {
	secs := int(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return secs
}
