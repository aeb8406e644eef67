package executor

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// DefaultMaxScriptBytes is the script size limit when none is configured.
const DefaultMaxScriptBytes = 100_000

// Validation rejection reasons, used as metric labels.
const (
	ReasonEmpty       = "empty"
	ReasonTooLarge    = "too_large"
	ReasonInvalidUTF8 = "invalid_utf8"
	ReasonMissingMain = "missing_main"
	ReasonNotString   = "not_string"
)

var mainPattern = regexp.MustCompile(`\bdef\s+main\s*\(\s*\)`)

// Patterns logged as suspicious. They are a hint for operators, not a control.
var advisoryPatterns = []struct {
	re   *regexp.Regexp
	note string
}{
	{regexp.MustCompile(`__import__\s*\(\s*['"]os['"]`), "suspicious import pattern"},
	{regexp.MustCompile(`\beval\s*\(`), "eval() usage"},
	{regexp.MustCompile(`\bexec\s*\(`), "exec() usage"},
}

// ValidationError rejects a script before any resource is allocated.
type ValidationError struct {
	Reason  string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// NotStringError is the rejection for a request whose script field is not text.
func NotStringError() *ValidationError {
	return &ValidationError{Reason: ReasonNotString, Message: "Script must be a non-empty string"}
}

// Validate checks script against the size limit and shape rules. Size is
// checked first so oversized input is rejected regardless of content.
func Validate(script string, maxBytes int) error {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxScriptBytes
	}
	if len(script) > maxBytes {
		return &ValidationError{
			Reason:  ReasonTooLarge,
			Message: fmt.Sprintf("Script too large (max %s)", formatBytes(maxBytes)),
		}
	}
	if strings.TrimSpace(script) == "" {
		return &ValidationError{Reason: ReasonEmpty, Message: "Script must be a non-empty string"}
	}
	if !utf8.ValidString(script) {
		return &ValidationError{Reason: ReasonInvalidUTF8, Message: "Script must be valid UTF-8 text"}
	}
	if !mainPattern.MatchString(script) {
		return &ValidationError{Reason: ReasonMissingMain, Message: "Script must contain a 'def main()' function"}
	}
	return nil
}

// Advisories returns a note for every suspicious pattern found in script.
func Advisories(script string) []string {
	var notes []string
	for _, p := range advisoryPatterns {
		if p.re.MatchString(script) {
			notes = append(notes, p.note)
		}
	}
	return notes
}

func formatBytes(n int) string {
	if n >= 1000 && n%1000 == 0 {
		return fmt.Sprintf("%dKB", n/1000)
	}
	return fmt.Sprintf("%d bytes", n)
}
