// Package protocol defines the sentinel grammar a sandboxed script uses on its
// control channel (stderr) and parses captured control output back into a
// result value, an error description, or nothing.
package protocol

import (
	"bytes"
	"encoding/json"
)

// Sentinels written by the driver epilogue. Each appears on its own line,
// except ErrorPrefix which is followed by "<Type>: <message>" on the same line.
const (
	ResultStart = "__RESULT_START__"
	ResultEnd   = "__RESULT_END__"
	ErrorPrefix = "__ERROR__:"
)

// Kind classifies what was found on the control channel.
type Kind int

const (
	// KindNone means no error sentinel and no complete result pair.
	KindNone Kind = iota
	// KindError means the error sentinel was present.
	KindError
	// KindResult means a result pair was present and its payload is valid JSON.
	KindResult
	// KindUndecodable means a result pair was present but its payload is not JSON.
	KindUndecodable
)

func (k Kind) String() string {
	switch k {
	case KindError:
		return "error"
	case KindResult:
		return "result"
	case KindUndecodable:
		return "undecodable"
	default:
		return "none"
	}
}

// Parsed is the outcome of scanning a control stream.
type Parsed struct {
	Kind Kind

	// Error holds the text after ErrorPrefix when Kind is KindError.
	Error string

	// Value holds the compacted JSON payload when Kind is KindResult.
	Value json.RawMessage

	// DecodeErr holds the JSON decode failure when Kind is KindUndecodable.
	DecodeErr error
}

// Parse scans control output. The error sentinel wins over result markers,
// so a driver that fails after printing ResultStart is still reported as an error.
func Parse(control []byte) Parsed {
	if msg, ok := findError(control); ok {
		return Parsed{Kind: KindError, Error: msg}
	}

	candidate, ok := findResult(control)
	if !ok {
		return Parsed{Kind: KindNone}
	}

	var v any
	if err := json.Unmarshal(candidate, &v); err != nil {
		return Parsed{Kind: KindUndecodable, DecodeErr: err}
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, candidate); err != nil {
		return Parsed{Kind: KindUndecodable, DecodeErr: err}
	}
	return Parsed{Kind: KindResult, Value: json.RawMessage(compact.Bytes())}
}

func findError(control []byte) (string, bool) {
	idx := bytes.Index(control, []byte(ErrorPrefix))
	if idx < 0 {
		return "", false
	}
	rest := control[idx+len(ErrorPrefix):]
	if nl := bytes.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[:nl]
	}
	return string(bytes.TrimSpace(rest)), true
}

func findResult(control []byte) ([]byte, bool) {
	start := bytes.Index(control, []byte(ResultStart))
	if start < 0 {
		return nil, false
	}
	body := control[start+len(ResultStart):]
	end := bytes.Index(body, []byte(ResultEnd))
	if end < 0 {
		return nil, false
	}
	return bytes.TrimSpace(body[:end]), true
}
