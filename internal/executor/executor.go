// Package executor runs one script end to end: validate, assemble the
// artifact, launch it in the sandbox, classify what came back.
package executor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/michaelbrown/pyexec/internal/observability"
	"github.com/michaelbrown/pyexec/internal/payload"
	"github.com/michaelbrown/pyexec/internal/sandbox"
	"github.com/michaelbrown/pyexec/internal/storage"
)

// ErrAtCapacity is returned when every execution slot is taken.
var ErrAtCapacity = errors.New("executor at capacity")

const recordTimeout = 5 * time.Second

// Options configures an Executor. Zero values pick defaults.
type Options struct {
	// TimeLimit is reported in timeout messages; it should match the sandbox policy.
	TimeLimit time.Duration

	MaxScriptBytes int

	// MaxConcurrent bounds simultaneous sandboxed children. 0 means unbounded.
	MaxConcurrent int64

	// WorkRoot is where artifact directories are created. Empty means os.TempDir().
	WorkRoot string

	// Store, when set, receives metadata for every run.
	Store storage.Store

	Logger *zerolog.Logger
}

// Executor drives scripts through the sandbox. It is safe for concurrent use;
// every call gets its own artifact and child process.
type Executor struct {
	sandbox sandbox.Sandbox
	opts    Options
	sem     *semaphore.Weighted
	log     zerolog.Logger
}

// New returns an Executor launching children through sb.
func New(sb sandbox.Sandbox, opts Options) *Executor {
	if opts.TimeLimit <= 0 {
		opts.TimeLimit = sandbox.DefaultPolicy().TimeLimit
	}
	if opts.MaxScriptBytes <= 0 {
		opts.MaxScriptBytes = DefaultMaxScriptBytes
	}

	e := &Executor{sandbox: sb, opts: opts, log: zerolog.Nop()}
	if opts.Logger != nil {
		e.log = opts.Logger.With().Str("component", "executor").Logger()
	}
	if opts.MaxConcurrent > 0 {
		e.sem = semaphore.NewWeighted(opts.MaxConcurrent)
	}
	return e
}

// MaxScriptBytes returns the effective script size limit.
func (e *Executor) MaxScriptBytes() int {
	return e.opts.MaxScriptBytes
}

// Check reports whether the sandbox can be launched.
func (e *Executor) Check(ctx context.Context) error {
	return e.sandbox.Check(ctx)
}

// Execute validates and runs script. The returned error is non-nil only when
// the script was refused before any resource was allocated: a
// *ValidationError or ErrAtCapacity. Every other failure is an Outcome.
func (e *Executor) Execute(ctx context.Context, script string) (out *Outcome, err error) {
	if err := Validate(script, e.opts.MaxScriptBytes); err != nil {
		e.Reject(err)
		return nil, err
	}
	for _, note := range Advisories(script) {
		e.log.Warn().Str("pattern", note).Msg("potentially unsafe script")
	}

	if e.sem != nil {
		if !e.sem.TryAcquire(1) {
			e.log.Warn().Msg("execution refused, at capacity")
			return nil, ErrAtCapacity
		}
		defer e.sem.Release(1)
	}

	runID := uuid.NewString()
	start := time.Now()
	log := e.log.With().Str("run_id", runID).Logger()

	observability.ExecutionsInflight.Inc()
	defer observability.ExecutionsInflight.Dec()

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("panic", fmt.Sprint(r)).
				Bytes("stack", debug.Stack()).
				Msg("execution pipeline panicked")
			out = &Outcome{Kind: KindInternalError, Message: MsgInternal}
			err = nil
		}
		out.RunID = runID
		if out.Duration == 0 {
			out.Duration = time.Since(start)
		}
		e.finish(ctx, log, out, len(script))
	}()

	return e.run(ctx, log, script), nil
}

// Reject records a refusal that happened before launch, such as a malformed
// request caught by a caller.
func (e *Executor) Reject(err error) {
	reason := "other"
	var ve *ValidationError
	if errors.As(err, &ve) {
		reason = ve.Reason
	}
	observability.ValidationRejectionsTotal.WithLabelValues(reason).Inc()
	e.log.Warn().Str("reason", reason).Err(err).Msg("script rejected")
}

func (e *Executor) run(ctx context.Context, log zerolog.Logger, script string) *Outcome {
	art, err := payload.Materialize(e.opts.WorkRoot, script)
	if err != nil {
		log.Error().Err(err).Msg("materializing artifact")
		return &Outcome{Kind: KindInternalError, Message: MsgInternal}
	}
	defer func() {
		if err := art.Release(); err != nil {
			log.Warn().Err(err).Msg("releasing artifact")
		}
	}()

	log.Debug().Str("artifact", art.Path).Msg("launching sandbox")
	res, runErr := e.sandbox.Run(ctx, art.Path)

	switch {
	case runErr == nil:
	case errors.Is(runErr, sandbox.ErrTimeout):
		ev := log.Warn()
		if res != nil {
			ev = ev.Int("partial_stdout_bytes", len(res.Stdout)).Int("pid", res.Pid)
		}
		ev.Msg("outer deadline exceeded, sandbox killed")
	case errors.Is(runErr, sandbox.ErrUnavailable):
		log.Error().Err(runErr).Msg("sandbox unavailable")
	default:
		log.Error().Err(runErr).Msg("sandbox run failed")
	}

	out := Classify(res, runErr, e.opts.TimeLimit)
	if out.Truncated {
		log.Warn().Msg("output exceeded capture limit and was truncated")
	}
	return out
}

func (e *Executor) finish(ctx context.Context, log zerolog.Logger, out *Outcome, scriptBytes int) {
	kind := string(out.Kind)
	observability.ExecutionsTotal.WithLabelValues(kind).Inc()
	observability.ExecutionDuration.WithLabelValues(kind).Observe(out.Duration.Seconds())

	ev := log.Info()
	if out.Kind != KindSuccess {
		ev = log.Warn()
	}
	ev.Str("outcome", kind).
		Int("exit_code", out.ExitCode).
		Dur("duration", out.Duration).
		Int("stdout_bytes", len(out.Stdout)).
		Str("message", out.Message).
		Msg("execution finished")

	if e.opts.Store == nil {
		return
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	err := e.opts.Store.RecordRun(rctx, &storage.Run{
		ID:          out.RunID,
		Outcome:     kind,
		ExitCode:    out.ExitCode,
		DurationMs:  out.Duration.Milliseconds(),
		ScriptBytes: scriptBytes,
		StdoutBytes: len(out.Stdout),
		Message:     out.Message,
	})
	if err != nil {
		log.Warn().Err(err).Msg("recording run history")
	}
}
