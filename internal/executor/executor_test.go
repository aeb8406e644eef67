package executor

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michaelbrown/pyexec/internal/observability"
	"github.com/michaelbrown/pyexec/internal/payload"
	"github.com/michaelbrown/pyexec/internal/sandbox"
	"github.com/michaelbrown/pyexec/internal/storage"
	"github.com/michaelbrown/pyexec/internal/storage/sqlite"
)

const okScript = "def main():\n    return {'x': 1+1}"

// fakeSandbox counts spawns and records whether the artifact was present
// while the child "ran".
type fakeSandbox struct {
	mu        sync.Mutex
	spawns    int
	paths     []string
	sawScript []bool
	run       func(path string) (*sandbox.RunResult, error)
}

func (f *fakeSandbox) Run(_ context.Context, path string) (*sandbox.RunResult, error) {
	_, statErr := os.Stat(path)

	f.mu.Lock()
	f.spawns++
	f.paths = append(f.paths, path)
	f.sawScript = append(f.sawScript, statErr == nil)
	f.mu.Unlock()

	if f.run == nil {
		return &sandbox.RunResult{Control: []byte("__RESULT_START__\n{\"x\": 2}\n__RESULT_END__\n")}, nil
	}
	return f.run(path)
}

func (f *fakeSandbox) Check(context.Context) error { return nil }

func (f *fakeSandbox) spawnCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.spawns
}

func newTestExecutor(t *testing.T, sb sandbox.Sandbox, opts Options) *Executor {
	t.Helper()
	if opts.WorkRoot == "" {
		opts.WorkRoot = t.TempDir()
	}
	return New(sb, opts)
}

func assertWorkRootEmpty(t *testing.T, root string) {
	t.Helper()
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries, "artifact directories must be removed after every run")
}

func TestExecuteSuccess(t *testing.T) {
	sb := &fakeSandbox{}
	root := t.TempDir()
	e := newTestExecutor(t, sb, Options{WorkRoot: root})

	out, err := e.Execute(context.Background(), okScript)
	require.NoError(t, err)

	assert.Equal(t, KindSuccess, out.Kind)
	assert.JSONEq(t, `{"x": 2}`, string(out.Value))
	assert.NotEmpty(t, out.RunID)
	assert.Positive(t, out.Duration)

	require.Equal(t, 1, sb.spawnCount())
	assert.True(t, sb.sawScript[0], "artifact must exist while the child runs")
	assert.Equal(t, payload.ScriptName, filepath.Base(sb.paths[0]))
	assertWorkRootEmpty(t, root)
}

func TestExecuteValidationSpawnsNothing(t *testing.T) {
	sb := &fakeSandbox{}
	root := t.TempDir()
	e := newTestExecutor(t, sb, Options{WorkRoot: root, MaxScriptBytes: 64})
	before := observability.CounterValue(observability.ValidationRejectionsTotal, ReasonMissingMain)

	for _, script := range []string{"", "print('no main')", "def main(a):\n    return a", string(make([]byte, 65))} {
		out, err := e.Execute(context.Background(), script)
		var ve *ValidationError
		assert.True(t, errors.As(err, &ve), "script %q: err = %v", script, err)
		assert.Nil(t, out)
	}

	assert.Zero(t, sb.spawnCount())
	assertWorkRootEmpty(t, root)
	assert.Equal(t, before+2, observability.CounterValue(observability.ValidationRejectionsTotal, ReasonMissingMain))
}

func TestExecuteCleansUpOnEveryOutcome(t *testing.T) {
	tests := []struct {
		name string
		run  func(string) (*sandbox.RunResult, error)
		kind Kind
	}{
		{"application error", func(string) (*sandbox.RunResult, error) {
			return &sandbox.RunResult{Control: []byte("__ERROR__:ValueError: bad\n"), ExitCode: 1}, nil
		}, KindApplicationError},
		{"timeout", func(string) (*sandbox.RunResult, error) {
			return &sandbox.RunResult{Stdout: []byte("partial")}, sandbox.ErrTimeout
		}, KindTimeout},
		{"unavailable", func(string) (*sandbox.RunResult, error) {
			return nil, sandbox.ErrUnavailable
		}, KindSandboxUnavailable},
		{"internal", func(string) (*sandbox.RunResult, error) {
			return nil, errors.New("boom")
		}, KindInternalError},
		{"panic", func(string) (*sandbox.RunResult, error) {
			panic("sandbox exploded")
		}, KindInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sb := &fakeSandbox{run: tt.run}
			root := t.TempDir()
			e := newTestExecutor(t, sb, Options{WorkRoot: root})
			before := observability.CounterValue(observability.ExecutionsTotal, string(tt.kind))

			out, err := e.Execute(context.Background(), okScript)
			require.NoError(t, err)
			require.NotNil(t, out)

			assert.Equal(t, tt.kind, out.Kind)
			assert.NotEmpty(t, out.RunID)
			assert.Equal(t, 1, sb.spawnCount(), "outcomes are terminal, never retried")
			assertWorkRootEmpty(t, root)
			assert.Equal(t, before+1, observability.CounterValue(observability.ExecutionsTotal, string(tt.kind)))
		})
	}
}

func TestExecuteMaterializeFailureIsInternal(t *testing.T) {
	sb := &fakeSandbox{}
	e := New(sb, Options{WorkRoot: filepath.Join(t.TempDir(), "does-not-exist")})

	out, err := e.Execute(context.Background(), okScript)
	require.NoError(t, err)
	assert.Equal(t, KindInternalError, out.Kind)
	assert.Equal(t, MsgInternal, out.Message)
	assert.Zero(t, sb.spawnCount())
}

func TestExecuteAtCapacity(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	sb := &fakeSandbox{run: func(string) (*sandbox.RunResult, error) {
		close(started)
		<-release
		return &sandbox.RunResult{Control: []byte("__RESULT_START__\n1\n__RESULT_END__\n")}, nil
	}}
	e := newTestExecutor(t, sb, Options{MaxConcurrent: 1})

	done := make(chan *Outcome)
	go func() {
		out, _ := e.Execute(context.Background(), okScript)
		done <- out
	}()
	<-started

	out, err := e.Execute(context.Background(), okScript)
	assert.ErrorIs(t, err, ErrAtCapacity)
	assert.Nil(t, out)
	assert.Equal(t, 1, sb.spawnCount())

	close(release)
	first := <-done
	require.NotNil(t, first)
	assert.Equal(t, KindSuccess, first.Kind)

	sb.run = nil
	out, err = e.Execute(context.Background(), okScript)
	require.NoError(t, err, "slot is released after the run")
	assert.Equal(t, KindSuccess, out.Kind)
}

func TestExecuteConcurrentRunsAreIsolated(t *testing.T) {
	sb := &fakeSandbox{}
	root := t.TempDir()
	e := newTestExecutor(t, sb, Options{WorkRoot: root})

	const n = 8
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := e.Execute(context.Background(), okScript)
			assert.NoError(t, err)
			assert.Equal(t, KindSuccess, out.Kind)
		}()
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, p := range sb.paths {
		assert.False(t, seen[filepath.Dir(p)], "artifact directory reused: %s", p)
		seen[filepath.Dir(p)] = true
	}
	assert.Len(t, seen, n)
	assertWorkRootEmpty(t, root)
}

func TestExecuteRecordsHistory(t *testing.T) {
	store, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	sb := &fakeSandbox{run: func(string) (*sandbox.RunResult, error) {
		return &sandbox.RunResult{Stdout: []byte("hello\n"), Control: []byte("__ERROR__:KeyError: 'k'\n"), ExitCode: 1}, nil
	}}
	e := newTestExecutor(t, sb, Options{Store: store})

	out, err := e.Execute(context.Background(), okScript)
	require.NoError(t, err)

	run, err := store.GetRun(context.Background(), out.RunID)
	require.NoError(t, err)
	assert.Equal(t, string(KindApplicationError), run.Outcome)
	assert.Equal(t, 1, run.ExitCode)
	assert.Equal(t, len(okScript), run.ScriptBytes)
	assert.Equal(t, len("hello"), run.StdoutBytes)
	assert.Equal(t, "Script execution error: KeyError: 'k'", run.Message)

	runs, err := store.ListRuns(context.Background(), storage.RunListOptions{})
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestExecuteLogsAdvisoriesWithoutBlocking(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	sb := &fakeSandbox{}
	e := newTestExecutor(t, sb, Options{Logger: &logger})

	out, err := e.Execute(context.Background(), "def main():\n    return eval('1+1')")
	require.NoError(t, err)
	assert.Equal(t, KindSuccess, out.Kind)

	assert.Contains(t, buf.String(), `"pattern":"eval() usage"`)
	assert.Contains(t, buf.String(), `"level":"warn"`)
	assert.Contains(t, buf.String(), `"run_id":"`+out.RunID+`"`)
	assert.NotContains(t, buf.String(), "return eval", "script text is never logged")
}

func TestExecuteIgnoresCallerCancellationForRecording(t *testing.T) {
	store, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	sb := &fakeSandbox{run: func(string) (*sandbox.RunResult, error) {
		cancel()
		return &sandbox.RunResult{Control: []byte("__RESULT_START__\n1\n__RESULT_END__\n")}, nil
	}}
	e := newTestExecutor(t, sb, Options{Store: store})

	out, err := e.Execute(ctx, okScript)
	require.NoError(t, err)

	_, err = store.GetRun(context.Background(), out.RunID)
	assert.NoError(t, err)
}

func TestNewDefaults(t *testing.T) {
	e := New(&fakeSandbox{}, Options{})

	assert.Equal(t, DefaultMaxScriptBytes, e.MaxScriptBytes())
	assert.Equal(t, 30*time.Second, e.opts.TimeLimit)
	assert.Nil(t, e.sem)
	assert.NoError(t, e.Check(context.Background()))
}
