package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"
)

// waitDelay bounds how long Wait keeps draining pipes after the jail is
// killed, in case an escaped grandchild still holds them open.
const waitDelay = 2 * time.Second

const checkTimeout = 5 * time.Second

// NsJail runs scripts through the nsjail binary.
type NsJail struct {
	policy Policy
}

// NewNsJail validates the policy and returns an invoker holding its own copy.
func NewNsJail(policy Policy) (*NsJail, error) {
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sandbox policy: %w", err)
	}
	return &NsJail{policy: policy.clone()}, nil
}

// Policy returns a copy of the invoker's policy.
func (j *NsJail) Policy() Policy {
	return j.policy.clone()
}

// Args builds the nsjail argument vector for one run of scriptPath.
// Read-only mounts that do not exist on the host are skipped, since nsjail
// refuses to start when a bind source is missing.
func (j *NsJail) Args(scriptPath string) []string {
	p := j.policy

	cpu := p.Limits.CPUSeconds
	if cpu == 0 {
		cpu = p.TimeLimitSeconds()
	}

	args := []string{
		"-M", p.Mode,
		"-t", strconv.Itoa(p.TimeLimitSeconds()),
		"--rlimit_cpu", strconv.Itoa(cpu),
	}
	if p.Limits.AddressSpaceMB > 0 {
		args = append(args, "--rlimit_as", strconv.Itoa(p.Limits.AddressSpaceMB))
	}
	if p.Limits.FileSizeMB > 0 {
		args = append(args, "--rlimit_fsize", strconv.Itoa(p.Limits.FileSizeMB))
	}
	if p.Limits.OpenFiles > 0 {
		args = append(args, "--rlimit_nofile", strconv.Itoa(p.Limits.OpenFiles))
	}
	if p.Limits.Processes > 0 {
		args = append(args, "--rlimit_nproc", strconv.Itoa(p.Limits.Processes))
	}

	for _, m := range p.ReadOnlyMounts {
		if _, err := os.Stat(m); err != nil {
			continue
		}
		args = append(args, "-R", m)
	}
	args = append(args, "-R", filepath.Dir(scriptPath))

	if p.TmpfsMount != "" {
		args = append(args, "-T", p.TmpfsMount)
	}
	for _, e := range p.Env {
		args = append(args, "-E", e)
	}
	for _, ns := range p.DisableNamespaces {
		args = append(args, "--disable_clone_new"+ns)
	}
	if p.DisableProc {
		args = append(args, "--disable_proc")
	}

	return append(args, "-q", "--", p.InterpreterPath, scriptPath)
}

// Run launches the jail and waits for it. Cancellation of ctx is ignored;
// only the outer deadline stops a run early.
func (j *NsJail) Run(ctx context.Context, scriptPath string) (*RunResult, error) {
	jailPath, err := exec.LookPath(j.policy.JailPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), j.policy.OuterDeadline())
	defer cancel()

	stdout := newBoundedBuffer(j.policy.MaxOutputBytes)
	control := newBoundedBuffer(j.policy.MaxOutputBytes)

	cmd := exec.CommandContext(ctx, jailPath, j.Args(scriptPath)...)
	cmd.Env = append([]string{}, j.policy.Env...)
	cmd.Stdout = stdout
	cmd.Stderr = control
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	cmd.WaitDelay = waitDelay

	start := time.Now()
	if err := cmd.Start(); err != nil {
		if isLaunchFailure(err) {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil, fmt.Errorf("starting sandbox: %w", err)
	}

	res := &RunResult{Pid: cmd.Process.Pid}
	waitErr := cmd.Wait()

	res.Duration = time.Since(start)
	res.Stdout = stdout.Bytes()
	res.Control = control.Bytes()
	res.StdoutTruncated = stdout.Truncated()
	res.ControlTruncated = control.Truncated()
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	// The deadline takes precedence over whatever the killed child left behind.
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return res, ErrTimeout
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.As(waitErr, &exitErr):
			res.ExitCode = exitErr.ExitCode()
		case errors.Is(waitErr, exec.ErrWaitDelay):
			// Exited, but something kept the pipes open; output is already captured.
		default:
			return res, fmt.Errorf("waiting for sandbox: %w", waitErr)
		}
	}

	return res, nil
}

// Check verifies the jail binary resolves and can be started.
func (j *NsJail) Check(ctx context.Context) error {
	jailPath, err := exec.LookPath(j.policy.JailPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, jailPath, "--help")
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			// nsjail exits non-zero after printing usage.
			return nil
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func isLaunchFailure(err error) bool {
	return errors.Is(err, exec.ErrNotFound) ||
		errors.Is(err, fs.ErrNotExist) ||
		errors.Is(err, fs.ErrPermission)
}
