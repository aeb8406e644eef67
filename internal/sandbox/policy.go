package sandbox

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Namespaces nsjail can be told not to create via --disable_clone_new<ns>.
var knownNamespaces = []string{"user", "net", "ns", "pid", "ipc", "uts", "cgroup"}

// Limits are per-child rlimits. Zero leaves nsjail's built-in default.
type Limits struct {
	AddressSpaceMB int `mapstructure:"as_mb" yaml:"as_mb"`
	CPUSeconds     int `mapstructure:"cpu_seconds" yaml:"cpu_seconds"` // 0 derives from TimeLimit
	FileSizeMB     int `mapstructure:"fsize_mb" yaml:"fsize_mb"`
	OpenFiles      int `mapstructure:"nofile" yaml:"nofile"`
	Processes      int `mapstructure:"nproc" yaml:"nproc"`
}

// Policy is the fixed launch configuration for every sandboxed run. It is
// built once at startup and copied into the invoker; nothing mutates it later.
type Policy struct {
	JailPath        string `mapstructure:"jail_path" yaml:"jail_path"`
	InterpreterPath string `mapstructure:"interpreter_path" yaml:"interpreter_path"`
	Mode            string `mapstructure:"mode" yaml:"mode"` // nsjail -M: o, e or r

	// TimeLimit is enforced by nsjail itself. The invoker's own deadline is
	// TimeLimit+Grace so the jail gets to terminate the child first.
	TimeLimit time.Duration `mapstructure:"time_limit" yaml:"time_limit"`
	Grace     time.Duration `mapstructure:"grace" yaml:"grace"`

	Limits Limits `mapstructure:"limits" yaml:"limits"`

	ReadOnlyMounts    []string `mapstructure:"read_only_mounts" yaml:"read_only_mounts"`
	TmpfsMount        string   `mapstructure:"tmpfs_mount" yaml:"tmpfs_mount"`
	Env               []string `mapstructure:"env" yaml:"env"`
	DisableNamespaces []string `mapstructure:"disable_namespaces" yaml:"disable_namespaces"`
	DisableProc       bool     `mapstructure:"disable_proc" yaml:"disable_proc"`

	// MaxOutputBytes caps how much of each stream is captured.
	MaxOutputBytes int `mapstructure:"max_output_bytes" yaml:"max_output_bytes"`
}

// DefaultPolicy returns the most restrictive policy that still runs CPython:
// every namespace enabled, no /proc, read-only system dirs, minimal PATH.
func DefaultPolicy() Policy {
	return Policy{
		JailPath:        "/usr/local/bin/nsjail",
		InterpreterPath: "/usr/local/bin/python3",
		Mode:            "o",
		TimeLimit:       30 * time.Second,
		Grace:           5 * time.Second,
		Limits: Limits{
			AddressSpaceMB: 512,
			FileSizeMB:     1,
			OpenFiles:      32,
			Processes:      16,
		},
		ReadOnlyMounts: []string{"/usr", "/lib", "/lib64", "/bin", "/etc/ld.so.cache"},
		TmpfsMount:     "/tmp",
		Env:            []string{"PATH=/usr/local/bin:/usr/bin:/bin"},
		DisableProc:    true,
		MaxOutputBytes: 1 << 20,
	}
}

// OuterDeadline is the wall-clock bound the invoker enforces.
func (p Policy) OuterDeadline() time.Duration {
	return p.TimeLimit + p.Grace
}

// TimeLimitSeconds rounds the inner limit up to whole seconds, as nsjail expects.
func (p Policy) TimeLimitSeconds() int {
	secs := int(p.TimeLimit / time.Second)
	if p.TimeLimit%time.Second != 0 {
		secs++
	}
	return secs
}

// Validate checks the policy and returns every problem found, joined.
func (p Policy) Validate() error {
	var errs []error

	if p.JailPath == "" {
		errs = append(errs, errors.New("jail_path must not be empty"))
	}
	if !filepath.IsAbs(p.InterpreterPath) {
		errs = append(errs, fmt.Errorf("interpreter_path %q must be absolute", p.InterpreterPath))
	}
	switch p.Mode {
	case "o", "e", "r":
	default:
		errs = append(errs, fmt.Errorf("mode %q must be one of o, e, r", p.Mode))
	}
	if p.TimeLimit < time.Second {
		errs = append(errs, fmt.Errorf("time_limit %s must be at least 1s", p.TimeLimit))
	}
	if p.Grace <= 0 {
		errs = append(errs, fmt.Errorf("grace %s must be positive so the outer deadline exceeds time_limit", p.Grace))
	} else if inner := time.Duration(p.TimeLimitSeconds()) * time.Second; inner >= p.OuterDeadline() {
		// nsjail only takes whole seconds for -t.
		errs = append(errs, fmt.Errorf("grace %s too short: nsjail limit %s must end before the outer deadline %s",
			p.Grace, inner, p.OuterDeadline()))
	}

	for name, v := range map[string]int{
		"as_mb":       p.Limits.AddressSpaceMB,
		"cpu_seconds": p.Limits.CPUSeconds,
		"fsize_mb":    p.Limits.FileSizeMB,
		"nofile":      p.Limits.OpenFiles,
		"nproc":       p.Limits.Processes,
	} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("limits.%s must not be negative", name))
		}
	}

	for _, m := range p.ReadOnlyMounts {
		if !filepath.IsAbs(m) {
			errs = append(errs, fmt.Errorf("read-only mount %q must be absolute", m))
		}
	}
	if p.TmpfsMount != "" && !filepath.IsAbs(p.TmpfsMount) {
		errs = append(errs, fmt.Errorf("tmpfs_mount %q must be absolute", p.TmpfsMount))
	}
	for _, e := range p.Env {
		if k, _, ok := strings.Cut(e, "="); !ok || k == "" {
			errs = append(errs, fmt.Errorf("env entry %q must be KEY=VALUE", e))
		}
	}
	for _, ns := range p.DisableNamespaces {
		if !slices.Contains(knownNamespaces, ns) {
			errs = append(errs, fmt.Errorf("unknown namespace %q (known: %s)", ns, strings.Join(knownNamespaces, ", ")))
		}
	}
	if p.MaxOutputBytes <= 0 {
		errs = append(errs, errors.New("max_output_bytes must be positive"))
	}

	return errors.Join(errs...)
}

// LoadPolicy overlays the YAML policy file at path onto base. Keys absent
// from the file keep base's values; lists present in the file replace them.
func LoadPolicy(path string, base Policy) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("reading policy %s: %w", path, err)
	}

	p := base.clone()
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Policy{}, fmt.Errorf("parsing policy %s: %w", path, err)
	}
	return p, nil
}

func (p Policy) clone() Policy {
	c := p
	c.ReadOnlyMounts = slices.Clone(p.ReadOnlyMounts)
	c.Env = slices.Clone(p.Env)
	c.DisableNamespaces = slices.Clone(p.DisableNamespaces)
	return c
}
