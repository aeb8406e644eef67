package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/michaelbrown/pyexec/internal/logger"
	"github.com/michaelbrown/pyexec/internal/sandbox"
)

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type ExecutorConfig struct {
	MaxScriptBytes int    `mapstructure:"max_script_bytes"`
	MaxConcurrent  int64  `mapstructure:"max_concurrent"`
	WorkRoot       string `mapstructure:"work_root"`
}

type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DBPath  string `mapstructure:"db_path"`
}

// SandboxConfig is the launch policy plus an optional YAML policy file
// overlaid on top of it.
type SandboxConfig struct {
	sandbox.Policy `mapstructure:",squash"`
	PolicyFile     string `mapstructure:"policy_file"`
}

type Config struct {
	Server   ServerConfig     `mapstructure:"server"`
	Log      logger.LogConfig `mapstructure:"log"`
	Sandbox  SandboxConfig    `mapstructure:"sandbox"`
	Executor ExecutorConfig   `mapstructure:"executor"`
	History  HistoryConfig    `mapstructure:"history"`
}

// Load reads configuration from path, or from pyexec.yaml in the usual
// locations when path is empty. A missing default file is not an error.
// Environment variables prefixed PYEXEC_ override file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("pyexec")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.pyexec")
		v.AddConfigPath("/etc/pyexec")
	}

	v.SetEnvPrefix("PYEXEC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// PORT is what Cloud Run and most PaaS hosts inject.
	if err := v.BindEnv("server.port", "PYEXEC_SERVER_PORT", "PORT"); err != nil {
		return nil, fmt.Errorf("binding env: %w", err)
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.max_body_bytes", 1<<20)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "")

	p := sandbox.DefaultPolicy()
	v.SetDefault("sandbox.jail_path", p.JailPath)
	v.SetDefault("sandbox.interpreter_path", p.InterpreterPath)
	v.SetDefault("sandbox.mode", p.Mode)
	v.SetDefault("sandbox.time_limit", p.TimeLimit)
	v.SetDefault("sandbox.grace", p.Grace)
	v.SetDefault("sandbox.limits.as_mb", p.Limits.AddressSpaceMB)
	v.SetDefault("sandbox.limits.cpu_seconds", p.Limits.CPUSeconds)
	v.SetDefault("sandbox.limits.fsize_mb", p.Limits.FileSizeMB)
	v.SetDefault("sandbox.limits.nofile", p.Limits.OpenFiles)
	v.SetDefault("sandbox.limits.nproc", p.Limits.Processes)
	v.SetDefault("sandbox.read_only_mounts", p.ReadOnlyMounts)
	v.SetDefault("sandbox.tmpfs_mount", p.TmpfsMount)
	v.SetDefault("sandbox.env", p.Env)
	v.SetDefault("sandbox.disable_namespaces", []string{})
	v.SetDefault("sandbox.disable_proc", p.DisableProc)
	v.SetDefault("sandbox.max_output_bytes", p.MaxOutputBytes)
	v.SetDefault("sandbox.policy_file", "")

	v.SetDefault("executor.max_script_bytes", 100_000)
	v.SetDefault("executor.max_concurrent", 8)
	v.SetDefault("executor.work_root", "")

	v.SetDefault("history.enabled", true)
	v.SetDefault("history.db_path", ":memory:")
}

// Policy returns the effective sandbox policy: the configured values with
// the policy file, if any, laid over them. The result is validated.
func (c *Config) Policy() (sandbox.Policy, error) {
	p := c.Sandbox.Policy
	if c.Sandbox.PolicyFile != "" {
		var err error
		p, err = sandbox.LoadPolicy(c.Sandbox.PolicyFile, p)
		if err != nil {
			return sandbox.Policy{}, err
		}
	}
	if err := p.Validate(); err != nil {
		return sandbox.Policy{}, fmt.Errorf("invalid sandbox policy: %w", err)
	}
	return p, nil
}
