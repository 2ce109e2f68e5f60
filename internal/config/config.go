// Package config loads pdfmill's application settings from config file,
// environment and defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Runtime names accepted by the runtime setting.
const (
	RuntimeProcess = "process"
	RuntimeDocker  = "docker"
)

// Config is the effective application configuration.
type Config struct {
	// CondaEnv is the conda environment activated before the tool runs.
	CondaEnv string `mapstructure:"conda_env" yaml:"conda_env"`

	// Tool is the conversion executable.
	Tool string `mapstructure:"tool" yaml:"tool"`

	// WorkerSignature identifies the worker process among the shell's
	// descendants (case-insensitive substring of its command line).
	WorkerSignature string `mapstructure:"worker_signature" yaml:"worker_signature"`

	// Runtime selects how jobs run: process or docker.
	Runtime string `mapstructure:"runtime" yaml:"runtime"`

	// DockerImage is the image used by the docker runtime.
	DockerImage string `mapstructure:"docker_image" yaml:"docker_image"`

	// PollInterval bounds the supervisor's cancellation latency.
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`

	// SettleDelay is the wait before the single worker-discovery attempt.
	SettleDelay time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`

	// Graceful selects graceful-then-forceful termination; disabled it kills
	// outright.
	Graceful bool `mapstructure:"graceful" yaml:"graceful"`

	// GracefulTimeout bounds the wait between the graceful signal and the
	// forceful kill of the primary target.
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout" yaml:"graceful_timeout"`

	// ChildTimeout is the per-descendant escalation wait.
	ChildTimeout time.Duration `mapstructure:"child_timeout" yaml:"child_timeout"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		CondaEnv:        "MinerU",
		Tool:            "magic-pdf",
		WorkerSignature: "magic-pdf",
		Runtime:         RuntimeProcess,
		DockerImage:     "mineru/magic-pdf:latest",
		PollInterval:    100 * time.Millisecond,
		SettleDelay:     time.Second,
		Graceful:        true,
		GracefulTimeout: 3 * time.Second,
		ChildTimeout:    time.Second,
	}
}

// Load resolves the configuration from, in increasing precedence: defaults,
// a config file (the explicit path, or pdfmill.yaml in the working directory
// or ~/.config/pdfmill), and PDFMILL_* environment variables. A missing
// config file is fine; a malformed one is not.
func Load(cfgFile string) (Config, error) {
	v := viper.New()

	def := Default()
	v.SetDefault("conda_env", def.CondaEnv)
	v.SetDefault("tool", def.Tool)
	v.SetDefault("worker_signature", def.WorkerSignature)
	v.SetDefault("runtime", def.Runtime)
	v.SetDefault("docker_image", def.DockerImage)
	v.SetDefault("poll_interval", def.PollInterval)
	v.SetDefault("settle_delay", def.SettleDelay)
	v.SetDefault("graceful", def.Graceful)
	v.SetDefault("graceful_timeout", def.GracefulTimeout)
	v.SetDefault("child_timeout", def.ChildTimeout)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("pdfmill")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "pdfmill"))
		}
	}

	v.SetEnvPrefix("PDFMILL")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the settings that would otherwise fail deep inside a job.
func (c *Config) Validate() error {
	switch c.Runtime {
	case RuntimeProcess, RuntimeDocker:
	default:
		return fmt.Errorf("unknown runtime %q (want %s or %s)", c.Runtime, RuntimeProcess, RuntimeDocker)
	}
	if c.Tool == "" {
		return errors.New("tool must not be empty")
	}
	if c.Runtime == RuntimeDocker && c.DockerImage == "" {
		return errors.New("docker runtime requires docker_image")
	}
	if c.PollInterval <= 0 {
		return errors.New("poll_interval must be positive")
	}
	if c.PollInterval > 200*time.Millisecond {
		return fmt.Errorf("poll_interval %s is too coarse; cancellation latency must stay under 200ms", c.PollInterval)
	}
	if c.SettleDelay < 0 || c.GracefulTimeout < 0 || c.ChildTimeout < 0 {
		return errors.New("timeouts must not be negative")
	}
	return nil
}
