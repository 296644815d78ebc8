// Package config loads the relay's settings: which backend reaches the
// nested environment, the launcher and routing arguments, the downstream
// program, and the ambient knobs (timeout, drain policy, audit log, log
// level). Values are layered defaults < YAML file < environment.
package config

import (
	"credrelay/internal/bridge"
	"credrelay/internal/resolver"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// AppName is the application name, used for the config directory.
	AppName = "git-credential-relay"
	// EnvPrefix prefixes every environment override, e.g. GIT_CREDENTIAL_RELAY_BACKEND.
	EnvPrefix = "GIT_CREDENTIAL_RELAY"
	// FileName is the config file name inside the config directory.
	FileName = "config.yaml"
)

// Backends.
const (
	BackendWSL    = "wsl"
	BackendDocker = "docker"
)

// Config is the full relay configuration.
type Config struct {
	Backend     string        `mapstructure:"backend" yaml:"backend"`
	Launcher    string        `mapstructure:"launcher" yaml:"launcher"`
	RoutingArgs []string      `mapstructure:"routing_args" yaml:"routing_args"`
	Program     []string      `mapstructure:"program" yaml:"program"`
	Docker      DockerConfig  `mapstructure:"docker" yaml:"docker"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	KillGrace   time.Duration `mapstructure:"kill_grace" yaml:"kill_grace"`
	Drain       string        `mapstructure:"drain" yaml:"drain"`
	AuditLog    string        `mapstructure:"audit_log" yaml:"audit_log"`
	LogLevel    string        `mapstructure:"log_level" yaml:"log_level"`
}

// DockerConfig configures the docker backend.
type DockerConfig struct {
	// Container is used when --distribution is not given.
	Container string `mapstructure:"container" yaml:"container"`
	// Host overrides DOCKER_HOST for the API client.
	Host string `mapstructure:"host" yaml:"host,omitempty"`
}

// DefaultConfig returns the built-in configuration: `git credential` in the
// Ubuntu WSL distribution, no timeout, best-effort draining.
func DefaultConfig() *Config {
	route := resolver.DefaultRoute()
	return &Config{
		Backend:     BackendWSL,
		Launcher:    route.Launcher,
		RoutingArgs: route.Routing,
		Program:     route.Program,
		Timeout:     0,
		KillGrace:   5 * time.Second,
		Drain:       bridge.DrainBestEffort.String(),
		LogLevel:    log.WarnLevel.String(),
	}
}

// Route returns the resolver route described by the configuration.
func (c *Config) Route() resolver.Route {
	return resolver.Route{
		Launcher: c.Launcher,
		Routing:  append([]string(nil), c.RoutingArgs...),
		Program:  append([]string(nil), c.Program...),
	}
}

// DrainPolicy returns the parsed drain policy.
func (c *Config) DrainPolicy() (bridge.DrainPolicy, error) {
	return bridge.ParseDrainPolicy(c.Drain)
}

// Level returns the parsed log level.
func (c *Config) Level() (log.Level, error) {
	return log.ParseLevel(c.LogLevel)
}

// Validate checks the configuration for values the relay cannot act on.
func (c *Config) Validate() error {
	var errs []error

	switch c.Backend {
	case BackendWSL:
		if c.Launcher == "" {
			errs = append(errs, errors.New("launcher must be set for the wsl backend"))
		}
	case BackendDocker:
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q (want %s or %s)", c.Backend, BackendWSL, BackendDocker))
	}

	if len(c.Program) == 0 {
		errs = append(errs, errors.New("program must not be empty"))
	}
	if c.Timeout < 0 {
		errs = append(errs, fmt.Errorf("timeout must not be negative: %s", c.Timeout))
	}
	if _, err := c.DrainPolicy(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}

	return errors.Join(errs...)
}

// WriteYAML writes the configuration as YAML.
func (c *Config) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}

// Dir returns the configuration directory (os.UserConfigDir()/git-credential-relay).
func Dir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate config directory: %w", err)
	}
	return filepath.Join(base, AppName), nil
}

// LoadOptions controls where configuration is read from.
type LoadOptions struct {
	// ConfigFile, when set, must exist and is used instead of the default path.
	ConfigFile string
	// ConfigDir overrides Dir() for the default path.
	ConfigDir string
}

// Load reads the configuration and returns it with the path of the file that
// was used, or "" when only defaults and environment applied.
func Load(opts LoadOptions) (*Config, string, error) {
	v := viper.New()

	defaults := DefaultConfig()
	v.SetDefault("backend", defaults.Backend)
	v.SetDefault("launcher", defaults.Launcher)
	v.SetDefault("routing_args", defaults.RoutingArgs)
	v.SetDefault("program", defaults.Program)
	v.SetDefault("docker.container", defaults.Docker.Container)
	v.SetDefault("docker.host", defaults.Docker.Host)
	v.SetDefault("timeout", defaults.Timeout)
	v.SetDefault("kill_grace", defaults.KillGrace)
	v.SetDefault("drain", defaults.Drain)
	v.SetDefault("audit_log", defaults.AuditLog)
	v.SetDefault("log_level", defaults.LogLevel)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path, err := resolvePath(opts)
	if err != nil {
		return nil, "", err
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, "", fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, path, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, path, nil
}

// resolvePath picks the config file: an explicit file must exist, the
// default file is optional.
func resolvePath(opts LoadOptions) (string, error) {
	if opts.ConfigFile != "" {
		if _, err := os.Stat(opts.ConfigFile); err != nil {
			return "", fmt.Errorf("config file: %w", err)
		}
		return opts.ConfigFile, nil
	}

	dir := opts.ConfigDir
	if dir == "" {
		var err error
		if dir, err = Dir(); err != nil {
			// No home or config directory; run on defaults.
			return "", nil
		}
	}

	path := filepath.Join(dir, FileName)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("config file: %w", err)
	}
	return path, nil
}
