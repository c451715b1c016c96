// Package config provides configuration loading for chaosrun.
// Settings come from built-in defaults, an optional YAML file and
// CHAOSRUN_* environment variables, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/nvandessel/chaosrun/internal/engine"
	"github.com/nvandessel/chaosrun/internal/logging"
	"github.com/nvandessel/chaosrun/internal/sweep"
	"gopkg.in/yaml.v3"
)

// Config contains all chaosrun driver settings. Engine settings only
// describe how the JVM is launched; the engine's own configuration is the
// file passed with --config.
type Config struct {
	Engine  EngineConfig  `json:"engine" yaml:"engine"`
	Paths   PathsConfig   `json:"paths" yaml:"paths"`
	Build   BuildConfig   `json:"build" yaml:"build"`
	Notify  NotifyConfig  `json:"notify" yaml:"notify"`
	Ledger  LedgerConfig  `json:"ledger" yaml:"ledger"`
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// EngineConfig configures the JVM every invocation runs in.
type EngineConfig struct {
	Java          string   `json:"java" yaml:"java" env:"CHAOSRUN_JAVA"`
	Heap          string   `json:"heap" yaml:"heap" env:"CHAOSRUN_HEAP"`
	GC            string   `json:"gc" yaml:"gc" env:"CHAOSRUN_GC"`
	KillOnOOM     bool     `json:"kill_on_oom" yaml:"kill_on_oom" env:"CHAOSRUN_KILL_ON_OOM"`
	HeapDumpOnOOM bool     `json:"heap_dump_on_oom" yaml:"heap_dump_on_oom" env:"CHAOSRUN_HEAP_DUMP_ON_OOM"`
	JVMArgs       []string `json:"jvm_args,omitempty" yaml:"jvm_args,omitempty" env:"CHAOSRUN_JVM_ARGS" envSeparator:" "`

	JMX JMXConfig `json:"jmx" yaml:"jmx"`
}

// JMXConfig configures the JMX remote agent.
type JMXConfig struct {
	Enabled      bool   `json:"enabled" yaml:"enabled" env:"CHAOSRUN_JMX_ENABLED"`
	Port         int    `json:"port" yaml:"port" env:"CHAOSRUN_JMX_PORT"`
	Authenticate bool   `json:"authenticate" yaml:"authenticate" env:"CHAOSRUN_JMX_AUTHENTICATE"`
	SSL          bool   `json:"ssl" yaml:"ssl" env:"CHAOSRUN_JMX_SSL"`
	PasswordFile string `json:"password_file,omitempty" yaml:"password_file,omitempty" env:"CHAOSRUN_JMX_PASSWORD_FILE"`
}

// PathsConfig holds the directories and files a sweep reads and writes.
type PathsConfig struct {
	LogsDir        string `json:"logs_dir" yaml:"logs_dir" env:"CHAOSRUN_LOGS_DIR"`
	SerialDir      string `json:"serial_dir" yaml:"serial_dir" env:"CHAOSRUN_SERIAL_DIR"`
	TorDir         string `json:"tor_dir" yaml:"tor_dir" env:"CHAOSRUN_TOR_DIR"`
	HonestTempFile string `json:"honest_temp_file" yaml:"honest_temp_file" env:"CHAOSRUN_HONEST_TEMP_FILE"`
}

// BuildConfig is the command that rebuilds the engine before a sweep.
type BuildConfig struct {
	Command []string `json:"command" yaml:"command" env:"CHAOSRUN_BUILD_COMMAND" envSeparator:" "`
}

// NotifyConfig configures the completion e-mail.
type NotifyConfig struct {
	Enabled  bool     `json:"enabled" yaml:"enabled" env:"CHAOSRUN_NOTIFY_ENABLED"`
	Host     string   `json:"host" yaml:"host" env:"CHAOSRUN_SMTP_HOST"`
	Port     int      `json:"port" yaml:"port" env:"CHAOSRUN_SMTP_PORT"`
	Username string   `json:"username,omitempty" yaml:"username,omitempty" env:"CHAOSRUN_SMTP_USERNAME"`
	Password string   `json:"password,omitempty" yaml:"password,omitempty" env:"CHAOSRUN_SMTP_PASSWORD"`
	From     string   `json:"from" yaml:"from" env:"CHAOSRUN_NOTIFY_FROM"`
	To       []string `json:"to" yaml:"to" env:"CHAOSRUN_NOTIFY_TO" envSeparator:","`
}

// RedactedPassword returns "(set)" when a password is configured.
func (c NotifyConfig) RedactedPassword() string {
	if c.Password == "" {
		return ""
	}
	return "(set)"
}

// String implements fmt.Stringer so the SMTP password never reaches a log.
func (c NotifyConfig) String() string {
	return fmt.Sprintf("NotifyConfig{Enabled:%t, Host:%s, Port:%d, Username:%s, Password:%s, From:%s, To:%s}",
		c.Enabled, c.Host, c.Port, c.Username, c.RedactedPassword(), c.From, strings.Join(c.To, ","))
}

// LedgerConfig toggles the SQLite run ledger.
type LedgerConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled" env:"CHAOSRUN_LEDGER_ENABLED"`
}

// LoggingConfig configures operational logging.
type LoggingConfig struct {
	// Level sets the log verbosity: "info" (default), "debug", "trace",
	// "warn" or "error". "trace" also logs every engine argv.
	Level string `json:"level" yaml:"level" env:"CHAOSRUN_LOG_LEVEL"`
}

// Default returns a Config with the settings experiments are normally run with.
func Default() *Config {
	rt := engine.DefaultRuntime()
	return &Config{
		Engine: EngineConfig{
			Java:          rt.Java,
			Heap:          rt.Heap,
			GC:            rt.GC,
			KillOnOOM:     rt.KillOnOOM,
			HeapDumpOnOOM: rt.HeapDumpOnOOM,
			JMX: JMXConfig{
				Enabled:      rt.JMX.Enabled,
				Port:         rt.JMX.Port,
				Authenticate: rt.JMX.Authenticate,
				SSL:          rt.JMX.SSL,
				PasswordFile: rt.JMX.PasswordFile,
			},
		},
		Paths: PathsConfig{
			LogsDir:        "logs",
			SerialDir:      "serial",
			TorDir:         sweep.DefaultTorDir,
			HonestTempFile: sweep.DefaultHonestTempFile,
		},
		Build: BuildConfig{
			Command: []string{"mvn", "package"},
		},
		Notify: NotifyConfig{
			Port: 587,
		},
		Ledger: LedgerConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load builds the driver configuration. path may be empty, in which case
// only defaults and environment variables apply.
// Order: defaults -> YAML file -> environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		fileCfg, err := LoadFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
		cfg = fileCfg
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file on top of the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Expand environment variables in the SMTP password
	cfg.Notify.Password = expandEnvVars(cfg.Notify.Password)

	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Engine.Java == "" {
		return fmt.Errorf("engine.java must not be empty")
	}
	if c.Engine.JMX.Enabled && (c.Engine.JMX.Port <= 0 || c.Engine.JMX.Port > 65535) {
		return fmt.Errorf("engine.jmx.port must be between 1 and 65535, got %d", c.Engine.JMX.Port)
	}
	if c.Paths.LogsDir == "" || c.Paths.SerialDir == "" {
		return fmt.Errorf("paths.logs_dir and paths.serial_dir must not be empty")
	}
	if c.Paths.HonestTempFile == "" {
		return fmt.Errorf("paths.honest_temp_file must not be empty")
	}
	if c.Notify.Enabled {
		if c.Notify.Host == "" {
			return fmt.Errorf("notify.host is required when notifications are enabled")
		}
		if c.Notify.From == "" || len(c.Notify.To) == 0 {
			return fmt.Errorf("notify.from and notify.to are required when notifications are enabled")
		}
	}
	if !logging.ValidLevel(c.Logging.Level) {
		return fmt.Errorf("invalid log level: %s (valid: info, debug, trace, warn, error, or empty for default)", c.Logging.Level)
	}
	return nil
}

// Runtime converts the engine settings into the dispatcher's runtime. jar
// and engineConfig come from the command line.
func (c *Config) Runtime(jar, engineConfig string) engine.Runtime {
	return engine.Runtime{
		Java:          c.Engine.Java,
		Heap:          c.Engine.Heap,
		GC:            c.Engine.GC,
		KillOnOOM:     c.Engine.KillOnOOM,
		HeapDumpOnOOM: c.Engine.HeapDumpOnOOM,
		JMX: engine.JMX{
			Enabled:      c.Engine.JMX.Enabled,
			Port:         c.Engine.JMX.Port,
			Authenticate: c.Engine.JMX.Authenticate,
			SSL:          c.Engine.JMX.SSL,
			PasswordFile: c.Engine.JMX.PasswordFile,
		},
		JVMArgs:    append([]string(nil), c.Engine.JVMArgs...),
		JarFile:    jar,
		ConfigFile: engineConfig,
	}
}

// applyEnvOverrides overwrites fields whose CHAOSRUN_* variable is set.
func applyEnvOverrides(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}
