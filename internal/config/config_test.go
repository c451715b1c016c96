package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestDefault(t *testing.T) {
	config := Default()

	if config.Engine.Java != "java" {
		t.Errorf("expected Java 'java', got '%s'", config.Engine.Java)
	}
	if config.Engine.Heap != "200G" {
		t.Errorf("expected Heap '200G', got '%s'", config.Engine.Heap)
	}
	if config.Engine.JMX.Port != 21000 {
		t.Errorf("expected JMX port 21000, got %d", config.Engine.JMX.Port)
	}
	if config.Paths.LogsDir != "logs" || config.Paths.SerialDir != "serial" {
		t.Errorf("unexpected dirs: %+v", config.Paths)
	}
	if !reflect.DeepEqual(config.Build.Command, []string{"mvn", "package"}) {
		t.Errorf("expected build command 'mvn package', got %v", config.Build.Command)
	}
	if config.Notify.Enabled {
		t.Error("expected notifications to be disabled by default")
	}
	if !config.Ledger.Enabled {
		t.Error("expected ledger to be enabled by default")
	}
	if config.Logging.Level != "info" {
		t.Errorf("expected Logging.Level 'info', got '%s'", config.Logging.Level)
	}
	if err := config.Validate(); err != nil {
		t.Errorf("default config is invalid: %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "chaosrun.yaml")

	configContent := `
engine:
  heap: 64G
  gc: UseG1GC
  jvm_args: ["-ea", "-XX:+UseNUMA"]
  jmx:
    enabled: false
paths:
  tor_dir: data/tor
build:
  command: ["make", "jar"]
notify:
  enabled: true
  host: smtp.example.org
  from: chaos@example.org
  to: ["a@example.org", "b@example.org"]
`
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	config, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if config.Engine.Heap != "64G" || config.Engine.GC != "UseG1GC" {
		t.Errorf("engine = %+v", config.Engine)
	}
	if config.Engine.JMX.Enabled {
		t.Error("expected JMX to be disabled")
	}
	// Unset keys keep their defaults
	if config.Engine.Java != "java" || config.Paths.LogsDir != "logs" {
		t.Errorf("defaults lost: java=%s logs=%s", config.Engine.Java, config.Paths.LogsDir)
	}
	if config.Paths.TorDir != "data/tor" {
		t.Errorf("expected TorDir 'data/tor', got '%s'", config.Paths.TorDir)
	}
	if !reflect.DeepEqual(config.Build.Command, []string{"make", "jar"}) {
		t.Errorf("build command = %v", config.Build.Command)
	}
	if len(config.Notify.To) != 2 || config.Notify.Port != 587 {
		t.Errorf("notify = %+v", config.Notify)
	}
}

func TestLoadFromFile_EnvExpansion(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "chaosrun.yaml")

	configContent := `
notify:
  password: ${TEST_SMTP_PASSWORD}
`
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	t.Setenv("TEST_SMTP_PASSWORD", "hunter22")

	config, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if config.Notify.Password != "hunter22" {
		t.Errorf("expected expanded password, got '%s'", config.Notify.Password)
	}
}

func TestLoadFromFile_Errors(t *testing.T) {
	tmpDir := t.TempDir()

	if _, err := LoadFromFile(filepath.Join(tmpDir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	bad := filepath.Join(tmpDir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("engine: [unclosed"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFromFile(bad); err == nil {
		t.Error("expected error for malformed YAML")
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "chaosrun.yaml")
	if err := os.WriteFile(configPath, []byte("engine:\n  heap: 64G\nlogging:\n  level: debug\n"), 0600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("CHAOSRUN_HEAP", "8G")
	t.Setenv("CHAOSRUN_JMX_PORT", "22000")
	t.Setenv("CHAOSRUN_BUILD_COMMAND", "gradle shadowJar")
	t.Setenv("CHAOSRUN_NOTIFY_TO", "x@example.org,y@example.org")
	t.Setenv("CHAOSRUN_LEDGER_ENABLED", "false")

	config, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if config.Engine.Heap != "8G" {
		t.Errorf("expected env heap '8G', got '%s'", config.Engine.Heap)
	}
	if config.Engine.JMX.Port != 22000 {
		t.Errorf("expected JMX port 22000, got %d", config.Engine.JMX.Port)
	}
	if !reflect.DeepEqual(config.Build.Command, []string{"gradle", "shadowJar"}) {
		t.Errorf("build command = %v", config.Build.Command)
	}
	if !reflect.DeepEqual(config.Notify.To, []string{"x@example.org", "y@example.org"}) {
		t.Errorf("notify.to = %v", config.Notify.To)
	}
	if config.Ledger.Enabled {
		t.Error("expected ledger disabled by env")
	}
	// File value survives when no env var is set
	if config.Logging.Level != "debug" {
		t.Errorf("expected file level 'debug', got '%s'", config.Logging.Level)
	}
}

func TestLoad_NoFile(t *testing.T) {
	t.Setenv("CHAOSRUN_LOG_LEVEL", "trace")

	config, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if config.Logging.Level != "trace" {
		t.Errorf("expected level 'trace', got '%s'", config.Logging.Level)
	}
	if config.Engine.Heap != "200G" {
		t.Errorf("expected default heap, got '%s'", config.Engine.Heap)
	}
}

func TestLoad_BadEnv(t *testing.T) {
	t.Setenv("CHAOSRUN_JMX_PORT", "not-a-port")
	if _, err := Load(""); err == nil {
		t.Error("expected error for non-numeric port")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"default", func(c *Config) {}, false},
		{"empty java", func(c *Config) { c.Engine.Java = "" }, true},
		{"bad jmx port", func(c *Config) { c.Engine.JMX.Port = 70000 }, true},
		{"jmx port ignored when disabled", func(c *Config) { c.Engine.JMX.Enabled = false; c.Engine.JMX.Port = 0 }, false},
		{"empty logs dir", func(c *Config) { c.Paths.LogsDir = "" }, true},
		{"empty temp file", func(c *Config) { c.Paths.HonestTempFile = "" }, true},
		{"notify without host", func(c *Config) { c.Notify.Enabled = true }, true},
		{"notify without recipients", func(c *Config) {
			c.Notify.Enabled = true
			c.Notify.Host = "smtp"
			c.Notify.From = "a@b"
		}, true},
		{"notify complete", func(c *Config) {
			c.Notify.Enabled = true
			c.Notify.Host = "smtp"
			c.Notify.From = "a@b"
			c.Notify.To = []string{"c@d"}
		}, false},
		{"bad level", func(c *Config) { c.Logging.Level = "verbose" }, true},
		{"empty level", func(c *Config) { c.Logging.Level = "" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.modify(c)
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRuntime(t *testing.T) {
	c := Default()
	c.Engine.JVMArgs = []string{"-ea"}
	rt := c.Runtime("target/chaos.jar", "config/x.yml")

	if rt.JarFile != "target/chaos.jar" || rt.ConfigFile != "config/x.yml" {
		t.Errorf("runtime paths = %s / %s", rt.JarFile, rt.ConfigFile)
	}
	if rt.Heap != "200G" || rt.JMX.Port != 21000 || !rt.KillOnOOM {
		t.Errorf("runtime = %+v", rt)
	}

	c.Engine.JVMArgs[0] = "-da"
	if rt.JVMArgs[0] != "-ea" {
		t.Error("runtime shares JVMArgs with config")
	}
}

func TestNotifyConfigString(t *testing.T) {
	c := NotifyConfig{Host: "smtp", Password: "supersecret", To: []string{"a@b"}}
	s := c.String()
	if strings.Contains(s, "supersecret") {
		t.Errorf("String() leaks password: %s", s)
	}
	if !strings.Contains(s, "(set)") {
		t.Errorf("String() should mark password as set: %s", s)
	}
	if (NotifyConfig{}).RedactedPassword() != "" {
		t.Error("empty password should redact to empty string")
	}
}
