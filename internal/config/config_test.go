package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestConfig_SetDefaults(t *testing.T) {
	t.Parallel()

	var cfg Config
	cfg.SetDefaults()

	if cfg.Server.HTTPAddr != "127.0.0.1:8080" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "127.0.0.1:8080")
	}
	if cfg.Server.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.Server.LogLevel, "info")
	}
	if !cfg.Features.RateLimiting {
		t.Error("Features.RateLimiting should default to true")
	}
	if cfg.RateLimit.Global.Max != 10000 || cfg.RateLimit.Global.WindowSeconds != 3600 {
		t.Errorf("RateLimit.Global = %+v, want {10000 3600}", cfg.RateLimit.Global)
	}
	if cfg.RateLimit.Caller.Max != 100 {
		t.Errorf("RateLimit.Caller.Max = %d, want 100", cfg.RateLimit.Caller.Max)
	}
	if cfg.RateLimit.Key.Max != 1000 {
		t.Errorf("RateLimit.Key.Max = %d, want 1000", cfg.RateLimit.Key.Max)
	}
}

func TestConfig_SetDefaults_Analyzer(t *testing.T) {
	t.Parallel()

	cfg := Config{}
	cfg.SetDefaults()

	if cfg.Analyzer.Timeout != "5s" {
		t.Errorf("Analyzer.Timeout = %q, want %q", cfg.Analyzer.Timeout, "5s")
	}
	if cfg.Analyzer.MaxRetries != 3 {
		t.Errorf("Analyzer.MaxRetries = %d, want 3", cfg.Analyzer.MaxRetries)
	}

	cfg2 := Config{Analyzer: AnalyzerConfig{Timeout: "10s", MaxRetries: 5}}
	cfg2.SetDefaults()

	if cfg2.Analyzer.Timeout != "10s" || cfg2.Analyzer.MaxRetries != 5 {
		t.Errorf("Analyzer values were overwritten: got %+v", cfg2.Analyzer)
	}
}

func TestConfig_SetDefaults_Audit(t *testing.T) {
	t.Parallel()

	cfg := Config{}
	cfg.SetDefaults()

	if cfg.Audit.RetentionDays != 90 {
		t.Errorf("Audit.RetentionDays = %d, want 90", cfg.Audit.RetentionDays)
	}
	if cfg.Audit.StorePath != "sentinelgate-audit.db" {
		t.Errorf("Audit.StorePath = %q, want %q", cfg.Audit.StorePath, "sentinelgate-audit.db")
	}
	if cfg.Audit.QueueCapacity != 4096 {
		t.Errorf("Audit.QueueCapacity = %d, want 4096", cfg.Audit.QueueCapacity)
	}
	if cfg.Audit.BatchSize != 100 {
		t.Errorf("Audit.BatchSize = %d, want 100", cfg.Audit.BatchSize)
	}
	if cfg.Audit.FlushInterval != "1s" {
		t.Errorf("Audit.FlushInterval = %q, want %q", cfg.Audit.FlushInterval, "1s")
	}
}

func TestConfig_SetDefaults_PreservesExistingValues(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Server: ServerConfig{HTTPAddr: ":9090"},
		Audit:  AuditConfig{StorePath: "/var/lib/sentinelgate/custom.db", RetentionDays: 30},
		RateLimit: RateLimitConfig{
			Global: RateLimitTierConfig{Max: 50, WindowSeconds: 60},
		},
	}

	cfg.SetDefaults()

	if cfg.Server.HTTPAddr != ":9090" {
		t.Errorf("HTTPAddr was overwritten: got %q", cfg.Server.HTTPAddr)
	}
	if cfg.Audit.StorePath != "/var/lib/sentinelgate/custom.db" {
		t.Errorf("Audit.StorePath was overwritten: got %q", cfg.Audit.StorePath)
	}
	if cfg.Audit.RetentionDays != 30 {
		t.Errorf("Audit.RetentionDays was overwritten: got %d", cfg.Audit.RetentionDays)
	}
	if cfg.RateLimit.Global.Max != 50 || cfg.RateLimit.Global.WindowSeconds != 60 {
		t.Errorf("RateLimit.Global was overwritten: got %+v", cfg.RateLimit.Global)
	}
}

func TestConfig_SetDevDefaults_AppliesOnlyWhenDevMode(t *testing.T) {
	t.Parallel()

	cfg := Config{}
	cfg.SetDevDefaults()
	if cfg.Analyzer.Addr != "" {
		t.Errorf("Analyzer.Addr should stay empty when DevMode=false, got %q", cfg.Analyzer.Addr)
	}

	cfg.DevMode = true
	cfg.SetDevDefaults()
	if cfg.Analyzer.Addr == "" {
		t.Error("Analyzer.Addr should be defaulted when DevMode=true")
	}
	if len(cfg.Models) == 0 {
		t.Error("Models should be defaulted when DevMode=true")
	}
}

func TestFindConfigFileInPaths_EmptyDir(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	got := findConfigFileInPaths([]string{dir})
	if got != "" {
		t.Errorf("findConfigFileInPaths(empty dir) = %q, want empty", got)
	}
}

func TestFindConfigFileInPaths_MatchesYAML(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "sentinelgate.yaml")
	_ = os.WriteFile(cfgPath, []byte("server:\n  http_addr: :9090\n"), 0644)

	got := findConfigFileInPaths([]string{dir})
	if got != cfgPath {
		t.Errorf("findConfigFileInPaths = %q, want %q", got, cfgPath)
	}
}

func TestFindConfigFileInPaths_MatchesYML(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "sentinelgate.yml")
	_ = os.WriteFile(cfgPath, []byte("server:\n  http_addr: :9090\n"), 0644)

	got := findConfigFileInPaths([]string{dir})
	if got != cfgPath {
		t.Errorf("findConfigFileInPaths = %q, want %q", got, cfgPath)
	}
}

func TestFindConfigFileInPaths_IgnoresNoExtension(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	// Simulate a binary sharing the config base name: a file named
	// "sentinelgate" with no extension.
	_ = os.WriteFile(filepath.Join(dir, "sentinelgate"), []byte("\x7fELF binary"), 0755)

	got := findConfigFileInPaths([]string{dir})
	if got != "" {
		t.Errorf("findConfigFileInPaths matched binary = %q, want empty", got)
	}
}

func TestFindConfigFileInPaths_PrefersYAMLOverYML(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "sentinelgate.yaml")
	ymlPath := filepath.Join(dir, "sentinelgate.yml")
	_ = os.WriteFile(yamlPath, []byte("server:\n  http_addr: :8080\n"), 0644)
	_ = os.WriteFile(ymlPath, []byte("server:\n  http_addr: :9090\n"), 0644)

	got := findConfigFileInPaths([]string{dir})
	if got != yamlPath {
		t.Errorf("findConfigFileInPaths = %q, want %q (.yaml preferred)", got, yamlPath)
	}
}
