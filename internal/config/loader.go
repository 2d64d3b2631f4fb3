// Package config provides configuration loading for the gateway.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment variables.
// If configFile is empty, it searches for sentinelgate.yaml/.yml in standard locations.
// The search requires an explicit YAML extension to avoid matching the binary itself,
// which Viper's built-in SetConfigName would match (same base name, no extension).
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// No config file found in any standard location.
		// Set name/type without search paths so ReadInConfig returns
		// ConfigFileNotFoundError (handled gracefully by callers).
		viper.SetConfigName("sentinelgate")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: SENTINELGATE_SERVER_HTTP_ADDR
	viper.SetEnvPrefix("SENTINELGATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

// findConfigFile searches standard locations for a sentinelgate config file
// with an explicit YAML extension (.yaml or .yml). This prevents Viper from
// matching a file named "sentinelgate" with no extension (such as a binary
// of that name) in the current directory.
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".sentinelgate"),
	}
	if runtime.GOOS == "windows" {
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, "sentinelgate"))
		}
	} else {
		paths = append(paths, "/etc/sentinelgate")
	}
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths searches the given directories for sentinelgate.yaml
// or .yml. Returns the full path of the first match, or empty string if none
// found.
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "sentinelgate"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds every config key that benefits from environment
// variable support. Example: SENTINELGATE_SERVER_HTTP_ADDR overrides
// server.http_addr.
func bindNestedEnvKeys() {
	_ = viper.BindEnv("server.http_addr")
	_ = viper.BindEnv("server.log_level")
	_ = viper.BindEnv("server.shutdown_timeout")

	_ = viper.BindEnv("analyzer.addr")
	_ = viper.BindEnv("analyzer.timeout")
	_ = viper.BindEnv("analyzer.max_retries")

	_ = viper.BindEnv("rate_limit.global.max")
	_ = viper.BindEnv("rate_limit.global.window_seconds")
	_ = viper.BindEnv("rate_limit.caller.max")
	_ = viper.BindEnv("rate_limit.caller.window_seconds")
	_ = viper.BindEnv("rate_limit.key.max")
	_ = viper.BindEnv("rate_limit.key.window_seconds")
	_ = viper.BindEnv("rate_limit.store_addr")

	_ = viper.BindEnv("audit.async")
	_ = viper.BindEnv("audit.retention_days")
	_ = viper.BindEnv("audit.store_path")
	_ = viper.BindEnv("audit.queue_capacity")
	_ = viper.BindEnv("audit.batch_size")
	_ = viper.BindEnv("audit.flush_interval")

	_ = viper.BindEnv("security.min_content_length")
	_ = viper.BindEnv("security.max_content_length")
	_ = viper.BindEnv("security.digest_salt")

	_ = viper.BindEnv("features.audit_logging")
	_ = viper.BindEnv("features.rate_limiting")
	_ = viper.BindEnv("features.content_analysis")

	_ = viper.BindEnv("admin.enabled")
	_ = viper.BindEnv("admin.token_hash")

	// Note: models is an array, handled by Viper's env parsing.

	_ = viper.BindEnv("dev_mode")
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults, and returns the Config.
// Note: Caller should apply any CLI flag overrides (e.g. --dev), then call
// cfg.SetDevDefaults() and cfg.Validate() to complete initialization.
func LoadConfig() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found - continue with env vars only.
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadConfigRaw reads the configuration file and applies defaults, but does
// NOT apply dev defaults or validate. Use this when CLI flags may override
// DevMode before validation.
func LoadConfigRaw() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the path to the configuration file that was loaded.
// Returns an empty string if no config file was found (env vars only mode).
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
