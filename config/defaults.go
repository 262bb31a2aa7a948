package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Logging defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)

	// Database defaults
	v.SetDefault("db.path", "~/.vouch/vouch.db")

	// Engine defaults
	v.SetDefault("engine.max_concurrent_jobs", 4)
	v.SetDefault("engine.daily_user_limit", 3) // 0 = unlimited
	v.SetDefault("engine.event_buffer", 256)
	v.SetDefault("engine.provider_rate_per_sec", 2.0)
	v.SetDefault("engine.shutdown_grace", "30s")

	// Submission retry defaults
	v.SetDefault("engine.submit.max_attempts", 3)
	v.SetDefault("engine.submit.backoff_base", "2s")
	v.SetDefault("engine.submit.backoff_cap", "60s")

	// Decision polling defaults
	v.SetDefault("engine.poll.interval", "5s")
	v.SetDefault("engine.poll.deadline", "180s")

	// Out-of-band retrieval defaults
	v.SetDefault("engine.outofband.interval", "10s")
	v.SetDefault("engine.outofband.deadline", "300s")
	v.SetDefault("engine.outofband.max_attempts", 5)

	// Provider defaults
	v.SetDefault("provider.base_url", "")
	v.SetDefault("provider.timeout", "30s")

	// Proxy pool defaults
	v.SetDefault("proxy.list_path", "proxies.txt")
	v.SetDefault("proxy.default_health", 10)
	v.SetDefault("proxy.quarantine_threshold", 3)
	v.SetDefault("proxy.cooldown", "10m")

	// Mailbox defaults
	v.SetDefault("mailbox.port", 993)
	v.SetDefault("mailbox.folder", "INBOX")

	// Server configuration defaults
	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.allowed_origins", []string{
		"http://localhost",
		"https://localhost",
		"http://127.0.0.1",
		"https://127.0.0.1",
	})
}

// BindSensitiveEnvVars explicitly binds sensitive configuration to environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	// Database path
	v.BindEnv("db.path", "VOUCH_DB_PATH")

	// Provider endpoint
	v.BindEnv("provider.base_url", "VOUCH_PROVIDER_BASE_URL")

	// Mailbox credentials
	v.BindEnv("mailbox.username", "VOUCH_MAILBOX_USERNAME")
	v.BindEnv("mailbox.password", "VOUCH_MAILBOX_PASSWORD")
}

// GetServerPort returns the configured server port
// Returns server.port from config, or DefaultServerPort (8770) if not configured
func GetServerPort() int {
	cfg, err := Load()
	if err != nil || cfg.Server.Port == 0 {
		return DefaultServerPort
	}
	return cfg.Server.Port
}

// GetDatabasePath returns the configured database path with ~ expanded
func (c *Config) GetDatabasePath() string {
	if c.Database.Path == "" {
		return "vouch.db" // Fallback default
	}
	return ExpandPath(c.Database.Path)
}

// GetServerAllowedOrigins returns the allowed CORS origins
func (c *Config) GetServerAllowedOrigins() []string {
	if len(c.Server.AllowedOrigins) == 0 {
		return []string{
			"http://localhost",
			"https://localhost",
			"http://127.0.0.1",
			"https://127.0.0.1",
		}
	}
	return c.Server.AllowedOrigins
}

// ExpandPath expands a leading ~/ to the user's home directory
func ExpandPath(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
