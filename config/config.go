package config

import "time"

// Config represents the core vouch configuration
type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"db"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Provider ProviderConfig `mapstructure:"provider"`
	Proxy    ProxyConfig    `mapstructure:"proxy"`
	Mailbox  MailboxConfig  `mapstructure:"mailbox"`
	Server   ServerConfig   `mapstructure:"server"`
}

// LogConfig configures structured logging output
type LogConfig struct {
	Level string `mapstructure:"level"` // debug, info, warn, error
	JSON  bool   `mapstructure:"json"`  // JSON output instead of console encoder
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// EngineConfig configures the verification job engine
type EngineConfig struct {
	MaxConcurrentJobs  int             `mapstructure:"max_concurrent_jobs"`  // Global slot count (default: 4)
	DailyUserLimit     int             `mapstructure:"daily_user_limit"`     // Submissions per user per rolling 24h, 0 = unlimited
	EventBuffer        int             `mapstructure:"event_buffer"`         // Status event ring size, oldest dropped when full
	ProviderRatePerSec float64         `mapstructure:"provider_rate_per_sec"` // Token bucket rate toward the provider
	ShutdownGrace      time.Duration   `mapstructure:"shutdown_grace"`       // How long Stop waits for in-flight jobs
	Submit             SubmitConfig    `mapstructure:"submit"`
	Poll               PollConfig      `mapstructure:"poll"`
	OutOfBand          OutOfBandConfig `mapstructure:"outofband"`
}

// SubmitConfig configures the submission phase retry policy
type SubmitConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"` // Attempts before the job fails (default: 3)
	BackoffBase time.Duration `mapstructure:"backoff_base"` // First retry delay, doubles per attempt
	BackoffCap  time.Duration `mapstructure:"backoff_cap"`  // Upper bound on retry delay
}

// PollConfig configures the provider decision polling phase
type PollConfig struct {
	Interval time.Duration `mapstructure:"interval"` // Delay between decision polls
	Deadline time.Duration `mapstructure:"deadline"` // Phase budget before the job times out
}

// OutOfBandConfig configures the out-of-band code retrieval phase
type OutOfBandConfig struct {
	Interval    time.Duration `mapstructure:"interval"`     // Delay between mailbox checks
	Deadline    time.Duration `mapstructure:"deadline"`     // Phase budget before the job times out
	MaxAttempts int           `mapstructure:"max_attempts"` // Mailbox checks before giving up
}

// ProviderConfig configures the verification provider endpoint
type ProviderConfig struct {
	BaseURL string            `mapstructure:"base_url"`
	Timeout time.Duration     `mapstructure:"timeout"` // Per-call timeout
	Orgs    map[string]string `mapstructure:"orgs"`    // branch key -> provider organization id
}

// ProxyConfig configures the proxy endpoint pool
type ProxyConfig struct {
	ListPath            string        `mapstructure:"list_path"`            // host:port[:user:pass] lines
	DefaultHealth       int           `mapstructure:"default_health"`       // Starting health score (default: 10)
	QuarantineThreshold int           `mapstructure:"quarantine_threshold"` // Consecutive failures before quarantine
	Cooldown            time.Duration `mapstructure:"cooldown"`             // Quarantine duration before revival
}

// MailboxConfig configures the out-of-band mail account
type MailboxConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"` // IMAP TLS port (default: 993)
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Folder   string `mapstructure:"folder"` // Mailbox folder to poll (default: INBOX)
}

// ServerConfig configures the vouch HTTP server
type ServerConfig struct {
	Port           int      `mapstructure:"port"` // 0 = default 8770
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Server port constants
const (
	DefaultServerPort = 8770 // Above privileged range, easy to remember
)

// File system constants
const (
	DefaultDirPermissions  = 0755 // Standard directory permissions (rwxr-xr-x)
	DefaultFilePermissions = 0644 // Standard file permissions (rw-r--r--)
)
