package config

import "github.com/teranos/vouch/errors"

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	// Server port: 0 = use default, negative is invalid
	if c.Server.Port < 0 {
		return errors.Newf("server.port must be positive, got %d", c.Server.Port)
	}

	// Engine slots: 0 would reject every submission
	if c.Engine.MaxConcurrentJobs <= 0 {
		return errors.Newf("engine.max_concurrent_jobs must be > 0, got %d", c.Engine.MaxConcurrentJobs)
	}

	// Daily limit: 0 = unlimited, negative = invalid
	if c.Engine.DailyUserLimit < 0 {
		return errors.Newf("engine.daily_user_limit must be >= 0, got %d", c.Engine.DailyUserLimit)
	}

	if c.Engine.EventBuffer <= 0 {
		return errors.Newf("engine.event_buffer must be > 0, got %d", c.Engine.EventBuffer)
	}

	// Provider pacing: 0 = no pacing, negative = invalid
	if c.Engine.ProviderRatePerSec < 0 {
		return errors.Newf("engine.provider_rate_per_sec must be >= 0, got %f", c.Engine.ProviderRatePerSec)
	}

	if c.Engine.ShutdownGrace < 0 {
		return errors.Newf("engine.shutdown_grace must be >= 0, got %s", c.Engine.ShutdownGrace)
	}

	// Submission retry policy
	if c.Engine.Submit.MaxAttempts < 1 {
		return errors.Newf("engine.submit.max_attempts must be >= 1, got %d", c.Engine.Submit.MaxAttempts)
	}
	if c.Engine.Submit.BackoffBase <= 0 {
		return errors.Newf("engine.submit.backoff_base must be > 0, got %s", c.Engine.Submit.BackoffBase)
	}
	if c.Engine.Submit.BackoffCap < c.Engine.Submit.BackoffBase {
		return errors.Newf("engine.submit.backoff_cap must be >= backoff_base, got %s < %s",
			c.Engine.Submit.BackoffCap, c.Engine.Submit.BackoffBase)
	}

	// Decision polling
	if c.Engine.Poll.Interval <= 0 {
		return errors.Newf("engine.poll.interval must be > 0, got %s", c.Engine.Poll.Interval)
	}
	if c.Engine.Poll.Deadline <= 0 {
		return errors.Newf("engine.poll.deadline must be > 0, got %s", c.Engine.Poll.Deadline)
	}

	// Out-of-band retrieval
	if c.Engine.OutOfBand.Interval <= 0 {
		return errors.Newf("engine.outofband.interval must be > 0, got %s", c.Engine.OutOfBand.Interval)
	}
	if c.Engine.OutOfBand.Deadline <= 0 {
		return errors.Newf("engine.outofband.deadline must be > 0, got %s", c.Engine.OutOfBand.Deadline)
	}
	if c.Engine.OutOfBand.MaxAttempts < 1 {
		return errors.Newf("engine.outofband.max_attempts must be >= 1, got %d", c.Engine.OutOfBand.MaxAttempts)
	}

	if c.Provider.Timeout <= 0 {
		return errors.Newf("provider.timeout must be > 0, got %s", c.Provider.Timeout)
	}

	// Proxy pool
	if c.Proxy.DefaultHealth <= 0 {
		return errors.Newf("proxy.default_health must be > 0, got %d", c.Proxy.DefaultHealth)
	}
	if c.Proxy.QuarantineThreshold < 1 {
		return errors.Newf("proxy.quarantine_threshold must be >= 1, got %d", c.Proxy.QuarantineThreshold)
	}
	if c.Proxy.Cooldown <= 0 {
		return errors.Newf("proxy.cooldown must be > 0, got %s", c.Proxy.Cooldown)
	}

	// Validate mailbox configuration only when a host is configured
	if c.Mailbox.Host != "" {
		if c.Mailbox.Port <= 0 || c.Mailbox.Port > 65535 {
			return errors.Newf("mailbox.port must be 1-65535, got %d", c.Mailbox.Port)
		}
		if c.Mailbox.Username == "" {
			return errors.New("mailbox.username cannot be empty when mailbox.host is set")
		}
	}

	return nil
}
