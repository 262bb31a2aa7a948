package config

import (
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/teranos/vouch/errors"
	"github.com/teranos/vouch/logger"
)

// createBackup creates rotating backups (.back1, .back2, .back3) before modifying config
func createBackup(configPath string) error {
	// Check if file exists before backing up
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil // No file to backup
	}

	// Rotate backups: .back3 -> delete, .back2 -> .back3, .back1 -> .back2, current -> .back1
	back3 := configPath + ".back3"
	back2 := configPath + ".back2"
	back1 := configPath + ".back1"

	// Delete oldest backup if exists
	if err := os.Remove(back3); err != nil && !os.IsNotExist(err) {
		logger.Warnw("Failed to delete old config backup",
			"path", back3,
			"error", err)
	}

	// Rotate .back2 to .back3
	if _, err := os.Stat(back2); err == nil {
		if err := os.Rename(back2, back3); err != nil {
			return errors.Wrap(err, "failed to rotate .back2 to .back3")
		}
	}

	// Rotate .back1 to .back2
	if _, err := os.Stat(back1); err == nil {
		if err := os.Rename(back1, back2); err != nil {
			return errors.Wrap(err, "failed to rotate .back1 to .back2")
		}
	}

	// Copy current to .back1
	content, err := os.ReadFile(configPath)
	if err != nil {
		return errors.Wrap(err, "failed to read config for backup")
	}

	if err := os.WriteFile(back1, content, DefaultFilePermissions); err != nil {
		return errors.Wrap(err, "failed to create .back1")
	}

	return nil
}

// loadOrInitializeUserConfig loads the user config file, or starts empty if it doesn't exist
func loadOrInitializeUserConfig() (map[string]interface{}, string, error) {
	configPath := UserConfigPath()
	if configPath == "" {
		return nil, "", errors.New("could not determine home directory")
	}

	// Try to read existing config
	var config map[string]interface{}
	if data, err := os.ReadFile(configPath); err == nil {
		// File exists, parse it
		if err := toml.Unmarshal(data, &config); err != nil {
			return nil, "", errors.Wrap(err, "failed to parse user config")
		}
	} else {
		// File doesn't exist, create empty config
		config = make(map[string]interface{})
	}

	return config, configPath, nil
}

// saveUserConfig writes the config to the user config file with backup
func saveUserConfig(config map[string]interface{}, configPath string) error {
	// Create backup
	if err := createBackup(configPath); err != nil {
		return errors.Wrap(err, "failed to create backup")
	}

	// Marshal to TOML
	data, err := toml.Marshal(config)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}

	// Mark this as our own write to prevent reload loops
	globalWatcherMu.Lock()
	if globalWatcher != nil {
		globalWatcher.MarkOwnWrite()
	}
	globalWatcherMu.Unlock()

	// Write to file
	if err := os.WriteFile(configPath, data, DefaultFilePermissions); err != nil {
		return errors.Wrap(err, "failed to write user config")
	}

	return nil
}

// setSection returns the named section of the config, creating it if missing
func setSection(config map[string]interface{}, name string) map[string]interface{} {
	if section, ok := config[name].(map[string]interface{}); ok {
		return section
	}
	section := make(map[string]interface{})
	config[name] = section
	return section
}

// UpdateEngineMaxConcurrent persists engine.max_concurrent_jobs to the user config
func UpdateEngineMaxConcurrent(slots int) error {
	if slots <= 0 {
		return errors.Newf("max concurrent jobs must be > 0, got %d", slots)
	}

	config, configPath, err := loadOrInitializeUserConfig()
	if err != nil {
		return errors.Wrap(err, "failed to load user config")
	}

	engine := setSection(config, "engine")
	engine["max_concurrent_jobs"] = slots

	return saveUserConfig(config, configPath)
}

// UpdateEngineDailyLimit persists engine.daily_user_limit to the user config
func UpdateEngineDailyLimit(limit int) error {
	if limit < 0 {
		return errors.Newf("daily user limit must be >= 0, got %d", limit)
	}

	config, configPath, err := loadOrInitializeUserConfig()
	if err != nil {
		return errors.Wrap(err, "failed to load user config")
	}

	engine := setSection(config, "engine")
	engine["daily_user_limit"] = limit

	return saveUserConfig(config, configPath)
}

// UpdateProviderBaseURL persists provider.base_url to the user config
func UpdateProviderBaseURL(baseURL string) error {
	config, configPath, err := loadOrInitializeUserConfig()
	if err != nil {
		return errors.Wrap(err, "failed to load user config")
	}

	provider := setSection(config, "provider")
	provider["base_url"] = baseURL

	return saveUserConfig(config, configPath)
}

// UpdateProxyListPath persists proxy.list_path to the user config
func UpdateProxyListPath(path string) error {
	config, configPath, err := loadOrInitializeUserConfig()
	if err != nil {
		return errors.Wrap(err, "failed to load user config")
	}

	proxy := setSection(config, "proxy")
	proxy["list_path"] = path

	return saveUserConfig(config, configPath)
}

// RenderTOML renders the effective configuration as TOML
func RenderTOML(c *Config) (string, error) {
	data, err := toml.Marshal(c)
	if err != nil {
		return "", errors.Wrap(err, "failed to render config")
	}
	return string(data), nil
}
