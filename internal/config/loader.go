package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// For mocking in tests
var osUserHomeDir = os.UserHomeDir
var osGetwd = os.Getwd

const (
	userConfigDir    = ".config/opsbot"
	projectConfigDir = ".opsbot"
	configFileName   = "config.yaml"
)

// LoadConfig loads the opsbot configuration by layering default, user, and
// project settings. Missing files are not an error; malformed ones are.
func LoadConfig() (Config, error) {
	config := GetDefaultConfig()

	userConfigPath, err := getUserConfigPath()
	if err != nil {
		// User config is optional; warn and keep going.
		fmt.Fprintf(os.Stderr, "Warning: could not determine user config path: %v\n", err)
	} else {
		if _, err := os.Stat(userConfigPath); !os.IsNotExist(err) {
			userConfig, err := loadConfigFromFile(userConfigPath)
			if err != nil {
				return Config{}, fmt.Errorf("error loading user config from %s: %w", userConfigPath, err)
			}
			config = mergeConfigs(config, userConfig)
		}
	}

	projectConfigPath, err := getProjectConfigPath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not determine project config path: %v\n", err)
	} else {
		if _, err := os.Stat(projectConfigPath); !os.IsNotExist(err) {
			projectConfig, err := loadConfigFromFile(projectConfigPath)
			if err != nil {
				return Config{}, fmt.Errorf("error loading project config from %s: %w", projectConfigPath, err)
			}
			config = mergeConfigs(config, projectConfig)
		}
	}

	return config, nil
}

var getUserConfigPath = func() (string, error) {
	homeDir, err := osUserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, userConfigDir, configFileName), nil
}

var getProjectConfigPath = func() (string, error) {
	wd, err := osGetwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, projectConfigDir, configFileName), nil
}

// loadConfigFromFile loads a Config from a YAML file.
func loadConfigFromFile(filePath string) (Config, error) {
	var config Config
	data, err := os.ReadFile(filePath)
	if err != nil {
		return Config{}, err
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, err
	}
	return config, nil
}

// mergeConfigs merges 'overlay' config into 'base' config. Providers are
// merged by name: an overlay provider replaces the base one in place so the
// configured attempt order is preserved; new names append at the end.
func mergeConfigs(base, overlay Config) Config {
	merged := base

	if len(overlay.Providers) > 0 {
		index := make(map[string]int, len(merged.Providers))
		for i, p := range merged.Providers {
			index[p.Name] = i
		}
		for _, p := range overlay.Providers {
			if i, ok := index[p.Name]; ok {
				merged.Providers[i] = p
			} else {
				index[p.Name] = len(merged.Providers)
				merged.Providers = append(merged.Providers, p)
			}
		}
	}

	if overlay.Timeouts.SearchSeconds != 0 {
		merged.Timeouts.SearchSeconds = overlay.Timeouts.SearchSeconds
	}
	if overlay.Timeouts.TurnSeconds != 0 {
		merged.Timeouts.TurnSeconds = overlay.Timeouts.TurnSeconds
	}
	if overlay.Timeouts.ConnectSeconds != 0 {
		merged.Timeouts.ConnectSeconds = overlay.Timeouts.ConnectSeconds
	}

	if overlay.Model.BaseURL != "" {
		merged.Model.BaseURL = overlay.Model.BaseURL
	}
	if overlay.Model.ID != "" {
		merged.Model.ID = overlay.Model.ID
	}
	if overlay.Model.Temperature != 0 {
		merged.Model.Temperature = overlay.Model.Temperature
	}
	if overlay.Model.SystemPrompt != "" {
		merged.Model.SystemPrompt = overlay.Model.SystemPrompt
	}

	if overlay.Search.Region != "" {
		merged.Search.Region = overlay.Search.Region
	}
	if overlay.Search.MaxResults != 0 {
		merged.Search.MaxResults = overlay.Search.MaxResults
	}
	if overlay.Search.MaxResultsLimit != 0 {
		merged.Search.MaxResultsLimit = overlay.Search.MaxResultsLimit
	}

	return merged
}

// GetUserConfigDir returns the user configuration directory path.
func GetUserConfigDir() (string, error) {
	homeDir, err := osUserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, userConfigDir), nil
}
